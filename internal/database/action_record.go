package database

import (
	"time"

	"gorm.io/gorm"
	"moff.io/snap-bridge/pkg/errors"
	"moff.io/snap-bridge/pkg/log"
)

// ActionRecord is the outcome of one user-triggered workflow.
type ActionRecord struct {
	ID         int64     `gorm:"primaryKey" json:"-"`
	ActionID   string    `gorm:"type:varchar(64);uniqueIndex" json:"action_id"`
	Action     string    `gorm:"type:varchar(64);index" json:"action"`
	Network    string    `gorm:"type:varchar(32)" json:"network,omitempty"`
	Address    string    `gorm:"type:varchar(128);index" json:"address,omitempty"`
	Success    bool      `gorm:"type:bool" json:"success"`
	Error      string    `gorm:"type:text" json:"error,omitempty"`
	Detail     JSONBMap  `gorm:"type:jsonb" json:"detail,omitempty"`
	StartedAt  time.Time `gorm:"type:timestamptz;index" json:"started_at"`
	DurationMs int64     `gorm:"type:int8" json:"duration_ms"`
}

func (ActionRecord) TableName() string {
	return "snap_action_records"
}

func (in *ActionRecord) Create(db *gorm.DB) error {
	err := db.Create(in).Error
	if IsDuplicateKeyErr(err) {
		log.Debugf("action record %v already stored", in.ActionID)
		return nil
	}
	return errors.WrapAndReport(err, "create action record")
}

// ListActionRecords returns the newest records first, optionally filtered by action.
func ListActionRecords(db *gorm.DB, action string, limit int) ([]*ActionRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	query := db.Order("started_at DESC").Limit(limit)
	if action != "" {
		query = query.Where("action = ?", action)
	}
	var records []*ActionRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, errors.WrapAndReport(err, "list action records")
	}
	return records, nil
}
