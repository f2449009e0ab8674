package database

import (
	"context"

	"gorm.io/gorm"
	"moff.io/snap-bridge/pkg/log"
)

// AuditWriter persists action records through the single write storage engine.
type AuditWriter struct {
	engine *singleWriteStorageEngine
	store  func(record *ActionRecord) error
}

func NewAuditWriter(db *gorm.DB) *AuditWriter {
	return &AuditWriter{
		engine: NewSingleWriteStorageEngine(),
		store: func(record *ActionRecord) error {
			return record.Create(db)
		},
	}
}

func (w *AuditWriter) Start(ctx context.Context) {
	w.engine.Start(ctx)
}

// Record queues record; the write happens asynchronously.
func (w *AuditWriter) Record(ctx context.Context, record *ActionRecord) {
	w.engine.Enqueue(func() {
		if err := w.store(record); err != nil {
			log.Errorf("audit - store %v(%v):%v", record.Action, record.ActionID, err)
		}
	})
}
