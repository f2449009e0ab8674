package databus

import (
	"context"
	"encoding/json"

	"moff.io/snap-bridge/internal/database"
	"moff.io/snap-bridge/pkg/log"
)

// SessionEvent announces the outcome of one bridge workflow.
type SessionEvent struct {
	topic  string
	Record *database.ActionRecord `json:"record"`
	Source string                 `json:"source"`
}

func NewSessionEvent(topic string, record *database.ActionRecord) *SessionEvent {
	return &SessionEvent{topic: topic, Record: record, Source: "snap-bridge"}
}

func (e *SessionEvent) Serialize() []byte {
	data, err := json.Marshal(e)
	if err != nil {
		log.Errorf("databus - serialize session event:%v", err)
		return nil
	}
	return data
}

func (e *SessionEvent) Topic() string {
	return e.topic
}

// SessionPublisher forwards action records to a topic.
type SessionPublisher struct {
	bus   *DataBus
	topic string
}

func NewSessionPublisher(bus *DataBus, topic string) *SessionPublisher {
	return &SessionPublisher{bus: bus, topic: topic}
}

func (p *SessionPublisher) Record(ctx context.Context, record *database.ActionRecord) {
	if err := p.bus.Publish(NewSessionEvent(p.topic, record)); err != nil {
		log.Ctx(ctx).Warnf("databus - publish %v:%v", record.Action, err)
	}
}
