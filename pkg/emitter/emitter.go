// Package emitter publishes the named events an execution plan asks to emit.
package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Record is one emitted event for a conversation
type Record struct {
	ID             string    `json:"id"`
	TenantID       string    `json:"tenant_id"`
	ConversationID int64     `json:"conversation_id"`
	Name           string    `json:"name"`
	EmittedAt      time.Time `json:"emitted_at"`
}

type Emitter interface {
	Emit(ctx context.Context, rec Record) error
	Close() error
}

func encode(rec Record) ([]byte, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal emitted event: %w", err)
	}
	return data, nil
}

// Log writes emitted events to the application log only
type Log struct {
	logger *logrus.Logger
}

func NewLog(logger *logrus.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) Emit(ctx context.Context, rec Record) error {
	l.logger.WithFields(logrus.Fields{
		"event_id":        rec.ID,
		"tenant_id":       rec.TenantID,
		"conversation_id": rec.ConversationID,
		"event":           rec.Name,
	}).Info("Emitted event")
	return nil
}

func (l *Log) Close() error {
	return nil
}
