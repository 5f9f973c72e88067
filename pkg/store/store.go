// Package store records logged events and serves filtered reads over them.
package store

import (
	"context"
	"sync"

	"conversation-automation/pkg/models"
)

// Store appends events and reads them back per tenant
type Store interface {
	// Append durably records ev and returns its assigned id
	Append(ctx context.Context, ev models.Event) (int64, error)
	// Query returns the tenant's events that satisfy every set filter field, oldest first
	Query(ctx context.Context, tenantID string, filter models.EventFilter) ([]models.Event, error)
	Close() error
}

// Memory keeps events in process memory
type Memory struct {
	mu     sync.RWMutex
	nextID int64
	events []models.Event
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Append(ctx context.Context, ev models.Event) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	ev.ID = m.nextID
	ev.Payload = models.ClonePayload(ev.Payload)
	m.events = append(m.events, ev)
	return ev.ID, nil
}

func (m *Memory) Query(ctx context.Context, tenantID string, filter models.EventFilter) ([]models.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []models.Event{}
	for _, ev := range m.events {
		if ev.TenantID == tenantID && filter.Matches(ev) {
			ev.Payload = models.ClonePayload(ev.Payload)
			out = append(out, ev)
		}
	}
	return out, nil
}

func (m *Memory) Close() error {
	return nil
}
