package pipeline

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"conversation-automation/pkg/metrics"
)

// Failure stages of a detached policy application
const (
	StageTenant   = "tenant"
	StageDispatch = "dispatch"
	StagePanic    = "panic"
)

// Failure describes a detached policy application that did not complete
type Failure struct {
	EventID   int64     `json:"event_id"`
	TenantID  string    `json:"tenant_id"`
	EventType string    `json:"event_type"`
	Stage     string    `json:"stage"`
	Error     string    `json:"error"`
	FailedAt  time.Time `json:"failed_at"`
}

// FailureSink receives failures that cannot be returned to the event producer
type FailureSink interface {
	Record(f Failure)
}

// DeadLetter logs failures and keeps the most recent ones in memory
type DeadLetter struct {
	mu      sync.Mutex
	entries []Failure
	size    int
	logger  *logrus.Logger
	metrics *metrics.Metrics
}

func NewDeadLetter(size int, logger *logrus.Logger, m *metrics.Metrics) *DeadLetter {
	if size <= 0 {
		size = 1
	}
	return &DeadLetter{
		size:    size,
		logger:  logger,
		metrics: m,
	}
}

func (d *DeadLetter) Record(f Failure) {
	d.logger.WithFields(logrus.Fields{
		"event_id":   f.EventID,
		"tenant_id":  f.TenantID,
		"event_type": f.EventType,
		"stage":      f.Stage,
	}).Error("Policy execution failed: " + f.Error)

	if d.metrics != nil {
		d.metrics.PolicyApplicationFailure.WithLabelValues(f.Stage).Inc()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = append(d.entries, f)
	if over := len(d.entries) - d.size; over > 0 {
		d.entries = append([]Failure(nil), d.entries[over:]...)
	}
}

// Entries returns the retained failures, oldest first
func (d *DeadLetter) Entries() []Failure {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Failure{}, d.entries...)
}
