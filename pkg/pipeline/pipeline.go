// Package pipeline records events and applies tenant policies to them in the background.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"conversation-automation/pkg/config"
	"conversation-automation/pkg/metrics"
	"conversation-automation/pkg/models"
	"conversation-automation/pkg/policy"
	"conversation-automation/pkg/store"
)

const defaultPolicyTimeout = 2 * time.Minute

// LogRequest is an event submitted for recording. A zero Timestamp means now.
type LogRequest struct {
	TenantID  string
	SubjectID int64
	Type      string
	Payload   map[string]any
	Timestamp time.Time
}

func (r LogRequest) Validate() error {
	var missing []string
	if r.TenantID == "" {
		missing = append(missing, "tenant_id")
	}
	if r.Type == "" {
		missing = append(missing, "event_type")
	}
	if len(missing) > 0 {
		return models.MissingField(missing...)
	}
	if r.SubjectID < 0 {
		return models.Validationf("subject_id must not be negative, got %d", r.SubjectID)
	}
	return nil
}

// Dispatcher delivers the actions matched for an event
type Dispatcher interface {
	Dispatch(ctx context.Context, ev models.Event, actions []models.Action) error
}

// LogDispatcher only logs matched actions
type LogDispatcher struct {
	logger *logrus.Logger
}

func NewLogDispatcher(logger *logrus.Logger) *LogDispatcher {
	return &LogDispatcher{logger: logger}
}

func (d *LogDispatcher) Dispatch(ctx context.Context, ev models.Event, actions []models.Action) error {
	for _, action := range actions {
		d.logger.WithFields(logrus.Fields{
			"event_id":    ev.ID,
			"action_type": action.Type,
			"params":      action.Params,
		}).Info("Executing policy action")
	}
	return nil
}

type Pipeline struct {
	store         store.Store
	tenants       config.TenantProvider
	matcher       *policy.Matcher
	dispatcher    Dispatcher
	failures      FailureSink
	logger        *logrus.Logger
	metrics       *metrics.Metrics
	policyTimeout time.Duration

	wg sync.WaitGroup
}

type Option func(*Pipeline)

func WithDispatcher(d Dispatcher) Option {
	return func(p *Pipeline) {
		p.dispatcher = d
	}
}

func WithFailureSink(sink FailureSink) Option {
	return func(p *Pipeline) {
		p.failures = sink
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// WithPolicyTimeout bounds each detached policy application
func WithPolicyTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.policyTimeout = d
		}
	}
}

func New(st store.Store, tenants config.TenantProvider, matcher *policy.Matcher, logger *logrus.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:         st,
		tenants:       tenants,
		matcher:       matcher,
		logger:        logger,
		policyTimeout: defaultPolicyTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.dispatcher == nil {
		p.dispatcher = NewLogDispatcher(logger)
	}
	if p.failures == nil {
		p.failures = NewDeadLetter(256, logger, p.metrics)
	}
	return p
}

// Log records the event and returns it once stored. Policy application runs
// afterwards on its own goroutine and never affects the result of Log.
func (p *Pipeline) Log(ctx context.Context, req LogRequest) (models.Event, error) {
	if err := req.Validate(); err != nil {
		p.observeLogged("rejected")
		return models.Event{}, err
	}

	if _, err := p.tenants.Get(ctx, req.TenantID); err != nil {
		p.observeLogged("rejected")
		return models.Event{}, fmt.Errorf("failed to resolve tenant %s: %w", req.TenantID, err)
	}

	ev := models.Event{
		TenantID:  req.TenantID,
		SubjectID: req.SubjectID,
		Type:      req.Type,
		Payload:   models.ClonePayload(req.Payload),
		Timestamp: req.Timestamp,
	}
	if ev.Payload == nil {
		ev.Payload = map[string]any{}
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	p.logger.WithFields(logrus.Fields{
		"tenant_id":  ev.TenantID,
		"subject_id": ev.SubjectID,
		"event_type": ev.Type,
	}).Info("Logging event")

	start := time.Now()
	id, err := p.store.Append(ctx, ev)
	p.observeStore("append", start)
	if err != nil {
		p.observeLogged("failed")
		return models.Event{}, &models.Error{
			Code:    models.ErrCodeStore,
			Message: "failed to record event",
			Err:     err,
		}
	}
	ev.ID = id
	p.observeLogged("recorded")

	p.applyDetached(ctx, ev)
	return ev, nil
}

// ApplyPolicies matches the tenant's policies against ev without dispatching anything
func (p *Pipeline) ApplyPolicies(ctx context.Context, ev models.Event) ([]models.Action, error) {
	tenant, err := p.tenants.Get(ctx, ev.TenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve tenant %s: %w", ev.TenantID, err)
	}

	p.logger.WithFields(logrus.Fields{
		"tenant_id":      ev.TenantID,
		"event_type":     ev.Type,
		"policies_count": len(tenant.Policies),
	}).Info("Applying policies")

	actions := p.matcher.Match(ev, tenant.Policies)
	if p.metrics != nil {
		p.metrics.PolicyActionsMatched.Add(float64(len(actions)))
	}
	return actions, nil
}

// Query returns the tenant's recorded events matching filter
func (p *Pipeline) Query(ctx context.Context, tenantID string, filter models.EventFilter) ([]models.Event, error) {
	if tenantID == "" {
		return nil, models.MissingField("tenant_id")
	}

	p.logger.WithFields(logrus.Fields{
		"tenant_id":  tenantID,
		"event_type": filter.Type,
	}).Debug("Querying events")

	start := time.Now()
	events, err := p.store.Query(ctx, tenantID, filter)
	p.observeStore("query", start)
	if err != nil {
		return nil, &models.Error{
			Code:    models.ErrCodeStore,
			Message: "failed to query events",
			Err:     err,
		}
	}
	return events, nil
}

// Wait blocks until every detached policy application has finished
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

func (p *Pipeline) applyDetached(parent context.Context, ev models.Event) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), p.policyTimeout)
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				p.fail(ev, StagePanic, fmt.Errorf("panic: %v", r))
			}
		}()

		actions, err := p.ApplyPolicies(ctx, ev)
		if err != nil {
			p.fail(ev, StageTenant, err)
			return
		}
		if len(actions) == 0 {
			return
		}

		if err := p.dispatcher.Dispatch(ctx, ev, actions); err != nil {
			p.fail(ev, StageDispatch, err)
		}
	}()
}

func (p *Pipeline) fail(ev models.Event, stage string, err error) {
	p.failures.Record(Failure{
		EventID:   ev.ID,
		TenantID:  ev.TenantID,
		EventType: ev.Type,
		Stage:     stage,
		Error:     err.Error(),
		FailedAt:  time.Now(),
	})
}

func (p *Pipeline) observeLogged(status string) {
	if p.metrics != nil {
		p.metrics.EventsLogged.WithLabelValues(status).Inc()
	}
}

func (p *Pipeline) observeStore(operation string, start time.Time) {
	if p.metrics != nil {
		p.metrics.StoreOperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}
}
