// Package syncengine applies execution plans and policy actions to conversations
// on the messaging platform. Message sends are deduplicated per persist key, and a
// failure in one item is recorded and does not stop the rest of the batch.
package syncengine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"conversation-automation/pkg/chatwoot"
	"conversation-automation/pkg/config"
	"conversation-automation/pkg/constants"
	"conversation-automation/pkg/emitter"
	"conversation-automation/pkg/metrics"
	"conversation-automation/pkg/models"
	"conversation-automation/pkg/retry"
)

type Engine struct {
	tenants     config.TenantProvider
	retrier     *retry.Executor
	logger      *logrus.Logger
	metrics     *metrics.Metrics
	factory     ClientFactory
	idempotency IdempotencyStore
	emitter     emitter.Emitter
	webhooks    WebhookSender
	contacts    ContactUpdater

	mu      sync.RWMutex
	clients map[string]MessagingClient
}

type Option func(*Engine)

func WithClientFactory(factory ClientFactory) Option {
	return func(e *Engine) {
		e.factory = factory
	}
}

func WithIdempotencyStore(store IdempotencyStore) Option {
	return func(e *Engine) {
		e.idempotency = store
	}
}

func WithEmitter(em emitter.Emitter) Option {
	return func(e *Engine) {
		e.emitter = em
	}
}

func WithWebhookSender(sender WebhookSender) Option {
	return func(e *Engine) {
		e.webhooks = sender
	}
}

func WithContactUpdater(updater ContactUpdater) Option {
	return func(e *Engine) {
		e.contacts = updater
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// NewEngine defaults to Chatwoot REST clients, in-memory idempotency and log-only emission
func NewEngine(tenants config.TenantProvider, retrier *retry.Executor, logger *logrus.Logger, opts ...Option) *Engine {
	e := &Engine{
		tenants:     tenants,
		retrier:     retrier,
		logger:      logger,
		factory:     ChatwootFactory(constants.DefaultMessagingTimeout, logger),
		idempotency: NewMemoryIdempotency(),
		emitter:     emitter.NewLog(logger),
		clients:     make(map[string]MessagingClient),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ValidatePlan rejects malformed sync requests before any side effect
func ValidatePlan(tenantID string, conversationID int64, plan models.ExecutionPlan) error {
	var missing []string
	if tenantID == "" {
		missing = append(missing, "tenant_id")
	}
	if conversationID <= 0 {
		missing = append(missing, "conversation_id")
	}
	if len(missing) > 0 {
		return models.MissingField(missing...)
	}

	for key, entry := range plan.Persist {
		if key == "" {
			return models.Validationf("persist entries need a non-empty key")
		}
		if !entry.Kind.Valid() {
			return models.Validationf("persist entry %q has unknown kind %q", key, entry.Kind)
		}
		if entry.Kind == models.PersistMessage && entry.Value == nil {
			return models.Validationf("persist entry %q has no message value", key)
		}
	}
	return nil
}

// Sync applies plan to the conversation. Only validation and tenant resolution
// failures are returned as errors; everything else is reported in the result.
func (e *Engine) Sync(ctx context.Context, tenantID string, conversationID int64, plan models.ExecutionPlan) (*models.SyncResult, error) {
	if err := ValidatePlan(tenantID, conversationID, plan); err != nil {
		return nil, err
	}

	client, err := e.client(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	log := e.logger.WithFields(logrus.Fields{
		"tenant_id":       tenantID,
		"conversation_id": conversationID,
	})
	log.Info("Starting conversation sync")

	result := &models.SyncResult{Errors: []string{}}

	e.syncMessages(ctx, client, tenantID, conversationID, plan.Persist, result)
	e.syncLabels(ctx, client, conversationID, plan.Labels, result)
	e.syncAttributes(ctx, client, conversationID, plan.ContactAttributes, result)
	e.emitEvents(ctx, tenantID, conversationID, plan.EmitEvents, result)

	log.WithFields(logrus.Fields{
		"messages_sent":      result.MessagesSent,
		"labels_updated":     result.LabelsUpdated,
		"attributes_updated": result.AttributesUpdated,
		"events_emitted":     result.EventsEmitted,
		"errors":             len(result.Errors),
	}).Info("Conversation sync completed")

	return result, nil
}

func (e *Engine) syncMessages(ctx context.Context, client MessagingClient, tenantID string, conversationID int64, persist map[string]models.PersistEntry, result *models.SyncResult) {
	keys := make([]string, 0, len(persist))
	for key := range persist {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		entry := persist[key]
		if entry.Kind != models.PersistMessage {
			continue
		}

		idemKey := IdempotencyKey(tenantID, conversationID, key)
		reserved, err := e.idempotency.Reserve(ctx, idemKey)
		if err != nil {
			result.AddError("Failed to send message", err)
			e.observeSync("message", "failure")
			continue
		}
		if !reserved {
			e.logger.WithField("idempotency_key", idemKey).Info("Skipping duplicate message")
			if e.metrics != nil {
				e.metrics.IdempotentSkips.Inc()
			}
			continue
		}

		content := models.Stringify(entry.Value)
		err = e.retrier.Run(ctx, "send_message", func(ctx context.Context) error {
			_, err := client.SendMessage(ctx, conversationID, content, constants.MessageKindOutgoing, false)
			return err
		})
		if err != nil {
			if releaseErr := e.idempotency.Release(ctx, idemKey); releaseErr != nil {
				e.logger.WithError(releaseErr).WithField("idempotency_key", idemKey).Warn("Failed to release idempotency key")
			}
			result.AddError("Failed to send message", err)
			e.observeSync("message", "failure")
			e.logger.WithError(err).WithField("persist_key", key).Error("Failed to send message")
			continue
		}

		if err := e.idempotency.Commit(ctx, idemKey); err != nil {
			e.logger.WithError(err).WithField("idempotency_key", idemKey).Warn("Failed to commit idempotency key")
		}
		result.MessagesSent++
		e.observeSync("message", "success")
	}
}

func (e *Engine) syncLabels(ctx context.Context, client MessagingClient, conversationID int64, labels models.LabelDelta, result *models.SyncResult) {
	if len(labels.Add) > 0 {
		err := e.retrier.Run(ctx, "add_labels", func(ctx context.Context) error {
			_, err := client.AddLabels(ctx, conversationID, labels.Add)
			return err
		})
		if err != nil {
			result.AddError("Failed to add labels", err)
			e.observeSync("labels", "failure")
			e.logger.WithError(err).WithField("labels", labels.Add).Error("Failed to add labels")
		} else {
			result.LabelsUpdated += len(labels.Add)
			e.observeSync("labels", "success")
		}
	}

	if len(labels.Remove) > 0 {
		err := e.retrier.Run(ctx, "remove_labels", func(ctx context.Context) error {
			return client.RemoveLabels(ctx, conversationID, labels.Remove)
		})
		if err != nil {
			result.AddError("Failed to remove labels", err)
			e.observeSync("labels", "failure")
			e.logger.WithError(err).WithField("labels", labels.Remove).Error("Failed to remove labels")
		} else {
			result.LabelsUpdated += len(labels.Remove)
			e.observeSync("labels", "success")
		}
	}
}

func (e *Engine) syncAttributes(ctx context.Context, client MessagingClient, conversationID int64, attrs map[string]any, result *models.SyncResult) {
	if len(attrs) == 0 {
		return
	}

	err := e.retrier.Run(ctx, "update_attributes", func(ctx context.Context) error {
		_, err := client.UpdateConversation(ctx, conversationID, chatwoot.ConversationUpdate{CustomAttributes: attrs})
		return err
	})
	if err != nil {
		result.AddError("Failed to update attributes", err)
		e.observeSync("attributes", "failure")
		e.logger.WithError(err).Error("Failed to update attributes")
		return
	}
	result.AttributesUpdated += len(attrs)
	e.observeSync("attributes", "success")
}

func (e *Engine) emitEvents(ctx context.Context, tenantID string, conversationID int64, names []string, result *models.SyncResult) {
	for _, name := range names {
		rec := emitter.Record{
			ID:             uuid.NewString(),
			TenantID:       tenantID,
			ConversationID: conversationID,
			Name:           name,
			EmittedAt:      time.Now(),
		}
		err := e.retrier.Run(ctx, "emit_event", func(ctx context.Context) error {
			return e.emitter.Emit(ctx, rec)
		})
		if err != nil {
			result.AddError(fmt.Sprintf("Failed to emit event %s", name), err)
			e.observeSync("events", "failure")
			continue
		}
		result.EventsEmitted++
		e.observeSync("events", "success")
	}
}

// client returns the cached client for tenantID, creating it on first use
func (e *Engine) client(ctx context.Context, tenantID string) (MessagingClient, error) {
	e.mu.RLock()
	c, ok := e.clients[tenantID]
	e.mu.RUnlock()
	if ok {
		return c, nil
	}

	tenant, err := e.tenants.Get(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve tenant %s: %w", tenantID, err)
	}
	created, err := e.factory(tenant)
	if err != nil {
		return nil, fmt.Errorf("failed to create messaging client for tenant %s: %w", tenantID, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if existing, ok := e.clients[tenantID]; ok {
		return existing, nil
	}
	e.clients[tenantID] = created
	if e.metrics != nil {
		e.metrics.PooledClients.Set(float64(len(e.clients)))
	}

	e.logger.WithField("tenant_id", tenantID).Info("Created messaging client")
	return created, nil
}

// ClearCache forgets every idempotency key across all tenants and conversations
func (e *Engine) ClearCache(ctx context.Context) error {
	if err := e.idempotency.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear idempotency cache: %w", err)
	}
	e.logger.Info("Cleared idempotency cache")
	return nil
}

// Dispose drops the pooled clients and closes the emitter
func (e *Engine) Dispose() error {
	e.mu.Lock()
	e.clients = make(map[string]MessagingClient)
	if e.metrics != nil {
		e.metrics.PooledClients.Set(0)
	}
	e.mu.Unlock()

	return e.emitter.Close()
}

func (e *Engine) observeSync(category, status string) {
	if e.metrics == nil {
		return
	}
	e.metrics.SyncOperations.WithLabelValues(category, status).Inc()
}
