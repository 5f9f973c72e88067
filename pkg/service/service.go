package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"conversation-automation/pkg/config"
	"conversation-automation/pkg/constants"
	"conversation-automation/pkg/emitter"
	"conversation-automation/pkg/handlers"
	"conversation-automation/pkg/metrics"
	"conversation-automation/pkg/pipeline"
	"conversation-automation/pkg/policy"
	redisClient "conversation-automation/pkg/redis"
	"conversation-automation/pkg/retry"
	"conversation-automation/pkg/server"
	"conversation-automation/pkg/store"
	"conversation-automation/pkg/syncengine"
	"conversation-automation/pkg/webhook"
)

const emittedStreamMaxLen = 10000

type Service struct {
	config     *config.Config
	logger     *logrus.Logger
	metrics    *metrics.Metrics
	redis      *redisClient.Client
	tenants    *config.TenantStore
	store      store.Store
	engine     *syncengine.Engine
	deadLetter *pipeline.DeadLetter
	pipeline   *pipeline.Pipeline
	handler    *handlers.Handler
	server     *http.Server
}

// NewService builds every component from cfg. Redis is only dialled when a
// configured backend needs it.
func NewService(cfg *config.Config, logger *logrus.Logger, m *metrics.Metrics) (*Service, error) {
	s := &Service{
		config:  cfg,
		logger:  logger,
		metrics: m,
	}

	if err := s.init(); err != nil {
		s.closeBackends()
		return nil, err
	}
	return s, nil
}

func (s *Service) init() error {
	s.tenants = config.NewTenantStore(s.logger)
	if s.config.TenantsFile != "" {
		if err := s.tenants.LoadFile(s.config.TenantsFile); err != nil {
			return fmt.Errorf("failed to load tenants: %w", err)
		}
	} else if err := s.tenants.LoadEnv(); err != nil {
		return fmt.Errorf("failed to load tenant from environment: %w", err)
	}

	if s.config.NeedsRedis() {
		rdb, err := redisClient.NewClient(redisClient.DefaultConnectionConfig(s.config.RedisURL), s.logger)
		if err != nil {
			return err
		}
		s.redis = rdb
	}

	st, err := s.openStore()
	if err != nil {
		return err
	}
	s.store = st

	idem, err := s.idempotencyStore()
	if err != nil {
		return err
	}
	em, err := s.emitter()
	if err != nil {
		return err
	}

	retrier := retry.NewExecutor(retry.Options{
		MaxAttempts:       s.config.RetryMaxAttempts,
		Delay:             s.config.RetryDelay(),
		BackoffMultiplier: s.config.RetryBackoff,
		MaxDelay:          s.config.RetryMaxDelay(),
	}, s.logger, retry.WithMetrics(s.metrics))

	s.engine = syncengine.NewEngine(s.tenants, retrier, s.logger,
		syncengine.WithClientFactory(syncengine.ChatwootFactory(s.config.MessagingTimeout(), s.logger)),
		syncengine.WithIdempotencyStore(idem),
		syncengine.WithEmitter(em),
		syncengine.WithWebhookSender(webhook.NewSender(s.config.MessagingTimeout(), s.logger)),
		syncengine.WithMetrics(s.metrics),
	)

	matcher := policy.NewMatcher(s.logger)
	s.deadLetter = pipeline.NewDeadLetter(s.config.DeadLetterSize, s.logger, s.metrics)
	s.pipeline = pipeline.New(s.store, s.tenants, matcher, s.logger,
		pipeline.WithDispatcher(syncengine.NewEventDispatcher(s.engine)),
		pipeline.WithFailureSink(s.deadLetter),
		pipeline.WithMetrics(s.metrics),
		pipeline.WithPolicyTimeout(s.config.PolicyTimeout()),
	)

	s.handler = handlers.NewHandler(s.pipeline, s.engine, matcher, s.deadLetter, s.config.PodID, s.logger)
	if s.redis != nil {
		s.handler.AddCheck("redis", s.redis)
	}
	return nil
}

func (s *Service) openStore() (store.Store, error) {
	switch s.config.EventStore {
	case constants.BackendMemory:
		return store.NewMemory(), nil
	case constants.BackendSQLite, "":
		st, err := store.OpenSQLite(s.config.EventStorePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open event store: %w", err)
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown event store %q", s.config.EventStore)
	}
}

func (s *Service) idempotencyStore() (syncengine.IdempotencyStore, error) {
	switch s.config.IdempotencyBackend {
	case constants.BackendMemory, "":
		return syncengine.NewMemoryIdempotency(), nil
	case constants.BackendRedis:
		return syncengine.NewRedisIdempotency(s.redis.GetRedisClient(), s.config.PendingReservationTTL()), nil
	default:
		return nil, fmt.Errorf("unknown idempotency backend %q", s.config.IdempotencyBackend)
	}
}

func (s *Service) emitter() (emitter.Emitter, error) {
	switch s.config.EmitBackend {
	case constants.BackendLog, "":
		return emitter.NewLog(s.logger), nil
	case constants.BackendRedis:
		stream := s.config.EmitTopic
		if stream == "" {
			stream = constants.EmittedEventsStream
		}
		return emitter.NewRedisStream(s.redis.GetRedisClient(), stream, emittedStreamMaxLen, s.logger), nil
	case constants.BackendKafka:
		topic := s.config.EmitTopic
		if topic == "" {
			topic = constants.EmittedEventsTopic
		}
		return emitter.NewKafka(s.config.KafkaBrokers, topic, s.logger), nil
	default:
		return nil, fmt.Errorf("unknown emit backend %q", s.config.EmitBackend)
	}
}

func (s *Service) Start(ctx context.Context) error {
	s.logger.WithFields(logrus.Fields{
		"pod_id":      s.config.PodID,
		"tenants":     len(s.tenants.List()),
		"event_store": s.config.EventStore,
		"idempotency": s.config.IdempotencyBackend,
		"emit":        s.config.EmitBackend,
	}).Info("Starting conversation automation service")

	s.server = server.NewHTTPServer(s.config, s.handler, s.logger)

	go func() {
		s.logger.WithField("port", s.config.Port).Info("Starting HTTP server")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Fatal("HTTP server failed")
		}
	}()

	return nil
}

// Stop drains in-flight policy applications before releasing the backends
func (s *Service) Stop(ctx context.Context) error {
	s.logger.Info("Stopping conversation automation service")

	var errs []error
	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			s.logger.WithError(err).Error("Failed to shutdown HTTP server gracefully")
			errs = append(errs, err)
		}
	}

	done := make(chan struct{})
	go func() {
		s.pipeline.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("Timed out waiting for policy applications")
		errs = append(errs, ctx.Err())
	}

	if err := s.engine.Dispose(); err != nil {
		errs = append(errs, err)
	}
	errs = append(errs, s.closeBackends())

	s.logger.Info("Conversation automation service stopped")
	return errors.Join(errs...)
}

func (s *Service) closeBackends() error {
	var errs []error
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close event store: %w", err))
		}
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close redis: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (s *Service) Pipeline() *pipeline.Pipeline {
	return s.pipeline
}

func (s *Service) Engine() *syncengine.Engine {
	return s.engine
}

func (s *Service) Handler() *handlers.Handler {
	return s.handler
}

func (s *Service) Tenants() *config.TenantStore {
	return s.tenants
}

func (s *Service) DeadLetter() *pipeline.DeadLetter {
	return s.deadLetter
}
