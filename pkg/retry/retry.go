package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"conversation-automation/pkg/constants"
	"conversation-automation/pkg/metrics"
)

// Options controls the bounded exponential backoff. Every failure is retried the
// same way; there is no classification of retryable errors and no jitter.
type Options struct {
	MaxAttempts       int
	Delay             time.Duration
	BackoffMultiplier float64
	MaxDelay          time.Duration
}

// DefaultOptions returns 3 attempts starting at 1s, doubling, capped at 10s
func DefaultOptions() Options {
	return Options{
		MaxAttempts:       constants.DefaultRetryMaxAttempts,
		Delay:             constants.MillisecondsToDuration(constants.DefaultRetryDelayMS),
		BackoffMultiplier: constants.DefaultRetryBackoffMultiplier,
		MaxDelay:          constants.MillisecondsToDuration(constants.DefaultRetryMaxDelayMS),
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = def.MaxAttempts
	}
	if o.Delay < 0 {
		o.Delay = 0
	}
	if o.BackoffMultiplier <= 0 {
		o.BackoffMultiplier = def.BackoffMultiplier
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = def.MaxDelay
	}
	return o
}

// SleepFunc waits for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

type Executor struct {
	opts    Options
	logger  *logrus.Logger
	metrics *metrics.Metrics
	sleep   SleepFunc
}

type Option func(*Executor)

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Executor) {
		e.metrics = m
	}
}

// WithSleep replaces the timer based wait, mostly so tests can observe delays without waiting
func WithSleep(sleep SleepFunc) Option {
	return func(e *Executor) {
		e.sleep = sleep
	}
}

func NewExecutor(opts Options, logger *logrus.Logger, options ...Option) *Executor {
	e := &Executor{
		opts:   opts.withDefaults(),
		logger: logger,
		sleep:  sleepContext,
	}
	for _, opt := range options {
		opt(e)
	}
	return e
}

func (e *Executor) Options() Options {
	return e.opts
}

// Run invokes fn until it succeeds or MaxAttempts is exhausted, then returns the last error
func (e *Executor) Run(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	start := time.Now()
	defer func() {
		if e.metrics != nil {
			e.metrics.OutboundCallDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
		}
	}()

	var lastErr error
	delay := e.opts.Delay

	for attempt := 1; attempt <= e.opts.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			e.observe(operation, "success")
			return nil
		}
		e.observe(operation, "failure")

		if attempt == e.opts.MaxAttempts {
			e.logger.WithError(lastErr).WithFields(logrus.Fields{
				"operation": operation,
				"attempts":  e.opts.MaxAttempts,
			}).Error("Retry failed after max attempts")
			return lastErr
		}

		e.logger.WithError(lastErr).WithFields(logrus.Fields{
			"operation":  operation,
			"attempt":    attempt,
			"next_delay": delay,
		}).Warn("Retry attempt failed, retrying")

		if err := e.sleep(ctx, delay); err != nil {
			return fmt.Errorf("retry of %s interrupted after %d attempts: %w", operation, attempt, lastErr)
		}

		delay = time.Duration(float64(delay) * e.opts.BackoffMultiplier)
		if delay > e.opts.MaxDelay {
			delay = e.opts.MaxDelay
		}
	}

	return lastErr
}

// Do is Run for operations that produce a value
func Do[T any](ctx context.Context, e *Executor, operation string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := e.Run(ctx, operation, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func (e *Executor) observe(operation, outcome string) {
	if e.metrics == nil {
		return
	}
	e.metrics.RetryAttempts.WithLabelValues(operation, outcome).Inc()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
