// Package retry executes calls to external services with exponential backoff, classifying failures with
// errs.IsRetryable and recording a health snapshot per service.
package retry

import (
	"context"
	"errors"
	"fmt"
	"github.com/RyanW02/supplytrail/pkg/errs"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"sync"
	"time"
)

type (
	HealthState string

	HealthStatus struct {
		Service     string        `json:"service"`
		Status      HealthState   `json:"status"`
		LastChecked time.Time     `json:"last_checked"`
		Latency     time.Duration `json:"latency"`
		LastError   string        `json:"last_error,omitempty"`
	}

	// HealthObserver is notified of every health update, e.g. to export it as a metric.
	HealthObserver interface {
		SetServiceHealth(service string, healthy bool, latency time.Duration)
	}

	Manager struct {
		service  string
		logger   *zap.Logger
		policy   Policy
		observer HealthObserver
		newTimer func() backoff.Timer

		mu     sync.RWMutex
		health HealthStatus
	}

	Option func(*Manager)
)

const (
	HealthUnknown   HealthState = "unknown"
	HealthHealthy   HealthState = "healthy"
	HealthUnhealthy HealthState = "unhealthy"
)

func WithPolicy(policy Policy) Option {
	return func(m *Manager) {
		m.policy = policy
	}
}

func WithHealthObserver(observer HealthObserver) Option {
	return func(m *Manager) {
		m.observer = observer
	}
}

// WithTimer replaces the timer used to wait between attempts.
func WithTimer(newTimer func() backoff.Timer) Option {
	return func(m *Manager) {
		m.newTimer = newTimer
	}
}

func NewManager(service string, logger *zap.Logger, opts ...Option) *Manager {
	m := &Manager{
		service: service,
		logger:  logger,
		policy:  DefaultPolicy(),
		health: HealthStatus{
			Service: service,
			Status:  HealthUnknown,
		},
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

func (m *Manager) Service() string {
	return m.service
}

// Context creates a Context for the named operation from the manager's policy.
func (m *Manager) Context(operation string) Context {
	return m.policy.Context(operation)
}

func (m *Manager) Health() HealthStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.health
}

// Do runs op until it succeeds, fails with a non-retryable error, or rc.MaxAttempts attempts have been made.
func Do[T any](ctx context.Context, m *Manager, rc Context, op func(ctx context.Context) (T, error)) (T, error) {
	var res T
	err := m.Execute(ctx, rc, func(ctx context.Context) error {
		var err error
		res, err = op(ctx)
		return err
	})

	return res, err
}

// Execute runs op until it succeeds, fails with a non-retryable error, or rc.MaxAttempts attempts have been made.
// Only running out of attempts yields an *ExhaustedError; non-retryable failures and cancellation are returned as
// their cause.
func (m *Manager) Execute(ctx context.Context, rc Context, op func(ctx context.Context) error) error {
	rc = rc.normalised()
	logger := m.logger.With(zap.String("operation", rc.OperationName))

	started := time.Now()
	attempts := 0
	stopped := false

	operation := func() error {
		attempts++

		err := m.attempt(ctx, rc, op)
		if err == nil {
			return nil
		}

		if ctx.Err() != nil {
			stopped = true
			return backoff.Permanent(err)
		}

		if !errs.IsRetryable(err) {
			logger.Debug("Operation failed with non-retryable error", zap.Int("attempt", attempts), zap.Error(err))
			stopped = true
			return backoff.Permanent(err)
		}

		return err
	}

	notify := func(err error, delay time.Duration) {
		logger.Warn("Operation failed, retrying",
			zap.Int("attempt", attempts),
			zap.Int("max_attempts", rc.MaxAttempts),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
	}

	var timer backoff.Timer
	if m.newTimer != nil {
		timer = m.newTimer()
	}

	err := backoff.RetryNotifyWithTimer(operation, m.backOff(ctx, rc), notify, timer)
	elapsed := time.Since(started)

	if err == nil {
		m.recordHealth(HealthHealthy, elapsed, nil)
		return nil
	}

	m.recordHealth(HealthUnhealthy, elapsed, err)
	logger.Error("Operation failed", zap.Int("attempts", attempts), zap.Duration("elapsed", elapsed), zap.Error(err))

	// Cancelled while waiting between attempts
	if ctx.Err() != nil {
		stopped = true
	}

	if stopped {
		return fmt.Errorf("%s/%s: %w", m.service, rc.OperationName, err)
	}

	return &ExhaustedError{
		Operation: rc.OperationName,
		Service:   m.service,
		Attempts:  attempts,
		Elapsed:   elapsed,
		Metadata:  rc.Metadata,
		Err:       err,
	}
}

func (m *Manager) backOff(ctx context.Context, rc Context) backoff.BackOff {
	randomization := 0.0
	if rc.UseJitter {
		randomization = JitterFactor
	}

	exponential := &backoff.ExponentialBackOff{
		InitialInterval:     rc.BaseDelay,
		RandomizationFactor: randomization,
		Multiplier:          rc.BackoffMultiplier,
		MaxInterval:         rc.MaxDelay,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	exponential.Reset()

	return backoff.WithContext(backoff.WithMaxRetries(exponential, uint64(rc.MaxAttempts-1)), ctx)
}

// attempt runs a single attempt, racing it against the per-attempt timeout if one is set.
func (m *Manager) attempt(ctx context.Context, rc Context, op func(ctx context.Context) error) error {
	if rc.Timeout <= 0 {
		return op(ctx)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, rc.Timeout)
	defer cancel()

	ch := make(chan error, 1)
	go func() {
		ch <- op(attemptCtx)
	}()

	select {
	case err := <-ch:
		if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("%w: %s timed out after %s", errs.ErrNetworkTimeout, rc.OperationName, rc.Timeout)
		}

		return err
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}

		return fmt.Errorf("%w: %s timed out after %s", errs.ErrNetworkTimeout, rc.OperationName, rc.Timeout)
	}
}

func (m *Manager) recordHealth(state HealthState, latency time.Duration, err error) {
	status := HealthStatus{
		Service:     m.service,
		Status:      state,
		LastChecked: time.Now(),
		Latency:     latency,
	}

	if err != nil {
		status.LastError = err.Error()
	}

	m.mu.Lock()
	m.health = status
	m.mu.Unlock()

	if m.observer != nil {
		m.observer.SetServiceHealth(m.service, state == HealthHealthy, latency)
	}
}
