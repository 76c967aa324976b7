package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/aristath/docflow/internal/backend"
	"github.com/aristath/docflow/internal/config"
)

// RetryPolicy configures exponential backoff for a single backend call.
type RetryPolicy struct {
	MaxAttempts         int           // Total attempts including the first (default 3)
	InitialInterval     time.Duration // First retry delay (default 2s)
	MaxInterval         time.Duration // Cap on the delay (default 30s)
	Multiplier          float64       // Backoff multiplier (default 2.0)
	RandomizationFactor float64       // Jitter factor (default 0.5)
}

// DefaultRetryPolicy returns the default retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:         3,
		InitialInterval:     2 * time.Second,
		MaxInterval:         30 * time.Second,
		Multiplier:          2.0,
		RandomizationFactor: 0.5,
	}
}

// RetryPolicyFrom fills a policy from configuration, keeping defaults for
// unset fields.
func RetryPolicyFrom(cfg config.RetryConfig) RetryPolicy {
	p := DefaultRetryPolicy()
	if cfg.MaxAttempts > 0 {
		p.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.InitialInterval.Duration > 0 {
		p.InitialInterval = cfg.InitialInterval.Duration
	}
	if cfg.MaxInterval.Duration > 0 {
		p.MaxInterval = cfg.MaxInterval.Duration
	}
	return p
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.InitialInterval
	exp.MaxInterval = p.MaxInterval
	exp.Multiplier = p.Multiplier
	exp.RandomizationFactor = p.RandomizationFactor
	// Attempts, not elapsed time, bound the loop.
	exp.MaxElapsedTime = 0

	attempts := max(p.MaxAttempts, 1)
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(attempts-1)), ctx)
}

// BreakerRegistry manages one circuit breaker per provider.
type BreakerRegistry struct {
	mu          sync.Mutex
	breakers    map[string]*gobreaker.CircuitBreaker
	maxFailures uint32
	timeout     time.Duration
	logger      *slog.Logger
}

// NewBreakerRegistry creates a registry whose breakers open after
// maxFailures consecutive failures and probe again after timeout.
func NewBreakerRegistry(maxFailures uint32, timeout time.Duration, logger *slog.Logger) *BreakerRegistry {
	if maxFailures == 0 {
		maxFailures = 5
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BreakerRegistry{
		breakers:    make(map[string]*gobreaker.CircuitBreaker),
		maxFailures: maxFailures,
		timeout:     timeout,
		logger:      logger,
	}
}

// Get returns the breaker for provider, creating it on first use.
func (r *BreakerRegistry) Get(provider string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[provider]; ok {
		return cb
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        provider,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     r.timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= r.maxFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			r.logger.Warn("circuit breaker state changed", "provider", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			// A cancelled or timed-out caller says nothing about the provider.
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
	})

	r.breakers[provider] = cb
	return cb
}

// sendWithRetry sends msg through the provider's breaker, retrying
// transient failures with exponential backoff. observe, if non-nil, is
// called once per attempt.
func sendWithRetry(ctx context.Context, b backend.Backend, msg backend.Message, cb *gobreaker.CircuitBreaker, policy RetryPolicy, observe func(time.Duration, error)) (backend.Response, error) {
	var resp backend.Response

	operation := func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}

		start := time.Now()
		result, err := cb.Execute(func() (interface{}, error) {
			return b.Send(ctx, msg)
		})
		if observe != nil && !errors.Is(err, gobreaker.ErrOpenState) && !errors.Is(err, gobreaker.ErrTooManyRequests) {
			observe(time.Since(start), err)
		}

		if err != nil {
			switch {
			case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
				return backoff.Permanent(err)
			case ctx.Err() != nil:
				return backoff.Permanent(err)
			case backend.IsPermanent(err):
				return backoff.Permanent(err)
			}
			return err
		}

		resp = result.(backend.Response)
		return nil
	}

	err := backoff.Retry(operation, policy.backOff(ctx))
	return resp, err
}
