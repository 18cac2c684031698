// Package resilience provides the circuit breaker and retry primitives used
// by every outbound call in the wallet memory layer. It is a thin adapter
// over github.com/sony/gobreaker/v2 (circuit breaking) and
// github.com/cenkalti/backoff/v4 (exponential backoff retry), preserving a
// small, stable API surface for callers.
package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker/v2"

	"github.com/walletmemory/core/internal/logging"
	"github.com/walletmemory/core/internal/metrics"
)

// State mirrors gobreaker's circuit states.
type State = gobreaker.State

var (
	ErrCircuitOpen     = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("circuit breaker: too many requests in half-open state")
)

// Config describes a single named circuit breaker.
type Config struct {
	Name          string
	MaxFailures   uint32
	Timeout       time.Duration
	HalfOpenMax   uint32
	OnStateChange func(name string, from, to State)
}

// CircuitBreaker wraps a gobreaker.CircuitBreaker[any].
type CircuitBreaker struct {
	name string
	cb   *gobreaker.CircuitBreaker[any]
}

// New constructs a CircuitBreaker from cfg.
func New(cfg Config) *CircuitBreaker {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.HalfOpenMax,
		Interval:    0,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
	}
	if cfg.OnStateChange != nil {
		settings.OnStateChange = func(name string, from, to gobreaker.State) {
			cfg.OnStateChange(name, from, to)
		}
	}
	return &CircuitBreaker{name: cfg.Name, cb: gobreaker.NewCircuitBreaker[any](settings)}
}

// State returns the breaker's current state.
func (b *CircuitBreaker) State() State { return b.cb.State() }

// Execute runs fn through the breaker, translating gobreaker's sentinel
// errors back to this package's own. ctx is accepted for API symmetry with
// the rest of the codebase; gobreaker does not use it internally.
func (b *CircuitBreaker) Execute(_ context.Context, fn func() error) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, fn()
	})
	return mapGobreakerError(err)
}

func mapGobreakerError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gobreaker.ErrOpenState):
		return ErrCircuitOpen
	case errors.Is(err, gobreaker.ErrTooManyRequests):
		return ErrTooManyRequests
	default:
		return err
	}
}

// RetryConfig describes an exponential backoff retry schedule.
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultRetryConfig returns a conservative three-attempt schedule.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
	}
}

// Retry runs fn with exponential backoff, honoring ctx cancellation and
// cfg.MaxAttempts.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.InitialDelay
	bo.MaxInterval = cfg.MaxDelay
	bo.Multiplier = cfg.Multiplier
	bo.MaxElapsedTime = 0

	maxRetries := cfg.MaxAttempts - 1
	if maxRetries < 0 {
		maxRetries = 0
	}
	withMax := backoff.WithMaxRetries(bo, uint64(maxRetries))
	withCtx := backoff.WithContext(withMax, ctx)

	return backoff.Retry(fn, withCtx)
}

// Named breaker identifiers, fixed per the four outbound dependencies the
// wallet memory layer protects.
const (
	NameUpstreamStream = "upstream-stream"
	NamePrimaryStore   = "primary-store"
	NameCache          = "cache"
	NameOracle         = "oracle"
)

// Defaults returns the configuration for each of the four named breakers,
// logging state transitions through log and, when m is non-nil, counting
// every transition into the open state.
func Defaults(log *logging.Logger, m *metrics.Metrics) map[string]Config {
	onChange := func(name string) func(string, State, State) {
		return func(_ string, from, to State) {
			if log != nil {
				log.WithFields(map[string]interface{}{
					"breaker": name,
					"from":    from.String(),
					"to":      to.String(),
				}).Warn("circuit breaker state changed")
			}
			if m != nil && to == gobreaker.StateOpen {
				m.CircuitBreakerTrips.WithLabelValues(name).Inc()
			}
		}
	}
	return map[string]Config{
		NameUpstreamStream: {Name: NameUpstreamStream, MaxFailures: 5, Timeout: 5 * time.Minute, HalfOpenMax: 1, OnStateChange: onChange(NameUpstreamStream)},
		NamePrimaryStore:   {Name: NamePrimaryStore, MaxFailures: 5, Timeout: 2 * time.Minute, HalfOpenMax: 1, OnStateChange: onChange(NamePrimaryStore)},
		NameCache:          {Name: NameCache, MaxFailures: 3, Timeout: 1 * time.Minute, HalfOpenMax: 1, OnStateChange: onChange(NameCache)},
		NameOracle:         {Name: NameOracle, MaxFailures: 5, Timeout: 5 * time.Minute, HalfOpenMax: 1, OnStateChange: onChange(NameOracle)},
	}
}

// Registry holds one CircuitBreaker per named dependency.
type Registry struct {
	breakers map[string]*CircuitBreaker
}

// NewRegistry builds the four named breakers from log- and metrics-wired
// defaults. m may be nil to skip metrics recording.
func NewRegistry(log *logging.Logger, m *metrics.Metrics) *Registry {
	r := &Registry{breakers: make(map[string]*CircuitBreaker)}
	for name, cfg := range Defaults(log, m) {
		r.breakers[name] = New(cfg)
	}
	return r
}

// Get returns the named breaker, or nil if unknown.
func (r *Registry) Get(name string) *CircuitBreaker {
	return r.breakers[name]
}
