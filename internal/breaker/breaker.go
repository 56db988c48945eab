// Package breaker builds circuit breakers for calls to external services.
package breaker

import (
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/elonfeng/productradar/internal/logging"
	"github.com/elonfeng/productradar/internal/metrics"
)

// Breaker guards one external service. Each call runs with its own timeout.
type Breaker[T any] struct {
	cb      *gobreaker.CircuitBreaker[T]
	name    string
	timeout time.Duration
}

// New creates a breaker that opens once at least 5 requests in a minute
// have failed at a 60% rate, and probes again after 30 seconds.
func New[T any](name string, timeout time.Duration) *Breaker[T] {
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	cb := gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 5 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state change")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		},
	})

	return &Breaker[T]{cb: cb, name: name, timeout: timeout}
}

// Execute runs fn under the breaker with a deadline of the breaker timeout.
func (b *Breaker[T]) Execute(ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	result, err := b.cb.Execute(func() (T, error) {
		if b.timeout <= 0 {
			return fn(ctx)
		}
		ctx, cancel := context.WithTimeout(ctx, b.timeout)
		defer cancel()
		return fn(ctx)
	})

	switch {
	case err == nil:
		metrics.CircuitBreakerRequests.WithLabelValues(b.name, "success").Inc()
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.CircuitBreakerRequests.WithLabelValues(b.name, "rejected").Inc()
	default:
		metrics.CircuitBreakerRequests.WithLabelValues(b.name, "failure").Inc()
	}
	return result, err
}

// State reports the current breaker state.
func (b *Breaker[T]) State() gobreaker.State {
	return b.cb.State()
}
