// Package ratelimit paces calls to the routing provider across all workers.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/UnknownOlympus/odometer/internal/metrics"
	"golang.org/x/time/rate"
)

// DefaultMinInterval allows at most ten provider calls per second.
const DefaultMinInterval = 100 * time.Millisecond

// Limiter enforces a minimum interval between successive permits, shared by every
// caller. The bucket holds a single token, so waiting callers never burst.
type Limiter struct {
	limiter *rate.Limiter
	metrics *metrics.Metrics
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithMetrics records permit wait times.
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Limiter) { l.metrics = m }
}

// New creates a limiter spacing permits at least minInterval apart.
// A non-positive interval disables limiting.
func New(minInterval time.Duration, opts ...Option) *Limiter {
	limit := rate.Inf
	if minInterval > 0 {
		limit = rate.Every(minInterval)
	}

	l := &Limiter{limiter: rate.NewLimiter(limit, 1)}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Acquire blocks until the next permit is available or ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	start := time.Now()
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	l.metrics.ObserveRateLimitWait(time.Since(start).Seconds())

	return nil
}
