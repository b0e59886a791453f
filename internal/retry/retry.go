// Package retry wraps a routing provider with bounded retries.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/UnknownOlympus/odometer/internal/directions"
	"github.com/UnknownOlympus/odometer/internal/metrics"
	"github.com/UnknownOlympus/odometer/internal/models"
	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
)

const (
	// DefaultMaxAttempts is the total number of provider calls per lookup.
	DefaultMaxAttempts = 2
	// DefaultDelay is the pause between two attempts.
	DefaultDelay = 2 * time.Second
)

// Lookup retries failed provider calls with a fixed delay. It never returns an
// error: a lookup that fails every attempt degrades to a result without travel data.
type Lookup struct {
	provider     directions.Provider // provider performs the actual call
	providerName string              // providerName labels request metrics
	maxAttempts  int                 // maxAttempts bounds the number of calls
	delay        time.Duration       // delay between attempts
	clock        clock.Clock         // clock drives the delay timer
	log          *slog.Logger
	metrics      *metrics.Metrics
}

// Option configures a Lookup.
type Option func(*Lookup)

// WithMaxAttempts sets the total number of attempts. Values below one mean one.
func WithMaxAttempts(n int) Option {
	return func(l *Lookup) { l.maxAttempts = max(n, 1) }
}

// WithDelay sets the pause between attempts.
func WithDelay(d time.Duration) Option {
	return func(l *Lookup) { l.delay = d }
}

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c clock.Clock) Option {
	return func(l *Lookup) { l.clock = c }
}

// WithLogger sets the logger used to report failed attempts.
func WithLogger(log *slog.Logger) Option {
	return func(l *Lookup) { l.log = log }
}

// WithMetrics records request durations, provider errors and retries.
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Lookup) { l.metrics = m }
}

// WithProviderName sets the provider label of request metrics.
func WithProviderName(name string) Option {
	return func(l *Lookup) { l.providerName = name }
}

// New wraps provider with the default policy of two attempts two seconds apart.
func New(provider directions.Provider, opts ...Option) *Lookup {
	l := &Lookup{
		provider:     provider,
		providerName: "unknown",
		maxAttempts:  DefaultMaxAttempts,
		delay:        DefaultDelay,
		clock:        clock.New(),
		log:          slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LookupWithRetry calls the provider until it succeeds or maxAttempts calls have
// failed. Every failure is logged with its attempt number. There is no delay after
// the last attempt, and a done context stops retrying early.
func (l *Lookup) LookupWithRetry(ctx context.Context, origin, destination string) models.LookupResult {
	var history error

	for attempt := 1; attempt <= l.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			history = multierr.Append(history, fmt.Errorf("attempt %d not started: %w", attempt, err))
			break
		}
		if attempt > 1 {
			l.metrics.ObserveRetry()
		}

		start := l.clock.Now()
		res, err := l.provider.Lookup(ctx, origin, destination)
		l.metrics.ObserveRequest(l.providerName, l.clock.Since(start).Seconds(), err)

		if err == nil {
			if res.HasRoute() {
				l.metrics.ObserveLookup(metrics.OutcomeRoute)
			} else {
				l.metrics.ObserveLookup(metrics.OutcomeNoRoute)
			}
			return res
		}

		history = multierr.Append(history, fmt.Errorf("attempt %d: %w", attempt, err))
		l.log.WarnContext(ctx, "Lookup attempt failed",
			"attempt", attempt,
			"max_attempts", l.maxAttempts,
			"origin", origin,
			"destination", destination,
			"error", err,
		)

		if attempt == l.maxAttempts || !l.wait(ctx) {
			break
		}
	}

	l.log.ErrorContext(ctx, "Lookup failed, reporting origin without route",
		"origin", origin,
		"destination", destination,
		"attempts", len(multierr.Errors(history)),
		"history", history,
	)
	l.metrics.ObserveLookup(metrics.OutcomeFailed)

	return models.NoRoute(origin, destination)
}

// wait sleeps for the retry delay and reports false if ctx ended first.
func (l *Lookup) wait(ctx context.Context) bool {
	timer := l.clock.Timer(l.delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
