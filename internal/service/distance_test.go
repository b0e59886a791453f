package service_test

import (
	"context"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/UnknownOlympus/odometer/internal/cache"
	"github.com/UnknownOlympus/odometer/internal/directions"
	"github.com/UnknownOlympus/odometer/internal/metrics"
	"github.com/UnknownOlympus/odometer/internal/models"
	"github.com/UnknownOlympus/odometer/internal/ratelimit"
	"github.com/UnknownOlympus/odometer/internal/retry"
	"github.com/UnknownOlympus/odometer/internal/service"
	"github.com/UnknownOlympus/odometer/test/mocks"
	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// countingLimiter records permits and optionally runs a hook before granting one.
type countingLimiter struct {
	calls  atomic.Int32
	before func(ctx context.Context) error
}

func (l *countingLimiter) Acquire(ctx context.Context) error {
	l.calls.Add(1)
	if l.before != nil {
		return l.before(ctx)
	}
	return nil
}

type fixture struct {
	provider *mocks.Provider
	cache    *cache.ResultCache
	limiter  *countingLimiter
	service  *service.DistanceService
}

func newFixture(t *testing.T, workers int) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	m := metrics.NewMetrics(prometheus.NewRegistry())

	provider := mocks.NewProvider(t)
	results, err := cache.New(cache.DefaultCapacity, cache.WithMetrics(m))
	require.NoError(t, err)
	limiter := &countingLimiter{}
	lookup := retry.New(provider,
		retry.WithMaxAttempts(1),
		retry.WithClock(clock.NewMock()),
		retry.WithLogger(logger),
		retry.WithMetrics(m),
	)

	svc, err := service.NewDistanceService(logger, results, limiter, lookup, m, workers)
	require.NoError(t, err)

	return &fixture{provider: provider, cache: results, limiter: limiter, service: svc}
}

func TestResolveAll(t *testing.T) {
	ctx := t.Context()

	t.Run("skips the destination and keeps input order", func(t *testing.T) {
		fx := newFixture(t, 0)
		fx.provider.On("Lookup", mock.Anything, "A", "B").
			Return(models.NewLookupResult("A", "B", 12345, 1800), nil).Once()
		fx.provider.On("Lookup", mock.Anything, "C", "B").
			Return(models.NewLookupResult("C", "B", 50000, 3600), nil).Once()

		report, err := fx.service.ResolveAll(ctx, []string{"A", "B", "C"}, "B")

		require.NoError(t, err)
		require.Len(t, report.Rows, 2)
		assert.Equal(t, "A", report.Rows[0].Origin)
		assert.Equal(t, "C", report.Rows[1].Origin)
		assert.InDelta(t, 12.35, *report.Rows[0].DistanceKm(), 1e-9)
		assert.InDelta(t, 0.5, *report.Rows[0].DurationHours(), 1e-9)
		assert.InDelta(t, 30.0, *report.Rows[0].DurationMinutes(), 1e-9)
		assert.Equal(t, "B", report.Destination)
		assert.NotEqual(t, uuid.Nil, report.RunID)
		assert.False(t, report.FinishedAt.Before(report.StartedAt))
	})

	t.Run("one row per origin with a provider failure", func(t *testing.T) {
		fx := newFixture(t, 2)
		fx.provider.On("Lookup", mock.Anything, "Matão", "Araraquara").
			Return(models.NewLookupResult("Matão", "Araraquara", 30500, 1500), nil).Once()
		fx.provider.On("Lookup", mock.Anything, "Nowhere", "Araraquara").
			Return(models.LookupResult{}, &directions.ProviderError{Provider: "google", Err: assert.AnError}).Once()
		fx.provider.On("Lookup", mock.Anything, "Ilhabela", "Araraquara").
			Return(models.NoRoute("Ilhabela", "Araraquara"), nil).Once()

		origins := []string{"Matão", "Nowhere", "Ilhabela"}
		report, err := fx.service.ResolveAll(ctx, origins, "Araraquara")

		require.NoError(t, err)
		require.Len(t, report.Rows, len(origins))
		for i, row := range report.Rows {
			assert.Equal(t, origins[i], row.Origin)
			assert.Equal(t, "Araraquara", row.Destination)
			// distance and both durations are either all present or all absent
			assert.Equal(t, row.DistanceKm() == nil, row.DurationHours() == nil)
			assert.Equal(t, row.DistanceKm() == nil, row.DurationMinutes() == nil)
		}
		assert.True(t, report.Rows[0].HasRoute())
		assert.False(t, report.Rows[1].HasRoute())
		assert.False(t, report.Rows[2].HasRoute())
		assert.Equal(t, 1, report.Resolved())
		assert.Equal(t, 2, report.Unresolved())
	})

	t.Run("duplicates are served from cache without a permit", func(t *testing.T) {
		fx := newFixture(t, 4)
		fx.provider.On("Lookup", mock.Anything, "A", "B").
			Return(models.NewLookupResult("A", "B", 1000, 60), nil).Once()

		report, err := fx.service.ResolveAll(ctx, []string{"A", "A", "A", "A"}, "B")

		require.NoError(t, err)
		require.Len(t, report.Rows, 4)
		for _, row := range report.Rows {
			assert.True(t, row.HasRoute())
		}
		assert.Equal(t, int32(1), fx.limiter.calls.Load())
		fx.provider.AssertNumberOfCalls(t, "Lookup", 1)
	})

	t.Run("second run hits the cache", func(t *testing.T) {
		fx := newFixture(t, 1)
		fx.provider.On("Lookup", mock.Anything, "A", "B").
			Return(models.NewLookupResult("A", "B", 1000, 60), nil).Once()

		_, err := fx.service.ResolveAll(ctx, []string{"A"}, "B")
		require.NoError(t, err)
		report, err := fx.service.ResolveAll(ctx, []string{"A"}, "B")
		require.NoError(t, err)

		assert.True(t, report.Rows[0].HasRoute())
		assert.Equal(t, int32(1), fx.limiter.calls.Load())
	})

	t.Run("unresolved rows are not reused by the next run", func(t *testing.T) {
		fx := newFixture(t, 1)
		fx.provider.On("Lookup", mock.Anything, "A", "B").
			Return(models.LookupResult{}, &directions.ProviderError{Provider: "google", Err: assert.AnError}).Once()
		fx.provider.On("Lookup", mock.Anything, "A", "B").
			Return(models.NewLookupResult("A", "B", 1000, 60), nil).Once()

		first, err := fx.service.ResolveAll(ctx, []string{"A"}, "B")
		require.NoError(t, err)
		assert.False(t, first.Rows[0].HasRoute())
		assert.Equal(t, 0, fx.cache.Len())

		second, err := fx.service.ResolveAll(ctx, []string{"A"}, "B")
		require.NoError(t, err)

		assert.True(t, second.Rows[0].HasRoute())
		assert.Equal(t, int32(2), fx.limiter.calls.Load())
		assert.Equal(t, 1, fx.cache.Len())
	})

	t.Run("duplicate unresolved origins share one lookup within a run", func(t *testing.T) {
		fx := newFixture(t, 1)
		fx.provider.On("Lookup", mock.Anything, "Ilhabela", "B").
			Return(models.NoRoute("Ilhabela", "B"), nil).Once()

		report, err := fx.service.ResolveAll(ctx, []string{"Ilhabela", "Ilhabela"}, "B")

		require.NoError(t, err)
		require.Len(t, report.Rows, 2)
		assert.False(t, report.Rows[0].HasRoute())
		assert.False(t, report.Rows[1].HasRoute())
		assert.Equal(t, int32(1), fx.limiter.calls.Load())
		assert.Equal(t, 0, fx.cache.Len())
	})

	t.Run("empty origin list", func(t *testing.T) {
		fx := newFixture(t, 0)

		report, err := fx.service.ResolveAll(ctx, nil, "B")

		require.NoError(t, err)
		assert.Empty(t, report.Rows)
	})

	t.Run("only the destination itself", func(t *testing.T) {
		fx := newFixture(t, 0)

		report, err := fx.service.ResolveAll(ctx, []string{"B", "B"}, "B")

		require.NoError(t, err)
		assert.Empty(t, report.Rows)
	})

	t.Run("empty destination", func(t *testing.T) {
		fx := newFixture(t, 0)

		report, err := fx.service.ResolveAll(ctx, []string{"A"}, "")

		require.ErrorIs(t, err, service.ErrEmptyDestination)
		assert.Nil(t, report)
	})
}

func TestResolveAllCancelled(t *testing.T) {
	t.Run("cancelled before start", func(t *testing.T) {
		fx := newFixture(t, 2)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		report, err := fx.service.ResolveAll(ctx, []string{"A", "C", "D"}, "B")

		require.NoError(t, err)
		require.Len(t, report.Rows, 3)
		for _, row := range report.Rows {
			assert.False(t, row.HasRoute())
		}
		fx.provider.AssertNotCalled(t, "Lookup", mock.Anything, mock.Anything, mock.Anything)
		assert.Equal(t, 0, fx.cache.Len())
	})

	t.Run("cancelled while waiting for a permit", func(t *testing.T) {
		fx := newFixture(t, 1)
		ctx, cancel := context.WithCancel(context.Background())
		fx.limiter.before = func(ctx context.Context) error {
			cancel()
			return ctx.Err()
		}

		report, err := fx.service.ResolveAll(ctx, []string{"A", "C"}, "B")

		require.NoError(t, err)
		require.Len(t, report.Rows, 2)
		assert.Equal(t, "A", report.Rows[0].Origin)
		assert.Equal(t, "C", report.Rows[1].Origin)
		assert.False(t, report.Rows[0].HasRoute())
		assert.False(t, report.Rows[1].HasRoute())
		fx.provider.AssertNotCalled(t, "Lookup", mock.Anything, mock.Anything, mock.Anything)
		assert.Equal(t, 0, fx.cache.Len())
	})
}

func TestResolveAllSharedCacheAcrossRuns(t *testing.T) {
	fx := newFixture(t, 1)
	fx.provider.On("Lookup", mock.Anything, "A", "B").
		Return(models.NewLookupResult("A", "B", 1000, 60), nil).Once()

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	entered := make(chan struct{})
	release := make(chan struct{})
	fx.limiter.before = func(ctx context.Context) error {
		if fx.limiter.calls.Load() > 1 {
			return nil
		}
		// the first run holds the in-flight lookup until it is cancelled
		close(entered)
		<-release
		return ctx.Err()
	}

	firstDone := make(chan *models.Report, 1)
	go func() {
		report, err := fx.service.ResolveAll(firstCtx, []string{"A"}, "B")
		assert.NoError(t, err)
		firstDone <- report
	}()
	<-entered

	secondDone := make(chan *models.Report, 1)
	go func() {
		report, err := fx.service.ResolveAll(t.Context(), []string{"A"}, "B")
		assert.NoError(t, err)
		secondDone <- report
	}()
	// let the second run join the first run's lookup
	time.Sleep(20 * time.Millisecond)
	cancelFirst()
	close(release)

	first := <-firstDone
	second := <-secondDone

	require.Len(t, first.Rows, 1)
	require.Len(t, second.Rows, 1)
	assert.False(t, first.Rows[0].HasRoute())
	assert.True(t, second.Rows[0].HasRoute())
	assert.InDelta(t, 1.0, *second.Rows[0].DistanceKm(), 1e-9)
	fx.provider.AssertNumberOfCalls(t, "Lookup", 1)
	assert.Equal(t, 1, fx.cache.Len())
}

func TestResolveAllWithRealLimiter(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	m := metrics.NewMetrics(prometheus.NewRegistry())
	provider := mocks.NewProvider(t)
	provider.On("Lookup", mock.Anything, mock.AnythingOfType("string"), "Z").
		Return(func(_ context.Context, origin, destination string) (models.LookupResult, error) {
			return models.NewLookupResult(origin, destination, 2000, 120), nil
		}).Times(5)

	results, err := cache.New(10)
	require.NoError(t, err)
	svc, err := service.NewDistanceService(
		logger, results, ratelimit.New(0), retry.New(provider, retry.WithLogger(logger)), m, 3,
	)
	require.NoError(t, err)

	report, err := svc.ResolveAll(t.Context(), []string{"A", "B", "C", "D", "E"}, "Z")

	require.NoError(t, err)
	require.Len(t, report.Rows, 5)
	for i, origin := range []string{"A", "B", "C", "D", "E"} {
		assert.Equal(t, origin, report.Rows[i].Origin)
		assert.True(t, report.Rows[i].HasRoute())
	}
	assert.Equal(t, 5, results.Len())
}

func TestNewDistanceService(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	m := metrics.NewMetrics(prometheus.NewRegistry())
	results, err := cache.New(1)
	require.NoError(t, err)
	limiter := ratelimit.New(0)
	lookup := retry.New(mocks.NewProvider(t))

	tests := []struct {
		name    string
		build   func() (*service.DistanceService, error)
		wantErr string
	}{
		{
			name:  "all collaborators",
			build: func() (*service.DistanceService, error) { return service.NewDistanceService(logger, results, limiter, lookup, m, 0) },
		},
		{
			name:    "missing logger",
			build:   func() (*service.DistanceService, error) { return service.NewDistanceService(nil, results, limiter, lookup, m, 0) },
			wantErr: "logger is required",
		},
		{
			name:    "missing cache",
			build:   func() (*service.DistanceService, error) { return service.NewDistanceService(logger, nil, limiter, lookup, m, 0) },
			wantErr: "cache is required",
		},
		{
			name:    "missing limiter",
			build:   func() (*service.DistanceService, error) { return service.NewDistanceService(logger, results, nil, lookup, m, 0) },
			wantErr: "rate limiter is required",
		},
		{
			name:    "missing lookup",
			build:   func() (*service.DistanceService, error) { return service.NewDistanceService(logger, results, limiter, nil, m, 0) },
			wantErr: "lookup is required",
		},
		{
			name:    "missing metrics",
			build:   func() (*service.DistanceService, error) { return service.NewDistanceService(logger, results, limiter, lookup, nil, 0) },
			wantErr: "metrics are required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := tt.build()
			if tt.wantErr != "" {
				require.ErrorContains(t, err, tt.wantErr)
				assert.Nil(t, svc)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, svc)
		})
	}
}
