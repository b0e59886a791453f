package cache_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/UnknownOlympus/odometer/internal/cache"
	"github.com/UnknownOlympus/odometer/internal/metrics"
	"github.com/UnknownOlympus/odometer/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("invalid capacity", func(t *testing.T) {
		t.Parallel()
		c, err := cache.New(0)

		require.Nil(t, c)
		require.ErrorIs(t, err, cache.ErrInvalidCapacity)
	})

	t.Run("default capacity", func(t *testing.T) {
		t.Parallel()
		c, err := cache.New(cache.DefaultCapacity)

		require.NoError(t, err)
		assert.Equal(t, 0, c.Len())
	})
}

func TestGetOrCompute(t *testing.T) {
	t.Parallel()

	t.Run("computes once then hits", func(t *testing.T) {
		t.Parallel()
		c, err := cache.New(10)
		require.NoError(t, err)
		calls := 0
		compute := func() (models.LookupResult, bool) {
			calls++
			return models.NewLookupResult("A", "B", 1000, 60), true
		}

		first, ok := c.GetOrCompute("A", "B", compute)
		require.True(t, ok)
		second, ok := c.GetOrCompute("A", "B", compute)
		require.True(t, ok)

		assert.Equal(t, 1, calls)
		assert.Equal(t, first, second)
		assert.Equal(t, 1, c.Len())
	})

	t.Run("keys compare by value", func(t *testing.T) {
		t.Parallel()
		c, err := cache.New(10)
		require.NoError(t, err)
		calls := 0
		compute := func() (models.LookupResult, bool) {
			calls++
			return models.NoRoute("A", "B"), true
		}

		c.GetOrCompute("A", "B", compute)
		c.GetOrCompute("B", "A", compute)
		c.GetOrCompute(string([]byte{'A'}), "B", compute)

		assert.Equal(t, 2, calls)
	})

	t.Run("no-route results are cached too", func(t *testing.T) {
		t.Parallel()
		c, err := cache.New(10)
		require.NoError(t, err)
		calls := 0
		compute := func() (models.LookupResult, bool) {
			calls++
			return models.NoRoute("A", "B"), true
		}

		c.GetOrCompute("A", "B", compute)
		res, ok := c.GetOrCompute("A", "B", compute)

		assert.True(t, ok)
		assert.Equal(t, 1, calls)
		assert.False(t, res.HasRoute())
	})

	t.Run("aborted results are not cached", func(t *testing.T) {
		t.Parallel()
		c, err := cache.New(10)
		require.NoError(t, err)
		calls := 0
		aborted := func() (models.LookupResult, bool) {
			calls++
			return models.NoRoute("A", "B"), false
		}

		res, ok := c.GetOrCompute("A", "B", aborted)
		require.False(t, ok)
		assert.False(t, res.HasRoute())
		assert.Equal(t, 0, c.Len())

		res, ok = c.GetOrCompute("A", "B", func() (models.LookupResult, bool) {
			calls++
			return models.NewLookupResult("A", "B", 1000, 60), true
		})

		require.True(t, ok)
		assert.True(t, res.HasRoute())
		assert.Equal(t, 2, calls)
		assert.Equal(t, 1, c.Len())
	})
}

func TestGetOrComputeConcurrentSameKey(t *testing.T) {
	t.Parallel()
	const callers = 50
	c, err := cache.New(10)
	require.NoError(t, err)

	var (
		counter atomic.Int32
		start   = make(chan struct{})
		wg      sync.WaitGroup
		results = make([]models.LookupResult, callers)
	)
	compute := func() (models.LookupResult, bool) {
		counter.Add(1)
		time.Sleep(20 * time.Millisecond)
		return models.NewLookupResult("Matão", "Araraquara", 30500, 1500), true
	}

	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			results[i], _ = c.GetOrCompute("Matão", "Araraquara", compute)
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), counter.Load())
	for _, res := range results {
		require.True(t, res.HasRoute())
		assert.InDelta(t, 30.5, res.Travel.DistanceKm, 1e-9)
	}
}

func TestEviction(t *testing.T) {
	t.Parallel()
	m := metrics.NewMetrics(prometheus.NewRegistry())
	c, err := cache.New(2, cache.WithMetrics(m))
	require.NoError(t, err)

	calls := map[string]int{}
	compute := func(origin string) cache.ComputeFunc {
		return func() (models.LookupResult, bool) {
			calls[origin]++
			return models.NoRoute(origin, "Z"), true
		}
	}

	c.GetOrCompute("A", "Z", compute("A"))
	c.GetOrCompute("B", "Z", compute("B"))
	// touch A so B becomes least recently used
	c.GetOrCompute("A", "Z", compute("A"))
	c.GetOrCompute("C", "Z", compute("C"))

	assert.Equal(t, 2, c.Len())
	c.GetOrCompute("A", "Z", compute("A"))
	c.GetOrCompute("B", "Z", compute("B"))

	assert.Equal(t, 1, calls["A"])
	assert.Equal(t, 2, calls["B"])
	assert.Equal(t, 1, calls["C"])
	assert.InDelta(t, 2.0, testutil.ToFloat64(m.CacheEvictions), 0)
	assert.InDelta(t, 2.0, testutil.ToFloat64(m.CacheRequests.WithLabelValues("hit")), 0)
	assert.InDelta(t, 4.0, testutil.ToFloat64(m.CacheRequests.WithLabelValues("miss")), 0)
}

func TestForgetNoRoute(t *testing.T) {
	t.Parallel()
	m := metrics.NewMetrics(prometheus.NewRegistry())
	c, err := cache.New(10, cache.WithMetrics(m))
	require.NoError(t, err)
	calls := map[string]int{}
	compute := func(res models.LookupResult) cache.ComputeFunc {
		return func() (models.LookupResult, bool) {
			calls[res.Origin]++
			return res, true
		}
	}

	c.GetOrCompute("A", "Z", compute(models.NoRoute("A", "Z")))
	c.GetOrCompute("B", "Z", compute(models.NewLookupResult("B", "Z", 1000, 60)))
	c.ForgetNoRoute("A", "Z")
	c.ForgetNoRoute("B", "Z")
	c.ForgetNoRoute("missing", "Z")
	c.GetOrCompute("A", "Z", compute(models.NoRoute("A", "Z")))
	c.GetOrCompute("B", "Z", compute(models.NewLookupResult("B", "Z", 1000, 60)))

	assert.Equal(t, 2, calls["A"])
	assert.Equal(t, 1, calls["B"])
	// dropping an entry is not an eviction
	assert.InDelta(t, 0.0, testutil.ToFloat64(m.CacheEvictions), 0)
}

func TestGetOrComputeAbortedFlight(t *testing.T) {
	t.Parallel()
	c, err := cache.New(10)
	require.NoError(t, err)

	entered := make(chan struct{})
	release := make(chan struct{})
	owner := make(chan bool, 1)
	go func() {
		_, ok := c.GetOrCompute("A", "B", func() (models.LookupResult, bool) {
			close(entered)
			<-release
			return models.NoRoute("A", "B"), false
		})
		owner <- ok
	}()
	<-entered

	waiter := make(chan bool, 1)
	go func() {
		_, ok := c.GetOrCompute("A", "B", func() (models.LookupResult, bool) {
			return models.NewLookupResult("A", "B", 1000, 60), true
		})
		waiter <- ok
	}()
	// give the waiter time to join the flight before it ends
	time.Sleep(20 * time.Millisecond)
	close(release)

	assert.False(t, <-owner)
	assert.False(t, <-waiter)
	assert.Equal(t, 0, c.Len())

	res, ok := c.GetOrCompute("A", "B", func() (models.LookupResult, bool) {
		return models.NewLookupResult("A", "B", 1000, 60), true
	})
	require.True(t, ok)
	assert.True(t, res.HasRoute())
}

func TestCacheMetricsConcurrentMiss(t *testing.T) {
	t.Parallel()
	const callers = 20
	m := metrics.NewMetrics(prometheus.NewRegistry())
	c, err := cache.New(10, cache.WithMetrics(m))
	require.NoError(t, err)

	var (
		start = make(chan struct{})
		wg    sync.WaitGroup
	)
	compute := func() (models.LookupResult, bool) {
		time.Sleep(20 * time.Millisecond)
		return models.NewLookupResult("A", "B", 1000, 60), true
	}
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			c.GetOrCompute("A", "B", compute)
		}()
	}
	close(start)
	wg.Wait()

	// only the caller that ran compute counts as a miss
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.CacheRequests.WithLabelValues("miss")), 0)
	assert.InDelta(t, float64(callers-1), testutil.ToFloat64(m.CacheRequests.WithLabelValues("hit")), 0)
}
