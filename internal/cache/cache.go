// Package cache memoizes lookup results for the lifetime of a process.
package cache

import (
	"errors"
	"fmt"

	"github.com/UnknownOlympus/odometer/internal/metrics"
	"github.com/UnknownOlympus/odometer/internal/models"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// DefaultCapacity is the number of distinct pairs kept before eviction starts.
const DefaultCapacity = 1000

// ErrInvalidCapacity is returned for a capacity below one.
var ErrInvalidCapacity = errors.New("cache capacity must be positive")

// Key identifies a cached result.
type Key struct {
	Origin      string
	Destination string
}

// ResultCache is a bounded LRU of lookup results. Concurrent misses for the same
// key share one computation; compute is never called for a key that is cached.
// It is safe for concurrent use.
type ResultCache struct {
	entries *lru.Cache[Key, models.LookupResult]
	flights singleflight.Group
	metrics *metrics.Metrics
}

// Option configures a ResultCache.
type Option func(*ResultCache)

// WithMetrics records hits, misses and evictions.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *ResultCache) { c.metrics = m }
}

// New creates a cache holding at most capacity results.
func New(capacity int, opts ...Option) (*ResultCache, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCapacity, capacity)
	}

	c := &ResultCache{}
	for _, opt := range opts {
		opt(c)
	}

	entries, err := lru.New[Key, models.LookupResult](capacity)
	if err != nil {
		return nil, fmt.Errorf("failed to create lru: %w", err)
	}
	c.entries = entries

	return c, nil
}

// ComputeFunc produces the result for a missing key. It reports false when the
// result was cut short, for example by a cancelled context, and must not be kept.
type ComputeFunc func() (models.LookupResult, bool)

type flight struct {
	res models.LookupResult
	ok  bool
}

// GetOrCompute returns the cached result for (origin, destination), or runs compute
// and caches its result. Callers racing on the same uncached key wait for the
// single in-flight computation and receive its result.
//
// The boolean is false when the returned result came from an aborted computation.
// Such results are never stored; a waiter that receives one may call again.
func (c *ResultCache) GetOrCompute(origin, destination string, compute ComputeFunc) (models.LookupResult, bool) {
	key := Key{Origin: origin, Destination: destination}
	if res, ok := c.entries.Get(key); ok {
		c.metrics.ObserveCache(true)
		return res, true
	}

	owner := false
	val, _, _ := c.flights.Do(flightKey(key), func() (any, error) {
		owner = true
		// a previous flight may have stored the key after our lookup
		if res, ok := c.entries.Get(key); ok {
			c.metrics.ObserveCache(true)
			return flight{res: res, ok: true}, nil
		}
		c.metrics.ObserveCache(false)
		res, ok := compute()
		if ok && c.entries.Add(key, res) {
			c.metrics.ObserveEviction()
		}
		return flight{res: res, ok: ok}, nil
	})

	f := val.(flight)
	if !owner && f.ok {
		c.metrics.ObserveCache(true)
	}
	return f.res, f.ok
}

// ForgetNoRoute removes the cached result for the pair only when it has no route.
func (c *ResultCache) ForgetNoRoute(origin, destination string) {
	key := Key{Origin: origin, Destination: destination}
	if res, ok := c.entries.Peek(key); ok && !res.HasRoute() {
		c.entries.Remove(key)
	}
}

// Len returns the number of cached results.
func (c *ResultCache) Len() int {
	return c.entries.Len()
}

func flightKey(k Key) string {
	return k.Origin + "\x00" + k.Destination
}
