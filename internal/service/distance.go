package service

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/UnknownOlympus/odometer/internal/cache"
	"github.com/UnknownOlympus/odometer/internal/metrics"
	"github.com/UnknownOlympus/odometer/internal/models"
	"github.com/google/uuid"
)

// ErrEmptyDestination is returned when ResolveAll is called without a destination.
var ErrEmptyDestination = errors.New("destination must not be empty")

// Cache memoises lookup results per origin and destination pair. GetOrCompute
// reports false for a result whose computation was aborted and not stored.
type Cache interface {
	GetOrCompute(origin, destination string, compute cache.ComputeFunc) (models.LookupResult, bool)
	ForgetNoRoute(origin, destination string)
}

// Limiter paces calls to the routing provider.
type Limiter interface {
	Acquire(ctx context.Context) error
}

// Lookup resolves a single pair, retrying provider failures. It never fails.
type Lookup interface {
	LookupWithRetry(ctx context.Context, origin, destination string) models.LookupResult
}

// DistanceService resolves distances from many origins to one destination
// with a bounded pool of workers sharing one cache and one rate limiter.
type DistanceService struct {
	log        *slog.Logger     // Logger for service activities
	cache      Cache            // Shared result cache
	limiter    Limiter          // Shared rate limiter for provider calls
	lookup     Lookup           // Retrying provider lookup
	metrics    *metrics.Metrics // Metrics for tracking worker activity
	numWorkers int              // Fixed pool size, zero means derived from GOMAXPROCS
}

// job is one origin together with its position in the input.
type job struct {
	idx    int
	origin string
}

// NewDistanceService creates a DistanceService. Every collaborator is required.
// A non-positive numWorkers sizes the pool from the number of usable CPUs.
func NewDistanceService(
	log *slog.Logger,
	results Cache,
	limiter Limiter,
	lookup Lookup,
	metrics *metrics.Metrics,
	numWorkers int,
) (*DistanceService, error) {
	switch {
	case log == nil:
		return nil, errors.New("distance service: logger is required")
	case results == nil:
		return nil, errors.New("distance service: cache is required")
	case limiter == nil:
		return nil, errors.New("distance service: rate limiter is required")
	case lookup == nil:
		return nil, errors.New("distance service: lookup is required")
	case metrics == nil:
		return nil, errors.New("distance service: metrics are required")
	}

	return &DistanceService{
		log:        log,
		cache:      results,
		limiter:    limiter,
		lookup:     lookup,
		metrics:    metrics,
		numWorkers: numWorkers,
	}, nil
}

// ResolveAll looks up the route from every origin to destination and returns one row
// per origin in input order. Origins equal to the destination are skipped.
// Per-origin failures become rows without travel data; ResolveAll itself only fails
// on an empty destination.
func (ds *DistanceService) ResolveAll(ctx context.Context, origins []string, destination string) (*models.Report, error) {
	if destination == "" {
		return nil, ErrEmptyDestination
	}

	report := &models.Report{
		RunID:       uuid.New(),
		Destination: destination,
		StartedAt:   time.Now(),
	}
	log := ds.log.With("run_id", report.RunID.String(), "destination", destination)

	pending := make([]string, 0, len(origins))
	for _, origin := range origins {
		if origin == destination {
			log.DebugContext(ctx, "Skipping origin equal to destination", "origin", origin)
			continue
		}
		pending = append(pending, origin)
	}

	report.Rows = make([]models.LookupResult, len(pending))
	if len(pending) == 0 {
		log.InfoContext(ctx, "No origins to resolve.")
		report.FinishedAt = time.Now()
		return report, nil
	}

	numWorkers := ds.poolSize(len(pending))
	log.InfoContext(ctx, "Starting worker pool.", "jobs", len(pending), "num_workers", numWorkers)

	jobs := make(chan job, len(pending))
	var wgr sync.WaitGroup

	for i := 1; i <= numWorkers; i++ {
		wgr.Add(1)
		go ds.worker(ctx, log, i, &wgr, jobs, destination, report.Rows)
	}

	for idx, origin := range pending {
		jobs <- job{idx: idx, origin: origin}
	}
	close(jobs)

	wgr.Wait()
	report.FinishedAt = time.Now()
	ds.forgetUnresolved(report)

	if err := ctx.Err(); err != nil {
		log.WarnContext(ctx, "Run interrupted, unresolved origins reported without route", "error", err)
	}
	log.InfoContext(ctx, "Run finished",
		"resolved", report.Resolved(),
		"unresolved", report.Unresolved(),
		"took", report.FinishedAt.Sub(report.StartedAt).String(),
	)

	return report, nil
}

func (ds *DistanceService) poolSize(jobs int) int {
	size := ds.numWorkers
	if size <= 0 {
		size = 2 * runtime.GOMAXPROCS(0)
	}
	return min(jobs, size)
}

// forgetUnresolved drops the run's rows without a route from the cache, so a
// later run asks the provider again instead of reusing an exhausted fallback.
func (ds *DistanceService) forgetUnresolved(report *models.Report) {
	for _, row := range report.Rows {
		if !row.HasRoute() {
			ds.cache.ForgetNoRoute(row.Origin, report.Destination)
		}
	}
}

// worker resolves jobs until the channel is drained. Each result is written to its own
// slot of rows, so workers never share an index.
func (ds *DistanceService) worker(
	ctx context.Context,
	log *slog.Logger,
	idx int,
	wg *sync.WaitGroup,
	jobs <-chan job,
	destination string,
	rows []models.LookupResult,
) {
	defer wg.Done()
	ds.metrics.WorkerStarted()
	defer ds.metrics.WorkerDone()

	for j := range jobs {
		if ctx.Err() != nil {
			log.WarnContext(ctx, "Run cancelled, origin not resolved", "worker", idx, "origin", j.origin)
			rows[j.idx] = models.NoRoute(j.origin, destination)
			continue
		}

		log.DebugContext(ctx, "Resolving origin", "worker", idx, "origin", j.origin)
		rows[j.idx] = ds.resolve(ctx, log, idx, j.origin, destination)
		log.DebugContext(ctx, "Worker resolved origin", "worker", idx, "origin", j.origin, "route", rows[j.idx].HasRoute())
	}
}

// resolve returns the cached or freshly computed result for one pair. When this
// caller joined a computation that another run aborted, it tries again under its
// own context.
func (ds *DistanceService) resolve(ctx context.Context, log *slog.Logger, idx int, origin, destination string) models.LookupResult {
	for {
		ran := false
		res, ok := ds.cache.GetOrCompute(origin, destination, func() (models.LookupResult, bool) {
			ran = true
			if err := ds.limiter.Acquire(ctx); err != nil {
				log.WarnContext(ctx, "Rate limiter aborted lookup", "worker", idx, "origin", origin, "error", err)
				return models.NoRoute(origin, destination), false
			}
			res := ds.lookup.LookupWithRetry(ctx, origin, destination)
			// a fallback computed under a cancelled context says nothing about the route
			return res, res.HasRoute() || ctx.Err() == nil
		})
		if ok || ran || ctx.Err() != nil {
			return res
		}
		log.DebugContext(ctx, "Shared lookup was aborted, retrying", "worker", idx, "origin", origin)
	}
}
