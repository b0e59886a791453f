// Package server exposes health, metrics and distance lookups over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/UnknownOlympus/odometer/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	readTimeout     = 5 * time.Second
	writeTimeout    = 10 * time.Minute // a synchronous resolve of a large region takes minutes
	shutdownTimeout = 10 * time.Second
	maxUploadBytes  = 32 << 20
)

// Resolver computes a distance report.
type Resolver interface {
	ResolveAll(ctx context.Context, origins []string, destination string) (*models.Report, error)
}

// ReportStore keeps reports resolved over HTTP and returns them by run id.
type ReportStore interface {
	SaveReport(ctx context.Context, report *models.Report) error
	FetchReport(ctx context.Context, runID uuid.UUID) (*models.Report, error)
}

// Pinger checks a dependency for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the HTTP surface of the service.
type Server struct {
	log      *slog.Logger
	router   *gin.Engine
	resolver Resolver
	reports  ReportStore
	pinger   Pinger
	notFound error
}

// Option configures a Server.
type Option func(*Server)

// WithReportStore saves every resolved report and enables GET /v1/reports/:id.
// notFound is the error the store returns for unknown ids.
func WithReportStore(store ReportStore, notFound error) Option {
	return func(s *Server) {
		s.reports = store
		s.notFound = notFound
	}
}

// WithPinger makes /healthz fail when p is unreachable.
func WithPinger(p Pinger) Option {
	return func(s *Server) { s.pinger = p }
}

// New builds the router. Metrics are served from gatherer.
func New(log *slog.Logger, gatherer prometheus.Gatherer, resolver Resolver, opts ...Option) *Server {
	s := &Server{log: log, resolver: resolver}
	for _, opt := range opts {
		opt(s)
	}

	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())

	router.GET("/healthz", s.health)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	v1 := router.Group("/v1")
	v1.GET("/distances", s.distances)
	v1.POST("/distances/upload", s.upload)
	v1.GET("/reports/:id", s.storedReport)

	s.router = router
	return s
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on port until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.router,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.log.InfoContext(ctx, "Starting HTTP server", "port", port)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down http server: %w", err)
	}
	s.log.InfoContext(ctx, "HTTP server stopped")
	return nil
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.DebugContext(c.Request.Context(), "HTTP request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"took", time.Since(start).String(),
		)
	}
}
