package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/UnknownOlympus/odometer/internal/cache"
	"github.com/UnknownOlympus/odometer/internal/config"
	"github.com/UnknownOlympus/odometer/internal/directions"
	"github.com/UnknownOlympus/odometer/internal/metrics"
	"github.com/UnknownOlympus/odometer/internal/ratelimit"
	"github.com/UnknownOlympus/odometer/internal/report"
	"github.com/UnknownOlympus/odometer/internal/repository"
	"github.com/UnknownOlympus/odometer/internal/retry"
	"github.com/UnknownOlympus/odometer/internal/server"
	"github.com/UnknownOlympus/odometer/internal/service"
	"github.com/UnknownOlympus/odometer/internal/spreadsheet"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Constants for different environment types.
const (
	envLocal = "local"
	envDev   = "development"
	envProd  = "production"
)

// main is the entry point of the application.
func main() {
	// Create a context that will be canceled when an interrupt signal is received.
	// This allows for graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load application configuration.
	cfg := config.MustLoad()

	// Set up the logger based on the environment.
	logger := setupLogger(cfg.Env)
	if cfg.Env != envLocal {
		gin.SetMode(gin.ReleaseMode)
	}

	// Create a separate registry for metrics with exemplar
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	appMetrics := metrics.NewMetrics(reg)

	// Create the routing provider using factory pattern based on configuration.
	provider, err := directions.NewProvider(directions.ProviderConfig{
		Type:     directions.ProviderType(cfg.Provider.Type),
		APIKey:   cfg.Provider.APIKey,
		Language: cfg.Provider.Language,
		Region:   cfg.Provider.Region,
		Logger:   logger,
	})
	if err != nil {
		log.Fatalf("Failed to create routing provider: %v", err)
	}
	logger.InfoContext(ctx, "Routing provider initialized", "type", cfg.Provider.Type)

	resultCache, err := cache.New(cfg.CacheSize, cache.WithMetrics(appMetrics))
	if err != nil {
		log.Fatalf("Failed to create result cache: %v", err)
	}

	lookup := retry.New(provider,
		retry.WithMaxAttempts(cfg.MaxAttempts),
		retry.WithDelay(cfg.RetryDelay),
		retry.WithLogger(logger),
		retry.WithMetrics(appMetrics),
		retry.WithProviderName(cfg.Provider.Type),
	)

	distanceService, err := service.NewDistanceService(
		logger,
		resultCache,
		ratelimit.New(cfg.MinInterval, ratelimit.WithMetrics(appMetrics)),
		lookup,
		appMetrics,
		cfg.Workers,
	)
	if err != nil {
		log.Fatalf("Failed to create distance service: %v", err)
	}

	// The report store is optional and only used when a database is configured.
	var repo *repository.Repository
	var serverOpts []server.Option
	if cfg.Database.Enabled() {
		dtb, dbErr := repository.NewDatabase(
			ctx, cfg.Database.Host, cfg.Database.Port, cfg.Database.User, cfg.Database.Password, cfg.Database.Name,
		)
		if dbErr != nil {
			log.Fatalf("Failed to connect to DB: %v", dbErr)
		}
		defer dtb.Close()

		repo = repository.NewRepository(dtb, logger)
		if err = repo.EnsureSchema(ctx); err != nil {
			log.Fatalf("Failed to prepare DB schema: %v", err)
		}
		serverOpts = append(serverOpts,
			server.WithPinger(repo),
			server.WithReportStore(repo, repository.ErrReportNotFound),
		)
	}

	httpServer := server.New(logger, reg, distanceService, serverOpts...)

	// Log that the application has started.
	logger.InfoContext(ctx, "Application started.", "mode", cfg.Mode)

	switch cfg.Mode {
	case config.ModeServe:
		if err = httpServer.Run(ctx, cfg.Port); err != nil {
			logger.ErrorContext(ctx, "HTTP server failed", "error", err)
		}
	case config.ModeBatch:
		// Serve health and metrics while the batch runs.
		if cfg.Port > 0 {
			go func() {
				if srvErr := httpServer.Run(ctx, cfg.Port); srvErr != nil {
					logger.ErrorContext(ctx, "Monitoring server failed", "error", srvErr)
				}
			}()
		}
		if err = runBatch(ctx, logger, cfg, distanceService, repo); err != nil {
			stop()
			log.Fatalf("Batch run failed: %v", err)
		}
	}

	// Log graceful shutdown completion.
	logger.InfoContext(ctx, "Application stopped gracefully.")
}

// runBatch resolves the configured spreadsheet selection and writes every requested report.
// A cancelled run still writes the rows resolved so far.
func runBatch(
	ctx context.Context,
	log *slog.Logger,
	cfg *config.Config,
	svc *service.DistanceService,
	repo *repository.Repository,
) error {
	if cfg.Input.File == "" {
		return errors.New("input file is required in batch mode")
	}

	origins, err := spreadsheet.LoadOrigins(cfg.Input.File, spreadsheet.Selection{
		Sheet:       cfg.Input.Sheet,
		GroupColumn: cfg.Input.GroupColumn,
		PlaceColumn: cfg.Input.PlaceColumn,
		Group:       cfg.Input.Group,
	})
	if err != nil {
		return fmt.Errorf("failed to load origins: %w", err)
	}
	log.InfoContext(ctx, "Origins loaded", "group", cfg.Input.Group, "origins", len(origins))

	runCtx := ctx
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	rep, err := svc.ResolveAll(runCtx, origins, cfg.Input.Destination)
	if err != nil {
		return fmt.Errorf("failed to resolve distances: %w", err)
	}
	rep.Group = cfg.Input.Group

	if err = os.MkdirAll(cfg.Output.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	writers := newWriters(cfg.Output, rep.Group)
	if repo != nil {
		writers = append(writers, repo)
	}
	if err = report.NewMultiWriter(writers...).Write(context.WithoutCancel(ctx), rep); err != nil {
		return fmt.Errorf("failed to write reports: %w", err)
	}

	log.InfoContext(ctx, "Reports written",
		"run_id", rep.RunID.String(),
		"dir", cfg.Output.Dir,
		"formats", cfg.Output.Formats,
		"resolved", rep.Resolved(),
		"unresolved", rep.Unresolved(),
	)
	return nil
}

// newWriters returns one file writer per configured output format.
func newWriters(out config.OutputConfig, group string) []report.Writer {
	writers := make([]report.Writer, 0, len(out.Formats))
	for _, format := range out.Formats {
		path := report.FileName(out.Dir, group, format)
		switch format {
		case config.FormatXLSX:
			writers = append(writers, spreadsheet.NewXLSXWriter(path))
		case config.FormatCSV:
			writers = append(writers, report.NewCSVWriter(path))
		case config.FormatPDF:
			writers = append(writers, report.NewPDFWriter(path))
		}
	}
	return writers
}

// setupLogger initializes and returns a logger based on the environment provided.
func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
				Level:     slog.LevelDebug,
				AddSource: true,
				ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
					return a
				},
			}),
		)
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
				Level:     slog.LevelInfo,
				AddSource: false,
				ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
					return a
				},
			}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
				Level:     slog.LevelWarn,
				AddSource: false,
				ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
					if a.Key == slog.TimeKey {
						return slog.Attr{}
					}
					return a
				},
			}),
		)
	default:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
				Level:     slog.LevelError,
				AddSource: false,
				ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
					if a.Key == slog.TimeKey {
						return slog.Attr{}
					}
					return a
				},
			}),
		)

		log.Error(
			"The env parameter was not specified or was invalid. Logging will be minimal, by default.",
			slog.String("available_envs", "local, development, production"))
	}

	return log
}
