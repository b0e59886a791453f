package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/UnknownOlympus/odometer/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const createRunsTable = `
	CREATE TABLE IF NOT EXISTS distance_runs (
		run_id      UUID PRIMARY KEY,
		group_name  TEXT NOT NULL,
		destination TEXT NOT NULL,
		started_at  TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ NOT NULL
	);
`

const createResultsTable = `
	CREATE TABLE IF NOT EXISTS distance_results (
		run_id           UUID NOT NULL REFERENCES distance_runs (run_id) ON DELETE CASCADE,
		position         INTEGER NOT NULL,
		origin           TEXT NOT NULL,
		destination      TEXT NOT NULL,
		distance_km      DOUBLE PRECISION,
		duration_hours   DOUBLE PRECISION,
		duration_minutes DOUBLE PRECISION,
		PRIMARY KEY (run_id, position)
	);
`

// ResultColumns are the columns filled by SaveReport, in copy order.
var ResultColumns = []string{
	"run_id", "position", "origin", "destination", "distance_km", "duration_hours", "duration_minutes",
}

// EnsureSchema creates the report tables if they do not exist yet.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	for _, stmt := range []string{createRunsTable, createResultsTable} {
		if _, err := r.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// SaveReport stores the run and all of its rows in one transaction.
func (r *Repository) SaveReport(ctx context.Context, report *models.Report) error {
	query := `
		INSERT INTO distance_runs (run_id, group_name, destination, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5);
	`

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if _, err = tx.Exec(ctx, query,
		report.RunID, report.Group, report.Destination, report.StartedAt, report.FinishedAt,
	); err != nil {
		r.rollback(ctx, tx)
		return fmt.Errorf("failed to insert run: %w", err)
	}

	rows := report.Rows
	copied, err := tx.CopyFrom(ctx, pgx.Identifier{"distance_results"}, ResultColumns,
		pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
			row := rows[i]
			return []any{
				report.RunID, i, row.Origin, row.Destination,
				row.DistanceKm(), row.DurationHours(), row.DurationMinutes(),
			}, nil
		}),
	)
	if err != nil {
		r.rollback(ctx, tx)
		return fmt.Errorf("failed to copy results: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit report: %w", err)
	}

	r.log.DebugContext(ctx, "Report stored.", "run_id", report.RunID.String(), "rows", copied)
	return nil
}

// Write stores the report, making the repository usable as a report writer.
func (r *Repository) Write(ctx context.Context, report *models.Report) error {
	return r.SaveReport(ctx, report)
}

// FetchReport loads a stored run with its rows in their original order.
func (r *Repository) FetchReport(ctx context.Context, runID uuid.UUID) (*models.Report, error) {
	runQuery := `
		SELECT group_name, destination, started_at, finished_at
		FROM distance_runs
		WHERE run_id = $1;
	`
	resultsQuery := `
		SELECT origin, destination, distance_km, duration_hours, duration_minutes
		FROM distance_results
		WHERE run_id = $1
		ORDER BY position ASC;
	`

	report := &models.Report{RunID: runID}
	err := r.db.QueryRow(ctx, runQuery, runID).
		Scan(&report.Group, &report.Destination, &report.StartedAt, &report.FinishedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrReportNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}

	rows, err := r.db.Query(ctx, resultsQuery, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			origin, destination      string
			distance, hours, minutes *float64
		)
		if errScan := rows.Scan(&origin, &destination, &distance, &hours, &minutes); errScan != nil {
			return nil, fmt.Errorf("failed to scan result: %w", errScan)
		}
		report.Rows = append(report.Rows, toResult(origin, destination, distance, hours, minutes))
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read row: %w", err)
	}

	return report, nil
}

func (r *Repository) rollback(ctx context.Context, tx pgx.Tx) {
	if err := tx.Rollback(ctx); err != nil {
		r.log.ErrorContext(ctx, "Failed to roll back transaction", "error", err)
	}
}

// toResult rebuilds a row; a partially filled triple is treated as absent.
func toResult(origin, destination string, distance, hours, minutes *float64) models.LookupResult {
	if distance == nil || hours == nil || minutes == nil {
		return models.NoRoute(origin, destination)
	}
	return models.LookupResult{
		Origin:      origin,
		Destination: destination,
		Travel: &models.Travel{
			DistanceKm:      *distance,
			DurationHours:   *hours,
			DurationMinutes: *minutes,
		},
	}
}
