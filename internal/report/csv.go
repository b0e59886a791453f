package report

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"github.com/UnknownOlympus/odometer/internal/models"
)

// CSVWriter saves reports as comma-separated values with a header line.
type CSVWriter struct {
	path string
}

// NewCSVWriter creates a writer saving to path.
func NewCSVWriter(path string) *CSVWriter {
	return &CSVWriter{path: path}
}

// Write stores the report, leaving absent values empty.
func (w *CSVWriter) Write(ctx context.Context, report *models.Report) (err error) {
	file, err := os.Create(w.path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", w.path, err)
	}
	defer func() {
		if cErr := file.Close(); cErr != nil && err == nil {
			err = fmt.Errorf("failed to close %s: %w", w.path, cErr)
		}
	}()

	return WriteCSV(ctx, file, report)
}

// WriteCSV encodes report to out.
func WriteCSV(ctx context.Context, out io.Writer, report *models.Report) error {
	enc := csv.NewWriter(out)
	if err := enc.Write(models.Columns); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for _, row := range report.Rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := enc.Write(cells(row)); err != nil {
			return fmt.Errorf("failed to write row for %s: %w", row.Origin, err)
		}
	}

	enc.Flush()
	if err := enc.Error(); err != nil {
		return fmt.Errorf("failed to flush csv: %w", err)
	}
	return nil
}
