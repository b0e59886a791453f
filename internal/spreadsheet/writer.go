package spreadsheet

import (
	"context"
	"fmt"

	"github.com/UnknownOlympus/odometer/internal/models"
	"github.com/xuri/excelize/v2"
)

// SheetName is the name of the worksheet holding the report.
const SheetName = "Distances"

// XLSXWriter saves reports as a single-sheet workbook.
type XLSXWriter struct {
	path string
}

// NewXLSXWriter creates a writer saving to path.
func NewXLSXWriter(path string) *XLSXWriter {
	return &XLSXWriter{path: path}
}

// Path returns the destination file.
func (w *XLSXWriter) Path() string {
	return w.path
}

// Write stores the report with a header row followed by one row per result.
// Missing distance and durations are left as empty cells.
func (w *XLSXWriter) Write(ctx context.Context, report *models.Report) error {
	book := excelize.NewFile()
	defer book.Close()

	defaultSheet := book.GetSheetName(0)
	if err := book.SetSheetName(defaultSheet, SheetName); err != nil {
		return fmt.Errorf("failed to rename sheet: %w", err)
	}

	stream, err := book.NewStreamWriter(SheetName)
	if err != nil {
		return fmt.Errorf("failed to create stream writer: %w", err)
	}

	header := make([]any, len(models.Columns))
	for i, name := range models.Columns {
		header[i] = name
	}
	if err = stream.SetRow("A1", header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for i, row := range report.Rows {
		if err = ctx.Err(); err != nil {
			return err
		}
		axis, cellErr := excelize.CoordinatesToCellName(1, i+2)
		if cellErr != nil {
			return fmt.Errorf("failed to address row %d: %w", i+2, cellErr)
		}
		if err = stream.SetRow(axis, rowValues(row)); err != nil {
			return fmt.Errorf("failed to write row for %s: %w", row.Origin, err)
		}
	}

	if err = stream.Flush(); err != nil {
		return fmt.Errorf("failed to flush sheet: %w", err)
	}
	if err = book.SaveAs(w.path); err != nil {
		return fmt.Errorf("failed to save workbook %s: %w", w.path, err)
	}

	return nil
}

func rowValues(row models.LookupResult) []any {
	values := []any{row.Origin, row.Destination, nil, nil, nil}
	if row.HasRoute() {
		values[2] = row.Travel.DistanceKm
		values[3] = row.Travel.DurationHours
		values[4] = row.Travel.DurationMinutes
	}
	return values
}
