// Package report renders finished runs as files.
package report

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"unicode"

	"github.com/UnknownOlympus/odometer/internal/models"
	"go.uber.org/multierr"
)

// Writer persists a finished report somewhere.
type Writer interface {
	Write(ctx context.Context, report *models.Report) error
}

// MultiWriter hands a report to every writer, even after one of them fails.
type MultiWriter struct {
	writers []Writer
}

// NewMultiWriter combines writers in the given order.
func NewMultiWriter(writers ...Writer) *MultiWriter {
	return &MultiWriter{writers: writers}
}

// Write calls every writer and returns all of their errors combined.
func (mw *MultiWriter) Write(ctx context.Context, report *models.Report) error {
	var err error
	for _, w := range mw.writers {
		if wErr := w.Write(ctx, report); wErr != nil {
			err = multierr.Append(err, fmt.Errorf("%T: %w", w, wErr))
		}
	}
	return err
}

// reportPrefix is the base name shared by every report file.
const reportPrefix = "distancias_e_tempos_"

// FileName builds the report path for a group, e.g. dir/distancias_e_tempos_Araraquara.csv.
// Characters that are unsafe in file names are replaced with underscores.
func FileName(dir, group, ext string) string {
	name := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' {
			return r
		}
		return '_'
	}, strings.TrimSpace(group))
	if name == "" {
		name = "all"
	}
	return filepath.Join(dir, reportPrefix+name+"."+strings.TrimPrefix(ext, "."))
}

// formatValue renders an optional number with two decimals, or nothing when absent.
func formatValue(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', 2, 64)
}

func cells(row models.LookupResult) []string {
	return []string{
		row.Origin,
		row.Destination,
		formatValue(row.DistanceKm()),
		formatValue(row.DurationHours()),
		formatValue(row.DurationMinutes()),
	}
}
