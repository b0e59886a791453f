// Package spreadsheet reads origin lists from and writes reports to XLSX workbooks.
package spreadsheet

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

const (
	// DefaultGroupColumn is the header of the column that assigns places to regions.
	DefaultGroupColumn = "Região Geográfica Intermediária"
	// DefaultPlaceColumn is the header of the column holding place names.
	DefaultPlaceColumn = "MUNICIPIO COM ACENTO"
)

var (
	// ErrColumnNotFound is returned when a header is missing from the sheet.
	ErrColumnNotFound = errors.New("column not found")
	// ErrNoSheets is returned for a workbook without worksheets.
	ErrNoSheets = errors.New("workbook has no sheets")
)

// Selection tells the loader where the origins are and which ones to keep.
type Selection struct {
	Sheet       string // Sheet to read, the first one when empty
	GroupColumn string // Header of the group column
	PlaceColumn string // Header of the place column
	Group       string // Only places whose group cell equals Group are returned
}

func (s Selection) withDefaults() Selection {
	if s.GroupColumn == "" {
		s.GroupColumn = DefaultGroupColumn
	}
	if s.PlaceColumn == "" {
		s.PlaceColumn = DefaultPlaceColumn
	}
	return s
}

// LoadOrigins opens the workbook at path and returns the selected place names in file order.
func LoadOrigins(path string, sel Selection) ([]string, error) {
	book, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook %s: %w", path, err)
	}
	defer book.Close()

	return readOrigins(book, sel)
}

// ReadOrigins is LoadOrigins for a workbook held in memory or received over the network.
func ReadOrigins(r io.Reader, sel Selection) ([]string, error) {
	book, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read workbook: %w", err)
	}
	defer book.Close()

	return readOrigins(book, sel)
}

func readOrigins(book *excelize.File, sel Selection) ([]string, error) {
	sel = sel.withDefaults()

	sheet := sel.Sheet
	if sheet == "" {
		sheets := book.GetSheetList()
		if len(sheets) == 0 {
			return nil, ErrNoSheets
		}
		sheet = sheets[0]
	}

	rows, err := book.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheet, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: sheet %q is empty", ErrColumnNotFound, sheet)
	}

	groupIdx, err := columnIndex(rows[0], sel.GroupColumn)
	if err != nil {
		return nil, err
	}
	placeIdx, err := columnIndex(rows[0], sel.PlaceColumn)
	if err != nil {
		return nil, err
	}

	group := strings.TrimSpace(sel.Group)
	origins := make([]string, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if cell(row, groupIdx) != group {
			continue
		}
		if place := cell(row, placeIdx); place != "" {
			origins = append(origins, place)
		}
	}

	return origins, nil
}

func columnIndex(header []string, name string) (int, error) {
	for i, h := range header {
		if strings.TrimSpace(h) == name {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: %q", ErrColumnNotFound, name)
}

// cell returns the trimmed value at idx; GetRows trims trailing empty cells.
func cell(row []string, idx int) string {
	if idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}
