package report

import (
	"context"
	"fmt"
	"time"

	"github.com/UnknownOlympus/odometer/internal/models"
	"github.com/phpdave11/gofpdf"
)

const (
	pdfRowHeight   = 7
	pdfPlaceWidth  = 80
	pdfNumberWidth = 35
)

// PDFWriter saves reports as a printable table on landscape A4 pages.
type PDFWriter struct {
	path string
}

// NewPDFWriter creates a writer saving to path.
func NewPDFWriter(path string) *PDFWriter {
	return &PDFWriter{path: path}
}

// Write renders the report. The title names the destination and the run time.
func (w *PDFWriter) Write(ctx context.Context, report *models.Report) error {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetTitle("Distances to "+report.Destination, true)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	widths := []float64{pdfPlaceWidth, pdfPlaceWidth, pdfNumberWidth, pdfNumberWidth, pdfNumberWidth}
	header := func() {
		pdf.SetFont("Helvetica", "B", 10)
		pdf.SetFillColor(230, 230, 230)
		for i, name := range models.Columns {
			pdf.CellFormat(widths[i], pdfRowHeight, tr(name), "1", 0, "C", true, 0, "")
		}
		pdf.Ln(-1)
		pdf.SetFont("Helvetica", "", 10)
	}

	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 16)
	pdf.Cell(0, 10, tr("Distances to "+report.Destination))
	pdf.Ln(10)

	pdf.SetFont("Helvetica", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Generated %s, %d of %d origins resolved",
		runTime(report).Format("2006-01-02 15:04"), report.Resolved(), len(report.Rows)))
	pdf.Ln(10)

	header()
	_, pageHeight := pdf.GetPageSize()
	_, _, _, bottom := pdf.GetMargins()
	for _, row := range report.Rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		if pdf.GetY()+pdfRowHeight > pageHeight-bottom {
			pdf.AddPage()
			header()
		}
		for i, value := range cells(row) {
			align := "R"
			if i < 2 {
				align = "L"
			}
			pdf.CellFormat(widths[i], pdfRowHeight, tr(value), "1", 0, align, false, 0, "")
		}
		pdf.Ln(-1)
	}

	if err := pdf.OutputFileAndClose(w.path); err != nil {
		return fmt.Errorf("failed to write pdf %s: %w", w.path, err)
	}
	return nil
}

func runTime(report *models.Report) time.Time {
	if !report.FinishedAt.IsZero() {
		return report.FinishedAt
	}
	return report.StartedAt
}
