package reports

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
)

// Metric is an ordered label/count pair. Slices instead of maps keep the
// rendered document stable across runs.
type Metric struct {
	Label string
	Count int
}

type pdfDoc struct {
	pdf *gofpdf.Fpdf
}

func newPDFDoc(title string) *pdfDoc {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 15, 15)
	pdf.SetAutoPageBreak(true, 20)
	pdf.SetFooterFunc(func() {
		pdf.SetY(-15)
		pdf.SetFont("Arial", "I", 8)
		pdf.SetTextColor(128, 128, 128)
		pdf.CellFormat(0, 10, fmt.Sprintf("Page %d", pdf.PageNo()), "", 0, "C", false, 0, "")
	})
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 18)
	pdf.SetTextColor(20, 24, 31)
	pdf.CellFormat(0, 12, title, "", 1, "L", false, 0, "")

	pdf.SetDrawColor(13, 110, 253)
	pdf.SetLineWidth(0.8)
	y := pdf.GetY()
	pdf.Line(15, y, 195, y)
	pdf.Ln(3)

	pdf.SetFont("Arial", "", 9)
	pdf.SetTextColor(108, 117, 125)
	pdf.CellFormat(0, 6, "Generated "+time.Now().Format("2006-01-02 15:04 MST"), "", 1, "L", false, 0, "")
	pdf.Ln(6)

	return &pdfDoc{pdf: pdf}
}

func (d *pdfDoc) section(title string) {
	d.pdf.SetFont("Arial", "B", 13)
	d.pdf.SetTextColor(20, 24, 31)
	d.pdf.CellFormat(0, 9, title, "B", 1, "L", false, 0, "")
	d.pdf.Ln(3)
}

func (d *pdfDoc) paragraph(text string) {
	d.pdf.SetFont("Arial", "", 10)
	d.pdf.SetTextColor(33, 37, 41)
	d.pdf.MultiCell(0, 5.5, text, "", "L", false)
	d.pdf.Ln(4)
}

// keyValues renders metrics as aligned label/value rows in input order.
func (d *pdfDoc) keyValues(metrics []Metric) {
	for _, m := range metrics {
		d.pdf.SetFont("Arial", "", 10)
		d.pdf.SetTextColor(108, 117, 125)
		d.pdf.CellFormat(55, 6.5, m.Label, "", 0, "L", false, 0, "")
		d.pdf.SetFont("Arial", "B", 10)
		d.pdf.SetTextColor(20, 24, 31)
		d.pdf.CellFormat(0, 6.5, fmt.Sprintf("%d", m.Count), "", 1, "L", false, 0, "")
	}
	d.pdf.Ln(4)
}

// bars renders a horizontal bar per metric, colored by tierColorRGB.
func (d *pdfDoc) bars(metrics []Metric) {
	max := 1
	for _, m := range metrics {
		if m.Count > max {
			max = m.Count
		}
	}

	for _, m := range metrics {
		d.pdf.SetFont("Arial", "", 9)
		d.pdf.SetTextColor(108, 117, 125)
		d.pdf.CellFormat(35, 6, m.Label, "", 0, "L", false, 0, "")

		r, g, b := tierColorRGB(m.Label)
		d.pdf.SetFillColor(r, g, b)
		width := float64(m.Count) / float64(max) * 105.0
		if width < 1 {
			width = 1
		}
		d.pdf.CellFormat(width, 6, "", "", 0, "L", true, 0, "")

		d.pdf.SetTextColor(20, 24, 31)
		d.pdf.CellFormat(0, 6, fmt.Sprintf("  %d", m.Count), "", 1, "L", false, 0, "")
	}
	d.pdf.Ln(4)
}

func tierColorRGB(label string) (int, int, int) {
	switch label {
	case "High", "HIGH":
		return 220, 53, 69
	case "Medium", "MEDIUM":
		return 255, 193, 7
	case "Low", "LOW":
		return 25, 135, 84
	default:
		return 13, 110, 253
	}
}

// table renders rows under a dark header. widths are per-column in mm and
// must sum to at most 180; a zero width splits the remainder evenly.
func (d *pdfDoc) table(headers []string, widths []float64, rows [][]string) {
	const pageWidth = 180.0

	used := 0.0
	unsized := 0
	for _, w := range widths {
		if w == 0 {
			unsized++
		}
		used += w
	}
	if unsized > 0 {
		fill := (pageWidth - used) / float64(unsized)
		for i, w := range widths {
			if w == 0 {
				widths[i] = fill
			}
		}
	}

	d.pdf.SetFont("Arial", "B", 8.5)
	d.pdf.SetFillColor(33, 37, 41)
	d.pdf.SetTextColor(255, 255, 255)
	for i, h := range headers {
		d.pdf.CellFormat(widths[i], 7.5, h, "1", 0, "L", true, 0, "")
	}
	d.pdf.Ln(-1)

	d.pdf.SetFont("Arial", "", 8.5)
	d.pdf.SetTextColor(33, 37, 41)
	for n, row := range rows {
		if n%2 == 1 {
			d.pdf.SetFillColor(245, 246, 248)
		} else {
			d.pdf.SetFillColor(255, 255, 255)
		}
		for i, cell := range row {
			d.pdf.CellFormat(widths[i], 6.5, cell, "1", 0, "L", true, 0, "")
		}
		d.pdf.Ln(-1)
	}
	d.pdf.Ln(4)
}

func (d *pdfDoc) output() ([]byte, error) {
	var buf bytes.Buffer
	if err := d.pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to generate PDF: %w", err)
	}
	return buf.Bytes(), nil
}
