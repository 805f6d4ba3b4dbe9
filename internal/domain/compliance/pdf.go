package compliance

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
)

// RenderPDF lays the report rows out as a one-page summary table.
func RenderPDF(reports []Report, generatedAt time.Time) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 16)
	pdf.Cell(40, 10, "Compliance Report")
	pdf.Ln(8)
	pdf.SetFont("Helvetica", "", 10)
	pdf.Cell(0, 8, fmt.Sprintf("Generated: %s", generatedAt.UTC().Format("2006-01-02 15:04 MST")))
	pdf.Ln(12)

	pdf.SetFont("Helvetica", "B", 11)
	pdf.CellFormat(70, 8, "Check", "1", 0, "L", false, 0, "")
	pdf.CellFormat(40, 8, "Status", "1", 0, "L", false, 0, "")
	pdf.CellFormat(25, 8, "Count", "1", 1, "R", false, 0, "")

	pdf.SetFont("Helvetica", "", 11)
	for _, report := range reports {
		pdf.CellFormat(70, 8, report.Name, "1", 0, "L", false, 0, "")
		pdf.CellFormat(40, 8, string(report.Status), "1", 0, "L", false, 0, "")
		pdf.CellFormat(25, 8, fmt.Sprintf("%d", report.Count), "1", 1, "R", false, 0, "")
	}

	pdf.Ln(6)
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, "Recommendations")
	pdf.Ln(8)
	pdf.SetFont("Helvetica", "", 10)
	any := false
	for _, report := range reports {
		if report.Recommendation == "" {
			continue
		}
		any = true
		pdf.MultiCell(0, 6, fmt.Sprintf("%s: %s", report.Name, report.Recommendation), "", "L", false)
		pdf.Ln(2)
	}
	if !any {
		pdf.Cell(0, 6, "No action required.")
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
