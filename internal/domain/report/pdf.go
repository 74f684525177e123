package report

import (
	"fmt"
	"io"

	"github.com/jung-kurt/gofpdf"
)

// WritePDF renders the report for operators who need a file to attach
// to a compliance review.
func WritePDF(rep ComplianceReport, w io.Writer) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 16)
	pdf.Cell(40, 10, "Data Lifecycle Compliance Report")
	pdf.Ln(12)
	pdf.SetFont("Helvetica", "", 12)
	pdf.Cell(0, 8, fmt.Sprintf("Period: %s to %s",
		rep.PeriodStart.Format("2006-01-02"), rep.PeriodEnd.Format("2006-01-02")))
	pdf.Ln(7)
	pdf.Cell(0, 8, fmt.Sprintf("Generated: %s", rep.GeneratedAt.Format("2006-01-02 15:04 MST")))
	pdf.Ln(10)

	m := rep.Metrics
	pdf.SetFont("Helvetica", "B", 13)
	pdf.Cell(0, 8, "Totals")
	pdf.Ln(8)
	pdf.SetFont("Helvetica", "", 12)
	pdf.Cell(0, 8, fmt.Sprintf("Jobs: %d total, %d completed, %d failed, %d cancelled",
		m.TotalJobs, m.CompletedJobs, m.FailedJobs, m.CancelledJobs))
	pdf.Ln(7)
	pdf.Cell(0, 8, fmt.Sprintf("Records: %d purged, %d archived, %d failed",
		m.RecordsPurged, m.RecordsArchived, m.RecordsFailed))
	pdf.Ln(7)
	pdf.Cell(0, 8, fmt.Sprintf("Storage freed: %d bytes", m.StorageBytesFreed))
	pdf.Ln(7)
	pdf.Cell(0, 8, fmt.Sprintf("Legal hold rejections: %d", m.HoldRejections))
	pdf.Ln(10)

	if len(m.Categories) > 0 {
		pdf.SetFont("Helvetica", "B", 13)
		pdf.Cell(0, 8, "Per category")
		pdf.Ln(8)
		pdf.SetFont("Helvetica", "", 11)
		for _, c := range m.Categories {
			pdf.Cell(0, 7, fmt.Sprintf("%s: %d purged, %d archived, %d failed, %d held, %d completed runs",
				c.Category, c.RecordsPurged, c.RecordsArchived, c.RecordsFailed, c.HoldRejections, c.JobsCompleted))
			pdf.Ln(6)
		}
		pdf.Ln(4)
	}

	pdf.SetFont("Helvetica", "B", 13)
	pdf.Cell(0, 8, "Violations")
	pdf.Ln(8)
	pdf.SetFont("Helvetica", "", 11)
	if len(rep.Violations) == 0 {
		pdf.Cell(0, 7, "None")
		pdf.Ln(6)
	}
	for _, v := range rep.Violations {
		pdf.Cell(0, 7, fmt.Sprintf("[%s] %s", v.Kind, v.Detail))
		pdf.Ln(6)
	}
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "B", 13)
	pdf.Cell(0, 8, "Recommendations")
	pdf.Ln(8)
	pdf.SetFont("Helvetica", "", 11)
	if len(rep.Recommendations) == 0 {
		pdf.Cell(0, 7, "None")
		pdf.Ln(6)
	}
	for _, rec := range rep.Recommendations {
		pdf.Cell(0, 7, rec)
		pdf.Ln(6)
	}

	return pdf.Output(w)
}
