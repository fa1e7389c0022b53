package output

import (
	"bytes"
	"fmt"

	"github.com/go-pdf/fpdf"

	"github.com/strrl/sensor-chat/internal/health"
)

const (
	pdfMargin    = 15.0
	pdfPageWidth = 210.0
	pdfLineH     = 6.0
)

// RenderPDF lays the report out on A4 pages with the chart panels in the
// same grid as the HTML report.
func RenderPDF(doc *Document) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(pdfMargin, pdfMargin, pdfMargin)
	pdf.SetAutoPageBreak(true, pdfMargin)
	pdf.SetTitle(doc.Title, true)
	pdf.SetCreator("sensor-chat", true)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(0, 10, tr(doc.Title), "", 1, "L", false, 0, "")

	pdf.SetFont("Helvetica", "", 10)
	pdf.CellFormat(0, pdfLineH, tr(fmt.Sprintf("Generado: %s", doc.GeneratedAt.Format("2006-01-02 15:04:05"))), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, pdfLineH, tr(fmt.Sprintf("Ventana: últimas %d h (%s) · Alcance: %s · Lecturas validadas: %d",
		doc.WindowHours, emptyFallback(doc.Method, "standard"), doc.Scope(), doc.Readings)), "", 1, "L", false, 0, "")
	if doc.Question != "" {
		pdf.SetFont("Helvetica", "I", 10)
		pdf.MultiCell(0, pdfLineH, tr(truncate(doc.Question, 300)), "", "L", false)
	}
	pdf.Ln(3)

	heading(pdf, tr("Resumen ejecutivo"))
	pdf.SetFont("Helvetica", "", 10)
	pdf.CellFormat(0, pdfLineH, tr("Salud del sistema: "+health.FormatScore(doc.Health)), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, pdfLineH, tr(fmt.Sprintf("Dispositivos activos: %d/%d", doc.Health.ActiveDevices, doc.Health.TotalDevices)), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, pdfLineH, tr(fmt.Sprintf("Valores plausibles: %.1f%%", doc.Health.PlausibilityRatio*100)), "", 1, "L", false, 0, "")
	pdf.Ln(3)

	heading(pdf, tr("Dispositivos"))
	widths := []float64{50, 25, 45, 30, 30}
	tableRow(pdf, widths, true, tr("Dispositivo"), tr("Estado"), tr("Última lectura"), tr("Lecturas"), tr("Plausibles"))
	for _, d := range doc.Health.Devices {
		tableRow(pdf, widths, false, d.DeviceID, activeLabel(d.Active), tr(formatSeen(d.LastSeen)),
			fmt.Sprint(d.Readings), fmt.Sprint(d.Plausible))
	}
	pdf.Ln(4)

	if len(doc.Series) > 0 {
		heading(pdf, tr("Sensores"))
		drawPanels(pdf, doc, tr)
	}

	heading(pdf, tr("Alertas"))
	pdf.SetFont("Helvetica", "", 10)
	if len(doc.Alerts) == 0 {
		pdf.CellFormat(0, pdfLineH, tr("Sin alertas en la ventana analizada."), "", 1, "L", false, 0, "")
	}
	for _, a := range doc.Alerts {
		pdf.MultiCell(0, pdfLineH, tr(fmt.Sprintf("%s: %s", severityLabel(a.Severity), a.Text())), "", "L", false)
	}
	pdf.Ln(3)

	if len(doc.Missing) > 0 {
		heading(pdf, tr("Sin datos"))
		pdf.SetFont("Helvetica", "", 10)
		pdf.SetTextColor(170, 50, 50)
		for _, m := range doc.Missing {
			pdf.CellFormat(0, pdfLineH, tr("- "+m.Text(doc.WindowHours)), "", 1, "L", false, 0, "")
		}
		pdf.SetTextColor(0, 0, 0)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to render pdf report: %w", err)
	}
	return buf.Bytes(), nil
}

func drawPanels(pdf *fpdf.Fpdf, doc *Document, tr func(string) string) {
	columns := 1
	if doc.Chart != nil {
		columns = doc.Chart.Columns
	}
	gap := 4.0
	usable := pdfPageWidth - 2*pdfMargin
	cellW := (usable - gap*float64(columns-1)) / float64(columns)
	// Panels are rendered at 5:3.
	imageH := cellW * 3 / 5
	cellH := imageH + 3*pdfLineH

	_, pageH := pdf.GetPageSize()
	for i, s := range doc.Series {
		col := i % columns
		if col == 0 && pdf.GetY()+cellH > pageH-pdfMargin {
			pdf.AddPage()
		}
		x := pdfMargin + float64(col)*(cellW+gap)
		y := pdf.GetY()

		if s.Panel != nil {
			name := "panel-" + sanitizeFilename(s.Series.Name())
			opts := fpdf.ImageOptions{ImageType: "PNG"}
			pdf.RegisterImageOptionsReader(name, opts, bytes.NewReader(s.Panel.PNG))
			pdf.ImageOptions(name, x, y, cellW, imageH, false, opts, 0, "")
		}

		pdf.SetXY(x, y+imageH)
		pdf.SetFont("Helvetica", "B", 8)
		pdf.CellFormat(cellW, pdfLineH/1.5, tr(fmt.Sprintf("%s (%s)", s.Series.Name(), emptyFallback(s.Series.Unit, "-"))), "", 2, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 8)
		sum := s.Summary
		pdf.CellFormat(cellW, pdfLineH/1.5, tr(fmt.Sprintf("media %.2f · desv. %.2f · mín %.2f · máx %.2f · n=%d",
			sum.Mean, sum.StdDev, sum.Min, sum.Max, sum.Count)), "", 2, "L", false, 0, "")
		pdf.CellFormat(cellW, pdfLineH/1.5, tr(s.TrendText()), "", 2, "L", false, 0, "")

		if col == columns-1 || i == len(doc.Series)-1 {
			pdf.SetXY(pdfMargin, y+cellH+gap)
		} else {
			pdf.SetY(y)
		}
	}
}

func heading(pdf *fpdf.Fpdf, text string) {
	pdf.SetFont("Helvetica", "B", 13)
	pdf.CellFormat(0, 8, text, "", 1, "L", false, 0, "")
}

func tableRow(pdf *fpdf.Fpdf, widths []float64, header bool, cells ...string) {
	style := ""
	if header {
		style = "B"
	}
	pdf.SetFont("Helvetica", style, 9)
	for i, cell := range cells {
		pdf.CellFormat(widths[i], pdfLineH, cell, "1", 0, "L", header, 0, "")
	}
	pdf.Ln(-1)
}
