package output

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/strrl/sensor-chat/internal/health"
	"github.com/strrl/sensor-chat/internal/stats"
)

func RenderMarkdown(doc *Document) []byte {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("# %s\n\n", doc.Title))
	sb.WriteString(fmt.Sprintf("**Generado:** %s\n", doc.GeneratedAt.Format("2006-01-02 15:04:05")))
	sb.WriteString(fmt.Sprintf("**Ventana:** últimas %d h (%s)\n", doc.WindowHours, emptyFallback(doc.Method, "standard")))
	sb.WriteString(fmt.Sprintf("**Alcance:** %s\n", doc.Scope()))
	sb.WriteString(fmt.Sprintf("**Lecturas validadas:** %d\n\n", doc.Readings))

	if doc.Question != "" {
		sb.WriteString(fmt.Sprintf("> %s\n\n", truncate(doc.Question, 200)))
	}

	sb.WriteString("## Resumen ejecutivo\n\n")
	sb.WriteString(fmt.Sprintf("- **Salud del sistema:** %s\n", health.FormatScore(doc.Health)))
	sb.WriteString(fmt.Sprintf("- **Dispositivos activos:** %d/%d\n", doc.Health.ActiveDevices, doc.Health.TotalDevices))
	sb.WriteString(fmt.Sprintf("- **Valores plausibles:** %.1f%%\n\n", doc.Health.PlausibilityRatio*100))

	sb.WriteString("## Dispositivos\n\n")
	sb.WriteString("| Dispositivo | Estado | Última lectura | Lecturas | Plausibles |\n")
	sb.WriteString("|---|---|---|---|---|\n")
	for _, d := range doc.Health.Devices {
		sb.WriteString(fmt.Sprintf("| %s | %s | %s | %d | %d |\n",
			d.DeviceID, activeLabel(d.Active), formatSeen(d.LastSeen), d.Readings, d.Plausible))
	}
	sb.WriteString("\n")

	if len(doc.Series) > 0 {
		sb.WriteString("## Estadísticas por sensor\n\n")
		sb.WriteString("| Serie | n | Media | Desv. | Mín | Máx | Último | Tendencia |\n")
		sb.WriteString("|---|---|---|---|---|---|---|---|\n")
		for _, s := range doc.Series {
			sum := s.Summary
			sb.WriteString(fmt.Sprintf("| %s (%s) | %d | %.2f | %.2f | %.2f | %.2f | %.2f | %s |\n",
				s.Series.Name(), emptyFallback(s.Series.Unit, "-"), sum.Count, sum.Mean, sum.StdDev, sum.Min, sum.Max, sum.Last, s.TrendText()))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("## Alertas\n\n")
	if len(doc.Alerts) == 0 {
		sb.WriteString("Sin alertas en la ventana analizada.\n\n")
	} else {
		for _, a := range doc.Alerts {
			sb.WriteString(fmt.Sprintf("- **%s** %s\n", severityLabel(a.Severity), a.Text()))
		}
		sb.WriteString("\n")
	}

	if len(doc.Missing) > 0 {
		sb.WriteString("## Sin datos\n\n")
		for _, m := range doc.Missing {
			sb.WriteString(fmt.Sprintf("- %s\n", m.Text(doc.WindowHours)))
		}
		sb.WriteString("\n")
	}

	return []byte(sb.String())
}

func severityLabel(s stats.Severity) string {
	switch s {
	case stats.SeverityCritical:
		return "CRÍTICA"
	case stats.SeverityWarning:
		return "AVISO"
	}
	return "INFO"
}

func activeLabel(active bool) string {
	if active {
		return "Activo"
	}
	return "Inactivo"
}

func formatSeen(t time.Time) string {
	if t.IsZero() {
		return "nunca"
	}
	return t.Format("2006-01-02 15:04")
}

func emptyFallback(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

var unsafeFilename = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

func sanitizeFilename(s string) string {
	result := unsafeFilename.ReplaceAllString(s, "-")
	result = strings.Trim(result, "-")
	if len(result) > 50 {
		result = result[:50]
	}
	if result == "" {
		result = "unnamed"
	}
	return strings.ToLower(result)
}

func truncate(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) > maxLen {
		return s[:maxLen] + "..."
	}
	return s
}
