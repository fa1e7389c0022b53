package output

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"html/template"

	"github.com/strrl/sensor-chat/internal/health"
)

var htmlTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"score":    health.FormatScore,
	"active":   activeLabel,
	"seen":     formatSeen,
	"pct":      func(v float64) string { return fmt.Sprintf("%.1f%%", v*100) },
	"num":      func(v float64) string { return fmt.Sprintf("%.2f", v) },
	"dataURI":  pngDataURI,
	"missing":  func(m MissingSection, hours int) string { return m.Text(hours) },
	"fallback": emptyFallback,
	"severity": severityLabel,
}).Parse(`<!DOCTYPE html>
<html lang="es">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: sans-serif; margin: 2em; color: #222; }
table { border-collapse: collapse; margin-bottom: 1.5em; }
th, td { border: 1px solid #ccc; padding: 4px 8px; text-align: left; }
.grid { display: grid; grid-template-columns: repeat({{.Columns}}, 1fr); gap: 12px; }
.panel img { width: 100%; }
.panel p { font-size: 0.85em; margin: 2px 0 0; }
.missing { color: #a33; }
.alert-critical { color: #a33; }
.alert-warning { color: #a60; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
<p>Generado: {{.GeneratedAt.Format "2006-01-02 15:04:05"}} · Ventana: últimas {{.WindowHours}} h ({{fallback .Method "standard"}}) · Alcance: {{.Scope}} · Lecturas validadas: {{.Readings}}</p>
{{if .Question}}<blockquote>{{.Question}}</blockquote>{{end}}

<h2>Resumen ejecutivo</h2>
<ul>
<li>Salud del sistema: <strong>{{score .Health}}</strong></li>
<li>Dispositivos activos: {{.Health.ActiveDevices}}/{{.Health.TotalDevices}}</li>
<li>Valores plausibles: {{pct .Health.PlausibilityRatio}}</li>
</ul>

<h2>Dispositivos</h2>
<table>
<tr><th>Dispositivo</th><th>Estado</th><th>Última lectura</th><th>Lecturas</th><th>Plausibles</th></tr>
{{range .Health.Devices}}<tr><td>{{.DeviceID}}</td><td>{{active .Active}}</td><td>{{seen .LastSeen}}</td><td>{{.Readings}}</td><td>{{.Plausible}}</td></tr>
{{end}}</table>

{{if .Series}}<h2>Sensores</h2>
<div class="grid">
{{range .Series}}<div class="panel">
{{if .Panel}}<img alt="{{.Series.Name}}" src="{{dataURI .Panel.PNG}}">{{end}}
<p><strong>{{.Series.Name}}</strong> ({{fallback .Series.Unit "-"}}): media {{num .Summary.Mean}}, desv. {{num .Summary.StdDev}}, mín {{num .Summary.Min}}, máx {{num .Summary.Max}}, n={{.Summary.Count}}, {{.TrendText}}</p>
</div>
{{end}}</div>{{end}}

<h2>Alertas</h2>
{{if .Alerts}}<ul>
{{range .Alerts}}<li class="alert-{{.Severity}}"><strong>{{severity .Severity}}</strong> {{.Text}}</li>
{{end}}</ul>{{else}}<p>Sin alertas en la ventana analizada.</p>{{end}}

{{if .Missing}}<h2>Sin datos</h2>
<ul>
{{$hours := .WindowHours}}{{range .Missing}}<li class="missing">{{missing . $hours}}</li>
{{end}}</ul>{{end}}
</body>
</html>
`))

type htmlView struct {
	*Document
	Columns int
}

func RenderHTML(doc *Document) ([]byte, error) {
	view := htmlView{Document: doc, Columns: 1}
	if doc.Chart != nil {
		view.Columns = doc.Chart.Columns
	}

	var buf bytes.Buffer
	if err := htmlTemplate.Execute(&buf, view); err != nil {
		return nil, fmt.Errorf("failed to render html report: %w", err)
	}
	return buf.Bytes(), nil
}

func pngDataURI(data []byte) template.URL {
	return template.URL("data:image/png;base64," + base64.StdEncoding.EncodeToString(data))
}
