package output

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strrl/sensor-chat/internal/artifact"
	"github.com/strrl/sensor-chat/internal/chart"
	"github.com/strrl/sensor-chat/internal/health"
	"github.com/strrl/sensor-chat/internal/sensors"
	"github.com/strrl/sensor-chat/internal/stats"
)

var now = time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)

func esp32Readings() []sensors.Reading {
	var readings []sensors.Reading
	for i := 0; i < 4; i++ {
		ts := now.Add(-time.Duration(i) * 5 * time.Minute)
		readings = append(readings,
			sensors.Reading{DeviceID: sensors.ESP32DeviceID, SensorKey: "ldr", Value: float64(100 + i), Timestamp: ts},
			sensors.Reading{DeviceID: sensors.ESP32DeviceID, SensorKey: "ntc_entrada", Value: 21 + float64(i)/10, Timestamp: ts},
		)
	}
	return readings
}

func buildDoc(t *testing.T, readings []sensors.Reading, deviceID string) *Document {
	t.Helper()
	wl := sensors.DefaultWhitelist()
	report := health.NewScorer(health.DefaultConfig(), wl).Score(readings, now)
	b := NewBuilder(wl, chart.NewRenderer(chart.DefaultConfig(), wl))

	doc, err := b.Build(DocumentInput{
		Question:    "genera un informe del esp32",
		Readings:    readings,
		WindowHours: 24,
		Method:      "paginated",
		DeviceID:    deviceID,
		Health:      report,
		GeneratedAt: now,
	})
	require.NoError(t, err)
	return doc
}

func TestBuild_SeriesAndMissing(t *testing.T) {
	doc := buildDoc(t, esp32Readings(), sensors.ESP32DeviceID)

	require.Len(t, doc.Series, 2)
	require.NotNil(t, doc.Chart)
	assert.NotNil(t, doc.Series[0].Panel)
	assert.Equal(t, 4, doc.Series[0].Summary.Count)

	require.Len(t, doc.Missing, 1)
	assert.Equal(t, "ntc_salida", doc.Missing[0].SensorKey)
	assert.Equal(t, "Sin datos para esp32_wifi_001 / ntc_salida en las últimas 24 h.", doc.Missing[0].Text(doc.WindowHours))
}

func TestBuild_NoReadings(t *testing.T) {
	doc := buildDoc(t, nil, "")

	assert.Nil(t, doc.Chart)
	assert.Empty(t, doc.Series)
	assert.Len(t, doc.Missing, 6)
	assert.Equal(t, 0.0, doc.Health.Score)
}

func TestRenderMarkdown(t *testing.T) {
	doc := buildDoc(t, esp32Readings(), sensors.ESP32DeviceID)
	md := string(RenderMarkdown(doc))

	assert.Contains(t, md, "# Informe de sensores IoT")
	assert.Contains(t, md, "**Salud del sistema:** "+health.FormatScore(doc.Health))
	assert.Contains(t, md, "| esp32_wifi_001/ldr (raw) | 4 |")
	assert.Contains(t, md, "Sin datos para esp32_wifi_001 / ntc_salida")
}

func TestBuild_InsightsAndAlerts(t *testing.T) {
	readings := append(esp32Readings(), sensors.Reading{
		DeviceID: sensors.ESP32DeviceID, SensorKey: "ntc_entrada", Value: 75, Unit: "°C", Timestamp: now.Add(-20 * time.Minute),
	})
	doc := buildDoc(t, readings, sensors.ESP32DeviceID)

	require.Len(t, doc.Series, 2)
	require.NotNil(t, doc.Series[0].Insight.Trend)
	assert.Equal(t, "tendencia estable", doc.Series[0].TrendText())

	require.NotEmpty(t, doc.Alerts)
	assert.Equal(t, stats.AlertAboveRange, doc.Alerts[0].Kind)
	assert.Equal(t, "ntc_entrada", doc.Alerts[0].SensorKey)

	md := string(RenderMarkdown(doc))
	assert.Contains(t, md, "## Alertas")
	assert.Contains(t, md, "**CRÍTICA** esp32_wifi_001 / ntc_entrada: 1 lecturas por encima del rango, pico 75.00")

	html, err := RenderHTML(doc)
	require.NoError(t, err)
	assert.Contains(t, string(html), "por encima del rango")

	quiet := string(RenderMarkdown(buildDoc(t, esp32Readings(), sensors.ESP32DeviceID)))
	assert.Contains(t, quiet, "Sin alertas en la ventana analizada.")
}

func TestRenderHTML(t *testing.T) {
	doc := buildDoc(t, esp32Readings(), sensors.ESP32DeviceID)
	html, err := RenderHTML(doc)
	require.NoError(t, err)

	s := string(html)
	assert.Contains(t, s, "data:image/png;base64,")
	assert.Contains(t, s, health.FormatScore(doc.Health))
	assert.Contains(t, s, "repeat(2, 1fr)")
	assert.Contains(t, s, "Sin datos para esp32_wifi_001 / ntc_salida")
}

func TestRenderPDF(t *testing.T) {
	for _, readings := range [][]sensors.Reading{esp32Readings(), nil} {
		doc := buildDoc(t, readings, "")
		pdf, err := RenderPDF(doc)
		require.NoError(t, err)
		assert.True(t, bytes.HasPrefix(pdf, []byte("%PDF-")))
	}
}

func TestGenerate(t *testing.T) {
	doc := buildDoc(t, esp32Readings(), sensors.ESP32DeviceID)

	a, err := Generate(doc, FormatPDF)
	require.NoError(t, err)
	assert.Equal(t, artifact.KindReport, a.Kind)
	assert.Equal(t, "informe_esp32_wifi_001_20250110_120000.pdf", a.Filename)
	assert.Equal(t, "application/pdf", a.MIMEType)

	a, err = Generate(doc, FormatMarkdown)
	require.NoError(t, err)
	assert.Equal(t, "informe_esp32_wifi_001_20250110_120000.md", a.Filename)

	c, err := ChartArtifact(doc)
	require.NoError(t, err)
	assert.Equal(t, "image/png", c.MIMEType)
	assert.Equal(t, doc.Chart.Grid, c.Data)
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatPDF, "PDF": FormatPDF, "html": FormatHTML, "md": FormatMarkdown} {
		got, err := ParseFormat(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseFormat("xlsx")
	assert.Error(t, err)
}
