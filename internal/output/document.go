package output

import (
	"fmt"
	"time"

	"github.com/strrl/sensor-chat/internal/chart"
	"github.com/strrl/sensor-chat/internal/health"
	"github.com/strrl/sensor-chat/internal/sensors"
	"github.com/strrl/sensor-chat/internal/stats"
)

// Document is everything a report shows, independent of the output format.
type Document struct {
	Title       string
	Question    string
	GeneratedAt time.Time
	WindowHours int
	Method      string
	DeviceID    string
	Health      health.Report
	Readings    int
	Series      []SeriesSection
	Alerts      []stats.Alert
	Missing     []MissingSection
	Chart       *chart.Chart
}

type SeriesSection struct {
	Series  stats.Series
	Summary stats.Summary
	Insight stats.Insight
	Panel   *chart.Panel
}

func (s SeriesSection) TrendText() string {
	if s.Insight.Trend == nil {
		return "sin tendencia"
	}
	return s.Insight.Trend.Text(s.Series.Unit)
}

// MissingSection is rendered for every requested sensor without readings.
type MissingSection struct {
	DeviceID  string
	SensorKey string
}

func (m MissingSection) Text(hours int) string {
	return fmt.Sprintf("Sin datos para %s / %s en las últimas %d h.", m.DeviceID, m.SensorKey, hours)
}

func (d *Document) Scope() string {
	if d.DeviceID == "" {
		return "todos los dispositivos"
	}
	return d.DeviceID
}

type DocumentInput struct {
	Question    string
	Readings    []sensors.Reading
	WindowHours int
	Method      string
	DeviceID    string
	Health      health.Report
	GeneratedAt time.Time
}

// Builder assembles documents. Charts are drawn once and shared by every
// format.
type Builder struct {
	whitelist *sensors.Whitelist
	renderer  *chart.Renderer
	insights  stats.InsightConfig
}

func NewBuilder(wl *sensors.Whitelist, renderer *chart.Renderer) *Builder {
	return &Builder{whitelist: wl, renderer: renderer, insights: stats.DefaultInsightConfig()}
}

func (b *Builder) Build(in DocumentInput) (*Document, error) {
	doc := &Document{
		Title:       "Informe de sensores IoT",
		Question:    in.Question,
		GeneratedAt: in.GeneratedAt,
		WindowHours: in.WindowHours,
		Method:      in.Method,
		DeviceID:    in.DeviceID,
		Health:      in.Health,
		Readings:    len(in.Readings),
	}

	series := stats.Partition(in.Readings, b.whitelist)
	if len(series) > 0 {
		c, err := b.renderer.Render(in.Readings)
		if err != nil {
			return nil, fmt.Errorf("failed to render charts: %w", err)
		}
		doc.Chart = c
	}

	insights, alerts := stats.AnalyzeAll(series, b.whitelist, b.insights)
	doc.Alerts = alerts
	for i, s := range series {
		section := SeriesSection{Series: s, Summary: stats.Summarize(s), Insight: insights[i]}
		if doc.Chart != nil && i < len(doc.Chart.Panels) {
			section.Panel = &doc.Chart.Panels[i]
		}
		doc.Series = append(doc.Series, section)
	}

	for _, m := range stats.Missing(series, b.whitelist, in.DeviceID) {
		doc.Missing = append(doc.Missing, MissingSection{DeviceID: m.DeviceID, SensorKey: m.SensorKey})
	}

	return doc, nil
}
