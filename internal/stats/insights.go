package stats

import (
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/strrl/sensor-chat/internal/sensors"
)

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

type AlertKind string

const (
	AlertAboveRange AlertKind = "above_range"
	AlertBelowRange AlertKind = "below_range"
	AlertOutlier    AlertKind = "outlier"
	AlertDataGap    AlertKind = "data_gap"
)

type Direction string

const (
	DirectionRising  Direction = "rising"
	DirectionFalling Direction = "falling"
	DirectionStable  Direction = "stable"
)

// InsightConfig tunes Analyze. StableFraction is the share of the sensor's
// plausible range per hour below which a slope counts as stable.
type InsightConfig struct {
	OutlierZ          float64
	OutlierMinSamples int
	GapThreshold      time.Duration
	StableFraction    float64
}

func DefaultInsightConfig() InsightConfig {
	return InsightConfig{
		OutlierZ:          3.0,
		OutlierMinSamples: 5,
		GapThreshold:      15 * time.Minute,
		StableFraction:    0.005,
	}
}

// Trend is the least-squares line through a series, in units per hour. Change
// is the mean of the newer half minus the mean of the older half.
type Trend struct {
	SlopePerHour float64   `json:"slope_per_hour"`
	Direction    Direction `json:"direction"`
	Change       float64   `json:"change"`
}

type Alert struct {
	DeviceID  string        `json:"device_id"`
	SensorKey string        `json:"sensor_key"`
	Kind      AlertKind     `json:"kind"`
	Severity  Severity      `json:"severity"`
	Value     float64       `json:"value"`
	Count     int           `json:"count"`
	Timestamp time.Time     `json:"timestamp"`
	Unit      string        `json:"unit,omitempty"`
	Gap       time.Duration `json:"gap,omitempty"`
}

func (a Alert) Text() string {
	at := a.Timestamp.UTC().Format("2006-01-02 15:04")
	switch a.Kind {
	case AlertAboveRange:
		return fmt.Sprintf("%s / %s: %d lecturas por encima del rango, pico %.2f %s (%s)", a.DeviceID, a.SensorKey, a.Count, a.Value, a.Unit, at)
	case AlertBelowRange:
		return fmt.Sprintf("%s / %s: %d lecturas por debajo del rango, mínimo %.2f %s (%s)", a.DeviceID, a.SensorKey, a.Count, a.Value, a.Unit, at)
	case AlertOutlier:
		return fmt.Sprintf("%s / %s: %d valores atípicos, el más extremo %.2f %s (%s)", a.DeviceID, a.SensorKey, a.Count, a.Value, a.Unit, at)
	case AlertDataGap:
		return fmt.Sprintf("%s / %s: %d huecos sin lecturas, el mayor de %s hasta %s", a.DeviceID, a.SensorKey, a.Count, a.Gap.Round(time.Minute), at)
	}
	return fmt.Sprintf("%s / %s: %s", a.DeviceID, a.SensorKey, a.Kind)
}

type Insight struct {
	Trend  *Trend  `json:"trend,omitempty"`
	Alerts []Alert `json:"alerts,omitempty"`
}

func (t Trend) Text(unit string) string {
	switch t.Direction {
	case DirectionRising:
		return fmt.Sprintf("tendencia al alza (%+.2f %s/h)", t.SlopePerHour, unit)
	case DirectionFalling:
		return fmt.Sprintf("tendencia a la baja (%+.2f %s/h)", t.SlopePerHour, unit)
	}
	return "tendencia estable"
}

// Analyze derives the trend and the alerts of one series. Range alerts use the
// plausible range the whitelist declares for the sensor.
func Analyze(s Series, wl *sensors.Whitelist, cfg InsightConfig) Insight {
	var in Insight
	if len(s.Readings) == 0 {
		return in
	}

	sensor, known := wl.Sensor(s.DeviceID, s.SensorKey)
	scale := 1.0
	if known && sensor.Max > sensor.Min {
		scale = sensor.Max - sensor.Min
	}

	in.Trend = trend(s, scale, cfg)

	if known {
		in.Alerts = append(in.Alerts, rangeAlerts(s, sensor)...)
	}
	if a, ok := outlierAlert(s, cfg); ok {
		in.Alerts = append(in.Alerts, a)
	}
	if a, ok := gapAlert(s, cfg); ok {
		in.Alerts = append(in.Alerts, a)
	}
	return in
}

// AnalyzeAll runs Analyze over every series and returns the alerts sorted by
// severity, then by series name.
func AnalyzeAll(series []Series, wl *sensors.Whitelist, cfg InsightConfig) ([]Insight, []Alert) {
	insights := make([]Insight, len(series))
	var alerts []Alert
	for i, s := range series {
		insights[i] = Analyze(s, wl, cfg)
		alerts = append(alerts, insights[i].Alerts...)
	}
	sort.SliceStable(alerts, func(i, j int) bool {
		ri, rj := severityRank(alerts[i].Severity), severityRank(alerts[j].Severity)
		if ri != rj {
			return ri < rj
		}
		return alerts[i].DeviceID+"/"+alerts[i].SensorKey < alerts[j].DeviceID+"/"+alerts[j].SensorKey
	})
	return insights, alerts
}

func severityRank(s Severity) int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityWarning:
		return 1
	}
	return 2
}

func trend(s Series, scale float64, cfg InsightConfig) *Trend {
	if len(s.Readings) < 2 {
		return nil
	}
	origin := s.Readings[0].Timestamp
	xs := make([]float64, len(s.Readings))
	for i, r := range s.Readings {
		xs[i] = r.Timestamp.Sub(origin).Hours()
	}
	if xs[len(xs)-1] == 0 {
		return nil
	}

	values := s.Values()
	_, slope := stat.LinearRegression(xs, values, nil, false)
	if math.IsNaN(slope) || math.IsInf(slope, 0) {
		return nil
	}

	half := len(values) / 2
	t := &Trend{
		SlopePerHour: slope,
		Direction:    DirectionStable,
		Change:       stat.Mean(values[half:], nil) - stat.Mean(values[:half], nil),
	}
	switch {
	case math.Abs(slope) < cfg.StableFraction*scale:
	case slope > 0:
		t.Direction = DirectionRising
	default:
		t.Direction = DirectionFalling
	}
	return t
}

func rangeAlerts(s Series, sensor sensors.Sensor) []Alert {
	var above, below *Alert
	for _, r := range s.Readings {
		switch {
		case r.Value > sensor.Max:
			if above == nil {
				above = &Alert{Kind: AlertAboveRange, Value: r.Value, Timestamp: r.Timestamp}
			}
			above.Count++
			if r.Value > above.Value {
				above.Value, above.Timestamp = r.Value, r.Timestamp
			}
		case r.Value < sensor.Min:
			if below == nil {
				below = &Alert{Kind: AlertBelowRange, Value: r.Value, Timestamp: r.Timestamp}
			}
			below.Count++
			if r.Value < below.Value {
				below.Value, below.Timestamp = r.Value, r.Timestamp
			}
		}
	}

	var alerts []Alert
	for _, a := range []*Alert{above, below} {
		if a == nil {
			continue
		}
		a.DeviceID, a.SensorKey, a.Unit = s.DeviceID, s.SensorKey, s.Unit
		a.Severity = SeverityCritical
		alerts = append(alerts, *a)
	}
	return alerts
}

func outlierAlert(s Series, cfg InsightConfig) (Alert, bool) {
	if len(s.Readings) < cfg.OutlierMinSamples {
		return Alert{}, false
	}
	mean, std := stat.MeanStdDev(s.Values(), nil)
	if std == 0 || math.IsNaN(std) {
		return Alert{}, false
	}

	a := Alert{DeviceID: s.DeviceID, SensorKey: s.SensorKey, Kind: AlertOutlier, Severity: SeverityWarning, Unit: s.Unit}
	worst := 0.0
	for _, r := range s.Readings {
		z := math.Abs(r.Value-mean) / std
		if z <= cfg.OutlierZ {
			continue
		}
		a.Count++
		if z > worst {
			worst = z
			a.Value, a.Timestamp = r.Value, r.Timestamp
		}
	}
	return a, a.Count > 0
}

func gapAlert(s Series, cfg InsightConfig) (Alert, bool) {
	if cfg.GapThreshold <= 0 {
		return Alert{}, false
	}
	a := Alert{DeviceID: s.DeviceID, SensorKey: s.SensorKey, Kind: AlertDataGap, Severity: SeverityInfo, Unit: s.Unit}
	for i := 1; i < len(s.Readings); i++ {
		gap := s.Readings[i].Timestamp.Sub(s.Readings[i-1].Timestamp)
		if gap <= cfg.GapThreshold {
			continue
		}
		a.Count++
		if gap > a.Gap {
			a.Gap = gap
			a.Timestamp = s.Readings[i].Timestamp
		}
	}
	return a, a.Count > 0
}
