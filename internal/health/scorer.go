package health

import (
	"fmt"
	"math"
	"time"

	"github.com/strrl/sensor-chat/internal/sensors"
)

type Config struct {
	FreshnessWindow    time.Duration
	ActivityWeight     float64
	PlausibilityWeight float64
	HealthyThreshold   float64
	DegradedThreshold  float64
}

func DefaultConfig() Config {
	return Config{
		FreshnessWindow:    30 * time.Minute,
		ActivityWeight:     0.6,
		PlausibilityWeight: 0.4,
		HealthyThreshold:   80,
		DegradedThreshold:  50,
	}
}

type Level string

const (
	LevelHealthy  Level = "healthy"
	LevelDegraded Level = "degraded"
	LevelCritical Level = "critical"
)

var levelLabels = map[Level]string{
	LevelHealthy:  "Operativo",
	LevelDegraded: "Degradado",
	LevelCritical: "Crítico",
}

func (l Level) Label() string {
	return levelLabels[l]
}

type DeviceStatus struct {
	DeviceID          string    `json:"device_id"`
	LastSeen          time.Time `json:"last_seen"`
	Active            bool      `json:"active"`
	Readings          int       `json:"readings"`
	Plausible         int       `json:"plausible"`
	PlausibilityRatio float64   `json:"plausibility_ratio"`
	Sensors           []string  `json:"sensors"`
}

type Report struct {
	Score             float64        `json:"score"`
	Level             Level          `json:"level"`
	ActiveDevices     int            `json:"active_devices"`
	TotalDevices      int            `json:"total_devices"`
	ActivityRatio     float64        `json:"activity_ratio"`
	PlausibilityRatio float64        `json:"plausibility_ratio"`
	Devices           []DeviceStatus `json:"devices"`
	ComputedAt        time.Time      `json:"computed_at"`
}

// Scorer is the single source of the system health percentage. Every surface
// (chat status line, report summary, status command, HTTP API) goes through it.
type Scorer struct {
	config    Config
	whitelist *sensors.Whitelist
}

func NewScorer(cfg Config, wl *sensors.Whitelist) *Scorer {
	return &Scorer{config: cfg, whitelist: wl}
}

// Score computes the health of the given reading set as of now. It is a pure
// function of its inputs.
func (s *Scorer) Score(readings []sensors.Reading, now time.Time) Report {
	report := Report{
		ComputedAt:   now,
		TotalDevices: len(s.whitelist.Devices()),
	}

	grouped := sensors.GroupByDevice(readings)

	var totalReadings, totalPlausible int
	for _, device := range s.whitelist.Devices() {
		status := s.scoreDevice(device, grouped[device.ID], now)
		if status.Active {
			report.ActiveDevices++
		}
		totalReadings += status.Readings
		totalPlausible += status.Plausible
		report.Devices = append(report.Devices, status)
	}

	if report.TotalDevices > 0 {
		report.ActivityRatio = float64(report.ActiveDevices) / float64(report.TotalDevices)
	}
	if totalReadings > 0 {
		report.PlausibilityRatio = float64(totalPlausible) / float64(totalReadings)
	}

	if totalReadings == 0 {
		report.Score = 0
	} else {
		raw := 100 * (s.config.ActivityWeight*report.ActivityRatio + s.config.PlausibilityWeight*report.PlausibilityRatio)
		report.Score = round1(clamp(raw, 0, 100))
	}
	report.Level = s.level(report.Score)

	return report
}

func (s *Scorer) scoreDevice(device sensors.Device, readings []sensors.Reading, now time.Time) DeviceStatus {
	status := DeviceStatus{DeviceID: device.ID}

	seen := make(map[string]bool)
	for _, r := range readings {
		sensor, ok := device.Sensor(r.SensorKey)
		if !ok {
			continue
		}
		status.Readings++
		if sensor.Plausible(r.Value) {
			status.Plausible++
		}
		if r.Timestamp.After(status.LastSeen) {
			status.LastSeen = r.Timestamp
		}
		if !seen[r.SensorKey] {
			seen[r.SensorKey] = true
			status.Sensors = append(status.Sensors, r.SensorKey)
		}
	}

	if status.Readings > 0 {
		status.PlausibilityRatio = float64(status.Plausible) / float64(status.Readings)
		age := now.Sub(status.LastSeen)
		status.Active = age <= s.config.FreshnessWindow
	}

	return status
}

func (s *Scorer) level(score float64) Level {
	switch {
	case score >= s.config.HealthyThreshold:
		return LevelHealthy
	case score >= s.config.DegradedThreshold:
		return LevelDegraded
	default:
		return LevelCritical
	}
}

// FormatScore is the one rendering of the score shared by every surface.
func FormatScore(r Report) string {
	return fmt.Sprintf("%.1f%% (%s)", r.Score, r.Level.Label())
}

// StatusLine summarizes the report in one line for chat answers.
func StatusLine(r Report) string {
	return fmt.Sprintf("Salud del sistema: %s · %d/%d dispositivos activos", FormatScore(r), r.ActiveDevices, r.TotalDevices)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
