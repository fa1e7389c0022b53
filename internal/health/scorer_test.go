package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strrl/sensor-chat/internal/sensors"
)

var now = time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)

func newTestScorer() *Scorer {
	return NewScorer(DefaultConfig(), sensors.DefaultWhitelist())
}

func TestScoreAllHealthy(t *testing.T) {
	readings := []sensors.Reading{
		{DeviceID: sensors.ESP32DeviceID, SensorKey: "ldr", Value: 300, Timestamp: now.Add(-time.Minute)},
		{DeviceID: sensors.ESP32DeviceID, SensorKey: "ntc_entrada", Value: 22, Timestamp: now.Add(-time.Minute)},
		{DeviceID: sensors.ArduinoDeviceID, SensorKey: "temperature_1", Value: 24, Timestamp: now.Add(-5 * time.Minute)},
	}

	r := newTestScorer().Score(readings, now)
	assert.Equal(t, 100.0, r.Score)
	assert.Equal(t, LevelHealthy, r.Level)
	assert.Equal(t, 2, r.ActiveDevices)
	assert.Equal(t, 2, r.TotalDevices)
	require.Len(t, r.Devices, 2)
	assert.Equal(t, []string{"ldr", "ntc_entrada"}, r.Devices[0].Sensors)
}

func TestScoreStaleDeviceAndImplausibleValues(t *testing.T) {
	readings := []sensors.Reading{
		{DeviceID: sensors.ESP32DeviceID, SensorKey: "ntc_entrada", Value: 22, Timestamp: now.Add(-time.Minute)},
		{DeviceID: sensors.ESP32DeviceID, SensorKey: "ntc_salida", Value: 120, Timestamp: now.Add(-time.Minute)},
		{DeviceID: sensors.ArduinoDeviceID, SensorKey: "temperature_1", Value: 24, Timestamp: now.Add(-2 * time.Hour)},
		{DeviceID: sensors.ArduinoDeviceID, SensorKey: "temperature_2", Value: 24, Timestamp: now.Add(-2 * time.Hour)},
	}

	r := newTestScorer().Score(readings, now)
	// activity 1/2, plausibility 3/4 -> 100 * (0.6*0.5 + 0.4*0.75) = 60
	assert.Equal(t, 60.0, r.Score)
	assert.Equal(t, LevelDegraded, r.Level)
	assert.Equal(t, 1, r.ActiveDevices)
	assert.False(t, r.Devices[1].Active)
	assert.Equal(t, 0.5, r.Devices[0].PlausibilityRatio)
}

func TestScoreNoReadings(t *testing.T) {
	r := newTestScorer().Score(nil, now)
	assert.Equal(t, 0.0, r.Score)
	assert.Equal(t, LevelCritical, r.Level)
	assert.Equal(t, 0, r.ActiveDevices)
}

func TestScoreIgnoresNonWhitelistedSensors(t *testing.T) {
	readings := []sensors.Reading{
		{DeviceID: sensors.ESP32DeviceID, SensorKey: "humidity", Value: 4000, Timestamp: now},
		{DeviceID: "ghost", SensorKey: "ldr", Value: 1, Timestamp: now},
	}
	r := newTestScorer().Score(readings, now)
	assert.Equal(t, 0.0, r.Score)
}

func TestScoreIsDeterministic(t *testing.T) {
	readings := []sensors.Reading{
		{DeviceID: sensors.ESP32DeviceID, SensorKey: "ldr", Value: 10, Timestamp: now.Add(-29 * time.Minute)},
		{DeviceID: sensors.ArduinoDeviceID, SensorKey: "temperature_avg", Value: 70, Timestamp: now.Add(-31 * time.Minute)},
		{DeviceID: sensors.ArduinoDeviceID, SensorKey: "temperature_1", Value: 21, Timestamp: now.Add(-40 * time.Minute)},
	}
	s := newTestScorer()
	a := s.Score(readings, now)
	b := s.Score(append([]sensors.Reading(nil), readings...), now)
	assert.Equal(t, a, b)
	assert.Equal(t, FormatScore(a), FormatScore(b))
}

func TestFormatScore(t *testing.T) {
	r := Report{Score: 66.7, Level: LevelDegraded, ActiveDevices: 1, TotalDevices: 2}
	assert.Equal(t, "66.7% (Degradado)", FormatScore(r))
	assert.Contains(t, StatusLine(r), "1/2 dispositivos activos")
}
