package stats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strrl/sensor-chat/internal/sensors"
)

var t0 = time.Date(2025, 1, 10, 10, 0, 0, 0, time.UTC)

func reading(device, key string, value float64, minutes int) sensors.Reading {
	return sensors.Reading{DeviceID: device, SensorKey: key, Value: value, Timestamp: t0.Add(time.Duration(minutes) * time.Minute)}
}

func TestPartition(t *testing.T) {
	wl := sensors.DefaultWhitelist()
	readings := []sensors.Reading{
		reading(sensors.ArduinoDeviceID, "temperature_1", 21, 2),
		reading(sensors.ESP32DeviceID, "ldr", 1500, 1),
		reading(sensors.ESP32DeviceID, "ldr", 1400, 0),
		reading(sensors.ESP32DeviceID, "ntc_entrada", 22.5, 0),
	}

	series := Partition(readings, wl)
	require.Len(t, series, 3)

	assert.Equal(t, "esp32_wifi_001/ldr", series[0].Name())
	assert.Equal(t, sensors.CategoryLight, series[0].Category)
	assert.Equal(t, []float64{1400, 1500}, series[0].Values())
	assert.Equal(t, "esp32_wifi_001/ntc_entrada", series[1].Name())
	assert.Equal(t, "arduino_eth_001/temperature_1", series[2].Name())
	assert.Equal(t, "°C", series[2].Unit)
}

func TestSummarize(t *testing.T) {
	s := Series{Readings: []sensors.Reading{
		reading("d", "k", 2, 0),
		reading("d", "k", 4, 1),
		reading("d", "k", 4, 2),
		reading("d", "k", 4, 3),
		reading("d", "k", 5, 4),
		reading("d", "k", 5, 5),
		reading("d", "k", 7, 6),
		reading("d", "k", 9, 7),
	}}

	sum := Summarize(s)
	assert.Equal(t, 8, sum.Count)
	assert.InDelta(t, 5.0, sum.Mean, 1e-9)
	assert.InDelta(t, 2.138, sum.StdDev, 1e-3)
	assert.Equal(t, 2.0, sum.Min)
	assert.Equal(t, 9.0, sum.Max)
	assert.Equal(t, 9.0, sum.Last)
	assert.Equal(t, t0, sum.First)
}

func TestSummarize_SingleAndEmpty(t *testing.T) {
	sum := Summarize(Series{Readings: []sensors.Reading{reading("d", "k", 3, 0)}})
	assert.Equal(t, 1, sum.Count)
	assert.Equal(t, 0.0, sum.StdDev)

	assert.Equal(t, Summary{}, Summarize(Series{}))
}

func TestMissing(t *testing.T) {
	wl := sensors.DefaultWhitelist()
	series := Partition([]sensors.Reading{reading(sensors.ESP32DeviceID, "ldr", 100, 0)}, wl)

	missing := Missing(series, wl, sensors.ESP32DeviceID)
	require.Len(t, missing, 2)
	assert.Equal(t, "ntc_entrada", missing[0].SensorKey)
	assert.Equal(t, "ntc_salida", missing[1].SensorKey)

	assert.Len(t, Missing(series, wl, ""), 5)
}
