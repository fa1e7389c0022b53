package sensors

import (
	"sort"
	"time"
)

type Category string

const (
	CategoryTemperature Category = "temperature"
	CategoryLight       Category = "light"
)

var CategoryLabels = map[Category]string{
	CategoryTemperature: "Temperatura",
	CategoryLight:       "Luminosidad",
}

func (c Category) Label() string {
	if label, ok := CategoryLabels[c]; ok {
		return label
	}
	return string(c)
}

type Reading struct {
	DeviceID  string    `json:"device_id"`
	SensorKey string    `json:"sensor_type"`
	Value     float64   `json:"value"`
	Unit      string    `json:"unit,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Key identifies a reading for deduplication across pages.
func (r Reading) Key() string {
	return r.Timestamp.UTC().Format(time.RFC3339Nano) + "_" + r.DeviceID + "_" + r.SensorKey
}

type Sensor struct {
	Key      string   `yaml:"key"`
	Category Category `yaml:"category"`
	Unit     string   `yaml:"unit"`
	Min      float64  `yaml:"min"`
	Max      float64  `yaml:"max"`
}

func (s Sensor) Plausible(value float64) bool {
	return value >= s.Min && value <= s.Max
}

type Device struct {
	ID      string   `yaml:"id"`
	Kind    string   `yaml:"kind"`
	Aliases []string `yaml:"aliases"`
	Sensors []Sensor `yaml:"sensors"`
}

func (d Device) Sensor(key string) (Sensor, bool) {
	for _, s := range d.Sensors {
		if s.Key == key {
			return s, true
		}
	}
	return Sensor{}, false
}

// SortNewestFirst orders readings by timestamp descending, breaking ties by
// device and sensor so the order is stable across runs.
func SortNewestFirst(readings []Reading) {
	sort.SliceStable(readings, func(i, j int) bool {
		a, b := readings[i], readings[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.After(b.Timestamp)
		}
		if a.DeviceID != b.DeviceID {
			return a.DeviceID < b.DeviceID
		}
		return a.SensorKey < b.SensorKey
	})
}

func FilterDevice(readings []Reading, deviceID string) []Reading {
	if deviceID == "" {
		return readings
	}
	var result []Reading
	for _, r := range readings {
		if r.DeviceID == deviceID {
			result = append(result, r)
		}
	}
	return result
}

func GroupByDevice(readings []Reading) map[string][]Reading {
	grouped := make(map[string][]Reading)
	for _, r := range readings {
		grouped[r.DeviceID] = append(grouped[r.DeviceID], r)
	}
	return grouped
}

// LatestPerDevice keeps the n most recent readings of every device.
func LatestPerDevice(readings []Reading, n int) []Reading {
	if n <= 0 {
		return readings
	}
	sorted := append([]Reading(nil), readings...)
	SortNewestFirst(sorted)

	counts := make(map[string]int)
	var result []Reading
	for _, r := range sorted {
		if counts[r.DeviceID] >= n {
			continue
		}
		counts[r.DeviceID]++
		result = append(result, r)
	}
	return result
}

// Balance picks n readings in total, taking the most recent reading of each
// device in turn so that no single device can crowd out the others.
func Balance(readings []Reading, deviceIDs []string, n int) []Reading {
	if n <= 0 || len(readings) <= n {
		return readings
	}

	grouped := GroupByDevice(readings)
	order := append([]string(nil), deviceIDs...)
	for id := range grouped {
		if !contains(order, id) {
			order = append(order, id)
		}
	}
	sort.SliceStable(order[len(deviceIDs):], func(i, j int) bool {
		return order[len(deviceIDs)+i] < order[len(deviceIDs)+j]
	})

	for _, id := range order {
		SortNewestFirst(grouped[id])
	}

	cursor := make(map[string]int)
	var result []Reading
	for len(result) < n {
		progressed := false
		for _, id := range order {
			if len(result) >= n {
				break
			}
			i := cursor[id]
			if i >= len(grouped[id]) {
				continue
			}
			result = append(result, grouped[id][i])
			cursor[id] = i + 1
			progressed = true
		}
		if !progressed {
			break
		}
	}

	SortNewestFirst(result)
	return result
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}
