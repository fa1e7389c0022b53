package stats

import (
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/strrl/sensor-chat/internal/sensors"
)

// Series is the readings of one sensor on one device, oldest first.
type Series struct {
	DeviceID  string
	SensorKey string
	Unit      string
	Category  sensors.Category
	Readings  []sensors.Reading
}

func (s Series) Name() string {
	return s.DeviceID + "/" + s.SensorKey
}

func (s Series) Values() []float64 {
	values := make([]float64, len(s.Readings))
	for i, r := range s.Readings {
		values[i] = r.Value
	}
	return values
}

type Summary struct {
	Count  int       `json:"count"`
	Mean   float64   `json:"mean"`
	StdDev float64   `json:"std_dev"`
	Min    float64   `json:"min"`
	Max    float64   `json:"max"`
	Last   float64   `json:"last"`
	First  time.Time `json:"first"`
	LastAt time.Time `json:"last_at"`
}

func Summarize(s Series) Summary {
	if len(s.Readings) == 0 {
		return Summary{}
	}
	values := s.Values()
	mean, std := stat.MeanStdDev(values, nil)
	if len(values) < 2 {
		std = 0
	}
	last := s.Readings[len(s.Readings)-1]
	return Summary{
		Count:  len(values),
		Mean:   mean,
		StdDev: std,
		Min:    floats.Min(values),
		Max:    floats.Max(values),
		Last:   last.Value,
		First:  s.Readings[0].Timestamp,
		LastAt: last.Timestamp,
	}
}

// Partition splits readings into one series per (device, sensor key). Series
// follow whitelist order; keys unknown to the whitelist sort after, by name.
func Partition(readings []sensors.Reading, wl *sensors.Whitelist) []Series {
	index := make(map[string]int)
	var result []Series

	add := func(deviceID, key string) {
		name := deviceID + "/" + key
		if _, ok := index[name]; ok {
			return
		}
		s := Series{DeviceID: deviceID, SensorKey: key}
		if sensor, ok := wl.Sensor(deviceID, key); ok {
			s.Unit = sensor.Unit
			s.Category = sensor.Category
		}
		index[name] = len(result)
		result = append(result, s)
	}

	for _, d := range wl.Devices() {
		for _, sensor := range d.Sensors {
			add(d.ID, sensor.Key)
		}
	}
	known := len(result)

	for _, r := range readings {
		add(r.DeviceID, r.SensorKey)
		i := index[r.DeviceID+"/"+r.SensorKey]
		result[i].Readings = append(result[i].Readings, r)
		if result[i].Unit == "" {
			result[i].Unit = r.Unit
		}
	}

	extra := result[known:]
	sort.SliceStable(extra, func(i, j int) bool { return extra[i].Name() < extra[j].Name() })

	var nonEmpty []Series
	for _, s := range result {
		if len(s.Readings) == 0 {
			continue
		}
		sort.SliceStable(s.Readings, func(i, j int) bool {
			return s.Readings[i].Timestamp.Before(s.Readings[j].Timestamp)
		})
		nonEmpty = append(nonEmpty, s)
	}
	return nonEmpty
}

// Missing lists the whitelisted series of the given devices that have no
// readings. An empty deviceID means every device.
func Missing(series []Series, wl *sensors.Whitelist, deviceID string) []Series {
	present := make(map[string]bool, len(series))
	for _, s := range series {
		present[s.Name()] = true
	}

	var missing []Series
	for _, d := range wl.Devices() {
		if deviceID != "" && d.ID != deviceID {
			continue
		}
		for _, sensor := range d.Sensors {
			s := Series{DeviceID: d.ID, SensorKey: sensor.Key, Unit: sensor.Unit, Category: sensor.Category}
			if !present[s.Name()] {
				missing = append(missing, s)
			}
		}
	}
	return missing
}
