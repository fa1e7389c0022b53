package sensors

import (
	"fmt"
	"sort"
	"strings"
)

const (
	ESP32DeviceID   = "esp32_wifi_001"
	ArduinoDeviceID = "arduino_eth_001"
)

// Whitelist is the fixed set of physically installed sensors per device.
// Anything outside it is treated as a hallucination.
type Whitelist struct {
	devices []Device
	byID    map[string]Device
}

func DefaultDevices() []Device {
	return []Device{
		{
			ID:      ESP32DeviceID,
			Kind:    "esp32",
			Aliases: []string{"esp32", "esp 32", "esp-32", "wifi"},
			Sensors: []Sensor{
				{Key: "ldr", Category: CategoryLight, Unit: "raw", Min: 0, Max: 4095},
				{Key: "ntc_entrada", Category: CategoryTemperature, Unit: "°C", Min: -10, Max: 60},
				{Key: "ntc_salida", Category: CategoryTemperature, Unit: "°C", Min: -10, Max: 60},
			},
		},
		{
			ID:      ArduinoDeviceID,
			Kind:    "arduino",
			Aliases: []string{"arduino", "ethernet"},
			Sensors: []Sensor{
				{Key: "temperature_1", Category: CategoryTemperature, Unit: "°C", Min: -10, Max: 60},
				{Key: "temperature_2", Category: CategoryTemperature, Unit: "°C", Min: -10, Max: 60},
				{Key: "temperature_avg", Category: CategoryTemperature, Unit: "°C", Min: -10, Max: 60},
			},
		},
	}
}

func DefaultWhitelist() *Whitelist {
	wl, _ := NewWhitelist(DefaultDevices())
	return wl
}

func NewWhitelist(devices []Device) (*Whitelist, error) {
	if len(devices) == 0 {
		return nil, fmt.Errorf("whitelist needs at least one device")
	}

	wl := &Whitelist{byID: make(map[string]Device, len(devices))}
	for _, d := range devices {
		if d.ID == "" {
			return nil, fmt.Errorf("device without id")
		}
		if _, dup := wl.byID[d.ID]; dup {
			return nil, fmt.Errorf("duplicate device %q", d.ID)
		}
		if len(d.Sensors) == 0 {
			return nil, fmt.Errorf("device %q has no sensors", d.ID)
		}
		for _, s := range d.Sensors {
			if s.Key == "" {
				return nil, fmt.Errorf("device %q has a sensor without key", d.ID)
			}
			if s.Max < s.Min {
				return nil, fmt.Errorf("sensor %s/%s: max below min", d.ID, s.Key)
			}
		}
		wl.devices = append(wl.devices, d)
		wl.byID[d.ID] = d
	}
	return wl, nil
}

func (w *Whitelist) Devices() []Device {
	return w.devices
}

func (w *Whitelist) DeviceIDs() []string {
	ids := make([]string, 0, len(w.devices))
	for _, d := range w.devices {
		ids = append(ids, d.ID)
	}
	return ids
}

func (w *Whitelist) Device(id string) (Device, bool) {
	d, ok := w.byID[id]
	return d, ok
}

func (w *Whitelist) Sensor(deviceID, key string) (Sensor, bool) {
	d, ok := w.byID[deviceID]
	if !ok {
		return Sensor{}, false
	}
	return d.Sensor(key)
}

func (w *Whitelist) Allows(deviceID, key string) bool {
	_, ok := w.Sensor(deviceID, key)
	return ok
}

// HasSensorKey reports whether any device carries the key.
func (w *Whitelist) HasSensorKey(key string) bool {
	for _, d := range w.devices {
		if _, ok := d.Sensor(key); ok {
			return true
		}
	}
	return false
}

func (w *Whitelist) Categories() map[Category]bool {
	cats := make(map[Category]bool)
	for _, d := range w.devices {
		for _, s := range d.Sensors {
			cats[s.Category] = true
		}
	}
	return cats
}

// SensorsByCategory lists sensor keys per category, sorted.
func (w *Whitelist) SensorsByCategory() map[Category][]string {
	result := make(map[Category][]string)
	for _, d := range w.devices {
		for _, s := range d.Sensors {
			result[s.Category] = append(result[s.Category], s.Key)
		}
	}
	for cat := range result {
		sort.Strings(result[cat])
	}
	return result
}

// Describe renders the whitelist as plain text for prompts and help output.
func (w *Whitelist) Describe() string {
	var sb strings.Builder
	for _, d := range w.devices {
		keys := make([]string, 0, len(d.Sensors))
		for _, s := range d.Sensors {
			keys = append(keys, fmt.Sprintf("%s (%s, %s)", s.Key, s.Category.Label(), s.Unit))
		}
		sb.WriteString(fmt.Sprintf("- %s: %s\n", d.ID, strings.Join(keys, ", ")))
	}
	return sb.String()
}
