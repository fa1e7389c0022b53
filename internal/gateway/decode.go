package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/strrl/sensor-chat/internal/sensors"
)

type envelope struct {
	Success *bool           `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

type wireReading struct {
	DeviceID   string          `json:"device_id"`
	SensorType string          `json:"sensor_type"`
	SensorKey  string          `json:"sensor_key"`
	Value      json.RawMessage `json:"value"`
	Unit       string          `json:"unit"`
	Timestamp  string          `json:"timestamp"`
}

// payload is the decoded body of a /data response.
type payload struct {
	Readings []sensors.Reading
	Skipped  int
	Raw      int
}

// decodePayload accepts either {"success": ..., "data": [...]} or a bare
// array. Top-level keys are never interpreted as devices.
func decodePayload(body []byte) (*payload, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrMalformedResponse)
	}

	var items []json.RawMessage
	switch trimmed[0] {
	case '[':
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
	case '{':
		var env envelope
		if err := json.Unmarshal(trimmed, &env); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		if env.Success != nil && !*env.Success {
			msg := env.Message
			if msg == "" {
				msg = "gateway reported success=false"
			}
			return nil, &RemoteError{Op: "decode", Message: msg}
		}
		data := bytes.TrimSpace(env.Data)
		if len(data) == 0 || bytes.Equal(data, []byte("null")) {
			return &payload{}, nil
		}
		if data[0] != '[' {
			return nil, fmt.Errorf("%w: data is not a list", ErrMalformedResponse)
		}
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
	default:
		return nil, fmt.Errorf("%w: unexpected top-level JSON", ErrMalformedResponse)
	}

	p := &payload{Raw: len(items)}
	for _, item := range items {
		r, ok := decodeReading(item)
		if !ok {
			p.Skipped++
			continue
		}
		p.Readings = append(p.Readings, r)
	}
	return p, nil
}

func decodeReading(raw json.RawMessage) (sensors.Reading, bool) {
	var w wireReading
	if err := json.Unmarshal(raw, &w); err != nil {
		return sensors.Reading{}, false
	}

	key := w.SensorType
	if key == "" {
		key = w.SensorKey
	}
	if w.DeviceID == "" || key == "" {
		return sensors.Reading{}, false
	}

	value, ok := parseValue(w.Value)
	if !ok {
		return sensors.Reading{}, false
	}

	ts, ok := ParseTimestamp(w.Timestamp)
	if !ok {
		return sensors.Reading{}, false
	}

	return sensors.Reading{
		DeviceID:  strings.TrimSpace(w.DeviceID),
		SensorKey: strings.TrimSpace(key),
		Value:     value,
		Unit:      w.Unit,
		Timestamp: ts,
	}, true
}

func parseValue(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err == nil {
			return v, true
		}
	}
	return 0, false
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseTimestamp accepts RFC3339 and the zone-less ISO forms the gateway
// emits. Zone-less timestamps are taken as UTC.
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
