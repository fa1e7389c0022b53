package parser

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/strrl/sensor-chat/internal/gateway"
	"github.com/strrl/sensor-chat/internal/sensors"
)

// FileSource serves readings from JSON or NDJSON dumps of the gateway feed.
// The time window is anchored at the newest reading in the dump, so a
// recorded day replays the same way whenever it is loaded.
type FileSource struct {
	db      *sql.DB
	pattern string
}

func NewFileSource(db *sql.DB, pattern string) (*FileSource, error) {
	if strings.ContainsAny(pattern, "'") {
		return nil, fmt.Errorf("invalid dump path %q", pattern)
	}
	return &FileSource{db: db, pattern: pattern}, nil
}

func (s *FileSource) load(ctx context.Context) ([]sensors.Reading, int, error) {
	query := fmt.Sprintf(`
		SELECT
			COALESCE(device_id, ''),
			COALESCE(sensor_type, sensor_key, ''),
			TRY_CAST(value AS DOUBLE),
			COALESCE(unit, ''),
			COALESCE(timestamp, '')
		FROM read_json('%s',
			format = 'auto',
			union_by_name = true,
			ignore_errors = true,
			columns = {
				device_id: 'VARCHAR',
				sensor_type: 'VARCHAR',
				sensor_key: 'VARCHAR',
				value: 'VARCHAR',
				unit: 'VARCHAR',
				timestamp: 'VARCHAR'
			}
		)
	`, s.pattern)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read dump %s: %w", s.pattern, err)
	}
	defer rows.Close()

	var (
		readings []sensors.Reading
		skipped  int
	)
	for rows.Next() {
		var (
			deviceID, key, unit, ts string
			value                   sql.NullFloat64
		)
		if err := rows.Scan(&deviceID, &key, &value, &unit, &ts); err != nil {
			skipped++
			continue
		}
		parsed, ok := gateway.ParseTimestamp(ts)
		if deviceID == "" || key == "" || !value.Valid || !ok {
			skipped++
			continue
		}
		readings = append(readings, sensors.Reading{
			DeviceID:  deviceID,
			SensorKey: key,
			Value:     value.Float64,
			Unit:      unit,
			Timestamp: parsed,
		})
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rows iteration error: %w", err)
	}
	return readings, skipped, nil
}

func (s *FileSource) Fetch(ctx context.Context, q gateway.Query) (*gateway.Result, error) {
	readings, skipped, err := s.load(ctx)
	if err != nil {
		return nil, err
	}

	sensors.SortNewestFirst(readings)
	result := &gateway.Result{Method: "file", Source: "file:" + s.pattern, Pages: 1, Skipped: skipped}
	if len(readings) == 0 {
		result.FetchedAt = time.Now()
		return result, nil
	}

	newest := readings[0].Timestamp
	result.FetchedAt = newest

	readings = sensors.FilterDevice(readings, q.DeviceID)
	if q.Hours > 0 {
		cutoff := newest.Add(-time.Duration(q.Hours) * time.Hour)
		var inWindow []sensors.Reading
		for _, r := range readings {
			if !r.Timestamp.Before(cutoff) {
				inWindow = append(inWindow, r)
			}
		}
		readings = inWindow
	}
	if q.Limit > 0 && len(readings) > q.Limit {
		readings = readings[:q.Limit]
	}

	result.Readings = readings
	return result, nil
}

var _ gateway.Source = (*FileSource)(nil)
