package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/strrl/sensor-chat/internal/sensors"
)

const schema = `
CREATE TABLE IF NOT EXISTS readings (
	device_id  VARCHAR NOT NULL,
	sensor_key VARCHAR NOT NULL,
	value      DOUBLE NOT NULL,
	unit       VARCHAR,
	ts         TIMESTAMP NOT NULL,
	fetched_at TIMESTAMP NOT NULL,
	PRIMARY KEY (device_id, sensor_key, ts)
)`

// Archive keeps every validated reading the assistant has fetched so that
// history questions work while the gateway is down.
type Archive struct {
	db *sql.DB
}

func NewArchive(db *sql.DB) (*Archive, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to create readings table: %w", err)
	}
	return &Archive{db: db}, nil
}

// Store inserts readings, ignoring ones already archived. It returns how many
// rows were new.
func (a *Archive) Store(ctx context.Context, readings []sensors.Reading, fetchedAt time.Time) (int, error) {
	if len(readings) == 0 {
		return 0, nil
	}

	before, err := a.count(ctx)
	if err != nil {
		return 0, err
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin archive transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO readings VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare archive insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range readings {
		if _, err := stmt.ExecContext(ctx, r.DeviceID, r.SensorKey, r.Value, r.Unit, r.Timestamp.UTC(), fetchedAt.UTC()); err != nil {
			return 0, fmt.Errorf("failed to archive reading %s: %w", r.Key(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit archive: %w", err)
	}

	after, err := a.count(ctx)
	if err != nil {
		return 0, err
	}
	return after - before, nil
}

func (a *Archive) count(ctx context.Context) (int, error) {
	var n int
	if err := a.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM readings`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count archived readings: %w", err)
	}
	return n, nil
}

type Summary struct {
	DeviceID  string
	SensorKey string
	Unit      string
	Count     int
	Avg       float64
	StdDev    float64
	Min       float64
	Max       float64
	First     time.Time
	Last      time.Time
}

// Summaries aggregates archived readings per device and sensor since the given
// time. A zero since covers the whole archive.
func (a *Archive) Summaries(ctx context.Context, since time.Time) ([]Summary, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT
			device_id,
			sensor_key,
			COALESCE(MAX(unit), '') AS unit,
			COUNT(*) AS n,
			AVG(value) AS avg,
			STDDEV_SAMP(value) AS std,
			MIN(value) AS min,
			MAX(value) AS max,
			MIN(ts) AS first,
			MAX(ts) AS last
		FROM readings
		WHERE ts >= ?
		GROUP BY device_id, sensor_key
		ORDER BY device_id, sensor_key
	`, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query archive summaries: %w", err)
	}
	defer rows.Close()

	var result []Summary
	for rows.Next() {
		var (
			s   Summary
			std sql.NullFloat64
		)
		if err := rows.Scan(&s.DeviceID, &s.SensorKey, &s.Unit, &s.Count, &s.Avg, &std, &s.Min, &s.Max, &s.First, &s.Last); err != nil {
			return nil, fmt.Errorf("failed to scan archive summary: %w", err)
		}
		s.StdDev = std.Float64
		result = append(result, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return result, nil
}

// Recent returns archived readings newer than since, newest first.
func (a *Archive) Recent(ctx context.Context, deviceID string, since time.Time, limit int) ([]sensors.Reading, error) {
	if limit <= 0 {
		limit = 200
	}

	query := fmt.Sprintf(`
		SELECT device_id, sensor_key, value, COALESCE(unit, ''), ts
		FROM readings
		WHERE ts >= ? AND (? = '' OR device_id = ?)
		ORDER BY ts DESC, device_id, sensor_key
		LIMIT %d
	`, limit)

	rows, err := a.db.QueryContext(ctx, query, since.UTC(), deviceID, deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query archived readings: %w", err)
	}
	defer rows.Close()

	var result []sensors.Reading
	for rows.Next() {
		var r sensors.Reading
		if err := rows.Scan(&r.DeviceID, &r.SensorKey, &r.Value, &r.Unit, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan archived reading: %w", err)
		}
		r.Timestamp = r.Timestamp.UTC()
		result = append(result, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return result, nil
}
