package gateway

import (
	"context"
	"fmt"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"go.uber.org/zap"

	"github.com/strrl/sensor-chat/internal/sensors"
)

const defaultMeasurement = "sensor_data"

type InfluxConfig struct {
	URL         string
	Token       string
	Org         string
	Bucket      string
	Measurement string
}

// InfluxSource reads the same readings from an InfluxDB bucket the gateway
// mirrors into: measurement "sensor_data", tag device_id, one field per
// sensor key.
type InfluxSource struct {
	client      influxdb2.Client
	queryAPI    api.QueryAPI
	bucket      string
	measurement string
	logger      *zap.Logger
	now         func() time.Time
}

func NewInfluxSource(cfg InfluxConfig, logger *zap.Logger) (*InfluxSource, error) {
	if cfg.URL == "" || cfg.Token == "" || cfg.Org == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("influx source needs url, token, org and bucket")
	}
	if cfg.Measurement == "" {
		cfg.Measurement = defaultMeasurement
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &InfluxSource{
		client:      client,
		queryAPI:    client.QueryAPI(cfg.Org),
		bucket:      cfg.Bucket,
		measurement: cfg.Measurement,
		logger:      logger,
		now:         time.Now,
	}, nil
}

func (s *InfluxSource) Close() {
	s.client.Close()
}

func (s *InfluxSource) Fetch(ctx context.Context, q Query) (*Result, error) {
	flux := BuildFluxQuery(s.bucket, s.measurement, q)

	res, err := s.queryAPI.Query(ctx, flux)
	if err != nil {
		return nil, &RemoteError{Op: "flux", URL: s.bucket, Err: err}
	}
	defer res.Close()

	result := &Result{Method: "flux", Source: "influxdb", Pages: 1}
	for res.Next() {
		rec := res.Record()
		value, ok := toFloat(rec.Value())
		if !ok {
			result.Skipped++
			continue
		}
		deviceID, _ := rec.ValueByKey("device_id").(string)
		if deviceID == "" {
			result.Skipped++
			continue
		}
		result.Readings = append(result.Readings, sensors.Reading{
			DeviceID:  deviceID,
			SensorKey: rec.Field(),
			Value:     value,
			Timestamp: rec.Time().UTC(),
		})
	}
	if err := res.Err(); err != nil {
		return nil, &RemoteError{Op: "flux", URL: s.bucket, Malformed: true, Err: err}
	}

	result.Readings = sensors.FilterDevice(result.Readings, q.DeviceID)
	sensors.SortNewestFirst(result.Readings)
	if q.Limit > 0 && len(result.Readings) > q.Limit {
		result.Readings = result.Readings[:q.Limit]
	}
	result.FetchedAt = s.now()

	s.logger.Debug("Influx fetch complete", zap.Int("readings", len(result.Readings)))
	return result, nil
}

func BuildFluxQuery(bucket, measurement string, q Query) string {
	hours := q.Hours
	if hours <= 0 {
		hours = 24
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("from(bucket: %q)\n", bucket))
	sb.WriteString(fmt.Sprintf("  |> range(start: -%dh)\n", hours))
	sb.WriteString(fmt.Sprintf("  |> filter(fn: (r) => r._measurement == %q)\n", measurement))
	if q.DeviceID != "" {
		sb.WriteString(fmt.Sprintf("  |> filter(fn: (r) => r.device_id == %q)\n", q.DeviceID))
	}
	sb.WriteString("  |> group()\n")
	sb.WriteString("  |> sort(columns: [\"_time\"], desc: true)\n")
	if q.Limit > 0 {
		sb.WriteString(fmt.Sprintf("  |> limit(n: %d)\n", q.Limit))
	}
	return sb.String()
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

var _ Source = (*InfluxSource)(nil)
