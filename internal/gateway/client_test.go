package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strrl/sensor-chat/internal/sensors"
)

var baseTime = time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)

// fakeGateway serves a fixed, newest-first record list with limit/offset
// semantics. The device_id parameter is ignored, as the real endpoint does.
type fakeGateway struct {
	records  []map[string]interface{}
	requests int32
}

func newFakeGateway(n int) *fakeGateway {
	g := &fakeGateway{}
	for i := 0; i < n; i++ {
		device := sensors.ESP32DeviceID
		key := "ldr_raw"
		if i%2 == 1 {
			device = sensors.ArduinoDeviceID
			key = "temperature_1"
		}
		g.records = append(g.records, map[string]interface{}{
			"device_id":   device,
			"sensor_type": key,
			"value":       float64(20 + i%5),
			"timestamp":   baseTime.Add(-time.Duration(i) * time.Minute).Format("2006-01-02T15:04:05"),
		})
	}
	return g
}

func (g *fakeGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt32(&g.requests, 1)
	if r.URL.Path == "/health" {
		_, _ = w.Write([]byte(`{"status": "ok"}`))
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset > len(g.records) {
		offset = len(g.records)
	}
	end := offset + limit
	if end > len(g.records) {
		end = len(g.records)
	}

	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"data":    g.records[offset:end],
	})
}

func newTestClient(t *testing.T, url string, cfg Config) *Client {
	t.Helper()
	if cfg.RetryWait == 0 {
		cfg.RetryWait = time.Millisecond
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 2 * time.Second
	}
	c := NewClient(NewResolver(StaticURL(url), time.Minute, nil), cfg, nil)
	c.now = func() time.Time { return baseTime }
	t.Cleanup(func() { c.http.GetClient().CloseIdleConnections() })
	return c
}

func TestClient_StandardFetch(t *testing.T) {
	gw := newFakeGateway(50)
	srv := httptest.NewServer(gw)
	defer srv.Close()

	c := newTestClient(t, srv.URL, Config{})
	res, err := c.Fetch(context.Background(), Query{Hours: 3, Limit: 10})
	require.NoError(t, err)

	assert.Equal(t, "standard", res.Method)
	assert.Equal(t, 1, res.Pages)
	assert.Len(t, res.Readings, 10)
	assert.Equal(t, baseTime, res.FetchedAt)
	for i := 1; i < len(res.Readings); i++ {
		assert.False(t, res.Readings[i].Timestamp.After(res.Readings[i-1].Timestamp))
	}
}

func TestClient_StandardFetchCapsAtPageSize(t *testing.T) {
	gw := newFakeGateway(500)
	srv := httptest.NewServer(gw)
	defer srv.Close()

	c := newTestClient(t, srv.URL, Config{})
	res, err := c.Fetch(context.Background(), Query{Hours: 6, Limit: 1000})
	require.NoError(t, err)
	assert.Len(t, res.Readings, 200)
	assert.Equal(t, int32(1), atomic.LoadInt32(&gw.requests))
}

func TestClient_PaginatedFetch(t *testing.T) {
	gw := newFakeGateway(450)
	srv := httptest.NewServer(gw)
	defer srv.Close()

	c := newTestClient(t, srv.URL, Config{})
	res, err := c.Fetch(context.Background(), Query{Hours: 48, Limit: 2000, Paginated: true})
	require.NoError(t, err)

	assert.Equal(t, "paginated", res.Method)
	assert.Len(t, res.Readings, 450)
	// 200 + 200 + 50, the short page ends the loop.
	assert.Equal(t, 3, res.Pages)
}

func TestClient_PaginatedFetchRespectsCap(t *testing.T) {
	gw := newFakeGateway(3000)
	srv := httptest.NewServer(gw)
	defer srv.Close()

	c := newTestClient(t, srv.URL, Config{})
	res, err := c.Fetch(context.Background(), Query{Hours: 72, Limit: 2000, Paginated: true})
	require.NoError(t, err)
	assert.Len(t, res.Readings, 2000)
	assert.Equal(t, 10, res.Pages)
}

func TestClient_PaginatedStopsWhenNoNewRecords(t *testing.T) {
	gw := newFakeGateway(200)
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		// Ignores offset and keeps returning the first page.
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"success": true, "data": gw.records})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, Config{})
	res, err := c.Fetch(context.Background(), Query{Hours: 24, Limit: 2000, Paginated: true})
	require.NoError(t, err)
	assert.Len(t, res.Readings, 200)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestClient_DeviceFilterAppliedClientSide(t *testing.T) {
	gw := newFakeGateway(5)
	srv := httptest.NewServer(gw)
	defer srv.Close()

	c := newTestClient(t, srv.URL, Config{ServerSideFilter: true})
	res, err := c.Fetch(context.Background(), Query{DeviceID: sensors.ESP32DeviceID, Hours: 3, Limit: 50})
	require.NoError(t, err)

	require.Len(t, res.Readings, 3)
	for _, r := range res.Readings {
		assert.Equal(t, sensors.ESP32DeviceID, r.DeviceID)
	}
}

func TestClient_MalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success": true, "data": {"not": "a list"}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, Config{})
	_, err := c.Fetch(context.Background(), Query{Hours: 1, Limit: 10})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformedResponse))
	assert.True(t, errors.Is(err, ErrRemoteUnavailable))
}

func TestClient_SuccessFalse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success": false, "message": "database offline"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, Config{})
	_, err := c.Fetch(context.Background(), Query{Hours: 1, Limit: 10})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRemoteUnavailable))
	assert.False(t, errors.Is(err, ErrMalformedResponse))
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"success": true, "data": []}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, Config{Retries: 3})
	res, err := c.Fetch(context.Background(), Query{Hours: 1, Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, res.Readings)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestClient_ExhaustedRetriesAreUnavailable(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, Config{Retries: 2})
	_, err := c.Fetch(context.Background(), Query{Hours: 1, Limit: 10})
	require.Error(t, err)

	var remote *RemoteError
	require.True(t, errors.As(err, &remote))
	assert.Equal(t, http.StatusServiceUnavailable, remote.Status)
	assert.True(t, errors.Is(err, ErrRemoteUnavailable))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestClient_ReResolvesAfterTransportFailure(t *testing.T) {
	gw := newFakeGateway(4)
	live := httptest.NewServer(gw)
	defer live.Close()

	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	var lookups int32
	resolver := NewResolver(func(context.Context) (string, error) {
		if atomic.AddInt32(&lookups, 1) == 1 {
			return deadURL, nil
		}
		return live.URL, nil
	}, time.Hour, nil)

	c := NewClient(resolver, Config{Retries: -1, Timeout: time.Second, RetryWait: time.Millisecond}, nil)
	defer c.http.GetClient().CloseIdleConnections()

	res, err := c.Fetch(context.Background(), Query{Hours: 1, Limit: 10})
	require.NoError(t, err)
	assert.Len(t, res.Readings, 4)
	assert.Equal(t, live.URL, resolver.Current())
}

func TestClient_Probe(t *testing.T) {
	srv := httptest.NewServer(newFakeGateway(0))
	defer srv.Close()

	c := newTestClient(t, srv.URL, Config{})
	url, _, err := c.Probe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, srv.URL, url)
	assert.Equal(t, fmt.Sprintf("gateway(%s)", srv.URL), c.String())
}

func TestBuildFluxQuery(t *testing.T) {
	flux := BuildFluxQuery("sensors", "sensor_data", Query{DeviceID: sensors.ESP32DeviceID, Hours: 12, Limit: 50})

	assert.Contains(t, flux, `from(bucket: "sensors")`)
	assert.Contains(t, flux, "range(start: -12h)")
	assert.Contains(t, flux, `r.device_id == "esp32_wifi_001"`)
	assert.Contains(t, flux, "limit(n: 50)")

	flux = BuildFluxQuery("sensors", "sensor_data", Query{})
	assert.Contains(t, flux, "range(start: -24h)")
	assert.NotContains(t, flux, "device_id")
	assert.NotContains(t, flux, "limit(")
}
