package parser

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strrl/sensor-chat/internal/db"
	"github.com/strrl/sensor-chat/internal/gateway"
	"github.com/strrl/sensor-chat/internal/sensors"
)

func newSource(t *testing.T) *FileSource {
	t.Helper()
	database, err := db.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	src, err := NewFileSource(database, "testdata/feed.json")
	require.NoError(t, err)
	return src
}

func TestFileSource_Window(t *testing.T) {
	src := newSource(t)

	res, err := src.Fetch(context.Background(), gateway.Query{Hours: 6})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Skipped)
	assert.Len(t, res.Readings, 4)
	assert.Equal(t, time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC), res.FetchedAt)
	assert.Equal(t, 24.1, res.Readings[2].Value)
}

func TestFileSource_DeviceAndLimit(t *testing.T) {
	src := newSource(t)

	res, err := src.Fetch(context.Background(), gateway.Query{DeviceID: sensors.ESP32DeviceID, Hours: 24, Limit: 2})
	require.NoError(t, err)
	require.Len(t, res.Readings, 2)
	for _, r := range res.Readings {
		assert.Equal(t, sensors.ESP32DeviceID, r.DeviceID)
	}

	all, err := src.Fetch(context.Background(), gateway.Query{Hours: 48})
	require.NoError(t, err)
	assert.Len(t, all.Readings, 5)
}

func TestNewFileSource_RejectsQuotes(t *testing.T) {
	_, err := NewFileSource(nil, "x'; DROP TABLE readings; --")
	assert.Error(t, err)
}
