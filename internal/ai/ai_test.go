package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strrl/sensor-chat/internal/health"
	"github.com/strrl/sensor-chat/internal/sensors"
	"github.com/strrl/sensor-chat/internal/stats"
)

func TestClient_Chat(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices": [{"message": {"content": "La temperatura es 21 °C."}}]}`))
	}))
	defer srv.Close()

	c, err := NewClient(Config{OpenRouterAPIKey: "test-key", OpenRouterURL: srv.URL, Model: "test-model"})
	require.NoError(t, err)

	text, err := c.Chat(context.Background(), "system", "user")
	require.NoError(t, err)
	assert.Equal(t, "La temperatura es 21 °C.", text)
	assert.Equal(t, "test-model", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, 0.1, got.Temperature)
	assert.Equal(t, "openrouter:test-model", c.Name())
}

func TestClient_ChatErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{name: "quota", status: http.StatusTooManyRequests, body: `{"error": {"message": "quota exceeded"}}`, want: "quota exceeded"},
		{name: "error field", status: http.StatusOK, body: `{"error": {"message": "model offline"}}`, want: "model offline"},
		{name: "no choices", status: http.StatusOK, body: `{"choices": []}`, want: "no choices"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c, err := NewClient(Config{OpenRouterAPIKey: "k", OpenRouterURL: srv.URL, Timeout: time.Second})
			require.NoError(t, err)

			_, err = c.Chat(context.Background(), "s", "u")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestNewClient_RequiresKey(t *testing.T) {
	_, err := NewClient(Config{})
	assert.ErrorIs(t, err, errMissingAPIKey)
}

func TestNewGenerator_Precedence(t *testing.T) {
	ctx := context.Background()

	_, err := NewGenerator(ctx, Config{})
	assert.True(t, errors.Is(err, ErrNoProvider))

	_, err = NewGenerator(ctx, Config{Provider: ProviderNone, OpenRouterAPIKey: "k"})
	assert.True(t, errors.Is(err, ErrNoProvider))

	gen, err := NewGenerator(ctx, Config{OpenRouterAPIKey: "k", GeminiAPIKey: "g"})
	require.NoError(t, err)
	assert.IsType(t, &Client{}, gen)

	_, err = NewGenerator(ctx, Config{Provider: ProviderGemini})
	assert.Error(t, err)

	_, err = NewGenerator(ctx, Config{Provider: "claude"})
	assert.Error(t, err)
}

func TestBuildAnswerPrompt(t *testing.T) {
	wl := sensors.DefaultWhitelist()
	now := time.Date(2025, 1, 10, 10, 0, 0, 0, time.UTC)
	readings := []sensors.Reading{
		{DeviceID: sensors.ESP32DeviceID, SensorKey: "ntc_entrada", Value: 22.4, Timestamp: now},
		{DeviceID: sensors.ESP32DeviceID, SensorKey: "ntc_entrada", Value: 22.0, Timestamp: now.Add(-time.Minute)},
	}
	report := health.NewScorer(health.DefaultConfig(), wl).Score(readings, now)
	series := stats.Partition(readings, wl)
	insights, _ := stats.AnalyzeAll(series, wl, stats.DefaultInsightConfig())
	alert := stats.Alert{DeviceID: sensors.ESP32DeviceID, SensorKey: "ntc_entrada", Kind: stats.AlertAboveRange,
		Severity: stats.SeverityCritical, Value: 61, Count: 1, Unit: "°C", Timestamp: now}

	system, user, err := BuildAnswerPrompt(PromptInput{
		Question:  "¿Cuál es la temperatura del esp32?",
		DeviceID:  sensors.ESP32DeviceID,
		Hours:     3,
		Readings:  readings,
		Series:    series,
		Insights:  insights,
		Alerts:    []stats.Alert{alert},
		Health:    report,
		Whitelist: wl,
		History:   []string{"user: hola"},
	})
	require.NoError(t, err)

	assert.Contains(t, system, "esp32_wifi_001")
	assert.Contains(t, system, "temperature_avg")
	assert.Contains(t, user, "¿Cuál es la temperatura del esp32?")
	assert.Contains(t, user, `"window_hours":3`)
	assert.Contains(t, user, `"mean":22.2`)
	assert.Contains(t, user, "user: hola")
	assert.Contains(t, user, health.StatusLine(report))
	assert.Contains(t, user, `"trend":"tendencia al alza (+24.00 °C/h)"`)
	assert.Contains(t, user, alert.Text())
}

func TestBuildChatPrompt(t *testing.T) {
	wl := sensors.DefaultWhitelist()

	system, user := BuildChatPrompt("hola, ¿qué puedes hacer?", []string{"usuario: buenas"}, wl)

	assert.Contains(t, system, "ntc_salida")
	assert.Contains(t, user, "hola, ¿qué puedes hacer?")
	assert.Contains(t, user, "usuario: buenas")
	assert.NotContains(t, user, "Salud del sistema")
}
