package validate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strrl/sensor-chat/internal/sensors"
)

func newTestValidator() *Validator {
	return New(sensors.DefaultWhitelist())
}

func TestScanDetectsForbiddenCategories(t *testing.T) {
	v := newTestValidator()

	cases := map[string]string{
		"La humedad relativa es del 45%":          "humidity",
		"Humidity is stable":                      "humidity",
		"La presión atmosférica es de 1013 hPa":   "pressure",
		"El nivel de CO2 es normal":               "co2",
		"El voltaje de la batería es 3.3":         "voltage",
		"No se detecta movimiento en el PIR":      "motion",
		"El sensor hum_1 reporta 40":              "humidity",
		"El pH del agua es 7":                     "ph",
	}

	for text, category := range cases {
		violations := v.Scan(text)
		require.NotEmpty(t, violations, text)
		found := false
		for _, viol := range violations {
			if viol.Category == category {
				found = true
			}
		}
		assert.True(t, found, "expected %s in %q, got %+v", category, text, violations)
	}
}

func TestScanDetectsVariantForms(t *testing.T) {
	v := newTestValidator()

	cases := []struct {
		text     string
		category string
	}{
		{"El CO₂ se mantiene estable", "co2"},
		{"Los voltajes son normales", "voltage"},
		{"Las presiones registradas son estables", "pressure"},
		{"Humedades relativas altas", "humidity"},
		{"45%RH", "humidity"},
		{"1013hPa", "pressure"},
		{"Lectura de 415ppm", "co2"},
		{"Barómetro a 1009mbar", "pressure"},
		{"hum_interior marca 40", "humidity"},
	}

	for _, tc := range cases {
		t.Run(tc.text, func(t *testing.T) {
			violations := v.Scan(tc.text)
			categories := make([]string, 0, len(violations))
			for _, viol := range violations {
				categories = append(categories, viol.Category)
			}
			assert.Contains(t, categories, tc.category)

			out := v.Redact(tc.text)
			assert.NotEqual(t, tc.text, out)
			assert.True(t, v.Valid(out), "redacted %q still invalid: %q", tc.text, out)
		})
	}
}

func TestScanAcceptsRealSensors(t *testing.T) {
	v := newTestValidator()
	text := "El esp32_wifi_001 reporta ldr=120 y ntc_entrada=22.5 °C; " +
		"el arduino_eth_001 marca temperature_avg=24.1 °C. Todo dentro de rango."
	assert.Empty(t, v.Scan(text))
	assert.True(t, v.Valid("La temperatura promedio es 23 °C"))
}

func TestScanAvoidsSubstringFalsePositives(t *testing.T) {
	v := newTestValidator()
	// "phase" contains "ph", "pirámide" contains "pir", "flujograma" is not "flujo".
	assert.Empty(t, v.Scan("phase one, pirámide, flujograma"))
}

func TestScanFlagsUnknownSensorIdentifiers(t *testing.T) {
	v := newTestValidator()
	violations := v.Scan("El temperature_3 marca 30 °C")
	require.Len(t, violations, 1)
	assert.Equal(t, "unknown_sensor", violations[0].Category)
	assert.Equal(t, "temperature_3", violations[0].Keyword)
}

func TestCleanDropsNonWhitelistedReadings(t *testing.T) {
	v := newTestValidator()
	now := time.Now()
	readings := []sensors.Reading{
		{DeviceID: sensors.ESP32DeviceID, SensorKey: "ldr", Timestamp: now},
		{DeviceID: sensors.ESP32DeviceID, SensorKey: "humidity", Timestamp: now},
		{DeviceID: sensors.ArduinoDeviceID, SensorKey: "ldr", Timestamp: now},
		{DeviceID: sensors.ArduinoDeviceID, SensorKey: "temperature_2", Timestamp: now},
	}

	kept, dropped := v.Clean(readings)
	assert.Equal(t, 2, dropped)
	require.Len(t, kept, 2)
	assert.Equal(t, "ldr", kept[0].SensorKey)
	assert.Equal(t, "temperature_2", kept[1].SensorKey)
}

func TestCorrectionPromptListsWhitelist(t *testing.T) {
	v := newTestValidator()
	prompt := v.CorrectionPrompt(v.Scan("la humedad es alta"))
	assert.Contains(t, prompt, "ntc_entrada")
	assert.Contains(t, prompt, "temperature_avg")
	assert.Contains(t, prompt, "humedad")
	assert.Empty(t, v.CorrectionPrompt(nil))
}

func TestRedactAlwaysProducesValidText(t *testing.T) {
	v := newTestValidator()
	inputs := []string{
		"Temperatura 22 °C, humedad 40%, presión 1013 hPa",
		"Niveles de dióxido de carbono en 400 ppm\nTemperatura estable",
		"sensor_x y hum_2 reportan valores",
		"todo correcto",
	}
	for _, in := range inputs {
		out := v.Redact(in)
		assert.True(t, v.Valid(out), "redacted %q still invalid: %q", in, out)
	}

	assert.Equal(t, "todo correcto", v.Redact("todo correcto"))
	assert.Contains(t, v.Redact("Niveles de dióxido de carbono\nTemperatura estable"), "Temperatura estable")
}
