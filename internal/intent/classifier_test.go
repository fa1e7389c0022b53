package intent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strrl/sensor-chat/internal/sensors"
)

func newTestClassifier() *Classifier {
	return NewClassifier(sensors.DefaultWhitelist())
}

func TestGenericNounsNeverTriggerChart(t *testing.T) {
	c := newTestClassifier()
	for _, text := range []string{
		"dame los datos",
		"¿qué dice el sensor?",
		"muéstrame los registros",
		"datos del sensor de temperatura",
		"mostrar registros del esp32",
		"quiero ver los datos de las últimas 3 horas",
	} {
		got := c.Classify(text, nil)
		assert.NotEqual(t, KindChartRequest, got.Kind, text)
		assert.Equal(t, KindDataQuery, got.Kind, text)
	}
}

func TestExplicitChartKeywords(t *testing.T) {
	c := newTestClassifier()
	for _, text := range []string{
		"haz una grafica de la temperatura",
		"Mostrar gráfico del LDR",
		"quiero visualizar el arduino",
		"plot the last 2 hours",
		"GRÁFICO por favor",
	} {
		assert.Equal(t, KindChartRequest, c.Classify(text, nil).Kind, text)
	}
}

func TestReportTakesPrecedenceOverChart(t *testing.T) {
	c := newTestClassifier()

	got := c.Classify("genera un informe con gráficos de las últimas 12 horas", nil)
	assert.Equal(t, KindReportRequest, got.Kind)
	assert.Equal(t, "report_keyword", got.Rule)
	assert.Equal(t, 12, got.Window.Hours)
	assert.Equal(t, MethodPaginated, got.Window.Method)
}

func TestGeneralChatFallback(t *testing.T) {
	c := newTestClassifier()
	got := c.Classify("hola, ¿cómo estás?", nil)
	assert.Equal(t, KindGeneralChat, got.Kind)
	assert.Equal(t, "fallback", got.Rule)
	assert.Equal(t, DefaultHours, got.Window.Hours)
	assert.False(t, got.WindowExplicit)
}

func TestDeviceAliases(t *testing.T) {
	c := newTestClassifier()

	assert.Equal(t, sensors.ESP32DeviceID, c.Classify("temperatura del esp32", nil).DeviceID)
	assert.Equal(t, sensors.ArduinoDeviceID, c.Classify("lecturas del Arduino", nil).DeviceID)
	assert.Equal(t, sensors.ArduinoDeviceID, c.Classify("arduino_eth_001 estado", nil).DeviceID)

	both := c.Classify("compara esp32 y arduino", nil)
	assert.Empty(t, both.DeviceID)
	assert.Equal(t, KindDataQuery, both.Kind)

	assert.Empty(t, c.Classify("datos del raspberry", nil).DeviceID)
}

func TestTimeWindowParsing(t *testing.T) {
	c := newTestClassifier()

	cases := []struct {
		text   string
		hours  int
		method Method
	}{
		{"datos de las últimas 3 horas", 3, MethodStandard},
		{"temperatura 6h", 6, MethodStandard},
		{"datos de 7 horas", 7, MethodPaginated},
		{"lecturas de los últimos 90 minutos", 2, MethodStandard},
		{"datos de 2 días", 48, MethodPaginated},
		{"datos de la última hora", 1, MethodStandard},
		{"datos de la última semana", 168, MethodPaginated},
		{"datos", 24, MethodPaginated},
	}

	for _, tc := range cases {
		got := c.Classify(tc.text, nil)
		assert.Equal(t, tc.hours, got.Window.Hours, tc.text)
		assert.Equal(t, tc.method, got.Window.Method, tc.text)
	}
}

func TestRecordCaps(t *testing.T) {
	assert.Equal(t, StandardRecordCap, NewTimeWindow(6).RecordCap())
	assert.Equal(t, PaginatedRecordCap, NewTimeWindow(7).RecordCap())
	assert.Equal(t, DefaultHours, NewTimeWindow(0).Hours)
}

func TestLimitAndPerDevice(t *testing.T) {
	c := newTestClassifier()
	got := c.Classify("últimos 10 registros de cada dispositivo", nil)

	assert.Equal(t, KindDataQuery, got.Kind)
	assert.Equal(t, 10, got.Limit)
	assert.True(t, got.PerDevice)
	assert.Empty(t, got.DeviceID)
}

func TestDeviceAliasDigitsAreNotCounts(t *testing.T) {
	c := newTestClassifier()

	got := c.Classify("esp32 datos", nil)
	assert.Equal(t, 0, got.Limit)
	assert.Equal(t, sensors.ESP32DeviceID, got.DeviceID)

	got = c.Classify("esp32 lecturas de hoy", nil)
	assert.Equal(t, 0, got.Limit)
	assert.Equal(t, 24, got.Window.Hours)

	got = c.Classify("temperatura del esp32 h", nil)
	assert.Equal(t, DefaultHours, got.Window.Hours)
	assert.False(t, got.WindowExplicit)

	got = c.Classify("arduino_eth_001 datos de 3 horas", nil)
	assert.Equal(t, 3, got.Window.Hours)
	assert.Equal(t, 0, got.Limit)

	got = c.Classify("últimos 5 registros del esp32", nil)
	assert.Equal(t, 5, got.Limit)
}

func TestFollowUpInheritsPreviousKind(t *testing.T) {
	c := newTestClassifier()

	prev := c.Classify("gráfica del arduino", nil)
	require.Equal(t, KindChartRequest, prev.Kind)

	got := c.Classify("¿y en 48 h?", &prev)
	assert.Equal(t, KindChartRequest, got.Kind)
	assert.Equal(t, "follow_up", got.Rule)
	assert.Equal(t, sensors.ArduinoDeviceID, got.DeviceID)
	assert.Equal(t, 48, got.Window.Hours)

	general := c.Classify("hola", nil)
	notFollow := c.Classify("¿y en 48 h?", &general)
	assert.Equal(t, KindGeneralChat, notFollow.Kind)
}

func TestRulesAreOrdered(t *testing.T) {
	rules := newTestClassifier().Rules()
	require.NotEmpty(t, rules)
	assert.Equal(t, KindReportRequest, rules[0].Kind)
	assert.Equal(t, KindChartRequest, rules[1].Kind)
}
