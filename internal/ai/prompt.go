package ai

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/strrl/sensor-chat/internal/health"
	"github.com/strrl/sensor-chat/internal/sensors"
	"github.com/strrl/sensor-chat/internal/stats"
)

const maxPromptReadings = 40

type PromptInput struct {
	Question  string
	DeviceID  string
	Hours     int
	Readings  []sensors.Reading
	Series    []stats.Series
	Insights  []stats.Insight
	Alerts    []stats.Alert
	Health    health.Report
	Whitelist *sensors.Whitelist
	// History holds the previous turns, oldest first, as "role: text".
	History   []string
}

type promptSeries struct {
	Device string  `json:"device"`
	Sensor string  `json:"sensor"`
	Unit   string  `json:"unit,omitempty"`
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Last   float64 `json:"last"`
	LastAt string  `json:"last_at"`
	Trend  string  `json:"trend,omitempty"`
}

type promptReading struct {
	Device    string  `json:"device"`
	Sensor    string  `json:"sensor"`
	Value     float64 `json:"value"`
	Timestamp string  `json:"timestamp"`
}

type promptContext struct {
	WindowHours int             `json:"window_hours"`
	Device      string          `json:"device,omitempty"`
	Health      string          `json:"health"`
	Series      []promptSeries  `json:"series"`
	Latest      []promptReading `json:"latest"`
	Alerts      []string        `json:"alerts,omitempty"`
	Total       int             `json:"total_readings"`
}

// SystemPrompt pins the model to the whitelisted sensors.
func SystemPrompt(wl *sensors.Whitelist) string {
	return fmt.Sprintf(`Eres un asistente de monitoreo IoT. Respondes en español, de forma breve y precisa.
Los únicos dispositivos y sensores que existen son:
%s
No menciones ningún otro sensor ni magnitud (por ejemplo humedad, presión, CO2, voltaje o movimiento).
Usa solo los datos entregados; si no hay datos, dilo.`, wl.Describe())
}

// BuildAnswerPrompt returns the system and user prompts for a chat answer.
func BuildAnswerPrompt(in PromptInput) (string, string, error) {
	ctx := promptContext{
		WindowHours: in.Hours,
		Device:      in.DeviceID,
		Health:      health.StatusLine(in.Health),
		Total:       len(in.Readings),
	}

	for i, s := range in.Series {
		sum := stats.Summarize(s)
		var trend string
		if i < len(in.Insights) && in.Insights[i].Trend != nil {
			trend = in.Insights[i].Trend.Text(s.Unit)
		}
		ctx.Series = append(ctx.Series, promptSeries{
			Device: s.DeviceID,
			Sensor: s.SensorKey,
			Unit:   s.Unit,
			Count:  sum.Count,
			Mean:   round2(sum.Mean),
			StdDev: round2(sum.StdDev),
			Min:    sum.Min,
			Max:    sum.Max,
			Last:   sum.Last,
			LastAt: sum.LastAt.UTC().Format(time.RFC3339),
			Trend:  trend,
		})
	}
	for _, a := range in.Alerts {
		ctx.Alerts = append(ctx.Alerts, a.Text())
	}

	for i, r := range in.Readings {
		if i >= maxPromptReadings {
			break
		}
		ctx.Latest = append(ctx.Latest, promptReading{
			Device:    r.DeviceID,
			Sensor:    r.SensorKey,
			Value:     r.Value,
			Timestamp: r.Timestamp.UTC().Format(time.RFC3339),
		})
	}

	payload, err := json.Marshal(ctx)
	if err != nil {
		return "", "", fmt.Errorf("failed to serialize prompt context: %w", err)
	}

	var history string
	if len(in.History) > 0 {
		history = "Conversación previa:\n" + strings.Join(in.History, "\n") + "\n\n"
	}

	userPrompt := fmt.Sprintf(`%sDatos disponibles (JSON):
%s

Pregunta del usuario: %s

Reglas:
- Cita valores con su unidad y dispositivo.
- Si hay alertas, menciónalas primero.
- Si la pregunta pide un sensor que no existe, explica cuáles sí existen.
- No inventes lecturas ni sensores.
`, history, string(payload), in.Question)

	return SystemPrompt(in.Whitelist), userPrompt, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// BuildChatPrompt is used for conversation that needs no readings.
func BuildChatPrompt(question string, history []string, wl *sensors.Whitelist) (string, string) {
	var sb strings.Builder
	if len(history) > 0 {
		sb.WriteString("Conversación previa:\n")
		sb.WriteString(strings.Join(history, "\n"))
		sb.WriteString("\n\n")
	}
	sb.WriteString("Mensaje del usuario: ")
	sb.WriteString(question)
	sb.WriteString("\n\nResponde sin inventar lecturas. Si el usuario quiere datos, sugiere cómo pedirlos.\n")
	return SystemPrompt(wl), sb.String()
}
