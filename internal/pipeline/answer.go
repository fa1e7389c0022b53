package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/strrl/sensor-chat/internal/gateway"
	"github.com/strrl/sensor-chat/internal/intent"
	"github.com/strrl/sensor-chat/internal/sensors"
	"github.com/strrl/sensor-chat/internal/stats"
)

const maxListedReadings = 50

type composed struct {
	text        string
	source      string
	generator   string
	violations  int
	regenerated bool
}

// compose asks the generator for an answer and gates it through the
// validator. A rejected answer gets Regenerations corrected retries; after
// that, or when no generator is configured or it fails, the template answers.
func (p *Pipeline) compose(ctx context.Context, system, user string, fallback func() string) composed {
	if p.generator == nil || user == "" {
		return composed{text: fallback(), source: AnswerTemplate}
	}

	out := composed{generator: p.generator.Name()}
	prompt := user
	for attempt := 0; attempt <= p.config.Regenerations; attempt++ {
		text, err := p.generator.Chat(ctx, system, prompt)
		if err != nil {
			p.logger.Warn("LLM call failed, answering from template",
				zap.String("generator", out.generator), zap.Error(err))
			break
		}

		violations := p.validator.Scan(text)
		if len(violations) == 0 {
			out.text = strings.TrimSpace(text)
			out.source = AnswerLLM
			return out
		}

		out.violations += len(violations)
		p.logger.Warn("LLM answer rejected",
			zap.Int("attempt", attempt),
			zap.Int("violations", len(violations)),
			zap.String("first", violations[0].Keyword))

		if attempt < p.config.Regenerations {
			out.regenerated = true
			prompt = user + "\n\n" + p.validator.CorrectionPrompt(violations)
		}
	}

	out.text = fallback()
	out.source = AnswerTemplate
	return out
}

func deviceLabel(deviceID string) string {
	if deviceID == "" {
		return "ningún dispositivo"
	}
	return deviceID
}

func emptyMessage(in intent.Intent) string {
	return fmt.Sprintf("No hay datos de %s en las últimas %d h.", deviceLabel(in.DeviceID), in.Window.Hours)
}

// diagnosticMessage explains a failed fetch without guessing at values.
func diagnosticMessage(err error) string {
	reason := "sin conexión con el gateway"
	var remote *gateway.RemoteError
	switch {
	case errors.As(err, &remote) && remote.Status != 0:
		reason = fmt.Sprintf("el gateway respondió con estado %d", remote.Status)
	case errors.Is(err, gateway.ErrMalformedResponse):
		reason = "el gateway devolvió una respuesta ilegible"
	case errors.As(err, &remote) && remote.Message != "":
		reason = "el gateway informó un error: " + remote.Message
	}

	var sb strings.Builder
	sb.WriteString("No pude obtener lecturas de los sensores (")
	sb.WriteString(reason)
	sb.WriteString(").\n\n")
	sb.WriteString("Comprueba lo siguiente:\n")
	sb.WriteString("1. Que el gateway Jetson esté encendido y con red.\n")
	sb.WriteString("2. Que el túnel público siga activo y JETSON_API_URL apunte a la URL vigente.\n")
	sb.WriteString("3. Que esp32_wifi_001 y arduino_eth_001 sigan enviando lecturas al gateway.\n\n")
	sb.WriteString("No se muestran valores porque no hay datos verificados.")
	return sb.String()
}

func generalTemplate(wl *sensors.Whitelist) string {
	var sb strings.Builder
	sb.WriteString("Puedo consultar los sensores instalados en estos dispositivos:\n")
	sb.WriteString(wl.Describe())
	sb.WriteString("\nPrueba, por ejemplo, con «temperatura de las últimas 6 horas», ")
	sb.WriteString("«gráfica del esp32» o «informe del arduino de hoy».")
	return sb.String()
}

// dataTemplate answers from the readings alone. Explicit record counts list
// the records; otherwise each series is summarized.
func dataTemplate(in intent.Intent, readings []sensors.Reading, series []stats.Series, insights []stats.Insight, alerts []stats.Alert) string {
	var sb strings.Builder
	for _, a := range alerts {
		if a.Severity == stats.SeverityCritical {
			sb.WriteString(fmt.Sprintf("⚠ %s\n", a.Text()))
		}
	}
	sb.WriteString(fmt.Sprintf("Lecturas de %s en las últimas %d h (%d registros):\n",
		scopeLabel(in.DeviceID), in.Window.Hours, len(readings)))

	if in.Limit > 0 {
		for i, r := range readings {
			if i >= maxListedReadings {
				sb.WriteString(fmt.Sprintf("… y %d más.\n", len(readings)-maxListedReadings))
				break
			}
			sb.WriteString(fmt.Sprintf("- %s · %s / %s = %.2f %s\n",
				r.Timestamp.UTC().Format("2006-01-02 15:04:05"), r.DeviceID, r.SensorKey, r.Value, r.Unit))
		}
		return strings.TrimRight(sb.String(), "\n")
	}

	for i, s := range series {
		sum := stats.Summarize(s)
		sb.WriteString(fmt.Sprintf("- %s / %s: última %.2f %s (media %.2f, mín %.2f, máx %.2f, n=%d)",
			s.DeviceID, s.SensorKey, sum.Last, s.Unit, sum.Mean, sum.Min, sum.Max, sum.Count))
		if i < len(insights) && insights[i].Trend != nil {
			sb.WriteString(", " + insights[i].Trend.Text(s.Unit))
		}
		sb.WriteString("\n")
	}

	var notes []string
	for _, a := range alerts {
		if a.Severity != stats.SeverityCritical {
			notes = append(notes, a.Text())
		}
	}
	if len(notes) > 0 {
		sb.WriteString("Observaciones:\n")
		for _, n := range notes {
			sb.WriteString("- " + n + "\n")
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func scopeLabel(deviceID string) string {
	if deviceID == "" {
		return "todos los dispositivos"
	}
	return deviceID
}
