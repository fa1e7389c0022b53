package validate

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/strrl/sensor-chat/internal/sensors"
	"github.com/strrl/sensor-chat/internal/textutil"
)

// Violation is one mention of a sensor that does not physically exist.
type Violation struct {
	Category string
	Keyword  string
	Message  string
}

type forbiddenTerm struct {
	Category string
	Keyword  string
	Pattern  *regexp.Regexp
}

// ForbiddenKeywords lists, per sensor category absent from the hardware, the
// words that reveal a fabricated sensor. Keywords are matched on folded text.
var ForbiddenKeywords = map[string][]string{
	"humidity": {"humedad", "humidity", "humid", "%rh", "hum_"},
	"pressure": {"presion", "pressure", "hpa", "mbar", "barometro", "barometric"},
	"co2":      {"co2", "dioxido de carbono", "carbon dioxide", "ppm"},
	"voltage":  {"voltaje", "voltage", "voltios", "volts", "tension electrica"},
	"motion":   {"movimiento", "motion", "pir", "presencia"},
	"sound":    {"sonido", "sound", "ruido", "decibel", "decibelios"},
	"ph":       {"ph", "acidez", "alcalinidad"},
	"flow":     {"flujo", "caudal", "flow rate"},
}

// sensorIdentifier matches tokens shaped like sensor keys so that invented
// channels such as temperature_3 are caught even without a forbidden word.
var sensorIdentifier = regexp.MustCompile(`\b(?:temperature|temp|ntc|ldr|hum|sensor)_[a-z0-9_]+\b`)

type Validator struct {
	whitelist *sensors.Whitelist
	terms     []forbiddenTerm
}

func New(wl *sensors.Whitelist) *Validator {
	present := make(map[string]bool)
	for cat := range wl.Categories() {
		present[string(cat)] = true
	}

	categories := make([]string, 0, len(ForbiddenKeywords))
	for cat := range ForbiddenKeywords {
		if !present[cat] {
			categories = append(categories, cat)
		}
	}
	sort.Strings(categories)

	v := &Validator{whitelist: wl}
	for _, cat := range categories {
		for _, kw := range ForbiddenKeywords[cat] {
			v.terms = append(v.terms, forbiddenTerm{
				Category: cat,
				Keyword:  kw,
				Pattern:  keywordPattern(kw),
			})
		}
	}
	return v
}

// unitKeywords are measurement units that are often glued to a number, as in
// "1013hPa" or "45%RH".
var unitKeywords = map[string]bool{"hpa": true, "mbar": true, "ppm": true, "%rh": true}

func keywordPattern(kw string) *regexp.Regexp {
	quoted := regexp.QuoteMeta(kw)
	prefix := `\b`
	switch {
	case unitKeywords[kw]:
		prefix = `(?:^|[^a-z_])`
	case !isWordChar(kw[0]):
		prefix = `(?:^|[^a-z0-9_])`
	}
	// Prefix keywords such as "hum_" continue into an identifier.
	if kw[len(kw)-1] == '_' {
		return regexp.MustCompile(prefix + quoted)
	}
	// Spanish and English plurals: voltajes, presiones, humedades.
	return regexp.MustCompile(prefix + quoted + `(?:e?s)?\b`)
}

func isWordChar(ch byte) bool {
	return ch >= 'a' && ch <= 'z' || ch >= '0' && ch <= '9' || ch == '_'
}

// Scan reports every forbidden mention in text.
func (v *Validator) Scan(text string) []Violation {
	folded := textutil.Fold(text)

	var violations []Violation
	seen := make(map[string]bool)

	for _, term := range v.terms {
		if !term.Pattern.MatchString(folded) {
			continue
		}
		key := term.Category + "::" + term.Keyword
		if seen[key] {
			continue
		}
		seen[key] = true
		violations = append(violations, Violation{
			Category: term.Category,
			Keyword:  term.Keyword,
			Message:  fmt.Sprintf("mención de '%s' sin sensores de %s instalados", term.Keyword, term.Category),
		})
	}

	for _, ident := range sensorIdentifier.FindAllString(folded, -1) {
		if v.whitelist.HasSensorKey(ident) || seen["unknown_sensor::"+ident] {
			continue
		}
		seen["unknown_sensor::"+ident] = true
		violations = append(violations, Violation{
			Category: "unknown_sensor",
			Keyword:  ident,
			Message:  fmt.Sprintf("el sensor '%s' no existe en ningún dispositivo", ident),
		})
	}

	return violations
}

func (v *Validator) Valid(text string) bool {
	return len(v.Scan(text)) == 0
}

// Clean drops readings whose device/sensor pair is not whitelisted and
// returns how many were removed.
func (v *Validator) Clean(readings []sensors.Reading) ([]sensors.Reading, int) {
	kept := make([]sensors.Reading, 0, len(readings))
	for _, r := range readings {
		if v.whitelist.Allows(r.DeviceID, r.SensorKey) {
			kept = append(kept, r)
		}
	}
	return kept, len(readings) - len(kept)
}

// CorrectionPrompt restates the whitelist after a rejected answer.
func (v *Validator) CorrectionPrompt(violations []Violation) string {
	if len(violations) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("CORRECCIÓN NECESARIA: la respuesta anterior mencionaba sensores que NO existen.\n")
	for _, viol := range violations {
		sb.WriteString(fmt.Sprintf("- %s\n", viol.Message))
	}
	sb.WriteString("\nSensores reales disponibles (los únicos que puedes mencionar):\n")
	sb.WriteString(v.whitelist.Describe())
	sb.WriteString("\nReescribe la respuesta usando ÚNICAMENTE estos sensores. ")
	sb.WriteString("No menciones ninguna otra magnitud física, ni siquiera para decir que no está disponible.\n")
	return sb.String()
}

const redacted = "[n/d]"

// Redact masks every forbidden mention. It is the last gate before text
// leaves the system, so the output never carries a fabricated sensor even if
// every other tier failed.
func (v *Validator) Redact(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if v.Valid(line) {
			continue
		}
		lines[i] = v.redactLine(line)
	}
	return strings.Join(lines, "\n")
}

func (v *Validator) redactLine(line string) string {
	words := strings.Fields(line)
	for i, w := range words {
		if !v.Valid(w) {
			words[i] = redacted
		}
	}
	joined := strings.Join(words, " ")
	if !v.Valid(joined) {
		return redacted
	}
	return joined
}
