package intent

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/strrl/sensor-chat/internal/sensors"
	"github.com/strrl/sensor-chat/internal/textutil"
)

// Rule is one entry of the ordered dispatch table. The first rule whose
// predicate holds decides the intent kind.
type Rule struct {
	Name  string
	Kind  Kind
	Match func(q *Query) bool
}

// Query is the normalized utterance handed to rule predicates.
type Query struct {
	Raw     string
	Folded  string
	Devices []string
}

var (
	reportKeywords = []string{
		"informe", "reporte", "report", "pdf", "exportar", "exporta", "documento",
	}

	// Only explicit chart vocabulary. Broad nouns such as "datos" or "sensor"
	// must stay out of this list.
	chartKeywords = []string{
		"grafica", "grafico", "graficar", "graficos", "graficas",
		"visualizar", "visualiza", "visualizacion",
		"mostrar grafico", "chart", "plot", "diagrama",
	}

	dataKeywords = []string{
		"dato", "sensor", "registro", "lectura", "medicion", "medida", "valor",
		"temperatura", "temp", "ldr", "luz", "luminosidad", "ntc",
		"estado", "dispositivo", "ultimo", "ultima", "promedio", "media",
		"maximo", "minimo", "actual", "cuanto", "salud", "health", "status",
	}

	perDeviceKeywords = []string{
		"cada dispositivo", "por dispositivo", "cada uno", "ambos",
		"todos los dispositivos", "cada equipo",
	}

	limitPattern = regexp.MustCompile(`\b(\d+)\s*(?:registros?|lecturas?|mediciones|medidas|valores|datos|muestras|records?)\b`)
)

type windowPattern struct {
	Pattern *regexp.Regexp
	Hours   func(n int) int
}

var windowPatterns = []windowPattern{
	{regexp.MustCompile(`\b(\d+)\s*(?:horas?|hrs?|h)\b`), func(n int) int { return n }},
	{regexp.MustCompile(`\b(\d+)\s*(?:minutos?|mins?)\b`), func(n int) int { return int(math.Ceil(float64(n) / 60)) }},
	{regexp.MustCompile(`\b(\d+)\s*(?:dias?|days?)\b`), func(n int) int { return n * 24 }},
	{regexp.MustCompile(`\b(\d+)\s*(?:semanas?|weeks?)\b`), func(n int) int { return n * 168 }},
	{regexp.MustCompile(`\bultima\s+hora\b`), func(int) int { return 1 }},
	{regexp.MustCompile(`\b(?:ultimo\s+dia|hoy)\b`), func(int) int { return 24 }},
	{regexp.MustCompile(`\bayer\b`), func(int) int { return 48 }},
	{regexp.MustCompile(`\b(?:ultima|esta)\s+semana\b`), func(int) int { return 168 }},
}

type Classifier struct {
	rules   []Rule
	devices []string
	aliases map[string][]string
	keys    []string
}

func NewClassifier(wl *sensors.Whitelist) *Classifier {
	c := &Classifier{aliases: make(map[string][]string)}

	for _, d := range wl.Devices() {
		names := []string{textutil.Fold(d.ID)}
		for _, a := range d.Aliases {
			names = append(names, textutil.Fold(a))
		}
		c.devices = append(c.devices, d.ID)
		c.aliases[d.ID] = names
		for _, s := range d.Sensors {
			c.keys = append(c.keys, textutil.Fold(s.Key))
		}
	}

	c.rules = []Rule{
		{Name: "report_keyword", Kind: KindReportRequest, Match: func(q *Query) bool {
			return textutil.ContainsAny(q.Folded, reportKeywords)
		}},
		{Name: "chart_keyword", Kind: KindChartRequest, Match: func(q *Query) bool {
			return textutil.ContainsAny(q.Folded, chartKeywords)
		}},
		{Name: "data_keyword", Kind: KindDataQuery, Match: func(q *Query) bool {
			return textutil.ContainsAny(q.Folded, dataKeywords)
		}},
		{Name: "device_or_sensor", Kind: KindDataQuery, Match: func(q *Query) bool {
			return len(q.Devices) > 0 || textutil.ContainsAny(q.Folded, c.keys)
		}},
	}

	return c
}

func (c *Classifier) Rules() []Rule {
	return c.rules
}

// Classify maps an utterance to an Intent. prev is the previous turn's intent
// and may be nil.
func (c *Classifier) Classify(text string, prev *Intent) Intent {
	q := &Query{Raw: text, Folded: textutil.Fold(text)}
	q.Devices = c.matchDevices(q.Folded)

	result := Intent{
		Kind: KindGeneralChat,
		Text: text,
		Rule: "fallback",
	}

	for _, rule := range c.rules {
		if rule.Match(q) {
			result.Kind = rule.Kind
			result.Rule = rule.Name
			break
		}
	}

	if len(q.Devices) == 1 {
		result.DeviceID = q.Devices[0]
	}

	hours, explicit := parseHours(q.Folded)
	result.Window = NewTimeWindow(hours)
	result.WindowExplicit = explicit
	result.Limit = parseLimit(q.Folded)
	result.PerDevice = textutil.ContainsAny(q.Folded, perDeviceKeywords)

	if result.Kind == KindGeneralChat && prev != nil && isFollowUp(prev, result) {
		result.Kind = prev.Kind
		if result.Kind == KindReportRequest {
			result.Kind = KindDataQuery
		}
		result.Rule = "follow_up"
		if result.DeviceID == "" && len(q.Devices) == 0 {
			result.DeviceID = prev.DeviceID
		}
		if !result.WindowExplicit {
			result.Window = prev.Window
		}
	}

	return result
}

func isFollowUp(prev *Intent, current Intent) bool {
	if !prev.Kind.NeedsData() {
		return false
	}
	return current.WindowExplicit || current.Limit > 0
}

// matchDevices returns the devices named in the folded text, in whitelist
// order.
func (c *Classifier) matchDevices(folded string) []string {
	var matched []string
	for _, id := range c.devices {
		for _, name := range c.aliases[id] {
			if containsWord(folded, name) {
				matched = append(matched, id)
				break
			}
		}
	}
	return matched
}

func containsWord(s, word string) bool {
	idx := 0
	for {
		i := strings.Index(s[idx:], word)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(word)
		if isBoundary(s, start-1) && isBoundary(s, end) {
			return true
		}
		idx = start + 1
	}
}

func isBoundary(s string, i int) bool {
	if i < 0 || i >= len(s) {
		return true
	}
	ch := s[i]
	return !(ch >= 'a' && ch <= 'z' || ch >= '0' && ch <= '9' || ch == '_')
}

func parseHours(folded string) (int, bool) {
	for _, wp := range windowPatterns {
		m := wp.Pattern.FindStringSubmatch(folded)
		if m == nil {
			continue
		}
		n := 1
		if len(m) > 1 {
			v, err := strconv.Atoi(m[1])
			if err != nil || v <= 0 {
				continue
			}
			n = v
		}
		return wp.Hours(n), true
	}
	return DefaultHours, false
}

func parseLimit(folded string) int {
	m := limitPattern.FindStringSubmatch(folded)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return 0
	}
	return n
}
