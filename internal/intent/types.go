package intent

type Kind string

const (
	KindDataQuery     Kind = "data_query"
	KindChartRequest  Kind = "chart_request"
	KindReportRequest Kind = "report_request"
	KindGeneralChat   Kind = "general_chat"
)

var ValidKinds = map[Kind]string{
	KindDataQuery:     "Question answered from fetched sensor readings",
	KindChartRequest:  "Readings plus per-sensor chart panels",
	KindReportRequest: "Exportable report document",
	KindGeneralChat:   "Conversation routed to the LLM without a data fetch",
}

func (k Kind) IsValid() bool {
	_, ok := ValidKinds[k]
	return ok
}

// NeedsData reports whether the kind requires a gateway fetch.
func (k Kind) NeedsData() bool {
	return k == KindDataQuery || k == KindChartRequest || k == KindReportRequest
}

type Method string

const (
	MethodStandard  Method = "standard"
	MethodPaginated Method = "paginated"
)

const (
	DefaultHours       = 24
	StandardMaxHours   = 6
	StandardRecordCap  = 200
	PaginatedRecordCap = 2000
	maxWindowHours     = 24 * 30
)

type TimeWindow struct {
	Hours  int
	Method Method
}

func NewTimeWindow(hours int) TimeWindow {
	if hours <= 0 {
		hours = DefaultHours
	}
	if hours > maxWindowHours {
		hours = maxWindowHours
	}
	method := MethodStandard
	if hours > StandardMaxHours {
		method = MethodPaginated
	}
	return TimeWindow{Hours: hours, Method: method}
}

func (w TimeWindow) RecordCap() int {
	if w.Method == MethodPaginated {
		return PaginatedRecordCap
	}
	return StandardRecordCap
}

type Intent struct {
	Kind     Kind
	DeviceID string
	Window   TimeWindow
	// WindowExplicit is set when the user named a duration.
	WindowExplicit bool
	// Limit is the record count the user asked for, 0 when unspecified.
	Limit     int
	PerDevice bool
	Text      string
	// Rule names the classifier rule that decided Kind.
	Rule string
}
