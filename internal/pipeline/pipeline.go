package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/strrl/sensor-chat/internal/ai"
	"github.com/strrl/sensor-chat/internal/artifact"
	"github.com/strrl/sensor-chat/internal/gateway"
	"github.com/strrl/sensor-chat/internal/health"
	"github.com/strrl/sensor-chat/internal/intent"
	"github.com/strrl/sensor-chat/internal/output"
	"github.com/strrl/sensor-chat/internal/sensors"
	"github.com/strrl/sensor-chat/internal/stats"
	"github.com/strrl/sensor-chat/internal/validate"
)

// Archiver persists fetched readings. It is optional.
type Archiver interface {
	Store(ctx context.Context, readings []sensors.Reading, fetchedAt time.Time) (int, error)
}

type Config struct {
	ReportFormat  output.Format
	// Regenerations is how many corrected retries the LLM gets after a
	// rejected answer before the template takes over.
	Regenerations int
	HistoryTurns  int
	StatusHours   int
}

func DefaultConfig() Config {
	return Config{
		ReportFormat:  output.FormatPDF,
		Regenerations: 1,
		HistoryTurns:  6,
		StatusHours:   1,
	}
}

type Options struct {
	Config    Config
	Whitelist *sensors.Whitelist
	Source    gateway.Source
	// Generator may be nil, in which case answers come from templates.
	Generator ai.Generator
	Scorer    *health.Scorer
	Builder   *output.Builder
	Artifacts artifact.Store
	Archive   Archiver
	Logger    *zap.Logger
}

type Pipeline struct {
	config     Config
	whitelist  *sensors.Whitelist
	classifier *intent.Classifier
	validator  *validate.Validator
	source     gateway.Source
	generator  ai.Generator
	scorer     *health.Scorer
	builder    *output.Builder
	artifacts  artifact.Store
	archive    Archiver
	logger     *zap.Logger
}

func New(opts Options) (*Pipeline, error) {
	if opts.Whitelist == nil {
		return nil, fmt.Errorf("whitelist is required")
	}
	if opts.Source == nil {
		return nil, fmt.Errorf("source is required")
	}
	if opts.Scorer == nil || opts.Builder == nil || opts.Artifacts == nil {
		return nil, fmt.Errorf("scorer, builder and artifact store are required")
	}
	if opts.Config.ReportFormat == "" {
		opts.Config.ReportFormat = output.FormatPDF
	}
	if opts.Config.HistoryTurns <= 0 {
		opts.Config.HistoryTurns = DefaultConfig().HistoryTurns
	}
	if opts.Config.StatusHours <= 0 {
		opts.Config.StatusHours = DefaultConfig().StatusHours
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &Pipeline{
		config:     opts.Config,
		whitelist:  opts.Whitelist,
		classifier: intent.NewClassifier(opts.Whitelist),
		validator:  validate.New(opts.Whitelist),
		source:     opts.Source,
		generator:  opts.Generator,
		scorer:     opts.Scorer,
		builder:    opts.Builder,
		artifacts:  opts.Artifacts,
		archive:    opts.Archive,
		logger:     opts.Logger,
	}, nil
}

const (
	AnswerLLM        = "llm"
	AnswerTemplate   = "template"
	AnswerDiagnostic = "diagnostic"
	AnswerEmpty      = "empty"
)

type ArtifactRef struct {
	ID       string        `json:"id"`
	Kind     artifact.Kind `json:"kind"`
	Filename string        `json:"filename"`
	MIMEType string        `json:"mime_type"`
	Size     int           `json:"size"`
}

type FetchInfo struct {
	Method    string    `json:"method"`
	Source    string    `json:"source"`
	Pages     int       `json:"pages"`
	Fetched   int       `json:"fetched"`
	Skipped   int       `json:"skipped"`
	Dropped   int       `json:"dropped"`
	Used      int       `json:"used"`
	FetchedAt time.Time `json:"fetched_at"`
}

type Response struct {
	Text        string            `json:"text"`
	Intent      intent.Intent     `json:"intent"`
	Answer      string            `json:"answer"`
	Generator   string            `json:"generator,omitempty"`
	Health      *health.Report    `json:"health,omitempty"`
	Fetch       *FetchInfo        `json:"fetch,omitempty"`
	Readings    []sensors.Reading `json:"readings,omitempty"`
	Alerts      []stats.Alert     `json:"alerts,omitempty"`
	Chart       *ArtifactRef      `json:"chart,omitempty"`
	Report      *ArtifactRef      `json:"report,omitempty"`
	Violations  int               `json:"violations"`
	Regenerated bool              `json:"regenerated"`
}

// Handle runs one user message through classify, fetch, validate, score,
// compose and render. Gateway failures, empty results and LLM failures are
// answered in the response; only context cancellation and artifact storage
// failures are returned as errors.
func (p *Pipeline) Handle(ctx context.Context, sess *Session, text string) (*Response, error) {
	sess.run.Lock()
	defer sess.run.Unlock()

	in := p.classifier.Classify(text, sess.previousIntent())
	history := sess.history(p.config.HistoryTurns)
	sess.append(Turn{Role: RoleUser, Text: text, Intent: &in, At: time.Now()})

	p.logger.Info("Handling message",
		zap.String("session", sess.ID),
		zap.String("kind", string(in.Kind)),
		zap.String("rule", in.Rule),
		zap.String("device_id", in.DeviceID),
		zap.Int("hours", in.Window.Hours),
		zap.Int("limit", in.Limit))

	var (
		resp *Response
		err  error
	)
	if in.Kind.NeedsData() {
		resp, err = p.handleData(ctx, sess, in, history)
	} else {
		resp = p.handleChat(ctx, in, history)
	}
	if err != nil {
		return nil, err
	}

	// Last gate: nothing leaves with a fabricated sensor.
	resp.Text = p.validator.Redact(resp.Text)

	var ids []string
	for _, ref := range []*ArtifactRef{resp.Chart, resp.Report} {
		if ref != nil {
			ids = append(ids, ref.ID)
		}
	}
	sess.append(Turn{Role: RoleAssistant, Text: resp.Text, ArtifactIDs: ids, At: time.Now()})
	sess.setIntent(in)

	return resp, nil
}

func (p *Pipeline) handleChat(ctx context.Context, in intent.Intent, history []string) *Response {
	system, user := ai.BuildChatPrompt(in.Text, history, p.whitelist)
	answer := p.compose(ctx, system, user, func() string { return generalTemplate(p.whitelist) })
	return &Response{
		Text:        answer.text,
		Intent:      in,
		Answer:      answer.source,
		Generator:   answer.generator,
		Violations:  answer.violations,
		Regenerated: answer.regenerated,
	}
}

func (p *Pipeline) handleData(ctx context.Context, sess *Session, in intent.Intent, history []string) (*Response, error) {
	q := gateway.Query{
		DeviceID:  in.DeviceID,
		Hours:     in.Window.Hours,
		Limit:     in.Window.RecordCap(),
		Paginated: in.Window.Method == intent.MethodPaginated,
	}

	res, err := p.source.Fetch(ctx, q)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, gateway.ErrRemoteUnavailable) {
			p.logger.Warn("Sensor source unavailable", zap.Error(err))
		} else {
			p.logger.Error("Sensor source failed", zap.Error(err))
		}
		return &Response{
			Text:   diagnosticMessage(err),
			Intent: in,
			Answer: AnswerDiagnostic,
		}, nil
	}

	readings, dropped := p.validator.Clean(sensors.FilterDevice(res.Readings, in.DeviceID))
	sensors.SortNewestFirst(readings)
	if dropped > 0 {
		p.logger.Warn("Dropped readings outside the whitelist", zap.Int("dropped", dropped))
	}

	report := p.scorer.Score(readings, res.FetchedAt)
	selected := p.selectReadings(in, readings)

	if p.archive != nil && len(readings) > 0 {
		if n, err := p.archive.Store(ctx, readings, res.FetchedAt); err != nil {
			p.logger.Warn("Failed to archive readings", zap.Error(err))
		} else {
			p.logger.Debug("Archived readings", zap.Int("new", n))
		}
	}

	resp := &Response{
		Intent:   in,
		Health:   &report,
		Readings: selected,
		Fetch: &FetchInfo{
			Method:    res.Method,
			Source:    res.Source,
			Pages:     res.Pages,
			Fetched:   len(res.Readings),
			Skipped:   res.Skipped,
			Dropped:   dropped,
			Used:      len(selected),
			FetchedAt: res.FetchedAt,
		},
	}

	series := stats.Partition(selected, p.whitelist)
	insights, alerts := stats.AnalyzeAll(series, p.whitelist, stats.DefaultInsightConfig())
	resp.Alerts = alerts
	if len(selected) == 0 {
		resp.Text = emptyMessage(in) + "\n\n" + health.StatusLine(report)
		resp.Answer = AnswerEmpty
	} else {
		fallback := func() string { return dataTemplate(in, selected, series, insights, alerts) }
		system, user, err := ai.BuildAnswerPrompt(ai.PromptInput{
			Question:  in.Text,
			DeviceID:  in.DeviceID,
			Hours:     in.Window.Hours,
			Readings:  selected,
			Series:    series,
			Insights:  insights,
			Alerts:    alerts,
			Health:    report,
			Whitelist: p.whitelist,
			History:   history,
		})
		if err != nil {
			p.logger.Warn("Failed to build answer prompt", zap.Error(err))
			system, user = "", ""
		}
		answer := p.compose(ctx, system, user, fallback)
		resp.Text = answer.text + "\n\n" + health.StatusLine(report)
		resp.Answer = answer.source
		resp.Generator = answer.generator
		resp.Violations = answer.violations
		resp.Regenerated = answer.regenerated
	}

	switch in.Kind {
	case intent.KindChartRequest:
		if len(selected) == 0 {
			break
		}
		ref, err := p.renderChart(ctx, sess, in, selected, report, res)
		if err != nil {
			return nil, err
		}
		resp.Chart = ref
		resp.Text += fmt.Sprintf("\n\nGráfica generada: %s", ref.Filename)

	case intent.KindReportRequest:
		ref, err := p.renderReport(ctx, sess, in, readings, report, res)
		if err != nil {
			return nil, err
		}
		resp.Report = ref
		resp.Text += fmt.Sprintf("\n\nInforme listo para descargar: %s (id %s)", ref.Filename, ref.ID)
	}

	return resp, nil
}

// selectReadings applies the record count the user asked for. Without a
// device, the count is spread across devices so one chatty device cannot
// crowd out the rest.
func (p *Pipeline) selectReadings(in intent.Intent, readings []sensors.Reading) []sensors.Reading {
	if in.Limit <= 0 {
		return readings
	}
	switch {
	case in.DeviceID != "":
		if len(readings) > in.Limit {
			return readings[:in.Limit]
		}
		return readings
	case in.PerDevice:
		return sensors.LatestPerDevice(readings, in.Limit)
	default:
		return sensors.Balance(readings, p.whitelist.DeviceIDs(), in.Limit)
	}
}

func (p *Pipeline) document(in intent.Intent, readings []sensors.Reading, report health.Report, res *gateway.Result) (*output.Document, error) {
	return p.builder.Build(output.DocumentInput{
		Question:    p.validator.Redact(in.Text),
		Readings:    readings,
		WindowHours: in.Window.Hours,
		Method:      res.Method,
		DeviceID:    in.DeviceID,
		Health:      report,
		GeneratedAt: res.FetchedAt,
	})
}

func (p *Pipeline) renderChart(ctx context.Context, sess *Session, in intent.Intent, readings []sensors.Reading, report health.Report, res *gateway.Result) (*ArtifactRef, error) {
	doc, err := p.document(in, readings, report, res)
	if err != nil {
		return nil, err
	}
	a, err := output.ChartArtifact(doc)
	if err != nil {
		return nil, err
	}
	return p.store(ctx, sess, a)
}

func (p *Pipeline) renderReport(ctx context.Context, sess *Session, in intent.Intent, readings []sensors.Reading, report health.Report, res *gateway.Result) (*ArtifactRef, error) {
	doc, err := p.document(in, readings, report, res)
	if err != nil {
		return nil, err
	}
	a, err := output.Generate(doc, p.config.ReportFormat)
	if err != nil {
		return nil, err
	}
	return p.store(ctx, sess, a)
}

func (p *Pipeline) store(ctx context.Context, sess *Session, a *artifact.Artifact) (*ArtifactRef, error) {
	a.SessionID = sess.ID
	id, err := p.artifacts.Put(ctx, a)
	if err != nil {
		return nil, fmt.Errorf("failed to store %s artifact: %w", a.Kind, err)
	}
	p.logger.Info("Stored artifact",
		zap.String("id", id),
		zap.String("kind", string(a.Kind)),
		zap.String("filename", a.Filename),
		zap.Int("bytes", len(a.Data)))
	return &ArtifactRef{ID: id, Kind: a.Kind, Filename: a.Filename, MIMEType: a.MIMEType, Size: len(a.Data)}, nil
}

type StatusReport struct {
	Health    health.Report `json:"health"`
	Summary   string        `json:"summary"`
	Source    string        `json:"source"`
	FetchedAt time.Time     `json:"fetched_at"`
	Readings  int           `json:"readings"`
}

// Status scores the most recent readings of every device. It backs the
// status command and the HTTP status endpoint.
func (p *Pipeline) Status(ctx context.Context) (*StatusReport, error) {
	window := intent.NewTimeWindow(p.config.StatusHours)
	res, err := p.source.Fetch(ctx, gateway.Query{
		Hours:     window.Hours,
		Limit:     window.RecordCap(),
		Paginated: window.Method == intent.MethodPaginated,
	})
	if err != nil {
		return nil, err
	}

	readings, _ := p.validator.Clean(res.Readings)
	report := p.scorer.Score(readings, res.FetchedAt)
	return &StatusReport{
		Health:    report,
		Summary:   health.StatusLine(report),
		Source:    res.Source,
		FetchedAt: res.FetchedAt,
		Readings:  len(readings),
	}, nil
}

func (p *Pipeline) Artifact(ctx context.Context, id string) (*artifact.Artifact, error) {
	return p.artifacts.Get(ctx, id)
}

// SessionArtifacts lists artifact metadata produced in a session.
func (p *Pipeline) SessionArtifacts(ctx context.Context, sessionID string) ([]*artifact.Artifact, error) {
	return p.artifacts.List(ctx, sessionID)
}
