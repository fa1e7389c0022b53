package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/strrl/sensor-chat/internal/ai"
	"github.com/strrl/sensor-chat/internal/artifact"
	"github.com/strrl/sensor-chat/internal/chart"
	"github.com/strrl/sensor-chat/internal/config"
	"github.com/strrl/sensor-chat/internal/db"
	"github.com/strrl/sensor-chat/internal/gateway"
	"github.com/strrl/sensor-chat/internal/health"
	"github.com/strrl/sensor-chat/internal/output"
	"github.com/strrl/sensor-chat/internal/parser"
	"github.com/strrl/sensor-chat/internal/pipeline"
)

// app is the wired object graph shared by every command.
type app struct {
	pipeline *pipeline.Pipeline
	gateway  *gateway.Client
	archive  *db.Archive
	closers  []func() error
}

type appOptions struct {
	// ReportFormat overrides the configured report format when set.
	ReportFormat output.Format
	NeedArchive  bool
}

func newApp(ctx context.Context, opts appOptions) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	wl, err := cfg.Whitelist()
	if err != nil {
		return nil, err
	}

	a := &app{}
	ok := false
	defer func() {
		if !ok {
			a.close()
		}
	}()

	source, err := a.buildSource()
	if err != nil {
		return nil, err
	}

	generator, err := ai.NewGenerator(ctx, cfg.AIConfig())
	switch {
	case errors.Is(err, ai.ErrNoProvider):
		logger.Info("No LLM configured, answering from templates")
		generator = nil
	case err != nil:
		return nil, fmt.Errorf("failed to initialize LLM: %w", err)
	default:
		logger.Info("LLM ready", zap.String("generator", generator.Name()))
	}

	store, err := a.buildArtifactStore(ctx)
	if err != nil {
		return nil, err
	}

	if cfg.Archive.Enabled || opts.NeedArchive {
		if err := a.openArchive(); err != nil {
			return nil, err
		}
	}

	format := opts.ReportFormat
	if format == "" {
		format, err = output.ParseFormat(cfg.Report.Format)
		if err != nil {
			return nil, err
		}
	}

	pcfg := pipeline.DefaultConfig()
	pcfg.ReportFormat = format

	popts := pipeline.Options{
		Config:    pcfg,
		Whitelist: wl,
		Source:    source,
		Generator: generator,
		Scorer:    health.NewScorer(cfg.HealthConfig(), wl),
		Builder:   output.NewBuilder(wl, chart.NewRenderer(chart.DefaultConfig(), wl)),
		Artifacts: store,
		Logger:    logger,
	}
	if a.archive != nil {
		popts.Archive = a.archive
	}

	p, err := pipeline.New(popts)
	if err != nil {
		return nil, err
	}
	a.pipeline = p
	ok = true
	return a, nil
}

func (a *app) buildSource() (gateway.Source, error) {
	switch cfg.Source.Kind {
	case config.SourceInflux:
		src, err := gateway.NewInfluxSource(cfg.InfluxSourceConfig(), logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { src.Close(); return nil })
		logger.Info("Reading from InfluxDB", zap.String("url", cfg.Source.Influx.URL))
		return src, nil

	case config.SourceFile:
		conn, err := db.Open("")
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, conn.Close)
		logger.Info("Replaying readings from file", zap.String("file", cfg.Source.File))
		return parser.NewFileSource(conn, cfg.Source.File)

	default:
		resolver := gateway.NewResolver(cfg.ResolveFunc(), cfg.ResolveTTL(), logger)
		a.gateway = gateway.NewClient(resolver, cfg.GatewayClientConfig(), logger)
		return a.gateway, nil
	}
}

func (a *app) buildArtifactStore(ctx context.Context) (artifact.Store, error) {
	if cfg.Artifacts.Backend != config.ArtifactsRedis {
		return artifact.NewMemoryStoreWithConfig(artifact.MemoryConfig{
			TTL:      cfg.ArtifactTTL(),
			MaxItems: cfg.Artifacts.MaxItems,
		}), nil
	}
	store, err := artifact.NewRedisStore(ctx, artifact.RedisConfig{
		Addr:     cfg.Artifacts.RedisAddr,
		Password: cfg.Artifacts.RedisPassword,
		DB:       cfg.Artifacts.RedisDB,
		TTL:      cfg.ArtifactTTL(),
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, store.Close)
	return store, nil
}

func (a *app) openArchive() error {
	path := cfg.Archive.Path
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return fmt.Errorf("failed to create archive directory: %w", err)
		}
	}
	conn, err := db.Open(path)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, conn.Close)

	archive, err := db.NewArchive(conn)
	if err != nil {
		return err
	}
	a.archive = archive
	return nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Warn("Failed to close resource", zap.Error(err))
		}
	}
	a.closers = nil
}

// saveArtifacts writes the artifacts referenced by resp into dir and returns
// the written paths.
func (a *app) saveArtifacts(ctx context.Context, resp *pipeline.Response, dir string) ([]string, error) {
	var paths []string
	for _, ref := range []*pipeline.ArtifactRef{resp.Chart, resp.Report} {
		if ref == nil {
			continue
		}
		art, err := a.pipeline.Artifact(ctx, ref.ID)
		if err != nil {
			return paths, err
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return paths, fmt.Errorf("failed to create output directory: %w", err)
		}
		path := filepath.Join(dir, art.Filename)
		if err := os.WriteFile(path, art.Data, 0644); err != nil {
			return paths, fmt.Errorf("failed to write %s: %w", path, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func outputDir(flag string) string {
	if flag != "" {
		return flag
	}
	if cfg.Report.OutputDir != "" {
		return cfg.Report.OutputDir
	}
	return "."
}

func commandContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}
