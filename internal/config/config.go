package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/strrl/sensor-chat/internal/ai"
	"github.com/strrl/sensor-chat/internal/gateway"
	"github.com/strrl/sensor-chat/internal/health"
	"github.com/strrl/sensor-chat/internal/output"
	"github.com/strrl/sensor-chat/internal/sensors"
)

const (
	SourceGateway = "gateway"
	SourceInflux  = "influx"
	SourceFile    = "file"

	ArtifactsMemory = "memory"
	ArtifactsRedis  = "redis"
)

// Config holds all sensor-chat configuration. It is read once per process.
type Config struct {
	Gateway   GatewayConfig   `yaml:"gateway"`
	Source    SourceConfig    `yaml:"source"`
	LLM       LLMConfig       `yaml:"llm"`
	Health    HealthConfig    `yaml:"health"`
	Report    ReportConfig    `yaml:"report"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Artifacts ArtifactsConfig `yaml:"artifacts"`
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`

	// Devices replaces the built-in whitelist when set.
	Devices []sensors.Device `yaml:"devices,omitempty"`
}

type GatewayConfig struct {
	BaseURL          string `yaml:"base_url"`
	URLFile          string `yaml:"url_file"`
	ResolveTTL       string `yaml:"resolve_ttl"`
	Timeout          string `yaml:"timeout"`
	Retries          int    `yaml:"retries"`
	RetryWait        string `yaml:"retry_wait"`
	PageSize         int    `yaml:"page_size"`
	MaxPages         int    `yaml:"max_pages"`
	ServerSideFilter bool   `yaml:"server_side_filter"`
}

type SourceConfig struct {
	Kind   string       `yaml:"kind"` // gateway, influx, file
	File   string       `yaml:"file"`
	Influx InfluxConfig `yaml:"influx"`
}

type InfluxConfig struct {
	URL         string `yaml:"url"`
	Token       string `yaml:"token"`
	Org         string `yaml:"org"`
	Bucket      string `yaml:"bucket"`
	Measurement string `yaml:"measurement"`
}

type LLMConfig struct {
	Provider         string  `yaml:"provider"` // openrouter, gemini, none; empty picks by key
	Model            string  `yaml:"model"`
	Temperature      float64 `yaml:"temperature"`
	Timeout          string  `yaml:"timeout"`
	OpenRouterAPIKey string  `yaml:"openrouter_api_key"`
	OpenRouterURL    string  `yaml:"openrouter_url"`
	GeminiAPIKey     string  `yaml:"gemini_api_key"`
}

type HealthConfig struct {
	FreshnessWindow   string  `yaml:"freshness_window"`
	HealthyThreshold  float64 `yaml:"healthy_threshold"`
	DegradedThreshold float64 `yaml:"degraded_threshold"`
}

type ReportConfig struct {
	Format    string `yaml:"format"` // pdf, html, markdown
	OutputDir string `yaml:"output_dir"`
}

type ArchiveConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type ArtifactsConfig struct {
	Backend       string `yaml:"backend"` // memory, redis
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	TTL           string `yaml:"ttl"`
	MaxItems      int    `yaml:"max_items"` // memory backend only
}

type ServerConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	SessionIdleTTL string   `yaml:"session_idle_ttl"`
	MaxSessions    int      `yaml:"max_sessions"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

func DefaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			ResolveTTL: "5m",
			Timeout:    "30s",
			Retries:    3,
			RetryWait:  "500ms",
			PageSize:   200,
			MaxPages:   20,
		},
		Source: SourceConfig{
			Kind: SourceGateway,
			Influx: InfluxConfig{
				Measurement: "sensor_data",
			},
		},
		LLM: LLMConfig{
			Temperature: 0.1,
			Timeout:     "45s",
		},
		Health: HealthConfig{
			FreshnessWindow:   "30m",
			HealthyThreshold:  80,
			DegradedThreshold: 50,
		},
		Report: ReportConfig{
			Format:    "pdf",
			OutputDir: ".",
		},
		Archive: ArchiveConfig{
			Path: "sensor-chat.duckdb",
		},
		Artifacts: ArtifactsConfig{
			Backend:  ArtifactsMemory,
			TTL:      "24h",
			MaxItems: 500,
		},
		Server: ServerConfig{
			Addr:           ":8080",
			AllowedOrigins: []string{"*"},
			SessionIdleTTL: "2h",
			MaxSessions:    1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadDotEnv loads a .env file into the environment if one exists. Variables
// already set win.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// Load reads a YAML config file over the defaults and applies environment
// overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		case os.IsNotExist(err):
		default:
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if url := os.Getenv("JETSON_API_URL"); url != "" {
		c.Gateway.BaseURL = url
	}
	if path := os.Getenv("JETSON_URL_FILE"); path != "" {
		c.Gateway.URLFile = path
	}

	if key := os.Getenv("OPENROUTER_API_KEY"); key != "" {
		c.LLM.OpenRouterAPIKey = key
	}
	if url := os.Getenv("OPENROUTER_BASE_URL"); url != "" {
		c.LLM.OpenRouterURL = url
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.GeminiAPIKey = key
	}
	if provider := os.Getenv("LLM_PROVIDER"); provider != "" {
		c.LLM.Provider = provider
	}
	if model := os.Getenv("LLM_MODEL"); model != "" {
		c.LLM.Model = model
	}

	if url := os.Getenv("INFLUXDB_URL"); url != "" {
		c.Source.Influx.URL = url
	}
	if token := os.Getenv("INFLUXDB_TOKEN"); token != "" {
		c.Source.Influx.Token = token
	}
	if org := os.Getenv("INFLUXDB_ORG"); org != "" {
		c.Source.Influx.Org = org
	}
	if bucket := os.Getenv("INFLUXDB_BUCKET"); bucket != "" {
		c.Source.Influx.Bucket = bucket
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.Artifacts.RedisAddr = addr
		c.Artifacts.Backend = ArtifactsRedis
	}
	if pw := os.Getenv("REDIS_PASSWORD"); pw != "" {
		c.Artifacts.RedisPassword = pw
	}
	if db := os.Getenv("REDIS_DB"); db != "" {
		if n, err := strconv.Atoi(db); err == nil {
			c.Artifacts.RedisDB = n
		}
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}

var (
	ValidSources   = []string{SourceGateway, SourceInflux, SourceFile}
	ValidProviders = []string{"", string(ai.ProviderOpenRouter), string(ai.ProviderGemini), string(ai.ProviderNone)}
)

func (c *Config) Validate() error {
	var errs []error

	switch c.Source.Kind {
	case SourceGateway:
		if c.Gateway.BaseURL == "" && c.Gateway.URLFile == "" {
			errs = append(errs, fmt.Errorf("gateway base URL not configured (set JETSON_API_URL or gateway.url_file)"))
		}
	case SourceInflux:
		in := c.Source.Influx
		if in.URL == "" || in.Token == "" || in.Org == "" || in.Bucket == "" {
			errs = append(errs, fmt.Errorf("influx source needs url, token, org and bucket"))
		}
	case SourceFile:
		if c.Source.File == "" {
			errs = append(errs, fmt.Errorf("file source needs source.file"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid source kind: %s (valid: %v)", c.Source.Kind, ValidSources))
	}

	if !contains(ValidProviders, strings.ToLower(c.LLM.Provider)) {
		errs = append(errs, fmt.Errorf("invalid LLM provider: %s (valid: %v)", c.LLM.Provider, ValidProviders[1:]))
	}

	if c.Health.DegradedThreshold > c.Health.HealthyThreshold {
		errs = append(errs, fmt.Errorf("health.degraded_threshold must not exceed health.healthy_threshold"))
	}

	if _, err := output.ParseFormat(c.Report.Format); err != nil {
		errs = append(errs, err)
	}

	if c.Artifacts.Backend != ArtifactsMemory && c.Artifacts.Backend != ArtifactsRedis {
		errs = append(errs, fmt.Errorf("invalid artifacts backend: %s", c.Artifacts.Backend))
	}
	if c.Artifacts.Backend == ArtifactsRedis && c.Artifacts.RedisAddr == "" {
		errs = append(errs, fmt.Errorf("redis artifacts backend needs artifacts.redis_addr"))
	}

	for name, value := range map[string]string{
		"gateway.resolve_ttl":     c.Gateway.ResolveTTL,
		"gateway.timeout":         c.Gateway.Timeout,
		"gateway.retry_wait":      c.Gateway.RetryWait,
		"llm.timeout":             c.LLM.Timeout,
		"health.freshness_window": c.Health.FreshnessWindow,
		"artifacts.ttl":           c.Artifacts.TTL,
		"server.session_idle_ttl": c.Server.SessionIdleTTL,
	} {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			errs = append(errs, fmt.Errorf("invalid %s: %w", name, err))
		}
	}

	if _, err := c.Whitelist(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func (c *Config) Whitelist() (*sensors.Whitelist, error) {
	if len(c.Devices) == 0 {
		return sensors.DefaultWhitelist(), nil
	}
	return sensors.NewWhitelist(c.Devices)
}

func (c *Config) GatewayClientConfig() gateway.Config {
	return gateway.Config{
		Timeout:          duration(c.Gateway.Timeout, 30*time.Second),
		Retries:          c.Gateway.Retries,
		RetryWait:        duration(c.Gateway.RetryWait, 500*time.Millisecond),
		PageSize:         c.Gateway.PageSize,
		MaxPages:         c.Gateway.MaxPages,
		ServerSideFilter: c.Gateway.ServerSideFilter,
	}
}

// ResolveFunc prefers the URL file written by the discovery job and falls
// back to JETSON_API_URL, re-read on every resolution, then the configured
// base URL.
func (c *Config) ResolveFunc() gateway.ResolveFunc {
	env := gateway.EnvURL("JETSON_API_URL", c.Gateway.BaseURL)
	if c.Gateway.URLFile == "" {
		return env
	}
	return gateway.FirstOf(gateway.FileURL(c.Gateway.URLFile), env)
}

func (c *Config) ResolveTTL() time.Duration {
	return duration(c.Gateway.ResolveTTL, gateway.DefaultResolveTTL)
}

func (c *Config) InfluxSourceConfig() gateway.InfluxConfig {
	in := c.Source.Influx
	return gateway.InfluxConfig{URL: in.URL, Token: in.Token, Org: in.Org, Bucket: in.Bucket, Measurement: in.Measurement}
}

func (c *Config) AIConfig() ai.Config {
	return ai.Config{
		Provider:         ai.Provider(strings.ToLower(c.LLM.Provider)),
		Model:            c.LLM.Model,
		Temperature:      c.LLM.Temperature,
		Timeout:          duration(c.LLM.Timeout, 45*time.Second),
		OpenRouterAPIKey: c.LLM.OpenRouterAPIKey,
		OpenRouterURL:    c.LLM.OpenRouterURL,
		GeminiAPIKey:     c.LLM.GeminiAPIKey,
	}
}

func (c *Config) HealthConfig() health.Config {
	cfg := health.DefaultConfig()
	cfg.FreshnessWindow = duration(c.Health.FreshnessWindow, cfg.FreshnessWindow)
	if c.Health.HealthyThreshold > 0 {
		cfg.HealthyThreshold = c.Health.HealthyThreshold
	}
	if c.Health.DegradedThreshold > 0 {
		cfg.DegradedThreshold = c.Health.DegradedThreshold
	}
	return cfg
}

func (c *Config) ArtifactTTL() time.Duration {
	return duration(c.Artifacts.TTL, 24*time.Hour)
}

func (c *Config) SessionIdleTTL() time.Duration {
	return duration(c.Server.SessionIdleTTL, 2*time.Hour)
}

func duration(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}
