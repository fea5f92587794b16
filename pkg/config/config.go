package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/aixgo-dev/sentichat/pkg/guardrail"
	"github.com/aixgo-dev/sentichat/pkg/session"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// MaxConfigSize is the largest config file LoadConfig will read.
const MaxConfigSize = 1 << 20

// Config represents the application configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	LLM        LLMConfig        `yaml:"llm"`
	Data       DataConfig       `yaml:"data"`
	Guardrail  GuardrailConfig  `yaml:"guardrail"`
	Session    session.Config   `yaml:"session"`
	Activity   ActivityConfig   `yaml:"activity"`
	Downstream DownstreamConfig `yaml:"downstream"`
	Log        LogConfig        `yaml:"log"`
	Tracing    TracingConfig    `yaml:"tracing"`
}

// ServerConfig holds the HTTP listeners
type ServerConfig struct {
	Host              string        `yaml:"host"`
	Port              int           `yaml:"port"`
	ObservabilityPort int           `yaml:"observability_port"`
	CORSOrigins       []string      `yaml:"cors_origins"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
}

// Addr returns host:port for the API listener
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LLMConfig holds completion provider settings
type LLMConfig struct {
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	BaseURL     string  `yaml:"base_url"`
}

// Enabled reports whether a completion provider can be built.
func (l LLMConfig) Enabled() bool {
	return l.APIKey != ""
}

// DataConfig locates the sentiment dataset
type DataConfig struct {
	CSVPath string `yaml:"csv_path"`
	Watch   bool   `yaml:"watch"`
}

// GuardrailConfig holds message policy settings
type GuardrailConfig struct {
	Enabled           bool          `yaml:"enabled"`
	RateLimitRequests int           `yaml:"rate_limit_requests"`
	RateLimitWindow   time.Duration `yaml:"rate_limit_window"`
	MaxQueryLength    int           `yaml:"max_query_length"`
	PruneSchedule     string        `yaml:"prune_schedule"`
	ExtraRules        []RuleConfig  `yaml:"extra_rules"`
}

// RuleConfig is a site-specific guardrail rule added after the built-in
// ones of its category.
type RuleConfig struct {
	Category    string `yaml:"category"`
	Pattern     string `yaml:"pattern"`
	Description string `yaml:"description"`
}

// Rules compiles ExtraRules. Patterns match case-insensitively.
func (g GuardrailConfig) Rules() ([]guardrail.Rule, error) {
	rules := make([]guardrail.Rule, 0, len(g.ExtraRules))
	for i, rc := range g.ExtraRules {
		cat := guardrail.Category(rc.Category)
		if !cat.Valid() || cat == guardrail.CategoryNone || cat == guardrail.CategoryRateLimit {
			return nil, fmt.Errorf("guardrail.extra_rules[%d]: unsupported category %q", i, rc.Category)
		}
		re, err := regexp.Compile("(?i)" + rc.Pattern)
		if err != nil {
			return nil, fmt.Errorf("guardrail.extra_rules[%d]: %w", i, err)
		}
		desc := rc.Description
		if desc == "" {
			desc = rc.Pattern
		}
		rules = append(rules, guardrail.Rule{Category: cat, Pattern: re, Description: desc})
	}
	return rules, nil
}

// ActivityConfig holds usage tracking settings
type ActivityConfig struct {
	MaxRecords     int    `yaml:"max_records"`
	ReportSchedule string `yaml:"report_schedule"`
	ReportDir      string `yaml:"report_dir"`
}

// ReportsEnabled reports whether periodic xlsx reports are configured.
func (a ActivityConfig) ReportsEnabled() bool {
	return a.ReportSchedule != "" && a.ReportDir != ""
}

// DownstreamConfig holds timeouts and circuit breaker settings for the
// completion provider and chart renderer
type DownstreamConfig struct {
	Timeout         time.Duration `yaml:"timeout"`
	BreakerFailures int           `yaml:"breaker_failures"`
	BreakerCooldown time.Duration `yaml:"breaker_cooldown"`
	HistoryTurns    int           `yaml:"history_turns"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig selects the span exporter. The OTEL_* variables override it.
type TracingConfig struct {
	ServiceName string  `yaml:"service_name"`
	Exporter    string  `yaml:"exporter"`
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// Default returns the configuration used when nothing else is given
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              8000,
			ObservabilityPort: 9090,
			CORSOrigins:       []string{"*"},
			RequestTimeout:    60 * time.Second,
		},
		LLM: LLMConfig{
			Model:       "gpt-4",
			Temperature: 0.7,
			MaxTokens:   1000,
		},
		Data: DataConfig{
			CSVPath: "all_indexes_beta.csv",
			Watch:   true,
		},
		Guardrail: GuardrailConfig{
			Enabled:           true,
			RateLimitRequests: guardrail.DefaultRequests,
			RateLimitWindow:   guardrail.DefaultWindow,
			MaxQueryLength:    2000,
			PruneSchedule:     "@every 5m",
		},
		Session: session.DefaultConfig(),
		Activity: ActivityConfig{
			MaxRecords: 100_000,
		},
		Downstream: DownstreamConfig{
			Timeout:         30 * time.Second,
			BreakerFailures: 5,
			BreakerCooldown: 30 * time.Second,
			HistoryTurns:    10,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Tracing: TracingConfig{
			ServiceName: "sentichat",
			Exporter:    "none",
			Endpoint:    "localhost:4318",
			SampleRatio: 1,
		},
	}
}

// LoadDotEnv loads .env files into the process environment. Missing files
// are not an error; variables already set win.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// LoadConfig builds the configuration from defaults, the YAML file at path
// (skipped when path is empty) and environment overrides, then validates it.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if info.Size() > MaxConfigSize {
			return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), MaxConfigSize)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveConfig saves configuration to a YAML file
func SaveConfig(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ApplyEnv overrides fields from environment variables read through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	e := envReader{lookup: lookup}

	e.setString("OPENAI_API_KEY", &c.LLM.APIKey)
	e.setString("OPENAI_MODEL", &c.LLM.Model)
	e.setFloat("OPENAI_TEMPERATURE", &c.LLM.Temperature)
	e.setString("OPENAI_BASE_URL", &c.LLM.BaseURL)
	e.setString("DATA_CSV_PATH", &c.Data.CSVPath)
	e.setString("API_HOST", &c.Server.Host)
	e.setInt("API_PORT", &c.Server.Port)
	e.setInt("OBSERVABILITY_PORT", &c.Server.ObservabilityPort)
	e.setInt("RATE_LIMIT_REQUESTS", &c.Guardrail.RateLimitRequests)
	e.setSeconds("RATE_LIMIT_WINDOW", &c.Guardrail.RateLimitWindow)
	e.setBool("ENABLE_GUARDRAILS", &c.Guardrail.Enabled)
	e.setInt("MAX_QUERY_LENGTH", &c.Guardrail.MaxQueryLength)
	e.setSeconds("SESSION_TIMEOUT", &c.Session.TTL)
	e.setString("SESSION_STORE", &c.Session.Store)
	e.setString("REDIS_ADDR", &c.Session.Redis.Addr)
	e.setString("REDIS_PASSWORD", &c.Session.Redis.Password)
	e.setString("ACTIVITY_REPORT_DIR", &c.Activity.ReportDir)
	e.setString("ACTIVITY_REPORT_SCHEDULE", &c.Activity.ReportSchedule)
	e.setString("LOG_LEVEL", &c.Log.Level)
	e.setString("LOG_FORMAT", &c.Log.Format)
	e.setString("OTEL_SERVICE_NAME", &c.Tracing.ServiceName)
	e.setString("OTEL_TRACES_EXPORTER", &c.Tracing.Exporter)
	e.setString("OTEL_EXPORTER_OTLP_ENDPOINT", &c.Tracing.Endpoint)
	e.setBool("OTEL_EXPORTER_OTLP_INSECURE", &c.Tracing.Insecure)
	e.setFloat("OTEL_TRACES_SAMPLER_ARG", &c.Tracing.SampleRatio)

	return errors.Join(e.errs...)
}

type envReader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (e *envReader) setString(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) setInt(key string, dst *int) {
	if v, ok := e.get(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = n
	}
}

func (e *envReader) setFloat(key string, dst *float64) {
	if v, ok := e.get(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = f
	}
}

func (e *envReader) setBool(key string, dst *bool) {
	if v, ok := e.get(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = b
	}
}

// setSeconds accepts a bare number of seconds or a Go duration string.
func (e *envReader) setSeconds(key string, dst *time.Duration) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(n) * time.Second
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = d
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	if c.Server.ObservabilityPort < 0 || c.Server.ObservabilityPort > 65535 {
		errs = append(errs, fmt.Errorf("server.observability_port out of range: %d", c.Server.ObservabilityPort))
	}
	if c.Server.ObservabilityPort != 0 && c.Server.ObservabilityPort == c.Server.Port {
		errs = append(errs, errors.New("server.observability_port must differ from server.port"))
	}
	if c.LLM.Enabled() && c.LLM.Model == "" {
		errs = append(errs, errors.New("llm.model is required when an API key is set"))
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errs = append(errs, fmt.Errorf("llm.temperature must be between 0 and 2, got %g", c.LLM.Temperature))
	}
	if c.Data.CSVPath == "" {
		errs = append(errs, errors.New("data.csv_path is required"))
	}
	if c.Guardrail.RateLimitRequests <= 0 {
		errs = append(errs, errors.New("guardrail.rate_limit_requests must be positive"))
	}
	if c.Guardrail.RateLimitWindow <= 0 {
		errs = append(errs, errors.New("guardrail.rate_limit_window must be positive"))
	}
	if c.Guardrail.MaxQueryLength <= 0 || c.Guardrail.MaxQueryLength > guardrail.MaxSanitizedInput {
		errs = append(errs, fmt.Errorf("guardrail.max_query_length must be in 1..%d", guardrail.MaxSanitizedInput))
	}
	if _, err := c.Guardrail.Rules(); err != nil {
		errs = append(errs, err)
	}
	switch c.Session.Store {
	case session.StoreMemory, "":
	case session.StoreRedis:
		if c.Session.Redis.Addr == "" {
			errs = append(errs, errors.New("session.redis.addr is required for the redis store"))
		}
	default:
		errs = append(errs, fmt.Errorf("session.store must be %q or %q, got %q", session.StoreMemory, session.StoreRedis, c.Session.Store))
	}
	if c.Session.TTL < 0 {
		errs = append(errs, errors.New("session.ttl must not be negative"))
	}
	if (c.Activity.ReportSchedule == "") != (c.Activity.ReportDir == "") {
		errs = append(errs, errors.New("activity.report_schedule and activity.report_dir must be set together"))
	}
	if c.Downstream.BreakerFailures <= 0 {
		errs = append(errs, errors.New("downstream.breaker_failures must be positive"))
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	switch c.Tracing.Exporter {
	case "none", "otlp", "stdout":
	default:
		errs = append(errs, fmt.Errorf("tracing.exporter must be none, otlp or stdout, got %q", c.Tracing.Exporter))
	}
	if c.Tracing.Exporter == "otlp" && c.Tracing.Endpoint == "" {
		errs = append(errs, errors.New("tracing.endpoint is required for the otlp exporter"))
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		errs = append(errs, fmt.Errorf("tracing.sample_ratio must be between 0 and 1, got %g", c.Tracing.SampleRatio))
	}

	return errors.Join(errs...)
}

// ConfigureLogger applies the level and formatter to logger.
func (l LogConfig) ConfigureLogger(logger *logrus.Logger) error {
	level, err := logrus.ParseLevel(l.Level)
	if err != nil {
		return err
	}
	logger.SetLevel(level)
	if l.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}
