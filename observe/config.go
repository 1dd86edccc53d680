package observe

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/jonwraymond/obskit/secret"
)

// Config holds all configuration for the Observer.
type Config struct {
	ServiceName string        `yaml:"service_name"`
	Version     string        `yaml:"version"`
	Environment string        `yaml:"environment"` // production|staging|development|...
	Tracing     TracingConfig `yaml:"tracing"`
	Metrics     MetricsConfig `yaml:"metrics"`
	Logging     LoggingConfig `yaml:"logging"`
}

// TracingConfig configures the tracing subsystem.
type TracingConfig struct {
	Enabled   bool              `yaml:"enabled"`
	Exporter  string            `yaml:"exporter"`   // otlp|jaeger|stdout|none
	SamplePct float64           `yaml:"sample_pct"` // 0.0-1.0
	Endpoint  string            `yaml:"endpoint"`   // overrides OTEL_EXPORTER_OTLP_ENDPOINT
	Headers   map[string]string `yaml:"headers"`    // values may be secretref:<provider>:<ref>
}

// MetricsConfig configures the metrics subsystem.
type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // otlp|prometheus|stdout|none
	Port     int    `yaml:"port"`     // scrape listener port; 0 disables the listener
	Path     string `yaml:"path"`     // scrape path
}

// LoggingConfig configures the logging subsystem.
type LoggingConfig struct {
	Enabled bool     `yaml:"enabled"`
	Level   string   `yaml:"level"`  // debug|info|warn|error|fatal
	Format  string   `yaml:"format"` // json|console; empty picks by environment
	Redact  []string `yaml:"redact"` // deny-list; empty uses DefaultRedactedFields
}

// Defaults used by DefaultConfig.
const (
	DefaultServiceName = "unknown-service"
	DefaultEnvironment = "development"
	DefaultMetricsPath = "/metrics"
	DefaultMetricsPort = 9464
)

// DefaultConfig returns a configuration that always validates. It is used
// when the process observes before explicit initialization. It never opens
// a network listener: Metrics.Port is 0.
func DefaultConfig() Config {
	return Config{
		ServiceName: DefaultServiceName,
		Environment: DefaultEnvironment,
		Tracing: TracingConfig{
			Enabled:   true,
			Exporter:  "none",
			SamplePct: 1.0,
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Exporter: "prometheus",
			Path:     DefaultMetricsPath,
		},
		Logging: LoggingConfig{
			Enabled: true,
			Level:   "info",
		},
	}
}

// IsProduction reports whether the environment is production.
func (c *Config) IsProduction() bool {
	switch strings.ToLower(c.Environment) {
	case "production", "prod":
		return true
	}
	return false
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return ErrMissingServiceName
	}

	if c.Tracing.Enabled {
		if !slices.Contains(ValidTracingExporters, c.Tracing.Exporter) {
			return fmt.Errorf("%w: %q", ErrInvalidTracingExporter, c.Tracing.Exporter)
		}
		if c.Tracing.SamplePct < MinSamplePct || c.Tracing.SamplePct > MaxSamplePct {
			return fmt.Errorf("%w, got: %f", ErrInvalidSamplePct, c.Tracing.SamplePct)
		}
	}

	if c.Metrics.Enabled {
		if !slices.Contains(ValidMetricsExporters, c.Metrics.Exporter) {
			return fmt.Errorf("%w: %q", ErrInvalidMetricsExporter, c.Metrics.Exporter)
		}
		if c.Metrics.Port < 0 || c.Metrics.Port > 65535 {
			return fmt.Errorf("%w: %d", ErrInvalidMetricsPort, c.Metrics.Port)
		}
		if c.Metrics.Path != "" && !strings.HasPrefix(c.Metrics.Path, "/") {
			return fmt.Errorf("%w: %q", ErrInvalidMetricsPath, c.Metrics.Path)
		}
	}

	if c.Logging.Enabled {
		if !slices.Contains(ValidLogLevels, c.Logging.Level) {
			return fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.Logging.Level)
		}
		switch c.Logging.Format {
		case "", "json", "console":
		default:
			return fmt.Errorf("%w: %q", ErrInvalidLogFormat, c.Logging.Format)
		}
	}

	return nil
}

// Environment variables read by LoadConfig.
const (
	EnvServiceName     = "OTEL_SERVICE_NAME"
	EnvServiceVersion  = "OBSKIT_SERVICE_VERSION"
	EnvEnvironment     = "OBSKIT_ENVIRONMENT"
	EnvLogLevel        = "OBSKIT_LOG_LEVEL"
	EnvLogFormat       = "OBSKIT_LOG_FORMAT"
	EnvLogRedact       = "OBSKIT_LOG_REDACT"
	EnvTracingExporter = "OBSKIT_TRACING_EXPORTER"
	EnvTraceSamplePct  = "OBSKIT_TRACE_SAMPLE_PCT"
	EnvMetricsExporter = "OBSKIT_METRICS_EXPORTER"
	EnvMetricsPort     = "OBSKIT_METRICS_PORT"
	EnvMetricsPath     = "OBSKIT_METRICS_PATH"
)

// LoadConfig builds a Config from defaults, an optional YAML file and the
// environment, in that order of precedence (environment wins).
//
// Dotenv files listed in envFiles are loaded first without overriding
// variables already set. ${VAR} references in the YAML file must resolve;
// tracing header values may be secret references (secretref:env:NAME or
// secretref:file:/path).
// The result is validated.
func LoadConfig(ctx context.Context, path string, envFiles ...string) (Config, error) {
	if len(envFiles) > 0 {
		if err := godotenv.Load(envFiles...); err != nil {
			return Config{}, fmt.Errorf("observe: load env files: %w", err)
		}
	}

	cfg := DefaultConfig()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("observe: read config: %w", err)
		}
		expanded, err := secret.ExpandEnvStrict(string(raw))
		if err != nil {
			return Config{}, fmt.Errorf("observe: expand config: %w", err)
		}
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return Config{}, fmt.Errorf("observe: parse config: %w", err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	if len(cfg.Tracing.Headers) > 0 {
		resolver := secret.NewResolver(true, secret.NewEnvProvider(), secret.NewFileProvider(""))
		headers, err := resolver.ResolveMap(ctx, cfg.Tracing.Headers)
		if err != nil {
			return Config{}, fmt.Errorf("observe: resolve tracing headers: %w", err)
		}
		cfg.Tracing.Headers = headers
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	str(EnvServiceName, &cfg.ServiceName)
	str(EnvServiceVersion, &cfg.Version)
	str(EnvEnvironment, &cfg.Environment)
	str(EnvLogLevel, &cfg.Logging.Level)
	str(EnvLogFormat, &cfg.Logging.Format)
	str(EnvTracingExporter, &cfg.Tracing.Exporter)
	str(EnvMetricsExporter, &cfg.Metrics.Exporter)
	str(EnvMetricsPath, &cfg.Metrics.Path)

	if v := os.Getenv(EnvLogRedact); v != "" {
		var keys []string
		for _, k := range strings.Split(v, ",") {
			if k = strings.TrimSpace(k); k != "" {
				keys = append(keys, k)
			}
		}
		cfg.Logging.Redact = keys
	}
	if v := os.Getenv(EnvTraceSamplePct); v != "" {
		pct, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: %s=%q", ErrInvalidSamplePct, EnvTraceSamplePct, v)
		}
		cfg.Tracing.SamplePct = pct
	}
	if v := os.Getenv(EnvMetricsPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q", ErrInvalidMetricsPort, EnvMetricsPort, v)
		}
		cfg.Metrics.Port = port
	}
	return nil
}
