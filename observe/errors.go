package observe

import "errors"

// Configuration errors.
var (
	// ErrMissingServiceName indicates Config.ServiceName is empty.
	ErrMissingServiceName = errors.New("observe: service name is required")

	// ErrInvalidSamplePct indicates Tracing.SamplePct is not in [0.0, 1.0].
	ErrInvalidSamplePct = errors.New("observe: sample percentage must be between 0.0 and 1.0")

	// ErrInvalidTracingExporter indicates an unknown tracing exporter name.
	ErrInvalidTracingExporter = errors.New("observe: invalid tracing exporter")

	// ErrInvalidMetricsExporter indicates an unknown metrics exporter name.
	ErrInvalidMetricsExporter = errors.New("observe: invalid metrics exporter")

	// ErrInvalidLogLevel indicates an unknown log level.
	ErrInvalidLogLevel = errors.New("observe: invalid log level")

	// ErrInvalidLogFormat indicates an unknown log format.
	ErrInvalidLogFormat = errors.New("observe: invalid log format")

	// ErrInvalidMetricsPort indicates a port outside [0, 65535].
	ErrInvalidMetricsPort = errors.New("observe: invalid metrics port")

	// ErrInvalidMetricsPath indicates a scrape path not starting with "/".
	ErrInvalidMetricsPath = errors.New("observe: metrics path must start with /")
)

// Runtime errors.
var (
	// ErrNilObserver indicates a nil Observer was provided.
	ErrNilObserver = errors.New("observe: observer is nil")

	// ErrInstrumentConflict indicates a custom instrument name is already
	// registered with a different kind.
	ErrInstrumentConflict = errors.New("observe: instrument registered with a different kind")

	// ErrPanicked wraps a panic recovered from an asynchronous span body.
	ErrPanicked = errors.New("observe: operation panicked")
)

// Validation constants.
const (
	// MinSamplePct is the minimum valid sampling percentage.
	MinSamplePct = 0.0
	// MaxSamplePct is the maximum valid sampling percentage.
	MaxSamplePct = 1.0
)

// ValidTracingExporters lists valid tracing exporter names.
var ValidTracingExporters = []string{"otlp", "jaeger", "stdout", "none", ""}

// ValidMetricsExporters lists valid metrics exporter names.
var ValidMetricsExporters = []string{"otlp", "prometheus", "stdout", "none", ""}

// ValidLogLevels lists valid log level names.
var ValidLogLevels = []string{"debug", "info", "warn", "error", "fatal", ""}

// DefaultRedactedFields lists field keys that are redacted in logs unless
// the configuration supplies its own deny-list. Matching ignores case and
// the separators "-" and "_", so "apiKey" also covers "api_key" and "API-KEY".
var DefaultRedactedFields = []string{
	"password",
	"token",
	"apiKey",
	"secret",
	"authorization",
	"cookie",
	"set-cookie",
	"credential",
}
