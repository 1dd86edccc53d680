package observe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/jonwraymond/obskit/observe/exporters"
)

// Observer provides access to telemetry primitives.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: Shutdown must honor cancellation/deadlines.
// - Errors: Shutdown is idempotent and joins the errors of every provider.
type Observer interface {
	// Tracer returns the configured tracer.
	Tracer() Tracer

	// Meter returns the configured meter.
	Meter() metric.Meter

	// Metrics returns the metrics registry. It is nil when metrics are
	// disabled; a nil *Registry records nothing.
	Metrics() *Registry

	// Logger returns the configured logger.
	Logger() Logger

	// MetricsHandler returns the Prometheus scrape handler, or nil when the
	// prometheus exporter is not selected.
	MetricsHandler() http.Handler

	// Shutdown flushes and shuts down all telemetry providers and stops the
	// scrape server.
	Shutdown(ctx context.Context) error
}

// ObserverOption configures NewObserver.
type ObserverOption func(*observerOptions)

type observerOptions struct {
	logWriter  io.Writer
	loggerOpts []LoggerOption
	processors []sdktrace.SpanProcessor
	readers    []sdkmetric.Reader
	registry   []RegistryOption
}

// WithLogWriter sets the log sink. Default: os.Stderr.
func WithLogWriter(w io.Writer) ObserverOption {
	return func(o *observerOptions) { o.logWriter = w }
}

// WithLoggerOptions passes extra options to the logger.
func WithLoggerOptions(opts ...LoggerOption) ObserverOption {
	return func(o *observerOptions) { o.loggerOpts = append(o.loggerOpts, opts...) }
}

// WithSpanProcessor registers an additional span processor, e.g. a
// tracetest.SpanRecorder.
func WithSpanProcessor(sp sdktrace.SpanProcessor) ObserverOption {
	return func(o *observerOptions) { o.processors = append(o.processors, sp) }
}

// WithMetricReader registers an additional metric reader, e.g. a manual
// reader.
func WithMetricReader(r sdkmetric.Reader) ObserverOption {
	return func(o *observerOptions) { o.readers = append(o.readers, r) }
}

// WithRegistryOptions passes options to the metrics registry.
func WithRegistryOptions(opts ...RegistryOption) ObserverOption {
	return func(o *observerOptions) { o.registry = append(o.registry, opts...) }
}

// observer is the concrete implementation of Observer.
type observer struct {
	tracer  Tracer
	meter   metric.Meter
	metrics *Registry
	logger  Logger

	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	metricsHandler http.Handler
	metricsServer  *exporters.MetricsServer

	shutdownOnce sync.Once
	shutdownErr  error
}

// NewObserver creates a new Observer with the given configuration. It does
// not touch process-wide state; use Init for that.
func NewObserver(ctx context.Context, cfg Config, opts ...ObserverOption) (Observer, error) {
	obs, err := buildObserver(ctx, cfg, opts...)
	if err != nil {
		return nil, err
	}
	if err := obs.startServer(); err != nil {
		_ = obs.Shutdown(ctx)
		return nil, err
	}
	return obs, nil
}

// buildObserver creates the providers of an observer without binding its
// scrape server.
func buildObserver(ctx context.Context, cfg Config, opts ...ObserverOption) (*observer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var o observerOptions
	for _, opt := range opts {
		opt(&o)
	}

	obs := &observer{}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.Version),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	if cfg.Tracing.Enabled {
		tp, err := setupTracing(ctx, cfg, res, o.processors)
		if err != nil {
			return nil, fmt.Errorf("failed to setup tracing: %w", err)
		}
		obs.tracerProvider = tp
		obs.tracer = newTracer(tp.Tracer(cfg.ServiceName))
	} else {
		obs.tracer = newNoopTracer()
	}

	if cfg.Logging.Enabled {
		obs.logger = newConfiguredLogger(cfg, obs.tracer, o)
	} else {
		obs.logger = &noopLogger{tracer: obs.tracer}
	}

	if cfg.Metrics.Enabled {
		if err := obs.setupMetrics(ctx, cfg, res, o); err != nil {
			_ = obs.Shutdown(ctx)
			return nil, fmt.Errorf("failed to setup metrics: %w", err)
		}
	} else {
		obs.meter = metricnoop.NewMeterProvider().Meter("noop")
	}

	return obs, nil
}

func newConfiguredLogger(cfg Config, tr Tracer, o observerOptions) Logger {
	console := cfg.Logging.Format == "console" || (cfg.Logging.Format == "" && !cfg.IsProduction())

	base := []Field{F("service", cfg.ServiceName)}
	if cfg.Version != "" {
		base = append(base, F("version", cfg.Version))
	}
	if cfg.Environment != "" {
		base = append(base, F("environment", cfg.Environment))
	}

	opts := []LoggerOption{
		WithConsoleFormat(console),
		WithRedactKeys(cfg.Logging.Redact...),
		WithSpanTracer(tr),
		WithBaseFields(base...),
	}
	if o.logWriter != nil {
		opts = append(opts, WithWriter(o.logWriter))
	}
	opts = append(opts, o.loggerOpts...)

	level := cfg.Logging.Level
	if level == "" {
		level = "info"
	}
	return NewLogger(level, opts...)
}

func setupTracing(ctx context.Context, cfg Config, res *resource.Resource, processors []sdktrace.SpanProcessor) (*sdktrace.TracerProvider, error) {
	exporter, err := exporters.NewTracingExporter(ctx, cfg.Tracing.Exporter, exporters.Options{
		Endpoint: cfg.Tracing.Endpoint,
		Headers:  cfg.Tracing.Headers,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	// Remote sampling decisions win; root spans sample by trace id ratio.
	var root sdktrace.Sampler
	switch {
	case cfg.Tracing.SamplePct >= MaxSamplePct:
		root = sdktrace.AlwaysSample()
	case cfg.Tracing.SamplePct <= MinSamplePct:
		root = sdktrace.NeverSample()
	default:
		root = sdktrace.TraceIDRatioBased(cfg.Tracing.SamplePct)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(root)),
	}
	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}
	for _, sp := range processors {
		opts = append(opts, sdktrace.WithSpanProcessor(sp))
	}

	return sdktrace.NewTracerProvider(opts...), nil
}

func (obs *observer) setupMetrics(ctx context.Context, cfg Config, res *resource.Resource, o observerOptions) error {
	var promRegistry *prometheus.Registry
	expOpts := exporters.Options{Endpoint: cfg.Tracing.Endpoint, Headers: cfg.Tracing.Headers}
	if cfg.Metrics.Exporter == exporters.Prometheus {
		promRegistry = prometheus.NewRegistry()
		promRegistry.MustRegister(collectors.NewGoCollector())
		expOpts.Registerer = promRegistry
	}

	reader, err := exporters.NewMetricsReader(ctx, cfg.Metrics.Exporter, expOpts)
	if err != nil {
		return fmt.Errorf("failed to create metrics reader: %w", err)
	}

	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	if reader != nil {
		opts = append(opts, sdkmetric.WithReader(reader))
	}
	for _, r := range o.readers {
		opts = append(opts, sdkmetric.WithReader(r))
	}

	obs.meterProvider = sdkmetric.NewMeterProvider(opts...)
	obs.meter = obs.meterProvider.Meter(cfg.ServiceName)

	obs.metrics, err = NewRegistry(obs.meter, o.registry...)
	if err != nil {
		return fmt.Errorf("failed to create metrics registry: %w", err)
	}

	if promRegistry != nil {
		path := cfg.Metrics.Path
		if path == "" {
			path = DefaultMetricsPath
		}
		srv := exporters.NewMetricsServer(":"+strconv.Itoa(cfg.Metrics.Port), path, promRegistry)
		obs.metricsHandler = srv.Handler()
		if cfg.Metrics.Port > 0 {
			obs.metricsServer = srv
		}
	}
	return nil
}

// startServer binds the scrape server, if one is configured.
func (obs *observer) startServer() error {
	if obs.metricsServer == nil {
		return nil
	}
	if err := obs.metricsServer.Start(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}
	return nil
}

func (obs *observer) Tracer() Tracer {
	return obs.tracer
}

func (obs *observer) Meter() metric.Meter {
	return obs.meter
}

func (obs *observer) Metrics() *Registry {
	return obs.metrics
}

func (obs *observer) Logger() Logger {
	return obs.logger
}

func (obs *observer) MetricsHandler() http.Handler {
	return obs.metricsHandler
}

func (obs *observer) Shutdown(ctx context.Context) error {
	obs.shutdownOnce.Do(func() {
		var errs []error

		if obs.metricsServer != nil {
			if err := obs.metricsServer.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("metrics server shutdown: %w", err))
			}
		}

		if obs.tracerProvider != nil {
			if err := obs.tracerProvider.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("tracer shutdown: %w", err))
			}
		}

		if obs.meterProvider != nil {
			if err := obs.meterProvider.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("meter shutdown: %w", err))
			}
		}

		_ = obs.logger.Sync()
		obs.shutdownErr = errors.Join(errs...)
	})
	return obs.shutdownErr
}
