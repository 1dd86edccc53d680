package observe

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
)

// Metrics records the standard request, database and business metrics.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: recording must return quickly and never block on export.
// - Errors: implementations must not panic.
type Metrics interface {
	// RecordHTTPRequest records one served request. status_class is derived
	// from status, never passed in.
	RecordHTTPRequest(ctx context.Context, method, route string, status int, seconds float64)

	// AddInFlight moves the in-flight request gauge by delta.
	AddInFlight(ctx context.Context, delta int64)

	// RecordDBQuery records one database query and, when err is non-nil,
	// one query error.
	RecordDBQuery(ctx context.Context, operation, table string, d time.Duration, err error)

	// RecordBusinessEvent increments the named business counter.
	RecordBusinessEvent(ctx context.Context, event BusinessEvent, attrs ...attribute.KeyValue)
}

// BusinessEvent names a business counter.
type BusinessEvent string

// Standard business counters.
const (
	BusinessCommand      BusinessEvent = "business.commands"
	BusinessEventHandled BusinessEvent = "business.events"
	BusinessNotification BusinessEvent = "business.notifications"
	BusinessError        BusinessEvent = "business.errors"
)

// Standard instrument names.
const (
	MetricHTTPRequests       = "http.server.requests"
	MetricHTTPDuration       = "http.server.request.duration"
	MetricHTTPActiveRequests = "http.server.active_requests"
	MetricDBQueries          = "db.queries"
	MetricDBQueryDuration    = "db.query.duration"
	MetricDBQueryErrors      = "db.query.errors"
	MetricProcessMemory      = "process.memory.usage"
	MetricProcessCPU         = "process.cpu.utilization"
)

// Metric label keys.
const (
	LabelMethod      = "method"
	LabelRoute       = "route"
	LabelStatusCode  = "status_code"
	LabelStatusClass = "status_class"
	LabelOperation   = "operation"
	LabelTable       = "table"
	LabelSegment     = "segment"
)

var durationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// StatusClass returns the class label of an HTTP status code, e.g. "4xx".
func StatusClass(status int) string {
	if status < 100 || status > 999 {
		return "unknown"
	}
	return strconv.Itoa(status/100) + "xx"
}

// instrument kinds tracked for custom instruments.
const (
	kindCounter       = "counter"
	kindHistogram     = "histogram"
	kindUpDownCounter = "updowncounter"
	kindGauge         = "gauge"
)

type customInstrument struct {
	kind string
	inst any
}

// Registry is the meter-backed Metrics implementation. It owns the standard
// instrument set and the custom instruments created through it.
//
// A nil *Registry is valid: every method is a no-op and custom instrument
// constructors return no-op instruments.
type Registry struct {
	meter metric.Meter

	requests   metric.Int64Counter
	duration   metric.Float64Histogram
	inFlight   metric.Int64UpDownCounter
	dbQueries  metric.Int64Counter
	dbDuration metric.Float64Histogram
	dbErrors   metric.Int64Counter
	business   map[BusinessEvent]metric.Int64Counter

	cpu *CPUSampler
	mem MemorySource

	mu     sync.Mutex
	custom map[string]customInstrument
}

// RegistryOption configures NewRegistry.
type RegistryOption func(*Registry)

// WithCPUSampler sets the sampler backing the process CPU gauge.
func WithCPUSampler(s *CPUSampler) RegistryOption {
	return func(r *Registry) { r.cpu = s }
}

// WithMemorySource sets the source backing the process memory gauge.
func WithMemorySource(src MemorySource) RegistryOption {
	return func(r *Registry) { r.mem = src }
}

// NewRegistry creates the standard instrument set on meter and registers
// the process gauges.
func NewRegistry(meter metric.Meter, opts ...RegistryOption) (*Registry, error) {
	r := &Registry{
		meter:    meter,
		business: make(map[BusinessEvent]metric.Int64Counter, 4),
		custom:   make(map[string]customInstrument),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.cpu == nil {
		r.cpu = NewCPUSampler()
	}
	if r.mem == nil {
		r.mem = ReadProcessMemory
	}

	var err error
	if r.requests, err = meter.Int64Counter(MetricHTTPRequests,
		metric.WithDescription("Total number of HTTP requests served"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, err
	}
	if r.duration, err = meter.Float64Histogram(MetricHTTPDuration,
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...),
	); err != nil {
		return nil, err
	}
	if r.inFlight, err = meter.Int64UpDownCounter(MetricHTTPActiveRequests,
		metric.WithDescription("Number of HTTP requests in flight"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, err
	}
	if r.dbQueries, err = meter.Int64Counter(MetricDBQueries,
		metric.WithDescription("Total number of database queries"),
		metric.WithUnit("{query}"),
	); err != nil {
		return nil, err
	}
	if r.dbDuration, err = meter.Float64Histogram(MetricDBQueryDuration,
		metric.WithDescription("Database query duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...),
	); err != nil {
		return nil, err
	}
	if r.dbErrors, err = meter.Int64Counter(MetricDBQueryErrors,
		metric.WithDescription("Total number of failed database queries"),
		metric.WithUnit("{error}"),
	); err != nil {
		return nil, err
	}

	for event, desc := range map[BusinessEvent]string{
		BusinessCommand:      "Total number of commands handled",
		BusinessEventHandled: "Total number of domain events handled",
		BusinessNotification: "Total number of notifications dispatched",
		BusinessError:        "Total number of business errors",
	} {
		c, err := meter.Int64Counter(string(event), metric.WithDescription(desc), metric.WithUnit("1"))
		if err != nil {
			return nil, err
		}
		r.business[event] = c
	}

	if err := r.registerProcessGauges(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) registerProcessGauges() error {
	_, err := r.meter.Float64ObservableGauge(MetricProcessCPU,
		metric.WithDescription("Process CPU utilization since the previous scrape"),
		metric.WithUnit("%"),
		metric.WithFloat64Callback(func(_ context.Context, o metric.Float64Observer) error {
			o.Observe(r.cpu.Sample())
			return nil
		}),
	)
	if err != nil {
		return err
	}

	_, err = r.meter.Int64ObservableGauge(MetricProcessMemory,
		metric.WithDescription("Process memory usage by segment"),
		metric.WithUnit("By"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			for segment, bytes := range r.mem() {
				o.Observe(bytes, metric.WithAttributes(attribute.String(LabelSegment, segment)))
			}
			return nil
		}),
	)
	return err
}

// Meter returns the meter backing the registry.
func (r *Registry) Meter() metric.Meter {
	if r == nil {
		return metricnoop.NewMeterProvider().Meter("noop")
	}
	return r.meter
}

func (r *Registry) RecordHTTPRequest(ctx context.Context, method, route string, status int, seconds float64) {
	if r == nil {
		return
	}
	opt := metric.WithAttributes(
		attribute.String(LabelMethod, method),
		attribute.String(LabelRoute, route),
		attribute.String(LabelStatusCode, strconv.Itoa(status)),
		attribute.String(LabelStatusClass, StatusClass(status)),
	)
	r.requests.Add(ctx, 1, opt)
	r.duration.Record(ctx, seconds, opt)
}

func (r *Registry) AddInFlight(ctx context.Context, delta int64) {
	if r == nil {
		return
	}
	r.inFlight.Add(ctx, delta)
}

func (r *Registry) RecordDBQuery(ctx context.Context, operation, table string, d time.Duration, err error) {
	if r == nil {
		return
	}
	opt := metric.WithAttributes(
		attribute.String(LabelOperation, operation),
		attribute.String(LabelTable, table),
	)
	r.dbQueries.Add(ctx, 1, opt)
	r.dbDuration.Record(ctx, d.Seconds(), opt)
	if err != nil {
		r.dbErrors.Add(ctx, 1, opt)
	}
}

// RecordBusinessEvent increments a standard business counter, or a custom
// counter of the same name for events outside the standard set.
func (r *Registry) RecordBusinessEvent(ctx context.Context, event BusinessEvent, attrs ...attribute.KeyValue) {
	if r == nil {
		return
	}
	if c, ok := r.business[event]; ok {
		c.Add(ctx, 1, metric.WithAttributes(attrs...))
		return
	}
	c, err := r.Counter(string(event), "", "1")
	if err != nil {
		return
	}
	c.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// Counter returns the custom counter named name, creating it on first use.
func (r *Registry) Counter(name, desc, unit string) (metric.Float64Counter, error) {
	if r == nil {
		return metricnoop.Float64Counter{}, nil
	}
	inst, err := r.instrument(name, kindCounter, func() (any, error) {
		return r.meter.Float64Counter(name, metric.WithDescription(desc), metric.WithUnit(unit))
	})
	if err != nil {
		return metricnoop.Float64Counter{}, err
	}
	return inst.(metric.Float64Counter), nil
}

// Histogram returns the custom histogram named name, creating it on first use.
func (r *Registry) Histogram(name, desc, unit string) (metric.Float64Histogram, error) {
	if r == nil {
		return metricnoop.Float64Histogram{}, nil
	}
	inst, err := r.instrument(name, kindHistogram, func() (any, error) {
		return r.meter.Float64Histogram(name, metric.WithDescription(desc), metric.WithUnit(unit))
	})
	if err != nil {
		return metricnoop.Float64Histogram{}, err
	}
	return inst.(metric.Float64Histogram), nil
}

// UpDownCounter returns the custom up/down counter named name, creating it on
// first use.
func (r *Registry) UpDownCounter(name, desc, unit string) (metric.Float64UpDownCounter, error) {
	if r == nil {
		return metricnoop.Float64UpDownCounter{}, nil
	}
	inst, err := r.instrument(name, kindUpDownCounter, func() (any, error) {
		return r.meter.Float64UpDownCounter(name, metric.WithDescription(desc), metric.WithUnit(unit))
	})
	if err != nil {
		return metricnoop.Float64UpDownCounter{}, err
	}
	return inst.(metric.Float64UpDownCounter), nil
}

// Gauge registers an observable gauge reporting cb on every collection.
// Registering a name again keeps the first callback.
func (r *Registry) Gauge(name, desc, unit string, cb func() float64) (metric.Float64ObservableGauge, error) {
	if r == nil {
		return metricnoop.Float64ObservableGauge{}, nil
	}
	inst, err := r.instrument(name, kindGauge, func() (any, error) {
		return r.meter.Float64ObservableGauge(name,
			metric.WithDescription(desc),
			metric.WithUnit(unit),
			metric.WithFloat64Callback(func(_ context.Context, o metric.Float64Observer) error {
				o.Observe(cb())
				return nil
			}),
		)
	})
	if err != nil {
		return metricnoop.Float64ObservableGauge{}, err
	}
	return inst.(metric.Float64ObservableGauge), nil
}

// instrument returns the custom instrument registered under name, creating
// it with create when absent.
func (r *Registry) instrument(name, kind string, create func() (any, error)) (any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ci, ok := r.custom[name]; ok {
		if ci.kind != kind {
			return nil, fmt.Errorf("%w: %q is a %s, not a %s", ErrInstrumentConflict, name, ci.kind, kind)
		}
		return ci.inst, nil
	}
	inst, err := create()
	if err != nil {
		return nil, err
	}
	r.custom[name] = customInstrument{kind: kind, inst: inst}
	return inst, nil
}

// Ensure Registry implements Metrics
var _ Metrics = (*Registry)(nil)

// noopMetrics is a metrics implementation that does nothing.
type noopMetrics struct{}

func (noopMetrics) RecordHTTPRequest(context.Context, string, string, int, float64)           {}
func (noopMetrics) AddInFlight(context.Context, int64)                                        {}
func (noopMetrics) RecordDBQuery(context.Context, string, string, time.Duration, error)       {}
func (noopMetrics) RecordBusinessEvent(context.Context, BusinessEvent, ...attribute.KeyValue) {}
