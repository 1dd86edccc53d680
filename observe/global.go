package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// Process-wide observer. Reads are frequent and writes happen only at
// Init/Shutdown, so accessors take the read lock and lifecycle calls
// serialize on initMu.
var (
	globalMu sync.RWMutex
	global   Observer

	initMu sync.Mutex
)

func current() Observer {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return global
}

func install(obs Observer) {
	globalMu.Lock()
	global = obs
	globalMu.Unlock()

	if o, ok := obs.(*observer); ok {
		if o.tracerProvider != nil {
			otel.SetTracerProvider(o.tracerProvider)
		}
		if o.meterProvider != nil {
			otel.SetMeterProvider(o.meterProvider)
		}
	}
	otel.SetTextMapPropagator(NewPropagator())
	otel.SetErrorHandler(newExportErrorHandler(obs.Logger(), DefaultExportErrorWindow))
}

// Init validates cfg and installs a new process-wide observer. Invalid
// configuration fails here. Initializing again logs a warning, replaces the
// previous observer and then shuts it down. When the new observer cannot be
// built the previous one stays installed and running. A scrape server that
// fails to bind is reported with the installed observer, which keeps
// recording.
func Init(ctx context.Context, cfg Config, opts ...ObserverOption) (Observer, error) {
	initMu.Lock()
	defer initMu.Unlock()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// The previous observer stays installed and running until its
	// replacement has been built.
	obs, err := buildObserver(ctx, cfg, opts...)
	if err != nil {
		return nil, err
	}

	prev := current()
	if prev != nil {
		prev.Logger().Warn(ctx, "observability already initialized, replacing previous instance")
	}
	install(obs)
	if prev != nil {
		if err := prev.Shutdown(ctx); err != nil {
			obs.Logger().ErrorWithCause(ctx, "previous observer shutdown failed", err)
		}
	}

	// The scrape server binds after the previous one released its port.
	if err := obs.startServer(); err != nil {
		return obs, err
	}
	return obs, nil
}

// EnsureInitialized returns the process-wide observer, installing one built
// from DefaultConfig with a warning when Init has not run.
func EnsureInitialized() Observer {
	if obs := current(); obs != nil {
		return obs
	}

	initMu.Lock()
	defer initMu.Unlock()
	if obs := current(); obs != nil {
		return obs
	}

	ctx := context.Background()
	obs, err := NewObserver(ctx, DefaultConfig())
	if err != nil {
		// DefaultConfig always validates; a failure here is environmental.
		obs = &observer{
			tracer: newNoopTracer(),
			meter:  (*Registry)(nil).Meter(),
			logger: NewLogger("info"),
		}
	}
	install(obs)
	obs.Logger().Warn(ctx, "observability used before Init, using default configuration")
	return obs
}

// Shutdown shuts down and removes the process-wide observer. Later
// accessors re-initialize with defaults.
func Shutdown(ctx context.Context) error {
	initMu.Lock()
	defer initMu.Unlock()

	globalMu.Lock()
	obs := global
	global = nil
	globalMu.Unlock()

	if obs == nil {
		return nil
	}
	return obs.Shutdown(ctx)
}

// L returns the process logger.
func L() Logger {
	return EnsureInitialized().Logger()
}

// T returns the process tracer.
func T() Tracer {
	return EnsureInitialized().Tracer()
}

// M returns the process metrics registry. It never initializes: before Init
// it returns nil, on which every recording call is a no-op.
func M() *Registry {
	obs := current()
	if obs == nil {
		return nil
	}
	return obs.Metrics()
}

// RecordHTTPRequest records a served request on the process registry.
func RecordHTTPRequest(ctx context.Context, method, route string, status int, seconds float64) {
	M().RecordHTTPRequest(ctx, method, route, status, seconds)
}

// RecordDBQuery records a database query on the process registry.
func RecordDBQuery(ctx context.Context, operation, table string, d time.Duration, err error) {
	M().RecordDBQuery(ctx, operation, table, d, err)
}

// RecordBusinessEvent increments a business counter on the process registry.
func RecordBusinessEvent(ctx context.Context, event BusinessEvent, attrs ...attribute.KeyValue) {
	M().RecordBusinessEvent(ctx, event, attrs...)
}
