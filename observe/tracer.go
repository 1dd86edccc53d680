package observe

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/jonwraymond/obskit/obsctx"
)

// instrumentationName is the scope name used for tracers and meters created
// by this package when no service-specific one is configured.
const instrumentationName = "github.com/jonwraymond/obskit"

// AttrCancelled marks spans closed because their unit of work was cancelled
// or timed out.
const AttrCancelled = "cancelled"

// Tracer wraps OpenTelemetry tracing with span lifecycle helpers.
//
// Spans started from ctx become children of the span active in ctx. The
// returned ctx carries the new span and a current obsctx.Context whose
// TraceID/SpanID point at it, so loggers and propagators pick it up.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: exporter failures never surface here; EndSpan must not panic.
type Tracer interface {
	// StartSpan starts a span as a child of the span active in ctx.
	StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span)

	// StartDomainSpan starts a span stamped with domain attributes and the
	// correlation/causation ids of the current obsctx context.
	StartDomainSpan(ctx context.Context, name string, meta DomainMeta, opts ...trace.SpanStartOption) (context.Context, trace.Span)

	// EndSpan ends the span, recording err. Cancellation errors close the
	// span with error status and cancelled=true.
	EndSpan(span trace.Span, err error)

	// StartActiveSpan runs fn with a new span active in its ctx and ends
	// the span when fn returns or panics. A panic is recorded and re-raised.
	StartActiveSpan(ctx context.Context, name string, fn func(context.Context) error, opts ...trace.SpanStartOption) error

	// Inject writes the trace and correlation state of ctx into carrier.
	Inject(ctx context.Context, carrier propagation.TextMapCarrier)

	// Extract continues the trace and correlation state found in carrier.
	Extract(ctx context.Context, carrier propagation.TextMapCarrier) context.Context
}

// NewPropagator returns the composite propagator used across process
// boundaries: W3C trace context, W3C baggage and correlation headers.
func NewPropagator() propagation.TextMapPropagator {
	return propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
		obsctx.Propagator{},
	)
}

// tracerImpl is the concrete implementation of Tracer.
type tracerImpl struct {
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
}

// NewTracer creates a Tracer wrapping the given OpenTelemetry tracer.
func NewTracer(t trace.Tracer) Tracer {
	return newTracer(t)
}

func newTracer(t trace.Tracer) *tracerImpl {
	return &tracerImpl{tracer: t, propagator: NewPropagator()}
}

func (t *tracerImpl) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}

	oc, hasOC := obsctx.FromContext(ctx)
	if hasOC && oc.CorrelationID != "" {
		opts = append(slices.Clip(opts), trace.WithAttributes(attribute.String(AttrCorrelationID, oc.CorrelationID)))
	}

	ctx, span := t.tracer.Start(ctx, name, opts...)

	if sc := span.SpanContext(); sc.IsValid() {
		ctx = obsctx.WithContext(ctx, oc.With(obsctx.Context{
			TraceID: sc.TraceID().String(),
			SpanID:  sc.SpanID().String(),
		}))
	}
	return ctx, span
}

func (t *tracerImpl) StartDomainSpan(ctx context.Context, name string, meta DomainMeta, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if name == "" {
		name = meta.SpanName()
	}
	attrs := meta.Attributes()
	if oc, ok := obsctx.FromContext(ctx); ok && oc.CausationID != "" {
		attrs = append(attrs, attribute.String(AttrCausationID, oc.CausationID))
	}
	opts = append(slices.Clip(opts), trace.WithAttributes(attrs...))
	return t.StartSpan(ctx, name, opts...)
}

func (t *tracerImpl) EndSpan(span trace.Span, err error) {
	if span == nil {
		return
	}
	switch {
	case err == nil:
		span.SetStatus(codes.Ok, "")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		span.SetAttributes(attribute.Bool(AttrCancelled, true))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (t *tracerImpl) StartActiveSpan(ctx context.Context, name string, fn func(context.Context) error, opts ...trace.SpanStartOption) (err error) {
	ctx, span := t.StartSpan(ctx, name, opts...)
	defer func() {
		if r := recover(); r != nil {
			t.EndSpan(span, fmt.Errorf("%w: %v", ErrPanicked, r))
			panic(r)
		}
		t.EndSpan(span, settleErr(ctx, err))
	}()
	return fn(ctx)
}

func (t *tracerImpl) Inject(ctx context.Context, carrier propagation.TextMapCarrier) {
	if ctx == nil || carrier == nil {
		return
	}
	t.propagator.Inject(ctx, carrier)
}

func (t *tracerImpl) Extract(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if carrier == nil {
		return ctx
	}
	ctx = t.propagator.Extract(ctx, carrier)

	// A remote parent without an X-Trace-ID header still names the trace.
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		if oc, _ := obsctx.FromContext(ctx); oc.TraceID == "" {
			ctx = obsctx.Amend(ctx, obsctx.Context{TraceID: sc.TraceID().String()})
		}
	}
	return ctx
}

// settleErr returns err, or the ctx error when fn succeeded after its unit of
// work was cancelled.
func settleErr(ctx context.Context, err error) error {
	if err != nil {
		return err
	}
	return ctx.Err()
}

// Ensure tracerImpl implements Tracer
var _ Tracer = (*tracerImpl)(nil)

// newNoopTracer creates a tracer whose spans are never recorded.
func newNoopTracer() Tracer {
	return newTracer(tracenoop.NewTracerProvider().Tracer("noop"))
}
