package observe

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/jonwraymond/obskit/obsctx"
)

// TestTracer_StartSpanRegistersContext verifies the returned ctx carries the span ids as the current context.
func TestTracer_StartSpanRegistersContext(t *testing.T) {
	tr, _ := newTestTracer(t)

	ctx := obsctx.WithContext(context.Background(), obsctx.Context{CorrelationID: "c-1"})
	ctx, span := tr.StartSpan(ctx, "op")
	defer span.End()

	oc, ok := obsctx.FromContext(ctx)
	if !ok {
		t.Fatal("expected a current context")
	}
	sc := span.SpanContext()
	if oc.TraceID != sc.TraceID().String() || oc.SpanID != sc.SpanID().String() {
		t.Errorf("expected ids %s/%s, got %s/%s", sc.TraceID(), sc.SpanID(), oc.TraceID, oc.SpanID)
	}
	if oc.CorrelationID != "c-1" {
		t.Errorf("expected correlation id inherited, got %q", oc.CorrelationID)
	}
}

// TestTracer_CorrelationAttribute verifies spans carry the current correlation id.
func TestTracer_CorrelationAttribute(t *testing.T) {
	tr, rec := newTestTracer(t)

	ctx := obsctx.WithContext(context.Background(), obsctx.Context{CorrelationID: "c-1"})
	_, span := tr.StartSpan(ctx, "op")
	span.End()

	v, ok := spanAttr(endedSpan(t, rec, "op"), AttrCorrelationID)
	if !ok || v.AsString() != "c-1" {
		t.Errorf("expected %s='c-1', got %v", AttrCorrelationID, v.Emit())
	}
}

// TestTracer_DoesNotWriteCallerOptions verifies span options added by the tracer never land in the caller's slice.
func TestTracer_DoesNotWriteCallerOptions(t *testing.T) {
	tr, _ := newTestTracer(t)
	ctx := obsctx.WithContext(context.Background(), obsctx.Context{CorrelationID: "c-1", CausationID: "m-0"})

	opts := make([]trace.SpanStartOption, 1, 4)
	opts[0] = trace.WithSpanKind(trace.SpanKindInternal)

	_, span := tr.StartSpan(ctx, "plain", opts...)
	span.End()
	_, span = tr.StartDomainSpan(ctx, "", DomainMeta{AggregateName: "Order", CommandName: "Ship"}, opts...)
	span.End()

	for i, o := range opts[1:cap(opts)] {
		if o != nil {
			t.Errorf("spare slot %d overwritten with %T", i+1, o)
		}
	}
}

// TestTracer_ParentChild verifies nesting and that the child ends inside its parent.
func TestTracer_ParentChild(t *testing.T) {
	tr, rec := newTestTracer(t)

	ctx, parent := tr.StartSpan(context.Background(), "parent")
	_, child := tr.StartSpan(ctx, "child")
	time.Sleep(time.Millisecond)
	tr.EndSpan(child, nil)
	tr.EndSpan(parent, nil)

	p := endedSpan(t, rec, "parent")
	c := endedSpan(t, rec, "child")
	if c.Parent().SpanID() != p.SpanContext().SpanID() {
		t.Error("expected child to be parented to parent")
	}
	if c.SpanContext().TraceID() != p.SpanContext().TraceID() {
		t.Error("expected child to share the parent's trace")
	}
	if c.StartTime().Before(p.StartTime()) || c.EndTime().After(p.EndTime()) {
		t.Error("expected child interval to lie within the parent's")
	}
}

// TestTracer_EndSpan verifies the status recorded for each outcome.
func TestTracer_EndSpan(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		code      codes.Code
		cancelled bool
	}{
		{"success", nil, codes.Ok, false},
		{"failure", errors.New("boom"), codes.Error, false},
		{"cancelled", context.Canceled, codes.Error, true},
		{"timeout", context.DeadlineExceeded, codes.Error, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, rec := newTestTracer(t)
			_, span := tr.StartSpan(context.Background(), tt.name)
			tr.EndSpan(span, tt.err)

			s := endedSpan(t, rec, tt.name)
			if s.Status().Code != tt.code {
				t.Errorf("expected status %v, got %v", tt.code, s.Status().Code)
			}
			v, ok := spanAttr(s, AttrCancelled)
			if tt.cancelled && (!ok || !v.AsBool()) {
				t.Error("expected cancelled=true")
			}
			if !tt.cancelled && ok {
				t.Error("expected no cancelled attribute")
			}
			if tt.err != nil && len(s.Events()) == 0 {
				t.Error("expected the error to be recorded as an event")
			}
		})
	}
}

// TestTracer_EndSpanNil verifies a nil span is ignored.
func TestTracer_EndSpanNil(t *testing.T) {
	tr, _ := newTestTracer(t)
	tr.EndSpan(nil, errors.New("ignored"))
}

// TestTracer_StartActiveSpan verifies the span wraps fn and records its error.
func TestTracer_StartActiveSpan(t *testing.T) {
	tr, rec := newTestTracer(t)
	want := errors.New("fail")

	var inner trace.SpanContext
	err := tr.StartActiveSpan(context.Background(), "active", func(ctx context.Context) error {
		inner = trace.SpanContextFromContext(ctx)
		return want
	})

	if err != want {
		t.Errorf("expected fn error returned, got %v", err)
	}
	s := endedSpan(t, rec, "active")
	if s.SpanContext().SpanID() != inner.SpanID() {
		t.Error("expected fn to run with the span active")
	}
	if s.Status().Code != codes.Error {
		t.Errorf("expected error status, got %v", s.Status().Code)
	}
}

// TestTracer_StartActiveSpanPanic verifies a panic ends the span and is re-raised.
func TestTracer_StartActiveSpanPanic(t *testing.T) {
	tr, rec := newTestTracer(t)

	func() {
		defer func() {
			if r := recover(); r != "kaboom" {
				t.Errorf("expected panic to propagate, got %v", r)
			}
		}()
		_ = tr.StartActiveSpan(context.Background(), "panics", func(context.Context) error {
			panic("kaboom")
		})
	}()

	s := endedSpan(t, rec, "panics")
	if s.Status().Code != codes.Error {
		t.Errorf("expected error status, got %v", s.Status().Code)
	}
	if !strings.Contains(s.Status().Description, "kaboom") {
		t.Errorf("expected panic value in status, got %q", s.Status().Description)
	}
}

// TestTracer_StartActiveSpanCancelled verifies a cancelled unit of work closes the span as cancelled.
func TestTracer_StartActiveSpanCancelled(t *testing.T) {
	tr, rec := newTestTracer(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := tr.StartActiveSpan(ctx, "cancelled", func(context.Context) error { return nil })
	if err != nil {
		t.Errorf("expected fn result returned unchanged, got %v", err)
	}

	s := endedSpan(t, rec, "cancelled")
	if v, ok := spanAttr(s, AttrCancelled); !ok || !v.AsBool() {
		t.Error("expected cancelled=true")
	}
	if s.Status().Code != codes.Error {
		t.Errorf("expected error status, got %v", s.Status().Code)
	}
}

// TestTracer_StartDomainSpan verifies the derived name and domain attributes.
func TestTracer_StartDomainSpan(t *testing.T) {
	tr, rec := newTestTracer(t)
	ctx := obsctx.WithContext(context.Background(), obsctx.Context{CorrelationID: "c-1", CausationID: "cmd-9"})

	_, span := tr.StartDomainSpan(ctx, "", DomainMeta{
		AggregateName: "Order",
		AggregateID:   "ord-1",
		CommandName:   "PlaceOrder",
	})
	span.End()

	s := endedSpan(t, rec, "command.Order.PlaceOrder")
	for key, want := range map[string]string{
		AttrAggregateName: "Order",
		AttrAggregateID:   "ord-1",
		AttrCommandName:   "PlaceOrder",
		AttrCorrelationID: "c-1",
		AttrCausationID:   "cmd-9",
	} {
		if v, ok := spanAttr(s, key); !ok || v.AsString() != want {
			t.Errorf("expected %s=%q, got %q", key, want, v.Emit())
		}
	}
}

// TestDomainMeta_SpanName verifies name derivation.
func TestDomainMeta_SpanName(t *testing.T) {
	tests := []struct {
		meta DomainMeta
		want string
	}{
		{DomainMeta{AggregateName: "Order", CommandName: "Place"}, "command.Order.Place"},
		{DomainMeta{AggregateName: "Order", EventName: "Placed"}, "event.Order.Placed"},
		{DomainMeta{AggregateName: "Order"}, "aggregate.Order"},
		{DomainMeta{}, "aggregate.unknown"},
	}
	for _, tt := range tests {
		if got := tt.meta.SpanName(); got != tt.want {
			t.Errorf("SpanName() = %q, want %q", got, tt.want)
		}
	}
}

// TestTracer_InjectExtract verifies trace and correlation state survive a round trip.
func TestTracer_InjectExtract(t *testing.T) {
	tr, _ := newTestTracer(t)
	ctx := obsctx.WithContext(context.Background(), obsctx.Context{CorrelationID: "c-1", TenantID: "t-1"})
	ctx, span := tr.StartSpan(ctx, "client")
	defer span.End()

	carrier := propagation.MapCarrier{}
	tr.Inject(ctx, carrier)

	if carrier.Get("traceparent") == "" {
		t.Fatal("expected traceparent header")
	}
	if carrier.Get(obsctx.HeaderCorrelationID) != "c-1" {
		t.Errorf("expected %s='c-1', got %q", obsctx.HeaderCorrelationID, carrier.Get(obsctx.HeaderCorrelationID))
	}

	remote := tr.Extract(context.Background(), carrier)
	sc := trace.SpanContextFromContext(remote)
	if !sc.IsRemote() || sc.TraceID() != span.SpanContext().TraceID() {
		t.Error("expected remote span context with the same trace id")
	}
	oc, _ := obsctx.FromContext(remote)
	if oc.CorrelationID != "c-1" || oc.TenantID != "t-1" {
		t.Errorf("expected correlation state restored, got %+v", oc)
	}
}

// TestTracer_ExtractTraceparentOnly verifies the trace id is taken from traceparent when no trace header is present.
func TestTracer_ExtractTraceparentOnly(t *testing.T) {
	tr, _ := newTestTracer(t)
	carrier := propagation.MapCarrier{
		"traceparent": "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01",
	}

	ctx := tr.Extract(context.Background(), carrier)

	oc, _ := obsctx.FromContext(ctx)
	if oc.TraceID != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Errorf("expected trace id from traceparent, got %q", oc.TraceID)
	}

	_, span := tr.StartSpan(ctx, "server")
	defer span.End()
	if span.SpanContext().TraceID().String() != oc.TraceID {
		t.Error("expected server span to continue the remote trace")
	}
}

// TestTracer_NilCarrier verifies nil inputs are tolerated.
func TestTracer_NilCarrier(t *testing.T) {
	tr, _ := newTestTracer(t)
	tr.Inject(context.Background(), nil)
	if ctx := tr.Extract(context.Background(), nil); ctx == nil {
		t.Error("expected ctx returned")
	}
}
