package obsctx

import (
	"context"
	"maps"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/propagation"
)

// Carrier header names. Envelope metadata uses the same names in lower case.
const (
	HeaderRequestID     = "X-Request-ID"
	HeaderTraceID       = "X-Trace-ID"
	HeaderSpanID        = "X-Span-ID"
	HeaderCorrelationID = "X-Correlation-ID"
	HeaderCausationID   = "X-Causation-ID"
	HeaderUserID        = "X-User-ID"
	HeaderTenantID      = "X-Tenant-ID"
)

// MetaRequestID is the Metadata key holding an inbound request id.
const MetaRequestID = "request_id"

var carrierKeys = []string{
	HeaderRequestID,
	HeaderTraceID,
	HeaderSpanID,
	HeaderCorrelationID,
	HeaderCausationID,
	HeaderUserID,
	HeaderTenantID,
}

// Extract reads a Context from any text-map carrier. Unknown or empty values
// are ignored; the result is zero when nothing was recognized.
func Extract(c propagation.TextMapCarrier) Context {
	if c == nil {
		return Context{}
	}
	get := func(k string) string { return strings.TrimSpace(c.Get(k)) }

	oc := Context{
		TraceID:       get(HeaderTraceID),
		SpanID:        get(HeaderSpanID),
		CorrelationID: get(HeaderCorrelationID),
		CausationID:   get(HeaderCausationID),
		UserID:        get(HeaderUserID),
		TenantID:      get(HeaderTenantID),
	}
	if reqID := get(HeaderRequestID); reqID != "" {
		oc.Metadata = map[string]any{MetaRequestID: reqID}
		if oc.CorrelationID == "" {
			oc.CorrelationID = reqID
		}
	}
	return oc
}

// Inject writes the present identifiers of oc into c. Absent fields are not
// written, so an existing carrier value is left alone.
func Inject(oc Context, c propagation.TextMapCarrier) {
	if c == nil {
		return
	}
	set := func(k, v string) {
		if v != "" {
			c.Set(k, v)
		}
	}
	set(HeaderTraceID, oc.TraceID)
	set(HeaderSpanID, oc.SpanID)
	set(HeaderCorrelationID, oc.CorrelationID)
	set(HeaderCausationID, oc.CausationID)
	set(HeaderUserID, oc.UserID)
	set(HeaderTenantID, oc.TenantID)
	if reqID, ok := oc.Metadata[MetaRequestID].(string); ok {
		set(HeaderRequestID, reqID)
	}
}

// FromHeaders extracts a Context from inbound HTTP headers. The correlation
// id falls back to the request id. No recognized header yields a zero
// Context.
func FromHeaders(h http.Header) Context {
	if h == nil {
		return Context{}
	}
	return Extract(propagation.HeaderCarrier(h))
}

// RequestID returns the inbound request id, or a new one when the header is
// missing.
func RequestID(h http.Header) string {
	if h != nil {
		if id := strings.TrimSpace(h.Get(HeaderRequestID)); id != "" {
			return id
		}
	}
	return NewID()
}

// InjectHeaders returns a new header map holding dst's entries plus the
// identifiers of oc. dst is never modified; pass nil for a fresh map.
func InjectHeaders(oc Context, dst http.Header) http.Header {
	out := make(http.Header, len(dst)+len(carrierKeys))
	for k, v := range dst {
		out[k] = append([]string(nil), v...)
	}
	Inject(oc, propagation.HeaderCarrier(out))
	return out
}

// Propagator is an OpenTelemetry TextMapPropagator that moves the current
// Context through carriers. Compose it with the W3C trace context propagator
// so one propagator serves HTTP requests and message envelopes alike.
type Propagator struct{}

var _ propagation.TextMapPropagator = Propagator{}

// Inject writes the current Context of ctx into carrier.
func (Propagator) Inject(ctx context.Context, carrier propagation.TextMapCarrier) {
	if oc, ok := FromContext(ctx); ok {
		Inject(oc, carrier)
	}
}

// Extract merges the carrier's identifiers over the current Context of ctx.
func (Propagator) Extract(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	in := Extract(carrier)
	if in.IsZero() {
		return ctx
	}
	return Amend(ctx, in)
}

// Fields returns the carrier keys this propagator reads and writes.
func (Propagator) Fields() []string {
	return append([]string(nil), carrierKeys...)
}

// Envelope is an asynchronous message. Correlation identifiers travel in
// Metadata, never in Payload.
type Envelope struct {
	ID       string            `json:"id"`
	Type     string            `json:"type"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Payload  []byte            `json:"payload,omitempty"`
}

// EnvelopeCarrier adapts envelope metadata to a TextMapCarrier. Keys are
// stored in lower case.
type EnvelopeCarrier map[string]string

var _ propagation.TextMapCarrier = EnvelopeCarrier(nil)

// Get returns the value for key.
func (c EnvelopeCarrier) Get(key string) string {
	return c[strings.ToLower(key)]
}

// Set stores value under key.
func (c EnvelopeCarrier) Set(key, value string) {
	c[strings.ToLower(key)] = value
}

// Keys lists the stored keys.
func (c EnvelopeCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

// FromEnvelope extracts a Context from envelope metadata.
func FromEnvelope(env Envelope) Context {
	if len(env.Metadata) == 0 {
		return Context{}
	}
	return Extract(EnvelopeCarrier(env.Metadata))
}

// InjectEnvelope returns a copy of env whose metadata carries oc. The
// caller's envelope and its metadata map are not modified.
func InjectEnvelope(oc Context, env Envelope) Envelope {
	out := env
	out.Metadata = make(map[string]string, len(env.Metadata)+len(carrierKeys))
	maps.Copy(out.Metadata, env.Metadata)
	Inject(oc, EnvelopeCarrier(out.Metadata))
	return out
}
