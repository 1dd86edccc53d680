package obsctx

import (
	"context"
	"maps"

	"github.com/google/uuid"
)

// Context is the identifier and metadata bundle correlating all telemetry
// for one logical unit of work.
//
// An empty string field is absent. Extraction never produces a present but
// empty identifier, so callers can tell "no context" from "some context".
type Context struct {
	TraceID       string
	SpanID        string
	CorrelationID string
	CausationID   string
	UserID        string
	TenantID      string
	Metadata      map[string]any
}

// Log field keys used by Fields.
const (
	FieldTraceID       = "trace_id"
	FieldSpanID        = "span_id"
	FieldCorrelationID = "correlation_id"
	FieldCausationID   = "causation_id"
	FieldUserID        = "user_id"
	FieldTenantID      = "tenant_id"
)

// IsZero reports whether no identifier and no metadata is set.
func (c Context) IsZero() bool {
	return c.TraceID == "" &&
		c.SpanID == "" &&
		c.CorrelationID == "" &&
		c.CausationID == "" &&
		c.UserID == "" &&
		c.TenantID == "" &&
		len(c.Metadata) == 0
}

// With returns a child context: every field is inherited from c unless
// partial sets it.
func (c Context) With(partial Context) Context {
	return Merge(c, partial)
}

// Fields returns the present fields as log attributes. Metadata entries are
// included under their own keys and never shadow identifier fields.
func (c Context) Fields() map[string]any {
	out := make(map[string]any, 6+len(c.Metadata))
	for k, v := range c.Metadata {
		out[k] = v
	}
	put := func(k, v string) {
		if v != "" {
			out[k] = v
		}
	}
	put(FieldTraceID, c.TraceID)
	put(FieldSpanID, c.SpanID)
	put(FieldCorrelationID, c.CorrelationID)
	put(FieldCausationID, c.CausationID)
	put(FieldUserID, c.UserID)
	put(FieldTenantID, c.TenantID)
	return out
}

// Merge combines base with partials. For each identifier the right-most
// non-empty value wins; Metadata maps are shallow-merged in the same order.
// Neither base nor partials are modified.
func Merge(base Context, partials ...Context) Context {
	out := base
	out.Metadata = nil
	if len(base.Metadata) > 0 {
		out.Metadata = maps.Clone(base.Metadata)
	}

	for _, p := range partials {
		pick(&out.TraceID, p.TraceID)
		pick(&out.SpanID, p.SpanID)
		pick(&out.CorrelationID, p.CorrelationID)
		pick(&out.CausationID, p.CausationID)
		pick(&out.UserID, p.UserID)
		pick(&out.TenantID, p.TenantID)
		if len(p.Metadata) > 0 {
			if out.Metadata == nil {
				out.Metadata = make(map[string]any, len(p.Metadata))
			}
			maps.Copy(out.Metadata, p.Metadata)
		}
	}
	return out
}

func pick(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// NewID returns a random identifier suitable for correlation and request ids.
func NewID() string {
	return uuid.NewString()
}

type contextKey struct{}

// WithContext registers oc as the current context on ctx.
func WithContext(ctx context.Context, oc Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, contextKey{}, oc)
}

// FromContext returns the current context. The boolean is false when ctx is
// nil or carries no registered context; this is not an error.
func FromContext(ctx context.Context) (Context, bool) {
	if ctx == nil {
		return Context{}, false
	}
	oc, ok := ctx.Value(contextKey{}).(Context)
	return oc, ok
}

// Run executes fn with oc registered as the current context. Work spawned by
// fn inherits oc through the ctx it is handed. The caller's ctx is never
// modified, so once fn returns (or panics) the caller still observes its own
// current context.
func Run(ctx context.Context, oc Context, fn func(context.Context) error) error {
	return fn(WithContext(ctx, oc))
}

// Ensure returns ctx with a current context that has a correlation id. When
// none exists, a fresh id becomes the root of a new correlation chain.
func Ensure(ctx context.Context) (context.Context, Context) {
	oc, _ := FromContext(ctx)
	if oc.CorrelationID != "" {
		if ctx == nil {
			ctx = context.Background()
		}
		return ctx, oc
	}
	oc = oc.With(Context{CorrelationID: NewID()})
	return WithContext(ctx, oc), oc
}

// Amend merges partial over the current context of ctx and registers the
// result. It is the derivation used once more is known about the unit of
// work, for example the user id after authentication.
func Amend(ctx context.Context, partial Context) context.Context {
	oc, _ := FromContext(ctx)
	return WithContext(ctx, oc.With(partial))
}
