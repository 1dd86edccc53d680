package notify

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jonwraymond/obskit/obsctx"
	"github.com/jonwraymond/obskit/observe"
)

// Handle runs fn for a received envelope inside a consumer span that
// continues the trace recorded in its metadata. The sender's correlation
// identifiers become current, and the envelope id becomes the causation id,
// so work done by fn points back at the message that caused it.
func Handle(ctx context.Context, tr observe.Tracer, env obsctx.Envelope, fn func(context.Context) error) error {
	if tr == nil {
		tr = observe.T()
	}
	if len(env.Metadata) > 0 {
		ctx = tr.Extract(ctx, obsctx.EnvelopeCarrier(env.Metadata))
	}
	if env.ID != "" {
		ctx = obsctx.Amend(ctx, obsctx.Context{CausationID: env.ID})
	}
	ctx, _ = obsctx.Ensure(ctx)

	name := "process"
	if env.Type != "" {
		name += " " + env.Type
	}
	return tr.StartActiveSpan(ctx, name, fn,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String(AttrMessagingOperation, "process"),
			attribute.String(AttrMessageID, env.ID),
			attribute.String(AttrMessageType, env.Type),
		),
	)
}
