package instrument

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/trace"

	"github.com/jonwraymond/obskit/observe"
)

// AggregateIDer is implemented by command and event inputs that know the
// aggregate they address. CommandHandler and EventHandler stamp the id on
// their span.
type AggregateIDer interface {
	AggregateID() string
}

func tracer(tr observe.Tracer) observe.Tracer {
	if tr != nil {
		return tr
	}
	return observe.T()
}

// Trace runs the call inside a span called name. The call's error, a
// cancellation or a panic is recorded on the span before it ends.
func Trace[In, Out any](tr observe.Tracer, name string, opts ...trace.SpanStartOption) Wrapper[In, Out] {
	return func(next Func[In, Out]) Func[In, Out] {
		return func(ctx context.Context, in In) (Out, error) {
			return observe.WithSpan(ctx, tracer(tr), name, func(ctx context.Context) (Out, error) {
				return next(ctx, in)
			}, opts...)
		}
	}
}

// CommandHandler traces a command handler. The span is named
// command.<aggregate>.<command> and carries the DDD attributes.
func CommandHandler[In, Out any](tr observe.Tracer, aggregate, command string) Wrapper[In, Out] {
	return domain[In, Out](tr, observe.DomainMeta{AggregateName: aggregate, CommandName: command})
}

// EventHandler traces an event handler. The span is named
// event.<aggregate>.<event> and carries the DDD attributes, including the
// event version when positive.
func EventHandler[In, Out any](tr observe.Tracer, aggregate, event string, version int) Wrapper[In, Out] {
	return domain[In, Out](tr, observe.DomainMeta{AggregateName: aggregate, EventName: event, EventVersion: version})
}

func domain[In, Out any](tr observe.Tracer, meta observe.DomainMeta) Wrapper[In, Out] {
	return func(next Func[In, Out]) Func[In, Out] {
		return func(ctx context.Context, in In) (out Out, err error) {
			m := meta
			if ider, ok := any(in).(AggregateIDer); ok {
				m.AggregateID = ider.AggregateID()
			}
			t := tracer(tr)
			ctx, span := t.StartDomainSpan(ctx, "", m)
			defer func() {
				if r := recover(); r != nil {
					t.EndSpan(span, fmt.Errorf("%w: %v", observe.ErrPanicked, r))
					panic(r)
				}
				if err == nil {
					t.EndSpan(span, ctx.Err())
					return
				}
				t.EndSpan(span, err)
			}()
			return next(ctx, in)
		}
	}
}
