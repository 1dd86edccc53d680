package observe

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/trace"
)

// WithSpan runs fn inside a new active span and returns its result. The span
// ends after fn has settled, so all work fn waits on is accounted for.
func WithSpan[T any](ctx context.Context, tr Tracer, name string, fn func(context.Context) (T, error), opts ...trace.SpanStartOption) (T, error) {
	var out T
	err := tr.StartActiveSpan(ctx, name, func(ctx context.Context) error {
		var err error
		out, err = fn(ctx)
		return err
	}, opts...)
	return out, err
}

// Future is the pending result of an operation started with Go.
type Future[T any] struct {
	done chan struct{}
	val  T
	err  error
}

// Go starts fn on its own goroutine inside a new span. The span is started
// before Go returns, so it nests inside the caller's span, and ends only
// when fn returns. If the unit of work is cancelled while fn runs, the span
// is closed with error status once fn gives up. A panic in fn is recovered
// and reported as ErrPanicked.
func Go[T any](ctx context.Context, tr Tracer, name string, fn func(context.Context) (T, error), opts ...trace.SpanStartOption) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}
	ctx, span := tr.StartSpan(ctx, name, opts...)

	go func() {
		defer close(f.done)
		defer func() {
			if r := recover(); r != nil {
				f.err = fmt.Errorf("%w: %v", ErrPanicked, r)
				tr.EndSpan(span, f.err)
			}
		}()
		f.val, f.err = fn(ctx)
		tr.EndSpan(span, settleErr(ctx, f.err))
	}()

	return f
}

// Done is closed once the operation has settled.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the operation settles or ctx is done. Giving up on the
// wait does not end the operation's span.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
