package instrument

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jonwraymond/obskit/observe"
)

// Instrument names recorded by Metered.
const (
	MetricCalls    = "instrument.calls"
	MetricDuration = "instrument.duration"
)

// Metric label keys recorded by Metered.
const (
	LabelName    = "name"
	LabelOutcome = "outcome"
)

// Metered counts each call and observes its duration in seconds, labeled
// with name and outcome. A panic is recorded as an error outcome and
// propagated. Instrument registration failures drop the measurement and
// never fail the call.
func Metered[In, Out any](m *observe.Registry, name string) Wrapper[In, Out] {
	return func(next Func[In, Out]) Func[In, Out] {
		return func(ctx context.Context, in In) (out Out, err error) {
			start := time.Now()
			defer func() {
				if r := recover(); r != nil {
					record(ctx, m, name, time.Since(start), fmt.Errorf("%w: %v", observe.ErrPanicked, r))
					panic(r)
				}
				record(ctx, m, name, time.Since(start), err)
			}()
			return next(ctx, in)
		}
	}
}

func record(ctx context.Context, m *observe.Registry, name string, d time.Duration, err error) {
	if m == nil {
		m = observe.M()
	}
	attrs := metric.WithAttributes(
		attribute.String(LabelName, name),
		attribute.String(LabelOutcome, outcome(err)),
	)
	if c, cerr := m.Counter(MetricCalls, "Instrumented calls", "1"); cerr == nil {
		c.Add(ctx, 1, attrs)
	}
	if h, herr := m.Histogram(MetricDuration, "Instrumented call duration", "s"); herr == nil {
		h.Record(ctx, d.Seconds(), attrs)
	}
}
