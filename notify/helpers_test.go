package notify

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/jonwraymond/obskit/obsctx"
	"github.com/jonwraymond/obskit/observe"
	"github.com/jonwraymond/obskit/resilience"
)

type harness struct {
	tracer  observe.Tracer
	spans   *tracetest.SpanRecorder
	metrics *observe.Registry
	reader  *sdkmetric.ManualReader
	logs    *bytes.Buffer
	logger  observe.Logger
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		_ = mp.Shutdown(context.Background())
	})
	reg, err := observe.NewRegistry(mp.Meter("test"))
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	tr := observe.NewTracer(tp.Tracer("test"))
	var buf bytes.Buffer
	return &harness{
		tracer:  tr,
		spans:   rec,
		metrics: reg,
		reader:  reader,
		logs:    &buf,
		logger:  observe.NewLogger("debug", observe.WithWriter(&buf), observe.WithSpanTracer(tr)),
	}
}

func (h *harness) dispatcher(t *testing.T, ch Channel, opts ...Option) *Dispatcher {
	t.Helper()
	base := []Option{
		WithTracer(h.tracer),
		WithLogger(h.logger),
		WithMetrics(h.metrics),
		WithRetry(resilience.RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}),
	}
	d, err := NewDispatcher(ch, append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}
	return d
}

func (h *harness) notifications(t *testing.T, channel, outcome string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := h.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != string(observe.BusinessNotification) {
				continue
			}
			for _, dp := range m.Data.(metricdata.Sum[int64]).DataPoints {
				c, _ := dp.Attributes.Value(attribute.Key(LabelChannel))
				o, _ := dp.Attributes.Value(attribute.Key(LabelOutcome))
				if c.AsString() == channel && o.AsString() == outcome {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func (h *harness) span(t *testing.T, name string) sdktrace.ReadOnlySpan {
	t.Helper()
	for _, s := range h.spans.Ended() {
		if s.Name() == name {
			return s
		}
	}
	t.Fatalf("span %q not found", name)
	return nil
}

// recordingChannel captures sent envelopes and fails according to script.
type recordingChannel struct {
	name   string
	mu     sync.Mutex
	sent   []obsctx.Envelope
	script []error
}

func (c *recordingChannel) Name() string { return c.name }

func (c *recordingChannel) Send(_ context.Context, env obsctx.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, env)
	if len(c.script) == 0 {
		return nil
	}
	err := c.script[0]
	c.script = c.script[1:]
	return err
}

func (c *recordingChannel) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func (c *recordingChannel) last() obsctx.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sent[len(c.sent)-1]
}
