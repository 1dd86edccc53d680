package observe

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/jonwraymond/obskit/obsctx"
)

// BenchmarkLogger_Info measures logging throughput.
func BenchmarkLogger_Info(b *testing.B) {
	logger := NewLoggerWithWriter("info", io.Discard)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		logger.Info(ctx, "benchmark message", Field{Key: "iteration", Value: i})
	}
}

// BenchmarkLogger_Info_WithContext measures logging with an ambient context and redaction.
func BenchmarkLogger_Info_WithContext(b *testing.B) {
	logger := NewLoggerWithWriter("info", io.Discard).WithFields(F("component", "bench"))
	ctx := obsctx.WithContext(context.Background(), obsctx.Context{
		CorrelationID: "corr",
		UserID:        "user",
		Metadata:      map[string]any{"request_id": "req"},
	})
	fields := []Field{
		{Key: "field1", Value: "value1"},
		{Key: "password", Value: "secret"},
		{Key: "headers", Value: map[string]any{"authorization": "Bearer x", "accept": "*/*"}},
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		logger.Info(ctx, "benchmark message", fields...)
	}
}

// BenchmarkLogger_Disabled measures the cost of a filtered entry.
func BenchmarkLogger_Disabled(b *testing.B) {
	logger := NewLoggerWithWriter("error", io.Discard)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		logger.Debug(ctx, "filtered", Field{Key: "iteration", Value: i})
	}
}

// BenchmarkTracer_StartEndSpan measures span lifecycle overhead on a no-op provider.
func BenchmarkTracer_StartEndSpan(b *testing.B) {
	tr := NewTracer(tracenoop.NewTracerProvider().Tracer("bench"))
	ctx := obsctx.WithContext(context.Background(), obsctx.Context{CorrelationID: "corr"})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, span := tr.StartSpan(ctx, "op")
		tr.EndSpan(span, nil)
	}
}

// BenchmarkRegistry_RecordHTTPRequest measures recording a request.
func BenchmarkRegistry_RecordHTTPRequest(b *testing.B) {
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	defer func() { _ = mp.Shutdown(context.Background()) }()
	reg, err := NewRegistry(mp.Meter("bench"))
	if err != nil {
		b.Fatal(err)
	}
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		reg.RecordHTTPRequest(ctx, "GET", "/orders/{id}", 200, 0.01)
	}
}

// BenchmarkRegistry_RecordBusinessEvent measures incrementing a business counter.
func BenchmarkRegistry_RecordBusinessEvent(b *testing.B) {
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	defer func() { _ = mp.Shutdown(context.Background()) }()
	reg, err := NewRegistry(mp.Meter("bench"))
	if err != nil {
		b.Fatal(err)
	}
	ctx := context.Background()
	attr := attribute.String("command", "PlaceOrder")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		reg.RecordBusinessEvent(ctx, BusinessCommand, attr)
	}
}

// BenchmarkHandler measures the full request pipeline.
func BenchmarkHandler(b *testing.B) {
	cfg := DefaultConfig()
	cfg.ServiceName = "bench"
	cfg.Metrics.Exporter = "none"
	cfg.Logging.Format = "json"
	obs, err := NewObserver(context.Background(), cfg, WithLogWriter(io.Discard))
	if err != nil {
		b.Fatal(err)
	}
	defer func() { _ = obs.Shutdown(context.Background()) }()

	h := Handler(obs, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		h.ServeHTTP(httptest.NewRecorder(), req)
	}
}
