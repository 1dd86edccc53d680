package observe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/felixge/httpsnoop"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/jonwraymond/obskit/obsctx"
)

// StatusClientClosedRequest is recorded for requests whose client went away
// before a response was written.
const StatusClientClosedRequest = 499

// responseCapture records the status and size of a response. Fields are
// atomic because a client disconnect is observed off the handler goroutine.
type responseCapture struct {
	status atomic.Int64
	bytes  atomic.Int64
}

func captureResponse(w http.ResponseWriter) (http.ResponseWriter, *responseCapture) {
	rc := &responseCapture{}
	wrapped := httpsnoop.Wrap(w, httpsnoop.Hooks{
		WriteHeader: func(next httpsnoop.WriteHeaderFunc) httpsnoop.WriteHeaderFunc {
			return func(code int) {
				if code >= 200 {
					rc.status.CompareAndSwap(0, int64(code))
				}
				next(code)
			}
		},
		Write: func(next httpsnoop.WriteFunc) httpsnoop.WriteFunc {
			return func(b []byte) (int, error) {
				rc.status.CompareAndSwap(0, http.StatusOK)
				n, err := next(b)
				rc.bytes.Add(int64(n))
				return n, err
			}
		},
		ReadFrom: func(next httpsnoop.ReadFromFunc) httpsnoop.ReadFromFunc {
			return func(src io.Reader) (int64, error) {
				rc.status.CompareAndSwap(0, http.StatusOK)
				n, err := next(src)
				rc.bytes.Add(n)
				return n, err
			}
		},
	})
	return wrapped, rc
}

// Status returns the written status, or 200 when nothing was written.
func (rc *responseCapture) Status() int {
	if s := rc.status.Load(); s != 0 {
		return int(s)
	}
	return http.StatusOK
}

type routeKey struct{}

// routeSlot carries the matched route out of the mux. The mux records the
// pattern on the request it is handed, which outer middleware never see once
// any layer has derived a new request.
type routeSlot struct {
	pattern atomic.Pointer[string]
}

// withRouteSlot returns a copy of r whose context carries a route slot,
// reusing one installed further out.
func withRouteSlot(r *http.Request) *http.Request {
	ctx := r.Context()
	if _, ok := ctx.Value(routeKey{}).(*routeSlot); !ok {
		ctx = context.WithValue(ctx, routeKey{}, &routeSlot{})
	}
	return r.WithContext(ctx)
}

// publishRoute stores the pattern the mux matched for r in its route slot.
func publishRoute(r *http.Request) {
	if r.Pattern == "" {
		return
	}
	if slot, ok := r.Context().Value(routeKey{}).(*routeSlot); ok {
		p := trimPattern(r.Pattern)
		slot.pattern.Store(&p)
	}
}

func trimPattern(p string) string {
	if i := strings.IndexByte(p, ' '); i >= 0 {
		p = p[i+1:]
	}
	// Host-qualified patterns keep only the path.
	if i := strings.IndexByte(p, '/'); i > 0 {
		p = p[i:]
	}
	return p
}

// RoutePattern returns the ServeMux pattern that matched r without its
// method prefix, falling back to the URL path when no pattern matched.
// Patterns matched by a mux nested inside this package's middleware are
// visible to the middleware once the handler has returned.
func RoutePattern(r *http.Request) string {
	if r.Pattern != "" {
		return trimPattern(r.Pattern)
	}
	if slot, ok := r.Context().Value(routeKey{}).(*routeSlot); ok {
		if p := slot.pattern.Load(); p != nil {
			return *p
		}
	}
	return r.URL.Path
}

// MetricsMiddleware records request count, duration and in-flight requests.
//
// The in-flight gauge is incremented when the request starts and decremented
// exactly once when the handler returns, panics (recorded as 500) or the
// client disconnects first (recorded as 499). route labels the request; nil
// uses RoutePattern.
func MetricsMiddleware(m Metrics, route func(*http.Request) string) func(http.Handler) http.Handler {
	if m == nil {
		m = noopMetrics{}
	}
	if route == nil {
		route = RoutePattern
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			m.AddInFlight(r.Context(), 1)

			// r is only read here, possibly from the disconnect goroutine;
			// inner is the copy handed on and mutated by the mux.
			r = withRouteSlot(r)
			inner := r.WithContext(r.Context())

			var once sync.Once
			finish := func(status int) {
				once.Do(func() {
					ctx := context.WithoutCancel(r.Context())
					m.RecordHTTPRequest(ctx, r.Method, route(r), status, time.Since(start).Seconds())
					m.AddInFlight(ctx, -1)
				})
			}

			stop := context.AfterFunc(r.Context(), func() {
				finish(StatusClientClosedRequest)
			})

			ww, rc := captureResponse(w)
			defer func() {
				stop()
				publishRoute(inner)
				if p := recover(); p != nil {
					finish(http.StatusInternalServerError)
					panic(p)
				}
				finish(rc.Status())
			}()

			next.ServeHTTP(ww, inner)
		})
	}
}

// RequestLogging correlates and logs every request.
//
// It reads the request, trace and correlation ids from the inbound headers,
// synthesizing the request id (and from it the correlation id) when absent,
// and registers them as the current obsctx.Context of the request. Placed
// inside Tracing, the server span's trace id is bound too and the span is
// tagged with the correlation id. A child logger bound to those ids is
// stored in the request context for LoggerFromContext. The ids are echoed on
// the response. Only the URL path is logged; query strings may carry
// credentials.
func RequestLogging(logger Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = NewNopLogger()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := obsctx.RequestID(r.Header)
			inbound := obsctx.FromHeaders(r.Header)
			if inbound.CorrelationID == "" {
				inbound.CorrelationID = requestID
			}
			inbound = inbound.With(obsctx.Context{Metadata: map[string]any{obsctx.MetaRequestID: requestID}})
			if trace.SpanContextFromContext(r.Context()).IsValid() {
				// The server span's ids win over trace headers.
				inbound.TraceID, inbound.SpanID = "", ""
			}

			ctx := obsctx.Amend(r.Context(), inbound)
			oc, _ := obsctx.FromContext(ctx)

			trace.SpanFromContext(ctx).SetAttributes(attribute.String(AttrCorrelationID, oc.CorrelationID))

			reqLogger := logger.With(oc).WithFields(
				F("http.method", r.Method),
				F("url.path", r.URL.Path),
			)
			ctx = ContextWithLogger(ctx, reqLogger)
			r = r.WithContext(ctx)

			w.Header().Set(obsctx.HeaderRequestID, requestID)
			w.Header().Set(obsctx.HeaderCorrelationID, oc.CorrelationID)

			reqLogger.Info(ctx, "request received",
				F("http.user_agent", r.UserAgent()),
				F("http.remote_addr", r.RemoteAddr),
			)

			ww, rc := captureResponse(w)
			defer func() {
				publishRoute(r)
				if p := recover(); p != nil {
					reqLogger.Error(ctx, "request completed",
						F("http.status_code", http.StatusInternalServerError),
						F("duration_ms", time.Since(start).Milliseconds()),
						F("panic", fmt.Sprint(p)),
					)
					panic(p)
				}

				status := rc.Status()
				fields := []Field{
					F("http.status_code", status),
					F("duration_ms", time.Since(start).Milliseconds()),
					F("http.response_bytes", rc.bytes.Load()),
				}
				if status >= http.StatusBadRequest {
					reqLogger.Error(ctx, "request completed", fields...)
				} else {
					reqLogger.Info(ctx, "request completed", fields...)
				}
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// Tracing continues the inbound trace and runs the handler inside a server
// span. Responses with status >= 500, panics and cancelled requests end the
// span with error status.
func Tracing(tr Tracer) func(http.Handler) http.Handler {
	if tr == nil {
		tr = newNoopTracer()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := tr.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := tr.StartSpan(ctx, "HTTP "+r.Method,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLPath(r.URL.Path),
				),
			)
			r = withRouteSlot(r.WithContext(ctx))

			ww, rc := captureResponse(w)
			defer func() {
				publishRoute(r)
				route := RoutePattern(r)
				span.SetName("HTTP " + r.Method + " " + route)
				span.SetAttributes(semconv.HTTPRoute(route))

				if p := recover(); p != nil {
					span.SetAttributes(semconv.HTTPResponseStatusCode(http.StatusInternalServerError))
					tr.EndSpan(span, fmt.Errorf("%w: %v", ErrPanicked, p))
					panic(p)
				}

				status := rc.Status()
				span.SetAttributes(semconv.HTTPResponseStatusCode(status))

				var err error
				if status >= http.StatusInternalServerError {
					err = fmt.Errorf("http status %d", status)
				}
				tr.EndSpan(span, settleErr(ctx, err))
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// Handler wraps h with the full request pipeline of obs: metrics outermost,
// then tracing, then request logging, so request entries carry the server
// span's trace id.
func Handler(obs Observer, h http.Handler) http.Handler {
	if obs == nil {
		return h
	}
	h = RequestLogging(obs.Logger())(h)
	h = Tracing(obs.Tracer())(h)
	h = MetricsMiddleware(obs.Metrics(), nil)(h)
	return h
}

// NewHTTPClient returns a client whose requests carry the trace context and
// the correlation headers of the request ctx. base may be nil.
func NewHTTPClient(base http.RoundTripper) *http.Client {
	if base == nil {
		base = http.DefaultTransport
	}
	return &http.Client{
		Transport: otelhttp.NewTransport(base,
			otelhttp.WithPropagators(NewPropagator()),
			otelhttp.WithTracerProvider(otel.GetTracerProvider()),
		),
	}
}
