package observe

import (
	"context"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/jonwraymond/obskit/resilience"
)

// DefaultExportErrorWindow is how often export failures may be logged.
const DefaultExportErrorWindow = time.Minute

// exportErrorHandler logs OpenTelemetry export failures through the process
// logger, at most one entry per window. Suppressed failures are counted and
// reported with the next entry.
type exportErrorHandler struct {
	logger     Logger
	limiter    *resilience.RateLimiter
	suppressed atomic.Int64
}

var _ otel.ErrorHandler = (*exportErrorHandler)(nil)

func newExportErrorHandler(logger Logger, window time.Duration) *exportErrorHandler {
	if window <= 0 {
		window = DefaultExportErrorWindow
	}
	return &exportErrorHandler{
		logger: logger,
		limiter: resilience.NewRateLimiter(resilience.RateLimiterConfig{
			Rate:  1 / window.Seconds(),
			Burst: 1,
		}),
	}
}

// Handle implements otel.ErrorHandler. It never fails the caller.
func (h *exportErrorHandler) Handle(err error) {
	if err == nil {
		return
	}
	if !h.limiter.Allow() {
		h.suppressed.Add(1)
		return
	}
	h.logger.ErrorWithCause(context.Background(), "telemetry export failed", err,
		F("suppressed", h.suppressed.Swap(0)),
	)
}
