package notify

import (
	"context"
	"errors"
	"maps"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jonwraymond/obskit/obsctx"
	"github.com/jonwraymond/obskit/observe"
	"github.com/jonwraymond/obskit/resilience"
)

// Outcome label values of the business.notifications counter.
const (
	OutcomeSent        = "sent"
	OutcomeFailed      = "failed"
	OutcomeRejected    = "rejected"
	OutcomeCircuitOpen = "circuit_open"
)

// Attribute and label keys.
const (
	LabelChannel = "channel"
	LabelOutcome = "outcome"

	AttrMessagingSystem    = "messaging.system"
	AttrMessagingOperation = "messaging.operation"
	AttrMessageID          = "messaging.message.id"
	AttrMessageType        = "messaging.message.type"
)

// Dispatcher sends envelopes through a Channel with tracing, retries, a
// circuit breaker, logging and a delivery counter.
type Dispatcher struct {
	channel Channel
	tracer  observe.Tracer
	logger  observe.Logger
	metrics *observe.Registry
	retry   *resilience.Retry
	breaker *resilience.CircuitBreaker
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithTracer sets the tracer. Default: observe.T() at dispatch time.
func WithTracer(tr observe.Tracer) Option {
	return func(d *Dispatcher) { d.tracer = tr }
}

// WithLogger sets the logger. Default: observe.L() at dispatch time.
func WithLogger(l observe.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithMetrics sets the registry. Default: observe.M() at dispatch time.
func WithMetrics(m *observe.Registry) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithRetry sets the retry policy. RetryIf is always narrowed so rejected
// messages and an open circuit are not retried.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(d *Dispatcher) { d.retry = newRetry(cfg) }
}

// WithCircuitBreaker sets the breaker guarding the channel.
func WithCircuitBreaker(cfg resilience.CircuitBreakerConfig) Option {
	return func(d *Dispatcher) { d.breaker = newBreaker(cfg) }
}

func newRetry(cfg resilience.RetryConfig) *resilience.Retry {
	retryIf := cfg.RetryIf
	cfg.RetryIf = func(err error) bool {
		if errors.Is(err, ErrRejected) || errors.Is(err, resilience.ErrCircuitOpen) ||
			errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return false
		}
		return retryIf == nil || retryIf(err)
	}
	return resilience.NewRetry(cfg)
}

func newBreaker(cfg resilience.CircuitBreakerConfig) *resilience.CircuitBreaker {
	isFailure := cfg.IsFailure
	cfg.IsFailure = func(err error) bool {
		if err == nil || errors.Is(err, ErrRejected) {
			return false
		}
		return isFailure == nil || isFailure(err)
	}
	return resilience.NewCircuitBreaker(cfg)
}

// NewDispatcher creates a dispatcher for ch.
func NewDispatcher(ch Channel, opts ...Option) (*Dispatcher, error) {
	if ch == nil {
		return nil, ErrNilChannel
	}
	d := &Dispatcher{channel: ch}
	for _, opt := range opts {
		opt(d)
	}
	if d.retry == nil {
		d.retry = newRetry(resilience.RetryConfig{})
	}
	if d.breaker == nil {
		d.breaker = newBreaker(resilience.CircuitBreakerConfig{})
	}
	return d, nil
}

// Channel returns the wrapped channel.
func (d *Dispatcher) Channel() Channel {
	return d.channel
}

// Breaker returns the circuit breaker guarding the channel.
func (d *Dispatcher) Breaker() *resilience.CircuitBreaker {
	return d.breaker
}

// Dispatch sends env. The envelope handed to the channel is a copy whose
// metadata carries the current correlation identifiers and the producer
// span's trace context; env itself is not modified. A missing envelope id
// is generated, and a missing correlation id starts a new chain.
func (d *Dispatcher) Dispatch(ctx context.Context, env obsctx.Envelope) error {
	tr, logger := d.tracer, d.logger
	if tr == nil {
		tr = observe.T()
	}
	if logger == nil {
		logger = observe.L()
	}
	m := d.metrics
	if m == nil {
		m = observe.M()
	}

	if env.ID == "" {
		env.ID = obsctx.NewID()
	}
	name := d.channel.Name()

	ctx, _ = obsctx.Ensure(ctx)
	ctx, span := tr.StartSpan(ctx, "notify "+name,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String(AttrMessagingSystem, name),
			attribute.String(AttrMessagingOperation, "publish"),
			attribute.String(AttrMessageID, env.ID),
			attribute.String(AttrMessageType, env.Type),
		),
	)

	out := env
	out.Metadata = make(map[string]string, len(env.Metadata)+8)
	maps.Copy(out.Metadata, env.Metadata)
	tr.Inject(ctx, obsctx.EnvelopeCarrier(out.Metadata))

	err := d.retry.Execute(ctx, func(ctx context.Context) error {
		return d.breaker.Execute(ctx, func(ctx context.Context) error {
			return d.channel.Send(ctx, out)
		})
	})

	fields := []observe.Field{
		observe.F(LabelChannel, name),
		observe.F("message_id", env.ID),
		observe.F("message_type", env.Type),
	}
	outcome := OutcomeSent
	switch {
	case err == nil:
		logger.Debug(ctx, "notification sent", fields...)
	case errors.Is(err, ErrRejected):
		outcome = OutcomeRejected
		logger.ErrorWithCause(ctx, "notification rejected", err, fields...)
	case errors.Is(err, resilience.ErrCircuitOpen):
		outcome = OutcomeCircuitOpen
		logger.Warn(ctx, "notification skipped, channel circuit open", fields...)
	default:
		outcome = OutcomeFailed
		logger.ErrorWithCause(ctx, "notification failed", err, fields...)
	}
	m.RecordBusinessEvent(ctx, observe.BusinessNotification,
		attribute.String(LabelChannel, name),
		attribute.String(LabelOutcome, outcome),
	)

	tr.EndSpan(span, err)
	return err
}
