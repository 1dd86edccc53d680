// Package resilience provides the failure-handling primitives used around
// telemetry and notification delivery.
//
//   - Retry re-runs an operation with backoff and records each retry as an
//     event on the span active in the operation's context.
//   - CircuitBreaker stops calling a failing dependency until it recovers.
//   - RateLimiter is a token bucket; observe uses it to log exporter
//     failures once per window instead of once per span.
//
// A notification dispatcher composes them like this:
//
//	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
//	    MaxFailures:  5,
//	    ResetTimeout: time.Minute,
//	})
//	retry := resilience.NewRetry(resilience.RetryConfig{
//	    MaxAttempts: 3,
//	    RetryIf:     func(err error) bool { return !errors.Is(err, resilience.ErrCircuitOpen) },
//	})
//	err := retry.Execute(ctx, func(ctx context.Context) error {
//	    return cb.Execute(ctx, send)
//	})
package resilience
