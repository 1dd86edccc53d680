// Package obsctx models the correlation context of a unit of work and moves
// it across process boundaries.
//
// A Context carries trace, span, correlation and causation identifiers plus
// tenant/user metadata. It is registered as the "current" context on a
// context.Context, so it follows the logical unit of work (request, message,
// scheduled task) rather than the goroutine or OS thread that happens to run
// it. Contexts are values: Merge and With derive new ones, nothing mutates a
// registered Context in place.
//
// Propagation helpers extract a Context from inbound HTTP headers or message
// envelopes and inject it into outbound ones. Missing or malformed carriers
// never fail; they yield an absent or partial Context.
package obsctx
