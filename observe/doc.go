// Package observe is the observability substrate of a service: a
// context-aware structured logger, a tracer with span lifecycle helpers, a
// metrics registry with the standard request, database, business and
// process instruments, and HTTP middleware tying them together.
//
// All three share the current obsctx.Context carried by context.Context, so
// every log entry, span and outbound call made during one unit of work
// carries the same correlation id.
//
// Process-wide use goes through Init/Shutdown and the L, T and M accessors.
// L and T initialize with DefaultConfig (and a warning) when used before
// Init; M never does, and recording on it before Init is a no-op.
package observe
