// Package notify delivers asynchronous messages through external channels
// while keeping them inside the sender's trace and correlation chain.
//
// A Dispatcher stamps the current obsctx context and W3C trace context into
// the envelope metadata, sends inside a producer span, retries transient
// failures and stops calling a channel that keeps failing. Handle is the
// receiving half: it continues the chain recorded in an envelope.
package notify
