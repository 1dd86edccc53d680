// Package auth authenticates inbound requests and records who made them.
//
// Middleware resolves an Identity with an Authenticator and merges its user
// and tenant ids into the current obsctx context, so every log entry and span
// emitted after authentication names the caller.
package auth
