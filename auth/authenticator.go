package auth

import (
	"context"
	"net/http"
)

// Authenticator resolves the identity behind a request.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: methods should honor cancellation/deadlines.
// - Errors: ErrMissingCredentials when the request carries none; other
//   sentinel errors from this package for rejected credentials.
type Authenticator interface {
	// Name identifies the authenticator in logs.
	Name() string

	// Authenticate validates the credentials in headers.
	Authenticate(ctx context.Context, headers http.Header) (*Identity, error)
}

// AuthenticatorFunc adapts a function to Authenticator.
type AuthenticatorFunc struct {
	name string
	fn   func(ctx context.Context, headers http.Header) (*Identity, error)
}

// NewAuthenticatorFunc creates an AuthenticatorFunc.
func NewAuthenticatorFunc(name string, fn func(ctx context.Context, headers http.Header) (*Identity, error)) *AuthenticatorFunc {
	return &AuthenticatorFunc{name: name, fn: fn}
}

// Name returns the authenticator name.
func (f *AuthenticatorFunc) Name() string {
	return f.name
}

// Authenticate calls the wrapped function.
func (f *AuthenticatorFunc) Authenticate(ctx context.Context, headers http.Header) (*Identity, error) {
	return f.fn(ctx, headers)
}

var _ Authenticator = (*AuthenticatorFunc)(nil)
