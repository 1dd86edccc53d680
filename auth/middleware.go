package auth

import (
	"errors"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jonwraymond/obskit/obsctx"
	"github.com/jonwraymond/obskit/observe"
)

// Span attributes set on the request span after authentication.
const (
	AttrUserID   = "enduser.id"
	AttrTenantID = "tenant.id"
)

// MiddlewareOption configures Middleware.
type MiddlewareOption func(*middlewareOptions)

type middlewareOptions struct {
	required bool
}

// Required rejects requests that fail authentication with 401. Without it
// such requests continue as anonymous.
func Required() MiddlewareOption {
	return func(o *middlewareOptions) { o.required = true }
}

// Middleware authenticates each request with authn. On success the identity
// is attached to the request context and its user and tenant ids are merged
// into the current obsctx context. Rejected credentials are logged at warn
// level; missing ones are not.
func Middleware(authn Authenticator, logger observe.Logger, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	var o middlewareOptions
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = observe.NewNopLogger()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			id, err := authn.Authenticate(ctx, r.Header)
			if err != nil {
				if !errors.Is(err, ErrMissingCredentials) {
					logger.Warn(ctx, "authentication failed",
						observe.F("authenticator", authn.Name()),
						observe.F("reason", err.Error()),
					)
				}
				if o.required {
					w.Header().Set("WWW-Authenticate", "Bearer")
					http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
					return
				}
				id = AnonymousIdentity()
			}

			ctx = WithIdentity(ctx, id)
			if partial := id.Context(); !partial.IsZero() {
				ctx = obsctx.Amend(ctx, partial)
				attrs := []attribute.KeyValue{attribute.String(AttrUserID, partial.UserID)}
				if partial.TenantID != "" {
					attrs = append(attrs, attribute.String(AttrTenantID, partial.TenantID))
				}
				trace.SpanFromContext(ctx).SetAttributes(attrs...)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
