package auth

import (
	"slices"
	"time"

	"github.com/jonwraymond/obskit/obsctx"
)

// AuthMethod indicates how authentication was performed.
type AuthMethod string

const (
	AuthMethodJWT       AuthMethod = "jwt"
	AuthMethodAnonymous AuthMethod = "anonymous"
)

// Identity represents an authenticated principal.
type Identity struct {
	// Principal is the unique identifier, e.g. a user id.
	Principal string

	// TenantID is the tenant this identity belongs to.
	TenantID string

	Roles  []string
	Method AuthMethod

	// Claims holds the raw token claims.
	Claims map[string]any

	ExpiresAt time.Time
	IssuedAt  time.Time
}

// HasRole checks if the identity has a specific role.
func (id *Identity) HasRole(role string) bool {
	return slices.Contains(id.Roles, role)
}

// IsExpired reports whether the identity expired before now.
func (id *Identity) IsExpired(now time.Time) bool {
	return !id.ExpiresAt.IsZero() && now.After(id.ExpiresAt)
}

// IsAnonymous reports whether the identity names nobody.
func (id *Identity) IsAnonymous() bool {
	return id == nil || id.Method == AuthMethodAnonymous || id.Principal == ""
}

// Context returns the partial obsctx context contributed by this identity.
// Anonymous identities contribute nothing.
func (id *Identity) Context() obsctx.Context {
	if id.IsAnonymous() {
		return obsctx.Context{}
	}
	return obsctx.Context{UserID: id.Principal, TenantID: id.TenantID}
}

// AnonymousIdentity creates an identity for unauthenticated callers.
func AnonymousIdentity() *Identity {
	return &Identity{Principal: "anonymous", Method: AuthMethodAnonymous}
}
