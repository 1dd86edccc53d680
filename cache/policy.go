package cache

import "time"

// Policy bounds how long entries live.
type Policy struct {
	// DefaultTTL applies when Set is called without a TTL. Zero disables
	// caching for such calls.
	DefaultTTL time.Duration

	// MaxTTL caps every TTL. Zero means no cap.
	MaxTTL time.Duration
}

// DefaultPolicy returns a 5 minute default TTL capped at 1 hour.
func DefaultPolicy() Policy {
	return Policy{
		DefaultTTL: 5 * time.Minute,
		MaxTTL:     time.Hour,
	}
}

// NoCachePolicy returns a policy that stores nothing unless a TTL is given.
func NoCachePolicy() Policy {
	return Policy{}
}

// ShouldCache reports whether calls without an explicit TTL are cached.
func (p Policy) ShouldCache() bool {
	return p.DefaultTTL > 0
}

// EffectiveTTL returns the TTL to use for override, applying the default
// and the cap. A result of zero means "do not store".
func (p Policy) EffectiveTTL(override time.Duration) time.Duration {
	ttl := override
	if ttl <= 0 {
		ttl = p.DefaultTTL
	}
	if p.MaxTTL > 0 && ttl > p.MaxTTL {
		ttl = p.MaxTTL
	}
	return ttl
}
