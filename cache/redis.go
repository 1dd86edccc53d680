package cache

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
)

// DefaultRedisPrefix namespaces keys written by RedisCache.
const DefaultRedisPrefix = "obskit:"

// RedisCache is a Cache backed by Redis. Entries expire server-side.
type RedisCache struct {
	client  redis.UniversalClient
	prefix  string
	policy  Policy
	onError func(op, key string, err error)
}

// RedisOption configures a RedisCache.
type RedisOption func(*RedisCache)

// WithKeyPrefix sets the namespace prepended to every key.
func WithKeyPrefix(prefix string) RedisOption {
	return func(c *RedisCache) { c.prefix = prefix }
}

// WithRedisPolicy sets the TTL policy. Default: DefaultPolicy().
func WithRedisPolicy(p Policy) RedisOption {
	return func(c *RedisCache) { c.policy = p }
}

// WithErrorHook is called for backend errors that Get reports as misses.
func WithErrorHook(fn func(op, key string, err error)) RedisOption {
	return func(c *RedisCache) { c.onError = fn }
}

// NewRedisCache wraps client. The client is owned by the caller.
func NewRedisCache(client redis.UniversalClient, opts ...RedisOption) (*RedisCache, error) {
	if client == nil {
		return nil, ErrNilCache
	}
	c := &RedisCache{
		client: client,
		prefix: DefaultRedisPrefix,
		policy: DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *RedisCache) key(key string) string {
	return c.prefix + key
}

// Get returns the stored value. Missing keys and backend errors are misses.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	val, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) && c.onError != nil {
			c.onError("get", key, err)
		}
		return nil, false
	}
	return val, true
}

// Set stores value for the policy-adjusted TTL.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	ttl = c.policy.EffectiveTTL(ttl)
	if ttl <= 0 {
		return nil
	}
	return c.client.Set(ctx, c.key(key), value, ttl).Err()
}

// Delete removes a value. Idempotent, no error on miss.
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, c.key(key)).Err()
}

var _ Cache = (*RedisCache)(nil)
