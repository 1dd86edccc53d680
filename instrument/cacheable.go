package instrument

import (
	"context"
	"encoding/json"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/jonwraymond/obskit/cache"
)

// Span attribute and event names written by Cacheable.
const (
	AttrCache       = "cache"
	AttrCacheShared = "cache.shared"
	CacheHit        = "hit"
	CacheMiss       = "miss"
	EventCacheHit   = "cache.hit"
	EventCacheMiss  = "cache.miss"
)

// Cacheable memoizes successful results in c for ttl, keyed by name and the
// call's arguments. The span active at the call is marked cache=hit or
// cache=miss; on a miss the wrapped function runs with all its own
// instrumentation. Errors are never cached. Concurrent misses on the same
// key share one call, and every caller of a shared call is marked
// cache.shared. The shared call runs detached from the cancellation of the
// caller that started it; a cancelled caller returns its own ctx.Err()
// while the others keep waiting.
//
// Results are stored as JSON, so Out must round-trip through encoding/json.
// Arguments that cannot be keyed, and results that cannot be encoded, are
// passed through uncached.
func Cacheable[In, Out any](c cache.Cache, keyer cache.Keyer, name string, ttl time.Duration) Wrapper[In, Out] {
	if keyer == nil {
		keyer = cache.NewDefaultKeyer()
	}
	var group singleflight.Group

	return func(next Func[In, Out]) Func[In, Out] {
		if c == nil {
			return next
		}
		return func(ctx context.Context, in In) (Out, error) {
			key, err := keyer.Key(name, in)
			if err != nil {
				return next(ctx, in)
			}
			span := trace.SpanFromContext(ctx)

			if raw, ok := c.Get(ctx, key); ok {
				var out Out
				if err := json.Unmarshal(raw, &out); err == nil {
					span.SetAttributes(attribute.String(AttrCache, CacheHit))
					span.AddEvent(EventCacheHit, trace.WithAttributes(attribute.String(LabelName, name)))
					return out, nil
				}
				_ = c.Delete(ctx, key)
			}

			span.SetAttributes(attribute.String(AttrCache, CacheMiss))
			span.AddEvent(EventCacheMiss, trace.WithAttributes(attribute.String(LabelName, name)))

			// The shared call outlives any one caller's cancellation; each
			// caller stops waiting on its own ctx.
			detached := context.WithoutCancel(ctx)
			ch := group.DoChan(key, func() (any, error) {
				out, err := next(detached, in)
				if err != nil {
					return out, err
				}
				if raw, merr := json.Marshal(out); merr == nil {
					_ = c.Set(detached, key, raw, ttl)
				}
				return out, nil
			})

			select {
			case <-ctx.Done():
				var zero Out
				return zero, ctx.Err()
			case res := <-ch:
				if res.Shared {
					span.SetAttributes(attribute.Bool(AttrCacheShared, true))
				}
				out, _ := res.Val.(Out)
				return out, res.Err
			}
		}
	}
}
