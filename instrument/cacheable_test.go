package instrument

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonwraymond/obskit/cache"
)

type quote struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
}

// TestCacheable_HitSkipsCall verifies the second identical call is served from cache and marked as a hit.
func TestCacheable_HitSkipsCall(t *testing.T) {
	tr, rec := newTestTracer(t)
	c := cache.NewMemoryCache(cache.DefaultPolicy())
	var calls atomic.Int32

	fn := Wrap(func(_ context.Context, sym string) (quote, error) {
		calls.Add(1)
		return quote{Symbol: sym, Price: 12.5}, nil
	},
		Trace[string, quote](tr, "quotes.get"),
		Cacheable[string, quote](c, nil, "quotes.get", time.Minute),
		Trace[string, quote](tr, "quotes.fetch"),
	)

	ctx := context.Background()
	first, err := fn(ctx, "ACME")
	if err != nil {
		t.Fatalf("first call error = %v", err)
	}
	second, err := fn(ctx, "ACME")
	if err != nil {
		t.Fatalf("second call error = %v", err)
	}
	if first != second || second.Price != 12.5 {
		t.Errorf("results differ: %+v vs %+v", first, second)
	}
	if calls.Load() != 1 {
		t.Errorf("underlying calls = %d, want 1", calls.Load())
	}

	outer := rec.Ended()
	var marks []string
	for _, s := range outer {
		if s.Name() != "quotes.get" {
			continue
		}
		v, _ := spanAttr(s, AttrCache)
		marks = append(marks, v.AsString())
		if !hasEvent(s, "cache."+v.AsString()) {
			t.Errorf("span lacks cache.%s event", v.AsString())
		}
	}
	if len(marks) != 2 || marks[0] != CacheMiss || marks[1] != CacheHit {
		t.Errorf("cache marks = %v, want [miss hit]", marks)
	}
	if n := spansNamed(rec, "quotes.fetch"); n != 1 {
		t.Errorf("inner spans = %d, want 1 (miss only)", n)
	}
}

// TestCacheable_DistinctArgs verifies different arguments are cached separately.
func TestCacheable_DistinctArgs(t *testing.T) {
	c := cache.NewMemoryCache(cache.DefaultPolicy())
	var calls atomic.Int32
	fn := Wrap(func(_ context.Context, n int) (int, error) {
		calls.Add(1)
		return n * n, nil
	}, Cacheable[int, int](c, cache.NewDefaultKeyer(), "square", time.Minute))

	ctx := context.Background()
	for _, n := range []int{2, 3, 2, 3} {
		out, _ := fn(ctx, n)
		if out != n*n {
			t.Errorf("square(%d) = %d", n, out)
		}
	}
	if calls.Load() != 2 {
		t.Errorf("underlying calls = %d, want 2", calls.Load())
	}
}

// TestCacheable_ErrorsNotCached verifies a failed call is retried on the next invocation.
func TestCacheable_ErrorsNotCached(t *testing.T) {
	c := cache.NewMemoryCache(cache.DefaultPolicy())
	var calls atomic.Int32
	fn := Wrap(func(context.Context, int) (int, error) {
		if calls.Add(1) == 1 {
			return 0, errors.New("transient")
		}
		return 9, nil
	}, Cacheable[int, int](c, nil, "flaky", time.Minute))

	ctx := context.Background()
	if _, err := fn(ctx, 1); err == nil {
		t.Fatal("first call should fail")
	}
	if out, err := fn(ctx, 1); err != nil || out != 9 {
		t.Errorf("second call = %d, %v", out, err)
	}
	if out, _ := fn(ctx, 1); out != 9 || calls.Load() != 2 {
		t.Errorf("third call = %d after %d calls, want cached 9 after 2", out, calls.Load())
	}
}

// TestCacheable_CorruptEntryRecomputed verifies an undecodable entry is dropped and recomputed.
func TestCacheable_CorruptEntryRecomputed(t *testing.T) {
	c := cache.NewMemoryCache(cache.DefaultPolicy())
	key, _ := cache.NewDefaultKeyer().Key("q", "ACME")
	_ = c.Set(context.Background(), key, []byte("not json"), time.Minute)

	fn := Wrap(func(_ context.Context, sym string) (quote, error) {
		return quote{Symbol: sym}, nil
	}, Cacheable[string, quote](c, nil, "q", time.Minute))

	out, err := fn(context.Background(), "ACME")
	if err != nil || out.Symbol != "ACME" {
		t.Fatalf("fn() = %+v, %v", out, err)
	}
	raw, ok := c.Get(context.Background(), key)
	if !ok || string(raw) == "not json" {
		t.Errorf("entry not replaced: %q", raw)
	}
}

// countingCache signals every Get.
type countingCache struct {
	cache.Cache
	gets *sync.WaitGroup
}

func (c countingCache) Get(ctx context.Context, key string) ([]byte, bool) {
	defer c.gets.Done()
	return c.Cache.Get(ctx, key)
}

// TestCacheable_CoalescesConcurrentMisses verifies concurrent misses on one key run the function once.
func TestCacheable_CoalescesConcurrentMisses(t *testing.T) {
	const callers = 8
	var gets sync.WaitGroup
	gets.Add(callers)
	c := countingCache{Cache: cache.NewMemoryCache(cache.DefaultPolicy()), gets: &gets}

	release := make(chan struct{})
	var calls atomic.Int32
	fn := Wrap(func(context.Context, int) (int, error) {
		calls.Add(1)
		<-release
		return 5, nil
	}, Cacheable[int, int](c, nil, "slow", time.Minute))

	results := make(chan int, callers)
	var wg sync.WaitGroup
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, _ := fn(context.Background(), 1)
			results <- out
		}()
	}

	gets.Wait()
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	close(results)

	for out := range results {
		if out != 5 {
			t.Errorf("result = %d, want 5", out)
		}
	}
	if calls.Load() != 1 {
		t.Errorf("underlying calls = %d, want 1", calls.Load())
	}
}

// TestCacheable_CancelledCallerDoesNotFailOthers verifies cancelling the caller that started a shared miss leaves the other callers' result intact.
func TestCacheable_CancelledCallerDoesNotFailOthers(t *testing.T) {
	var gets sync.WaitGroup
	gets.Add(2)
	c := countingCache{Cache: cache.NewMemoryCache(cache.DefaultPolicy()), gets: &gets}

	started := make(chan struct{})
	release := make(chan struct{})
	var innerErr atomic.Value
	fn := Wrap(func(ctx context.Context, _ int) (int, error) {
		close(started)
		<-release
		innerErr.Store(fmt.Sprint(ctx.Err()))
		return 9, nil
	}, Cacheable[int, int](c, nil, "slow", time.Minute))

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := fn(ctxA, 1)
		errA <- err
	}()
	<-started

	type result struct {
		out int
		err error
	}
	resB := make(chan result, 1)
	go func() {
		out, err := fn(context.Background(), 1)
		resB <- result{out, err}
	}()
	gets.Wait()
	time.Sleep(50 * time.Millisecond)

	cancelA()
	if err := <-errA; !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled caller err = %v, want context.Canceled", err)
	}

	close(release)
	b := <-resB
	if b.err != nil || b.out != 9 {
		t.Errorf("live caller = (%d, %v), want (9, nil)", b.out, b.err)
	}
	if got := innerErr.Load(); got != "<nil>" {
		t.Errorf("shared call saw ctx.Err() = %v, want <nil>", got)
	}
	if _, ok := c.Cache.Get(context.Background(), mustKey(t, "slow", 1)); !ok {
		t.Error("expected the shared result to be cached")
	}
}

func mustKey(t *testing.T, name string, args any) string {
	t.Helper()
	key, err := cache.NewDefaultKeyer().Key(name, args)
	if err != nil {
		t.Fatalf("Key() error = %v", err)
	}
	return key
}

// TestCacheable_NilCache verifies the wrapper is transparent without a cache.
func TestCacheable_NilCache(t *testing.T) {
	var calls int
	fn := Wrap(func(context.Context, int) (int, error) {
		calls++
		return 1, nil
	}, Cacheable[int, int](nil, nil, "x", time.Minute))

	_, _ = fn(context.Background(), 1)
	_, _ = fn(context.Background(), 1)
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}
