package instrument_test

import (
	"context"
	"fmt"
	"time"

	"github.com/jonwraymond/obskit/cache"
	"github.com/jonwraymond/obskit/instrument"
	"github.com/jonwraymond/obskit/observe"
)

type PlaceOrder struct {
	OrderID string
	Items   int
}

func (c PlaceOrder) AggregateID() string { return c.OrderID }

func ExampleWrap() {
	ctx := context.Background()
	obs, _ := observe.NewObserver(ctx, observe.DefaultConfig())
	defer func() { _ = obs.Shutdown(ctx) }()

	place := instrument.Wrap(
		func(_ context.Context, cmd PlaceOrder) (string, error) {
			return "accepted " + cmd.OrderID, nil
		},
		instrument.CommandHandler[PlaceOrder, string](obs.Tracer(), "Order", "PlaceOrder"),
		instrument.Metered[PlaceOrder, string](obs.Metrics(), "orders.place"),
	)

	out, err := place(ctx, PlaceOrder{OrderID: "ord-1", Items: 2})
	fmt.Println(out, err)
	// Output:
	// accepted ord-1 <nil>
}

func ExampleCacheable() {
	calls := 0
	lookup := instrument.Wrap(
		func(_ context.Context, id int) (string, error) {
			calls++
			return fmt.Sprintf("customer-%d", id), nil
		},
		instrument.Cacheable[int, string](cache.NewMemoryCache(cache.DefaultPolicy()), nil, "customers.lookup", time.Minute),
	)

	ctx := context.Background()
	a, _ := lookup(ctx, 7)
	b, _ := lookup(ctx, 7)
	fmt.Println(a, b, calls)
	// Output:
	// customer-7 customer-7 1
}
