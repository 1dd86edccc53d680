// Package instrument attaches tracing, logging, metrics and memoization to a
// business function without editing its body.
//
// A Wrapper turns a Func into an instrumented Func of the same shape.
// Wrappers compose with Wrap; the first wrapper listed is the outermost, so
// a span started by an outer Trace is the parent of anything an inner
// wrapper records:
//
//	place := instrument.Wrap(placeOrder,
//		instrument.CommandHandler[PlaceOrder, OrderID](tr, "Order", "PlaceOrder"),
//		instrument.Metered[PlaceOrder, OrderID](reg, "orders.place"),
//		instrument.Log[PlaceOrder, OrderID](logger, "orders.place", observe.LevelDebug),
//	)
//
// Wrappers built with a nil Tracer, Logger or Registry use the process-wide
// ones from observe at call time.
package instrument
