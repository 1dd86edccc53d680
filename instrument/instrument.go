package instrument

import "context"

// Func is the shape of an instrumentable operation.
type Func[In, Out any] func(ctx context.Context, in In) (Out, error)

// Wrapper decorates a Func.
type Wrapper[In, Out any] func(Func[In, Out]) Func[In, Out]

// Wrap applies wrappers to fn. The first wrapper is the outermost. Nil
// wrappers are skipped.
func Wrap[In, Out any](fn Func[In, Out], wrappers ...Wrapper[In, Out]) Func[In, Out] {
	for i := len(wrappers) - 1; i >= 0; i-- {
		if wrappers[i] != nil {
			fn = wrappers[i](fn)
		}
	}
	return fn
}

// Outcome label values recorded by Metered.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

func outcome(err error) string {
	if err != nil {
		return OutcomeError
	}
	return OutcomeSuccess
}
