package instrument

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jonwraymond/obskit/observe"
)

// Log field keys written by the Log wrapper.
const (
	FieldOperation = "operation"
	FieldArgs      = "args"
	FieldResult    = "result"
	FieldDuration  = "duration_ms"
)

// Log writes an entry when the call starts (with its arguments) and one when
// it returns (with its result) at level. A failed call is logged at error
// level with the cause. Arguments and results pass through the logger's
// redaction, so struct fields named like secrets are masked too. A panic is
// logged as a failure and propagated.
func Log[In, Out any](logger observe.Logger, name string, level observe.LogLevel) Wrapper[In, Out] {
	return func(next Func[In, Out]) Func[In, Out] {
		return func(ctx context.Context, in In) (out Out, err error) {
			l := logger
			if l == nil {
				l = observe.L()
			}
			op := observe.F(FieldOperation, name)

			logAt(ctx, l, level, name+" started", op, observe.F(FieldArgs, loggable(in)))
			start := time.Now()
			defer func() {
				elapsed := observe.F(FieldDuration, float64(time.Since(start).Microseconds())/1000)
				if r := recover(); r != nil {
					l.ErrorWithCause(ctx, name+" failed", fmt.Errorf("%w: %v", observe.ErrPanicked, r), op, elapsed)
					panic(r)
				}
				if err != nil {
					l.ErrorWithCause(ctx, name+" failed", err, op, elapsed)
					return
				}
				logAt(ctx, l, level, name+" completed", op, elapsed, observe.F(FieldResult, loggable(out)))
			}()
			return next(ctx, in)
		}
	}
}

func logAt(ctx context.Context, l observe.Logger, level observe.LogLevel, msg string, fields ...observe.Field) {
	switch level {
	case observe.LevelDebug:
		l.Debug(ctx, msg, fields...)
	case observe.LevelWarn:
		l.Warn(ctx, msg, fields...)
	case observe.LevelError, observe.LevelFatal:
		l.Error(ctx, msg, fields...)
	default:
		l.Info(ctx, msg, fields...)
	}
}

// loggable converts v to its generic JSON form so the logger's redaction
// sees struct fields as map keys. Values that do not encode are logged as is.
func loggable(v any) any {
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}
