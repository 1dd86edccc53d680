package observe

import (
	"context"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/jonwraymond/obskit/obsctx"
)

// Logger is a context-aware structured logging interface.
//
// Every entry carries, in increasing precedence: the ambient obsctx context
// of ctx, the context bound with With, the active span's trace_id/span_id,
// fields bound with WithFields/WithDomain, and the call's fields.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Ownership: With/WithFields/WithDomain return new loggers; the receiver is never modified.
// - Errors: logging must be best-effort and must not panic.
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...Field)
	Info(ctx context.Context, msg string, fields ...Field)
	Warn(ctx context.Context, msg string, fields ...Field)
	Error(ctx context.Context, msg string, fields ...Field)

	// ErrorWithCause logs at error level with err captured under the
	// "error" field (message and type). fields are kept as given.
	ErrorWithCause(ctx context.Context, msg string, err error, fields ...Field)

	// Fatal logs at fatal level and then runs the exit hook (os.Exit(1)
	// unless overridden with WithExitFunc).
	Fatal(ctx context.Context, msg string, fields ...Field)

	// With returns a child logger bound to partial merged over the
	// context this logger already carries.
	With(partial obsctx.Context) Logger

	// WithFields returns a child logger that adds fields to every entry.
	WithFields(fields ...Field) Logger

	// WithDomain returns a child logger stamped with domain attributes.
	WithDomain(meta DomainMeta) Logger

	// StartSpan starts a span as a child of the span active in ctx and logs
	// a "span started" entry at debug level.
	StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span)

	// Sync flushes buffered entries.
	Sync() error
}

// Field represents a structured log field.
type Field struct {
	Key   string
	Value any
}

// F is shorthand for Field{Key: key, Value: value}.
func F(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// LogLevel represents a logging level.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

// ParseLogLevel parses a string log level. Unknown values yield LevelInfo;
// Config.Validate rejects them before they get here.
func ParseLogLevel(s string) LogLevel {
	switch s {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn":
		return LevelWarn
	case "error":
		return LevelError
	case "fatal":
		return LevelFatal
	default:
		return LevelInfo
	}
}

func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	case LevelFatal:
		return "fatal"
	default:
		return "info"
	}
}

// LoggerOption configures NewLogger.
type LoggerOption func(*loggerOptions)

type loggerOptions struct {
	writer  io.Writer
	console bool
	redact  []string
	exit    func(int)
	tracer  Tracer
	fields  []Field
}

// WithWriter sets the log sink. Default: os.Stderr.
func WithWriter(w io.Writer) LoggerOption {
	return func(o *loggerOptions) { o.writer = w }
}

// WithConsoleFormat selects the human-readable encoder. The entry shape
// (keys and values) is the same as the JSON encoder's.
func WithConsoleFormat(console bool) LoggerOption {
	return func(o *loggerOptions) { o.console = console }
}

// WithRedactKeys replaces the redaction deny-list.
func WithRedactKeys(keys ...string) LoggerOption {
	return func(o *loggerOptions) { o.redact = keys }
}

// WithExitFunc replaces the exit hook run after a fatal entry.
func WithExitFunc(exit func(code int)) LoggerOption {
	return func(o *loggerOptions) { o.exit = exit }
}

// WithSpanTracer sets the tracer used by Logger.StartSpan.
func WithSpanTracer(t Tracer) LoggerOption {
	return func(o *loggerOptions) { o.tracer = t }
}

// WithBaseFields adds fields to every entry of the logger.
func WithBaseFields(fields ...Field) LoggerOption {
	return func(o *loggerOptions) { o.fields = append(o.fields, fields...) }
}

// structuredLogger is a zap-backed Logger.
type structuredLogger struct {
	zl     *zap.Logger
	level  LogLevel
	redact redactor
	tracer Tracer
	bound  obsctx.Context
	fields []Field
}

// NewLogger creates a structured logger with the given level.
func NewLogger(level string, opts ...LoggerOption) Logger {
	o := loggerOptions{writer: os.Stderr, exit: os.Exit}
	for _, opt := range opts {
		opt(&o)
	}
	if o.tracer == nil {
		o.tracer = newTracer(otel.Tracer(instrumentationName))
	}

	encCfg := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		MessageKey:     "msg",
		NameKey:        zapcore.OmitKey,
		CallerKey:      zapcore.OmitKey,
		StacktraceKey:  zapcore.OmitKey,
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.RFC3339NanoTimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
	}
	var enc zapcore.Encoder
	if o.console {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	} else {
		enc = zapcore.NewJSONEncoder(encCfg)
	}

	core := zapcore.NewCore(enc, zapcore.Lock(zapcore.AddSync(o.writer)), zapcore.DebugLevel)

	return &structuredLogger{
		zl:     zap.New(core, zap.WithFatalHook(&exitHook{exit: o.exit})),
		level:  ParseLogLevel(level),
		redact: newRedactor(o.redact),
		tracer: o.tracer,
		fields: o.fields,
	}
}

// NewLoggerWithWriter creates a JSON structured logger with a custom writer.
func NewLoggerWithWriter(level string, w io.Writer) Logger {
	return NewLogger(level, WithWriter(w))
}

type exitHook struct {
	exit func(int)
}

func (h *exitHook) OnWrite(*zapcore.CheckedEntry, []zapcore.Field) {
	h.exit(1)
}

func (l *structuredLogger) clone() *structuredLogger {
	c := *l
	c.fields = slices.Clone(l.fields)
	return &c
}

func (l *structuredLogger) With(partial obsctx.Context) Logger {
	c := l.clone()
	c.bound = obsctx.Merge(l.bound, partial)
	return c
}

func (l *structuredLogger) WithFields(fields ...Field) Logger {
	c := l.clone()
	c.fields = append(c.fields, fields...)
	return c
}

func (l *structuredLogger) WithDomain(meta DomainMeta) Logger {
	return l.WithFields(meta.Fields()...)
}

func (l *structuredLogger) Debug(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, LevelDebug, msg, fields)
}

func (l *structuredLogger) Info(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, LevelInfo, msg, fields)
}

func (l *structuredLogger) Warn(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, LevelWarn, msg, fields)
}

func (l *structuredLogger) Error(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, LevelError, msg, fields)
}

func (l *structuredLogger) Fatal(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, LevelFatal, msg, fields)
}

func (l *structuredLogger) ErrorWithCause(ctx context.Context, msg string, err error, fields ...Field) {
	if err != nil {
		fields = append(slices.Clone(fields), Field{Key: "error", Value: errorObject(err)})
	}
	l.log(ctx, LevelError, msg, fields)
}

func (l *structuredLogger) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := l.tracer.StartSpan(ctx, name, trace.WithAttributes(attrs...))
	l.log(ctx, LevelDebug, "span started", []Field{{Key: "span.name", Value: name}})
	return ctx, span
}

func (l *structuredLogger) Sync() error {
	return l.zl.Sync()
}

func (l *structuredLogger) log(ctx context.Context, level LogLevel, msg string, fields []Field) {
	if level < l.level {
		return
	}

	entry := make(map[string]any, len(l.fields)+len(fields)+8)

	if oc, ok := obsctx.FromContext(ctx); ok {
		maps.Copy(entry, oc.Fields())
	}
	maps.Copy(entry, l.bound.Fields())

	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		entry[obsctx.FieldTraceID] = sc.TraceID().String()
		entry[obsctx.FieldSpanID] = sc.SpanID().String()
	}

	for _, f := range l.fields {
		entry[f.Key] = f.Value
	}
	for _, f := range fields {
		entry[f.Key] = f.Value
	}

	l.redact.apply(entry)

	keys := slices.Sorted(maps.Keys(entry))
	zf := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		zf = append(zf, zap.Any(k, entry[k]))
	}

	switch level {
	case LevelDebug:
		l.zl.Debug(msg, zf...)
	case LevelInfo:
		l.zl.Info(msg, zf...)
	case LevelWarn:
		l.zl.Warn(msg, zf...)
	case LevelError:
		l.zl.Error(msg, zf...)
	case LevelFatal:
		l.zl.Fatal(msg, zf...)
	}
}

// errorObject renders err as a nested log object.
func errorObject(err error) map[string]any {
	return map[string]any{
		"message": err.Error(),
		"type":    fmt.Sprintf("%T", err),
	}
}

// Ensure structuredLogger implements Logger
var _ Logger = (*structuredLogger)(nil)

// noopLogger is a logger that does nothing.
type noopLogger struct {
	tracer Tracer
}

func (l *noopLogger) Debug(context.Context, string, ...Field)                 {}
func (l *noopLogger) Info(context.Context, string, ...Field)                  {}
func (l *noopLogger) Warn(context.Context, string, ...Field)                  {}
func (l *noopLogger) Error(context.Context, string, ...Field)                 {}
func (l *noopLogger) Fatal(context.Context, string, ...Field)                 {}
func (l *noopLogger) ErrorWithCause(context.Context, string, error, ...Field) {}
func (l *noopLogger) With(obsctx.Context) Logger                              { return l }
func (l *noopLogger) WithFields(...Field) Logger                              { return l }
func (l *noopLogger) WithDomain(DomainMeta) Logger                            { return l }
func (l *noopLogger) Sync() error                                             { return nil }

func (l *noopLogger) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if l.tracer == nil {
		return newNoopTracer().StartSpan(ctx, name, trace.WithAttributes(attrs...))
	}
	return l.tracer.StartSpan(ctx, name, trace.WithAttributes(attrs...))
}

// NewNopLogger returns a Logger that discards everything.
func NewNopLogger() Logger {
	return &noopLogger{}
}

type loggerKey struct{}

// ContextWithLogger attaches a request-scoped logger to ctx.
func ContextWithLogger(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

// LoggerFromContext returns the logger attached by ContextWithLogger or,
// failing that, the process logger.
func LoggerFromContext(ctx context.Context) Logger {
	if ctx != nil {
		if l, ok := ctx.Value(loggerKey{}).(Logger); ok {
			return l
		}
	}
	return L()
}
