package iv

// Logger provides structured logging for the engine.
// The args follow slog conventions: alternating key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// NopLogger is a Logger that discards all output. Use in tests.
type NopLogger struct{}

func NewNopLogger() *NopLogger { return &NopLogger{} }

func (*NopLogger) Debug(string, ...any) {}
func (*NopLogger) Info(string, ...any)  {}
func (*NopLogger) Warn(string, ...any)  {}
func (*NopLogger) Error(string, ...any) {}

// boundLogger prepends fixed key/value pairs to every call.
type boundLogger struct {
	l    Logger
	args []any
}

// WithArgs returns a Logger that adds args to every record, so a run's
// log lines all carry its job and run IDs.
func WithArgs(l Logger, args ...any) Logger {
	if b, ok := l.(*boundLogger); ok {
		return &boundLogger{l: b.l, args: append(append([]any{}, b.args...), args...)}
	}
	return &boundLogger{l: l, args: args}
}

func (b *boundLogger) merge(args []any) []any {
	return append(append([]any{}, b.args...), args...)
}

func (b *boundLogger) Debug(msg string, args ...any) { b.l.Debug(msg, b.merge(args)...) }
func (b *boundLogger) Info(msg string, args ...any)  { b.l.Info(msg, b.merge(args)...) }
func (b *boundLogger) Warn(msg string, args ...any)  { b.l.Warn(msg, b.merge(args)...) }
func (b *boundLogger) Error(msg string, args ...any) { b.l.Error(msg, b.merge(args)...) }
