package logging

import "context"

type contextKey int

const (
	runIDKey contextKey = iota
	loggerKey
)

// RunIDFromCtx returns the run ID stored by StartRun, or "".
func RunIDFromCtx(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey).(string)
	return id
}

// FromCtx returns the logger attached to ctx. Without one, it returns the
// global logger tagged with the context's run ID.
func FromCtx(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerKey).(*Logger); ok {
		return l
	}
	l := Global()
	if id := RunIDFromCtx(ctx); id != "" {
		l = l.WithRunID(id)
	}
	return l
}

// StartRun attaches id and l, tagged with id, to ctx.
func StartRun(ctx context.Context, l *Logger, id string) context.Context {
	ctx = context.WithValue(ctx, runIDKey, id)
	return context.WithValue(ctx, loggerKey, l.WithRunID(id))
}
