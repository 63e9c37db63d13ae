package logging

import (
	"context"

	"go.uber.org/zap"
)

type runCtxKey struct{}

// Run identifies the pipeline run a context belongs to.
type Run struct {
	ID       string
	Workflow string
	Domain   string
}

// WithRun binds run identity to the context so every log line and child
// call can carry it.
func WithRun(ctx context.Context, run Run) context.Context {
	return context.WithValue(ctx, runCtxKey{}, run)
}

// RunFromContext returns the bound run identity, zero if none.
func RunFromContext(ctx context.Context) Run {
	if run, ok := ctx.Value(runCtxKey{}).(Run); ok {
		return run
	}
	return Run{}
}

// ContextFields extracts the run identity as zap fields.
func ContextFields(ctx context.Context) []zap.Field {
	run := RunFromContext(ctx)
	if run.ID == "" && run.Workflow == "" && run.Domain == "" {
		return nil
	}
	fields := make([]zap.Field, 0, 3)
	if run.ID != "" {
		fields = append(fields, zap.String("run_id", run.ID))
	}
	if run.Workflow != "" {
		fields = append(fields, zap.String("workflow", run.Workflow))
	}
	if run.Domain != "" {
		fields = append(fields, zap.String("domain", run.Domain))
	}
	return fields
}

type loggerCtxKey struct{}

// WithLogger stores a logger in the context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext returns the context's logger, or a no-op logger.
func FromContext(ctx context.Context) *Logger {
	if logger, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok && logger != nil {
		return logger
	}
	return NewNop()
}
