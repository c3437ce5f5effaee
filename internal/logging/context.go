package logging

import (
	"context"
	"log/slog"
)

// ContextKey is the type of the context keys this package sets.
type ContextKey string

const (
	JobIDKey  ContextKey = "log_job_id"
	UserIDKey ContextKey = "log_user_id"
)

// WithJobID returns a context carrying a job id for log correlation.
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, JobIDKey, jobID)
}

// WithUserID returns a context carrying a user id for log correlation.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// GetJobID returns the job id stored in ctx, or "".
func GetJobID(ctx context.Context) string {
	v, _ := ctx.Value(JobIDKey).(string)
	return v
}

// GetUserID returns the user id stored in ctx, or "".
func GetUserID(ctx context.Context) string {
	v, _ := ctx.Value(UserIDKey).(string)
	return v
}

// FromContext returns logger with the context's correlation ids attached.
// It returns logger unchanged when there is nothing to add.
func FromContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if ctx == nil {
		return logger
	}
	attrs := contextAttrs(ctx)
	if len(attrs) == 0 {
		return logger
	}
	args := make([]any, len(attrs))
	for i, a := range attrs {
		args[i] = a
	}
	return logger.With(args...)
}

func contextAttrs(ctx context.Context) []slog.Attr {
	var attrs []slog.Attr
	if id := GetJobID(ctx); id != "" {
		attrs = append(attrs, slog.String("job_id", id))
	}
	if id := GetUserID(ctx); id != "" {
		attrs = append(attrs, slog.String("user_id", id))
	}
	return attrs
}

// ContextHandler adds correlation ids from the record's context.
type ContextHandler struct {
	slog.Handler
}

// NewContextHandler wraps h.
func NewContextHandler(h slog.Handler) *ContextHandler {
	return &ContextHandler{Handler: h}
}

func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if ctx != nil {
		r.AddAttrs(contextAttrs(ctx)...)
	}
	return h.Handler.Handle(ctx, r)
}

func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *ContextHandler) WithGroup(name string) slog.Handler {
	return &ContextHandler{Handler: h.Handler.WithGroup(name)}
}
