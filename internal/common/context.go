package common

import (
	"context"
	"log/slog"
)

// Context keys for storing values in context
type contextKey string

const (
	ContextKeyRequestID contextKey = "request_id"
	ContextKeyJobID     contextKey = "job_id"
	ContextKeyWorkerID  contextKey = "worker_id"
)

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// RequestIDFromContext extracts the request ID from context
func RequestIDFromContext(ctx context.Context) string {
	if requestID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return requestID
	}
	return ""
}

// WithJobID tags ctx with the job a worker is executing.
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, ContextKeyJobID, jobID)
}

// JobIDFromContext extracts the job ID from context
func JobIDFromContext(ctx context.Context) string {
	if jobID, ok := ctx.Value(ContextKeyJobID).(string); ok {
		return jobID
	}
	return ""
}

// WithWorkerID tags ctx with the queue worker running it.
func WithWorkerID(ctx context.Context, workerID int) context.Context {
	return context.WithValue(ctx, ContextKeyWorkerID, workerID)
}

// WorkerIDFromContext returns 0 outside a queue worker.
func WorkerIDFromContext(ctx context.Context) int {
	if id, ok := ctx.Value(ContextKeyWorkerID).(int); ok {
		return id
	}
	return 0
}

// LoggerFrom decorates logger with whatever ids ctx carries.
func LoggerFrom(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	if id := RequestIDFromContext(ctx); id != "" {
		logger = logger.With("request_id", id)
	}
	if id := JobIDFromContext(ctx); id != "" {
		logger = logger.With("job_id", id)
	}
	if id := WorkerIDFromContext(ctx); id != 0 {
		logger = logger.With("worker_id", id)
	}
	return logger
}
