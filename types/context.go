package types

import "context"

// contextKey is used for storing values in context.Context.
type contextKey string

const (
	keyWorkerID contextKey = "worker_id"
	keyJobID    contextKey = "job_id"
)

// WithWorkerID adds worker ID to context.
func WithWorkerID(ctx context.Context, workerID string) context.Context {
	return context.WithValue(ctx, keyWorkerID, workerID)
}

// WorkerID extracts worker ID from context.
func WorkerID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyWorkerID).(string)
	return v, ok && v != ""
}

// WithJobID adds job (question) ID to context.
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, keyJobID, jobID)
}

// JobID extracts job ID from context.
func JobID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyJobID).(string)
	return v, ok && v != ""
}
