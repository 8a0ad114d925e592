package async

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TaskState is the queue-side view of an entry. It is separate from the job
// status kept in the store.
type TaskState string

const (
	StateQueued   TaskState = "queued"
	StateRunning  TaskState = "running"
	StateFinished TaskState = "finished"
	StateFailed   TaskState = "failed"
	StateCanceled TaskState = "canceled"
	StateUnknown  TaskState = "unknown"
)

// Task names a registered handler and the job it works on.
type Task struct {
	Func        string
	JobID       uuid.UUID
	Args        map[string]string
	SubmittedAt time.Time
}

// Handler executes one task on a worker goroutine.
type Handler interface {
	Handle(ctx context.Context, task Task) error
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, task Task) error

func (f HandlerFunc) Handle(ctx context.Context, task Task) error { return f(ctx, task) }

type Queue interface {
	// Enqueue returns an opaque reference for Status and Cancel.
	Enqueue(ctx context.Context, task Task) (string, error)
	Status(ref string) TaskState
	// Cancel reports true only when the entry had not started yet.
	Cancel(ref string) bool
	Shutdown(ctx context.Context)
}
