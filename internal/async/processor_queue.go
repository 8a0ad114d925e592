package async

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/ocrjobs/internal/common"
)

// ErrUnknownFunc is returned when a task names no registered handler.
var ErrUnknownFunc = errors.New("no handler registered")

type entry struct {
	ref   string
	task  Task
	state TaskState
}

// ProcessorQueue is an in-process queue: a buffered channel drained by a
// fixed set of worker goroutines.
type ProcessorQueue struct {
	handlersMu sync.RWMutex
	handlers   map[string]Handler

	logger    *slog.Logger
	workers   int
	timeout   time.Duration
	retention int

	ch   chan *entry
	wg   sync.WaitGroup
	once sync.Once

	// mu guards closed. Senders register in sending before releasing it,
	// and ch is only closed once they have all left.
	mu      sync.Mutex
	closed  bool
	quit    chan struct{}
	sending sync.WaitGroup

	entriesMu sync.Mutex
	entries   map[string]*entry
	done      []string
}

type Option func(*ProcessorQueue)

func WithWorkers(n int) Option {
	return func(q *ProcessorQueue) {
		if n > 0 {
			q.workers = n
		}
	}
}
func WithQueueSize(n int) Option {
	return func(q *ProcessorQueue) {
		if n > 0 {
			q.ch = make(chan *entry, n)
		}
	}
}
func WithProcessTimeout(d time.Duration) Option {
	return func(q *ProcessorQueue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

// WithRetention bounds how many finished entries stay answerable by Status.
func WithRetention(n int) Option {
	return func(q *ProcessorQueue) {
		if n > 0 {
			q.retention = n
		}
	}
}

// WithHandler registers h under name. Tasks whose Func is name run through h.
func WithHandler(name string, h Handler) Option {
	return func(q *ProcessorQueue) {
		q.handlers[name] = h
	}
}

// Register adds or replaces a handler on a running queue. Tasks already
// waiting for name pick it up when they are dequeued.
func (q *ProcessorQueue) Register(name string, h Handler) {
	q.handlersMu.Lock()
	defer q.handlersMu.Unlock()
	q.handlers[name] = h
}

func (q *ProcessorQueue) handler(name string) (Handler, bool) {
	q.handlersMu.RLock()
	defer q.handlersMu.RUnlock()
	h, ok := q.handlers[name]
	return h, ok
}

func NewProcessorQueue(logger *slog.Logger, opts ...Option) *ProcessorQueue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &ProcessorQueue{
		handlers:  make(map[string]Handler),
		logger:    logger,
		workers:   4,
		timeout:   10 * time.Minute,
		retention: 1024,
		ch:        make(chan *entry, 256),
		quit:      make(chan struct{}),
		entries:   make(map[string]*entry),
	}
	for _, o := range opts {
		o(q)
	}
	q.start()
	return q
}

func (q *ProcessorQueue) start() {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go func(workerID int) {
				defer q.wg.Done()
				q.logger.Info("worker started", "worker_id", workerID)

				for e := range q.ch {
					q.run(workerID, e)
				}

				q.logger.Info("worker stopped", "worker_id", workerID)
			}(i + 1)
		}
	})
}

func (q *ProcessorQueue) run(workerID int, e *entry) {
	if !q.transition(e, StateQueued, StateRunning) {
		q.logger.Info("skipping canceled task", "worker_id", workerID, "queue_ref", e.ref, "job_id", e.task.JobID)
		return
	}

	h, ok := q.handler(e.task.Func)
	if !ok {
		q.logger.Error("processing failed", "worker_id", workerID, "queue_ref", e.ref, "func", e.task.Func, "error", ErrUnknownFunc)
		q.finish(e, StateFailed)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	ctx = common.WithWorkerID(common.WithJobID(ctx, e.task.JobID.String()), workerID)
	err := q.invoke(ctx, h, e.task)
	cancel()

	if err != nil {
		q.logger.Error("processing failed", "worker_id", workerID, "queue_ref", e.ref, "job_id", e.task.JobID, "error", err)
		q.finish(e, StateFailed)
		return
	}
	q.logger.Info("processed task successfully", "worker_id", workerID, "queue_ref", e.ref, "job_id", e.task.JobID)
	q.finish(e, StateFinished)
}

// invoke turns a handler panic into an error so the worker survives.
func (q *ProcessorQueue) invoke(ctx context.Context, h Handler, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.Handle(ctx, task)
}

func (q *ProcessorQueue) Enqueue(ctx context.Context, task Task) (string, error) {
	if task.SubmittedAt.IsZero() {
		task.SubmittedAt = time.Now()
	}
	e := &entry{ref: uuid.NewString(), task: task, state: StateQueued}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.logger.Warn("cannot enqueue: queue is shutting down", "job_id", task.JobID)
		return "", errShuttingDown()
	}
	q.sending.Add(1)
	q.mu.Unlock()
	defer q.sending.Done()

	q.track(e)
	select {
	case q.ch <- e:
		q.logger.Info("queued task for processing", "job_id", task.JobID, "func", task.Func, "queue_ref", e.ref)
		return e.ref, nil
	default:
	}

	q.logger.Warn("queue full, applying backpressure", "job_id", task.JobID)
	select {
	case q.ch <- e:
		q.logger.Info("queued task for processing", "job_id", task.JobID, "func", task.Func, "queue_ref", e.ref)
		return e.ref, nil
	case <-ctx.Done():
		q.untrack(e.ref)
		return "", common.QueueError("enqueue aborted", ctx.Err())
	case <-q.quit:
		q.untrack(e.ref)
		q.logger.Warn("cannot enqueue: queue is shutting down", "job_id", task.JobID)
		return "", errShuttingDown()
	}
}

func errShuttingDown() error {
	return common.QueueError("queue is shutting down", errors.New("closed"))
}

func (q *ProcessorQueue) Status(ref string) TaskState {
	q.entriesMu.Lock()
	defer q.entriesMu.Unlock()
	if e, ok := q.entries[ref]; ok {
		return e.state
	}
	return StateUnknown
}

func (q *ProcessorQueue) Cancel(ref string) bool {
	q.entriesMu.Lock()
	e, ok := q.entries[ref]
	q.entriesMu.Unlock()
	if !ok {
		return false
	}
	if q.transition(e, StateQueued, StateCanceled) {
		q.logger.Info("canceled queued task", "queue_ref", ref, "job_id", e.task.JobID)
		return true
	}
	return false
}

func (q *ProcessorQueue) Shutdown(ctx context.Context) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.quit)
	q.mu.Unlock()

	// Blocked senders wake on quit; nobody new can register.
	q.sending.Wait()
	close(q.ch)

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.logger.Warn("shutdown interrupted by context")
	case <-done:
		q.logger.Info("queue drained, shutdown complete")
	}
}

func (q *ProcessorQueue) track(e *entry) {
	q.entriesMu.Lock()
	q.entries[e.ref] = e
	q.entriesMu.Unlock()
}

func (q *ProcessorQueue) untrack(ref string) {
	q.entriesMu.Lock()
	delete(q.entries, ref)
	q.entriesMu.Unlock()
}

func (q *ProcessorQueue) transition(e *entry, from, to TaskState) bool {
	q.entriesMu.Lock()
	defer q.entriesMu.Unlock()
	if e.state != from {
		return false
	}
	e.state = to
	if to != StateRunning {
		q.retireLocked(e.ref)
	}
	return true
}

func (q *ProcessorQueue) finish(e *entry, state TaskState) {
	q.entriesMu.Lock()
	defer q.entriesMu.Unlock()
	e.state = state
	q.retireLocked(e.ref)
}

// retireLocked remembers a terminal entry and forgets the oldest ones past
// retention. entriesMu must be held.
func (q *ProcessorQueue) retireLocked(ref string) {
	q.done = append(q.done, ref)
	for len(q.done) > q.retention {
		delete(q.entries, q.done[0])
		q.done = q.done[1:]
	}
}
