package async

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/ocrjobs/internal/common"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func waitState(t *testing.T, q *ProcessorQueue, ref string, want TaskState) {
	t.Helper()
	require.Eventually(t, func() bool { return q.Status(ref) == want }, 2*time.Second, 5*time.Millisecond)
}

func TestEnqueueRunsRegisteredHandler(t *testing.T) {
	var calls atomic.Int32
	got := make(chan Task, 1)
	q := NewProcessorQueue(testLogger(),
		WithWorkers(2),
		WithHandler("ocr", HandlerFunc(func(ctx context.Context, task Task) error {
			calls.Add(1)
			assert.Equal(t, task.JobID.String(), common.JobIDFromContext(ctx))
			assert.NotZero(t, common.WorkerIDFromContext(ctx))
			got <- task
			return nil
		})),
	)
	defer q.Shutdown(context.Background())

	id := uuid.New()
	ref, err := q.Enqueue(context.Background(), Task{Func: "ocr", JobID: id, Args: map[string]string{"k": "v"}})
	require.NoError(t, err)
	require.NotEmpty(t, ref)

	select {
	case task := <-got:
		assert.Equal(t, id, task.JobID)
		assert.Equal(t, "v", task.Args["k"])
		assert.False(t, task.SubmittedAt.IsZero())
	case <-time.After(2 * time.Second):
		t.Fatal("handler never ran")
	}
	waitState(t, q, ref, StateFinished)
	assert.EqualValues(t, 1, calls.Load())
}

func TestHandlerErrorAndPanicMarkFailed(t *testing.T) {
	q := NewProcessorQueue(testLogger(),
		WithWorkers(1),
		WithHandler("err", HandlerFunc(func(context.Context, Task) error { return errors.New("bad") })),
		WithHandler("panic", HandlerFunc(func(context.Context, Task) error { panic("kaboom") })),
	)
	defer q.Shutdown(context.Background())

	r1, err := q.Enqueue(context.Background(), Task{Func: "err", JobID: uuid.New()})
	require.NoError(t, err)
	r2, err := q.Enqueue(context.Background(), Task{Func: "panic", JobID: uuid.New()})
	require.NoError(t, err)
	r3, err := q.Enqueue(context.Background(), Task{Func: "missing", JobID: uuid.New()})
	require.NoError(t, err)

	waitState(t, q, r1, StateFailed)
	waitState(t, q, r2, StateFailed)
	waitState(t, q, r3, StateFailed)
}

func TestCancelOnlyBeforeStart(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	var ran atomic.Int32
	q := NewProcessorQueue(testLogger(),
		WithWorkers(1),
		WithHandler("block", HandlerFunc(func(context.Context, Task) error {
			started <- struct{}{}
			<-release
			return nil
		})),
		WithHandler("count", HandlerFunc(func(context.Context, Task) error {
			ran.Add(1)
			return nil
		})),
	)
	defer q.Shutdown(context.Background())

	running, err := q.Enqueue(context.Background(), Task{Func: "block", JobID: uuid.New()})
	require.NoError(t, err)
	<-started
	queued, err := q.Enqueue(context.Background(), Task{Func: "count", JobID: uuid.New()})
	require.NoError(t, err)

	assert.Equal(t, StateRunning, q.Status(running))
	assert.False(t, q.Cancel(running), "running entries cannot be canceled")
	assert.True(t, q.Cancel(queued))
	assert.Equal(t, StateCanceled, q.Status(queued))
	assert.False(t, q.Cancel(queued), "second cancel is a no-op")

	close(release)
	waitState(t, q, running, StateFinished)
	q.Shutdown(context.Background())
	assert.EqualValues(t, 0, ran.Load())
}

func TestStatusUnknownAndRetention(t *testing.T) {
	q := NewProcessorQueue(testLogger(),
		WithWorkers(1),
		WithRetention(2),
		WithHandler("noop", HandlerFunc(func(context.Context, Task) error { return nil })),
	)
	defer q.Shutdown(context.Background())

	assert.Equal(t, StateUnknown, q.Status("nope"))
	assert.False(t, q.Cancel("nope"))

	var refs []string
	for i := 0; i < 3; i++ {
		ref, err := q.Enqueue(context.Background(), Task{Func: "noop", JobID: uuid.New()})
		require.NoError(t, err)
		waitState(t, q, ref, StateFinished)
		refs = append(refs, ref)
	}
	assert.Equal(t, StateUnknown, q.Status(refs[0]))
	assert.Equal(t, StateFinished, q.Status(refs[2]))
}

func TestEnqueueAfterShutdown(t *testing.T) {
	q := NewProcessorQueue(testLogger(), WithWorkers(1))
	q.Shutdown(context.Background())

	_, err := q.Enqueue(context.Background(), Task{Func: "x", JobID: uuid.New()})
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrQueue)
}

func TestEnqueueFullQueueHonoursContext(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	q := NewProcessorQueue(testLogger(),
		WithWorkers(1),
		WithQueueSize(1),
		WithHandler("block", HandlerFunc(func(context.Context, Task) error {
			select {
			case started <- struct{}{}:
			default:
			}
			<-release
			return nil
		})),
	)
	defer func() {
		close(release)
		q.Shutdown(context.Background())
	}()

	_, err := q.Enqueue(context.Background(), Task{Func: "block", JobID: uuid.New()})
	require.NoError(t, err)
	<-started
	_, err = q.Enqueue(context.Background(), Task{Func: "block", JobID: uuid.New()})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = q.Enqueue(ctx, Task{Func: "block", JobID: uuid.New()})
	assert.ErrorIs(t, err, common.ErrQueue)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestShutdownReleasesBlockedEnqueue(t *testing.T) {
	release := make(chan struct{})
	q := NewProcessorQueue(testLogger(),
		WithWorkers(1),
		WithQueueSize(1),
		WithHandler("block", HandlerFunc(func(context.Context, Task) error {
			<-release
			return nil
		})),
	)

	first, err := q.Enqueue(context.Background(), Task{Func: "block", JobID: uuid.New()})
	require.NoError(t, err)
	waitState(t, q, first, StateRunning)
	_, err = q.Enqueue(context.Background(), Task{Func: "block", JobID: uuid.New()})
	require.NoError(t, err)

	blocked := make(chan error, 1)
	go func() {
		_, err := q.Enqueue(context.Background(), Task{Func: "block", JobID: uuid.New()})
		blocked <- err
	}()
	time.Sleep(20 * time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		q.Shutdown(context.Background())
	}()

	select {
	case err := <-blocked:
		assert.ErrorIs(t, err, common.ErrQueue)
	case <-time.After(2 * time.Second):
		t.Fatal("enqueue stayed blocked through shutdown")
	}

	close(release)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown never drained")
	}
}

func TestRegisterAfterStart(t *testing.T) {
	q := NewProcessorQueue(testLogger(), WithWorkers(1))
	defer q.Shutdown(context.Background())

	ref, err := q.Enqueue(context.Background(), Task{Func: "late", JobID: uuid.New()})
	require.NoError(t, err)
	waitState(t, q, ref, StateFailed)

	ran := make(chan struct{})
	q.Register("late", HandlerFunc(func(context.Context, Task) error {
		close(ran)
		return nil
	}))
	ref, err = q.Enqueue(context.Background(), Task{Func: "late", JobID: uuid.New()})
	require.NoError(t, err)
	<-ran
	waitState(t, q, ref, StateFinished)
}
