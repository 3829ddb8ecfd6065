package pool

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SubmitOptions are the per-job controls a caller may pass to Submit.
type SubmitOptions struct {
	// Timeout, if positive, arms a one-shot timer on dispatch; the job is
	// failed with TimeoutError if it fires before completion.
	Timeout time.Duration
	// Cancel, if non-nil, is observed by the scheduler: once it is done
	// (cancelled or past its deadline), the job fails with CancelledError.
	Cancel context.Context
	// Priority selects the FIFO band. Nil defaults to PriorityNormal; the
	// pointer exists only so the zero value of SubmitOptions doesn't
	// silently mean PriorityHigh (which is numeric 0, per spec §6's
	// required HIGH=0, NORMAL=1, LOW=2 ordering).
	Priority *Priority
	// Description is an optional free-text note about the task, subject
	// to the same policy scan as the task name when strict mode is on.
	Description string
}

// job is the scheduler's internal record of one submitted unit of work.
// It is created at Submit time, mutated only by the Pool's run loop, and
// destroyed once its completion sink has fired exactly once.
type job struct {
	id       uuid.UUID
	taskName string
	args     []any
	priority Priority
	timeout  time.Duration
	cancelCtx context.Context

	done chan Outcome

	enqueuedAt time.Time
	startedAt  time.Time

	// worker is the Worker Handle currently bound to this job, nil while
	// queued.
	worker *workerHandle
	// timeoutTimer is the armed one-shot timer for this job's timeout, if
	// any; cancelled on every completion path.
	timeoutTimer *time.Timer
	// cancelStop, if non-nil, stops this job's cancellation listener
	// goroutine when called.
	cancelStop func()
}

// Outcome is what a Future resolves to: exactly one of Value or Err is
// set, matching the single-completion invariant.
type Outcome struct {
	Value any
	Err   error
}

// Future is the caller-visible, read-only handle to a Job's eventual
// completion, generalizing the teacher's models.Future[T] to the pool's
// fixed Outcome type.
type Future struct {
	id   uuid.UUID
	c    chan Outcome
	stop func()
}

func newFuture(id uuid.UUID, c chan Outcome, stop func()) *Future {
	return &Future{id: id, c: c, stop: stop}
}

// C returns the channel that will receive exactly one Outcome.
func (f *Future) C() <-chan Outcome {
	return f.c
}

// ID returns the job's identifier, useful for correlating with metrics or
// history records.
func (f *Future) ID() uuid.UUID {
	return f.id
}

// Stop requests cancellation of the underlying job. It is a no-op once the
// job has already completed.
func (f *Future) Stop() {
	if f.stop != nil {
		f.stop()
	}
}

// Wait blocks until the Future resolves or ctx is done.
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case o := <-f.c:
		return o.Value, o.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
