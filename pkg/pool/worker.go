package pool

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// WorkerEventKind tags a WorkerEvent with which of the three observed
// events (spec §4.3) produced it.
type WorkerEventKind int

const (
	WorkerCompleted WorkerEventKind = iota
	WorkerCrashed
	WorkerExited
)

// WorkerEvent is how a WorkerRuntime reports back to the Pool's single
// run loop. Every field besides WorkerID and Kind is only meaningful for
// the matching Kind.
type WorkerEvent struct {
	WorkerID uuid.UUID
	Kind     WorkerEventKind
	Response Response // valid when Kind == WorkerCompleted
	Cause    error    // valid when Kind == WorkerCrashed
	ExitCode int      // valid when Kind == WorkerExited
}

// WorkerRuntime is the out-of-scope collaborator spec.md §1 calls "the
// worker runtime... specified only at the message level": something able
// to spawn one isolated execution context per Start call and speak the
// worker protocol. The Pool depends only on this interface, never on a
// concrete runtime, so internal/workerproc's goroutine-backed
// implementation is swappable for a process- or container-backed one
// without touching pkg/pool.
type WorkerRuntime interface {
	// Start spawns one isolated execution context bound to id, whose
	// lifetime follows ctx. It returns the channel the scheduler sends
	// Requests on. Every Request produces exactly one WorkerEvent on
	// events, tagged with id. If ctx is cancelled by the caller (the
	// Pool, on timeout/cancel/terminate), Start's goroutine must exit
	// without posting a further event — the Pool already knows why it
	// terminated that worker.
	Start(ctx context.Context, id uuid.UUID, events chan<- WorkerEvent) chan<- Request
}

// workerHandle is the scheduler-visible Worker Handle from spec §3 and
// §4.3: an opaque reference to one execution context plus liveness
// metadata. It is owned exclusively by the Pool's run loop.
type workerHandle struct {
	id uuid.UUID

	requests chan<- Request
	cancel   context.CancelFunc

	failureCount  int
	lastHeartbeat time.Time
	isHealthy     bool

	// restarting is set the moment restartWorker first acts on this
	// handle and never cleared — the handle is retired in place and a
	// fresh one takes its slot on respawn. It exists so a second event
	// arriving for the same still-live handle (the old worker's
	// goroutine keeps running user code until it notices ctx is done,
	// and can post one more WorkerEvent after the handle was already
	// marked unhealthy) is recognised as stale even if it races ahead of
	// isHealthy being flipped.
	restarting bool

	// job is the Job currently bound to this handle, nil while idle.
	job *job
}

// spawnWorker starts a fresh execution context via runtime and returns the
// Worker Handle for it. parent is the Pool's root context; the worker's
// own context is derived from it so Terminate (root cancellation) and
// per-worker termination (handle cancellation) both work.
func spawnWorker(parent context.Context, runtime WorkerRuntime, events chan<- WorkerEvent) *workerHandle {
	ctx, cancel := context.WithCancel(parent)
	id := uuid.New()
	reqCh := runtime.Start(ctx, id, events)

	return &workerHandle{
		id:            id,
		requests:      reqCh,
		cancel:        cancel,
		lastHeartbeat: time.Now(),
		isHealthy:     true,
	}
}

// send dispatches req to the worker and stamps the heartbeat, matching
// spec §4.4's "Update the worker's lastHeartbeat" step on both send and
// receive.
func (w *workerHandle) send(req Request) {
	w.requests <- req
	w.lastHeartbeat = time.Now()
}

// terminate stops the worker's execution context. Safe to call more than
// once: context.CancelFunc is idempotent.
func (w *workerHandle) terminate() {
	w.cancel()
}

// idle reports whether the handle is free to take a new job.
func (w *workerHandle) idle() bool {
	return w.job == nil
}
