// Package workerproc is the goroutine-backed implementation of
// pool.WorkerRuntime: the concrete "worker runtime" collaborator that
// spec.md §1 leaves unspecified beyond the message-level protocol. It
// resolves each Request's task name against a jobregistry.Registry and
// executes it, recovering from panics the same way the teacher's
// pkg/scheduler.worker does.
package workerproc

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nodeswarm-go/taskpool/internal/jobregistry"
	"github.com/nodeswarm-go/taskpool/pkg/pool"
)

// Runtime spawns one goroutine per Start call against a shared registry.
// The zero value is not usable; construct one with New.
type Runtime struct {
	registry *jobregistry.Registry
	log      *zap.SugaredLogger
}

// New returns a Runtime that resolves tasks against registry.
func New(registry *jobregistry.Registry) *Runtime {
	return &Runtime{
		registry: registry,
		log:      zap.S().Named("workerproc"),
	}
}

// Start implements pool.WorkerRuntime.
func (rt *Runtime) Start(ctx context.Context, id uuid.UUID, events chan<- pool.WorkerEvent) chan<- pool.Request {
	reqCh := make(chan pool.Request)
	go rt.loop(ctx, id, reqCh, events)
	return reqCh
}

func (rt *Runtime) loop(ctx context.Context, id uuid.UUID, reqCh <-chan pool.Request, events chan<- pool.WorkerEvent) {
	rt.log.Debugw("worker started", "workerId", id)
	for {
		select {
		case <-ctx.Done():
			rt.log.Debugw("worker context cancelled, exiting", "workerId", id)
			return
		case req, ok := <-reqCh:
			if !ok {
				return
			}
			rt.execute(ctx, id, req, events)
		}
	}
}

// execute runs one Request to completion, turning a panic into a
// WorkerCrashed event instead of letting it take down the process — the
// same contract the teacher's worker.Work gives its caller.
func (rt *Runtime) execute(ctx context.Context, id uuid.UUID, req pool.Request, events chan<- pool.WorkerEvent) {
	defer func() {
		if rec := recover(); rec != nil {
			rt.log.Errorw("worker panicked", "workerId", id, "taskName", req.TaskName, "panic", rec)
			events <- pool.WorkerEvent{
				WorkerID: id,
				Kind:     pool.WorkerCrashed,
				Cause:    fmt.Errorf("worker panic: %v", rec),
			}
		}
	}()

	fn, ok := rt.registry.Lookup(req.TaskName)
	if !ok {
		events <- pool.WorkerEvent{
			WorkerID: id,
			Kind:     pool.WorkerCompleted,
			Response: pool.Response{Err: &pool.TaskError{
				Kind:    "UnknownTask",
				Message: fmt.Sprintf("task %q is not registered", req.TaskName),
			}},
		}
		return
	}

	result, err := fn(ctx, req.Args)
	if ctx.Err() != nil {
		// The Pool cancelled this worker mid-task and has already resolved
		// the job; pool.WorkerRuntime requires no further event.
		return
	}
	if err != nil {
		events <- pool.WorkerEvent{
			WorkerID: id,
			Kind:     pool.WorkerCompleted,
			Response: pool.Response{Err: &pool.TaskError{
				Kind:    "UserError",
				Message: err.Error(),
			}},
		}
		return
	}

	events <- pool.WorkerEvent{
		WorkerID: id,
		Kind:     pool.WorkerCompleted,
		Response: pool.Response{Result: result},
	}
}
