// Package pool implements a priority-aware thread pool executor: a
// bounded set of worker execution contexts, a single-goroutine scheduler
// that owns all shared state, and futures that resolve exactly once with
// a result or one of the typed failures in errors.go.
//
// # Architecture
//
//	Submit(opts, taskName, args...) --> validator --> run() loop
//	                                                     │
//	                         ┌───────────────────────────┼───────────────────────────┐
//	                         │                            │                           │
//	                   idle worker?                 priority queue              worker events
//	                   bind + send                   HIGH/NORMAL/LOW           completed/crashed
//	                         │                            │                           │
//	                         └──────────── pump() ◄───────┴──────────── handled here ─┘
//
// Everything above the worker boundary — workers slice, priority queue,
// worker-to-job binding, closing flag, shutdown waiters, metrics — is
// touched from exactly one goroutine, run, which is started by New and
// never exposed. Callers interact only through Submit, Close, Terminate,
// GetMetrics, ResetMetrics, and Size, all of which cross into the run
// loop over channels.
//
// # What the worker actually runs
//
// Pool depends only on the WorkerRuntime interface (worker.go); it never
// imports a concrete runtime. internal/workerproc supplies the
// goroutine-backed implementation used in production, resolving task
// names against an internal/jobregistry.Registry. Swapping in a
// process- or container-isolated runtime means implementing
// WorkerRuntime, not touching this package.
//
// # Cancellation is cooperative only
//
// A timeout or an external cancel handle never preempts a worker
// mid-computation — Go has no such mechanism for arbitrary user code. Both
// paths terminate the worker's execution context and replace it in place;
// the job is reported failed to its caller. See restartWorker.
package pool
