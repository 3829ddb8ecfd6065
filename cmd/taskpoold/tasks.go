package main

import (
	"context"
	"fmt"
	"time"

	"github.com/nodeswarm-go/taskpool/internal/jobregistry"
)

// registerBuiltinTasks registers the example tasks this binary offers:
// a CPU-bound busy-wait and a trivial echo. The pkg/pool tests register
// their own tasks and do not use these.
func registerBuiltinTasks(r *jobregistry.Registry) {
	r.Register("busy-wait", busyWait)
	r.Register("echo", echo)
}

// busyWait spins for the duration given as args[0] (time.Duration),
// checking ctx only between iterations since it models CPU-bound work
// that cannot be preempted mid-computation.
func busyWait(ctx context.Context, args []any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("busy-wait: expected 1 argument, got %d", len(args))
	}
	d, ok := args[0].(time.Duration)
	if !ok {
		return nil, fmt.Errorf("busy-wait: expected time.Duration argument, got %T", args[0])
	}

	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
	}
	return nil, nil
}

// echo returns args[0] unchanged.
func echo(ctx context.Context, args []any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("echo: expected 1 argument, got %d", len(args))
	}
	return args[0], nil
}
