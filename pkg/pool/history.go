package pool

import (
	"time"

	"github.com/google/uuid"
)

// JobRecord is a read-only snapshot of one terminated Job, handed to a
// HistoryRecorder for out-of-band audit storage. It is never read back by
// the scheduler itself — see internal/history for the consumer.
type JobRecord struct {
	ID         uuid.UUID
	TaskName   string
	Priority   Priority
	EnqueuedAt time.Time
	StartedAt  time.Time
	FinishedAt time.Time
	// Outcome is "completed" or "failed".
	Outcome string
	// ErrorKind classifies a failure ("timeout", "cancelled",
	// "worker_crash", "validation", "closing", or the UserError's own
	// Kind). Empty when Outcome is "completed".
	ErrorKind    string
	ErrorMessage string
}

// HistoryRecorder receives a JobRecord for every terminated Job when
// wired via WithHistoryRecorder. Record is called from its own goroutine,
// never from the Pool's run loop, so a slow or blocking implementation
// cannot stall scheduling — it can only fall behind on its own backlog.
type HistoryRecorder interface {
	Record(JobRecord)
}

func classifyOutcome(err error) (outcome, kind string) {
	switch e := err.(type) {
	case nil:
		return "completed", ""
	case *ValidationError:
		return "failed", "validation"
	case *ClosingError:
		return "failed", "closing"
	case *TimeoutError:
		return "failed", "timeout"
	case *CancelledError:
		return "failed", "cancelled"
	case *WorkerCrashError:
		return "failed", "worker_crash"
	case *UserError:
		return "failed", e.Kind
	default:
		return "failed", "unknown"
	}
}
