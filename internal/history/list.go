package history

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// Record is a job_history row as read back from the store. Unlike
// pool.JobRecord, which is written from inside the scheduler's run loop,
// Record never crosses into pkg/pool — history is read-only from the
// pool's point of view.
type Record struct {
	ID           string
	TaskName     string
	Priority     string
	EnqueuedAt   time.Time
	StartedAt    *time.Time
	FinishedAt   time.Time
	Outcome      string
	ErrorKind    string
	ErrorMessage string
}

// ListOption narrows a List query. Options compose: each is applied in
// the order passed.
type ListOption func(sq.SelectBuilder) sq.SelectBuilder

// ByOutcome restricts results to the given outcome values, as recorded in
// pool.JobRecord.Outcome ("completed" or "failed"). Failure kinds such as
// "timeout" or "cancelled" live in the error_kind column instead.
func ByOutcome(outcomes ...string) ListOption {
	return func(b sq.SelectBuilder) sq.SelectBuilder {
		if len(outcomes) == 0 {
			return b
		}
		return b.Where(sq.Eq{"outcome": outcomes})
	}
}

// ByTaskName restricts results to jobs submitted under the given
// registered task names.
func ByTaskName(names ...string) ListOption {
	return func(b sq.SelectBuilder) sq.SelectBuilder {
		if len(names) == 0 {
			return b
		}
		return b.Where(sq.Eq{"task_name": names})
	}
}

// ByTimeRange restricts results to jobs enqueued in [from, to).
func ByTimeRange(from, to time.Time) ListOption {
	return func(b sq.SelectBuilder) sq.SelectBuilder {
		return b.Where(sq.And{
			sq.GtOrEq{"enqueued_at": from},
			sq.Lt{"enqueued_at": to},
		})
	}
}

// WithLimit caps the number of rows returned.
func WithLimit(limit uint64) ListOption {
	return func(b sq.SelectBuilder) sq.SelectBuilder {
		return b.Limit(limit)
	}
}

// WithOffset skips the first offset rows, for pagination alongside
// WithLimit.
func WithOffset(offset uint64) ListOption {
	return func(b sq.SelectBuilder) sq.SelectBuilder {
		return b.Offset(offset)
	}
}

// List returns job_history rows matching opts, most recently finished
// first.
func (s *Store) List(ctx context.Context, opts ...ListOption) ([]Record, error) {
	builder := sq.Select(
		"id", "task_name", "priority", "enqueued_at", "started_at",
		"finished_at", "outcome", "error_kind", "error_message",
	).From("job_history").OrderBy("finished_at DESC")

	for _, opt := range opts {
		builder = opt(builder)
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var errKind, errMsg *string
		if err := rows.Scan(
			&rec.ID, &rec.TaskName, &rec.Priority, &rec.EnqueuedAt,
			&rec.StartedAt, &rec.FinishedAt, &rec.Outcome, &errKind, &errMsg,
		); err != nil {
			return nil, err
		}
		if errKind != nil {
			rec.ErrorKind = *errKind
		}
		if errMsg != nil {
			rec.ErrorMessage = *errMsg
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Count implements pool.HistoryRecorder-adjacent reporting: total rows
// matching opts, ignoring WithLimit/WithOffset.
func (s *Store) Count(ctx context.Context, opts ...ListOption) (int, error) {
	builder := sq.Select("COUNT(*)").From("job_history")
	for _, opt := range opts {
		builder = opt(builder)
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return 0, err
	}
	var count int
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&count)
	return count, err
}
