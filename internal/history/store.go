// Package history is the optional Job History Store: a DuckDB-backed,
// append-only audit log of terminated jobs. It is not on the scheduling
// path and not a durable work queue — wiring it via
// pool.WithHistoryRecorder only ever observes jobs after they have
// already left the pool.
package history

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/duckdb/duckdb-go/v2"
	"go.uber.org/zap"

	"github.com/nodeswarm-go/taskpool/internal/history/migrations"
	"github.com/nodeswarm-go/taskpool/pkg/pool"
)

// Store is an append-only log of pool.JobRecord values.
type Store struct {
	db  *sql.DB
	log *zap.SugaredLogger
}

// NewDB opens a DuckDB database at path. Use ":memory:" for an ephemeral
// store, as the teacher's own test suite does for its DuckDB-backed store.
func NewDB(path string) (*sql.DB, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("history: opening duckdb at %q: %w", path, err)
	}
	return db, nil
}

// NewStore wraps an already-open database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, log: zap.S().Named("history")}
}

// Migrate applies every pending schema migration. Safe to call more than
// once.
func (s *Store) Migrate(ctx context.Context) error {
	return migrations.Run(ctx, s.db)
}

// Record implements pool.HistoryRecorder. A write failure is logged, not
// returned or retried: losing one history row must never make a Job look
// unresolved to its own caller, which has already received its Outcome by
// the time Record runs.
func (s *Store) Record(rec pool.JobRecord) {
	_, err := s.db.Exec(queryInsertRecord,
		rec.ID.String(), rec.TaskName, rec.Priority.String(),
		rec.EnqueuedAt, rec.StartedAt, rec.FinishedAt,
		rec.Outcome, rec.ErrorKind, rec.ErrorMessage,
	)
	if err != nil {
		s.log.Errorw("failed to record job history", "jobId", rec.ID, "error", err)
	}
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
