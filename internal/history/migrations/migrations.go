// Package migrations applies schema changes to the job history database
// in order, tracking applied versions in a schema_migrations table so Run
// is idempotent — the same contract the teacher's store/migrations
// package exposes (migrations.Run(ctx, db), a schema_migrations version
// table), rebuilt here since the teacher's own migration source was not
// part of the retrieved reference set, only its documented behavior.
package migrations

import (
	"context"
	"database/sql"
	"fmt"
)

type migration struct {
	version int
	sql     string
}

var all = []migration{
	{
		version: 1,
		sql: `CREATE TABLE IF NOT EXISTS job_history (
			id TEXT PRIMARY KEY,
			task_name TEXT NOT NULL,
			priority TEXT NOT NULL,
			enqueued_at TIMESTAMP NOT NULL,
			started_at TIMESTAMP,
			finished_at TIMESTAMP NOT NULL,
			outcome TEXT NOT NULL,
			error_kind TEXT,
			error_message TEXT
		)`,
	},
}

// Run applies every migration not yet recorded in schema_migrations, in
// version order.
func Run(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY)`); err != nil {
		return fmt.Errorf("migrations: creating schema_migrations: %w", err)
	}

	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return err
	}

	for _, m := range all {
		if applied[m.version] {
			continue
		}
		if _, err := db.ExecContext(ctx, m.sql); err != nil {
			return fmt.Errorf("migrations: applying version %d: %w", m.version, err)
		}
		if _, err := db.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, m.version); err != nil {
			return fmt.Errorf("migrations: recording version %d: %w", m.version, err)
		}
	}
	return nil
}

func appliedVersions(ctx context.Context, db *sql.DB) (map[int]bool, error) {
	rows, err := db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("migrations: reading schema_migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("migrations: scanning version: %w", err)
		}
		applied[v] = true
	}
	return applied, rows.Err()
}
