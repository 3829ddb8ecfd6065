package history

const queryInsertRecord = `
	INSERT INTO job_history (
		id, task_name, priority, enqueued_at, started_at, finished_at,
		outcome, error_kind, error_message
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
