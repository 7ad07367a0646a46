package taskqueue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

// SQLiteQueue is a persistent Queue backed by SQLite, surviving process
// restarts. FIFO semantics come from the auto-incrementing id; delayed
// tasks wait for their not_before time.
type SQLiteQueue struct {
	db           *sql.DB
	pollInterval time.Duration
}

// NewSQLiteQueue initializes the tasks table in the given DB and returns a
// new queue.
func NewSQLiteQueue(db *sql.DB) (*SQLiteQueue, error) {
	q := &SQLiteQueue{
		db:           db,
		pollInterval: 20 * time.Millisecond,
	}
	if err := q.initSchema(); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *SQLiteQueue) initSchema() error {
	_, err := q.db.Exec(`
		CREATE TABLE IF NOT EXISTS tasks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			task_id TEXT NOT NULL,
			type TEXT NOT NULL,
			workflow_id TEXT,
			checkpoint_id TEXT,
			inputs BLOB,
			enqueued_at INTEGER NOT NULL,
			not_before INTEGER NOT NULL,
			attempts INTEGER NOT NULL
		);`,
	)
	return err
}

var _ Queue = (*SQLiteQueue)(nil)

func (q *SQLiteQueue) Enqueue(ctx context.Context, t Task) error {
	inputs, err := json.Marshal(t.Inputs)
	if err != nil {
		return err
	}

	now := time.Now()
	enqueuedAt := now.UnixNano()
	notBefore := enqueuedAt
	if !t.NotBefore.IsZero() {
		notBefore = t.NotBefore.UnixNano()
	}

	_, err = q.db.ExecContext(ctx, `
		INSERT INTO tasks (task_id, type, workflow_id, checkpoint_id, inputs, enqueued_at, not_before, attempts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID,
		string(t.Type),
		t.WorkflowID,
		t.CheckpointID,
		inputs,
		enqueuedAt,
		notBefore,
		t.Attempts,
	)
	return err
}

func (q *SQLiteQueue) Dequeue(ctx context.Context) (*Task, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		task, err := q.claim(ctx)
		if err != nil {
			return nil, err
		}
		if task != nil {
			return task, nil
		}

		// Nothing eligible yet: sleep a bit and retry.
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(q.pollInterval):
		}
	}
}

// claim removes and returns the oldest eligible task within a transaction,
// or nil when the queue is empty.
func (q *SQLiteQueue) claim(ctx context.Context) (*Task, error) {
	now := time.Now().UnixNano()

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}

	var (
		rowID        int64
		taskID       string
		typeStr      string
		workflowID   sql.NullString
		checkpointID sql.NullString
		inputs       []byte
		enqueuedAt   int64
		notBefore    int64
		attempts     int
	)
	row := tx.QueryRowContext(ctx, `
		SELECT id, task_id, type, workflow_id, checkpoint_id, inputs, enqueued_at, not_before, attempts
		FROM tasks
		WHERE not_before <= ?
		ORDER BY not_before, id
		LIMIT 1`, now)
	err = row.Scan(&rowID, &taskID, &typeStr, &workflowID, &checkpointID, &inputs, &enqueuedAt, &notBefore, &attempts)
	if errors.Is(err, sql.ErrNoRows) {
		_ = tx.Rollback()
		return nil, nil
	}
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, rowID); err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	t := &Task{
		ID:           taskID,
		Type:         TaskType(typeStr),
		WorkflowID:   workflowID.String,
		CheckpointID: checkpointID.String,
		EnqueuedAt:   time.Unix(0, enqueuedAt),
		NotBefore:    time.Unix(0, notBefore),
		Attempts:     attempts + 1,
	}
	if len(inputs) > 0 {
		if err := json.Unmarshal(inputs, &t.Inputs); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (q *SQLiteQueue) Len() int {
	var n int
	if err := q.db.QueryRow(`SELECT COUNT(*) FROM tasks`).Scan(&n); err != nil {
		return 0
	}
	return n
}
