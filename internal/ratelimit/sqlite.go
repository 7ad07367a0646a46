package ratelimit

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// SQLiteCounter is a Counter backed by SQLite, letting multiple processes
// on one host share in-flight counts through a database file.
//
// It expects an *sql.DB opened with a SQLite driver (for example,
// "modernc.org/sqlite"). The caller is responsible for importing the
// driver.
type SQLiteCounter struct {
	db *sql.DB
}

var _ Counter = (*SQLiteCounter)(nil)

// NewSQLiteCounter initializes the schema and returns a new SQLiteCounter.
func NewSQLiteCounter(db *sql.DB) (*SQLiteCounter, error) {
	c := &SQLiteCounter{db: db}
	if err := c.initSchema(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *SQLiteCounter) initSchema() error {
	_, err := c.db.Exec(`
		CREATE TABLE IF NOT EXISTS rate_counters (
			key TEXT PRIMARY KEY,
			count INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
	)
	return err
}

func (c *SQLiteCounter) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	now := time.Now().Unix()

	var count int64
	var updatedAt int64
	err = tx.QueryRowContext(ctx,
		`SELECT count, updated_at FROM rate_counters WHERE key = ?`, key,
	).Scan(&count, &updatedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		count = 0
	case err != nil:
		return 0, err
	}

	// A stale row means the holders are gone; start over.
	if ttl > 0 && count > 0 && now-updatedAt > int64(ttl.Seconds()) {
		count = 0
	}
	count++

	_, err = tx.ExecContext(ctx, `
		INSERT INTO rate_counters (key, count, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET count = excluded.count, updated_at = excluded.updated_at`,
		key, count, now,
	)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return count, nil
}

func (c *SQLiteCounter) Decr(ctx context.Context, key string) error {
	_, err := c.db.ExecContext(ctx, `
		UPDATE rate_counters
		SET count = CASE WHEN count > 0 THEN count - 1 ELSE 0 END,
		    updated_at = ?
		WHERE key = ?`,
		time.Now().Unix(), key,
	)
	return err
}

func (c *SQLiteCounter) Get(ctx context.Context, key string) (int64, error) {
	var count int64
	err := c.db.QueryRowContext(ctx,
		`SELECT count FROM rate_counters WHERE key = ?`, key,
	).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return count, err
}

func (c *SQLiteCounter) Reset(ctx context.Context, key string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM rate_counters WHERE key = ?`, key)
	return err
}
