package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/AreteDriver/AI-Orchestra/pkg/api"
)

// SQLiteStore is a CheckpointStore backed by SQLite.
//
// It expects an *sql.DB that uses a SQLite driver (for example,
// "modernc.org/sqlite"). The caller is responsible for importing the
// driver.
type SQLiteStore struct {
	db *sql.DB
}

var _ api.CheckpointStore = (*SQLiteStore)(nil)

// NewSQLiteStore initializes the required schema in the given database and
// returns a new SQLiteStore.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS checkpoints (
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			execution_id TEXT NOT NULL,
			payload BLOB NOT NULL,
			created_at INTEGER NOT NULL
		);`,
	)
	return err
}

func (s *SQLiteStore) Save(ctx context.Context, ckpt *api.Checkpoint) (string, error) {
	if ckpt.ID == "" {
		ckpt.ID = uuid.NewString()
	}
	if ckpt.CreatedAt.IsZero() {
		ckpt.CreatedAt = time.Now().UTC()
	}

	payload, err := json.Marshal(ckpt)
	if err != nil {
		return "", err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (id, workflow_id, execution_id, payload, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET payload = excluded.payload`,
		ckpt.ID,
		ckpt.WorkflowID,
		ckpt.ExecutionID,
		payload,
		ckpt.CreatedAt.Unix(),
	)
	if err != nil {
		return "", err
	}
	return ckpt.ID, nil
}

func (s *SQLiteStore) Load(ctx context.Context, id string) (*api.Checkpoint, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM checkpoints WHERE id = ?`, id,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var ckpt api.Checkpoint
	if err := json.Unmarshal(payload, &ckpt); err != nil {
		return nil, &api.WorkflowError{
			Kind: api.WorkflowCheckpointCorrupt,
			Err:  fmt.Errorf("decode checkpoint %s: %w", id, err),
		}
	}
	return &ckpt, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE id = ?`, id)
	return err
}
