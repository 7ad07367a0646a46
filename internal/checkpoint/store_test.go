package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/AreteDriver/AI-Orchestra/pkg/api"
)

func sampleCheckpoint() *api.Checkpoint {
	return &api.Checkpoint{
		WorkflowID:  "wf",
		ExecutionID: "exec-1",
		Variables:   map[string]any{"stage": "approved", "count": float64(3)},
		Completed:   []string{"fetch", "review"},
		Frontier:    []string{"deploy"},
		StepResults: []api.StepResult{
			{ID: "fetch", Status: api.StepSucceeded},
			{ID: "review", Status: api.StepSucceeded, TokensUsed: 120},
		},
		TokensUsed: 120,
		CreatedAt:  time.Now().UTC().Truncate(time.Second),
	}
}

func TestMemoryStore_RoundTrip(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()

	id, err := store.Save(ctx, sampleCheckpoint())
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if id == "" {
		t.Fatal("Save returned empty ID")
	}

	got, err := store.Load(ctx, id)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got.WorkflowID != "wf" || got.ExecutionID != "exec-1" {
		t.Fatalf("unexpected checkpoint: %+v", got)
	}
	if len(got.Completed) != 2 || got.TokensUsed != 120 {
		t.Fatalf("unexpected checkpoint state: %+v", got)
	}

	if err := store.Delete(ctx, id); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Load(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestMemoryStore_LoadUnknown(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	if _, err := store.Load(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func newTestSQLiteStore(t *testing.T) (*SQLiteStore, *sql.DB) {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	store, err := NewSQLiteStore(db)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	return store, db
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	t.Parallel()

	store, _ := newTestSQLiteStore(t)
	ctx := context.Background()

	ckpt := sampleCheckpoint()
	id, err := store.Save(ctx, ckpt)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.Load(ctx, id)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got.WorkflowID != ckpt.WorkflowID {
		t.Fatalf("WorkflowID = %q, want %q", got.WorkflowID, ckpt.WorkflowID)
	}
	if got.Variables["stage"] != "approved" {
		t.Fatalf("Variables = %v", got.Variables)
	}
	if len(got.StepResults) != 2 || got.StepResults[1].TokensUsed != 120 {
		t.Fatalf("StepResults = %+v", got.StepResults)
	}

	// Saving again under the same ID overwrites the payload.
	ckpt.TokensUsed = 500
	if _, err := store.Save(ctx, ckpt); err != nil {
		t.Fatalf("second Save failed: %v", err)
	}
	got, err = store.Load(ctx, id)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got.TokensUsed != 500 {
		t.Fatalf("TokensUsed = %d, want 500", got.TokensUsed)
	}

	if err := store.Delete(ctx, id); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Load(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestSQLiteStore_CorruptPayload(t *testing.T) {
	t.Parallel()

	store, db := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := db.Exec(
		`INSERT INTO checkpoints (id, workflow_id, execution_id, payload, created_at)
		 VALUES ('bad', 'wf', 'exec', X'DEADBEEF', 0)`)
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	_, err = store.Load(ctx, "bad")
	we, ok := api.AsWorkflowError(err)
	if !ok {
		t.Fatalf("expected WorkflowError, got %v", err)
	}
	if we.Kind != api.WorkflowCheckpointCorrupt {
		t.Fatalf("Kind = %q, want checkpoint_corrupt", we.Kind)
	}
}
