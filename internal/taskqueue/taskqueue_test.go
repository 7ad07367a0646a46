package taskqueue

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func TestInMemoryQueue_FIFO(t *testing.T) {
	t.Parallel()

	q := NewInMemoryQueue(8)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := q.Enqueue(ctx, Task{
			ID:         fmt.Sprintf("t%d", i),
			Type:       TaskTypeExecute,
			WorkflowID: "wf",
			EnqueuedAt: time.Now(),
		})
		if err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}
	if q.Len() != 3 {
		t.Fatalf("Len = %d, want 3", q.Len())
	}

	for i := 0; i < 3; i++ {
		task, err := q.Dequeue(ctx)
		if err != nil {
			t.Fatalf("Dequeue failed: %v", err)
		}
		if want := fmt.Sprintf("t%d", i); task.ID != want {
			t.Fatalf("task %d: ID = %q, want %q", i, task.ID, want)
		}
	}
}

func TestInMemoryQueue_DequeueHonorsContext(t *testing.T) {
	t.Parallel()

	q := NewInMemoryQueue(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := q.Dequeue(ctx); err == nil {
		t.Fatal("expected context error on empty queue")
	}
}

func newTestSQLiteQueue(t *testing.T) *SQLiteQueue {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	q, err := NewSQLiteQueue(db)
	if err != nil {
		t.Fatalf("NewSQLiteQueue failed: %v", err)
	}
	return q
}

func TestSQLiteQueue_RoundTrip(t *testing.T) {
	t.Parallel()

	q := newTestSQLiteQueue(t)
	ctx := context.Background()

	err := q.Enqueue(ctx, Task{
		ID:         "task-1",
		Type:       TaskTypeExecute,
		WorkflowID: "wf",
		Inputs:     map[string]any{"target": "prod"},
	})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if q.Len() != 1 {
		t.Fatalf("Len = %d, want 1", q.Len())
	}

	task, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if task.ID != "task-1" || task.Type != TaskTypeExecute {
		t.Fatalf("unexpected task: %+v", task)
	}
	if task.WorkflowID != "wf" {
		t.Fatalf("WorkflowID = %q", task.WorkflowID)
	}
	if task.Inputs["target"] != "prod" {
		t.Fatalf("Inputs = %v", task.Inputs)
	}
	if task.Attempts != 1 {
		t.Fatalf("Attempts = %d, want 1", task.Attempts)
	}
	if q.Len() != 0 {
		t.Fatalf("Len = %d after dequeue, want 0", q.Len())
	}
}

func TestSQLiteQueue_ResumeTask(t *testing.T) {
	t.Parallel()

	q := newTestSQLiteQueue(t)
	ctx := context.Background()

	err := q.Enqueue(ctx, Task{
		ID:           "task-r",
		Type:         TaskTypeResume,
		WorkflowID:   "wf",
		CheckpointID: "ckpt-42",
	})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	task, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if task.Type != TaskTypeResume || task.CheckpointID != "ckpt-42" {
		t.Fatalf("unexpected task: %+v", task)
	}
}

// A delayed task stays invisible until its not_before time; an immediate
// task enqueued later is claimed first.
func TestSQLiteQueue_NotBefore(t *testing.T) {
	t.Parallel()

	q := newTestSQLiteQueue(t)
	ctx := context.Background()

	err := q.Enqueue(ctx, Task{
		ID:        "later",
		Type:      TaskTypeExecute,
		NotBefore: time.Now().Add(80 * time.Millisecond),
	})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := q.Enqueue(ctx, Task{ID: "now", Type: TaskTypeExecute}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	task, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if task.ID != "now" {
		t.Fatalf("ID = %q, want the immediate task first", task.ID)
	}

	start := time.Now()
	task, err = q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if task.ID != "later" {
		t.Fatalf("ID = %q, want the delayed task", task.ID)
	}
	if waited := time.Since(start); waited < 40*time.Millisecond {
		t.Fatalf("delayed task claimed after %v, before its delay elapsed", waited)
	}
}

func TestSQLiteQueue_DequeueHonorsContext(t *testing.T) {
	t.Parallel()

	q := newTestSQLiteQueue(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	if _, err := q.Dequeue(ctx); err == nil {
		t.Fatal("expected context error on empty queue")
	}
}
