// Package taskqueue holds the async submission queue consumed by the
// runner: callers enqueue execute/resume tasks and a background loop feeds
// them to the engine.
package taskqueue

import (
	"context"
	"time"
)

// TaskType identifies what the runner should do with a task.
type TaskType string

const (
	TaskTypeExecute TaskType = "execute"
	TaskTypeResume  TaskType = "resume"
)

// Task is one queued submission.
type Task struct {
	ID   string
	Type TaskType

	// WorkflowID names the definition to load from the workflow source.
	WorkflowID string

	// CheckpointID is set for resume tasks.
	CheckpointID string

	// Inputs are the caller-supplied workflow inputs for execute tasks.
	Inputs map[string]any

	EnqueuedAt time.Time

	// NotBefore is the earliest time this task is eligible for
	// processing. Zero means immediately.
	NotBefore time.Time

	// Attempts counts how many times the task has been claimed.
	Attempts int
}

// Queue is a simple async task queue.
type Queue interface {
	// Enqueue adds a task, respecting ctx for cancellation.
	Enqueue(ctx context.Context, t Task) error

	// Dequeue removes and returns the next eligible task, blocking until
	// one is available or ctx is cancelled.
	Dequeue(ctx context.Context) (*Task, error)

	// Len returns the approximate number of queued tasks.
	Len() int
}
