package orchestra

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AreteDriver/AI-Orchestra/internal/taskqueue"
)

// Runner executes workflow submissions asynchronously: Submit enqueues a
// task, background workers feed tasks to the engine, and Wait collects the
// result.
//
//	eng := orchestra.NewEngine(orchestra.EngineConfig{Invoker: inv, Source: src})
//	runner := orchestra.NewRunner(eng, nil)
//	runner.Start(ctx, 2)
//	defer runner.Stop()
//
//	taskID, _ := runner.Submit(ctx, "review", inputs)
//	res, err := runner.Wait(ctx, taskID)
//
// The default queue is in-memory; pass a SQLite-backed queue to survive
// restarts (pending tasks only, results are not persisted).
type Runner struct {
	eng    *Engine
	queue  taskqueue.Queue
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]chan submission
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// submission is a finished task's outcome.
type submission struct {
	res *ExecutionResult
	err error
}

// NewRunner creates a Runner over the given engine. A nil queue defaults to
// an in-memory one.
func NewRunner(eng *Engine, queue taskqueue.Queue) *Runner {
	if queue == nil {
		queue = taskqueue.NewInMemoryQueue(1024)
	}
	return &Runner{
		eng:     eng,
		queue:   queue,
		logger:  slog.Default(),
		pending: make(map[string]chan submission),
	}
}

// SubmissionQueue is the queue a Runner consumes.
type SubmissionQueue = taskqueue.Queue

// NewSQLiteSubmissionQueue returns a persistent submission queue backed by
// the given SQLite database, so pending tasks survive process restarts.
func NewSQLiteSubmissionQueue(db *sql.DB) (SubmissionQueue, error) {
	return taskqueue.NewSQLiteQueue(db)
}

// Start launches concurrency worker goroutines processing submissions until
// Stop is called. Calling Start on a running Runner returns an error.
func (r *Runner) Start(ctx context.Context, concurrency int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return errors.New("orchestra: runner already started")
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true

	r.wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func() {
			defer r.wg.Done()
			for {
				if err := r.processOne(ctx); err != nil {
					if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
						return
					}
					// A single bad task must not kill the loop.
					r.logger.Warn("runner_task_failed", slog.Any("error", err))
				}
			}
		}()
	}
	return nil
}

// Stop cancels the worker goroutines and waits for them to exit. In-flight
// executions observe the cancellation through their context.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	cancel := r.cancel
	r.running = false
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
}

// Submit enqueues a workflow execution and returns a task ID for Wait. The
// workflow is loaded from the engine's source when a worker picks the task
// up.
func (r *Runner) Submit(ctx context.Context, workflowID string, inputs map[string]any) (string, error) {
	return r.enqueue(ctx, taskqueue.Task{
		Type:       taskqueue.TaskTypeExecute,
		WorkflowID: workflowID,
		Inputs:     inputs,
	})
}

// SubmitResume enqueues resumption of a paused execution.
func (r *Runner) SubmitResume(ctx context.Context, workflowID, checkpointID string) (string, error) {
	return r.enqueue(ctx, taskqueue.Task{
		Type:         taskqueue.TaskTypeResume,
		WorkflowID:   workflowID,
		CheckpointID: checkpointID,
	})
}

func (r *Runner) enqueue(ctx context.Context, t taskqueue.Task) (string, error) {
	t.ID = uuid.NewString()
	t.EnqueuedAt = time.Now().UTC()

	r.mu.Lock()
	r.pending[t.ID] = make(chan submission, 1)
	r.mu.Unlock()

	if err := r.queue.Enqueue(ctx, t); err != nil {
		r.mu.Lock()
		delete(r.pending, t.ID)
		r.mu.Unlock()
		return "", err
	}
	return t.ID, nil
}

// Wait blocks until the task finishes or ctx is done. Waiting twice on the
// same task ID, or on an ID submitted by another process, returns an error.
func (r *Runner) Wait(ctx context.Context, taskID string) (*ExecutionResult, error) {
	r.mu.Lock()
	ch, ok := r.pending[taskID]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("orchestra: unknown task %q", taskID)
	}

	select {
	case sub := <-ch:
		r.mu.Lock()
		delete(r.pending, taskID)
		r.mu.Unlock()
		return sub.res, sub.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// processOne dequeues and runs a single task.
func (r *Runner) processOne(ctx context.Context) error {
	task, err := r.queue.Dequeue(ctx)
	if err != nil {
		return err
	}

	var res *ExecutionResult
	switch task.Type {
	case taskqueue.TaskTypeExecute:
		res, err = r.eng.Run(ctx, task.WorkflowID, task.Inputs)
	case taskqueue.TaskTypeResume:
		res, err = r.eng.ResumeByID(ctx, task.WorkflowID, task.CheckpointID)
	default:
		err = fmt.Errorf("unknown task type %q", task.Type)
	}

	r.mu.Lock()
	ch, ok := r.pending[task.ID]
	r.mu.Unlock()
	if ok {
		ch <- submission{res: res, err: err}
	}
	return err
}
