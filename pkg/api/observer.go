package api

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Observer receives callbacks from the engine for logging and metrics.
//
// The engine emits fire-and-forget: callbacks must be fast and non-blocking.
// Wrap a slow observer with NewAsyncObserver to buffer delivery.
type Observer interface {
	// OnWorkflowStart is called once per execution, before the first
	// layer is dispatched.
	OnWorkflowStart(ctx context.Context, res *ExecutionResult)

	// OnWorkflowEnd is called when the execution reaches a terminal
	// status (completed, failed, or paused).
	OnWorkflowEnd(ctx context.Context, res *ExecutionResult)

	// OnStepStart is called before a step's first attempt.
	OnStepStart(ctx context.Context, res *ExecutionResult, stepID string)

	// OnStepEnd is called after a step reaches a terminal status, for
	// successes, failures, and skips alike.
	OnStepEnd(ctx context.Context, res *ExecutionResult, step *StepResult)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnWorkflowStart(ctx context.Context, res *ExecutionResult)           {}
func (NoopObserver) OnWorkflowEnd(ctx context.Context, res *ExecutionResult)             {}
func (NoopObserver) OnStepStart(ctx context.Context, res *ExecutionResult, stepID string) {}
func (NoopObserver) OnStepEnd(ctx context.Context, res *ExecutionResult, step *StepResult) {
}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnWorkflowStart(ctx context.Context, res *ExecutionResult) {
	for _, o := range c.observers {
		o.OnWorkflowStart(ctx, res)
	}
}

func (c *CompositeObserver) OnWorkflowEnd(ctx context.Context, res *ExecutionResult) {
	for _, o := range c.observers {
		o.OnWorkflowEnd(ctx, res)
	}
}

func (c *CompositeObserver) OnStepStart(ctx context.Context, res *ExecutionResult, stepID string) {
	for _, o := range c.observers {
		o.OnStepStart(ctx, res, stepID)
	}
}

func (c *CompositeObserver) OnStepEnd(ctx context.Context, res *ExecutionResult, step *StepResult) {
	for _, o := range c.observers {
		o.OnStepEnd(ctx, res, step)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs workflow / step lifecycle
// events using the provided slog.Logger. If logger is nil, slog.Default()
// is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnWorkflowStart(ctx context.Context, res *ExecutionResult) {
	o.Logger.InfoContext(ctx, "workflow_start",
		slog.String("workflow", res.WorkflowID),
		slog.String("execution_id", res.ExecutionID),
	)
}

func (o *LoggingObserver) OnWorkflowEnd(ctx context.Context, res *ExecutionResult) {
	level := slog.LevelInfo
	if res.Status == StatusFailed {
		level = slog.LevelError
	}
	o.Logger.Log(ctx, level, "workflow_end",
		slog.String("workflow", res.WorkflowID),
		slog.String("execution_id", res.ExecutionID),
		slog.String("status", string(res.Status)),
		slog.Int("total_tokens", res.TotalTokens),
		slog.Any("error", res.Err),
	)
}

func (o *LoggingObserver) OnStepStart(ctx context.Context, res *ExecutionResult, stepID string) {
	o.Logger.DebugContext(ctx, "step_start",
		slog.String("workflow", res.WorkflowID),
		slog.String("execution_id", res.ExecutionID),
		slog.String("step", stepID),
	)
}

func (o *LoggingObserver) OnStepEnd(ctx context.Context, res *ExecutionResult, step *StepResult) {
	level := slog.LevelDebug
	if step.Status == StepFailed {
		level = slog.LevelError
	}
	attrs := []any{
		slog.String("workflow", res.WorkflowID),
		slog.String("execution_id", res.ExecutionID),
		slog.String("step", step.ID),
		slog.String("status", string(step.Status)),
		slog.Duration("duration", step.Duration()),
		slog.Int("retries", step.Retries),
		slog.Int("tokens", step.TokensUsed),
	}
	if step.Error != nil {
		attrs = append(attrs, slog.String("error", step.Error.Message))
	}
	o.Logger.Log(ctx, level, "step_end", attrs...)
}

// BasicMetrics collects simple counters and aggregate step durations.
// It implements Observer, and can be combined with LoggingObserver via
// NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	workflowsStarted   atomic.Int64
	workflowsCompleted atomic.Int64
	workflowsFailed    atomic.Int64
	workflowsPaused    atomic.Int64
	stepsCompleted     atomic.Int64
	tokensUsed         atomic.Int64
	totalStepDuration  atomic.Int64 // nanoseconds
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	WorkflowsStarted   int64
	WorkflowsCompleted int64
	WorkflowsFailed    int64
	WorkflowsPaused    int64
	InFlightWorkflows  int64

	StepsCompleted  int64
	TokensUsed      int64
	AvgStepDuration time.Duration
}

func (m *BasicMetrics) OnWorkflowStart(ctx context.Context, res *ExecutionResult) {
	m.workflowsStarted.Add(1)
}

func (m *BasicMetrics) OnWorkflowEnd(ctx context.Context, res *ExecutionResult) {
	switch res.Status {
	case StatusCompleted:
		m.workflowsCompleted.Add(1)
	case StatusFailed:
		m.workflowsFailed.Add(1)
	case StatusPaused:
		m.workflowsPaused.Add(1)
	}
}

func (m *BasicMetrics) OnStepEnd(ctx context.Context, res *ExecutionResult, step *StepResult) {
	m.tokensUsed.Add(int64(step.TokensUsed))
	// Only successful steps count toward the average duration.
	if step.Status == StepSucceeded {
		m.stepsCompleted.Add(1)
		m.totalStepDuration.Add(step.Duration().Nanoseconds())
	}
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	started := m.workflowsStarted.Load()
	completed := m.workflowsCompleted.Load()
	failed := m.workflowsFailed.Load()
	paused := m.workflowsPaused.Load()
	steps := m.stepsCompleted.Load()
	totalNs := m.totalStepDuration.Load()

	var avg time.Duration
	if steps > 0 {
		avg = time.Duration(totalNs / steps)
	}

	return BasicMetricsSnapshot{
		WorkflowsStarted:   started,
		WorkflowsCompleted: completed,
		WorkflowsFailed:    failed,
		WorkflowsPaused:    paused,
		InFlightWorkflows:  started - completed - failed - paused,
		StepsCompleted:     steps,
		TokensUsed:         m.tokensUsed.Load(),
		AvgStepDuration:    avg,
	}
}

// asyncEvent is a buffered observer delivery.
type asyncEvent struct {
	kind   int
	res    *ExecutionResult
	stepID string
	step   *StepResult
}

const (
	evWorkflowStart = iota
	evWorkflowEnd
	evStepStart
	evStepEnd
)

// AsyncObserver decouples event delivery from the engine's hot path by
// buffering events on a channel and forwarding them from a single
// goroutine. When the buffer is full events are dropped rather than
// blocking the scheduler.
type AsyncObserver struct {
	inner Observer
	ch    chan asyncEvent
	done  chan struct{}
}

// NewAsyncObserver wraps inner with a buffer of the given capacity
// (default 256). Call Close to flush and stop the delivery goroutine.
func NewAsyncObserver(inner Observer, capacity int) *AsyncObserver {
	if capacity <= 0 {
		capacity = 256
	}
	a := &AsyncObserver{
		inner: inner,
		ch:    make(chan asyncEvent, capacity),
		done:  make(chan struct{}),
	}
	go a.deliver()
	return a
}

func (a *AsyncObserver) deliver() {
	defer close(a.done)
	for ev := range a.ch {
		ctx := context.Background()
		switch ev.kind {
		case evWorkflowStart:
			a.inner.OnWorkflowStart(ctx, ev.res)
		case evWorkflowEnd:
			a.inner.OnWorkflowEnd(ctx, ev.res)
		case evStepStart:
			a.inner.OnStepStart(ctx, ev.res, ev.stepID)
		case evStepEnd:
			a.inner.OnStepEnd(ctx, ev.res, ev.step)
		}
	}
}

func (a *AsyncObserver) send(ev asyncEvent) {
	select {
	case a.ch <- ev:
	default:
		// Buffer full: drop rather than block the scheduler.
	}
}

func (a *AsyncObserver) OnWorkflowStart(ctx context.Context, res *ExecutionResult) {
	a.send(asyncEvent{kind: evWorkflowStart, res: res})
}

func (a *AsyncObserver) OnWorkflowEnd(ctx context.Context, res *ExecutionResult) {
	a.send(asyncEvent{kind: evWorkflowEnd, res: res})
}

func (a *AsyncObserver) OnStepStart(ctx context.Context, res *ExecutionResult, stepID string) {
	a.send(asyncEvent{kind: evStepStart, res: res, stepID: stepID})
}

func (a *AsyncObserver) OnStepEnd(ctx context.Context, res *ExecutionResult, step *StepResult) {
	a.send(asyncEvent{kind: evStepEnd, res: res, step: step})
}

// Close stops accepting events and waits for buffered ones to be delivered.
func (a *AsyncObserver) Close() {
	close(a.ch)
	<-a.done
}
