// Package engine is the execution scheduler: it turns a validated step
// graph into a concurrency-bounded execution, propagating variables
// between steps and enforcing failure policies, budgets, and timeouts.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/AreteDriver/AI-Orchestra/internal/checkpoint"
	"github.com/AreteDriver/AI-Orchestra/internal/graph"
	"github.com/AreteDriver/AI-Orchestra/internal/vars"
	"github.com/AreteDriver/AI-Orchestra/pkg/api"
)

// Config describes how to construct an Engine. Zero values get sensible
// defaults; only Invoker is required for workflows containing tool calls.
type Config struct {
	// Invoker performs external tool calls. Workflows without tool-call
	// steps run fine with a nil invoker.
	Invoker api.Invoker

	// RateLimiter gates external calls per provider. Nil disables
	// limiting.
	RateLimiter api.RateLimiter

	// Checkpoints stores pause/resume state. Nil defaults to the
	// in-memory store.
	Checkpoints api.CheckpointStore

	// Source resolves workflow IDs for Run. Optional.
	Source api.WorkflowSource

	// Observer receives lifecycle events. Nil defaults to NoopObserver.
	Observer api.Observer

	// Logger receives engine diagnostics. Nil defaults to slog.Default.
	Logger *slog.Logger

	// MaxWorkers bounds concurrently running steps per layer.
	// Zero means 4.
	MaxWorkers int

	// KeepCheckpoints retains the originating checkpoint after a
	// resumed execution completes.
	KeepCheckpoints bool
}

// Engine executes workflow definitions.
type Engine struct {
	invoker     api.Invoker
	limiter     api.RateLimiter
	checkpoints api.CheckpointStore
	source      api.WorkflowSource
	observer    api.Observer
	logger      *slog.Logger

	maxWorkers      int
	keepCheckpoints bool

	handlers map[api.StepKind]handler
}

// New creates an Engine from cfg.
func New(cfg Config) *Engine {
	e := &Engine{
		invoker:         cfg.Invoker,
		limiter:         cfg.RateLimiter,
		checkpoints:     cfg.Checkpoints,
		source:          cfg.Source,
		observer:        cfg.Observer,
		logger:          cfg.Logger,
		maxWorkers:      cfg.MaxWorkers,
		keepCheckpoints: cfg.KeepCheckpoints,
	}
	if e.checkpoints == nil {
		e.checkpoints = checkpoint.NewMemoryStore()
	}
	if e.observer == nil {
		e.observer = api.NoopObserver{}
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.maxWorkers <= 0 {
		e.maxWorkers = 4
	}
	e.handlers = map[api.StepKind]handler{
		api.KindToolCall:   e.execToolCall,
		api.KindShell:      e.execShell,
		api.KindCondition:  e.execCondition,
		api.KindParallel:   e.execParallel,
		api.KindFanOut:     e.execFanOut,
		api.KindFanIn:      e.execFanIn,
		api.KindMapReduce:  e.execMapReduce,
		api.KindCheckpoint: e.execCheckpoint,
	}
	return e
}

// RegisterHandler installs a custom executor for a step kind, replacing
// the built-in one if present.
func (e *Engine) RegisterHandler(kind api.StepKind, h func(ctx context.Context, step *api.StepDefinition, params map[string]any) (*api.Outcome, error)) {
	e.handlers[kind] = func(ctx context.Context, rn *run, step *api.StepDefinition, resolved, snap map[string]any) (*api.Outcome, error) {
		return h(ctx, step, resolved)
	}
}

// Run loads a workflow from the configured source and executes it.
func (e *Engine) Run(ctx context.Context, workflowID string, inputs map[string]any) (*api.ExecutionResult, error) {
	if e.source == nil {
		return nil, errors.New("engine: no workflow source configured")
	}
	def, err := e.source.Load(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("load workflow %s: %w", workflowID, err)
	}
	return e.Execute(ctx, def, inputs)
}

// ResumeByID loads a workflow from the configured source and resumes it
// from the given checkpoint.
func (e *Engine) ResumeByID(ctx context.Context, workflowID, checkpointID string) (*api.ExecutionResult, error) {
	if e.source == nil {
		return nil, errors.New("engine: no workflow source configured")
	}
	def, err := e.source.Load(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("load workflow %s: %w", workflowID, err)
	}
	return e.Resume(ctx, def, checkpointID)
}

// Execute runs def to a terminal status. Graph and input validation errors
// are returned before any step runs; step failures are absorbed into the
// ExecutionResult per each step's failure policy.
func (e *Engine) Execute(ctx context.Context, def *api.WorkflowDefinition, inputs map[string]any) (*api.ExecutionResult, error) {
	initial, err := seedVariables(def, inputs)
	if err != nil {
		return nil, err
	}

	g, err := graph.Build(def.Steps)
	if err != nil {
		return nil, err
	}

	res := &api.ExecutionResult{
		WorkflowID:  workflowID(def),
		ExecutionID: uuid.NewString(),
		Status:      api.StatusRunning,
		StartedAt:   time.Now().UTC(),
	}

	rn := &run{
		def:       def,
		g:         g,
		vctx:      vars.New(initial),
		res:       res,
		completed: make(map[string]struct{}),
		budget:    newTokenBudget(def.TokenBudget),
	}

	return e.drive(ctx, rn)
}

// Resume continues a paused execution from a stored checkpoint. The
// workflow definition is re-supplied by the caller; the frontier is
// recomputed from the checkpoint's completed set against the graph.
func (e *Engine) Resume(ctx context.Context, def *api.WorkflowDefinition, checkpointID string) (*api.ExecutionResult, error) {
	ckpt, err := e.checkpoints.Load(ctx, checkpointID)
	if err != nil {
		if _, corrupt := api.AsWorkflowError(err); corrupt {
			res := &api.ExecutionResult{
				WorkflowID: workflowID(def),
				Status:     api.StatusFailed,
				StartedAt:  time.Now().UTC(),
				EndedAt:    time.Now().UTC(),
				Err:        err,
			}
			return res, err
		}
		return nil, fmt.Errorf("load checkpoint %s: %w", checkpointID, err)
	}

	g, err := graph.Build(def.Steps)
	if err != nil {
		return nil, err
	}

	res := &api.ExecutionResult{
		WorkflowID:  workflowID(def),
		ExecutionID: ckpt.ExecutionID,
		Status:      api.StatusRunning,
		Steps:       append([]api.StepResult{}, ckpt.StepResults...),
		TotalTokens: ckpt.TokensUsed,
		StartedAt:   time.Now().UTC(),
	}

	completed := make(map[string]struct{}, len(ckpt.Completed))
	for _, id := range ckpt.Completed {
		completed[id] = struct{}{}
	}

	rn := &run{
		def:         def,
		g:           g,
		vctx:        vars.New(ckpt.Variables),
		res:         res,
		completed:   completed,
		budget:      newTokenBudget(def.TokenBudget),
		resumedFrom: checkpointID,
	}
	rn.budget.charge(ckpt.TokensUsed)

	return e.drive(ctx, rn)
}

// drive runs the scheduling loop to a terminal status and finalizes the
// execution result.
func (e *Engine) drive(ctx context.Context, rn *run) (*api.ExecutionResult, error) {
	res := rn.res

	if rn.def.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rn.def.Timeout.Std())
		defer cancel()
	}

	e.observer.OnWorkflowStart(ctx, res)

	sched := e.scheduleGraph(ctx, rn, rn.g, rn.vctx, rn.completed, e.maxWorkers, false)
	res.Steps = append(res.Steps, sched.results...)
	for i := range sched.results {
		res.TotalTokens += sched.results[i].TokensUsed
	}
	res.Variables = rn.vctx.Snapshot()
	res.EndedAt = time.Now().UTC()

	switch {
	case sched.pausedAt != "":
		id, err := e.saveCheckpoint(ctx, rn)
		if err != nil {
			res.Status = api.StatusFailed
			res.Err = err
			e.observer.OnWorkflowEnd(ctx, res)
			return res, err
		}
		res.Status = api.StatusPaused
		res.CheckpointID = id
		e.logger.InfoContext(ctx, "workflow_paused",
			slog.String("workflow", res.WorkflowID),
			slog.String("checkpoint_id", id),
		)

	case sched.budgetExceeded:
		res.Status = api.StatusFailed
		res.Err = &api.WorkflowError{
			Kind: api.WorkflowBudgetExceeded,
			Err:  fmt.Errorf("token budget %d exhausted", rn.def.TokenBudget),
		}

	case sched.failure != nil:
		res.Status = api.StatusFailed
		if ctx.Err() != nil && rn.def.Timeout > 0 {
			res.Err = &api.WorkflowError{Kind: api.WorkflowGlobalTimeoutExceeded, Err: ctx.Err()}
		} else {
			res.Err = &api.WorkflowError{Kind: api.WorkflowAbortedByPolicy, Err: sched.failure}
		}

	case ctx.Err() != nil:
		res.Status = api.StatusFailed
		if rn.def.Timeout > 0 && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			res.Err = &api.WorkflowError{Kind: api.WorkflowGlobalTimeoutExceeded, Err: ctx.Err()}
		} else {
			res.Err = ctx.Err()
		}

	default:
		res.Status = api.StatusCompleted
		if rn.resumedFrom != "" && !e.keepCheckpoints {
			if err := e.checkpoints.Delete(ctx, rn.resumedFrom); err != nil {
				e.logger.WarnContext(ctx, "checkpoint_delete_failed",
					slog.String("checkpoint_id", rn.resumedFrom),
					slog.Any("error", err),
				)
			}
		}
	}

	e.observer.OnWorkflowEnd(ctx, res)
	return res, nil
}

// saveCheckpoint snapshots the run for later resumption.
func (e *Engine) saveCheckpoint(ctx context.Context, rn *run) (string, error) {
	completed := make([]string, 0, len(rn.completed))
	for id := range rn.completed {
		completed = append(completed, id)
	}
	ckpt := &api.Checkpoint{
		WorkflowID:  rn.res.WorkflowID,
		ExecutionID: rn.res.ExecutionID,
		Variables:   rn.vctx.Snapshot(),
		Completed:   completed,
		Frontier:    rn.g.Frontier(rn.completed),
		StepResults: rn.res.Steps,
		TokensUsed:  rn.res.TotalTokens,
		CreatedAt:   time.Now().UTC(),
	}
	return e.checkpoints.Save(ctx, ckpt)
}

// seedVariables merges definition variables, declared input defaults, and
// caller inputs, enforcing required inputs.
func seedVariables(def *api.WorkflowDefinition, inputs map[string]any) (map[string]any, error) {
	initial := make(map[string]any, len(def.Variables)+len(inputs))
	for k, v := range def.Variables {
		initial[k] = v
	}
	for k, v := range inputs {
		initial[k] = v
	}
	for name, spec := range def.Inputs {
		if _, bound := initial[name]; bound {
			continue
		}
		if spec.Default != nil {
			initial[name] = spec.Default
			continue
		}
		if spec.Required {
			return nil, fmt.Errorf("missing required input: %s", name)
		}
	}
	return initial, nil
}

func workflowID(def *api.WorkflowDefinition) string {
	if def.ID != "" {
		return def.ID
	}
	return def.Name
}
