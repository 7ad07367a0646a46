package api

import (
	"context"
)

// Outcome is what an executor hands back to the scheduler after a step
// attempt succeeds.
type Outcome struct {
	// Outputs holds named values; declared step outputs are looked up here
	// and merged into the workflow context.
	Outputs map[string]any

	// Raw is the unprocessed payload (tool response body, shell stdout).
	Raw string

	// TokensUsed is charged against the workflow token budget.
	TokensUsed int

	// SubResults carries per-sub-step results for composite kinds
	// (parallel, fan-out, map-reduce); empty for leaf kinds.
	SubResults []StepResult
}

// Invoker is the step-executor capability: it performs the actual external
// work for tool-call (and optionally shell) steps. Implementations must be
// safe for concurrent use and must respect ctx, which carries the per-step
// timeout as a deadline. A provider-side rate-limit response must be
// surfaced by wrapping ErrRateLimited so the engine can adapt the limiter
// instead of failing the step outright.
type Invoker interface {
	Invoke(ctx context.Context, kind StepKind, params map[string]any) (*Outcome, error)
}

// InvokerFunc adapts a function to the Invoker interface.
type InvokerFunc func(ctx context.Context, kind StepKind, params map[string]any) (*Outcome, error)

func (f InvokerFunc) Invoke(ctx context.Context, kind StepKind, params map[string]any) (*Outcome, error) {
	return f(ctx, kind, params)
}

// WorkflowSource loads workflow definitions by ID. It is read-only to the
// engine; definition persistence lives behind this seam.
type WorkflowSource interface {
	Load(ctx context.Context, workflowID string) (*WorkflowDefinition, error)
}

// CheckpointStore persists checkpoints of paused executions.
type CheckpointStore interface {
	// Save stores the checkpoint and returns its ID. When ckpt.ID is
	// empty the store assigns one.
	Save(ctx context.Context, ckpt *Checkpoint) (string, error)
	Load(ctx context.Context, id string) (*Checkpoint, error)
	Delete(ctx context.Context, id string) error
}

// Permit is a held rate-limiter slot. Release returns it; Release is
// idempotent.
type Permit interface {
	Release()
}

// RateLimiter bounds concurrent in-flight calls per provider and adapts to
// provider backpressure. The engine treats it as opaque: Acquire before an
// external call, Release after, ReportThrottled when the provider signalled
// a rate limit. Implementations may be shared across executions and, with a
// distributed counter backend, across processes.
type RateLimiter interface {
	Acquire(ctx context.Context, provider string) (Permit, error)
	ReportThrottled(provider string)
}
