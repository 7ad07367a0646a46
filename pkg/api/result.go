package api

import (
	"time"
)

// Status is the lifecycle state of a workflow execution.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusPaused    Status = "paused"
)

// StepStatus is the lifecycle state of a single step.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepSucceeded StepStatus = "succeeded"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// Terminal reports whether the step status is final.
func (s StepStatus) Terminal() bool {
	return s == StepSucceeded || s == StepFailed || s == StepSkipped
}

// ErrorDetail is the persisted form of a step error.
type ErrorDetail struct {
	Kind    StepErrorKind `json:"kind"`
	Message string        `json:"message"`
}

// StepResult records the outcome of one step attempt chain.
type StepResult struct {
	ID        string     `json:"id"`
	Status    StepStatus `json:"status"`
	StartedAt time.Time  `json:"startedAt,omitempty"`
	EndedAt   time.Time  `json:"endedAt,omitempty"`

	// Output is the raw payload produced by the executor. Bindings holds
	// only the declared output variables that were merged into context.
	Output   map[string]any `json:"outputs,omitempty"`
	Bindings map[string]any `json:"bindings,omitempty"`

	Error      *ErrorDetail `json:"error,omitempty"`
	Retries    int          `json:"retries"`
	TokensUsed int          `json:"tokensUsed,omitempty"`
}

// Duration returns the wall time the step spent between start and end.
func (r *StepResult) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.EndedAt.IsZero() {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}

// ExecutionResult is the terminal report of one workflow execution.
// Steps are ordered by completion layer, declaration order within a layer.
type ExecutionResult struct {
	WorkflowID  string `json:"workflowId"`
	ExecutionID string `json:"executionId"`
	Status      Status `json:"status"`

	Steps []StepResult `json:"steps"`

	// Variables is the final merged context snapshot.
	Variables map[string]any `json:"variables,omitempty"`

	// CheckpointID references the saved checkpoint when Status is paused.
	CheckpointID string `json:"checkpointId,omitempty"`

	TotalTokens int       `json:"totalTokens"`
	StartedAt   time.Time `json:"startedAt"`
	EndedAt     time.Time `json:"endedAt,omitempty"`

	Err error `json:"-"`
}

// StepResult returns the recorded result for a step ID, or nil.
// When a step was retried the single final result is returned.
func (r *ExecutionResult) StepResult(id string) *StepResult {
	for i := range r.Steps {
		if r.Steps[i].ID == id {
			return &r.Steps[i]
		}
	}
	return nil
}

// Checkpoint is the serialized state of a paused execution. Resume
// reconstructs the scheduler frontier from the completed set and the
// re-supplied workflow definition; Frontier is recorded for inspection.
type Checkpoint struct {
	ID          string `json:"id"`
	WorkflowID  string `json:"workflowId"`
	ExecutionID string `json:"executionId"`

	Variables map[string]any `json:"variables"`
	Completed []string       `json:"completed"`
	Frontier  []string       `json:"frontier,omitempty"`

	// StepResults preserves per-step progress made before the pause so a
	// resumed execution reports the full history.
	StepResults []StepResult `json:"stepResults,omitempty"`

	TokensUsed int       `json:"tokensUsed,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}
