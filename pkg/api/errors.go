package api

import (
	"errors"
	"fmt"
	"strings"
)

// GraphErrorKind classifies graph construction failures. Graph errors are
// fatal at build time and never occur at runtime.
type GraphErrorKind string

const (
	GraphCycleDetected     GraphErrorKind = "cycle_detected"
	GraphUnknownDependency GraphErrorKind = "unknown_dependency"
	GraphDuplicateID       GraphErrorKind = "duplicate_id"
	GraphInvalidStep       GraphErrorKind = "invalid_step"
)

// GraphError reports why a step list could not be turned into a DAG.
type GraphError struct {
	Kind   GraphErrorKind
	StepID string
	// Cycle holds the offending path for CycleDetected, in edge order,
	// with the first node repeated at the end.
	Cycle []string
}

func (e *GraphError) Error() string {
	switch e.Kind {
	case GraphCycleDetected:
		return "graph: cycle detected: " + strings.Join(e.Cycle, " -> ")
	case GraphUnknownDependency:
		return fmt.Sprintf("graph: step %q depends on unknown step", e.StepID)
	case GraphDuplicateID:
		return fmt.Sprintf("graph: duplicate step id %q", e.StepID)
	case GraphInvalidStep:
		return fmt.Sprintf("graph: invalid step %q", e.StepID)
	default:
		return "graph: invalid"
	}
}

// AsGraphError unwraps err into a *GraphError if possible.
func AsGraphError(err error) (*GraphError, bool) {
	var g *GraphError
	ok := errors.As(err, &g)
	return g, ok
}

// StepErrorKind classifies step-local failures. Step errors are absorbed by
// the step's failure policy and never crash the scheduler.
type StepErrorKind string

const (
	StepTimeout                  StepErrorKind = "timeout"
	StepToolInvocationFailed     StepErrorKind = "tool_invocation_failed"
	StepTemplateResolutionFailed StepErrorKind = "template_resolution_failed"
	StepRateLimited              StepErrorKind = "rate_limited"
	StepCancelled                StepErrorKind = "cancelled"
)

// StepError wraps a failure local to a single step.
type StepError struct {
	Kind   StepErrorKind
	StepID string
	Err    error
}

func (e *StepError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("step %s: %s: %v", e.StepID, e.Kind, e.Err)
	}
	return fmt.Sprintf("step %s: %s", e.StepID, e.Kind)
}

func (e *StepError) Unwrap() error { return e.Err }

// Detail converts the error into its persisted form.
func (e *StepError) Detail() *ErrorDetail {
	msg := string(e.Kind)
	if e.Err != nil {
		msg = e.Err.Error()
	}
	return &ErrorDetail{Kind: e.Kind, Message: msg}
}

// NewStepError builds a StepError for the given step.
func NewStepError(kind StepErrorKind, stepID string, err error) *StepError {
	return &StepError{Kind: kind, StepID: stepID, Err: err}
}

// ErrRateLimited is the sentinel an Invoker wraps (or returns) to signal a
// provider-side rate limit, so the engine can feed the rate limiter's
// adaptive throttle instead of treating the failure as fatal.
var ErrRateLimited = errors.New("rate limited by provider")

// IsRateLimited reports whether err carries a provider rate-limit signal.
func IsRateLimited(err error) bool {
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var s *StepError
	return errors.As(err, &s) && s.Kind == StepRateLimited
}

// WorkflowErrorKind classifies failures surfaced as the terminal status of
// a whole execution.
type WorkflowErrorKind string

const (
	WorkflowAbortedByPolicy       WorkflowErrorKind = "aborted_by_policy"
	WorkflowGlobalTimeoutExceeded WorkflowErrorKind = "global_timeout_exceeded"
	WorkflowBudgetExceeded        WorkflowErrorKind = "budget_exceeded"
	WorkflowCheckpointCorrupt     WorkflowErrorKind = "checkpoint_corrupt"
)

// WorkflowError is the terminal error of a failed execution.
type WorkflowError struct {
	Kind WorkflowErrorKind
	Err  error
}

func (e *WorkflowError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("workflow: %s: %v", e.Kind, e.Err)
	}
	return "workflow: " + string(e.Kind)
}

func (e *WorkflowError) Unwrap() error { return e.Err }

// AsWorkflowError unwraps err into a *WorkflowError if possible.
func AsWorkflowError(err error) (*WorkflowError, bool) {
	var w *WorkflowError
	ok := errors.As(err, &w)
	return w, ok
}

// pauseError is returned by the checkpoint executor to request that the
// scheduler stop dispatching and persist a checkpoint. It follows the same
// shape as an engine-internal control error: callers detect it with
// IsPauseError, they never match on the message.
type pauseError struct {
	StepID string
}

func (e *pauseError) Error() string {
	return "pause requested at step " + e.StepID
}

// NewPauseError is used by checkpoint-kind executors (including custom ones)
// to integrate with the engine's pause semantics.
func NewPauseError(stepID string) error {
	return &pauseError{StepID: stepID}
}

// IsPauseError returns (stepID, true) if err requests a checkpoint pause.
func IsPauseError(err error) (string, bool) {
	var p *pauseError
	if errors.As(err, &p) {
		return p.StepID, true
	}
	return "", false
}
