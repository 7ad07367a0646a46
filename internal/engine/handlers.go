package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"reflect"
	"strconv"
	"strings"

	"github.com/AreteDriver/AI-Orchestra/pkg/api"
)

// invokeWithLimit is the single path for external tool invocations: it
// reserves the step's estimated tokens, takes a rate-limiter permit for the
// step's provider, invokes, and settles the budget with actual usage.
func (e *Engine) invokeWithLimit(ctx context.Context, rn *run, step *api.StepDefinition, params map[string]any) (*api.Outcome, error) {
	if e.invoker == nil {
		return nil, api.NewStepError(api.StepToolInvocationFailed, step.ID,
			errors.New("no invoker configured"))
	}
	if !rn.budget.reserve(step.EstimatedTokens) {
		return nil, errBudgetExhausted
	}
	est := step.EstimatedTokens

	if e.limiter != nil && step.Provider != "" {
		permit, err := e.limiter.Acquire(ctx, step.Provider)
		if err != nil {
			rn.budget.settle(est, 0)
			return nil, err
		}
		defer permit.Release()
	}

	out, err := e.invoker.Invoke(ctx, step.Kind, params)
	if err != nil {
		rn.budget.settle(est, 0)
		return nil, err
	}
	rn.budget.settle(est, out.TokensUsed)
	return out, nil
}

func (e *Engine) execToolCall(ctx context.Context, rn *run, step *api.StepDefinition, resolved, snap map[string]any) (*api.Outcome, error) {
	return e.invokeWithLimit(ctx, rn, step, resolved)
}

// execShell runs params["command"] through the system shell. The command
// string has already been interpolated against the context snapshot.
func (e *Engine) execShell(ctx context.Context, rn *run, step *api.StepDefinition, resolved, snap map[string]any) (*api.Outcome, error) {
	command, _ := resolved["command"].(string)
	if command == "" {
		return nil, api.NewStepError(api.StepToolInvocationFailed, step.ID,
			errors.New("shell step requires a command param"))
	}

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)
	if dir, ok := resolved["dir"].(string); ok {
		cmd.Dir = dir
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	exitCode := 0
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, api.NewStepError(api.StepToolInvocationFailed, step.ID, runErr)
		}
	}

	out := &api.Outcome{
		Outputs: map[string]any{
			"stdout":    strings.TrimRight(stdout.String(), "\n"),
			"stderr":    strings.TrimRight(stderr.String(), "\n"),
			"exit_code": exitCode,
		},
		Raw: stdout.String(),
	}
	if exitCode != 0 {
		allowFailure, _ := resolved["allow_failure"].(bool)
		if !allowFailure {
			return nil, api.NewStepError(api.StepToolInvocationFailed, step.ID,
				fmt.Errorf("command exited with code %d: %s", exitCode, strings.TrimSpace(stderr.String())))
		}
	}
	return out, nil
}

// execCheckpoint asks the scheduler to persist state and stop dispatching.
func (e *Engine) execCheckpoint(ctx context.Context, rn *run, step *api.StepDefinition, resolved, snap map[string]any) (*api.Outcome, error) {
	return nil, api.NewPauseError(step.ID)
}

// execCondition evaluates the predicate against the context snapshot and
// reports which branch was selected; the scheduler skips the other branch
// and its dependents.
func (e *Engine) execCondition(ctx context.Context, rn *run, step *api.StepDefinition, resolved, snap map[string]any) (*api.Outcome, error) {
	if step.Predicate == nil {
		return nil, api.NewStepError(api.StepToolInvocationFailed, step.ID,
			errors.New("condition step requires a predicate"))
	}
	verdict, err := evalPredicate(step.Predicate, snap)
	if err != nil {
		return nil, api.NewStepError(api.StepToolInvocationFailed, step.ID, err)
	}

	selected := step.FalseStep
	if verdict {
		selected = step.TrueStep
	}
	return &api.Outcome{
		Outputs: map[string]any{
			"result":   verdict,
			"selected": selected,
		},
	}, nil
}

// evalPredicate compares the bound value of the predicate field against the
// predicate value. An unbound field is not an error: every comparison
// against an absent value is false except not_equals.
func evalPredicate(p *api.Predicate, snap map[string]any) (bool, error) {
	bound, ok := snap[p.Field]
	if !ok {
		return p.Operator == api.OpNotEquals, nil
	}

	switch p.Operator {
	case api.OpEquals:
		return looseEqual(bound, p.Value), nil
	case api.OpNotEquals:
		return !looseEqual(bound, p.Value), nil
	case api.OpContains:
		return contains(bound, p.Value), nil
	case api.OpGreaterThan, api.OpLessThan:
		a, aok := toFloat(bound)
		b, bok := toFloat(p.Value)
		if !aok || !bok {
			return false, fmt.Errorf("operator %s requires numeric operands, got %T and %T",
				p.Operator, bound, p.Value)
		}
		if p.Operator == api.OpGreaterThan {
			return a > b, nil
		}
		return a < b, nil
	default:
		return false, fmt.Errorf("unknown operator %q", p.Operator)
	}
}

// looseEqual compares across the numeric types that JSON and YAML decoding
// produce, falling back to deep equality.
func looseEqual(a, b any) bool {
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			return af == bf
		}
	}
	return reflect.DeepEqual(a, b)
}

// contains checks substring membership for strings and element membership
// for sequences.
func contains(haystack, needle any) bool {
	switch h := haystack.(type) {
	case string:
		return strings.Contains(h, stringifyValue(needle))
	case []any:
		for _, item := range h {
			if looseEqual(item, needle) {
				return true
			}
		}
	case []string:
		n := stringifyValue(needle)
		for _, item := range h {
			if item == n {
				return true
			}
		}
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func stringifyValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
