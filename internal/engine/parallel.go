package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/AreteDriver/AI-Orchestra/internal/graph"
	"github.com/AreteDriver/AI-Orchestra/internal/vars"
	"github.com/AreteDriver/AI-Orchestra/pkg/api"
)

// execParallel runs the group's sub-steps as a nested graph over a child
// context seeded from the layer snapshot. Sub-step outputs merge into the
// child context only; the group exposes its declared outputs from there.
func (e *Engine) execParallel(ctx context.Context, rn *run, step *api.StepDefinition, resolved, snap map[string]any) (*api.Outcome, error) {
	if len(step.SubSteps) == 0 {
		return nil, api.NewStepError(api.StepToolInvocationFailed, step.ID,
			errors.New("parallel step requires sub-steps"))
	}
	sub, err := graph.Build(step.SubSteps)
	if err != nil {
		return nil, api.NewStepError(api.StepToolInvocationFailed, step.ID, err)
	}

	workers := step.MaxWorkers
	if workers <= 0 {
		workers = e.maxWorkers
	}
	failFast := step.FailFast || step.Strategy == "fail_fast"

	// The group gets its own semaphore rather than sharing the engine's:
	// a sub-step waiting behind its own group's slot must never deadlock
	// against top-level steps.
	childCtx := vars.New(snap)
	sched := e.scheduleGraph(ctx, rn, sub, childCtx, make(map[string]struct{}), workers, failFast)
	subs := prefixResults(step.ID, sched.results)

	// Sub-step results ride along even when the group fails, so the
	// execution report still shows which sibling failed and which were
	// skipped by fail-fast.
	switch {
	case sched.budgetExceeded:
		return &api.Outcome{SubResults: subs}, errBudgetExhausted
	case sched.pausedAt != "":
		return &api.Outcome{SubResults: subs}, api.NewStepError(api.StepToolInvocationFailed, step.ID,
			errors.New("checkpoint inside a parallel group is not supported"))
	case sched.failure != nil:
		return &api.Outcome{SubResults: subs}, api.NewStepError(sched.failure.Kind, step.ID, sched.failure)
	}

	outs := make(map[string]any, len(step.Outputs))
	csnap := childCtx.Snapshot()
	for _, name := range step.Outputs {
		if v, ok := csnap[name]; ok {
			outs[name] = v
		}
	}
	return &api.Outcome{Outputs: outs, SubResults: subs}, nil
}

// execFanOut instantiates the template once per item of the items_var
// sequence and runs the instances concurrently, bounded by max_concurrent.
// The collected item values keep input order regardless of completion
// order.
func (e *Engine) execFanOut(ctx context.Context, rn *run, step *api.StepDefinition, resolved, snap map[string]any) (*api.Outcome, error) {
	if step.Template == nil {
		return nil, api.NewStepError(api.StepToolInvocationFailed, step.ID,
			errors.New("fan-out step requires a template"))
	}
	items, err := itemsFrom(snap, step.ItemsVar, step.ID)
	if err != nil {
		return nil, err
	}

	itemVar := step.ItemVar
	if itemVar == "" {
		itemVar = "item"
	}
	limit := step.MaxConcurrent
	if limit <= 0 {
		limit = e.maxWorkers
	}
	failFast := step.FailFast || step.Strategy == "fail_fast"

	// Dispatch takes the semaphore in item order before spawning, so
	// fail-fast sees every earlier item's failure before later items
	// start.
	sem := make(chan struct{}, limit)
	outcomes := make([]stepOutcome, len(items))
	var failed atomic.Bool
	var wg sync.WaitGroup
	for i, item := range items {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			outcomes[i] = cancelledOutcome(instanceID(step.ID, i), ctx.Err())
			continue
		}
		if failFast && failed.Load() {
			<-sem
			outcomes[i] = stepOutcome{result: skippedResult(instanceID(step.ID, i))}
			continue
		}
		wg.Add(1)
		go func(i int, item any) {
			defer wg.Done()
			defer func() { <-sem }()

			inst := *step.Template
			inst.ID = instanceID(step.ID, i)
			childSnap := make(map[string]any, len(snap)+2)
			for k, v := range snap {
				childSnap[k] = v
			}
			childSnap[itemVar] = item
			childSnap["index"] = i
			outcomes[i] = e.runStep(ctx, rn, &inst, childSnap)
			if outcomes[i].result.Status == api.StepFailed {
				failed.Store(true)
			}
		}(i, item)
	}
	wg.Wait()

	var subs []api.StepResult
	values := make([]any, 0, len(items))
	var firstErr *api.StepError
	budget := false
	for i := range outcomes {
		so := outcomes[i]
		subs = append(subs, so.result)
		subs = append(subs, so.subs...)
		switch {
		case so.budget:
			budget = true
		case so.result.Status == api.StepSucceeded:
			values = append(values, itemValue(step.Template, &so.result))
		case so.result.Status == api.StepFailed:
			// Items inherit the template's failure policy: skip drops
			// the item from the collected sequence.
			if step.Template.OnFailure != api.FailSkip && firstErr == nil {
				firstErr = so.stepErr
			}
		}
	}
	if budget {
		return &api.Outcome{SubResults: subs}, errBudgetExhausted
	}
	if firstErr != nil {
		return &api.Outcome{SubResults: subs}, api.NewStepError(firstErr.Kind, step.ID, firstErr)
	}

	outName := "results"
	if len(step.Outputs) > 0 {
		outName = step.Outputs[0]
	}
	return &api.Outcome{
		Outputs:    map[string]any{outName: values},
		SubResults: subs,
	}, nil
}

// execFanIn aggregates the input_var sequence. The concat strategy joins
// strings (newline-separated) or flattens one nesting level of mixed
// sequences; the tool strategy delegates to the reduce step with the whole
// sequence serialized into its params.
func (e *Engine) execFanIn(ctx context.Context, rn *run, step *api.StepDefinition, resolved, snap map[string]any) (*api.Outcome, error) {
	items, err := itemsFrom(snap, step.InputVar, step.ID)
	if err != nil {
		return nil, err
	}

	outName := "result"
	if len(step.Outputs) > 0 {
		outName = step.Outputs[0]
	}

	aggregate := step.Aggregate
	if aggregate == "" {
		aggregate = "concat"
	}
	switch aggregate {
	case "concat":
		if joined, ok := joinStrings(items); ok {
			return &api.Outcome{
				Outputs: map[string]any{outName: joined},
				Raw:     joined,
			}, nil
		}
		return &api.Outcome{
			Outputs: map[string]any{outName: flatten(items)},
		}, nil

	case "tool":
		if step.Reduce == nil {
			return nil, api.NewStepError(api.StepToolInvocationFailed, step.ID,
				errors.New("fan-in tool aggregation requires a reduce step"))
		}
		reduce := *step.Reduce
		if reduce.ID == "" {
			reduce.ID = step.ID + ".reduce"
		}
		if reduce.Kind == "" {
			reduce.Kind = api.KindToolCall
		}
		params, err := vars.ResolveParams(reduce.Params, snap, reduce.AllowUnresolved)
		if err != nil {
			return nil, api.NewStepError(api.StepTemplateResolutionFailed, step.ID, err)
		}
		serialized, err := json.Marshal(items)
		if err != nil {
			return nil, api.NewStepError(api.StepToolInvocationFailed, step.ID, err)
		}
		if params == nil {
			params = make(map[string]any, 1)
		}
		params["items"] = string(serialized)
		return e.invokeWithLimit(ctx, rn, &reduce, params)

	default:
		return nil, api.NewStepError(api.StepToolInvocationFailed, step.ID,
			fmt.Errorf("unknown aggregate strategy %q", aggregate))
	}
}

// execMapReduce is fan-out followed by fan-in over the mapped sequence.
func (e *Engine) execMapReduce(ctx context.Context, rn *run, step *api.StepDefinition, resolved, snap map[string]any) (*api.Outcome, error) {
	mapStep := *step
	mapStep.Kind = api.KindFanOut
	mapStep.Outputs = []string{"mapped"}
	mapOut, err := e.execFanOut(ctx, rn, &mapStep, resolved, snap)
	if err != nil {
		return mapOut, err
	}

	reduceSnap := make(map[string]any, len(snap)+1)
	for k, v := range snap {
		reduceSnap[k] = v
	}
	reduceSnap["mapped"] = mapOut.Outputs["mapped"]

	reduceStep := *step
	reduceStep.Kind = api.KindFanIn
	reduceStep.InputVar = "mapped"
	redOut, err := e.execFanIn(ctx, rn, &reduceStep, resolved, reduceSnap)
	if err != nil {
		return &api.Outcome{SubResults: mapOut.SubResults}, err
	}
	redOut.SubResults = append(mapOut.SubResults, redOut.SubResults...)
	return redOut, nil
}

// itemsFrom resolves a context variable into a generic sequence.
func itemsFrom(snap map[string]any, name, stepID string) ([]any, error) {
	if name == "" {
		return nil, api.NewStepError(api.StepToolInvocationFailed, stepID,
			errors.New("missing items variable name"))
	}
	v, ok := snap[name]
	if !ok {
		return nil, api.NewStepError(api.StepTemplateResolutionFailed, stepID,
			&vars.UnresolvedError{Names: []string{name}})
	}
	if items, ok := v.([]any); ok {
		return items, nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, api.NewStepError(api.StepToolInvocationFailed, stepID,
			fmt.Errorf("variable %q is %T, not a sequence", name, v))
	}
	items := make([]any, rv.Len())
	for i := range items {
		items[i] = rv.Index(i).Interface()
	}
	return items, nil
}

// itemValue extracts the per-item value collected by fan-out: the single
// declared template output when there is one, the bindings map otherwise.
func itemValue(tmpl *api.StepDefinition, sr *api.StepResult) any {
	if len(tmpl.Outputs) == 1 {
		if v, ok := sr.Bindings[tmpl.Outputs[0]]; ok {
			return v
		}
	}
	if len(sr.Bindings) > 0 {
		return sr.Bindings
	}
	if len(sr.Output) > 0 {
		return sr.Output
	}
	return nil
}

// joinStrings joins a homogeneous string sequence with newlines.
func joinStrings(items []any) (string, bool) {
	parts := make([]string, len(items))
	for i, item := range items {
		s, ok := item.(string)
		if !ok {
			return "", false
		}
		parts[i] = s
	}
	return strings.Join(parts, "\n"), true
}

// flatten splices one nesting level so fan-in over fan-out outputs yields a
// flat sequence.
func flatten(items []any) []any {
	out := make([]any, 0, len(items))
	for _, item := range items {
		if nested, ok := item.([]any); ok {
			out = append(out, nested...)
			continue
		}
		out = append(out, item)
	}
	return out
}

func instanceID(stepID string, i int) string {
	return fmt.Sprintf("%s[%d]", stepID, i)
}

// prefixResults namespaces nested results under the group's ID so they stay
// unambiguous in the flat execution report.
func prefixResults(groupID string, results []api.StepResult) []api.StepResult {
	out := make([]api.StepResult, len(results))
	for i, r := range results {
		r.ID = groupID + "." + r.ID
		out[i] = r
	}
	return out
}
