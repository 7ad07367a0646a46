package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AreteDriver/AI-Orchestra/internal/graph"
	"github.com/AreteDriver/AI-Orchestra/internal/vars"
	"github.com/AreteDriver/AI-Orchestra/pkg/api"
)

// handler executes a single step attempt. resolved holds the step params
// after template interpolation; snap is the context snapshot the layer was
// dispatched against.
type handler func(ctx context.Context, rn *run, step *api.StepDefinition, resolved, snap map[string]any) (*api.Outcome, error)

// run is the mutable state of one execution. The variable context and the
// completed set are touched only between layers, by the scheduling
// goroutine; the budget is the one field shared with in-flight steps.
type run struct {
	def  *api.WorkflowDefinition
	g    *graph.Graph
	vctx *vars.Context
	res  *api.ExecutionResult

	completed   map[string]struct{}
	budget      *tokenBudget
	resumedFrom string
}

// errBudgetExhausted aborts dispatch when reserving a step's estimated
// tokens would exceed the workflow budget. It is an engine-internal control
// error, surfaced to callers as WorkflowBudgetExceeded.
var errBudgetExhausted = errors.New("token budget exhausted")

// tokenBudget tracks reserved-plus-consumed tokens across concurrent steps.
// A zero limit disables enforcement but still accumulates usage.
type tokenBudget struct {
	limit int64
	used  atomic.Int64
}

func newTokenBudget(limit int) *tokenBudget {
	return &tokenBudget{limit: int64(limit)}
}

// reserve charges n tokens up front, refusing when it would cross the
// limit.
func (b *tokenBudget) reserve(n int) bool {
	if n < 0 {
		n = 0
	}
	next := b.used.Add(int64(n))
	if b.limit > 0 && next > b.limit {
		b.used.Add(-int64(n))
		return false
	}
	return true
}

// settle replaces a reservation with the actual usage once known.
func (b *tokenBudget) settle(reserved, actual int) {
	b.used.Add(int64(actual) - int64(reserved))
}

// charge records usage without a prior reservation.
func (b *tokenBudget) charge(n int) {
	b.used.Add(int64(n))
}

// scheduleResult is what one pass over a graph's layers produced.
type scheduleResult struct {
	// results holds terminal step results in layer order, declaration
	// order within a layer.
	results []api.StepResult

	// pausedAt names the checkpoint step that stopped dispatch, if any.
	pausedAt string

	// failure is the first abort-class step failure.
	failure *api.StepError

	budgetExceeded bool
}

// stepOutcome is runStep's report to the layer loop.
type stepOutcome struct {
	result api.StepResult

	// subs holds per-sub-step results of composite kinds; they are
	// recorded after the composite's own result. Token usage lives on
	// the subs, not the composite, so totals never double count.
	subs []api.StepResult

	paused  bool
	budget  bool
	stepErr *api.StepError
}

// scheduleGraph executes the graph layer by layer. Steps already in
// completed are skipped (resume); each layer runs against a single context
// snapshot and its successes merge back in declaration order, so a
// same-name output from a later-declared step wins deterministically.
//
// The function is reentrant: composite step kinds call it again on their
// sub-graphs with a child context.
func (e *Engine) scheduleGraph(ctx context.Context, rn *run, g *graph.Graph, vctx *vars.Context, completed map[string]struct{}, maxWorkers int, failFast bool) scheduleResult {
	var out scheduleResult
	condSkipped := make(map[string]struct{})
	sem := make(chan struct{}, maxWorkers)
	var failed atomic.Bool

	for _, layerIDs := range g.Layers {
		if ctx.Err() != nil {
			return out
		}

		var pending []*api.StepDefinition
		for _, id := range layerIDs {
			if _, done := completed[id]; done {
				continue
			}
			node := g.Nodes[id]
			if branchSkipped(node, condSkipped) || (failFast && failed.Load()) {
				out.results = append(out.results, skippedResult(id))
				completed[id] = struct{}{}
				if branchSkipped(node, condSkipped) {
					condSkipped[id] = struct{}{}
				}
				continue
			}
			pending = append(pending, node.Step)
		}
		if len(pending) == 0 {
			continue
		}

		// The semaphore is taken in declaration order here, not inside the
		// goroutines, so dispatch order is deterministic and a fail-fast
		// skip decision always sees every earlier-declared failure.
		snap := vctx.Snapshot()
		outcomes := make([]stepOutcome, len(pending))
		var wg sync.WaitGroup
		for i, step := range pending {
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				outcomes[i] = cancelledOutcome(step.ID, ctx.Err())
				continue
			}
			// A sibling failed while this step was queued on the
			// semaphore; in fail-fast groups it never runs.
			if failFast && failed.Load() {
				<-sem
				outcomes[i] = stepOutcome{result: skippedResult(step.ID)}
				continue
			}
			wg.Add(1)
			go func(i int, step *api.StepDefinition) {
				defer wg.Done()
				defer func() { <-sem }()
				outcomes[i] = e.runStep(ctx, rn, step, snap)
				if outcomes[i].result.Status == api.StepFailed {
					failed.Store(true)
				}
			}(i, step)
		}
		wg.Wait()

		// Merge and classify in declaration order after the whole layer
		// drained.
		for i, step := range pending {
			so := outcomes[i]
			out.results = append(out.results, so.result)
			out.results = append(out.results, so.subs...)

			switch {
			case so.budget:
				out.budgetExceeded = true

			case so.paused:
				completed[step.ID] = struct{}{}
				out.pausedAt = step.ID

			case so.result.Status == api.StepSucceeded:
				completed[step.ID] = struct{}{}
				vctx.Merge(so.result.Bindings)
				if step.Kind == api.KindCondition {
					markUnselected(step, so.result.Output, condSkipped)
				}

			case so.result.Status == api.StepFailed:
				if step.OnFailure == api.FailSkip {
					completed[step.ID] = struct{}{}
				} else if out.failure == nil {
					out.failure = so.stepErr
				}

			case so.result.Status == api.StepSkipped:
				completed[step.ID] = struct{}{}
			}
		}

		if out.budgetExceeded || out.pausedAt != "" || out.failure != nil {
			return out
		}
	}
	return out
}

// branchSkipped reports whether any dependency was skipped by a condition,
// which skips the node transitively.
func branchSkipped(node *graph.Node, condSkipped map[string]struct{}) bool {
	for _, dep := range node.Deps {
		if _, skipped := condSkipped[dep]; skipped {
			return true
		}
	}
	return false
}

// markUnselected records the condition branch that was not chosen.
func markUnselected(step *api.StepDefinition, output map[string]any, condSkipped map[string]struct{}) {
	selected, _ := output["selected"].(string)
	for _, branch := range []string{step.TrueStep, step.FalseStep} {
		if branch != "" && branch != selected {
			condSkipped[branch] = struct{}{}
		}
	}
}

// runStep drives one step through template resolution, the per-kind
// executor, and the retry loop, producing its terminal StepResult.
func (e *Engine) runStep(ctx context.Context, rn *run, step *api.StepDefinition, snap map[string]any) stepOutcome {
	sr := api.StepResult{
		ID:        step.ID,
		Status:    api.StepRunning,
		StartedAt: time.Now().UTC(),
	}
	e.observer.OnStepStart(ctx, rn.res, step.ID)

	finish := func(so stepOutcome) stepOutcome {
		so.result.EndedAt = time.Now().UTC()
		e.observer.OnStepEnd(ctx, rn.res, &so.result)
		return so
	}
	// Composite kinds report per-sub-step results even when the group
	// itself fails; the latest attempt's partials are what gets recorded.
	var subs []api.StepResult
	fail := func(stepErr *api.StepError) stepOutcome {
		sr.Status = api.StepFailed
		sr.Error = stepErr.Detail()
		e.logger.WarnContext(ctx, "step_failed",
			slog.String("workflow", rn.res.WorkflowID),
			slog.String("step", step.ID),
			slog.String("kind", string(stepErr.Kind)),
			slog.Int("retries", sr.Retries),
		)
		return finish(stepOutcome{result: sr, subs: subs, stepErr: stepErr})
	}

	resolved, err := vars.ResolveParams(step.Params, snap, step.AllowUnresolved)
	if err != nil {
		return fail(api.NewStepError(api.StepTemplateResolutionFailed, step.ID, err))
	}

	policy := retryPolicy(step)
	for attempt := 0; ; attempt++ {
		sr.Retries = attempt

		attemptCtx := ctx
		var cancel context.CancelFunc
		if step.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, step.Timeout.Std())
		}
		out, err := e.attempt(attemptCtx, rn, step, resolved, snap)
		deadline := attemptCtx.Err()
		if cancel != nil {
			cancel()
		}

		if err == nil {
			sr.Status = api.StepSucceeded
			if out != nil {
				sr.Output = out.Outputs
				sr.Bindings = bindOutputs(step, out)
				sr.TokensUsed = out.TokensUsed
			}
			var so stepOutcome
			so.result = sr
			if out != nil && len(out.SubResults) > 0 {
				so.subs = out.SubResults
				so.result.Output = withSubCount(sr.Output, len(out.SubResults))
			}
			return finish(so)
		}

		subs = nil
		if out != nil {
			subs = out.SubResults
		}

		if _, ok := api.IsPauseError(err); ok {
			sr.Status = api.StepSucceeded
			sr.Output = map[string]any{"checkpoint": step.ID}
			return finish(stepOutcome{result: sr, subs: subs, paused: true})
		}
		if errors.Is(err, errBudgetExhausted) {
			sr.Status = api.StepFailed
			sr.Error = &api.ErrorDetail{
				Kind:    api.StepToolInvocationFailed,
				Message: errBudgetExhausted.Error(),
			}
			return finish(stepOutcome{result: sr, subs: subs, budget: true})
		}

		stepErr := classify(ctx, deadline, step.ID, err)
		if stepErr.Kind == api.StepCancelled {
			return fail(stepErr)
		}

		throttled := api.IsRateLimited(err)
		if throttled && e.limiter != nil && step.Provider != "" {
			e.limiter.ReportThrottled(step.Provider)
		}
		if !retryAllowed(step, policy, throttled, attempt) {
			return fail(stepErr)
		}

		delay := backoffDelay(policy, attempt)
		e.logger.DebugContext(ctx, "step_retrying",
			slog.String("step", step.ID),
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", delay),
		)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fail(api.NewStepError(api.StepCancelled, step.ID, ctx.Err()))
		}
	}
}

// attempt dispatches to the registered executor for the step kind.
func (e *Engine) attempt(ctx context.Context, rn *run, step *api.StepDefinition, resolved, snap map[string]any) (*api.Outcome, error) {
	h, ok := e.handlers[step.Kind]
	if !ok {
		return nil, api.NewStepError(api.StepToolInvocationFailed, step.ID,
			errors.New("no executor registered for kind "+string(step.Kind)))
	}
	return h(ctx, rn, step, resolved, snap)
}

// bindOutputs picks the declared output variables out of the executor's
// outcome. A single declared output with no matching key binds the raw
// payload so simple tool steps need no output naming convention.
func bindOutputs(step *api.StepDefinition, out *api.Outcome) map[string]any {
	if len(step.Outputs) == 0 {
		return nil
	}
	bindings := make(map[string]any, len(step.Outputs))
	for _, name := range step.Outputs {
		if v, ok := out.Outputs[name]; ok {
			bindings[name] = v
		}
	}
	if len(bindings) == 0 && len(step.Outputs) == 1 && out.Raw != "" {
		bindings[step.Outputs[0]] = out.Raw
	}
	return bindings
}

// classify turns an executor error into a StepError, distinguishing the
// step's own deadline from cancellation of the whole execution.
func classify(ctx context.Context, attemptDeadline error, stepID string, err error) *api.StepError {
	var se *api.StepError
	if errors.As(err, &se) {
		return se
	}
	switch {
	case ctx.Err() != nil:
		return api.NewStepError(api.StepCancelled, stepID, err)
	case errors.Is(attemptDeadline, context.DeadlineExceeded):
		return api.NewStepError(api.StepTimeout, stepID, err)
	case api.IsRateLimited(err):
		return api.NewStepError(api.StepRateLimited, stepID, err)
	default:
		return api.NewStepError(api.StepToolInvocationFailed, stepID, err)
	}
}

// defaultRetry applies when a step declares on_failure: retry without an
// explicit policy.
var defaultRetry = api.RetryPolicy{
	MaxRetries:        2,
	InitialBackoff:    api.Duration(time.Second),
	BackoffMultiplier: 2,
	MaxBackoff:        api.Duration(30 * time.Second),
}

func retryPolicy(step *api.StepDefinition) *api.RetryPolicy {
	if step.Retry != nil {
		return step.Retry
	}
	if step.OnFailure == api.FailRetry {
		p := defaultRetry
		return &p
	}
	return nil
}

// retryAllowed implements the retry budget: retry-policy steps retry any
// failure, and provider throttling is retryable whenever the step carries
// an explicit retry policy, regardless of its failure policy.
func retryAllowed(step *api.StepDefinition, policy *api.RetryPolicy, throttled bool, attempt int) bool {
	if policy == nil {
		return false
	}
	if step.OnFailure == api.FailRetry {
		return attempt < policy.MaxRetries
	}
	return throttled && step.Retry != nil && attempt < policy.MaxRetries
}

// backoffDelay computes the exponential backoff before retry number
// attempt+1.
func backoffDelay(policy *api.RetryPolicy, attempt int) time.Duration {
	d := policy.InitialBackoff.Std()
	if d <= 0 {
		d = time.Second
	}
	mult := policy.BackoffMultiplier
	if mult <= 0 {
		mult = 2
	}
	max := policy.MaxBackoff.Std()
	for i := 0; i < attempt; i++ {
		d = time.Duration(float64(d) * mult)
		if max > 0 && d >= max {
			return max
		}
	}
	if max > 0 && d > max {
		d = max
	}
	return d
}

func skippedResult(id string) api.StepResult {
	now := time.Now().UTC()
	return api.StepResult{ID: id, Status: api.StepSkipped, StartedAt: now, EndedAt: now}
}

func cancelledOutcome(id string, cause error) stepOutcome {
	now := time.Now().UTC()
	stepErr := api.NewStepError(api.StepCancelled, id, cause)
	return stepOutcome{
		result: api.StepResult{
			ID:        id,
			Status:    api.StepFailed,
			StartedAt: now,
			EndedAt:   now,
			Error:     stepErr.Detail(),
		},
		stepErr: stepErr,
	}
}

// withSubCount annotates a composite step's output map with how many
// sub-results it produced, without mutating the executor's map.
func withSubCount(outputs map[string]any, n int) map[string]any {
	annotated := make(map[string]any, len(outputs)+1)
	for k, v := range outputs {
		annotated[k] = v
	}
	annotated["sub_steps"] = n
	return annotated
}
