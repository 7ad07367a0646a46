package orchestra

import (
	"fmt"
	"time"

	"github.com/AreteDriver/AI-Orchestra/internal/graph"
	"github.com/AreteDriver/AI-Orchestra/pkg/api"
)

// WorkflowBuilder provides a fluent API for defining workflows in code:
//
//	def := orchestra.NewWorkflow("deploy").
//	    Shell("build", "make build").
//	    ToolCall("review", map[string]any{"prompt": "review ${build}"},
//	        orchestra.After("build"), orchestra.Outputs("verdict")).
//	    MustBuild()
//
// Build validates the step graph, so cycles and unknown dependencies fail
// at definition time rather than at execution.
type WorkflowBuilder struct {
	def api.WorkflowDefinition
}

// NewWorkflow creates a builder for a workflow with the given name.
func NewWorkflow(name string) *WorkflowBuilder {
	return &WorkflowBuilder{
		def: api.WorkflowDefinition{
			ID:    name,
			Name:  name,
			Steps: make([]api.StepDefinition, 0),
		},
	}
}

// StepOption customizes a step added through the builder.
type StepOption func(*api.StepDefinition)

// After declares dependencies on the given step IDs.
func After(ids ...string) StepOption {
	return func(s *api.StepDefinition) {
		s.DependsOn = append(s.DependsOn, ids...)
	}
}

// Outputs declares the variables the step binds into the context.
func Outputs(names ...string) StepOption {
	return func(s *api.StepDefinition) {
		s.Outputs = append(s.Outputs, names...)
	}
}

// WithProvider routes the step's external calls through the rate limiter
// under the given provider name.
func WithProvider(provider string) StepOption {
	return func(s *api.StepDefinition) {
		s.Provider = provider
	}
}

// WithRetry sets on_failure: retry with the given policy.
func WithRetry(policy RetryPolicy) StepOption {
	return func(s *api.StepDefinition) {
		p := policy
		s.OnFailure = api.FailRetry
		s.Retry = &p
	}
}

// OnFailure sets the step's failure policy.
func OnFailure(policy FailurePolicy) StepOption {
	return func(s *api.StepDefinition) {
		s.OnFailure = policy
	}
}

// WithTimeout bounds a single attempt of the step.
func WithTimeout(d time.Duration) StepOption {
	return func(s *api.StepDefinition) {
		s.Timeout = api.Duration(d)
	}
}

// WithEstimatedTokens sets the pre-dispatch token budget charge.
func WithEstimatedTokens(n int) StepOption {
	return func(s *api.StepDefinition) {
		s.EstimatedTokens = n
	}
}

// AllowUnresolved leaves unresolvable ${name} references verbatim instead
// of failing the step.
func AllowUnresolved() StepOption {
	return func(s *api.StepDefinition) {
		s.AllowUnresolved = true
	}
}

// WithReduce sets the reduce step for fan-in tool aggregation.
func WithReduce(reduce StepDefinition) StepOption {
	return func(s *api.StepDefinition) {
		r := reduce
		s.Reduce = &r
	}
}

// WithMaxConcurrent bounds concurrent template instances of a fan-out.
func WithMaxConcurrent(n int) StepOption {
	return func(s *api.StepDefinition) {
		s.MaxConcurrent = n
	}
}

// Input declares a workflow input.
func (b *WorkflowBuilder) Input(name string, required bool, defaultValue any) *WorkflowBuilder {
	if b.def.Inputs == nil {
		b.def.Inputs = make(map[string]api.InputSpec)
	}
	b.def.Inputs[name] = api.InputSpec{Required: required, Default: defaultValue}
	return b
}

// Var seeds an initial context variable.
func (b *WorkflowBuilder) Var(name string, value any) *WorkflowBuilder {
	if b.def.Variables == nil {
		b.def.Variables = make(map[string]any)
	}
	b.def.Variables[name] = value
	return b
}

// TokenBudget caps the total tokens an execution may consume.
func (b *WorkflowBuilder) TokenBudget(n int) *WorkflowBuilder {
	b.def.TokenBudget = n
	return b
}

// Timeout bounds the whole execution.
func (b *WorkflowBuilder) Timeout(d time.Duration) *WorkflowBuilder {
	b.def.Timeout = api.Duration(d)
	return b
}

func (b *WorkflowBuilder) add(step api.StepDefinition, opts []StepOption) *WorkflowBuilder {
	if step.ID == "" {
		panic("orchestra: step id must not be empty")
	}
	for _, opt := range opts {
		opt(&step)
	}
	b.def.Steps = append(b.def.Steps, step)
	return b
}

// Step appends a fully specified step.
func (b *WorkflowBuilder) Step(step StepDefinition, opts ...StepOption) *WorkflowBuilder {
	return b.add(step, opts)
}

// ToolCall appends a tool-call step with the given params.
func (b *WorkflowBuilder) ToolCall(id string, params map[string]any, opts ...StepOption) *WorkflowBuilder {
	return b.add(api.StepDefinition{
		ID:     id,
		Kind:   api.KindToolCall,
		Params: params,
	}, opts)
}

// Shell appends a shell step running the given command.
func (b *WorkflowBuilder) Shell(id, command string, opts ...StepOption) *WorkflowBuilder {
	return b.add(api.StepDefinition{
		ID:     id,
		Kind:   api.KindShell,
		Params: map[string]any{"command": command},
	}, opts)
}

// Condition appends a branching step: trueStep runs when the predicate
// holds, falseStep otherwise, and the unselected branch is skipped.
func (b *WorkflowBuilder) Condition(id string, pred Predicate, trueStep, falseStep string, opts ...StepOption) *WorkflowBuilder {
	p := pred
	return b.add(api.StepDefinition{
		ID:        id,
		Kind:      api.KindCondition,
		Predicate: &p,
		TrueStep:  trueStep,
		FalseStep: falseStep,
	}, opts)
}

// Parallel appends a group whose sub-steps form a nested graph executed
// concurrently.
func (b *WorkflowBuilder) Parallel(id string, subSteps []StepDefinition, opts ...StepOption) *WorkflowBuilder {
	return b.add(api.StepDefinition{
		ID:       id,
		Kind:     api.KindParallel,
		SubSteps: subSteps,
	}, opts)
}

// FanOut appends a step instantiating template once per item of the
// itemsVar sequence.
func (b *WorkflowBuilder) FanOut(id, itemsVar string, template StepDefinition, opts ...StepOption) *WorkflowBuilder {
	t := template
	return b.add(api.StepDefinition{
		ID:       id,
		Kind:     api.KindFanOut,
		ItemsVar: itemsVar,
		Template: &t,
	}, opts)
}

// FanIn appends a step aggregating the inputVar sequence with the given
// strategy ("concat" or "tool"; use WithReduce for the latter).
func (b *WorkflowBuilder) FanIn(id, inputVar, aggregate string, opts ...StepOption) *WorkflowBuilder {
	return b.add(api.StepDefinition{
		ID:        id,
		Kind:      api.KindFanIn,
		InputVar:  inputVar,
		Aggregate: aggregate,
	}, opts)
}

// MapReduce appends a fan-out over itemsVar followed by aggregation of the
// mapped values.
func (b *WorkflowBuilder) MapReduce(id, itemsVar string, template StepDefinition, aggregate string, opts ...StepOption) *WorkflowBuilder {
	t := template
	return b.add(api.StepDefinition{
		ID:        id,
		Kind:      api.KindMapReduce,
		ItemsVar:  itemsVar,
		Template:  &t,
		Aggregate: aggregate,
	}, opts)
}

// Checkpoint appends a step that pauses the execution and persists a
// checkpoint once its dependencies complete.
func (b *WorkflowBuilder) Checkpoint(id string, opts ...StepOption) *WorkflowBuilder {
	return b.add(api.StepDefinition{
		ID:   id,
		Kind: api.KindCheckpoint,
	}, opts)
}

// Definition returns the definition built so far, without validation.
func (b *WorkflowBuilder) Definition() *WorkflowDefinition {
	def := b.def
	return &def
}

// Build validates the step graph and returns the definition.
func (b *WorkflowBuilder) Build() (*WorkflowDefinition, error) {
	if _, err := graph.Build(b.def.Steps); err != nil {
		return nil, fmt.Errorf("workflow %q: %w", b.def.Name, err)
	}
	return b.Definition(), nil
}

// MustBuild is like Build but panics on error. Useful for definitions
// constructed at init time.
func (b *WorkflowBuilder) MustBuild() *WorkflowDefinition {
	def, err := b.Build()
	if err != nil {
		panic(err)
	}
	return def
}
