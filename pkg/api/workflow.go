package api

// StepKind identifies the executor responsible for a step.
type StepKind string

const (
	KindToolCall   StepKind = "tool_call"
	KindShell      StepKind = "shell"
	KindCondition  StepKind = "condition"
	KindParallel   StepKind = "parallel"
	KindFanOut     StepKind = "fan_out"
	KindFanIn      StepKind = "fan_in"
	KindMapReduce  StepKind = "map_reduce"
	KindCheckpoint StepKind = "checkpoint"
)

// FailurePolicy controls how the scheduler reacts when a step fails.
type FailurePolicy string

const (
	// FailAbort halts the workflow after the current layer drains.
	// This is the default when no policy is declared.
	FailAbort FailurePolicy = "abort"

	// FailSkip records the failure but lets dependents proceed.
	FailSkip FailurePolicy = "skip"

	// FailRetry re-runs the step with backoff before escalating to abort.
	FailRetry FailurePolicy = "retry"
)

// RetryPolicy controls how a step is retried when it returns an error.
// MaxRetries counts retries only, not the initial attempt:
//
//	MaxRetries = 0 => just the initial call
//	MaxRetries = 2 => initial call + up to 2 retries
//
// InitialBackoff is the delay before the first retry; each subsequent
// retry multiplies the delay by BackoffMultiplier (default 2.0), capped
// by MaxBackoff when set.
type RetryPolicy struct {
	MaxRetries        int      `yaml:"max_retries" json:"maxRetries"`
	InitialBackoff    Duration `yaml:"initial_backoff" json:"initialBackoff"`
	BackoffMultiplier float64  `yaml:"backoff_multiplier" json:"backoffMultiplier"`
	MaxBackoff        Duration `yaml:"max_backoff" json:"maxBackoff"`
}

// Operator is a comparison used by Condition predicates.
type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpContains    Operator = "contains"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
)

// Predicate is the field/operator/value triple evaluated by Condition steps
// against the current variable context.
type Predicate struct {
	Field    string   `yaml:"field" json:"field"`
	Operator Operator `yaml:"operator" json:"operator"`
	Value    any      `yaml:"value" json:"value"`
}

// StepDefinition describes a single unit of work. Kind selects the executor;
// the remaining fields are interpreted per kind. Unused fields are ignored.
type StepDefinition struct {
	ID   string   `yaml:"id" json:"id"`
	Kind StepKind `yaml:"kind" json:"kind"`

	// DependsOn lists step IDs that must reach a terminal status before
	// this step may start. NextStep is the implicit successor link: the
	// named step gains a dependency on this one.
	DependsOn []string `yaml:"depends_on" json:"dependsOn,omitempty"`
	NextStep  string   `yaml:"next_step" json:"nextStep,omitempty"`

	// Params are kind-specific parameters. String values may reference
	// context variables as ${name} or {{name}}; an unresolved reference
	// fails the step unless AllowUnresolved is set.
	Params          map[string]any `yaml:"params" json:"params,omitempty"`
	AllowUnresolved bool           `yaml:"allow_unresolved" json:"allowUnresolved,omitempty"`

	// Provider names the external provider consulted through the rate
	// limiter before tool invocations. Empty means unlimited.
	Provider string `yaml:"provider" json:"provider,omitempty"`

	OnFailure FailurePolicy `yaml:"on_failure" json:"onFailure,omitempty"`
	Retry     *RetryPolicy  `yaml:"retry" json:"retry,omitempty"`
	Timeout   Duration      `yaml:"timeout" json:"timeout,omitempty"`

	// Outputs are the variable names this step declares; after success
	// the matching entries of the executor's outputs are merged into the
	// workflow context.
	Outputs []string `yaml:"outputs" json:"outputs,omitempty"`

	// EstimatedTokens is charged against the workflow token budget before
	// dispatch; actual usage reported by the invoker replaces it after.
	EstimatedTokens int `yaml:"estimated_tokens" json:"estimatedTokens,omitempty"`

	// Parallel: explicit sub-steps forming a nested graph.
	SubSteps   []StepDefinition `yaml:"steps" json:"steps,omitempty"`
	MaxWorkers int              `yaml:"max_workers" json:"maxWorkers,omitempty"`
	FailFast   bool             `yaml:"fail_fast" json:"failFast,omitempty"`
	Strategy   string           `yaml:"strategy" json:"strategy,omitempty"`

	// FanOut / MapReduce map phase: ItemsVar names a context variable
	// holding a sequence; Template is instantiated once per item with the
	// item bound to ItemVar (default "item") in a child context.
	ItemsVar      string          `yaml:"items_var" json:"itemsVar,omitempty"`
	ItemVar       string          `yaml:"item_var" json:"itemVar,omitempty"`
	Template      *StepDefinition `yaml:"template" json:"template,omitempty"`
	MaxConcurrent int             `yaml:"max_concurrent" json:"maxConcurrent,omitempty"`

	// FanIn / MapReduce reduce phase: InputVar names the sequence to
	// aggregate; Aggregate selects "concat" or "tool"; Reduce is the
	// tool-call step used when Aggregate is "tool".
	InputVar  string          `yaml:"input_var" json:"inputVar,omitempty"`
	Aggregate string          `yaml:"aggregate" json:"aggregate,omitempty"`
	Reduce    *StepDefinition `yaml:"reduce" json:"reduce,omitempty"`

	// Condition: the predicate selects TrueStep or FalseStep as the sole
	// successor; the unselected branch and its dependents are skipped.
	Predicate *Predicate `yaml:"predicate" json:"predicate,omitempty"`
	TrueStep  string     `yaml:"true_step" json:"trueStep,omitempty"`
	FalseStep string     `yaml:"false_step" json:"falseStep,omitempty"`
}

// InputSpec declares a workflow input. Required inputs without a value and
// without a default fail execution before any step runs.
type InputSpec struct {
	Required bool `yaml:"required" json:"required"`
	Default  any  `yaml:"default" json:"default,omitempty"`
}

// WorkflowDefinition is an immutable description of a workflow.
// Step IDs must be unique within a workflow.
type WorkflowDefinition struct {
	ID        string               `yaml:"id" json:"id"`
	Name      string               `yaml:"name" json:"name"`
	Steps     []StepDefinition     `yaml:"steps" json:"steps"`
	Variables map[string]any       `yaml:"variables" json:"variables,omitempty"`
	Inputs    map[string]InputSpec `yaml:"inputs" json:"inputs,omitempty"`

	// TokenBudget caps the total tokens an execution may consume.
	// Zero means unlimited. Timeout bounds the whole execution.
	TokenBudget int      `yaml:"token_budget" json:"tokenBudget,omitempty"`
	Timeout     Duration `yaml:"timeout" json:"timeout,omitempty"`
}

// Step returns the step with the given ID, or nil.
func (d *WorkflowDefinition) Step(id string) *StepDefinition {
	for i := range d.Steps {
		if d.Steps[i].ID == id {
			return &d.Steps[i]
		}
	}
	return nil
}
