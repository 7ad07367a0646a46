package orchestra

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWorkflowBuilder(t *testing.T) {
	t.Parallel()

	def := NewWorkflow("deploy").
		Input("target", true, nil).
		Var("region", "eu-west-1").
		TokenBudget(10000).
		Timeout(5 * time.Minute).
		Shell("build", "make build", Outputs("stdout")).
		ToolCall("review", map[string]any{"prompt": "review ${stdout}"},
			After("build"),
			Outputs("verdict"),
			WithProvider("anthropic"),
			WithTimeout(30*time.Second),
			WithEstimatedTokens(2000),
			WithRetry(Retry(2).WithExponentialBackoff(time.Second, 2, 10*time.Second).Policy()),
		).
		Condition("gate", Predicate{Field: "verdict", Operator: OpEquals, Value: "approve"},
			"ship", "abort").
		Shell("ship", "make deploy", After("gate")).
		Shell("abort", "make rollback", After("gate")).
		MustBuild()

	require.Equal(t, "deploy", def.Name)
	require.Equal(t, 10000, def.TokenBudget)
	require.Equal(t, 5*time.Minute, def.Timeout.Std())
	require.True(t, def.Inputs["target"].Required)
	require.Equal(t, "eu-west-1", def.Variables["region"])
	require.Len(t, def.Steps, 5)

	review := def.Step("review")
	require.Equal(t, []string{"build"}, review.DependsOn)
	require.Equal(t, "anthropic", review.Provider)
	require.Equal(t, FailRetry, review.OnFailure)
	require.Equal(t, 2, review.Retry.MaxRetries)
	require.Equal(t, 2000, review.EstimatedTokens)
	require.Equal(t, 30*time.Second, review.Timeout.Std())

	gate := def.Step("gate")
	require.Equal(t, KindCondition, gate.Kind)
	require.Equal(t, "ship", gate.TrueStep)
	require.Equal(t, "abort", gate.FalseStep)
}

func TestWorkflowBuilder_BuildValidates(t *testing.T) {
	t.Parallel()

	_, err := NewWorkflow("cyclic").
		ToolCall("a", nil, After("b")).
		ToolCall("b", nil, After("a")).
		Build()
	require.Error(t, err)

	ge, ok := AsGraphError(err)
	require.True(t, ok)
	require.NotEmpty(t, ge.Cycle)
}

func TestWorkflowBuilder_Panics(t *testing.T) {
	t.Parallel()

	require.Panics(t, func() {
		NewWorkflow("bad").ToolCall("", nil)
	})
	require.Panics(t, func() {
		NewWorkflow("bad").
			ToolCall("a", nil, After("ghost")).
			MustBuild()
	})
}

func TestRetryBuilder(t *testing.T) {
	t.Parallel()

	p := Retry(3).WithExponentialBackoff(100*time.Millisecond, 1.5, 2*time.Second).Policy()
	require.Equal(t, 3, p.MaxRetries)
	require.Equal(t, 100*time.Millisecond, p.InitialBackoff.Std())
	require.Equal(t, 1.5, p.BackoffMultiplier)
	require.Equal(t, 2*time.Second, p.MaxBackoff.Std())

	// Degenerate multipliers fall back to doubling.
	p = Retry(1).WithExponentialBackoff(time.Second, 0.5, 0).Policy()
	require.Equal(t, 2.0, p.BackoffMultiplier)

	p = Retry(-5).WithConstantBackoff(250 * time.Millisecond).Policy()
	require.Equal(t, 0, p.MaxRetries)
	require.Equal(t, 250*time.Millisecond, p.InitialBackoff.Std())
	require.Equal(t, 250*time.Millisecond, p.MaxBackoff.Std())
	require.Equal(t, 1.0, p.BackoffMultiplier)
}
