package orchestra

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func echoInvoker() InvokerFunc {
	return func(ctx context.Context, kind StepKind, params map[string]any) (*Outcome, error) {
		out := map[string]any{}
		for k, v := range params {
			out[k] = v
		}
		return &Outcome{Outputs: out, TokensUsed: 5}, nil
	}
}

func TestEngineRun_FromSource(t *testing.T) {
	t.Parallel()

	src := NewMemorySource()
	src.Register(NewWorkflow("echo").
		Input("message", true, nil).
		ToolCall("say", map[string]any{"text": "${message}"}, Outputs("text")).
		MustBuild())

	eng := NewEngine(EngineConfig{Invoker: echoInvoker(), Source: src})

	res, err := eng.Run(context.Background(), "echo", map[string]any{"message": "hi"})
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, res.Status)
	require.Equal(t, "hi", res.Variables["text"])
	require.Equal(t, 5, res.TotalTokens)

	_, err = eng.Run(context.Background(), "missing", nil)
	require.Error(t, err)
}

func TestRunner_SubmitAndWait(t *testing.T) {
	t.Parallel()

	src := NewMemorySource()
	src.Register(NewWorkflow("greet").
		ToolCall("say", map[string]any{"text": "hello ${who}"}, Outputs("text")).
		MustBuild())

	eng := NewEngine(EngineConfig{Invoker: echoInvoker(), Source: src})
	runner := NewRunner(eng, nil)
	require.NoError(t, runner.Start(context.Background(), 2))
	defer runner.Stop()

	require.Error(t, runner.Start(context.Background(), 1))

	ctx := context.Background()
	taskID, err := runner.Submit(ctx, "greet", map[string]any{"who": "there"})
	require.NoError(t, err)

	res, err := runner.Wait(ctx, taskID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, res.Status)
	require.Equal(t, "hello there", res.Variables["text"])

	// A consumed or foreign task ID is unknown.
	_, err = runner.Wait(ctx, taskID)
	require.Error(t, err)
	_, err = runner.Wait(ctx, "nope")
	require.Error(t, err)
}

func TestRunner_ResumeRoundTrip(t *testing.T) {
	t.Parallel()

	src := NewMemorySource()
	src.Register(NewWorkflow("release").
		ToolCall("prepare", map[string]any{"artifact": "v1.2.3"}, Outputs("artifact")).
		Checkpoint("approval", After("prepare")).
		ToolCall("publish", map[string]any{"publishing": "${artifact}"},
			After("approval"), Outputs("publishing")).
		MustBuild())

	eng := NewEngine(EngineConfig{
		Invoker:     echoInvoker(),
		Source:      src,
		Checkpoints: NewMemoryCheckpointStore(),
	})
	runner := NewRunner(eng, nil)
	require.NoError(t, runner.Start(context.Background(), 1))
	defer runner.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	taskID, err := runner.Submit(ctx, "release", nil)
	require.NoError(t, err)
	paused, err := runner.Wait(ctx, taskID)
	require.NoError(t, err)
	require.Equal(t, StatusPaused, paused.Status)
	require.NotEmpty(t, paused.CheckpointID)

	taskID, err = runner.SubmitResume(ctx, "release", paused.CheckpointID)
	require.NoError(t, err)
	res, err := runner.Wait(ctx, taskID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, res.Status)
	require.Equal(t, "v1.2.3", res.Variables["publishing"])
	require.Equal(t, paused.ExecutionID, res.ExecutionID)
}
