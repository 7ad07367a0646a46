package graph

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/AreteDriver/AI-Orchestra/pkg/api"
)

func step(id string, deps ...string) api.StepDefinition {
	return api.StepDefinition{ID: id, Kind: api.KindToolCall, DependsOn: deps}
}

// Independent A and B may share layer 0; C waiting on both lands in layer 1.
func TestBuild_Layers(t *testing.T) {
	t.Parallel()

	g, err := Build([]api.StepDefinition{
		step("a"),
		step("b"),
		step("c", "a", "b"),
	})
	require.NoError(t, err)

	require.Equal(t, [][]string{{"a", "b"}, {"c"}}, g.Layers)
}

// Every step appears in exactly one layer, and only after all its deps.
func TestBuild_LayersAreTopological(t *testing.T) {
	t.Parallel()

	g, err := Build([]api.StepDefinition{
		step("fetch"),
		step("parse", "fetch"),
		step("lint", "fetch"),
		step("merge", "parse", "lint"),
		step("report", "merge"),
	})
	require.NoError(t, err)

	layerOf := make(map[string]int)
	for i, ids := range g.Layers {
		for _, id := range ids {
			_, seen := layerOf[id]
			require.False(t, seen, "step %s appears twice", id)
			layerOf[id] = i
		}
	}
	require.Len(t, layerOf, 5)
	for id, node := range g.Nodes {
		for _, dep := range node.Deps {
			require.Less(t, layerOf[dep], layerOf[id],
				"dep %s must be in an earlier layer than %s", dep, id)
		}
	}
}

func TestBuild_DuplicateID(t *testing.T) {
	t.Parallel()

	_, err := Build([]api.StepDefinition{step("a"), step("a")})
	ge, ok := api.AsGraphError(err)
	require.True(t, ok)
	require.Equal(t, api.GraphDuplicateID, ge.Kind)
	require.Equal(t, "a", ge.StepID)
}

func TestBuild_UnknownDependency(t *testing.T) {
	t.Parallel()

	_, err := Build([]api.StepDefinition{step("a", "ghost")})
	ge, ok := api.AsGraphError(err)
	require.True(t, ok)
	require.Equal(t, api.GraphUnknownDependency, ge.Kind)
	require.Equal(t, "a", ge.StepID)
}

// A cycle fails the build and the error names the offending path with the
// first node repeated at the end.
func TestBuild_CycleDetected(t *testing.T) {
	t.Parallel()

	_, err := Build([]api.StepDefinition{
		step("a", "c"),
		step("b", "a"),
		step("c", "b"),
	})
	ge, ok := api.AsGraphError(err)
	require.True(t, ok)
	require.Equal(t, api.GraphCycleDetected, ge.Kind)
	require.GreaterOrEqual(t, len(ge.Cycle), 4)
	require.Equal(t, ge.Cycle[0], ge.Cycle[len(ge.Cycle)-1])
}

func TestBuild_SelfCycle(t *testing.T) {
	t.Parallel()

	_, err := Build([]api.StepDefinition{step("a", "a")})
	ge, ok := api.AsGraphError(err)
	require.True(t, ok)
	require.Equal(t, api.GraphCycleDetected, ge.Kind)
}

// next_step is an implicit edge: the successor gains a dependency.
func TestBuild_NextStepEdge(t *testing.T) {
	t.Parallel()

	g, err := Build([]api.StepDefinition{
		{ID: "first", Kind: api.KindToolCall, NextStep: "second"},
		{ID: "second", Kind: api.KindToolCall},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"first"}, g.Nodes["second"].Deps)
	require.Equal(t, [][]string{{"first"}, {"second"}}, g.Layers)
}

// Condition branch targets may not run before the predicate is evaluated.
func TestBuild_ConditionBranchEdges(t *testing.T) {
	t.Parallel()

	g, err := Build([]api.StepDefinition{
		{ID: "gate", Kind: api.KindCondition,
			Predicate: &api.Predicate{Field: "x", Operator: api.OpEquals, Value: 1},
			TrueStep:  "yes", FalseStep: "no"},
		{ID: "yes", Kind: api.KindToolCall},
		{ID: "no", Kind: api.KindToolCall},
	})
	require.NoError(t, err)
	require.Contains(t, g.Nodes["yes"].Deps, "gate")
	require.Contains(t, g.Nodes["no"].Deps, "gate")
}

func TestBuild_NestedSubGraphValidated(t *testing.T) {
	t.Parallel()

	_, err := Build([]api.StepDefinition{
		{ID: "group", Kind: api.KindParallel, SubSteps: []api.StepDefinition{
			step("x", "y"),
			step("y", "x"),
		}},
	})
	ge, ok := api.AsGraphError(err)
	require.True(t, ok)
	require.Equal(t, api.GraphCycleDetected, ge.Kind)
}

func TestBuild_CheckpointInsideGroupRejected(t *testing.T) {
	t.Parallel()

	_, err := Build([]api.StepDefinition{
		{ID: "group", Kind: api.KindParallel, SubSteps: []api.StepDefinition{
			{ID: "pause", Kind: api.KindCheckpoint},
		}},
	})
	ge, ok := api.AsGraphError(err)
	require.True(t, ok)
	require.Equal(t, api.GraphInvalidStep, ge.Kind)
	require.Equal(t, "pause", ge.StepID)
}

// The reduce step of fan-in and map-reduce runs inside the group, so a
// checkpoint there is rejected like any other nested checkpoint.
func TestBuild_CheckpointReduceRejected(t *testing.T) {
	t.Parallel()

	_, err := Build([]api.StepDefinition{
		{ID: "gather", Kind: api.KindFanIn, InputVar: "parts",
			Reduce: &api.StepDefinition{ID: "pause", Kind: api.KindCheckpoint}},
	})
	ge, ok := api.AsGraphError(err)
	require.True(t, ok)
	require.Equal(t, api.GraphInvalidStep, ge.Kind)
	require.Equal(t, "pause", ge.StepID)

	_, err = Build([]api.StepDefinition{
		{ID: "mr", Kind: api.KindMapReduce, ItemsVar: "items",
			Template: &api.StepDefinition{Kind: api.KindToolCall},
			Reduce:   &api.StepDefinition{Kind: api.KindCheckpoint}},
	})
	ge, ok = api.AsGraphError(err)
	require.True(t, ok)
	require.Equal(t, api.GraphInvalidStep, ge.Kind)
	// An unnamed reduce step is reported under its group's ID.
	require.Equal(t, "mr", ge.StepID)
}

// Frontier returns the not-yet-run steps whose deps are all completed.
func TestFrontier(t *testing.T) {
	t.Parallel()

	g, err := Build([]api.StepDefinition{
		step("a"),
		step("b", "a"),
		step("c", "a"),
		step("d", "b", "c"),
	})
	require.NoError(t, err)

	require.Equal(t, []string{"a"}, g.Frontier(map[string]struct{}{}))
	require.Equal(t, []string{"b", "c"}, g.Frontier(map[string]struct{}{"a": {}}))
	require.Equal(t, []string{"c"}, g.Frontier(map[string]struct{}{"a": {}, "b": {}}))
	require.Nil(t, g.Frontier(map[string]struct{}{"a": {}, "b": {}, "c": {}, "d": {}}))
}
