// Package graph builds and validates the dependency DAG for a workflow and
// computes the layered topological order the scheduler executes.
package graph

import (
	"sort"

	"github.com/AreteDriver/AI-Orchestra/pkg/api"
)

// Node is one step plus its resolved dependency relation.
type Node struct {
	Step *api.StepDefinition

	// Deps are the step IDs this node waits for (explicit depends_on
	// plus implicit next_step edges). Next are the dependents.
	Deps []string
	Next []string
}

// Graph is a validated DAG over a workflow's steps.
type Graph struct {
	Nodes map[string]*Node

	// Layers is the unit of concurrency: layer 0 holds steps with no
	// dependencies, layer N holds steps whose dependencies all live in
	// layers < N. Steps within a layer are mutually independent.
	// IDs within a layer keep definition order.
	Layers [][]string
}

// Build constructs and validates a Graph from the given steps. It never
// returns a partial graph: on any validation failure the result is a nil
// graph and a *api.GraphError.
func Build(steps []api.StepDefinition) (*Graph, error) {
	g := &Graph{Nodes: make(map[string]*Node, len(steps))}

	// Definition order is the deterministic tie-break used for layer
	// ordering and same-name output merges.
	order := make([]string, 0, len(steps))

	for i := range steps {
		step := &steps[i]
		if _, dup := g.Nodes[step.ID]; dup {
			return nil, &api.GraphError{Kind: api.GraphDuplicateID, StepID: step.ID}
		}
		g.Nodes[step.ID] = &Node{Step: step}
		order = append(order, step.ID)
	}

	// Resolve explicit depends_on and inject implicit next_step edges:
	// a next_step successor depends on its predecessor.
	for _, id := range order {
		node := g.Nodes[id]
		for _, dep := range node.Step.DependsOn {
			if _, ok := g.Nodes[dep]; !ok {
				return nil, &api.GraphError{Kind: api.GraphUnknownDependency, StepID: id}
			}
			node.Deps = append(node.Deps, dep)
		}
		if next := node.Step.NextStep; next != "" {
			succ, ok := g.Nodes[next]
			if !ok {
				return nil, &api.GraphError{Kind: api.GraphUnknownDependency, StepID: id}
			}
			succ.Deps = append(succ.Deps, id)
		}
		// Condition branch targets are implicit successors too: they must
		// not start before the predicate has been evaluated.
		if node.Step.Kind == api.KindCondition {
			for _, branch := range []string{node.Step.TrueStep, node.Step.FalseStep} {
				if branch == "" {
					continue
				}
				succ, ok := g.Nodes[branch]
				if !ok {
					return nil, &api.GraphError{Kind: api.GraphUnknownDependency, StepID: id}
				}
				succ.Deps = append(succ.Deps, id)
			}
		}
	}
	for _, id := range order {
		node := g.Nodes[id]
		node.Deps = dedupe(node.Deps)
		for _, dep := range node.Deps {
			g.Nodes[dep].Next = append(g.Nodes[dep].Next, id)
		}
	}

	if cycle := findCycle(g, order); cycle != nil {
		return nil, &api.GraphError{Kind: api.GraphCycleDetected, Cycle: cycle}
	}

	// Composite kinds carry nested graphs; validate them with the same
	// rules so a bad sub-graph fails at build time, not mid-execution.
	for _, id := range order {
		if err := validateNested(g.Nodes[id].Step); err != nil {
			return nil, err
		}
	}

	g.Layers = layer(g, order)
	return g, nil
}

// validateNested applies Build recursively to composite step kinds.
// Checkpoints may not nest inside groups: a pause mid-group would record
// the group as complete while its sub-graph is not.
func validateNested(step *api.StepDefinition) error {
	switch step.Kind {
	case api.KindParallel:
		for i := range step.SubSteps {
			if step.SubSteps[i].Kind == api.KindCheckpoint {
				return &api.GraphError{Kind: api.GraphInvalidStep, StepID: step.SubSteps[i].ID}
			}
		}
		if _, err := Build(step.SubSteps); err != nil {
			return err
		}
	case api.KindFanOut, api.KindMapReduce:
		if step.Template != nil {
			if step.Template.Kind == api.KindCheckpoint {
				return &api.GraphError{Kind: api.GraphInvalidStep, StepID: step.Template.ID}
			}
			if _, err := Build([]api.StepDefinition{*step.Template}); err != nil {
				return err
			}
		}
		if err := validateReduce(step); err != nil {
			return err
		}
	case api.KindFanIn:
		if err := validateReduce(step); err != nil {
			return err
		}
	}
	return nil
}

// validateReduce checks the fan-in aggregation step of a fan-in or
// map-reduce, which runs inside the group like any other sub-step.
func validateReduce(step *api.StepDefinition) error {
	if step.Reduce == nil {
		return nil
	}
	if step.Reduce.Kind == api.KindCheckpoint {
		id := step.Reduce.ID
		if id == "" {
			id = step.ID
		}
		return &api.GraphError{Kind: api.GraphInvalidStep, StepID: id}
	}
	return nil
}

// findCycle runs a DFS with path tracking and returns the offending cycle
// in edge order (first node repeated at the end), or nil.
func findCycle(g *Graph, order []string) []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	colors := make(map[string]int, len(g.Nodes))
	var path []string

	var visit func(id string) []string
	visit = func(id string) []string {
		colors[id] = gray
		path = append(path, id)
		for _, next := range g.Nodes[id].Next {
			switch colors[next] {
			case gray:
				// Back edge: slice the recorded path from the
				// first occurrence of next.
				for i, p := range path {
					if p == next {
						cycle := append([]string{}, path[i:]...)
						return append(cycle, next)
					}
				}
			case white:
				if c := visit(next); c != nil {
					return c
				}
			}
		}
		path = path[:len(path)-1]
		colors[id] = black
		return nil
	}

	for _, id := range order {
		if colors[id] == white {
			if c := visit(id); c != nil {
				return c
			}
		}
	}
	return nil
}

// layer computes the layered topological order by repeatedly peeling steps
// whose dependencies are all already placed.
func layer(g *Graph, order []string) [][]string {
	depth := make(map[string]int, len(g.Nodes))
	placed := 0
	var layers [][]string

	for placed < len(order) {
		var current []string
		for _, id := range order {
			if _, done := depth[id]; done {
				continue
			}
			ready := true
			max := 0
			for _, dep := range g.Nodes[id].Deps {
				d, done := depth[dep]
				if !done {
					ready = false
					break
				}
				if d+1 > max {
					max = d + 1
				}
			}
			if ready && max == len(layers) {
				current = append(current, id)
			}
		}
		for _, id := range current {
			depth[id] = len(layers)
		}
		placed += len(current)
		layers = append(layers, current)
	}
	return layers
}

func dedupe(ids []string) []string {
	if len(ids) < 2 {
		return ids
	}
	seen := make(map[string]struct{}, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Frontier returns the steps that are not yet completed but have all their
// dependencies in the completed set, in definition layer order. Resume uses
// it to rebuild the scheduler position from a checkpoint.
func (g *Graph) Frontier(completed map[string]struct{}) []string {
	var frontier []string
	for _, ids := range g.Layers {
		for _, id := range ids {
			if _, done := completed[id]; done {
				continue
			}
			ready := true
			for _, dep := range g.Nodes[id].Deps {
				if _, done := completed[dep]; !done {
					ready = false
					break
				}
			}
			if ready {
				frontier = append(frontier, id)
			}
		}
	}
	return frontier
}

// SortedIDs returns all node IDs sorted, mainly for diagnostics.
func (g *Graph) SortedIDs() []string {
	ids := make([]string, 0, len(g.Nodes))
	for id := range g.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
