// Package orchestra is an embeddable workflow orchestration engine for
// multi-step tool pipelines.
//
// A workflow is a declarative list of steps. Each step names the step IDs
// it depends on; the engine turns the list into a validated DAG, executes
// independent steps concurrently layer by layer, and threads a variable
// context through the run so step outputs feed later steps' parameters via
// ${name} interpolation.
//
// Step kinds cover external tool calls (through the caller-supplied
// Invoker), shell commands, conditional branching, parallel groups,
// fan-out/fan-in over sequences, map-reduce, and checkpoints that pause the
// run for later resumption.
//
//	def := orchestra.NewWorkflow("review").
//	    Input("files", true, nil).
//	    FanOut("lint", "files", orchestra.StepDefinition{
//	        Kind:    orchestra.KindToolCall,
//	        Params:  map[string]any{"prompt": "lint ${item}"},
//	        Outputs: []string{"report"},
//	    }, orchestra.Outputs("reports")).
//	    FanIn("summary", "reports", "concat",
//	        orchestra.After("lint"), orchestra.Outputs("summary")).
//	    MustBuild()
//
//	eng := orchestra.NewEngine(orchestra.EngineConfig{Invoker: inv})
//	res, err := eng.Execute(ctx, def, map[string]any{"files": files})
//
// Executions are observable through the Observer interface (structured
// logging, in-process metrics, and Prometheus collectors ship with the
// package), rate-limited per provider through RateLimiter, and durable
// through pluggable checkpoint stores (in-memory, SQLite, Redis).
package orchestra
