package orchestra

import (
	"database/sql"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/AreteDriver/AI-Orchestra/internal/checkpoint"
	"github.com/AreteDriver/AI-Orchestra/internal/engine"
	"github.com/AreteDriver/AI-Orchestra/internal/ratelimit"
	"github.com/AreteDriver/AI-Orchestra/internal/source"
	"github.com/AreteDriver/AI-Orchestra/pkg/api"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	WorkflowDefinition = api.WorkflowDefinition
	StepDefinition     = api.StepDefinition
	InputSpec          = api.InputSpec
	RetryPolicy        = api.RetryPolicy
	Predicate          = api.Predicate
	Duration           = api.Duration
	StepKind           = api.StepKind
	FailurePolicy      = api.FailurePolicy
	Operator           = api.Operator

	ExecutionResult = api.ExecutionResult
	StepResult      = api.StepResult
	Checkpoint      = api.Checkpoint
	Status          = api.Status
	StepStatus      = api.StepStatus
	ErrorDetail     = api.ErrorDetail

	Invoker     = api.Invoker
	InvokerFunc = api.InvokerFunc
	Outcome     = api.Outcome

	WorkflowSource  = api.WorkflowSource
	CheckpointStore = api.CheckpointStore
	RateLimiter     = api.RateLimiter
	Permit          = api.Permit

	Observer             = api.Observer
	NoopObserver         = api.NoopObserver
	LoggingObserver      = api.LoggingObserver
	CompositeObserver    = api.CompositeObserver
	AsyncObserver        = api.AsyncObserver
	BasicMetrics         = api.BasicMetrics
	BasicMetricsSnapshot = api.BasicMetricsSnapshot
	PrometheusObserver   = api.PrometheusObserver

	GraphError    = api.GraphError
	StepError     = api.StepError
	WorkflowError = api.WorkflowError
)

// Re-export common helpers.

var (
	NewLoggingObserver    = api.NewLoggingObserver
	NewCompositeObserver  = api.NewCompositeObserver
	NewAsyncObserver      = api.NewAsyncObserver
	NewPrometheusObserver = api.NewPrometheusObserver

	AsGraphError    = api.AsGraphError
	AsWorkflowError = api.AsWorkflowError
	IsRateLimited   = api.IsRateLimited
	ErrRateLimited  = api.ErrRateLimited
)

// Re-export enum values for convenience.

const (
	StatusPending   = api.StatusPending
	StatusRunning   = api.StatusRunning
	StatusCompleted = api.StatusCompleted
	StatusFailed    = api.StatusFailed
	StatusPaused    = api.StatusPaused

	StepPending   = api.StepPending
	StepRunning   = api.StepRunning
	StepSucceeded = api.StepSucceeded
	StepFailed    = api.StepFailed
	StepSkipped   = api.StepSkipped

	KindToolCall   = api.KindToolCall
	KindShell      = api.KindShell
	KindCondition  = api.KindCondition
	KindParallel   = api.KindParallel
	KindFanOut     = api.KindFanOut
	KindFanIn      = api.KindFanIn
	KindMapReduce  = api.KindMapReduce
	KindCheckpoint = api.KindCheckpoint

	FailAbort = api.FailAbort
	FailSkip  = api.FailSkip
	FailRetry = api.FailRetry

	OpEquals      = api.OpEquals
	OpNotEquals   = api.OpNotEquals
	OpContains    = api.OpContains
	OpGreaterThan = api.OpGreaterThan
	OpLessThan    = api.OpLessThan
)

// Engine constructors. These wrap the internal packages so external callers
// never need to import them.

// Engine executes workflow definitions.
type Engine = engine.Engine

// EngineConfig configures NewEngine.
type EngineConfig = engine.Config

// NewEngine creates a workflow engine. Zero-value config fields get
// sensible defaults; see EngineConfig.
func NewEngine(cfg EngineConfig) *Engine {
	return engine.New(cfg)
}

// Checkpoint stores.

// NewMemoryCheckpointStore returns an in-memory CheckpointStore, suitable
// for tests and single-process use.
func NewMemoryCheckpointStore() CheckpointStore {
	return checkpoint.NewMemoryStore()
}

// NewSQLiteCheckpointStore returns a CheckpointStore persisting to the
// given SQLite database (for example one opened with modernc.org/sqlite).
func NewSQLiteCheckpointStore(db *sql.DB) (CheckpointStore, error) {
	return checkpoint.NewSQLiteStore(db)
}

// NewRedisCheckpointStore returns a CheckpointStore persisting to Redis
// under the given key prefix. A zero ttl keeps checkpoints until deleted.
func NewRedisCheckpointStore(client *redis.Client, prefix string, ttl time.Duration) CheckpointStore {
	return checkpoint.NewRedisStore(client, prefix, ttl)
}

// Rate limiters.

// RateLimiterConfig configures the adaptive per-provider rate limiter.
type RateLimiterConfig = ratelimit.Config

// NewRateLimiter returns an adaptive RateLimiter tracking in-flight calls
// in process memory.
func NewRateLimiter(cfg RateLimiterConfig) RateLimiter {
	return ratelimit.New(cfg, nil)
}

// NewSQLiteRateLimiter returns a RateLimiter sharing in-flight counts
// through a SQLite database, so co-located processes respect one ceiling.
func NewSQLiteRateLimiter(cfg RateLimiterConfig, db *sql.DB) (RateLimiter, error) {
	counter, err := ratelimit.NewSQLiteCounter(db)
	if err != nil {
		return nil, err
	}
	return ratelimit.New(cfg, counter), nil
}

// NewRedisRateLimiter returns a RateLimiter sharing in-flight counts
// through Redis, so a whole fleet respects one ceiling per provider.
func NewRedisRateLimiter(cfg RateLimiterConfig, client *redis.Client, prefix string) RateLimiter {
	return ratelimit.New(cfg, ratelimit.NewRedisCounter(client, prefix))
}

// Workflow sources.

// NewDirSource returns a WorkflowSource reading <id>.yaml files from dir.
func NewDirSource(dir string) WorkflowSource {
	return source.NewDirSource(dir)
}

// MemorySource is an in-memory workflow registry.
type MemorySource = source.MemorySource

// NewMemorySource returns an empty in-memory workflow registry.
func NewMemorySource() *MemorySource {
	return source.NewMemorySource()
}

// ParseWorkflow decodes a YAML workflow definition.
func ParseWorkflow(data []byte) (*WorkflowDefinition, error) {
	return source.Parse(data)
}
