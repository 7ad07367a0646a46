package api

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusObserver exports workflow and step lifecycle metrics.
// Register it alongside other observers via NewCompositeObserver.
type PrometheusObserver struct {
	workflowsStarted *prometheus.CounterVec
	workflowsEnded   *prometheus.CounterVec
	stepsEnded       *prometheus.CounterVec
	stepDuration     *prometheus.HistogramVec
	tokensUsed       *prometheus.CounterVec
}

// NewPrometheusObserver creates and registers the collectors on reg.
// If reg is nil, prometheus.DefaultRegisterer is used.
func NewPrometheusObserver(reg prometheus.Registerer) (*PrometheusObserver, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	o := &PrometheusObserver{
		workflowsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestra_workflows_started_total",
			Help: "Workflow executions started.",
		}, []string{"workflow"}),
		workflowsEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestra_workflows_ended_total",
			Help: "Workflow executions ended, by terminal status.",
		}, []string{"workflow", "status"}),
		stepsEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestra_steps_ended_total",
			Help: "Steps reaching a terminal status.",
		}, []string{"workflow", "status"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "orchestra_step_duration_seconds",
			Help:    "Wall time of successful steps.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"workflow"}),
		tokensUsed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestra_tokens_used_total",
			Help: "Tokens consumed by steps.",
		}, []string{"workflow"}),
	}

	for _, c := range []prometheus.Collector{
		o.workflowsStarted, o.workflowsEnded, o.stepsEnded, o.stepDuration, o.tokensUsed,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return o, nil
}

func (o *PrometheusObserver) OnWorkflowStart(ctx context.Context, res *ExecutionResult) {
	o.workflowsStarted.WithLabelValues(res.WorkflowID).Inc()
}

func (o *PrometheusObserver) OnWorkflowEnd(ctx context.Context, res *ExecutionResult) {
	o.workflowsEnded.WithLabelValues(res.WorkflowID, string(res.Status)).Inc()
}

func (o *PrometheusObserver) OnStepStart(ctx context.Context, res *ExecutionResult, stepID string) {
}

func (o *PrometheusObserver) OnStepEnd(ctx context.Context, res *ExecutionResult, step *StepResult) {
	o.stepsEnded.WithLabelValues(res.WorkflowID, string(step.Status)).Inc()
	if step.TokensUsed > 0 {
		o.tokensUsed.WithLabelValues(res.WorkflowID).Add(float64(step.TokensUsed))
	}
	if step.Status == StepSucceeded {
		o.stepDuration.WithLabelValues(res.WorkflowID).Observe(step.Duration().Seconds())
	}
}
