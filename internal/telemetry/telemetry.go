package telemetry

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Telemetry records workflow metrics to prometheus and keeps a running
// cost summary for the status API.
type Telemetry struct {
	runs           *prometheus.CounterVec
	stageDuration  *prometheus.HistogramVec
	modelCalls     *prometheus.CounterVec
	modelLatency   *prometheus.HistogramVec
	modelTokens    *prometheus.CounterVec
	modelCost      *prometheus.CounterVec
	toolCalls      *prometheus.CounterVec
	publishResults *prometheus.CounterVec

	costs *CostTracker
}

// CostTracker tracks model spend per step and model
type CostTracker struct {
	mu         sync.RWMutex
	StepCosts  map[string]float64
	ModelCosts map[string]float64
	TotalCost  float64
	TotalCalls int64
	TotalToken int64
}

// CostSnapshot is a point-in-time copy of the tracker.
type CostSnapshot struct {
	StepCosts   map[string]float64 `json:"step_costs"`
	ModelCosts  map[string]float64 `json:"model_costs"`
	TotalCost   float64            `json:"total_cost"`
	TotalCalls  int64              `json:"total_calls"`
	TotalTokens int64              `json:"total_tokens"`
}

// ModelCallEvent represents a single gateway invocation
type ModelCallEvent struct {
	Step         string
	Model        string
	Success      bool
	Duration     time.Duration
	InputTokens  int64
	OutputTokens int64
	Cost         float64
}

// NewTelemetry registers collectors on reg. A nil reg uses a private
// registry, which keeps tests independent of the default one.
func NewTelemetry(reg prometheus.Registerer) *Telemetry {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	t := &Telemetry{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autoposter", Name: "runs_total",
			Help: "Workflow runs by trigger and outcome.",
		}, []string{"trigger", "outcome"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "autoposter", Name: "stage_duration_seconds",
			Help:    "Duration of each workflow stage.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"stage", "status"}),
		modelCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autoposter", Name: "model_calls_total",
			Help: "Model gateway invocations.",
		}, []string{"step", "model", "status"}),
		modelLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "autoposter", Name: "model_call_duration_seconds",
			Help:    "Model gateway latency.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}, []string{"model"}),
		modelTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autoposter", Name: "model_tokens_total",
			Help: "Tokens consumed by direction.",
		}, []string{"model", "direction"}),
		modelCost: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autoposter", Name: "model_cost_total",
			Help: "Estimated model spend.",
		}, []string{"model"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autoposter", Name: "tool_calls_total",
			Help: "News tool invocations requested by the model.",
		}, []string{"tool", "status"}),
		publishResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autoposter", Name: "publish_attempts_total",
			Help: "Publishing attempts by post type and result.",
		}, []string{"post_type", "result"}),
		costs: &CostTracker{
			StepCosts:  make(map[string]float64),
			ModelCosts: make(map[string]float64),
		},
	}
	reg.MustRegister(t.runs, t.stageDuration, t.modelCalls, t.modelLatency,
		t.modelTokens, t.modelCost, t.toolCalls, t.publishResults)
	return t
}

func status(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}

// RecordRun counts a finished run. outcome is "succeeded" or "failed".
func (t *Telemetry) RecordRun(trigger, outcome string) {
	if t == nil {
		return
	}
	t.runs.WithLabelValues(trigger, outcome).Inc()
}

// RecordStage observes a stage duration.
func (t *Telemetry) RecordStage(stage string, d time.Duration, ok bool) {
	if t == nil {
		return
	}
	t.stageDuration.WithLabelValues(stage, status(ok)).Observe(d.Seconds())
}

// RecordModelCall records a gateway invocation and its cost.
func (t *Telemetry) RecordModelCall(ev ModelCallEvent) {
	if t == nil {
		return
	}
	t.modelCalls.WithLabelValues(ev.Step, ev.Model, status(ev.Success)).Inc()
	t.modelLatency.WithLabelValues(ev.Model).Observe(ev.Duration.Seconds())
	if !ev.Success {
		return
	}
	t.modelTokens.WithLabelValues(ev.Model, "input").Add(float64(ev.InputTokens))
	t.modelTokens.WithLabelValues(ev.Model, "output").Add(float64(ev.OutputTokens))
	if ev.Cost > 0 {
		t.modelCost.WithLabelValues(ev.Model).Add(ev.Cost)
	}

	t.costs.mu.Lock()
	defer t.costs.mu.Unlock()
	t.costs.StepCosts[ev.Step] += ev.Cost
	t.costs.ModelCosts[ev.Model] += ev.Cost
	t.costs.TotalCost += ev.Cost
	t.costs.TotalCalls++
	t.costs.TotalToken += ev.InputTokens + ev.OutputTokens
}

// RecordToolCall counts a news tool invocation.
func (t *Telemetry) RecordToolCall(tool string, ok bool) {
	if t == nil {
		return
	}
	t.toolCalls.WithLabelValues(tool, status(ok)).Inc()
}

// RecordPublish counts a publishing attempt. result is "published",
// "published_retry", "demoted" or "failed".
func (t *Telemetry) RecordPublish(postType, result string) {
	if t == nil {
		return
	}
	t.publishResults.WithLabelValues(postType, result).Inc()
}

// Costs returns a copy of the cost tracker.
func (t *Telemetry) Costs() CostSnapshot {
	if t == nil {
		return CostSnapshot{}
	}
	t.costs.mu.RLock()
	defer t.costs.mu.RUnlock()
	snap := CostSnapshot{
		StepCosts:   make(map[string]float64, len(t.costs.StepCosts)),
		ModelCosts:  make(map[string]float64, len(t.costs.ModelCosts)),
		TotalCost:   t.costs.TotalCost,
		TotalCalls:  t.costs.TotalCalls,
		TotalTokens: t.costs.TotalToken,
	}
	for k, v := range t.costs.StepCosts {
		snap.StepCosts[k] = v
	}
	for k, v := range t.costs.ModelCosts {
		snap.ModelCosts[k] = v
	}
	return snap
}
