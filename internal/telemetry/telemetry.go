// Package telemetry aggregates run, generation and capability metrics and
// tracks model spend. Counters are mirrored to prometheus collectors on the
// default registry so the server's /metrics endpoint picks them up.
package telemetry

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tagweave/tagweave/config"
)

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tagweave_runs_total",
		Help: "Completed generation runs by outcome.",
	}, []string{"outcome"})

	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tagweave_run_duration_seconds",
		Help:    "Wall-clock duration of generation runs.",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 12),
	})

	phaseDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tagweave_phase_duration_seconds",
		Help:    "Duration of individual model calls by phase.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"phase"})

	modelTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tagweave_model_tokens_total",
		Help: "Tokens consumed per model.",
	}, []string{"model"})

	modelCost = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tagweave_model_cost_dollars_total",
		Help: "Accumulated model spend in dollars.",
	}, []string{"model"})

	capabilityCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tagweave_capability_calls_total",
		Help: "Capability invocations by provider and outcome.",
	}, []string{"provider", "capability", "outcome"})
)

// Telemetry collects metrics and cost information for generation runs.
type Telemetry struct {
	config  config.TelemetryConfig
	logger  *log.Logger
	metrics *Metrics
	costs   *CostTracker
	mu      sync.RWMutex
}

// Metrics holds aggregate performance counters. Snapshots returned by
// GetMetrics are deep copies and safe to hold across requests.
type Metrics struct {
	TotalRuns      int64
	SuccessfulRuns int64
	FailedRuns     int64
	AverageRunTime time.Duration

	PhaseExecutions   map[string]int64
	PhaseSuccessRates map[string]float64
	PhaseAverageTimes map[string]time.Duration

	ModelRequests   map[string]int64
	ModelTokensUsed map[string]int64

	CapabilityRequests     map[string]int64
	CapabilitySuccessRates map[string]float64
	CapabilityAverageTimes map[string]time.Duration
}

// CostTracker accumulates spend across models and phases.
type CostTracker struct {
	ModelCosts  map[string]float64
	PhaseCosts  map[string]float64
	TotalCost   float64
	TotalTokens int64
}

// CostSummary is a point-in-time copy of the cost tracker.
type CostSummary struct {
	TotalCost   float64
	TotalTokens int64
	ModelCosts  map[string]float64
	PhaseCosts  map[string]float64
}

// RunEvent describes one complete generation run.
type RunEvent struct {
	ID               string
	StartTime        time.Time
	EndTime          time.Time
	Duration         time.Duration
	Success          bool
	Error            string
	Cost             float64
	TokensUsed       int64
	ModelsUsed       []string
	CapabilitiesUsed []string
}

// GenerationEvent describes a single model call within a run.
type GenerationEvent struct {
	ID         string
	Phase      string
	Model      string
	StartTime  time.Time
	EndTime    time.Time
	Duration   time.Duration
	Success    bool
	Error      string
	Cost       float64
	TokensUsed int64
}

// CapabilityEvent describes one capability invocation.
type CapabilityEvent struct {
	ID         string
	Provider   string
	Capability string
	StartTime  time.Time
	EndTime    time.Time
	Duration   time.Duration
	Success    bool
	Error      string
}

// New creates a telemetry instance. Periodic snapshot logging starts only
// when both Enabled and PeriodicLogs are set.
func New(cfg config.TelemetryConfig) *Telemetry {
	t := &Telemetry{
		config: cfg,
		logger: log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags),
		metrics: &Metrics{
			PhaseExecutions:        make(map[string]int64),
			PhaseSuccessRates:      make(map[string]float64),
			PhaseAverageTimes:      make(map[string]time.Duration),
			ModelRequests:          make(map[string]int64),
			ModelTokensUsed:        make(map[string]int64),
			CapabilityRequests:     make(map[string]int64),
			CapabilitySuccessRates: make(map[string]float64),
			CapabilityAverageTimes: make(map[string]time.Duration),
		},
		costs: &CostTracker{
			ModelCosts: make(map[string]float64),
			PhaseCosts: make(map[string]float64),
		},
	}

	if cfg.Enabled && cfg.PeriodicLogs {
		go t.startMetricsCollection()
		go t.startCostReporting()
	}

	return t
}

// RecordRunEvent records a completed run. Per-model and per-capability maps
// are fed by the granular events; this only moves the run-level aggregates.
func (t *Telemetry) RecordRunEvent(ctx context.Context, event RunEvent) {
	if !t.config.Enabled {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.metrics.TotalRuns++
	if event.Success {
		t.metrics.SuccessfulRuns++
	} else {
		t.metrics.FailedRuns++
	}

	if t.metrics.TotalRuns == 1 {
		t.metrics.AverageRunTime = event.Duration
	} else {
		total := t.metrics.AverageRunTime * time.Duration(t.metrics.TotalRuns-1)
		t.metrics.AverageRunTime = (total + event.Duration) / time.Duration(t.metrics.TotalRuns)
	}

	runsTotal.WithLabelValues(outcome(event.Success)).Inc()
	runDuration.Observe(event.Duration.Seconds())

	t.logger.Printf("Run: ID=%s, Success=%t, Duration=%v, Cost=$%.4f, Tokens=%d, Models=%v, Capabilities=%v",
		event.ID, event.Success, event.Duration, event.Cost, event.TokensUsed,
		event.ModelsUsed, event.CapabilitiesUsed)
}

// RecordGenerationEvent records a single model call.
func (t *Telemetry) RecordGenerationEvent(ctx context.Context, event GenerationEvent) {
	if !t.config.Enabled {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.metrics.PhaseExecutions[event.Phase]++
	execs := t.metrics.PhaseExecutions[event.Phase]

	successes := t.metrics.PhaseSuccessRates[event.Phase] * float64(execs-1)
	if event.Success {
		successes++
	}
	t.metrics.PhaseSuccessRates[event.Phase] = successes / float64(execs)

	if execs == 1 {
		t.metrics.PhaseAverageTimes[event.Phase] = event.Duration
	} else {
		total := t.metrics.PhaseAverageTimes[event.Phase] * time.Duration(execs-1)
		t.metrics.PhaseAverageTimes[event.Phase] = (total + event.Duration) / time.Duration(execs)
	}

	t.metrics.ModelRequests[event.Model]++
	t.metrics.ModelTokensUsed[event.Model] += event.TokensUsed

	if t.config.CostTracking {
		t.costs.TotalCost += event.Cost
		t.costs.TotalTokens += event.TokensUsed
		t.costs.ModelCosts[event.Model] += event.Cost
		t.costs.PhaseCosts[event.Phase] += event.Cost
	}

	phaseDuration.WithLabelValues(event.Phase).Observe(event.Duration.Seconds())
	modelTokens.WithLabelValues(event.Model).Add(float64(event.TokensUsed))
	modelCost.WithLabelValues(event.Model).Add(event.Cost)

	t.logger.Printf("Generation: Phase=%s, Model=%s, Success=%t, Duration=%v, Cost=$%.4f, Tokens=%d",
		event.Phase, event.Model, event.Success, event.Duration, event.Cost, event.TokensUsed)
}

// RecordCapabilityEvent records one capability invocation.
func (t *Telemetry) RecordCapabilityEvent(ctx context.Context, event CapabilityEvent) {
	if !t.config.Enabled {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	key := event.Provider + "/" + event.Capability

	t.metrics.CapabilityRequests[key]++
	calls := t.metrics.CapabilityRequests[key]

	successes := t.metrics.CapabilitySuccessRates[key] * float64(calls-1)
	if event.Success {
		successes++
	}
	t.metrics.CapabilitySuccessRates[key] = successes / float64(calls)

	if calls == 1 {
		t.metrics.CapabilityAverageTimes[key] = event.Duration
	} else {
		total := t.metrics.CapabilityAverageTimes[key] * time.Duration(calls-1)
		t.metrics.CapabilityAverageTimes[key] = (total + event.Duration) / time.Duration(calls)
	}

	capabilityCalls.WithLabelValues(event.Provider, event.Capability, outcome(event.Success)).Inc()

	t.logger.Printf("Capability: Provider=%s, Capability=%s, Success=%t, Duration=%v",
		event.Provider, event.Capability, event.Success, event.Duration)
}

// GetMetrics returns a snapshot of the current metrics.
func (t *Telemetry) GetMetrics() Metrics {
	t.mu.RLock()
	defer t.mu.RUnlock()

	metrics := *t.metrics
	metrics.PhaseExecutions = make(map[string]int64)
	metrics.PhaseSuccessRates = make(map[string]float64)
	metrics.PhaseAverageTimes = make(map[string]time.Duration)
	metrics.ModelRequests = make(map[string]int64)
	metrics.ModelTokensUsed = make(map[string]int64)
	metrics.CapabilityRequests = make(map[string]int64)
	metrics.CapabilitySuccessRates = make(map[string]float64)
	metrics.CapabilityAverageTimes = make(map[string]time.Duration)

	for k, v := range t.metrics.PhaseExecutions {
		metrics.PhaseExecutions[k] = v
	}
	for k, v := range t.metrics.PhaseSuccessRates {
		metrics.PhaseSuccessRates[k] = v
	}
	for k, v := range t.metrics.PhaseAverageTimes {
		metrics.PhaseAverageTimes[k] = v
	}
	for k, v := range t.metrics.ModelRequests {
		metrics.ModelRequests[k] = v
	}
	for k, v := range t.metrics.ModelTokensUsed {
		metrics.ModelTokensUsed[k] = v
	}
	for k, v := range t.metrics.CapabilityRequests {
		metrics.CapabilityRequests[k] = v
	}
	for k, v := range t.metrics.CapabilitySuccessRates {
		metrics.CapabilitySuccessRates[k] = v
	}
	for k, v := range t.metrics.CapabilityAverageTimes {
		metrics.CapabilityAverageTimes[k] = v
	}

	return metrics
}

// GetCostSummary returns a snapshot of accumulated costs.
func (t *Telemetry) GetCostSummary() CostSummary {
	t.mu.RLock()
	defer t.mu.RUnlock()

	summary := CostSummary{
		TotalCost:   t.costs.TotalCost,
		TotalTokens: t.costs.TotalTokens,
		ModelCosts:  make(map[string]float64),
		PhaseCosts:  make(map[string]float64),
	}

	for k, v := range t.costs.ModelCosts {
		summary.ModelCosts[k] = v
	}
	for k, v := range t.costs.PhaseCosts {
		summary.PhaseCosts[k] = v
	}

	return summary
}

func (t *Telemetry) startMetricsCollection() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		metrics := t.GetMetrics()
		costs := t.GetCostSummary()

		t.logger.Printf("Metrics Snapshot: Runs=%d/%d, AvgTime=%v, TotalCost=$%.4f, TotalTokens=%d",
			metrics.SuccessfulRuns, metrics.TotalRuns,
			metrics.AverageRunTime, costs.TotalCost, costs.TotalTokens)
	}
}

func (t *Telemetry) startCostReporting() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		costs := t.GetCostSummary()

		t.logger.Printf("Cost Report: Total=$%.4f, Tokens=%d", costs.TotalCost, costs.TotalTokens)

		for model, cost := range costs.ModelCosts {
			t.logger.Printf("  Model %s: $%.4f", model, cost)
		}
		for phase, cost := range costs.PhaseCosts {
			t.logger.Printf("  Phase %s: $%.4f", phase, cost)
		}
	}
}

// Shutdown logs a final report. It does not block on in-flight recorders.
func (t *Telemetry) Shutdown() {
	metrics := t.GetMetrics()
	costs := t.GetCostSummary()

	t.logger.Println("Shutting down telemetry...")
	t.logger.Printf("Final Report:")
	t.logger.Printf("  Total Runs: %d", metrics.TotalRuns)
	if metrics.TotalRuns > 0 {
		t.logger.Printf("  Success Rate: %.2f%%", float64(metrics.SuccessfulRuns)/float64(metrics.TotalRuns)*100)
	}
	t.logger.Printf("  Average Run Time: %v", metrics.AverageRunTime)
	t.logger.Printf("  Total Cost: $%.4f", costs.TotalCost)
	t.logger.Printf("  Total Tokens: %d", costs.TotalTokens)
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
