package graph

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics collects workflow execution metrics, all namespaced
// "coursegraph_":
//
//   - inflight_runs (gauge): runs currently executing.
//   - runs_total (counter; status): finished runs by outcome.
//   - step_latency_ms (histogram; step, kind, status): step duration,
//     composites included.
//   - loop_passes_total (counter; loop): loop passes started.
//   - loop_exits_total (counter; loop, state): how loops ended.
//   - escalations_total (counter; step): escalate signals raised.
//   - delegate_failures_total (counter; step, reason): failed delegate
//     calls, reason is error, timeout, status or empty.
//
// Labels never include run IDs, so cardinality stays bounded by workflow
// shape.
//
//	registry := prometheus.NewRegistry()
//	metrics := graph.NewPrometheusMetrics(registry)
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
//
// All methods are safe on a nil receiver, which records nothing.
type PrometheusMetrics struct {
	inflightRuns     prometheus.Gauge
	runs             *prometheus.CounterVec
	stepLatency      *prometheus.HistogramVec
	loopPasses       *prometheus.CounterVec
	loopExits        *prometheus.CounterVec
	escalations      *prometheus.CounterVec
	delegateFailures *prometheus.CounterVec

	mu      sync.RWMutex
	enabled bool
}

// NewPrometheusMetrics creates and registers the metrics with registry.
// A nil registry means prometheus.DefaultRegisterer.
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	pm := &PrometheusMetrics{enabled: true}

	pm.inflightRuns = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "coursegraph",
		Name:      "inflight_runs",
		Help:      "Number of workflow runs currently executing",
	})

	pm.runs = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "coursegraph",
		Name:      "runs_total",
		Help:      "Finished workflow runs by outcome",
	}, []string{"status"})

	pm.stepLatency = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "coursegraph",
		Name:      "step_latency_ms",
		Help:      "Step execution duration in milliseconds",
		// Delegate calls are LLM round-trips, so the tail reaches minutes.
		Buckets: []float64{1, 10, 100, 500, 1000, 5000, 15000, 30000, 60000, 180000},
	}, []string{"step", "kind", "status"})

	pm.loopPasses = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "coursegraph",
		Name:      "loop_passes_total",
		Help:      "Loop passes started",
	}, []string{"loop"})

	pm.loopExits = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "coursegraph",
		Name:      "loop_exits_total",
		Help:      "Loop terminations by final state",
	}, []string{"loop", "state"})

	pm.escalations = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "coursegraph",
		Name:      "escalations_total",
		Help:      "Escalate signals raised by decision steps",
	}, []string{"step"})

	pm.delegateFailures = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "coursegraph",
		Name:      "delegate_failures_total",
		Help:      "Failed delegate calls by reason",
	}, []string{"step", "reason"})

	return pm
}

func (pm *PrometheusMetrics) active() bool {
	if pm == nil {
		return false
	}
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.enabled
}

func (pm *PrometheusMetrics) runStarted() {
	if !pm.active() {
		return
	}
	pm.inflightRuns.Inc()
}

func (pm *PrometheusMetrics) runFinished(status RunStatus) {
	if !pm.active() {
		return
	}
	pm.inflightRuns.Dec()
	pm.runs.WithLabelValues(string(status)).Inc()
}

func (pm *PrometheusMetrics) recordStep(s Step, latency time.Duration, status string) {
	if !pm.active() {
		return
	}
	pm.stepLatency.WithLabelValues(s.Name(), s.Kind().String(), status).Observe(float64(latency.Milliseconds()))
}

func (pm *PrometheusMetrics) recordLoopPass(loop string) {
	if !pm.active() {
		return
	}
	pm.loopPasses.WithLabelValues(loop).Inc()
}

func (pm *PrometheusMetrics) recordLoopExit(loop string, state LoopState) {
	if !pm.active() {
		return
	}
	pm.loopExits.WithLabelValues(loop, state.String()).Inc()
}

func (pm *PrometheusMetrics) recordEscalation(step string) {
	if !pm.active() {
		return
	}
	pm.escalations.WithLabelValues(step).Inc()
}

func (pm *PrometheusMetrics) recordDelegateFailure(step, reason string) {
	if !pm.active() {
		return
	}
	pm.delegateFailures.WithLabelValues(step, reason).Inc()
}

// Disable stops metric recording.
func (pm *PrometheusMetrics) Disable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = false
}

// Enable resumes metric recording after Disable.
func (pm *PrometheusMetrics) Enable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = true
}
