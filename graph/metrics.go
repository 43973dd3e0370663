package graph

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics exposes engine metrics under the "hitl" namespace.
//
// Metrics:
//   - step_latency_ms{graph,node,status}: node execution time; status is
//     success, error, interrupted or timeout
//   - steps_total{graph,node,status}
//   - interrupts_total{graph,node} and resumes_total{graph,node}
//   - runs_total{graph,outcome}: outcome is done, interrupted or error
//   - retries_total{graph,node}
//   - checkpoint_writes_total{graph,status}
//   - store_reconnects_total{reason}
//   - active_runs: runs currently executing in this process
//
// Thread ids are deliberately not labels; they are unbounded.
type PrometheusMetrics struct {
	stepLatency     *prometheus.HistogramVec
	steps           *prometheus.CounterVec
	interrupts      *prometheus.CounterVec
	resumes         *prometheus.CounterVec
	runs            *prometheus.CounterVec
	retries         *prometheus.CounterVec
	checkpoints     *prometheus.CounterVec
	storeReconnects *prometheus.CounterVec
	activeRuns      prometheus.Gauge

	mu      sync.RWMutex
	enabled bool
}

// NewPrometheusMetrics registers the metrics with registry, or with the
// default registerer when registry is nil.
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &PrometheusMetrics{
		enabled: true,
		stepLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "hitl",
			Name:      "step_latency_ms",
			Help:      "Node execution duration in milliseconds",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 30000},
		}, []string{"graph", "node", "status"}),
		steps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hitl",
			Name:      "steps_total",
			Help:      "Node executions by outcome",
		}, []string{"graph", "node", "status"}),
		interrupts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hitl",
			Name:      "interrupts_total",
			Help:      "Runs suspended waiting for external input",
		}, []string{"graph", "node"}),
		resumes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hitl",
			Name:      "resumes_total",
			Help:      "Suspended runs resumed with a value",
		}, []string{"graph", "node"}),
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hitl",
			Name:      "runs_total",
			Help:      "Run and Resume calls by outcome",
		}, []string{"graph", "outcome"}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hitl",
			Name:      "retries_total",
			Help:      "Node retry attempts",
		}, []string{"graph", "node"}),
		checkpoints: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hitl",
			Name:      "checkpoint_writes_total",
			Help:      "Checkpoint writes by cursor status",
		}, []string{"graph", "status"}),
		storeReconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hitl",
			Name:      "store_reconnects_total",
			Help:      "Checkpoint store handles replaced after a failed probe",
		}, []string{"reason"}),
		activeRuns: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "hitl",
			Name:      "active_runs",
			Help:      "Runs currently executing",
		}),
	}
}

func (pm *PrometheusMetrics) on() bool {
	if pm == nil {
		return false
	}
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.enabled
}

// RecordStep records one node execution.
func (pm *PrometheusMetrics) RecordStep(graphName, node string, latency time.Duration, status string) {
	if !pm.on() {
		return
	}
	pm.stepLatency.WithLabelValues(graphName, node, status).Observe(float64(latency.Milliseconds()))
	pm.steps.WithLabelValues(graphName, node, status).Inc()
}

// IncrementInterrupts counts a suspension.
func (pm *PrometheusMetrics) IncrementInterrupts(graphName, node string) {
	if !pm.on() {
		return
	}
	pm.interrupts.WithLabelValues(graphName, node).Inc()
}

// IncrementResumes counts a resume.
func (pm *PrometheusMetrics) IncrementResumes(graphName, node string) {
	if !pm.on() {
		return
	}
	pm.resumes.WithLabelValues(graphName, node).Inc()
}

// RecordRun counts a finished Run or Resume call.
func (pm *PrometheusMetrics) RecordRun(graphName, outcome string) {
	if !pm.on() {
		return
	}
	pm.runs.WithLabelValues(graphName, outcome).Inc()
}

// IncrementRetries counts a node retry.
func (pm *PrometheusMetrics) IncrementRetries(graphName, node string) {
	if !pm.on() {
		return
	}
	pm.retries.WithLabelValues(graphName, node).Inc()
}

// IncrementCheckpoints counts a checkpoint write.
func (pm *PrometheusMetrics) IncrementCheckpoints(graphName, status string) {
	if !pm.on() {
		return
	}
	pm.checkpoints.WithLabelValues(graphName, status).Inc()
}

// IncrementStoreReconnects implements store.ReconnectObserver.
func (pm *PrometheusMetrics) IncrementStoreReconnects(reason string) {
	if !pm.on() {
		return
	}
	pm.storeReconnects.WithLabelValues(reason).Inc()
}

// runStarted reports whether the run was counted; the same answer must be
// passed to runFinished so the gauge stays balanced across Disable/Enable.
func (pm *PrometheusMetrics) runStarted() bool {
	if !pm.on() {
		return false
	}
	pm.activeRuns.Inc()
	return true
}

func (pm *PrometheusMetrics) runFinished(counted bool) {
	if counted {
		pm.activeRuns.Dec()
	}
}

// Disable stops recording without unregistering.
func (pm *PrometheusMetrics) Disable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = false
}

// Enable resumes recording.
func (pm *PrometheusMetrics) Enable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = true
}
