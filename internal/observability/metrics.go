package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveSessions    prometheus.Gauge
	SessionEvents     *prometheus.CounterVec
	Turns             *prometheus.CounterVec
	StepRuns          *prometheus.CounterVec
	Intents           *prometheus.CounterVec
	GenerationErrors  *prometheus.CounterVec
	PersistenceErrors *prometheus.CounterVec
	WSMessages        *prometheus.CounterVec
	TurnLatency       prometheus.Histogram
	GenerationLatency prometheus.Histogram
	steps             *stepWindow
}

func NewMetrics(namespace string) *Metrics {
	return NewMetricsWithRegisterer(namespace, prometheus.DefaultRegisterer)
}

// NewMetricsWithRegisterer registers instruments on reg; tests pass a fresh registry.
func NewMetricsWithRegisterer(namespace string, reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of conversation sessions currently held by the session store.",
		}),
		SessionEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session events by type.",
		}, []string{"event"}),
		Turns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Processed user turns by outcome.",
		}, []string{"outcome"}),
		StepRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_runs_total",
			Help:      "State machine step executions by step.",
		}, []string{"step"}),
		Intents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "intents_total",
			Help:      "Classified intents by label.",
		}, []string{"intent"}),
		GenerationErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_errors_total",
			Help:      "Text generation failures by kind.",
		}, []string{"kind"}),
		PersistenceErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persistence_errors_total",
			Help:      "Persistence gateway failures by operation.",
		}, []string{"op"}),
		WSMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		TurnLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_latency_ms",
			Help:      "End-to-end latency of a user turn in milliseconds.",
			Buckets:   []float64{250, 500, 1000, 2000, 4000, 8000, 16000},
		}),
		GenerationLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_latency_ms",
			Help:      "Latency of a single text generation call in milliseconds.",
			Buckets:   []float64{100, 250, 500, 1000, 2000, 4000, 8000},
		}),
		steps: newStepWindow(256),
	}
}

func (m *Metrics) ObserveTurn(d time.Duration, outcome string) {
	if m == nil {
		return
	}
	m.Turns.WithLabelValues(outcome).Inc()
	m.TurnLatency.Observe(float64(d.Milliseconds()))
}

func (m *Metrics) ObserveStep(step string, d time.Duration) {
	if m == nil {
		return
	}
	m.StepRuns.WithLabelValues(step).Inc()
	m.steps.Observe(step, float64(d.Microseconds())/1000)
}

func (m *Metrics) ObserveGeneration(d time.Duration, err error, kind string) {
	if m == nil {
		return
	}
	m.GenerationLatency.Observe(float64(d.Milliseconds()))
	if err != nil {
		m.GenerationErrors.WithLabelValues(kind).Inc()
	}
}

// ObserveIndicator counts a named conversation event (re-prompts, endings) in the step window.
func (m *Metrics) ObserveIndicator(name string) {
	if m == nil {
		return
	}
	m.steps.ObserveIndicator(name)
}

func (m *Metrics) SnapshotSteps() StepSnapshot {
	if m == nil {
		return StepSnapshot{GeneratedAt: time.Now().UTC()}
	}
	return m.steps.Snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
