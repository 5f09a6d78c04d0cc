package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	ActiveSessions        prometheus.Gauge
	SessionEvents         *prometheus.CounterVec
	WSMessages            *prometheus.CounterVec
	ProviderErrors        *prometheus.CounterVec
	TriageRequests        *prometheus.CounterVec
	TriageActions         *prometheus.CounterVec
	TriageLatency         prometheus.Histogram
	ProtocolViolations    *prometheus.CounterVec
	SubmissionTransitions *prometheus.CounterVec
	AnchorLatency         prometheus.Histogram

	stages *stageWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of active intake sessions.",
		}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session events by type.",
		}, []string{"event"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		ProviderErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Upstream provider errors by provider and code.",
		}, []string{"provider", "code"}),
		TriageRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "triage_requests_total",
			Help:      "Triage requests by outcome.",
		}, []string{"outcome"}),
		TriageActions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "triage_actions_total",
			Help:      "Decoded triage actions.",
		}, []string{"action"}),
		TriageLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "triage_latency_ms",
			Help:      "Reasoning round-trip latency in milliseconds.",
			Buckets:   []float64{250, 500, 1000, 2000, 4000, 8000, 15000, 30000},
		}),
		ProtocolViolations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_violations_total",
			Help:      "Replies that broke the triage marker grammar, by kind.",
		}, []string{"kind"}),
		SubmissionTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submission_transitions_total",
			Help:      "Submission state transitions.",
		}, []string{"from", "to"}),
		AnchorLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "anchor_latency_ms",
			Help:      "Ledger anchoring latency in milliseconds.",
			Buckets:   []float64{10, 50, 100, 250, 500, 1000, 5000, 20000},
		}),
		stages: newStageWindow(256),
	}
}

func (m *Metrics) ObserveTriage(outcome, action string, d time.Duration) {
	if m == nil {
		return
	}
	m.TriageRequests.WithLabelValues(outcome).Inc()
	if action != "" {
		m.TriageActions.WithLabelValues(action).Inc()
	}
	if d > 0 {
		m.TriageLatency.Observe(float64(d.Milliseconds()))
		m.stages.Observe(StageTriage, float64(d.Milliseconds()))
	}
}

func (m *Metrics) ObserveViolation(kind string) {
	if m == nil {
		return
	}
	m.ProtocolViolations.WithLabelValues(kind).Inc()
	m.stages.ObserveIndicator("violation_" + kind)
}

func (m *Metrics) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	m.SubmissionTransitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) ObserveAnchor(d time.Duration) {
	if m == nil {
		return
	}
	m.AnchorLatency.Observe(float64(d.Milliseconds()))
	m.stages.Observe(StageAnchor, float64(d.Milliseconds()))
}

func (m *Metrics) ObserveProviderError(provider, code string) {
	if m == nil {
		return
	}
	m.ProviderErrors.WithLabelValues(provider, code).Inc()
}

func (m *Metrics) ObserveSessionEvent(event string) {
	if m == nil {
		return
	}
	m.SessionEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) ObserveWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(n))
}

// ObserveStage records a latency sample in the rolling stage window served by
// the perf endpoint.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stages.Observe(stage, float64(d.Microseconds())/1000)
}

func (m *Metrics) ObserveIndicator(name string) {
	if m == nil {
		return
	}
	m.stages.ObserveIndicator(name)
}

func (m *Metrics) StageSnapshot() StageSnapshot {
	if m == nil {
		return StageSnapshot{GeneratedAt: time.Now().UTC(), Stages: []StageStats{}}
	}
	return m.stages.Snapshot()
}

func (m *Metrics) ResetStages() {
	if m == nil {
		return
	}
	m.stages.Reset()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
