package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service, plus the
// in-process latency window served on the perf endpoint.
type Metrics struct {
	Requests       *prometheus.CounterVec
	StageLatency   *prometheus.HistogramVec
	UpstreamErrors *prometheus.CounterVec
	Warmups        *prometheus.CounterVec
	WSMessages     *prometheus.CounterVec
	InFlight       prometheus.Gauge

	Window *StageWindow

	registry *prometheus.Registry
}

// NewMetrics registers every instrument on reg. A nil reg gets a fresh
// registry carrying the Go runtime and process collectors.
func NewMetrics(namespace string, reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	f := promauto.With(reg)

	return &Metrics{
		Requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Handled requests by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		StageLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_latency_seconds",
			Help:      "Generate pipeline latency by stage.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 16, 32},
		}, []string{"stage"}),
		UpstreamErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_errors_total",
			Help:      "Backend failures by backend and kind.",
		}, []string{"backend", "kind"}),
		Warmups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_warmups_total",
			Help:      "Startup LLM warm-up attempts by outcome.",
		}, []string{"outcome"}),
		WSMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		InFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "generate_in_flight",
			Help:      "Generate requests currently running.",
		}),
		Window:   NewStageWindow(256),
		registry: reg,
	}
}

// ObserveStage records d in both the histogram and the rolling window.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageLatency.WithLabelValues(stage).Observe(d.Seconds())
	m.Window.Observe(stage, d)
}

// CountRequest records the outcome of one request.
func (m *Metrics) CountRequest(endpoint, outcome string) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(endpoint, outcome).Inc()
	m.Window.CountOutcome(outcome)
}

func (m *Metrics) CountUpstreamError(backend, kind string) {
	if m == nil {
		return
	}
	m.UpstreamErrors.WithLabelValues(backend, kind).Inc()
}

func (m *Metrics) CountWarmup(outcome string) {
	if m == nil {
		return
	}
	m.Warmups.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
