package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/cvclient/internal/core/domain"
)

var phases = []domain.Phase{
	domain.PhaseIdle,
	domain.PhaseUploading,
	domain.PhaseStreaming,
	domain.PhaseCompleted,
	domain.PhaseFailed,
}

type ClientMetrics struct {
	registry *prometheus.Registry
	service  string

	uploadTotal     *prometheus.CounterVec
	uploadDuration  *prometheus.HistogramVec
	eventsTotal     *prometheus.CounterVec
	parseErrors     *prometheus.CounterVec
	reconnectsTotal *prometheus.CounterVec
	chatTotal       *prometheus.CounterVec
	chatDuration    *prometheus.HistogramVec
	sessionPhase    *prometheus.GaugeVec
	breakerChanges  *prometheus.CounterVec

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge
}

func NewClientMetrics(service string) *ClientMetrics {
	registry := prometheus.NewRegistry()

	uploadTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cvclient",
			Subsystem: "batch",
			Name:      "uploads_total",
			Help:      "Total batch uploads by status.",
		},
		[]string{"service", "status"},
	)
	uploadDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cvclient",
			Subsystem: "batch",
			Name:      "upload_duration_seconds",
			Help:      "Batch upload duration in seconds by status.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"service", "status"},
	)
	eventsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cvclient",
			Subsystem: "stream",
			Name:      "events_total",
			Help:      "Total server-push events received by type.",
		},
		[]string{"service", "type"},
	)
	parseErrors := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cvclient",
			Subsystem: "stream",
			Name:      "parse_errors_total",
			Help:      "Total server-push payloads that could not be decoded.",
		},
		[]string{"service"},
	)
	reconnectsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cvclient",
			Subsystem: "stream",
			Name:      "reconnects_total",
			Help:      "Total reconnect attempts made by the supervisor.",
		},
		[]string{"service"},
	)
	chatTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cvclient",
			Subsystem: "chat",
			Name:      "requests_total",
			Help:      "Total follow-up chat requests by status.",
		},
		[]string{"service", "status"},
	)
	chatDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cvclient",
			Subsystem: "chat",
			Name:      "duration_seconds",
			Help:      "Follow-up chat round-trip duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "status"},
	)
	sessionPhase := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "cvclient",
			Subsystem: "session",
			Name:      "phase",
			Help:      "1 for the current session phase, 0 otherwise.",
		},
		[]string{"service", "phase"},
	)
	breakerChanges := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cvclient",
			Subsystem: "resilience",
			Name:      "breaker_transitions_total",
			Help:      "Circuit breaker state transitions by operation.",
		},
		[]string{"service", "operation", "to"},
	)
	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cvclient",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total outbound HTTP requests.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cvclient",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Outbound HTTP request duration in seconds until response headers.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "cvclient",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight outbound HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)

	registry.MustRegister(
		uploadTotal,
		uploadDuration,
		eventsTotal,
		parseErrors,
		reconnectsTotal,
		chatTotal,
		chatDuration,
		sessionPhase,
		breakerChanges,
		requestTotal,
		requestDuration,
		requestInFlight,
	)

	m := &ClientMetrics{
		registry:        registry,
		service:         service,
		uploadTotal:     uploadTotal,
		uploadDuration:  uploadDuration,
		eventsTotal:     eventsTotal,
		parseErrors:     parseErrors,
		reconnectsTotal: reconnectsTotal,
		chatTotal:       chatTotal,
		chatDuration:    chatDuration,
		sessionPhase:    sessionPhase,
		breakerChanges:  breakerChanges,
		requestTotal:    requestTotal,
		requestDuration: requestDuration,
		requestInFlight: requestInFlight,
	}
	m.ObservePhase(domain.PhaseIdle)
	return m
}

func (m *ClientMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *ClientMetrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *ClientMetrics) ObserveUpload(duration time.Duration, err error) {
	status := statusLabel(err)
	m.uploadTotal.WithLabelValues(m.service, status).Inc()
	m.uploadDuration.WithLabelValues(m.service, status).Observe(duration.Seconds())
}

func (m *ClientMetrics) ObserveEvent(eventType domain.EventType) {
	t := string(eventType)
	if t == "" {
		t = "unknown"
	}
	m.eventsTotal.WithLabelValues(m.service, t).Inc()
}

func (m *ClientMetrics) ObserveParseError() {
	m.parseErrors.WithLabelValues(m.service).Inc()
}

func (m *ClientMetrics) ObserveReconnect() {
	m.reconnectsTotal.WithLabelValues(m.service).Inc()
}

func (m *ClientMetrics) ObserveChat(duration time.Duration, err error) {
	status := statusLabel(err)
	m.chatTotal.WithLabelValues(m.service, status).Inc()
	m.chatDuration.WithLabelValues(m.service, status).Observe(duration.Seconds())
}

func (m *ClientMetrics) ObservePhase(phase domain.Phase) {
	for _, p := range phases {
		value := 0.0
		if p == phase {
			value = 1
		}
		m.sessionPhase.WithLabelValues(m.service, string(p)).Set(value)
	}
}

// BreakerStateChanged matches resilience.Config.OnStateChange.
func (m *ClientMetrics) BreakerStateChanged(operation, _, to string) {
	m.breakerChanges.WithLabelValues(m.service, operation, to).Inc()
}

func statusLabel(err error) string {
	if err == nil {
		return "success"
	}
	if kind := domain.KindName(err); kind != "unknown" {
		return kind
	}
	return "error"
}
