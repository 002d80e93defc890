// Package metrics exposes Prometheus instruments for the question pipeline.
// All methods are safe on a nil *Metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "auditrag"

// Metrics groups the pipeline instruments
type Metrics struct {
	registry *prometheus.Registry

	Requests       *prometheus.CounterVec
	StageDuration  *prometheus.HistogramVec
	Outcomes       *prometheus.CounterVec
	Discarded      prometheus.Counter
	EvidenceItems  prometheus.Histogram
	RateLimited    prometheus.Counter
	RateLimitKeys  prometheus.Gauge
	AuditFailures  prometheus.Counter
	CollaboratorUp *prometheus.GaugeVec
}

// New registers every instrument on a fresh registry, plus Go and process collectors
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Questions handled, by HTTP status",
			},
			[]string{"status"},
		),
		StageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Duration of pipeline stages in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"stage"},
		),
		Outcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "answers_total",
				Help:      "Answers composed, by outcome and confidence label",
			},
			[]string{"outcome", "confidence"},
		),
		Discarded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrieval_discarded_total",
			Help:      "Search candidates dropped below the relevance threshold or with invalid scores",
		}),
		EvidenceItems: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_evidence_items",
			Help:      "Evidence items kept per question",
			Buckets:   []float64{0, 1, 2, 3, 4, 5, 10},
		}),
		RateLimited: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests denied by the per-client sliding window",
		}),
		RateLimitKeys: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rate_limit_tracked_clients",
			Help:      "Client keys with a non-empty window",
		}),
		AuditFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_failures_total",
			Help:      "Audit entries the sink failed to store",
		}),
		CollaboratorUp: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "collaborator_up",
				Help:      "1 if the collaborator answered the last health check",
			},
			[]string{"service"},
		),
	}
}

// Handler serves the exposition format for this registry
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveRequest(status int) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(http.StatusText(status)).Inc()
}

func (m *Metrics) ObserveStage(stage string, since time.Time) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(time.Since(since).Seconds())
}

func (m *Metrics) ObserveAnswer(outcome, confidence string) {
	if m == nil {
		return
	}
	m.Outcomes.WithLabelValues(outcome, confidence).Inc()
}

func (m *Metrics) ObserveRetrieval(kept, discarded int) {
	if m == nil {
		return
	}
	m.EvidenceItems.Observe(float64(kept))
	m.Discarded.Add(float64(discarded))
}

func (m *Metrics) ObserveRateLimited() {
	if m == nil {
		return
	}
	m.RateLimited.Inc()
}

func (m *Metrics) SetTrackedClients(n int) {
	if m == nil {
		return
	}
	m.RateLimitKeys.Set(float64(n))
}

func (m *Metrics) ObserveAuditFailure() {
	if m == nil {
		return
	}
	m.AuditFailures.Inc()
}

func (m *Metrics) SetCollaboratorUp(service string, up bool) {
	if m == nil {
		return
	}
	v := 0.0
	if up {
		v = 1
	}
	m.CollaboratorUp.WithLabelValues(service).Set(v)
}
