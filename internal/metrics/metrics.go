// Package metrics holds the Prometheus collectors for the atlas server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Assignment outcomes.
const (
	OutcomeAssigned   = "assigned"
	OutcomeUnassigned = "unassigned"
	OutcomeRejected   = "rejected"
)

// Metrics is a private registry plus every collector the server records to.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	reg *prometheus.Registry

	HTTPRequests        *prometheus.CounterVec
	HTTPDuration        *prometheus.HistogramVec
	Assignments         *prometheus.CounterVec
	AssignmentScore     prometheus.Histogram
	CoordinationBatch   prometheus.Histogram
	SwarmsFormed        prometheus.Counter
	QueueDepth          *prometheus.GaugeVec
	RealtimeSubscribers prometheus.Gauge
	RealtimeBatches     prometheus.Counter
	AIRequests          *prometheus.CounterVec
	AIDuration          prometheus.Histogram
	CacheLookups        *prometheus.CounterVec
}

// New creates the collectors on a fresh registry, including Go runtime and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "atlas_http_requests_total",
			Help: "HTTP requests by route, method and status code",
		}, []string{"route", "method", "code"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "atlas_http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
		}, []string{"route"}),
		Assignments: f.NewCounterVec(prometheus.CounterOpts{
			Name: "atlas_assignments_total",
			Help: "Task assignment attempts by outcome",
		}, []string{"outcome"}),
		AssignmentScore: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "atlas_assignment_score",
			Help:    "Total score of accepted assignments",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		}),
		CoordinationBatch: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "atlas_coordination_batch_size",
			Help:    "Tasks per coordination request",
			Buckets: prometheus.ExponentialBuckets(1, 2, 8),
		}),
		SwarmsFormed: f.NewCounter(prometheus.CounterOpts{
			Name: "atlas_swarms_formed_total",
			Help: "Swarms formed",
		}),
		QueueDepth: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "atlas_queue_entries",
			Help: "Orchestration queue rows by status, as of the last status read",
		}, []string{"status"}),
		RealtimeSubscribers: f.NewGauge(prometheus.GaugeOpts{
			Name: "atlas_realtime_subscribers",
			Help: "Open realtime subscriptions",
		}),
		RealtimeBatches: f.NewCounter(prometheus.CounterOpts{
			Name: "atlas_realtime_batches_total",
			Help: "Coalesced change batches delivered",
		}),
		AIRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "atlas_ai_requests_total",
			Help: "AI gateway completions by kind and outcome",
		}, []string{"kind", "outcome"}),
		AIDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "atlas_ai_request_duration_seconds",
			Help:    "AI gateway completion latency",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~100s
		}),
		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "atlas_cache_lookups_total",
			Help: "Cache lookups by result",
		}, []string{"result"}),
	}
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// ObserveHTTP records one finished request.
func (m *Metrics) ObserveHTTP(route, method string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	m.HTTPDuration.WithLabelValues(route).Observe(d.Seconds())
}

// ObserveAssignment records an accepted assignment and its score.
func (m *Metrics) ObserveAssignment(score float64) {
	if m == nil {
		return
	}
	m.Assignments.WithLabelValues(OutcomeAssigned).Inc()
	m.AssignmentScore.Observe(score)
}

// CountAssignments adds n attempts with the given outcome.
func (m *Metrics) CountAssignments(outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.Assignments.WithLabelValues(outcome).Add(float64(n))
}

// ObserveBatch records the size of a coordination request.
func (m *Metrics) ObserveBatch(n int) {
	if m == nil {
		return
	}
	m.CoordinationBatch.Observe(float64(n))
}

// SwarmFormed counts a formed swarm.
func (m *Metrics) SwarmFormed() {
	if m == nil {
		return
	}
	m.SwarmsFormed.Inc()
}

// SetQueueDepth publishes queue counts per status.
func (m *Metrics) SetQueueDepth(byStatus map[string]int) {
	if m == nil {
		return
	}
	for status, n := range byStatus {
		m.QueueDepth.WithLabelValues(status).Set(float64(n))
	}
}

// SubscriberDelta moves the realtime subscriber gauge.
func (m *Metrics) SubscriberDelta(d int) {
	if m == nil {
		return
	}
	m.RealtimeSubscribers.Add(float64(d))
}

// BatchDelivered counts one realtime batch.
func (m *Metrics) BatchDelivered() {
	if m == nil {
		return
	}
	m.RealtimeBatches.Inc()
}

// ObserveAI records one AI gateway call.
func (m *Metrics) ObserveAI(kind string, err error, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.AIRequests.WithLabelValues(kind, outcome).Inc()
	m.AIDuration.Observe(d.Seconds())
}

// CacheResult counts a cache hit or miss.
func (m *Metrics) CacheResult(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}
