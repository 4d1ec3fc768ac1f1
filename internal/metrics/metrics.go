// Package metrics exposes the Prometheus collectors for the intake core.
// All recording methods are nil-receiver safe so components can run without
// metrics wired (tests, one-shot CLI drains).
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Buckets for drain and webhook durations, in seconds.
var durationBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60}

type Metrics struct {
	registry *prometheus.Registry

	claimsTotal        *prometheus.CounterVec
	drainMessagesTotal *prometheus.CounterVec
	drainsTotal        prometheus.Counter
	drainDuration      prometheus.Histogram
	webhookDuration    *prometheus.HistogramVec
	queueDepth         *prometheus.GaugeVec
	slotStatus         *prometheus.GaugeVec
	reapedTotal        prometheus.Counter
}

func New(namespace string) *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: registry,

		claimsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "claims_total",
				Help:      "Slot claim attempts by pool and outcome",
			},
			[]string{"pool", "outcome"},
		),
		drainMessagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "drain_messages_total",
				Help:      "Messages handled by the bridge worker, by outcome",
			},
			[]string{"outcome"},
		),
		drainsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "drains_total",
				Help:      "Bridge worker invocations",
			},
		),
		drainDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "drain_duration_seconds",
				Help:      "Wall time of one bridge worker invocation",
				Buckets:   durationBuckets,
			},
		),
		webhookDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "webhook_duration_seconds",
				Help:      "Outbound webhook latency by kind and result",
				Buckets:   durationBuckets,
			},
			[]string{"kind", "result"},
		),
		queueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queue_depth",
				Help:      "Messages currently in a queue (set by the snapshot job)",
			},
			[]string{"queue"},
		),
		slotStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "slots",
				Help:      "Slot rows by status (set by the snapshot job)",
			},
			[]string{"status"},
		),
		reapedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reaped_slots_total",
				Help:      "Orphaned slots returned to the pool by the reaper",
			},
		),
	}

	registry.MustRegister(
		m.claimsTotal,
		m.drainMessagesTotal,
		m.drainsTotal,
		m.drainDuration,
		m.webhookDuration,
		m.queueDepth,
		m.slotStatus,
		m.reapedTotal,
	)
	return m
}

// Handler serves the metrics in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveClaim records a claim attempt. Outcomes: claimed, sold_out, error.
func (m *Metrics) ObserveClaim(pool, outcome string) {
	if m == nil {
		return
	}
	m.claimsTotal.WithLabelValues(pool, outcome).Inc()
}

// ObserveDrain records one bridge worker invocation.
func (m *Metrics) ObserveDrain(processed, dlq, total int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.drainsTotal.Inc()
	m.drainDuration.Observe(elapsed.Seconds())
	m.drainMessagesTotal.WithLabelValues("processed").Add(float64(processed))
	m.drainMessagesTotal.WithLabelValues("dlq").Add(float64(dlq))
	if requeued := total - processed - dlq; requeued > 0 {
		m.drainMessagesTotal.WithLabelValues("requeued").Add(float64(requeued))
	}
}

// ObserveWebhook records one outbound webhook delivery.
func (m *Metrics) ObserveWebhook(kind string, elapsed time.Duration, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.webhookDuration.WithLabelValues(kind, result).Observe(elapsed.Seconds())
}

// SetQueueDepth publishes the snapshot job's depth reading.
func (m *Metrics) SetQueueDepth(queue string, depth int64) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(queue).Set(float64(depth))
}

// SetSlotStatus publishes the snapshot job's slot count for one status.
func (m *Metrics) SetSlotStatus(status string, n int64) {
	if m == nil {
		return
	}
	m.slotStatus.WithLabelValues(status).Set(float64(n))
}

// AddReaped counts slots the reaper returned to the pool.
func (m *Metrics) AddReaped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.reapedTotal.Add(float64(n))
}
