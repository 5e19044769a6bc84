package relay

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"n8n-relay/middleware/ratelimit/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics guarda as métricas Prometheus do relay num registry próprio.
// Um *Metrics nil é válido e não registra nada.
type Metrics struct {
	requests  *prometheus.CounterVec
	upstream  *prometheus.HistogramVec
	decisions *prometheus.CounterVec
	slotWait  *prometheus.HistogramVec
	inFlight  prometheus.Gauge

	registry *prometheus.Registry
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_requests_total",
				Help: "Requests to /api/send by outcome",
			},
			[]string{"outcome"},
		),
		upstream: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relay_upstream_duration_seconds",
				Help:    "Latency of the webhook call by status class",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"status"},
		),
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_ratelimit_decisions_total",
				Help: "Rate limit decisions on /api/send by reason",
			},
			[]string{"decision"},
		),
		slotWait: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relay_slot_wait_seconds",
				Help:    "Time spent waiting for a webhook call slot",
				Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5},
			},
			[]string{"acquired"},
		),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_inflight_requests",
			Help: "Webhook calls currently holding a slot",
		}),
		registry: registry,
	}

	registry.MustRegister(m.requests, m.upstream, m.decisions, m.slotWait, m.inFlight)
	return m
}

func (m *Metrics) RecordOutcome(outcome string) {
	if m == nil || outcome == "" {
		return
	}
	m.requests.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveUpstream(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.upstream.WithLabelValues(status).Observe(d.Seconds())
}

// Record implementa domain.StatsStore: uma série por motivo da decisão.
// Não usa a Key como label (cardinalidade).
func (m *Metrics) Record(_ context.Context, ev domain.StatsEvent) error {
	if m == nil || ev.Reason == "" {
		return nil
	}
	m.decisions.WithLabelValues(string(ev.Reason)).Inc()
	return nil
}

// ObserveSlotWait, SlotAcquired e SlotReleased implementam domain.SlotObserver.
func (m *Metrics) ObserveSlotWait(d time.Duration, acquired bool) {
	if m == nil {
		return
	}
	m.slotWait.WithLabelValues(strconv.FormatBool(acquired)).Observe(d.Seconds())
}

func (m *Metrics) SlotAcquired() {
	if m != nil {
		m.inFlight.Inc()
	}
}

func (m *Metrics) SlotReleased() {
	if m != nil {
		m.inFlight.Dec()
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
