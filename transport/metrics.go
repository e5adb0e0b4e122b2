package transport

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for a Transport. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	requestsSent  *prometheus.CounterVec
	repliesTotal  *prometheus.CounterVec
	notifications prometheus.Counter
	dropTotal     prometheus.Counter
	failures      *prometheus.CounterVec
	pending       prometheus.Gauge
	queued        prometheus.Gauge
}

// NewMetrics creates the transport metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		requestsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wsrpc",
			Subsystem: "transport",
			Name:      "requests_sent_total",
			Help:      "Total payloads written to the connection",
		}, []string{"method"}),

		repliesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wsrpc",
			Subsystem: "transport",
			Name:      "replies_resolved_total",
			Help:      "Total replies matched to a pending request",
		}, []string{"method"}),

		notifications: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wsrpc",
			Subsystem: "transport",
			Name:      "notifications_total",
			Help:      "Total push notifications delivered to listeners",
		}),

		dropTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wsrpc",
			Subsystem: "transport",
			Name:      "messages_dropped_total",
			Help:      "Total messages matching neither a pending id nor the notification marker",
		}),

		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wsrpc",
			Subsystem: "transport",
			Name:      "failed_requests_total",
			Help:      "Total pending requests failed in bulk",
		}, []string{"reason"}),

		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "wsrpc",
			Subsystem: "transport",
			Name:      "pending_requests",
			Help:      "Requests waiting for a reply",
		}),

		queued: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "wsrpc",
			Subsystem: "transport",
			Name:      "queued_payloads",
			Help:      "Payloads waiting for the connection to open",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.requestsSent, m.repliesTotal, m.notifications, m.dropTotal, m.failures, m.pending, m.queued,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) sent(method string, pending int) {
	if m == nil {
		return
	}
	m.requestsSent.WithLabelValues(method).Inc()
	m.pending.Set(float64(pending))
}

func (m *Metrics) resolved(method string, pending int) {
	if m == nil {
		return
	}
	m.repliesTotal.WithLabelValues(method).Inc()
	m.pending.Set(float64(pending))
}

func (m *Metrics) notification() {
	if m == nil {
		return
	}
	m.notifications.Inc()
}

func (m *Metrics) dropped() {
	if m == nil {
		return
	}
	m.dropTotal.Inc()
}

func (m *Metrics) failed(reason string, n int) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(reason).Add(float64(n))
	m.pending.Set(0)
	m.queued.Set(0)
}

func (m *Metrics) queueDepth(n int) {
	if m == nil {
		return
	}
	m.queued.Set(float64(n))
}
