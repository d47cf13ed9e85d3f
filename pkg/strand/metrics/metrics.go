// Package metrics exposes Prometheus collectors for the server, client and
// connection pool.
//
// A nil *Metrics is valid and records nothing, so components take an
// optional *Metrics without guarding every call site.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "strand"

// Metrics holds the engine collectors.
type Metrics struct {
	connsAccepted prometheus.Counter
	connsActive   prometheus.Gauge
	requests      *prometheus.CounterVec
	parseErrors   *prometheus.CounterVec
	handlerErrors prometheus.Counter
	duration      prometheus.Histogram
	handedOver    prometheus.Counter

	poolHits      prometheus.Counter
	poolMisses    prometheus.Counter
	poolEvictions *prometheus.CounterVec
	poolIdle      prometheus.Gauge
	clientRetries prometheus.Counter
}

// New registers the collectors with reg. A nil reg uses
// prometheus.DefaultRegisterer; an empty namespace uses DefaultNamespace.
func New(reg prometheus.Registerer, namespace string) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}
	f := promauto.With(reg)

	return &Metrics{
		connsAccepted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "connections_accepted_total",
			Help:      "Total number of accepted connections",
		}),
		connsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "connections_active",
			Help:      "Connections currently owned by a worker",
		}),
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "requests_total",
			Help:      "Total number of responses written, by status class",
		}, []string{"class"}),
		parseErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "parse_errors_total",
			Help:      "Total number of malformed requests, by error kind",
		}, []string{"kind"}),
		handlerErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "handler_errors_total",
			Help:      "Total number of handler errors and panics",
		}),
		duration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "request_duration_seconds",
			Help:      "Time from request parsed to response flushed",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
		handedOver: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "connections_handed_over_total",
			Help:      "Total number of connections released after a protocol switch",
		}),

		poolHits: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client_pool",
			Name:      "hits_total",
			Help:      "Total number of requests served on a pooled connection",
		}),
		poolMisses: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client_pool",
			Name:      "misses_total",
			Help:      "Total number of requests that had to dial",
		}),
		poolEvictions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client_pool",
			Name:      "evictions_total",
			Help:      "Total number of idle connections closed by the pool, by reason",
		}, []string{"reason"}),
		poolIdle: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "client_pool",
			Name:      "idle_connections",
			Help:      "Idle connections currently held by the pool",
		}),
		clientRetries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "stale_retries_total",
			Help:      "Total number of requests retried after a stale pooled connection",
		}),
	}
}

// ConnAccepted records an accepted connection.
func (m *Metrics) ConnAccepted() {
	if m == nil {
		return
	}
	m.connsAccepted.Inc()
	m.connsActive.Inc()
}

// ConnClosed records the end of a connection's ownership by the server.
func (m *Metrics) ConnClosed() {
	if m == nil {
		return
	}
	m.connsActive.Dec()
}

// ObserveRequest records a written response.
func (m *Metrics) ObserveRequest(status int, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(statusClass(status)).Inc()
	m.duration.Observe(d.Seconds())
}

// ParseError records a malformed request.
func (m *Metrics) ParseError(kind string) {
	if m == nil {
		return
	}
	m.parseErrors.WithLabelValues(kind).Inc()
}

// HandlerError records a failed or panicking handler.
func (m *Metrics) HandlerError() {
	if m == nil {
		return
	}
	m.handlerErrors.Inc()
}

// HandedOver records a takeover.
func (m *Metrics) HandedOver() {
	if m == nil {
		return
	}
	m.handedOver.Inc()
}

// PoolHit records a reused connection.
func (m *Metrics) PoolHit() {
	if m == nil {
		return
	}
	m.poolHits.Inc()
}

// PoolMiss records a dial.
func (m *Metrics) PoolMiss() {
	if m == nil {
		return
	}
	m.poolMisses.Inc()
}

// PoolEvicted records an idle connection closed for reason
// ("ttl", "overflow", "dead", "closed").
func (m *Metrics) PoolEvicted(reason string) {
	if m == nil {
		return
	}
	m.poolEvictions.WithLabelValues(reason).Inc()
}

// PoolIdle adjusts the idle connection gauge by delta.
func (m *Metrics) PoolIdle(delta int) {
	if m == nil {
		return
	}
	m.poolIdle.Add(float64(delta))
}

// ClientRetry records a transparent retry.
func (m *Metrics) ClientRetry() {
	if m == nil {
		return
	}
	m.clientRetries.Inc()
}

func statusClass(status int) string {
	if status < 100 || status > 599 {
		return "other"
	}
	return strconv.Itoa(status/100) + "xx"
}
