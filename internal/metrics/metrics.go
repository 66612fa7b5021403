// Package metrics defines the Prometheus instrumentation of the gateway.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the gateway collectors. A nil *Metrics records nothing.
type Metrics struct {
	requests      *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	violations    *prometheus.CounterVec
	bytesScanned  prometheus.Histogram
	policyVersion prometheus.Gauge
	gatherer      prometheus.Gatherer
}

// New registers the collectors on reg. When reg is also a Gatherer, Handler
// serves it.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	m := &Metrics{
		requests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sqlgate_requests_total",
				Help: "Gateway operations by outcome",
			},
			[]string{"operation", "outcome"},
		),
		duration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sqlgate_request_duration_seconds",
				Help:    "Gateway operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		violations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sqlgate_policy_violations_total",
				Help: "Rejections by rule",
			},
			[]string{"rule"},
		),
		bytesScanned: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "sqlgate_estimated_bytes_scanned",
			Help:    "Estimated bytes scanned per explained statement",
			Buckets: prometheus.ExponentialBuckets(1<<20, 4, 10),
		}),
		policyVersion: f.NewGauge(prometheus.GaugeOpts{
			Name: "sqlgate_policy_version",
			Help: "Version of the active policy",
		}),
	}
	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	}
	return m
}

// ObserveRequest records one finished gateway operation.
func (m *Metrics) ObserveRequest(operation, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(operation, outcome).Inc()
	m.duration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// AddViolation counts one violation of rule.
func (m *Metrics) AddViolation(rule string) {
	if m == nil {
		return
	}
	m.violations.WithLabelValues(rule).Inc()
}

// ObserveBytesScanned records a plan's estimated bytes scanned.
func (m *Metrics) ObserveBytesScanned(n int64) {
	if m == nil {
		return
	}
	m.bytesScanned.Observe(float64(n))
}

// SetPolicyVersion publishes the active policy version.
func (m *Metrics) SetPolicyVersion(v int64) {
	if m == nil {
		return
	}
	m.policyVersion.Set(float64(v))
}

// Handler serves the registry the metrics were registered on, or the
// default gatherer.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
