package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type clientMetrics struct {
	requests   *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	blacklists *prometheus.CounterVec
	refreshes  *prometheus.CounterVec
	nodes      *prometheus.GaugeVec
	throttles  *prometheus.CounterVec
}

var (
	clientMetricsOnce sync.Once
	clientRegistry    *clientMetrics
)

// ClientMetrics returns the lazily-initialised metrics registry used by the
// request engine, the node selector and the gateway.
func ClientMetrics() *clientMetrics {
	clientMetricsOnce.Do(func() {
		clientRegistry = &clientMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "trustclient",
				Subsystem: "request",
				Name:      "total",
				Help:      "Total client requests segmented by method and outcome.",
			}, []string{"method", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "trustclient",
				Subsystem: "request",
				Name:      "duration_seconds",
				Help:      "Latency distribution of client requests including retries.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
			blacklists: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "trustclient",
				Subsystem: "nodes",
				Name:      "blacklisted_total",
				Help:      "Count of node blacklistings segmented by chain and reason.",
			}, []string{"chain", "reason"}),
			refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "trustclient",
				Subsystem: "nodes",
				Name:      "refreshes_total",
				Help:      "Count of node list and whitelist refreshes segmented by kind and outcome.",
			}, []string{"chain", "kind", "outcome"}),
			nodes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "trustclient",
				Subsystem: "nodes",
				Name:      "known",
				Help:      "Number of nodes in the registry of a chain.",
			}, []string{"chain"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "trustclient",
				Subsystem: "gateway",
				Name:      "throttles_total",
				Help:      "Count of gateway requests rejected due to throttling policies.",
			}, []string{"reason"}),
		}
		prometheus.MustRegister(
			clientRegistry.requests,
			clientRegistry.latency,
			clientRegistry.blacklists,
			clientRegistry.refreshes,
			clientRegistry.nodes,
			clientRegistry.throttles,
		)
	})
	return clientRegistry
}

// ObserveRequest records the outcome of one client request.
func (m *clientMetrics) ObserveRequest(method string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.requests.WithLabelValues(method, outcome).Inc()
	m.latency.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordBlacklist counts a blacklisting. Reasons should be stable strings.
func (m *clientMetrics) RecordBlacklist(chain, reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.blacklists.WithLabelValues(chain, reason).Inc()
}

// RecordRefresh counts a node list ("nodelist") or whitelist ("whitelist")
// refresh and whether it succeeded.
func (m *clientMetrics) RecordRefresh(chain, kind string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.refreshes.WithLabelValues(chain, kind, outcome).Inc()
}

// SetNodes publishes the registry size of a chain.
func (m *clientMetrics) SetNodes(chain string, n int) {
	if m == nil {
		return
	}
	m.nodes.WithLabelValues(chain).Set(float64(n))
}

// RecordThrottle increments the throttle counter for the supplied reason.
func (m *clientMetrics) RecordThrottle(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(reason).Inc()
}
