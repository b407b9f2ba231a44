package pagestore

// metrics.go mirrors the cache's thin metrics abstraction for the client:
// a no-op sink unless a registry is supplied.
//
// © 2025 pagecache authors. MIT License.

import "github.com/prometheus/client_golang/prometheus"

type clientMetricsSink interface {
	incConnect()
	incDisconnect()
	incRequest()
}

type noopClientMetrics struct{}

func (noopClientMetrics) incConnect()    {}
func (noopClientMetrics) incDisconnect() {}
func (noopClientMetrics) incRequest()    {}

type promClientMetrics struct {
	connects    prometheus.Counter
	disconnects prometheus.Counter
	requests    prometheus.Counter
}

func newClientMetrics(reg *prometheus.Registry) clientMetricsSink {
	if reg == nil {
		return noopClientMetrics{}
	}
	pm := &promClientMetrics{
		connects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pagestore",
			Name:      "connects_total",
			Help:      "Successful shard connections.",
		}),
		disconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pagestore",
			Name:      "disconnects_total",
			Help:      "Shard disconnections.",
		}),
		requests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pagestore",
			Name:      "requests_total",
			Help:      "Requests written to shard streams.",
		}),
	}
	reg.MustRegister(pm.connects, pm.disconnects, pm.requests)
	return pm
}

func (m *promClientMetrics) incConnect()    { m.connects.Inc() }
func (m *promClientMetrics) incDisconnect() { m.disconnects.Inc() }
func (m *promClientMetrics) incRequest()    { m.requests.Inc() }
