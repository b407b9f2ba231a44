package lfc

// metrics.go contains a thin abstraction over Prometheus so that the cache
// can be used with or without metrics.  When the user passes a registry via
// WithMetrics we register real collectors; otherwise a no-op sink is used and
// the hot path does not pay for metric updates.
//
// ┌──────────────────────────────┬──────┐
// │ Metric                       │ Type │
// ├──────────────────────────────┼──────┤
// │ lfc_hits_total               │ Ctr  │
// │ lfc_misses_total             │ Ctr  │
// │ lfc_evictions_total          │ Ctr  │
// │ lfc_used_chunks              │ Gge  │
// │ lfc_size_chunks              │ Gge  │
// └──────────────────────────────┴──────┘
//
// © 2025 pagecache authors. MIT License.

import (
	"github.com/prometheus/client_golang/prometheus"
)

// metricsSink is internal; the cache only knows about these methods.
type metricsSink interface {
	incHit()
	incMiss()
	incEvict()
	setUsedChunks(uint32)
	setSizeChunks(uint32)
}

/*
   ---------------- No-op implementation ----------------
*/

type noopMetrics struct{}

func (noopMetrics) incHit()              {}
func (noopMetrics) incMiss()             {}
func (noopMetrics) incEvict()            {}
func (noopMetrics) setUsedChunks(uint32) {}
func (noopMetrics) setSizeChunks(uint32) {}

/*
   ---------------- Prometheus implementation ----------------
*/

type promMetrics struct {
	hits      prometheus.Counter
	misses    prometheus.Counter
	evictions prometheus.Counter
	used      prometheus.Gauge
	size      prometheus.Gauge
}

func newPromMetrics(reg *prometheus.Registry) *promMetrics {
	pm := &promMetrics{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lfc",
			Name:      "hits_total",
			Help:      "Number of pages served from the local file cache.",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lfc",
			Name:      "misses_total",
			Help:      "Number of lookups that fell through to the page store.",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lfc",
			Name:      "evictions_total",
			Help:      "Number of chunks displaced or discarded.",
		}),
		used: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lfc",
			Name:      "used_chunks",
			Help:      "Live chunks in the cache.",
		}),
		size: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lfc",
			Name:      "size_chunks",
			Help:      "Chunk slots ever allocated in the slab.",
		}),
	}
	reg.MustRegister(pm.hits, pm.misses, pm.evictions, pm.used, pm.size)
	return pm
}

func (m *promMetrics) incHit()                { m.hits.Inc() }
func (m *promMetrics) incMiss()               { m.misses.Inc() }
func (m *promMetrics) incEvict()              { m.evictions.Inc() }
func (m *promMetrics) setUsedChunks(n uint32) { m.used.Set(float64(n)) }
func (m *promMetrics) setSizeChunks(n uint32) { m.size.Set(float64(n)) }

// newMetricsSink decides which implementation to use.
func newMetricsSink(reg *prometheus.Registry) metricsSink {
	if reg == nil {
		return noopMetrics{}
	}
	return newPromMetrics(reg)
}
