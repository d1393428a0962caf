// Package metricsx registers the Prometheus collectors the work queue and
// garbage collector report through. Metrics are entirely optional: when no
// registerer is supplied, Collectors is a no-op set that never touches a
// real registry, so the cache has zero metrics overhead unless a caller
// opts in.
package metricsx

import "github.com/prometheus/client_golang/prometheus"

// Collectors bundles every metric the cache reports.
type Collectors struct {
	OpsTotal          *prometheus.CounterVec
	QueueDepth        prometheus.Gauge
	GCBytesFreedTotal prometheus.Counter
	GCSweepDuration   prometheus.Histogram
}

// New constructs and registers collectors labelled with cacheIdentifier.
// If reg is nil, the returned Collectors silently discards every
// observation (all fields are still non-nil, so callers never need a
// nil-check).
func New(reg prometheus.Registerer, cacheIdentifier string) *Collectors {
	c := &Collectors{
		OpsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "blobcache_ops_total",
			Help:        "Count of cache operations by op and result.",
			ConstLabels: prometheus.Labels{"cache": cacheIdentifier},
		}, []string{"op", "result"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "blobcache_queue_depth",
			Help:        "Current number of pending work items.",
			ConstLabels: prometheus.Labels{"cache": cacheIdentifier},
		}),
		GCBytesFreedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "blobcache_gc_bytes_freed_total",
			Help:        "Cumulative bytes freed by the garbage collector.",
			ConstLabels: prometheus.Labels{"cache": cacheIdentifier},
		}),
		GCSweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "blobcache_gc_sweep_duration_seconds",
			Help:        "Wall-clock duration of each GC sweep.",
			ConstLabels: prometheus.Labels{"cache": cacheIdentifier},
			Buckets:     prometheus.DefBuckets,
		}),
	}
	if reg == nil {
		return c
	}
	reg.MustRegister(c.OpsTotal, c.QueueDepth, c.GCBytesFreedTotal, c.GCSweepDuration)
	return c
}
