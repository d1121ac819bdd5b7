package vos

// metrics.go is a thin Prometheus abstraction for the object reference
// cache: a no-op sink when the caller does not opt in to metrics, a
// Prometheus-backed sink otherwise, so the hot path never pays for metric
// updates it can't use.
//
// ┌────────────────────────────┐
// │ Metric                     │ Type │
// ├─────────────────────────────┼──────┤
// │ vos_objcache_hits_total     │ Ctr  │
// │ vos_objcache_misses_total   │ Ctr  │
// │ vos_objcache_evictions_total│ Ctr  │
// │ vos_objcache_open           │ Gge  │
// └────────────────────────────┘

import "github.com/prometheus/client_golang/prometheus"

type cacheMetrics interface {
    incHit()
    incMiss()
    incEvict()
    setOpen(n int64)
}

type noopCacheMetrics struct{}

func (noopCacheMetrics) incHit()       {}
func (noopCacheMetrics) incMiss()      {}
func (noopCacheMetrics) incEvict()     {}
func (noopCacheMetrics) setOpen(int64) {}

type promCacheMetrics struct {
    hits      prometheus.Counter
    misses    prometheus.Counter
    evictions prometheus.Counter
    open      prometheus.Gauge
}

func newPromCacheMetrics(reg *prometheus.Registry) *promCacheMetrics {
    m := &promCacheMetrics{
        hits: prometheus.NewCounter(prometheus.CounterOpts{
            Namespace: "vos", Subsystem: "objcache", Name: "hits_total",
            Help: "Number of object cache hits.",
        }),
        misses: prometheus.NewCounter(prometheus.CounterOpts{
            Namespace: "vos", Subsystem: "objcache", Name: "misses_total",
            Help: "Number of object cache misses.",
        }),
        evictions: prometheus.NewCounter(prometheus.CounterOpts{
            Namespace: "vos", Subsystem: "objcache", Name: "evictions_total",
            Help: "Number of objects evicted by CLOCK-Pro.",
        }),
        open: prometheus.NewGauge(prometheus.GaugeOpts{
            Namespace: "vos", Subsystem: "objcache", Name: "open",
            Help: "Number of object trees currently resident in the cache.",
        }),
    }
    reg.MustRegister(m.hits, m.misses, m.evictions, m.open)
    return m
}

func (m *promCacheMetrics) incHit()        { m.hits.Inc() }
func (m *promCacheMetrics) incMiss()       { m.misses.Inc() }
func (m *promCacheMetrics) incEvict()      { m.evictions.Inc() }
func (m *promCacheMetrics) setOpen(n int64) { m.open.Set(float64(n)) }

func newCacheMetrics(reg *prometheus.Registry) cacheMetrics {
    if reg == nil {
        return noopCacheMetrics{}
    }
    return newPromCacheMetrics(reg)
}
