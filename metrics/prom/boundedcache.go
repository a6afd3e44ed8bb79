// Package prom provides Prometheus adapters for the Metrics interfaces
// exposed by boundedcache, tasks/light, and tasks/heavy.
package prom

import (
	"github.com/flightcache/flightcache/boundedcache"
	"github.com/prometheus/client_golang/prometheus"
)

// BoundedCacheAdapter implements boundedcache.Metrics and exports
// Prometheus counters/gauges. Safe for concurrent use; all Prometheus
// metric types are goroutine-safe.
type BoundedCacheAdapter struct {
	hitPresent  prometheus.Counter
	hitAbsent   prometheus.Counter
	misses      prometheus.Counter
	invalidKeys prometheus.Counter
	evicts      *prometheus.CounterVec
	sizeEnt     prometheus.Gauge
	sizeCost    prometheus.Gauge
}

// NewBoundedCacheAdapter constructs a Prometheus metrics adapter for a
// BoundedCache.
//   - reg:         registry to register metrics with (nil => prometheus.DefaultRegisterer)
//   - ns, sub:      Prometheus namespace and subsystem
//   - constLabels:  static labels applied to all metrics (may be nil)
func NewBoundedCacheAdapter(reg prometheus.Registerer, ns, sub string, constLabels prometheus.Labels) *BoundedCacheAdapter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	a := &BoundedCacheAdapter{
		hitPresent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "hits_present_total",
			Help: "Cache hits returning a present value", ConstLabels: constLabels,
		}),
		hitAbsent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "hits_absent_total",
			Help: "Cache hits returning a cached absent marker", ConstLabels: constLabels,
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "misses_total",
			Help: "Cache misses", ConstLabels: constLabels,
		}),
		invalidKeys: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "invalid_keys_total",
			Help: "Rejected operations due to an invalid key", ConstLabels: constLabels,
		}),
		evicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "evictions_total",
			Help: "Cache evictions by reason", ConstLabels: constLabels,
		}, []string{"reason"}),
		sizeEnt: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: sub, Name: "size_entries",
			Help: "Number of resident entries", ConstLabels: constLabels,
		}),
		sizeCost: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: sub, Name: "size_cost",
			Help: "Total resident cost", ConstLabels: constLabels,
		}),
	}
	reg.MustRegister(a.hitPresent, a.hitAbsent, a.misses, a.invalidKeys, a.evicts, a.sizeEnt, a.sizeCost)
	return a
}

func (a *BoundedCacheAdapter) HitPresent() { a.hitPresent.Inc() }
func (a *BoundedCacheAdapter) HitAbsent()  { a.hitAbsent.Inc() }
func (a *BoundedCacheAdapter) Miss()       { a.misses.Inc() }
func (a *BoundedCacheAdapter) InvalidKey() { a.invalidKeys.Inc() }

func (a *BoundedCacheAdapter) Evict(reason boundedcache.EvictReason) {
	a.evicts.WithLabelValues(reason.String()).Inc()
}

func (a *BoundedCacheAdapter) Size(entries int, cost int64) {
	a.sizeEnt.Set(float64(entries))
	a.sizeCost.Set(float64(cost))
}

var _ boundedcache.Metrics = (*BoundedCacheAdapter)(nil)
