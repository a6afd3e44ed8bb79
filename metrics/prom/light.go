package prom

import (
	"github.com/flightcache/flightcache/tasks/light"
	"github.com/prometheus/client_golang/prometheus"
)

// LightTaskAdapter implements light.Metrics.
type LightTaskAdapter struct {
	admitted  prometheus.Counter
	queued    prometheus.Counter
	evicted   prometheus.Counter
	completed prometheus.Counter
	cancelled prometheus.Counter
}

// NewLightTaskAdapter constructs a Prometheus metrics adapter for a
// LightTaskManager.
func NewLightTaskAdapter(reg prometheus.Registerer, ns, sub string, constLabels prometheus.Labels) *LightTaskAdapter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	a := &LightTaskAdapter{
		admitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "admitted_total",
			Help: "Provider invocations started in the running set, whether directly or from the admission queue", ConstLabels: constLabels,
		}),
		queued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "queued_total",
			Help: "Tasks placed on the admission queue", ConstLabels: constLabels,
		}),
		evicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "evicted_total",
			Help: "Tasks evicted from the admission queue by priority", ConstLabels: constLabels,
		}),
		completed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "completed_total",
			Help: "Provider invocations that ran to completion", ConstLabels: constLabels,
		}),
		cancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "cancelled_total",
			Help: "Fetches cancelled before completion", ConstLabels: constLabels,
		}),
	}
	reg.MustRegister(a.admitted, a.queued, a.evicted, a.completed, a.cancelled)
	return a
}

func (a *LightTaskAdapter) Admitted()  { a.admitted.Inc() }
func (a *LightTaskAdapter) Queued()    { a.queued.Inc() }
func (a *LightTaskAdapter) Evicted()   { a.evicted.Inc() }
func (a *LightTaskAdapter) Completed() { a.completed.Inc() }
func (a *LightTaskAdapter) Cancelled() { a.cancelled.Inc() }

var _ light.Metrics = (*LightTaskAdapter)(nil)
