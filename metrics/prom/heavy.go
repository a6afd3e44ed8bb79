package prom

import (
	"github.com/flightcache/flightcache/tasks/heavy"
	"github.com/prometheus/client_golang/prometheus"
)

// HeavyTaskAdapter implements heavy.Metrics.
type HeavyTaskAdapter struct {
	admitted  prometheus.Counter
	queued    prometheus.Counter
	evicted   prometheus.Counter
	preempted prometheus.Counter
	completed prometheus.Counter
	cancelled prometheus.Counter
}

// NewHeavyTaskAdapter constructs a Prometheus metrics adapter for a
// HeavyTaskManager.
func NewHeavyTaskAdapter(reg prometheus.Registerer, ns, sub string, constLabels prometheus.Labels) *HeavyTaskAdapter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	a := &HeavyTaskAdapter{
		admitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "admitted_total",
			Help: "Provider starts in the running set, whether directly, from the admission queue, or on resume", ConstLabels: constLabels,
		}),
		queued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "queued_total",
			Help: "Tasks placed on the admission queue", ConstLabels: constLabels,
		}),
		evicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "evicted_total",
			Help: "Tasks evicted from the admission queue by priority", ConstLabels: constLabels,
		}),
		preempted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "preempted_total",
			Help: "Running tasks preempted by a higher-priority arrival", ConstLabels: constLabels,
		}),
		completed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "completed_total",
			Help: "Providers that delivered a terminal result", ConstLabels: constLabels,
		}),
		cancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "cancelled_total",
			Help: "Tasks cancelled before completion", ConstLabels: constLabels,
		}),
	}
	reg.MustRegister(a.admitted, a.queued, a.evicted, a.preempted, a.completed, a.cancelled)
	return a
}

func (a *HeavyTaskAdapter) Admitted()  { a.admitted.Inc() }
func (a *HeavyTaskAdapter) Queued()    { a.queued.Inc() }
func (a *HeavyTaskAdapter) Evicted()   { a.evicted.Inc() }
func (a *HeavyTaskAdapter) Preempted() { a.preempted.Inc() }
func (a *HeavyTaskAdapter) Completed() { a.completed.Inc() }
func (a *HeavyTaskAdapter) Cancelled() { a.cancelled.Inc() }

var _ heavy.Metrics = (*HeavyTaskAdapter)(nil)
