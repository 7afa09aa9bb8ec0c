// Package promhooks exports gqlcache events as Prometheus metrics.
package promhooks

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/unkn0wn-root/gqlcache"
)

type Hooks struct {
	pushed   prometheus.Counter
	removed  *prometheus.CounterVec
	live     prometheus.Gauge
	writes   *prometheus.CounterVec
	changed  *prometheus.HistogramVec
	notified prometheus.Counter
	panics   prometheus.Counter
}

var _ gqlcache.Hooks = (*Hooks)(nil)

// New registers the collectors on reg; nil means prometheus.DefaultRegisterer.
// Registering twice on the same registry panics.
func New(reg prometheus.Registerer, namespace string) *Hooks {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "gqlcache"
	}
	f := promauto.With(reg)
	return &Hooks{
		pushed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "layers_pushed_total",
			Help:      "Optimistic layers pushed",
		}),
		removed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "layers_removed_total",
			Help:      "Optimistic layers removed, by reason",
		}, []string{"reason"}),
		live: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "layers_live",
			Help:      "Optimistic layers currently on the stack",
		}),
		writes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "writes_total",
			Help:      "Write operations applied, by op",
		}, []string{"op"}),
		changed: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "write_changed_fields",
			Help:      "Size of each write's change-set",
			Buckets:   []float64{0, 1, 4, 16, 64, 256, 1024},
		}, []string{"op"}),
		notified: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Subscription callbacks invoked",
		}),
		panics: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "callback_panics_total",
			Help:      "Subscription callbacks that panicked",
		}),
	}
}

func (h *Hooks) LayerPushed(gqlcache.TxID, int) {
	h.pushed.Inc()
	h.live.Inc()
}

func (h *Hooks) LayerRemoved(_ gqlcache.TxID, reason string) {
	h.removed.WithLabelValues(reason).Inc()
	h.live.Dec()
}

func (h *Hooks) WriteApplied(op string, changed int) {
	h.writes.WithLabelValues(op).Inc()
	h.changed.WithLabelValues(op).Observe(float64(changed))
}

func (h *Hooks) Notified(n int) { h.notified.Add(float64(n)) }

func (h *Hooks) CallbackPanicked(gqlcache.SubscriptionID, any) { h.panics.Inc() }
