package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/syntrixbase/slotwatch/internal/watcher"
)

var (
	// Delivery
	UpdatesDelivered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "slotwatch_updates_delivered_total",
		Help: "The total number of updates delivered to the update callback",
	}, []string{"watcher"})

	UpdatesDiscarded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "slotwatch_updates_discarded_total",
		Help: "The total number of updates discarded as duplicates or regressions",
	}, []string{"watcher"})

	// Failures
	Failures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "slotwatch_failures_total",
		Help: "The total number of reported watcher failures",
	}, []string{"watcher", "kind"})

	// Lifecycle
	State = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "slotwatch_state",
		Help: "1 for the current lifecycle state of the watcher, 0 otherwise",
	}, []string{"watcher", "state"})

	LastSlot = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "slotwatch_last_slot",
		Help: "The slot of the last delivered update",
	}, []string{"watcher"})
)

func init() {
	prometheus.MustRegister(UpdatesDelivered)
	prometheus.MustRegister(UpdatesDiscarded)
	prometheus.MustRegister(Failures)
	prometheus.MustRegister(State)
	prometheus.MustRegister(LastSlot)
}

var states = []watcher.State{
	watcher.StateConnecting,
	watcher.StateStreaming,
	watcher.StateReconnecting,
	watcher.StatePolling,
	watcher.StateStopped,
}

// Observer records the lifecycle of one named watcher.
type Observer struct {
	name string
}

var _ watcher.Observer = (*Observer)(nil)

// NewObserver returns an observer for the watcher called name. Its state
// series start out at connecting.
func NewObserver(name string) *Observer {
	o := &Observer{name: name}
	o.setState(watcher.StateConnecting)
	return o
}

func (o *Observer) StateChanged(_, to watcher.State) {
	o.setState(to)
}

func (o *Observer) UpdateAccepted(slot watcher.Slot) {
	UpdatesDelivered.WithLabelValues(o.name).Inc()
	LastSlot.WithLabelValues(o.name).Set(float64(slot))
}

func (o *Observer) UpdateDiscarded(watcher.Slot) {
	UpdatesDiscarded.WithLabelValues(o.name).Inc()
}

func (o *Observer) Failure(kind watcher.Kind) {
	Failures.WithLabelValues(o.name, kind.String()).Inc()
}

func (o *Observer) setState(current watcher.State) {
	for _, s := range states {
		v := 0.0
		if s == current {
			v = 1
		}
		State.WithLabelValues(o.name, s.String()).Set(v)
	}
}
