package prometheus

import (
	"github.com/farmlink/presence/internal/instance"
	"github.com/prometheus/client_golang/prometheus"
)

type Options struct {
	Labels prometheus.Labels
}

var reconcilerStates = []string{"unbound", "binding", "bound", "tearing_down"}

func New(o Options) instance.Prometheus {
	return &Instance{
		presenceWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "presence_writes_total",
			Help:        "Presence writes by store and result",
			ConstLabels: o.Labels,
		}, []string{"store", "result"}),
		watchdogTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "presence_watchdog_ticks_total",
			Help:        "Watchdog checks, labelled by whether a repair was needed",
			ConstLabels: o.Labels,
		}, []string{"repaired"}),
		connectivityTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "presence_connectivity_timeouts_total",
			Help:        "Times the ephemeral channel did not report connected in time",
			ConstLabels: o.Labels,
		}),
		reconcilerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "presence_reconciler_state",
			Help:        "1 for the current reconciler state",
			ConstLabels: o.Labels,
		}, []string{"state"}),
		degraded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "presence_degraded",
			Help:        "1 while the reconciler could not confirm connectivity",
			ConstLabels: o.Labels,
		}),
		willsApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "presence_wills_applied_total",
			Help:        "On-disconnect values applied by the sweeper",
			ConstLabels: o.Labels,
		}),
	}
}

type Instance struct {
	presenceWrites       *prometheus.CounterVec
	watchdogTicks        *prometheus.CounterVec
	connectivityTimeouts prometheus.Counter
	reconcilerState      *prometheus.GaugeVec
	degraded             prometheus.Gauge
	willsApplied         prometheus.Counter
}

func (m *Instance) Register(r prometheus.Registerer) {
	r.MustRegister(
		m.presenceWrites,
		m.watchdogTicks,
		m.connectivityTimeouts,
		m.reconcilerState,
		m.degraded,
		m.willsApplied,
	)
}

func (m *Instance) PresenceWrite(store string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}

	m.presenceWrites.WithLabelValues(store, result).Inc()
}

func (m *Instance) WatchdogTick(repaired bool) {
	if repaired {
		m.watchdogTicks.WithLabelValues("true").Inc()
	} else {
		m.watchdogTicks.WithLabelValues("false").Inc()
	}
}

func (m *Instance) ConnectivityTimeout() {
	m.connectivityTimeouts.Inc()
}

func (m *Instance) ReconcilerState(state string) {
	for _, s := range reconcilerStates {
		if s == state {
			m.reconcilerState.WithLabelValues(s).Set(1)
		} else {
			m.reconcilerState.WithLabelValues(s).Set(0)
		}
	}
}

func (m *Instance) Degraded(degraded bool) {
	if degraded {
		m.degraded.Set(1)
	} else {
		m.degraded.Set(0)
	}
}

func (m *Instance) WillApplied() {
	m.willsApplied.Inc()
}
