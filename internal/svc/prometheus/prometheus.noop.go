package prometheus

import (
	"github.com/farmlink/presence/internal/instance"
	"github.com/prometheus/client_golang/prometheus"
)

// Noop discards every observation. Used when monitoring is disabled.
type Noop struct{}

func NewNoop() instance.Prometheus {
	return Noop{}
}

func (Noop) Register(prometheus.Registerer) {}

func (Noop) PresenceWrite(string, error) {}

func (Noop) WatchdogTick(bool) {}

func (Noop) ConnectivityTimeout() {}

func (Noop) ReconcilerState(string) {}

func (Noop) Degraded(bool) {}

func (Noop) WillApplied() {}
