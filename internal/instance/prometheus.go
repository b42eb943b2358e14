package instance

import "github.com/prometheus/client_golang/prometheus"

type Prometheus interface {
	Register(r prometheus.Registerer)

	PresenceWrite(store string, err error)
	WatchdogTick(repaired bool)
	ConnectivityTimeout()
	ReconcilerState(state string)
	Degraded(degraded bool)
	WillApplied()
}
