package presences

import (
	"go.uber.org/zap"
)

func (r *Reconciler) onWatchdog() {
	// networking is suspended on purpose while backgrounded or exiting
	if r.user == "" || !r.lifecycle.Foreground() || r.exiting.Load() {
		return
	}

	switch r.state {
	case StateBinding:
		if r.handles.settle != nil {
			return
		}

		r.onSettled()
	case StateBound:
		r.heal()
	}
}

// heal reconnects a channel found disconnected and restores the durable record.
// The ephemeral value follows from the connectivity event the reconnect emits.
// A connected channel whose last online sequence did not complete is retried.
func (r *Reconciler) heal() {
	if r.opt.Channel.Connected() {
		if r.online {
			r.opt.Prometheus.WatchdogTick(false)
			return
		}

		r.goOnline(r.user)
		r.opt.Prometheus.WatchdogTick(r.online)

		return
	}

	zap.S().Infow("presence, watchdog found channel disconnected",
		"user_id", r.user,
	)

	r.resume()

	if err := r.waitConnected(); err != nil {
		zap.S().Warnw("presence, watchdog could not reconnect",
			"user_id", r.user,
			"error", err,
		)

		return
	}

	if r.writeDurable(r.user, true, r.stamp(r.user)) == nil {
		r.setDegraded(false)
		r.opt.Prometheus.WatchdogTick(true)
	}
}
