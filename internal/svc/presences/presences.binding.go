package presences

import (
	"time"

	"github.com/farmlink/presence/internal/structures"
	"go.uber.org/zap"
)

func (r *Reconciler) onSession(userID string) {
	switch {
	case userID == r.user:
		// same identity, e.g. a token refresh
		return
	case userID == "":
		r.teardown()
	default:
		r.bind(userID)
	}
}

func (r *Reconciler) bind(userID string) {
	if prev := r.user; prev != "" {
		zap.S().Infow("presence, switching user",
			"from", prev,
			"to", userID,
		)

		r.release()

		at := r.stamp(prev)
		r.writeEphemeral(prev, structures.NewEphemeralStatus(structures.StatusStateOffline, at))
		r.writeDurable(prev, false, at)
		r.disarm(prev)
	}

	r.gen++
	gen := r.gen
	r.user = userID
	r.online = false
	r.setState(StateBinding)
	r.reopenExit()

	zap.S().Infow("presence, binding",
		"user_id", userID,
		"generation", gen,
	)

	r.handles.lifecycle = r.opt.Lifecycle.Subscribe(func(state structures.LifecycleState) {
		r.post(lifecycleEvent{gen: gen, state: state})
	})

	r.handles.watchdog = time.NewTicker(r.opt.WatchdogInterval)
	r.handles.settle = time.AfterFunc(r.opt.SettleDelay, func() {
		r.post(settledEvent{gen: gen})
	})

	if r.suspended && r.lifecycle.Foreground() {
		r.resume()
	}
}

func (r *Reconciler) onSettled() {
	r.handles.settle = nil

	if err := r.subscribeConnectivity(); err != nil {
		zap.S().Warnw("presence, connectivity subscription failed, watchdog will retry",
			"user_id", r.user,
			"error", err,
		)

		return
	}

	r.setState(StateBound)

	zap.S().Infow("presence, bound",
		"user_id", r.user,
		"generation", r.gen,
	)

	// lifecycle transitions seen while binding were only recorded
	switch r.lifecycle {
	case structures.LifecycleStateBackground, structures.LifecycleStateInactive:
		r.goOffline(r.user)
	}
}

func (r *Reconciler) subscribeConnectivity() error {
	if r.handles.connectivity != nil {
		return nil
	}

	ch, unsub, err := r.opt.Channel.SubscribeConnectivity()
	if err != nil {
		return err
	}

	gen := r.gen
	r.handles.connectivity = unsub

	go func() {
		for v := range ch {
			r.post(connectivityEvent{gen: gen, connected: v})
		}
	}()

	return nil
}

// teardown handles logout: the previous user is marked offline and every handle is released.
func (r *Reconciler) teardown() {
	userID := r.user
	r.setState(StateTearingDown)
	r.publish()

	zap.S().Infow("presence, tearing down",
		"user_id", userID,
	)

	r.writeDurable(userID, false, r.stamp(userID))
	r.suspend()
	r.release()

	r.gen++
	r.user = ""
	r.online = false
	r.setState(StateUnbound)
}

func (r *Reconciler) release() {
	if err := r.handles.release(); err != nil {
		zap.S().Warnw("presence, failed to release handles",
			"user_id", r.user,
			"error", err,
		)
	}
}

// disarm keeps a previous user's armed value from being applied by this connection later.
func (r *Reconciler) disarm(userID string) {
	ctx, cancel := r.writeContext()
	defer cancel()

	if err := r.opt.Channel.Disarm(ctx, userID); err != nil {
		zap.S().Warnw("presence, failed to disarm disconnect value",
			"user_id", userID,
			"error", err,
		)
	}
}

func (r *Reconciler) suspend() {
	ctx, cancel := r.writeContext()
	defer cancel()

	if err := r.opt.Channel.Suspend(ctx); err != nil {
		zap.S().Warnw("presence, failed to suspend channel",
			"error", err,
		)
	}

	r.suspended = true
}

func (r *Reconciler) resume() {
	ctx, cancel := r.writeContext()
	defer cancel()

	if err := r.opt.Channel.Resume(ctx); err != nil {
		zap.S().Warnw("presence, failed to resume channel",
			"error", err,
		)

		return
	}

	r.suspended = false
}
