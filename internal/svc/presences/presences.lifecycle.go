package presences

import (
	"context"

	"github.com/farmlink/presence/internal/structures"
	"go.uber.org/zap"
)

func (r *Reconciler) onLifecycle(state structures.LifecycleState) {
	prev := r.lifecycle
	r.lifecycle = state

	if state == structures.LifecycleStateTerminating {
		if done, ok := r.claimExit(); ok {
			r.runExit()
			close(done)
		}

		return
	}

	if r.state != StateBound {
		return
	}

	zap.S().Debugw("presence, lifecycle",
		"user_id", r.user,
		"from", prev,
		"to", state,
	)

	switch state {
	case structures.LifecycleStateActive:
		r.reopenExit()
		r.resume()
		r.goOnline(r.user)
	case structures.LifecycleStateBackground, structures.LifecycleStateInactive:
		r.goOffline(r.user)
	}
}

// Exit runs the offline sequence once, however many times it is triggered, and
// waits for it to finish. A call made while another trigger's sequence is running
// waits for that sequence. Once it has finished later calls return immediately
// until the app becomes active again or a new user binds.
func (r *Reconciler) Exit(ctx context.Context) error {
	if !r.started.Load() {
		return ErrNotRunning
	}

	select {
	case <-r.stopped:
		return ErrNotRunning
	default:
	}

	done, ok := r.claimExit()
	if ok {
		r.post(exitEvent{done: done})
	}

	if done == nil {
		return nil
	}

	select {
	case <-done:
		return nil
	case <-r.stopped:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
}

// claimExit takes the exit guard. It reports false when an exit already holds it,
// returning that exit's done channel.
func (r *Reconciler) claimExit() (chan struct{}, bool) {
	r.exitMx.Lock()
	defer r.exitMx.Unlock()

	if !r.exiting.CompareAndSwap(false, true) {
		return r.exitDone, false
	}

	r.exitDone = make(chan struct{})

	return r.exitDone, true
}

func (r *Reconciler) reopenExit() {
	r.exitMx.Lock()
	r.exiting.Store(false)
	r.exitMx.Unlock()
}

func (r *Reconciler) runExit() {
	if r.user == "" {
		zap.S().Infow("presence, exit with no bound user")
		return
	}

	zap.S().Infow("presence, exit",
		"user_id", r.user,
	)

	r.goOffline(r.user)
}
