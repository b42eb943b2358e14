package presences

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/farmlink/presence/internal/instance"
	"github.com/farmlink/presence/internal/structures"
	"go.uber.org/zap"
)

var errNotConnected = errors.New("not connected")

const (
	storeDurable   = "durable"
	storeEphemeral = "ephemeral"
)

func (r *Reconciler) onConnectivity(connected bool) {
	userID := r.user

	if !connected {
		r.online = false

		if r.suspended {
			return
		}

		// the channel is unreachable, only the durable record can be corrected
		r.writeDurable(userID, false, r.stamp(userID))

		return
	}

	if !r.lifecycle.Foreground() || r.exiting.Load() {
		return
	}

	r.goOnline(userID)
}

// goOnline is the only path that declares a user online on the channel. The
// on-disconnect value is always armed first; if arming fails nothing is declared.
func (r *Reconciler) goOnline(userID string) {
	at := r.stamp(userID)

	if err := r.arm(userID, at); err != nil {
		zap.S().Warnw("presence, failed to arm disconnect value",
			"user_id", userID,
			"error", err,
		)

		return
	}

	if err := r.waitConnected(); err != nil {
		zap.S().Warnw("presence, channel did not connect",
			"user_id", userID,
			"error", err,
		)

		return
	}

	err := r.writeEphemeral(userID, structures.NewEphemeralStatus(structures.StatusStateOnline, at))
	if err != nil && !errors.Is(err, instance.ErrStreamNotReady) {
		return
	}

	if r.writeDurable(userID, true, at) == nil {
		r.online = true
		r.setDegraded(false)
	}
}

// goOffline writes offline to the channel, lets it flush, suspends networking and then marks the durable record.
func (r *Reconciler) goOffline(userID string) {
	r.online = false
	at := r.stamp(userID)

	_ = r.writeEphemeral(userID, structures.NewEphemeralStatus(structures.StatusStateOffline, at))

	t := time.NewTimer(r.opt.FlushDelay)
	select {
	case <-r.ctx.Done():
	case <-t.C:
	}
	t.Stop()

	r.suspend()
	r.writeDurable(userID, false, at)
}

func (r *Reconciler) arm(userID string, at time.Time) error {
	ctx, cancel := r.writeContext()
	defer cancel()

	return r.opt.Channel.ArmOnDisconnect(ctx, userID, structures.NewEphemeralStatus(structures.StatusStateOffline, at))
}

// waitConnected polls the connected flag with exponential backoff, bounded by the connect timeout.
// A timeout marks the reconciler degraded.
func (r *Reconciler) waitConnected() error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = time.Second
	b.MaxElapsedTime = r.opt.ConnectTimeout
	b.Reset()

	err := backoff.Retry(func() error {
		if r.opt.Channel.Connected() {
			return nil
		}

		return errNotConnected
	}, backoff.WithContext(b, r.ctx))

	switch {
	case err == nil:
		return nil
	case errors.Is(err, errNotConnected):
		r.opt.Prometheus.ConnectivityTimeout()
		r.setDegraded(true)

		return instance.ErrConnectivityTimeout
	}

	return err
}

func (r *Reconciler) writeEphemeral(userID string, status structures.EphemeralStatus) error {
	ctx, cancel := r.writeContext()
	defer cancel()

	err := r.opt.Channel.Set(ctx, userID, status)
	r.opt.Prometheus.PresenceWrite(storeEphemeral, err)

	switch {
	case err == nil:
	case errors.Is(err, instance.ErrStreamNotReady):
		zap.S().Infow("presence, channel not ready, next cycle will retry",
			"user_id", userID,
			"state", status.State,
		)
	default:
		zap.S().Warnw("presence, ephemeral write failed",
			"user_id", userID,
			"state", status.State,
			"error", err,
		)
	}

	return err
}

func (r *Reconciler) writeDurable(userID string, online bool, at time.Time) error {
	ctx, cancel := r.writeContext()
	defer cancel()

	err := r.opt.Durable.UpsertMerge(ctx, userID, structures.NewRecordUpdate(online, at))
	r.opt.Prometheus.PresenceWrite(storeDurable, err)

	if err != nil {
		zap.S().Errorw("presence, durable write failed",
			"user_id", userID,
			"online", online,
			"error", err,
		)
	}

	return err
}

func (r *Reconciler) writeContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(r.ctx), r.opt.WriteTimeout)
}
