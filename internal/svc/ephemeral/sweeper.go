package ephemeral

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/farmlink/presence/internal/instance"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// connTracker mirrors the conn bucket: user ID -> set of connection IDs.
type connTracker struct {
	mx    sync.RWMutex
	conns map[string]map[string]bool
}

func newConnTracker() *connTracker {
	return &connTracker{conns: make(map[string]map[string]bool)}
}

func (ct *connTracker) add(userID, connID string) {
	ct.mx.Lock()
	defer ct.mx.Unlock()

	if ct.conns[userID] == nil {
		ct.conns[userID] = make(map[string]bool)
	}

	ct.conns[userID][connID] = true
}

// remove drops a connection and reports whether it was the user's last one.
func (ct *connTracker) remove(userID, connID string) bool {
	ct.mx.Lock()
	defer ct.mx.Unlock()

	if conns, ok := ct.conns[userID]; ok {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(ct.conns, userID)
			return true
		}
	}

	return false
}

func (ct *connTracker) hasConns(userID string) bool {
	ct.mx.RLock()
	defer ct.mx.RUnlock()

	return len(ct.conns[userID]) > 0
}

// retain drops every user not present in live.
func (ct *connTracker) retain(live map[string]bool) {
	ct.mx.Lock()
	defer ct.mx.Unlock()

	for userID := range ct.conns {
		if !live[userID] {
			delete(ct.conns, userID)
		}
	}
}

type SweeperOptions struct {
	Buckets    NatsOptions
	Interval   time.Duration
	Prometheus instance.Prometheus
}

// Sweeper applies armed wills once a user has no live connection left. It is the
// store-side half of the NATS ephemeral channel; any number may run, a
// revision-checked delete lets exactly one apply each will.
type Sweeper struct {
	kv       buckets
	opt      NatsOptions
	interval time.Duration
	prom     instance.Prometheus
	tracker  *connTracker
}

func NewSweeper(nc *nats.Conn, opt SweeperOptions) (*Sweeper, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, err
	}

	bopt := opt.Buckets.withDefaults()

	kv, err := createBuckets(js, bopt)
	if err != nil {
		return nil, err
	}

	interval := opt.Interval
	if interval <= 0 {
		interval = bopt.ConnTTL / 2
	}

	return &Sweeper{
		kv:       kv,
		opt:      bopt,
		interval: interval,
		prom:     opt.Prometheus,
		tracker:  newConnTracker(),
	}, nil
}

func (s *Sweeper) Run(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})

	go func() {
		defer close(done)

		wg := sync.WaitGroup{}
		wg.Add(1)

		go func() {
			defer wg.Done()
			s.watch(ctx)
		}()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				wg.Wait()
				return
			case <-ticker.C:
				if err := s.scan(); err != nil {
					zap.S().Warnw("sweeper, scan failed",
						"error", err,
					)
				}
			}
		}
	}()

	return done
}

// watch follows the conn bucket and applies a will as soon as the last connection of its user goes away.
func (s *Sweeper) watch(ctx context.Context) {
	watcher, err := s.kv.conns.WatchAll()
	if err != nil {
		zap.S().Errorw("sweeper, failed to start watcher",
			"error", err,
		)

		return
	}
	defer func() { _ = watcher.Stop() }()

	synced := false

	for {
		select {
		case <-ctx.Done():
			return
		case entry, ok := <-watcher.Updates():
			if !ok {
				return
			}

			if entry == nil {
				synced = true
				zap.S().Infow("sweeper, conn tracker synced")

				continue
			}

			userID, connID, ok := parseConnKey(entry.Key())
			if !ok {
				continue
			}

			switch entry.Operation() {
			case nats.KeyValuePut:
				s.tracker.add(userID, connID)
			case nats.KeyValueDelete, nats.KeyValuePurge:
				if s.tracker.remove(userID, connID) && synced {
					zap.S().Infow("sweeper, last connection gone",
						"user_id", userID,
						"conn_id", connID,
					)
					s.apply(userID)
				}
			}
		}
	}
}

// scan catches connections that expired by TTL without a delete marker.
func (s *Sweeper) scan() error {
	users, err := s.kv.wills.Keys()
	if errors.Is(err, nats.ErrNoKeysFound) {
		return nil
	}

	if err != nil {
		return err
	}

	keys, err := s.kv.conns.Keys()
	if err != nil && !errors.Is(err, nats.ErrNoKeysFound) {
		return err
	}

	live := liveUsers(keys)
	s.tracker.retain(live)

	for _, userID := range users {
		if !live[userID] {
			s.apply(userID)
		}
	}

	return nil
}

func (s *Sweeper) apply(userID string) {
	applied, err := applyWill(s.kv, userID, s.opt.Now())
	if err != nil {
		zap.S().Warnw("sweeper, failed to apply will",
			"user_id", userID,
			"error", err,
		)

		return
	}

	if applied {
		zap.S().Infow("sweeper, applied will",
			"user_id", userID,
		)

		if s.prom != nil {
			s.prom.WillApplied()
		}
	}
}

func liveUsers(connKeys []string) map[string]bool {
	live := make(map[string]bool, len(connKeys))

	for _, k := range connKeys {
		if userID, _, ok := parseConnKey(k); ok {
			live[userID] = true
		}
	}

	return live
}

// applyWill claims the user's will with a revision-checked delete and writes it to
// the status bucket, stamped with the disconnect time. A lost claim is not an error.
func applyWill(kv buckets, userID string, at time.Time) (bool, error) {
	entry, err := kv.wills.Get(userID)
	if errors.Is(err, nats.ErrKeyNotFound) {
		return false, nil
	}

	if err != nil {
		return false, err
	}

	st, err := decodeStatus(entry.Value())
	if err != nil {
		_ = kv.wills.Delete(userID, nats.LastRevision(entry.Revision()))
		return false, err
	}

	if err := kv.wills.Delete(userID, nats.LastRevision(entry.Revision())); err != nil {
		zap.S().Debugw("will claimed elsewhere or re-armed",
			"user_id", userID,
			"error", err,
		)

		return false, nil
	}

	st.LastChanged = at.UnixMilli()

	b, err := encodeStatus(st)
	if err != nil {
		return false, err
	}

	if _, err := kv.status.Put(userID, b); err != nil {
		return false, mapError(err)
	}

	return true, nil
}
