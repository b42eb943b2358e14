package presences

import (
	"sync"
	"time"

	"github.com/farmlink/presence/internal/instance"
	"github.com/farmlink/presence/internal/structures"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
)

type event interface{}

type sessionEvent struct {
	userID string
}

type settledEvent struct {
	gen uint64
}

type connectivityEvent struct {
	gen       uint64
	connected bool
}

type lifecycleEvent struct {
	gen   uint64
	state structures.LifecycleState
}

type exitEvent struct {
	done chan struct{}
}

// mailbox is an unbounded FIFO so callbacks never block, even when they fire on
// the loop goroutine itself.
type mailbox struct {
	mx     sync.Mutex
	queue  []event
	notify chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{
		notify: make(chan struct{}, 1),
	}
}

func (m *mailbox) push(ev event) {
	m.mx.Lock()
	m.queue = append(m.queue, ev)
	m.mx.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
}

func (m *mailbox) drain() []event {
	m.mx.Lock()
	defer m.mx.Unlock()

	out := m.queue
	m.queue = nil

	return out
}

// handles are the listeners and timers owned by one binding.
type handles struct {
	lifecycle    instance.Unsubscribe
	connectivity instance.Unsubscribe
	settle       *time.Timer
	watchdog     *time.Ticker
}

func (h *handles) count() int {
	n := 0
	if h.lifecycle != nil {
		n++
	}

	if h.connectivity != nil {
		n++
	}

	return n
}

// release is idempotent; unsubscribe errors are collected, never fatal.
func (h *handles) release() error {
	var err error

	if h.settle != nil {
		h.settle.Stop()
		h.settle = nil
	}

	if h.watchdog != nil {
		h.watchdog.Stop()
		h.watchdog = nil
	}

	if h.connectivity != nil {
		if e := h.connectivity(); e != nil {
			err = multierror.Append(err, e)
		}

		h.connectivity = nil
	}

	if h.lifecycle != nil {
		if e := h.lifecycle(); e != nil {
			err = multierror.Append(err, e)
		}

		h.lifecycle = nil
	}

	return err
}

func (r *Reconciler) post(ev event) {
	r.inbox.push(ev)
}

func (r *Reconciler) run() {
	defer close(r.stopped)

	defer func() {
		if r.sessionSub != nil {
			_ = r.sessionSub()
		}

		if err := r.handles.release(); err != nil {
			zap.S().Warnw("presence, failed to release handles",
				"error", err,
			)
		}

		r.publish()

		// unblock Exit callers whose event never ran
		for _, ev := range r.inbox.drain() {
			if e, ok := ev.(exitEvent); ok {
				close(e.done)
			}
		}
	}()

	r.publish()

	for {
		var tick <-chan time.Time
		if r.handles.watchdog != nil {
			tick = r.handles.watchdog.C
		}

		select {
		case <-r.ctx.Done():
			return
		case <-tick:
			r.onWatchdog()
			r.publish()
		case <-r.inbox.notify:
			for _, ev := range r.inbox.drain() {
				if r.ctx.Err() != nil {
					if e, ok := ev.(exitEvent); ok {
						close(e.done)
					}

					continue
				}

				r.dispatch(ev)
				r.publish()
			}
		}
	}
}

func (r *Reconciler) dispatch(ev event) {
	switch ev := ev.(type) {
	case sessionEvent:
		r.onSession(ev.userID)
	case settledEvent:
		if ev.gen == r.gen && r.state == StateBinding {
			r.onSettled()
		}
	case connectivityEvent:
		if ev.gen == r.gen && r.state == StateBound {
			r.onConnectivity(ev.connected)
		}
	case lifecycleEvent:
		if ev.gen == r.gen {
			r.onLifecycle(ev.state)
		}
	case exitEvent:
		r.runExit()
		close(ev.done)
	}
}
