package presences

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/farmlink/presence/internal/instance"
	"github.com/farmlink/presence/internal/structures"
	"github.com/farmlink/presence/internal/svc/prometheus"
)

var (
	ErrAlreadyStarted = errors.New("reconciler already started")
	ErrNotRunning     = errors.New("reconciler not running")
)

type State string

const (
	StateUnbound     State = "unbound"
	StateBinding     State = "binding"
	StateBound       State = "bound"
	StateTearingDown State = "tearing_down"
)

type Options struct {
	Durable   instance.DurableStore
	Channel   instance.EphemeralChannel
	Sessions  instance.SessionSource
	Lifecycle instance.LifecycleSource

	Prometheus instance.Prometheus
	// Now is the wall clock used for lastSeen and lastChanged stamps.
	Now func() time.Time

	// SettleDelay lets the transport attach before the connectivity subscription is armed.
	SettleDelay      time.Duration
	WatchdogInterval time.Duration
	// FlushDelay is how long an offline write is given before networking is suspended.
	FlushDelay     time.Duration
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
}

func (o Options) withDefaults() Options {
	if o.Prometheus == nil {
		o.Prometheus = prometheus.NewNoop()
	}

	if o.Now == nil {
		o.Now = time.Now
	}

	if o.SettleDelay <= 0 {
		o.SettleDelay = time.Second
	}

	if o.WatchdogInterval <= 0 {
		o.WatchdogInterval = 10 * time.Second
	}

	if o.FlushDelay <= 0 {
		o.FlushDelay = 500 * time.Millisecond
	}

	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 5 * time.Second
	}

	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}

	return o
}

// Snapshot is a point-in-time view of the reconciler.
type Snapshot struct {
	State      State                     `json:"state"`
	UserID     string                    `json:"user_id,omitempty"`
	Generation uint64                    `json:"generation"`
	Lifecycle  structures.LifecycleState `json:"lifecycle"`
	Degraded   bool                      `json:"degraded"`
	Suspended  bool                      `json:"suspended"`
	Online     bool                      `json:"online"`
	Exiting    bool                      `json:"exiting"`
	// Subscriptions counts the listener handles held by the current binding.
	Subscriptions int  `json:"subscriptions"`
	Watchdog      bool `json:"watchdog"`
}

// Reconciler keeps a user's ephemeral status and durable presence record consistent.
//
// Every handler runs on a single loop goroutine; session, lifecycle and connectivity
// callbacks only enqueue events. Each binding carries a generation and events from
// an older generation are dropped.
type Reconciler struct {
	opt Options

	inbox *mailbox

	startOnce sync.Once
	stopOnce  sync.Once
	started   atomic.Bool
	cancel    context.CancelFunc
	stopped   chan struct{}

	exiting atomic.Bool
	exitMx  sync.Mutex
	// exitDone is closed when the exit run that set exiting has finished.
	exitDone chan struct{}

	mx       sync.RWMutex
	snapshot Snapshot

	// loop-owned
	ctx        context.Context
	state      State
	user       string
	gen        uint64
	lifecycle  structures.LifecycleState
	degraded   bool
	suspended  bool
	online     bool
	handles    handles
	lastSeen   map[string]time.Time
	sessionSub instance.Unsubscribe
}

func New(opt Options) *Reconciler {
	return &Reconciler{
		opt:       opt.withDefaults(),
		inbox:     newMailbox(),
		stopped:   make(chan struct{}),
		state:     StateUnbound,
		lifecycle: structures.LifecycleStateActive,
		lastSeen:  make(map[string]time.Time),
		snapshot: Snapshot{
			State:     StateUnbound,
			Lifecycle: structures.LifecycleStateActive,
		},
	}
}

// Start subscribes to the session source and runs the event loop until ctx is done or Stop is called.
func (r *Reconciler) Start(ctx context.Context) error {
	err := ErrAlreadyStarted

	r.startOnce.Do(func() {
		err = nil

		lctx, cancel := context.WithCancel(ctx)
		r.ctx = lctx
		r.cancel = cancel
		r.started.Store(true)

		r.opt.Prometheus.ReconcilerState(string(StateUnbound))

		r.sessionSub = r.opt.Sessions.Subscribe(func(userID string) {
			r.post(sessionEvent{userID: userID})
		})

		go r.run()
	})

	return err
}

// Stop halts the loop and releases every handle without writing presence.
func (r *Reconciler) Stop() {
	if !r.started.Load() {
		return
	}

	r.stopOnce.Do(func() {
		r.cancel()
	})

	<-r.stopped
}

// Done is closed once the loop has exited.
func (r *Reconciler) Done() <-chan struct{} {
	return r.stopped
}

func (r *Reconciler) Snapshot() Snapshot {
	r.mx.RLock()
	defer r.mx.RUnlock()

	return r.snapshot
}

func (r *Reconciler) publish() {
	r.mx.Lock()
	r.snapshot = Snapshot{
		State:         r.state,
		UserID:        r.user,
		Generation:    r.gen,
		Lifecycle:     r.lifecycle,
		Degraded:      r.degraded,
		Suspended:     r.suspended,
		Online:        r.online,
		Exiting:       r.exiting.Load(),
		Subscriptions: r.handles.count(),
		Watchdog:      r.handles.watchdog != nil,
	}
	r.mx.Unlock()
}

func (r *Reconciler) setState(s State) {
	if r.state == s {
		return
	}

	r.state = s
	r.opt.Prometheus.ReconcilerState(string(s))
}

func (r *Reconciler) setDegraded(v bool) {
	if r.degraded == v {
		return
	}

	r.degraded = v
	r.opt.Prometheus.Degraded(v)
}

// stamp returns the current time, never earlier than the last stamp issued for the user.
func (r *Reconciler) stamp(userID string) time.Time {
	t := r.opt.Now()
	if last, ok := r.lastSeen[userID]; ok && t.Before(last) {
		t = last
	}

	r.lastSeen[userID] = t

	return t
}
