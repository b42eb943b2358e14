package presences

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/farmlink/presence/internal/instance"
	"github.com/farmlink/presence/internal/structures"
	"github.com/farmlink/presence/internal/svc/durable"
	"github.com/farmlink/presence/internal/svc/ephemeral"
	"github.com/farmlink/presence/internal/svc/lifecycle"
	"github.com/farmlink/presence/internal/svc/session"
	"github.com/farmlink/presence/internal/testutil"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testWatchdog = 40 * time.Millisecond
	testWait     = 2 * time.Second
)

var t1 = time.UnixMilli(1_700_000_000_000)

type metrics struct {
	mx       sync.Mutex
	repairs  int
	timeouts int
	failures int
}

func (m *metrics) Register(prometheus.Registerer) {}

func (m *metrics) PresenceWrite(store string, err error) {
	if err != nil {
		m.mx.Lock()
		m.failures++
		m.mx.Unlock()
	}
}

func (m *metrics) WatchdogTick(repaired bool) {
	if repaired {
		m.mx.Lock()
		m.repairs++
		m.mx.Unlock()
	}
}

func (m *metrics) ConnectivityTimeout() {
	m.mx.Lock()
	m.timeouts++
	m.mx.Unlock()
}

func (m *metrics) ReconcilerState(string) {}

func (m *metrics) Degraded(bool) {}

func (m *metrics) WillApplied() {}

func (m *metrics) get() (repairs, timeouts, failures int) {
	m.mx.Lock()
	defer m.mx.Unlock()

	return m.repairs, m.timeouts, m.failures
}

type harness struct {
	clock     *testutil.Clock
	journal   *testutil.Journal
	durable   *durable.Mock
	channel   *ephemeral.Mock
	sessions  *session.Source
	lifecycle *lifecycle.Source
	metrics   *metrics
	r         *Reconciler
}

func newHarness(t *testing.T, mods ...func(*Options)) *harness {
	t.Helper()

	h := &harness{
		clock:     testutil.NewClock(t1),
		journal:   &testutil.Journal{},
		durable:   durable.NewMock(),
		sessions:  session.New(session.Options{JWTSecret: "secret"}),
		lifecycle: lifecycle.New(),
		metrics:   &metrics{},
	}

	h.channel = ephemeral.NewMock().WithClock(h.clock.Now)
	h.channel.Observer = h.journal.Add
	h.durable.Observer = h.journal.Add

	opt := Options{
		Durable:          h.durable,
		Channel:          h.channel,
		Sessions:         h.sessions,
		Lifecycle:        h.lifecycle,
		Prometheus:       h.metrics,
		Now:              h.clock.Now,
		SettleDelay:      10 * time.Millisecond,
		WatchdogInterval: testWatchdog,
		FlushDelay:       5 * time.Millisecond,
		ConnectTimeout:   100 * time.Millisecond,
		WriteTimeout:     time.Second,
	}

	for _, mod := range mods {
		mod(&opt)
	}

	h.r = New(opt)
	require.NoError(t, h.r.Start(context.Background()))
	t.Cleanup(h.r.Stop)

	return h
}

func (h *harness) record(userID string) structures.PresenceRecord {
	rec, _, _ := h.durable.Get(context.Background(), userID)
	return rec
}

func (h *harness) waitOnline(t *testing.T, userID string) {
	t.Helper()

	testutil.Eventually(t, testWait, func() bool {
		v, ok := h.channel.Value(userID)
		return h.record(userID).IsOnline && ok && v.State == structures.StatusStateOnline
	}, "user online in both stores")
}

func (h *harness) waitDurable(t *testing.T, userID string, online bool) {
	t.Helper()

	testutil.Eventually(t, testWait, func() bool {
		rec, ok, _ := h.durable.Get(context.Background(), userID)
		return ok && rec.IsOnline == online
	}, "durable record")
}

func (h *harness) count(entry string) int {
	n := 0
	for _, e := range h.journal.Entries() {
		if e == entry {
			n++
		}
	}

	return n
}

func TestLoginBackgroundScenario(t *testing.T) {
	h := newHarness(t)

	h.durable.SetField("U1", "displayName", "Farmer Joe")
	h.sessions.Publish("U1")
	h.waitOnline(t, "U1")

	v, _ := h.channel.Value("U1")
	assert.Equal(t, structures.EphemeralStatus{State: structures.StatusStateOnline, LastChanged: t1.UnixMilli()}, v)

	rec := h.record("U1")
	assert.True(t, rec.IsOnline)
	assert.True(t, rec.LastSeen.Equal(t1))

	name, ok := h.durable.Field("U1", "displayName")
	assert.True(t, ok)
	assert.Equal(t, "Farmer Joe", name)

	arm := h.journal.Index("arm:U1:offline")
	set := h.journal.Index("ephemeral:U1:online")
	written := h.journal.Index("durable:U1:online")
	assert.True(t, arm >= 0 && arm < set && set < written, h.journal.Entries())

	h.clock.Advance(time.Minute)
	h.lifecycle.Emit(structures.LifecycleStateBackground)
	h.waitDurable(t, "U1", false)

	offline := h.journal.Index("ephemeral:U1:offline")
	durableOffline := h.journal.Index("durable:U1:offline")
	assert.True(t, offline >= 0 && offline < durableOffline, h.journal.Entries())
	assert.True(t, h.channel.Suspended())
	assert.True(t, h.record("U1").LastSeen.Equal(t1.Add(time.Minute)))

	// back to the foreground
	h.lifecycle.Emit(structures.LifecycleStateActive)
	testutil.Eventually(t, testWait, func() bool {
		return h.journal.LastIndex("durable:U1:online") > durableOffline
	}, "online again after resume")
	assert.False(t, h.channel.Suspended())
}

func TestUncleanDisconnectAppliesArmedValue(t *testing.T) {
	h := newHarness(t)

	h.sessions.Publish("U1")
	h.waitOnline(t, "U1")

	armed, ok := h.channel.Armed("U1")
	require.True(t, ok)
	assert.Equal(t, structures.StatusStateOffline, armed.State)

	disconnectAt := h.clock.Advance(5 * time.Second)
	h.channel.HoldOffline(true)
	h.channel.Drop()

	v, _ := h.channel.Value("U1")
	assert.Equal(t, structures.EphemeralStatus{State: structures.StatusStateOffline, LastChanged: disconnectAt.UnixMilli()}, v)

	h.waitDurable(t, "U1", false)

	// nothing declared online after the crash
	time.Sleep(3 * testWatchdog)
	assert.Less(t, h.journal.LastIndex("ephemeral:U1:online"), h.journal.Index("disconnect:U1:offline"))
	assert.Equal(t, 1, h.count("disconnect:U1:offline"))
}

func TestSameUserDoesNotRebind(t *testing.T) {
	h := newHarness(t)

	h.sessions.Publish("U1")
	h.waitOnline(t, "U1")

	snap := h.r.Snapshot()
	assert.Equal(t, StateBound, snap.State)
	assert.Equal(t, 2, snap.Subscriptions)
	assert.True(t, snap.Watchdog)

	h.sessions.Publish("U1")
	h.sessions.Publish("U1")
	time.Sleep(3 * testWatchdog)

	assert.Equal(t, 1, h.channel.Subscribers())
	assert.Equal(t, snap.Generation, h.r.Snapshot().Generation)
	assert.Equal(t, 2, h.r.Snapshot().Subscriptions)
	assert.Equal(t, 1, h.count("arm:U1:offline"))
}

func TestLogoutReleasesEverything(t *testing.T) {
	h := newHarness(t)

	h.sessions.Publish("U1")
	h.waitOnline(t, "U1")

	h.clock.Advance(time.Second)
	h.sessions.SignOut()

	testutil.Eventually(t, testWait, func() bool {
		return h.r.Snapshot().State == StateUnbound
	}, "unbound")

	rec := h.record("U1")
	assert.False(t, rec.IsOnline)
	assert.True(t, rec.LastSeen.Equal(t1.Add(time.Second)))

	snap := h.r.Snapshot()
	assert.Empty(t, snap.UserID)
	assert.Zero(t, snap.Subscriptions)
	assert.False(t, snap.Watchdog)
	assert.Zero(t, h.channel.Subscribers())
	assert.True(t, h.channel.Suspended())

	writes := h.durable.Writes()
	time.Sleep(4 * testWatchdog)
	assert.Equal(t, writes, h.durable.Writes())
	assert.Zero(t, h.channel.Resumes())
}

func TestLoginAfterLogoutResumes(t *testing.T) {
	h := newHarness(t)

	h.sessions.Publish("U1")
	h.waitOnline(t, "U1")
	h.sessions.SignOut()
	h.waitDurable(t, "U1", false)

	h.sessions.Publish("U1")
	testutil.Eventually(t, testWait, func() bool {
		return h.record("U1").IsOnline
	}, "online after second login")
	assert.False(t, h.channel.Suspended())
}

func TestExitRunsOnce(t *testing.T) {
	h := newHarness(t)

	h.sessions.Publish("U1")
	h.waitOnline(t, "U1")

	wg := sync.WaitGroup{}
	for i := 0; i < 5; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()
			assert.NoError(t, h.r.Exit(context.Background()))
		}()
	}

	h.lifecycle.Emit(structures.LifecycleStateTerminating)
	wg.Wait()

	h.waitDurable(t, "U1", false)
	time.Sleep(3 * testWatchdog)

	assert.Equal(t, 1, h.channel.Suspends())
	assert.Equal(t, 1, h.count("ephemeral:U1:offline"))
	assert.Equal(t, 1, h.count("durable:U1:offline"))
	assert.True(t, h.r.Snapshot().Exiting)

	// the guard re-opens once the app is active again
	h.lifecycle.Emit(structures.LifecycleStateActive)
	testutil.Eventually(t, testWait, func() bool {
		return h.record("U1").IsOnline && !h.r.Snapshot().Exiting
	}, "online after reactivation")

	require.NoError(t, h.r.Exit(context.Background()))
	assert.Equal(t, 2, h.channel.Suspends())
	assert.False(t, h.record("U1").IsOnline)
}

func TestExitWithoutUser(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.r.Exit(context.Background()))
	assert.Zero(t, h.channel.Suspends())
	assert.Zero(t, h.durable.Writes())
}

func TestExitWaitsForRunningExit(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.FlushDelay = 300 * time.Millisecond
	})

	h.sessions.Publish("U1")
	h.waitOnline(t, "U1")

	// the signal handler usually wins the guard before shutdown calls Exit
	h.lifecycle.Emit(structures.LifecycleStateTerminating)
	testutil.Eventually(t, testWait, h.r.exiting.Load, "exit guard taken")

	require.NoError(t, h.r.Exit(context.Background()))
	assert.False(t, h.record("U1").IsOnline)
	assert.Equal(t, 1, h.channel.Suspends())
	assert.Equal(t, 1, h.count("durable:U1:offline"))
}

func TestExitHonoursContext(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.FlushDelay = 300 * time.Millisecond
	})

	h.sessions.Publish("U1")
	h.waitOnline(t, "U1")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, h.r.Exit(ctx), context.DeadlineExceeded)

	// a later caller still waits for the same run
	require.NoError(t, h.r.Exit(context.Background()))
	assert.False(t, h.record("U1").IsOnline)
	assert.Equal(t, 1, h.channel.Suspends())
}

func TestBackgroundWhileBindingGoesOffline(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.SettleDelay = 100 * time.Millisecond
	})

	require.NoError(t, h.durable.UpsertMerge(context.Background(), "U1", structures.NewRecordUpdate(true, t1)))

	h.sessions.Publish("U1")
	testutil.Eventually(t, testWait, func() bool {
		return h.r.Snapshot().State == StateBinding
	}, "binding")

	h.lifecycle.Emit(structures.LifecycleStateBackground)

	h.waitDurable(t, "U1", false)
	testutil.Eventually(t, testWait, func() bool {
		snap := h.r.Snapshot()
		return snap.State == StateBound && snap.Suspended
	}, "bound and suspended")

	assert.True(t, h.channel.Suspended())
	assert.Equal(t, structures.LifecycleStateBackground, h.r.Snapshot().Lifecycle)
	assert.Equal(t, -1, h.journal.Index("ephemeral:U1:online"))
}

func TestStreamNotReadyIsIgnored(t *testing.T) {
	h := newHarness(t)

	h.channel.FailSet(instance.ErrStreamNotReady)
	h.sessions.Publish("U1")

	h.waitDurable(t, "U1", true)

	_, ok := h.channel.Value("U1")
	assert.False(t, ok)
	assert.False(t, h.r.Snapshot().Degraded)
}

func TestArmFailureNeverDeclaresOnline(t *testing.T) {
	h := newHarness(t)

	h.channel.FailArm(errors.New("permission denied"))
	h.sessions.Publish("U1")

	// the watchdog retries the sequence once the channel accepts the arm
	h.waitOnline(t, "U1")

	entries := h.journal.Entries()
	require.NotEmpty(t, entries)
	assert.Equal(t, "arm:U1:offline", entries[0])

	repairs, _, _ := h.metrics.get()
	assert.GreaterOrEqual(t, repairs, 1)
}

func TestDurableFailureIsRetried(t *testing.T) {
	h := newHarness(t)

	h.durable.Fail(errors.New("mongo unavailable"))
	h.sessions.Publish("U1")

	testutil.Eventually(t, testWait, func() bool {
		_, _, failures := h.metrics.get()
		return failures >= 2
	}, "durable failures")
	assert.False(t, h.r.Snapshot().Online)

	h.durable.Fail(nil)
	h.waitDurable(t, "U1", true)
	testutil.Eventually(t, testWait, func() bool {
		return h.r.Snapshot().Online
	}, "online after recovery")
}

func TestWatchdogHealsDisconnect(t *testing.T) {
	h := newHarness(t)

	h.sessions.Publish("U1")
	h.waitOnline(t, "U1")

	h.channel.HoldOffline(true)
	h.channel.Drop()

	h.waitDurable(t, "U1", false)
	testutil.Eventually(t, testWait, func() bool {
		return h.r.Snapshot().Degraded
	}, "degraded while unreachable")

	_, timeouts, _ := h.metrics.get()
	assert.GreaterOrEqual(t, timeouts, 1)

	h.channel.HoldOffline(false)
	h.waitOnline(t, "U1")

	testutil.Eventually(t, testWait, func() bool {
		return !h.r.Snapshot().Degraded
	}, "degraded cleared")

	repairs, _, _ := h.metrics.get()
	assert.GreaterOrEqual(t, repairs, 1)
	assert.GreaterOrEqual(t, h.channel.Resumes(), 1)
}

func TestWatchdogSkipsWhileBackgrounded(t *testing.T) {
	h := newHarness(t)

	h.sessions.Publish("U1")
	h.waitOnline(t, "U1")

	h.lifecycle.Emit(structures.LifecycleStateBackground)
	h.waitDurable(t, "U1", false)

	resumes := h.channel.Resumes()
	time.Sleep(4 * testWatchdog)

	assert.Equal(t, resumes, h.channel.Resumes())
	assert.False(t, h.record("U1").IsOnline)
}

func TestUserSwitch(t *testing.T) {
	h := newHarness(t)

	h.sessions.Publish("U1")
	h.waitOnline(t, "U1")

	gen := h.r.Snapshot().Generation
	h.sessions.Publish("U2")
	h.waitOnline(t, "U2")

	assert.False(t, h.record("U1").IsOnline)

	v, _ := h.channel.Value("U1")
	assert.Equal(t, structures.StatusStateOffline, v.State)

	_, armed := h.channel.Armed("U1")
	assert.False(t, armed)
	disarm := h.journal.Index("disarm:U1")
	assert.True(t, disarm >= 0 && disarm < h.journal.Index("arm:U2:offline"), h.journal.Entries())

	snap := h.r.Snapshot()
	assert.Equal(t, "U2", snap.UserID)
	assert.Greater(t, snap.Generation, gen)
	assert.Equal(t, 1, h.channel.Subscribers())
	assert.Zero(t, h.channel.Suspends())
}

func TestStaleEventsAreDropped(t *testing.T) {
	h := newHarness(t)

	h.sessions.Publish("U1")
	h.waitOnline(t, "U1")
	stale := h.r.Snapshot().Generation

	h.sessions.Publish("U2")
	h.waitOnline(t, "U2")
	writes := h.durable.Writes()

	h.r.post(connectivityEvent{gen: stale, connected: false})
	h.r.post(lifecycleEvent{gen: stale, state: structures.LifecycleStateBackground})
	h.r.post(settledEvent{gen: stale})
	time.Sleep(3 * testWatchdog)

	assert.Equal(t, writes, h.durable.Writes())
	assert.Zero(t, h.channel.Suspends())
	assert.True(t, h.record("U2").IsOnline)
	assert.Equal(t, structures.LifecycleStateActive, h.r.Snapshot().Lifecycle)
}

func TestLastSeenNeverMovesBackwards(t *testing.T) {
	store := &recordingStore{Mock: durable.NewMock()}
	h := newHarness(t, func(o *Options) {
		o.Durable = store
	})

	h.sessions.Publish("U1")
	testutil.Eventually(t, testWait, func() bool {
		return len(store.stamps()) == 1
	}, "online written")

	h.clock.Set(t1.Add(-time.Hour))
	h.lifecycle.Emit(structures.LifecycleStateBackground)
	testutil.Eventually(t, testWait, func() bool {
		return len(store.stamps()) == 2
	}, "offline written")

	stamps := store.stamps()
	assert.True(t, stamps[0].Equal(t1))
	assert.True(t, stamps[1].Equal(t1))
}

type recordingStore struct {
	*durable.Mock

	mx   sync.Mutex
	seen []time.Time
}

func (s *recordingStore) UpsertMerge(ctx context.Context, userID string, update structures.RecordUpdate) error {
	s.mx.Lock()
	s.seen = append(s.seen, *update.LastSeen)
	s.mx.Unlock()

	return s.Mock.UpsertMerge(ctx, userID, update)
}

func (s *recordingStore) stamps() []time.Time {
	s.mx.Lock()
	defer s.mx.Unlock()

	return append([]time.Time(nil), s.seen...)
}

type flakySubscribe struct {
	*ephemeral.Mock

	mx    sync.Mutex
	fails int
}

func (f *flakySubscribe) SubscribeConnectivity() (<-chan bool, instance.Unsubscribe, error) {
	f.mx.Lock()
	if f.fails > 0 {
		f.fails--
		f.mx.Unlock()

		return nil, nil, errors.New("transport not attached")
	}
	f.mx.Unlock()

	return f.Mock.SubscribeConnectivity()
}

func TestBindingRetriesSubscription(t *testing.T) {
	channel := &flakySubscribe{Mock: ephemeral.NewMock(), fails: 2}
	h := newHarness(t, func(o *Options) {
		o.Channel = channel
	})

	h.sessions.Publish("U1")
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateBinding, h.r.Snapshot().State)

	testutil.Eventually(t, testWait, func() bool {
		return h.r.Snapshot().State == StateBound && h.record("U1").IsOnline
	}, "bound after retries")
	assert.Equal(t, 1, channel.Subscribers())
}

func TestStartStop(t *testing.T) {
	r := New(Options{
		Durable:   durable.NewMock(),
		Channel:   ephemeral.NewMock(),
		Sessions:  session.New(session.Options{}),
		Lifecycle: lifecycle.New(),
	})

	assert.ErrorIs(t, r.Exit(context.Background()), ErrNotRunning)
	r.Stop()

	require.NoError(t, r.Start(context.Background()))
	assert.ErrorIs(t, r.Start(context.Background()), ErrAlreadyStarted)

	r.Stop()
	r.Stop()

	select {
	case <-r.Done():
	default:
		t.Fatal("loop still running")
	}

	assert.ErrorIs(t, r.Exit(context.Background()), ErrNotRunning)
}

func TestStamp(t *testing.T) {
	clock := testutil.NewClock(t1)
	r := New(Options{Now: clock.Now})

	assert.True(t, r.stamp("U1").Equal(t1))

	clock.Set(t1.Add(-time.Second))
	assert.True(t, r.stamp("U1").Equal(t1))
	assert.True(t, r.stamp("U2").Equal(t1.Add(-time.Second)))

	clock.Set(t1.Add(time.Second))
	assert.True(t, r.stamp("U1").Equal(t1.Add(time.Second)))
}
