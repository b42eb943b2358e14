package ephemeral

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/farmlink/presence/internal/instance"
	"github.com/farmlink/presence/internal/structures"
)

// Mock is an in-memory EphemeralChannel. Disconnects, clean or not, apply every
// armed value exactly once, stamped with the disconnect time.
type Mock struct {
	mx          sync.Mutex
	values      map[string]structures.EphemeralStatus
	armed       map[string]structures.EphemeralStatus
	connected   *flag
	suspended   bool
	holdOffline bool
	setErrs     []error
	armErrs     []error
	suspends    int
	resumes     int
	now         func() time.Time

	// Observer, if set, receives "<op>:<user>:<state>" for every applied write.
	Observer func(entry string)
}

func NewMock() *Mock {
	return &Mock{
		values:    make(map[string]structures.EphemeralStatus),
		armed:     make(map[string]structures.EphemeralStatus),
		connected: newFlag(true),
		now:       time.Now,
	}
}

// WithClock sets the time source used to stamp disconnect writes.
func (m *Mock) WithClock(now func() time.Time) *Mock {
	m.now = now
	return m
}

// Set implements instance.EphemeralChannel
func (m *Mock) Set(ctx context.Context, userID string, status structures.EphemeralStatus) error {
	m.mx.Lock()

	if len(m.setErrs) > 0 {
		err := m.setErrs[0]
		m.setErrs = m.setErrs[1:]
		m.mx.Unlock()

		return err
	}

	if !m.connected.get() {
		m.mx.Unlock()
		return instance.ErrChannelOffline
	}

	m.values[userID] = status
	m.mx.Unlock()

	m.observe("ephemeral", userID, status.State)

	return nil
}

// ArmOnDisconnect implements instance.EphemeralChannel
func (m *Mock) ArmOnDisconnect(ctx context.Context, userID string, status structures.EphemeralStatus) error {
	m.mx.Lock()

	if len(m.armErrs) > 0 {
		err := m.armErrs[0]
		m.armErrs = m.armErrs[1:]
		m.mx.Unlock()

		return err
	}

	if !m.connected.get() {
		m.mx.Unlock()
		return instance.ErrChannelOffline
	}

	m.armed[userID] = status
	m.mx.Unlock()

	m.observe("arm", userID, status.State)

	return nil
}

// Disarm implements instance.EphemeralChannel
func (m *Mock) Disarm(ctx context.Context, userID string) error {
	m.mx.Lock()
	delete(m.armed, userID)
	m.mx.Unlock()

	if m.Observer != nil {
		m.Observer("disarm:" + userID)
	}

	return nil
}

// SubscribeConnectivity implements instance.EphemeralChannel
func (m *Mock) SubscribeConnectivity() (<-chan bool, instance.Unsubscribe, error) {
	ch, unsub := m.connected.subscribe()
	return ch, unsub, nil
}

// Connected implements instance.EphemeralChannel
func (m *Mock) Connected() bool {
	return m.connected.get()
}

// Suspend implements instance.EphemeralChannel
func (m *Mock) Suspend(ctx context.Context) error {
	m.mx.Lock()
	m.suspended = true
	m.suspends++
	m.mx.Unlock()

	m.disconnect()

	return nil
}

// Resume implements instance.EphemeralChannel
func (m *Mock) Resume(ctx context.Context) error {
	m.mx.Lock()
	m.suspended = false
	m.resumes++

	if !m.holdOffline && !m.connected.get() {
		m.connected.set(true)
	}
	m.mx.Unlock()

	return nil
}

// Drop simulates an unclean connection loss such as a crash or network failure.
func (m *Mock) Drop() {
	m.disconnect()
}

// Reconnect restores the connection after a Drop.
func (m *Mock) Reconnect() {
	m.mx.Lock()
	m.holdOffline = false
	m.connected.set(true)
	m.mx.Unlock()
}

// HoldOffline keeps Resume from reconnecting, as if the network were unreachable.
func (m *Mock) HoldOffline(hold bool) {
	m.mx.Lock()
	m.holdOffline = hold
	m.mx.Unlock()
}

// FailSet makes the next len(errs) Set calls return the given errors in order.
func (m *Mock) FailSet(errs ...error) {
	m.mx.Lock()
	m.setErrs = append(m.setErrs, errs...)
	m.mx.Unlock()
}

// FailArm makes the next len(errs) ArmOnDisconnect calls return the given errors in order.
func (m *Mock) FailArm(errs ...error) {
	m.mx.Lock()
	m.armErrs = append(m.armErrs, errs...)
	m.mx.Unlock()
}

func (m *Mock) Value(userID string) (structures.EphemeralStatus, bool) {
	m.mx.Lock()
	defer m.mx.Unlock()

	v, ok := m.values[userID]

	return v, ok
}

func (m *Mock) Armed(userID string) (structures.EphemeralStatus, bool) {
	m.mx.Lock()
	defer m.mx.Unlock()

	v, ok := m.armed[userID]

	return v, ok
}

// Subscribers returns the number of live connectivity subscriptions.
func (m *Mock) Subscribers() int {
	return m.connected.subscribers()
}

func (m *Mock) Suspended() bool {
	m.mx.Lock()
	defer m.mx.Unlock()

	return m.suspended
}

func (m *Mock) Suspends() int {
	m.mx.Lock()
	defer m.mx.Unlock()

	return m.suspends
}

func (m *Mock) Resumes() int {
	m.mx.Lock()
	defer m.mx.Unlock()

	return m.resumes
}

func (m *Mock) disconnect() {
	m.mx.Lock()

	if !m.connected.get() {
		m.mx.Unlock()
		return
	}

	at := m.now()
	applied := make([]string, 0, len(m.armed))

	for userID, st := range m.armed {
		st.LastChanged = at.UnixMilli()
		m.values[userID] = st
		applied = append(applied, fmt.Sprintf("disconnect:%s:%s", userID, st.State))
	}

	m.armed = make(map[string]structures.EphemeralStatus)
	m.connected.set(false)
	m.mx.Unlock()

	if m.Observer != nil {
		for _, e := range applied {
			m.Observer(e)
		}
	}
}

func (m *Mock) observe(op string, userID string, state structures.StatusState) {
	if m.Observer != nil {
		m.Observer(fmt.Sprintf("%s:%s:%s", op, userID, state))
	}
}
