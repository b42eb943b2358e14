package durable

import (
	"context"
	"fmt"
	"sync"

	"github.com/farmlink/presence/internal/structures"
)

// Mock is an in-memory DurableStore with merge semantics and failure injection.
type Mock struct {
	mx      sync.Mutex
	records map[string]structures.PresenceRecord
	extra   map[string]map[string]any
	writes  int
	fail    error

	// Observer, if set, receives "durable:<user>:online|offline" for every accepted write.
	Observer func(entry string)
}

func NewMock() *Mock {
	return &Mock{
		records: make(map[string]structures.PresenceRecord),
		extra:   make(map[string]map[string]any),
	}
}

// UpsertMerge implements instance.DurableStore
func (m *Mock) UpsertMerge(ctx context.Context, userID string, update structures.RecordUpdate) error {
	m.mx.Lock()

	if m.fail != nil {
		err := m.fail
		m.mx.Unlock()

		return err
	}

	rec, ok := m.records[userID]
	if !ok {
		rec.UserID = userID
	}

	m.records[userID] = update.Apply(rec)
	m.writes++
	observer := m.Observer
	m.mx.Unlock()

	if observer != nil && update.IsOnline != nil {
		state := structures.StatusStateOffline
		if *update.IsOnline {
			state = structures.StatusStateOnline
		}

		observer(fmt.Sprintf("durable:%s:%s", userID, state))
	}

	return nil
}

// Get implements instance.DurableStore
func (m *Mock) Get(ctx context.Context, userID string) (structures.PresenceRecord, bool, error) {
	m.mx.Lock()
	defer m.mx.Unlock()

	rec, ok := m.records[userID]

	return rec, ok, nil
}

// SetField stores a non-presence field on the user document, to verify merges preserve it.
func (m *Mock) SetField(userID, key string, value any) {
	m.mx.Lock()
	defer m.mx.Unlock()

	if m.extra[userID] == nil {
		m.extra[userID] = make(map[string]any)
	}

	m.extra[userID][key] = value
}

func (m *Mock) Field(userID, key string) (any, bool) {
	m.mx.Lock()
	defer m.mx.Unlock()

	v, ok := m.extra[userID][key]

	return v, ok
}

// Fail makes every subsequent write return err. A nil err clears the failure.
func (m *Mock) Fail(err error) {
	m.mx.Lock()
	m.fail = err
	m.mx.Unlock()
}

func (m *Mock) Writes() int {
	m.mx.Lock()
	defer m.mx.Unlock()

	return m.writes
}
