package feed

import (
	"sync"

	"github.com/farmlink/presence/internal/instance"
)

// Feed fans out values to subscribers. A new subscriber immediately receives the
// latest published value, if any, then every later one.
type Feed[T comparable] struct {
	// delivery orders replays and fan-outs, so a subscriber never sees an older value after a newer one.
	delivery sync.Mutex

	mx     sync.Mutex
	seq    uint64
	subs   map[uint64]func(T)
	latest T
	set    bool
}

func New[T comparable]() *Feed[T] {
	return &Feed[T]{
		subs: make(map[uint64]func(T)),
	}
}

// Subscribe registers fn. Callbacks run synchronously on the publisher's goroutine
// and must not publish to or subscribe on the same feed.
func (f *Feed[T]) Subscribe(fn func(T)) instance.Unsubscribe {
	f.delivery.Lock()
	defer f.delivery.Unlock()

	f.mx.Lock()
	f.seq++
	id := f.seq
	f.subs[id] = fn
	latest, set := f.latest, f.set
	f.mx.Unlock()

	if set {
		fn(latest)
	}

	var once sync.Once

	return func() error {
		once.Do(func() {
			f.mx.Lock()
			delete(f.subs, id)
			f.mx.Unlock()
		})

		return nil
	}
}

func (f *Feed[T]) Publish(v T) {
	f.delivery.Lock()
	defer f.delivery.Unlock()

	f.mx.Lock()
	f.latest = v
	f.set = true

	subs := make([]func(T), 0, len(f.subs))
	for _, fn := range f.subs {
		subs = append(subs, fn)
	}
	f.mx.Unlock()

	for _, fn := range subs {
		fn(v)
	}
}

// Latest returns the last published value.
func (f *Feed[T]) Latest() (T, bool) {
	f.mx.Lock()
	defer f.mx.Unlock()

	return f.latest, f.set
}

// Subscribers returns the number of active subscriptions.
func (f *Feed[T]) Subscribers() int {
	f.mx.Lock()
	defer f.mx.Unlock()

	return len(f.subs)
}
