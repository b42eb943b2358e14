package ephemeral

import (
	"sync"

	"github.com/farmlink/presence/internal/instance"
)

// flag broadcasts the connected state. Each subscriber channel holds at most the
// latest value so a slow reader never blocks the transport.
type flag struct {
	mx    sync.Mutex
	value bool
	seq   uint64
	subs  map[uint64]chan bool
}

func newFlag(initial bool) *flag {
	return &flag{
		value: initial,
		subs:  make(map[uint64]chan bool),
	}
}

func (f *flag) get() bool {
	f.mx.Lock()
	defer f.mx.Unlock()

	return f.value
}

func (f *flag) set(v bool) {
	f.mx.Lock()
	defer f.mx.Unlock()

	f.value = v
	for _, ch := range f.subs {
		offer(ch, v)
	}
}

func (f *flag) subscribe() (<-chan bool, instance.Unsubscribe) {
	f.mx.Lock()
	defer f.mx.Unlock()

	f.seq++
	id := f.seq
	ch := make(chan bool, 1)
	ch <- f.value
	f.subs[id] = ch

	return ch, func() error {
		f.mx.Lock()
		defer f.mx.Unlock()

		if c, ok := f.subs[id]; ok {
			delete(f.subs, id)
			close(c)
		}

		return nil
	}
}

func (f *flag) subscribers() int {
	f.mx.Lock()
	defer f.mx.Unlock()

	return len(f.subs)
}

// offer replaces any unread value in ch with v.
func offer(ch chan bool, v bool) {
	select {
	case <-ch:
	default:
	}

	select {
	case ch <- v:
	default:
	}
}
