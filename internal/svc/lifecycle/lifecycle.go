package lifecycle

import (
	"github.com/farmlink/presence/internal/instance"
	"github.com/farmlink/presence/internal/structures"
	"github.com/farmlink/presence/internal/svc/feed"
	"go.uber.org/zap"
)

// Source reports coarse application lifecycle transitions from the host shell.
type Source struct {
	feed *feed.Feed[structures.LifecycleState]
}

func New() *Source {
	return &Source{
		feed: feed.New[structures.LifecycleState](),
	}
}

// Subscribe implements instance.LifecycleSource
func (s *Source) Subscribe(fn func(state structures.LifecycleState)) instance.Unsubscribe {
	return s.feed.Subscribe(fn)
}

func (s *Source) Emit(state structures.LifecycleState) {
	zap.S().Debugw("lifecycle transition",
		"state", state,
	)

	s.feed.Publish(state)
}

// Current returns the last emitted state. Before any transition the application is considered active.
func (s *Source) Current() structures.LifecycleState {
	if st, ok := s.feed.Latest(); ok {
		return st
	}

	return structures.LifecycleStateActive
}
