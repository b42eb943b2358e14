package instance

import "github.com/farmlink/presence/internal/structures"

// SessionSource emits the authenticated user ID whenever it changes. An empty ID means signed out.
type SessionSource interface {
	Subscribe(fn func(userID string)) Unsubscribe
}

type LifecycleSource interface {
	Subscribe(fn func(state structures.LifecycleState)) Unsubscribe
}
