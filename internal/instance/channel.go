package instance

import (
	"context"

	"github.com/farmlink/presence/internal/structures"
)

type Unsubscribe func() error

// EphemeralChannel is a connection-scoped key-value store keyed by user ID under the status namespace.
type EphemeralChannel interface {
	Set(ctx context.Context, userID string, status structures.EphemeralStatus) error
	// ArmOnDisconnect registers a value the store itself applies when this connection drops uncleanly.
	ArmOnDisconnect(ctx context.Context, userID string, status structures.EphemeralStatus) error
	// Disarm releases the value this connection armed for userID; a later disconnect no longer applies it.
	Disarm(ctx context.Context, userID string) error
	// SubscribeConnectivity streams the process-wide connected flag, starting with its current value.
	SubscribeConnectivity() (<-chan bool, Unsubscribe, error)
	// Connected reads the connected flag once.
	Connected() bool
	Suspend(ctx context.Context) error
	Resume(ctx context.Context) error
}
