package instance

import (
	"context"

	"github.com/farmlink/presence/internal/structures"
)

// DurableStore is the document store of record for user presence.
type DurableStore interface {
	// UpsertMerge writes the non-nil fields of the update, preserving every other field of the user document.
	UpsertMerge(ctx context.Context, userID string, update structures.RecordUpdate) error
	// Get returns the stored record and whether it exists.
	Get(ctx context.Context, userID string) (structures.PresenceRecord, bool, error)
}
