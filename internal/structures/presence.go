package structures

import (
	"fmt"
	"strings"
	"time"
)

// PresenceRecord is the durable presence state merged into a user document.
type PresenceRecord struct {
	UserID   string    `json:"id" bson:"_id"`
	IsOnline bool      `json:"isOnline" bson:"isOnline"`
	LastSeen time.Time `json:"lastSeen" bson:"lastSeen"`
}

// RecordUpdate is a partial write against a PresenceRecord. Nil fields are left untouched.
type RecordUpdate struct {
	IsOnline *bool
	LastSeen *time.Time
}

func NewRecordUpdate(online bool, lastSeen time.Time) RecordUpdate {
	return RecordUpdate{
		IsOnline: &online,
		LastSeen: &lastSeen,
	}
}

// Apply merges the update into r.
func (u RecordUpdate) Apply(r PresenceRecord) PresenceRecord {
	if u.IsOnline != nil {
		r.IsOnline = *u.IsOnline
	}

	if u.LastSeen != nil && u.LastSeen.After(r.LastSeen) {
		r.LastSeen = *u.LastSeen
	}

	return r
}

type StatusState string

const (
	StatusStateOnline  StatusState = "online"
	StatusStateOffline StatusState = "offline"
)

// EphemeralStatus is the connection-scoped value held by the ephemeral channel.
type EphemeralStatus struct {
	State       StatusState `json:"state"`
	LastChanged int64       `json:"last_changed"`
}

func NewEphemeralStatus(state StatusState, at time.Time) EphemeralStatus {
	return EphemeralStatus{
		State:       state,
		LastChanged: at.UnixMilli(),
	}
}

type LifecycleState string

const (
	LifecycleStateActive      LifecycleState = "active"
	LifecycleStateBackground  LifecycleState = "background"
	LifecycleStateInactive    LifecycleState = "inactive"
	LifecycleStateTerminating LifecycleState = "terminating"
)

func ParseLifecycleState(s string) (LifecycleState, error) {
	switch st := LifecycleState(strings.ToLower(s)); st {
	case LifecycleStateActive, LifecycleStateBackground, LifecycleStateInactive, LifecycleStateTerminating:
		return st, nil
	default:
		return "", fmt.Errorf("unknown lifecycle state %q", s)
	}
}

// Foreground reports whether the host application is visible to the user.
func (s LifecycleState) Foreground() bool {
	return s == LifecycleStateActive
}
