package structures

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordUpdateApply(t *testing.T) {
	t0 := time.Unix(1700000000, 0)
	rec := PresenceRecord{UserID: "U1", IsOnline: true, LastSeen: t0}

	rec = NewRecordUpdate(false, t0.Add(time.Second)).Apply(rec)
	assert.False(t, rec.IsOnline)
	assert.Equal(t, t0.Add(time.Second), rec.LastSeen)

	// an older timestamp never rewinds lastSeen
	rec = NewRecordUpdate(true, t0).Apply(rec)
	assert.True(t, rec.IsOnline)
	assert.Equal(t, t0.Add(time.Second), rec.LastSeen)

	online := false
	rec = RecordUpdate{IsOnline: &online}.Apply(rec)
	assert.False(t, rec.IsOnline)
	assert.Equal(t, "U1", rec.UserID)
}

func TestParseLifecycleState(t *testing.T) {
	st, err := ParseLifecycleState("Background")
	require.NoError(t, err)
	assert.Equal(t, LifecycleStateBackground, st)
	assert.False(t, st.Foreground())

	_, err = ParseLifecycleState("sleeping")
	assert.Error(t, err)
}

func TestNewEphemeralStatus(t *testing.T) {
	at := time.UnixMilli(1700000000123)
	st := NewEphemeralStatus(StatusStateOnline, at)
	assert.Equal(t, int64(1700000000123), st.LastChanged)
	assert.Equal(t, StatusStateOnline, st.State)
}
