package instance

import "errors"

var (
	// ErrStreamNotReady is returned by the ephemeral channel while its transport
	// is attached but not yet able to accept writes.
	ErrStreamNotReady = errors.New("missing stream token")
	// ErrChannelOffline is returned for writes attempted while the channel is disconnected.
	ErrChannelOffline = errors.New("ephemeral channel offline")
	// ErrConnectivityTimeout is returned when the channel did not report connected in time.
	ErrConnectivityTimeout = errors.New("timed out waiting for connectivity")
)
