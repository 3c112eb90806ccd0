package netcode

import "errors"

var (
	// ErrInvalidCommand marks a command that was rejected before reaching
	// the simulation: malformed, outside the accepted tick window, or issued
	// for a player slot the sender does not own.
	ErrInvalidCommand = errors.New("invalid command")

	// ErrStaleSnapshot marks an authoritative snapshot that arrived after a
	// newer one had already been applied. It is dropped, never applied
	// backwards.
	ErrStaleSnapshot = errors.New("stale snapshot")

	// ErrDesyncUnrecoverable means the client can no longer roll back to the
	// snapshot's tick because its history window has moved past it. The only
	// way forward is a full state resync.
	ErrDesyncUnrecoverable = errors.New("desync unrecoverable")

	// ErrClockDesync means clock sync confidence was lost and predictions
	// can no longer be timed. The client falls back to applying snapshots
	// directly until confidence returns.
	ErrClockDesync = errors.New("clock desync")
)
