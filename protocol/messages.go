package protocol

import (
	"github.com/google/uuid"
)

// Kind discriminates envelope payloads.
type Kind string

const (
	// Reliable control messages.
	KindHello          Kind = "hello"
	KindWelcome        Kind = "welcome"
	KindDisconnect     Kind = "disconnect"
	KindResyncRequest  Kind = "resync_request"
	KindResyncResponse Kind = "resync_response"

	// Unreliable per-tick messages.
	KindPing         Kind = "ping"
	KindPong         Kind = "pong"
	KindCommandBatch Kind = "command_batch"
	KindSnapshot     Kind = "snapshot"
)

// Hello opens a session. Sent reliably by the client once the transport
// connects.
type Hello struct {
	ClientVersion string `json:"clientVersion,omitempty"`
}

// Welcome answers Hello. It assigns the player slot and session identity and
// doubles as the initial full state transfer.
type Welcome struct {
	PlayerID        PlayerID  `json:"playerId"`
	SessionID       uuid.UUID `json:"sessionId"`
	Tick            Tick      `json:"tick"`
	State           []byte    `json:"state"`
	Checksum        string    `json:"checksum"`
	TimestepSeconds float64   `json:"timestepSeconds"`
}

// Disconnect closes a session from either side.
type Disconnect struct {
	Reason string `json:"reason,omitempty"`
}

// Ping probes the server clock. ClientTime is the sender's local time in unix
// nanoseconds; it is echoed untouched so the client can measure the round
// trip. Seq orders answers so stale pongs can be dropped.
type Ping struct {
	Seq        uint32 `json:"seq"`
	ClientTime int64  `json:"clientTime"`
}

// Pong echoes a Ping together with the server's current tick.
type Pong struct {
	Seq        uint32 `json:"seq"`
	ClientTime int64  `json:"clientTime"`
	ServerTick Tick   `json:"serverTick"`
}

// CommandBatch carries a client's newest command plus retransmits of recent
// ones, or the server's relay of other players' accepted commands. Replayed
// commands are deduplicated by (PlayerID, Tick) on receipt.
type CommandBatch struct {
	Commands []Command `json:"commands"`
}

// Snapshot is the periodic authoritative full state at a tick boundary.
// Receivers keep only the newest tick and discard older in-flight snapshots.
type Snapshot struct {
	Tick     Tick   `json:"tick"`
	State    []byte `json:"state"`
	Checksum string `json:"checksum"`
}

// ResyncRequest asks for a reliable full state transfer after the client has
// lost the ability to roll back.
type ResyncRequest struct {
	// NewestTick is the newest tick the client still holds, zero if none.
	NewestTick Tick `json:"newestTick"`
}

// ResyncResponse carries the full state the client should restart from.
type ResyncResponse struct {
	Tick     Tick   `json:"tick"`
	State    []byte `json:"state"`
	Checksum string `json:"checksum"`
}
