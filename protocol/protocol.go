// Package protocol defines the messages exchanged between the sync client and
// server. Every message travels inside an Envelope so transports stay payload
// agnostic; the envelope data is encoded with the codec package.
package protocol

import (
	"github.com/goccy/go-json"
)

// Tick identifies one discrete simulation step. Ticks increase monotonically
// and each covers the same fixed slice of real time.
type Tick int64

// PlayerID is the server assigned player slot.
type PlayerID uint8

// Command carries one player's input for one tick. The payload is opaque to
// the sync core; the game layer defines its shape. At most one command exists
// per (PlayerID, Tick) and a later write replaces an earlier one. A nil
// payload is the neutral command: applying it must leave the simulation's
// input state unchanged.
type Command struct {
	PlayerID PlayerID        `json:"playerId"`
	Tick     Tick            `json:"tick"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// IsNeutral reports whether the command carries no input.
func (c Command) IsNeutral() bool {
	return len(c.Payload) == 0
}

// Neutral returns the neutral command for a player at a tick.
func Neutral(id PlayerID, tick Tick) Command {
	return Command{PlayerID: id, Tick: tick}
}
