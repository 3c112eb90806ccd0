package protocol

import (
	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"

	"github.com/aleksa2808/bevy-networked-platformer/codec"
)

var knownKinds = map[Kind]struct{}{
	KindHello:          {},
	KindWelcome:        {},
	KindDisconnect:     {},
	KindResyncRequest:  {},
	KindResyncResponse: {},
	KindPing:           {},
	KindPong:           {},
	KindCommandBatch:   {},
	KindSnapshot:       {},
}

// Envelope frames a wire message with its kind. Data holds the encoded
// message payload.
type Envelope struct {
	Kind Kind            `json:"kind"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope encodes a message payload under the given kind.
func NewEnvelope(kind Kind, payload any) (Envelope, error) {
	if _, ok := knownKinds[kind]; !ok {
		return Envelope{}, eris.Errorf("unknown message kind %q", kind)
	}
	data, err := codec.Encode(payload)
	if err != nil {
		return Envelope{}, eris.Wrapf(err, "failed to encode %q payload", kind)
	}
	return Envelope{Kind: kind, Data: data}, nil
}

// Marshal encodes the envelope for the wire.
func (e Envelope) Marshal() ([]byte, error) {
	return codec.Encode(e)
}

// UnmarshalEnvelope decodes wire bytes into an envelope, rejecting unknown
// kinds.
func UnmarshalEnvelope(bz []byte) (Envelope, error) {
	env, err := codec.Decode[Envelope](bz)
	if err != nil {
		return Envelope{}, eris.Wrap(err, "failed to decode envelope")
	}
	if _, ok := knownKinds[env.Kind]; !ok {
		return Envelope{}, eris.Errorf("unknown message kind %q", env.Kind)
	}
	return env, nil
}
