package codec_test

import (
	"testing"

	"gotest.tools/v3/assert"

	"github.com/aleksa2808/bevy-networked-platformer/codec"
)

type payload struct {
	Name  string         `json:"name"`
	Count int            `json:"count"`
	Tags  map[string]int `json:"tags"`
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	in := payload{Name: "arena", Count: 3, Tags: map[string]int{"b": 2, "a": 1}}
	bz, err := codec.Encode(in)
	assert.NilError(t, err)

	out, err := codec.Decode[payload](bz)
	assert.NilError(t, err)
	assert.DeepEqual(t, in, out)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := codec.Decode[payload]([]byte("{not json"))
	assert.Check(t, err != nil)
}

func TestChecksumIsStableAcrossMapOrder(t *testing.T) {
	// Map key order must not leak into the checksum or divergence detection
	// would produce false positives.
	a := payload{Name: "arena", Tags: map[string]int{"x": 1, "y": 2, "z": 3}}
	b := payload{Name: "arena", Tags: map[string]int{"z": 3, "y": 2, "x": 1}}

	sumA, err := codec.Checksum(a)
	assert.NilError(t, err)
	sumB, err := codec.Checksum(b)
	assert.NilError(t, err)
	assert.Equal(t, sumA, sumB)
}

func TestChecksumDiffersOnChange(t *testing.T) {
	sumA, err := codec.Checksum(payload{Count: 1})
	assert.NilError(t, err)
	sumB, err := codec.Checksum(payload{Count: 2})
	assert.NilError(t, err)
	assert.Check(t, sumA != sumB)
}
