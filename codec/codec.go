// Package codec is the single serialization point for wire messages and
// simulation state. Encoding is deterministic for a given value (map keys are
// sorted), which is what makes checksums usable for divergence detection.
package codec

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"
)

func Decode[T any](bz []byte) (T, error) {
	comp := new(T)
	err := json.Unmarshal(bz, comp)
	if err != nil {
		return *comp, eris.Wrap(err, "")
	}
	return *comp, nil
}

func Encode(comp any) ([]byte, error) {
	bz, err := json.Marshal(comp)
	if err != nil {
		return nil, eris.Wrap(err, "")
	}
	return bz, nil
}

// Checksum returns the hex encoded sha256 of the value's encoded form.
func Checksum(comp any) (string, error) {
	bz, err := Encode(comp)
	if err != nil {
		return "", err
	}
	return ChecksumBytes(bz), nil
}

// ChecksumBytes returns the hex encoded sha256 of already encoded bytes.
func ChecksumBytes(bz []byte) string {
	sum := sha256.Sum256(bz)
	return hex.EncodeToString(sum[:])
}
