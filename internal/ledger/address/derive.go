// Package address derives the deterministic program addresses of registry
// entities from their logical keys.
package address

import (
	"crypto/sha256"
	"encoding/binary"

	"filippo.io/edwards25519"

	"blue-carbon/registry-portal/registry-portal-backend/internal/failure"
	"blue-carbon/registry-portal/registry-portal-backend/internal/ledger"
)

const (
	// MaxSeedLength is the largest single namespace component in bytes.
	MaxSeedLength = 32
	// MaxSeeds counts the bump seed.
	MaxSeeds = 16

	pdaMarker = "ProgramDerivedAddress"
)

// Derived is a program address and the bump that moved it off the curve.
type Derived struct {
	Address ledger.PublicKey `json:"address"`
	Bump    uint8            `json:"bump"`
}

// Derive searches bumps from 255 down for the first hash of
// seeds‖bump‖program‖marker that is not an ed25519 point.
func Derive(program ledger.PublicKey, seeds ...[]byte) (Derived, error) {
	if len(seeds) > MaxSeeds-1 {
		return Derived{}, failure.InvalidNamespace("too many seeds: %d, max %d", len(seeds), MaxSeeds-1)
	}
	for i, s := range seeds {
		if len(s) > MaxSeedLength {
			return Derived{}, failure.InvalidNamespace("seed %d is %d bytes, max %d", i, len(s), MaxSeedLength)
		}
	}

	buf := make([][]byte, len(seeds)+1)
	copy(buf, seeds)
	for bump := 255; bump >= 0; bump-- {
		buf[len(seeds)] = []byte{byte(bump)}
		addr, ok := createAddress(program, buf)
		if ok {
			return Derived{Address: addr, Bump: uint8(bump)}, nil
		}
	}
	return Derived{}, failure.InvalidNamespace("no viable bump for seeds")
}

// Verify re-derives with a known bump and reports whether it matches addr.
func Verify(program ledger.PublicKey, addr ledger.PublicKey, bump uint8, seeds ...[]byte) bool {
	full := append(append([][]byte{}, seeds...), []byte{bump})
	got, ok := createAddress(program, full)
	return ok && got == addr
}

func createAddress(program ledger.PublicKey, seeds [][]byte) (ledger.PublicKey, bool) {
	h := sha256.New()
	for _, s := range seeds {
		h.Write(s)
	}
	h.Write(program[:])
	h.Write([]byte(pdaMarker))

	var out ledger.PublicKey
	copy(out[:], h.Sum(nil))
	if onCurve(out[:]) {
		return ledger.PublicKey{}, false
	}
	return out, true
}

func onCurve(b []byte) bool {
	_, err := new(edwards25519.Point).SetBytes(b)
	return err == nil
}

// TimestampSeed encodes a unix timestamp as 8 byte little endian.
func TimestampSeed(ts int64) ([]byte, error) {
	if ts < 0 {
		return nil, failure.InvalidNamespace("timestamp must not be negative: %d", ts)
	}
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, uint64(ts))
	return b, nil
}
