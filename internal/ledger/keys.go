package ledger

import (
	"bytes"
	"crypto/ed25519"
	"fmt"

	"github.com/mr-tron/base58"
)

// PublicKeySize is the byte length of an account address.
const PublicKeySize = 32

// PublicKey is a 32 byte account address, rendered in base58.
type PublicKey [PublicKeySize]byte

// ParsePublicKey decodes a base58 address.
func ParsePublicKey(s string) (PublicKey, error) {
	var pk PublicKey
	b, err := base58.Decode(s)
	if err != nil {
		return pk, fmt.Errorf("invalid address %q: %w", s, err)
	}
	if len(b) != PublicKeySize {
		return pk, fmt.Errorf("invalid address %q: want %d bytes, got %d", s, PublicKeySize, len(b))
	}
	copy(pk[:], b)
	return pk, nil
}

// MustPublicKey is ParsePublicKey for constants.
func MustPublicKey(s string) PublicKey {
	pk, err := ParsePublicKey(s)
	if err != nil {
		panic(err)
	}
	return pk
}

func (pk PublicKey) String() string {
	return base58.Encode(pk[:])
}

func (pk PublicKey) Bytes() []byte {
	return pk[:]
}

func (pk PublicKey) IsZero() bool {
	return pk == PublicKey{}
}

func (pk PublicKey) Equals(other PublicKey) bool {
	return bytes.Equal(pk[:], other[:])
}

func (pk PublicKey) MarshalText() ([]byte, error) {
	return []byte(pk.String()), nil
}

func (pk *PublicKey) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*pk = PublicKey{}
		return nil
	}
	parsed, err := ParsePublicKey(string(text))
	if err != nil {
		return err
	}
	*pk = parsed
	return nil
}

// Signature is an ed25519 transaction signature.
type Signature [ed25519.SignatureSize]byte

func (s Signature) String() string {
	return base58.Encode(s[:])
}

func (s Signature) IsZero() bool {
	return s == Signature{}
}

func (s Signature) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Signature) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*s = Signature{}
		return nil
	}
	b, err := base58.Decode(string(text))
	if err != nil {
		return fmt.Errorf("invalid signature: %w", err)
	}
	if len(b) != ed25519.SignatureSize {
		return fmt.Errorf("invalid signature: want %d bytes, got %d", ed25519.SignatureSize, len(b))
	}
	copy(s[:], b)
	return nil
}
