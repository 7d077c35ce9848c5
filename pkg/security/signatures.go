// Package security verifies detached wallet signatures.
package security

import (
	"crypto/ed25519"
	"errors"
	"time"

	"github.com/mr-tron/base58"
)

var (
	ErrMalformedSignature = errors.New("signature is not a base58 ed25519 signature")
	ErrMalformedKey       = errors.New("public key is not an ed25519 key")
	ErrSignatureMismatch  = errors.New("signature does not match message")
)

// SignatureInfo describes a verified signature.
type SignatureInfo struct {
	Signer      string    `json:"signer"`
	Algorithm   string    `json:"algorithm"`
	SigningTime time.Time `json:"signingTime"`
	IsValid     bool      `json:"isValid"`
}

// Validator checks a wallet's signature over a message.
type Validator interface {
	Validate(publicKey, message []byte, signature string) (SignatureInfo, error)
}

type ed25519Validator struct {
	now func() time.Time
}

// NewValidator returns a Validator for base58-encoded ed25519 signatures,
// the encoding wallets use for sign-message requests.
func NewValidator() Validator {
	return &ed25519Validator{now: time.Now}
}

func (v *ed25519Validator) Validate(publicKey, message []byte, signature string) (SignatureInfo, error) {
	info := SignatureInfo{
		Signer:      base58.Encode(publicKey),
		Algorithm:   "Ed25519",
		SigningTime: v.now(),
	}
	if len(publicKey) != ed25519.PublicKeySize {
		return info, ErrMalformedKey
	}
	sig, err := base58.Decode(signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return info, ErrMalformedSignature
	}
	if !ed25519.Verify(ed25519.PublicKey(publicKey), message, sig) {
		return info, ErrSignatureMismatch
	}
	info.IsValid = true
	return info, nil
}
