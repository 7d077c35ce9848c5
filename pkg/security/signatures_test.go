package security

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidator(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	msg := []byte("Sign in to blue-carbon-registry")
	sig := base58.Encode(ed25519.Sign(priv, msg))

	v := NewValidator()
	info, err := v.Validate(pub, msg, sig)
	require.NoError(t, err)
	assert.True(t, info.IsValid)
	assert.Equal(t, base58.Encode(pub), info.Signer)
	assert.Equal(t, "Ed25519", info.Algorithm)

	tests := []struct {
		name    string
		key     []byte
		msg     []byte
		sig     string
		wantErr error
	}{
		{"tampered message", pub, []byte("Sign in to somewhere else"), sig, ErrSignatureMismatch},
		{"not base58", pub, msg, "0OIl", ErrMalformedSignature},
		{"short signature", pub, msg, base58.Encode([]byte("short")), ErrMalformedSignature},
		{"short key", pub[:16], msg, sig, ErrMalformedKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := v.Validate(tt.key, tt.msg, tt.sig)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.False(t, info.IsValid)
		})
	}
}
