package ledger

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"sync"

	"github.com/mr-tron/base58"
)

// Keypair is an in-process ed25519 signer.
type Keypair struct {
	private ed25519.PrivateKey
	public  PublicKey
}

// NewKeypair generates a random keypair.
func NewKeypair() (*Keypair, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	return keypairFrom(priv), nil
}

// KeypairFromSeed derives a keypair from a 32 byte seed.
func KeypairFromSeed(seed []byte) (*Keypair, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("keypair seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return keypairFrom(ed25519.NewKeyFromSeed(seed)), nil
}

// ParseKeypair decodes a base58 encoded 64 byte secret key or 32 byte seed.
func ParseKeypair(secret string) (*Keypair, error) {
	b, err := base58.Decode(secret)
	if err != nil {
		return nil, fmt.Errorf("decode secret key: %w", err)
	}
	switch len(b) {
	case ed25519.SeedSize:
		return KeypairFromSeed(b)
	case ed25519.PrivateKeySize:
		return keypairFrom(ed25519.PrivateKey(b)), nil
	default:
		return nil, fmt.Errorf("secret key must be %d or %d bytes, got %d", ed25519.SeedSize, ed25519.PrivateKeySize, len(b))
	}
}

func keypairFrom(priv ed25519.PrivateKey) *Keypair {
	var pk PublicKey
	copy(pk[:], priv.Public().(ed25519.PublicKey))
	return &Keypair{private: priv, public: pk}
}

func (k *Keypair) PublicKey() PublicKey {
	return k.public
}

// Secret returns the base58 encoded secret key.
func (k *Keypair) Secret() string {
	return base58.Encode(k.private)
}

// SignTransaction signs the transaction message.
func (k *Keypair) SignTransaction(ctx context.Context, tx *Transaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, err := tx.Message()
	if err != nil {
		return fmt.Errorf("encode transaction: %w", err)
	}
	var sig Signature
	copy(sig[:], ed25519.Sign(k.private, msg))
	tx.AddSignature(k.public, sig)
	return nil
}

// SignMessage signs an arbitrary off-ledger message, such as a login
// challenge.
func (k *Keypair) SignMessage(msg []byte) Signature {
	var sig Signature
	copy(sig[:], ed25519.Sign(k.private, msg))
	return sig
}

// MemKeyring is a Keyring backed by a map of in-process signers.
type MemKeyring struct {
	mu      sync.RWMutex
	signers map[PublicKey]Signer
}

func NewMemKeyring(signers ...Signer) *MemKeyring {
	k := &MemKeyring{signers: make(map[PublicKey]Signer)}
	for _, s := range signers {
		k.Add(s)
	}
	return k
}

func (k *MemKeyring) Add(s Signer) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.signers[s.PublicKey()] = s
}

func (k *MemKeyring) Signer(identity PublicKey) (Signer, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	s, ok := k.signers[identity]
	if !ok {
		return nil, fmt.Errorf("%w %s", ErrUnknownSigner, identity)
	}
	return s, nil
}

// Identities lists the keys held by the keyring.
func (k *MemKeyring) Identities() []PublicKey {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make([]PublicKey, 0, len(k.signers))
	for pk := range k.signers {
		out = append(out, pk)
	}
	return out
}
