// Package ledger defines the contract with the remote ledger that hosts the
// carbon credit registry program: accounts, transactions, and the external
// signer that authorizes them.
package ledger

import (
	"context"
	"errors"
)

var (
	// ErrAccountNotFound is returned by GetAccount when nothing is stored at
	// the address.
	ErrAccountNotFound = errors.New("account does not exist")

	// ErrSignatureRejected is returned by a Signer when the holder declines.
	ErrSignatureRejected = errors.New("user rejected the signature request")

	// ErrUnknownSigner is returned by a Keyring that holds no key for an
	// identity.
	ErrUnknownSigner = errors.New("no signer for identity")
)

// AccountFilter selects accounts by kind and controlling authority. Zero
// fields match everything.
type AccountFilter struct {
	Kind      AccountKind `json:"kind,omitempty"`
	Authority PublicKey   `json:"authority,omitempty"`
}

// Matches reports whether a satisfies the filter.
func (f AccountFilter) Matches(a *Account) bool {
	if f.Kind != "" && a.Kind != f.Kind {
		return false
	}
	if !f.Authority.IsZero() && a.Authority != f.Authority {
		return false
	}
	return true
}

// Client is the remote ledger collaborator.
type Client interface {
	// GetAccount reads one account. A missing account yields
	// ErrAccountNotFound.
	GetAccount(ctx context.Context, address PublicKey) (*Account, error)

	// ListAccounts returns the program's accounts matching filter.
	ListAccounts(ctx context.Context, filter AccountFilter) ([]*Account, error)

	// SendTransaction submits a signed transaction and returns once it is
	// confirmed or has failed.
	SendTransaction(ctx context.Context, tx *Transaction) (Signature, error)
}

// Signer is an external signer such as a wallet.
type Signer interface {
	PublicKey() PublicKey
	SignTransaction(ctx context.Context, tx *Transaction) error
}

// Keyring resolves the signer for a wallet identity.
type Keyring interface {
	Signer(identity PublicKey) (Signer, error)
}
