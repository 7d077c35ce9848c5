package program

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"blue-carbon/registry-portal/registry-portal-backend/internal/ledger"
)

// NewTransaction wraps instructions in a transaction paid for by payer.
func NewTransaction(payer ledger.PublicKey, ixs ...ledger.Instruction) *ledger.Transaction {
	return &ledger.Transaction{
		FeePayer:     payer,
		Nonce:        uuid.New().String(),
		Instructions: ixs,
	}
}

// Send signs a transaction with every signer, the first paying fees, and
// submits it. Signing honors ctx. Once signed, the submission runs to
// completion even if ctx is cancelled.
func Send(ctx context.Context, client ledger.Client, signers []ledger.Signer, ixs ...ledger.Instruction) (ledger.Signature, error) {
	if len(signers) == 0 {
		return ledger.Signature{}, fmt.Errorf("transaction needs at least one signer")
	}
	tx := NewTransaction(signers[0].PublicKey(), ixs...)
	for _, s := range signers {
		if err := s.SignTransaction(ctx, tx); err != nil {
			return ledger.Signature{}, err
		}
	}
	return client.SendTransaction(context.WithoutCancel(ctx), tx)
}
