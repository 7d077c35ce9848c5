// Package memledger is an in-process stand-in for the remote ledger. It
// applies the registry program's rules atomically per transaction, serialized
// under a single lock the way the real ledger serializes writes to an
// account.
package memledger

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"blue-carbon/registry-portal/registry-portal-backend/internal/ledger"
	"blue-carbon/registry-portal/registry-portal-backend/internal/ledger/address"
)

// RejectionPolicy decides what a rejecting verdict does to a project.
type RejectionPolicy string

const (
	// RejectTerminal moves the project to Rejected for good.
	RejectTerminal RejectionPolicy = "terminal"
	// RejectResubmit leaves the project Pending for another review.
	RejectResubmit RejectionPolicy = "resubmit"
)

// Options configures the simulated deployment.
type Options struct {
	RejectionPolicy   RejectionPolicy
	RequiredApprovals int
	// Fee is charged to the fee payer of every transaction, in lamports.
	Fee   uint64
	Clock func() time.Time
}

// Interceptor runs before a transaction is applied. A non-nil error fails
// the submission without touching state.
type Interceptor func(ctx context.Context, tx *ledger.Transaction) error

// Ledger implements ledger.Client in memory.
type Ledger struct {
	mu          sync.Mutex
	deriver     *address.Deriver
	opts        Options
	logger      *zap.Logger
	accounts    map[ledger.PublicKey]*ledger.Account
	lamports    map[ledger.PublicKey]uint64
	slot        uint64
	interceptor Interceptor
	applied     []ledger.Signature
}

var _ ledger.Client = (*Ledger)(nil)

// New creates an empty ledger hosting the registry program at
// deriver.Program.
func New(deriver *address.Deriver, opts Options, logger *zap.Logger) *Ledger {
	if opts.RejectionPolicy == "" {
		opts.RejectionPolicy = RejectTerminal
	}
	if opts.RequiredApprovals <= 0 {
		opts.RequiredApprovals = 1
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		deriver:  deriver,
		opts:     opts,
		logger:   logger,
		accounts: make(map[ledger.PublicKey]*ledger.Account),
		lamports: make(map[ledger.PublicKey]uint64),
	}
}

// SetInterceptor installs fn to run before every submission.
func (l *Ledger) SetInterceptor(fn Interceptor) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.interceptor = fn
}

// Airdrop credits lamports to a wallet.
func (l *Ledger) Airdrop(to ledger.PublicKey, lamports uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lamports[to] += lamports
}

// Lamports returns a wallet's native balance.
func (l *Ledger) Lamports(of ledger.PublicKey) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lamports[of]
}

// Slot returns the number of applied transactions.
func (l *Ledger) Slot() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.slot
}

func (l *Ledger) GetAccount(ctx context.Context, addr ledger.PublicKey) (*ledger.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	acc, ok := l.accounts[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ledger.ErrAccountNotFound, addr)
	}
	return cloneAccount(acc), nil
}

func (l *Ledger) ListAccounts(ctx context.Context, filter ledger.AccountFilter) ([]*ledger.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*ledger.Account, 0)
	for _, acc := range l.accounts {
		if filter.Matches(acc) {
			out = append(out, cloneAccount(acc))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Address.String() < out[j].Address.String()
	})
	return out, nil
}

// SendTransaction verifies signatures, charges the fee and applies every
// instruction. Either all instructions commit or none do.
func (l *Ledger) SendTransaction(ctx context.Context, tx *ledger.Transaction) (ledger.Signature, error) {
	if err := ctx.Err(); err != nil {
		return ledger.Signature{}, err
	}
	if tx == nil || len(tx.Instructions) == 0 {
		return ledger.Signature{}, fmt.Errorf("transaction has no instructions")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.interceptor != nil {
		if err := l.interceptor(ctx, tx); err != nil {
			return ledger.Signature{}, err
		}
	}

	if err := tx.VerifySignatures(); err != nil {
		return ledger.Signature{}, fmt.Errorf("%v: %w", err, programError(codeSigner))
	}

	st := newState(l)
	if l.opts.Fee > 0 {
		if st.lamportsOf(tx.FeePayer) < l.opts.Fee {
			return ledger.Signature{}, fmt.Errorf("Transaction simulation failed: Attempt to debit an account but found no record of a prior credit.")
		}
		st.setLamports(tx.FeePayer, st.lamportsOf(tx.FeePayer)-l.opts.Fee)
	}

	for i := range tx.Instructions {
		ix := &tx.Instructions[i]
		if ix.Program != l.deriver.Program {
			return ledger.Signature{}, fmt.Errorf("instruction %d: incorrect program id %s", i, ix.Program)
		}
		if err := st.apply(ix); err != nil {
			l.logger.Debug("Transaction rejected",
				zap.String("instruction", ix.Name),
				zap.Error(err),
			)
			return ledger.Signature{}, fmt.Errorf("instruction %d (%s): %w", i, ix.Name, err)
		}
	}

	l.slot++
	st.commit(l.slot)
	id := tx.ID()
	l.applied = append(l.applied, id)
	l.logger.Debug("Transaction confirmed",
		zap.String("signature", id.String()),
		zap.Uint64("slot", l.slot),
		zap.Int("instructions", len(tx.Instructions)),
	)
	return id, nil
}

func cloneAccount(a *ledger.Account) *ledger.Account {
	c := *a
	c.Data = append(json.RawMessage(nil), a.Data...)
	return &c
}
