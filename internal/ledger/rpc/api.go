// Package rpc exposes a ledger.Client over JSON-RPC and dials remote ledger
// gateways speaking the same protocol.
package rpc

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/filecoin-project/go-jsonrpc"

	"blue-carbon/registry-portal/registry-portal-backend/internal/ledger"
)

// Namespace prefixes every method, e.g. Ledger.GetAccount.
const Namespace = "Ledger"

var _ ledger.Client = (*LedgerAPIStruct)(nil)

// LedgerAPIStruct is the client proxy populated by go-jsonrpc.
type LedgerAPIStruct struct {
	Internal struct {
		GetAccount      func(ctx context.Context, address ledger.PublicKey) (*ledger.Account, error)
		ListAccounts    func(ctx context.Context, filter ledger.AccountFilter) ([]*ledger.Account, error)
		SendTransaction func(ctx context.Context, tx *ledger.Transaction) (ledger.Signature, error)
	}
}

func (s *LedgerAPIStruct) GetAccount(ctx context.Context, address ledger.PublicKey) (*ledger.Account, error) {
	acc, err := s.Internal.GetAccount(ctx, address)
	if err != nil {
		return nil, remoteError(err)
	}
	return acc, nil
}

func (s *LedgerAPIStruct) ListAccounts(ctx context.Context, filter ledger.AccountFilter) ([]*ledger.Account, error) {
	accs, err := s.Internal.ListAccounts(ctx, filter)
	if err != nil {
		return nil, remoteError(err)
	}
	return accs, nil
}

func (s *LedgerAPIStruct) SendTransaction(ctx context.Context, tx *ledger.Transaction) (ledger.Signature, error) {
	sig, err := s.Internal.SendTransaction(ctx, tx)
	if err != nil {
		return ledger.Signature{}, remoteError(err)
	}
	return sig, nil
}

// remoteError restores the account-missing sentinel lost in transit.
func remoteError(err error) error {
	if strings.Contains(err.Error(), ledger.ErrAccountNotFound.Error()) {
		return fmt.Errorf("%w: %s", ledger.ErrAccountNotFound, err.Error())
	}
	return err
}

// NewClient dials a ledger gateway at addr (http(s):// or ws(s)://).
func NewClient(ctx context.Context, addr string, requestHeader http.Header) (*LedgerAPIStruct, jsonrpc.ClientCloser, error) {
	var res LedgerAPIStruct
	closer, err := jsonrpc.NewMergeClient(ctx, addr, Namespace,
		[]interface{}{
			&res.Internal,
		},
		requestHeader,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("dial ledger gateway %s: %w", addr, err)
	}
	return &res, closer, nil
}

// ledgerHandler adapts a ledger.Client to the reflection-based server.
type ledgerHandler struct {
	backend ledger.Client
}

func (h *ledgerHandler) GetAccount(ctx context.Context, address ledger.PublicKey) (*ledger.Account, error) {
	return h.backend.GetAccount(ctx, address)
}

func (h *ledgerHandler) ListAccounts(ctx context.Context, filter ledger.AccountFilter) ([]*ledger.Account, error) {
	return h.backend.ListAccounts(ctx, filter)
}

func (h *ledgerHandler) SendTransaction(ctx context.Context, tx *ledger.Transaction) (ledger.Signature, error) {
	return h.backend.SendTransaction(ctx, tx)
}

// NewHandler serves backend over JSON-RPC.
func NewHandler(backend ledger.Client) http.Handler {
	rpcServer := jsonrpc.NewServer()
	rpcServer.Register(Namespace, &ledgerHandler{backend: backend})
	return rpcServer
}
