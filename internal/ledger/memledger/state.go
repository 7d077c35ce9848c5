package memledger

import (
	"encoding/json"
	"fmt"

	"blue-carbon/registry-portal/registry-portal-backend/internal/failure"
	"blue-carbon/registry-portal/registry-portal-backend/internal/ledger"
)

const codeSigner = failure.CodeConstraintSigner

// state stages the writes of one transaction over the committed ledger.
type state struct {
	l        *Ledger
	writes   map[ledger.PublicKey]*ledger.Account
	lamports map[ledger.PublicKey]uint64
}

func newState(l *Ledger) *state {
	return &state{
		l:        l,
		writes:   make(map[ledger.PublicKey]*ledger.Account),
		lamports: make(map[ledger.PublicKey]uint64),
	}
}

func (s *state) get(addr ledger.PublicKey) (*ledger.Account, bool) {
	if acc, ok := s.writes[addr]; ok {
		return acc, true
	}
	acc, ok := s.l.accounts[addr]
	return acc, ok
}

func (s *state) exists(addr ledger.PublicKey) bool {
	_, ok := s.get(addr)
	return ok
}

// load decodes the account at addr into out, failing when it is absent or of
// another kind.
func (s *state) load(addr ledger.PublicKey, kind ledger.AccountKind, out interface{}) error {
	acc, ok := s.get(addr)
	if !ok {
		return programError(failure.CodeAccountNotInitialized)
	}
	if acc.Kind != kind {
		return programError(failure.CodeInvalidTokenAccount)
	}
	return acc.Decode(out)
}

func (s *state) put(addr ledger.PublicKey, kind ledger.AccountKind, authority ledger.PublicKey, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", kind, err)
	}
	s.writes[addr] = &ledger.Account{
		Address:   addr,
		Program:   s.l.deriver.Program,
		Kind:      kind,
		Authority: authority,
		Data:      raw,
	}
	return nil
}

func (s *state) lamportsOf(pk ledger.PublicKey) uint64 {
	if v, ok := s.lamports[pk]; ok {
		return v
	}
	return s.l.lamports[pk]
}

func (s *state) setLamports(pk ledger.PublicKey, v uint64) {
	s.lamports[pk] = v
}

func (s *state) commit(slot uint64) {
	for addr, acc := range s.writes {
		acc.Slot = slot
		s.l.accounts[addr] = acc
	}
	for pk, v := range s.lamports {
		s.l.lamports[pk] = v
	}
}

func (s *state) now() int64 {
	return s.l.opts.Clock().Unix()
}

// programError renders a rejection the way the program runtime logs it.
func programError(code string) error {
	info, ok := failure.LookupCode(code)
	if !ok {
		return fmt.Errorf("AnchorError occurred. Error Code: %s.", code)
	}
	return fmt.Errorf("AnchorError occurred. Error Code: %s. Error Number: %d. Error Message: %s.",
		info.Name, info.Number, info.Message)
}

func alreadyInUse(addr ledger.PublicKey) error {
	return fmt.Errorf("Allocate: account Address { address: %s, base: None } already in use; custom program error: 0x0", addr)
}

func insufficientLamports(have, need uint64) error {
	return fmt.Errorf("Transfer: insufficient lamports %d, need %d", have, need)
}

func checkedAdd(a, b uint64) (uint64, error) {
	c := a + b
	if c < a {
		return 0, programError(failure.CodeMathOverflow)
	}
	return c, nil
}

func checkedMul(a, b uint64) (uint64, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	c := a * b
	if c/b != a {
		return 0, programError(failure.CodeMathOverflow)
	}
	return c, nil
}
