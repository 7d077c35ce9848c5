package ledger

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"
)

// Instruction names understood by the registry program.
const (
	InstrInitializeRegistry = "initialize_registry"
	InstrRegisterProject    = "register_project"
	InstrRegisterVerifier   = "register_verifier"
	InstrVerifyProject      = "verify_project"
	InstrMintCredits        = "mint_verified_credits"
	InstrTransferCredits    = "transfer_credits"
	InstrRetireCredits      = "retire_credits"
	InstrCreateListing      = "create_listing"
	InstrPurchaseListing    = "purchase_listing"
	InstrCancelListing      = "cancel_listing"
	InstrSubmitMonitoring   = "submit_monitoring"
)

// AccountMeta names an account an instruction touches.
type AccountMeta struct {
	Name     string    `json:"name"`
	Address  PublicKey `json:"address"`
	Signer   bool      `json:"signer,omitempty"`
	Writable bool      `json:"writable,omitempty"`
}

// Instruction is a single program call.
type Instruction struct {
	Program  PublicKey       `json:"program"`
	Name     string          `json:"name"`
	Accounts []AccountMeta   `json:"accounts"`
	Args     json.RawMessage `json:"args,omitempty"`
}

// Account returns the address bound to the named account slot.
func (ix *Instruction) Account(name string) (AccountMeta, bool) {
	for _, m := range ix.Accounts {
		if m.Name == name {
			return m, true
		}
	}
	return AccountMeta{}, false
}

// DecodeArgs unmarshals the instruction arguments into out.
func (ix *Instruction) DecodeArgs(out interface{}) error {
	if len(ix.Args) == 0 {
		return nil
	}
	return json.Unmarshal(ix.Args, out)
}

// NewInstruction encodes args into an instruction.
func NewInstruction(program PublicKey, name string, args interface{}, accounts ...AccountMeta) (Instruction, error) {
	ix := Instruction{Program: program, Name: name, Accounts: accounts}
	if args != nil {
		raw, err := json.Marshal(args)
		if err != nil {
			return ix, fmt.Errorf("encode %s args: %w", name, err)
		}
		ix.Args = raw
	}
	return ix, nil
}

// SignaturePair binds a signature to the key that produced it.
type SignaturePair struct {
	Signer    PublicKey `json:"signer"`
	Signature Signature `json:"signature"`
}

// Transaction is an atomic batch of instructions.
type Transaction struct {
	FeePayer     PublicKey       `json:"fee_payer"`
	Nonce        string          `json:"nonce"`
	Instructions []Instruction   `json:"instructions"`
	Signatures   []SignaturePair `json:"signatures,omitempty"`
}

type txMessage struct {
	FeePayer     PublicKey     `json:"fee_payer"`
	Nonce        string        `json:"nonce"`
	Instructions []Instruction `json:"instructions"`
}

// Message returns the bytes covered by signatures.
func (tx *Transaction) Message() ([]byte, error) {
	return json.Marshal(txMessage{FeePayer: tx.FeePayer, Nonce: tx.Nonce, Instructions: tx.Instructions})
}

// RequiredSigners lists the distinct keys that must sign: the fee payer first,
// then every signer account in instruction order.
func (tx *Transaction) RequiredSigners() []PublicKey {
	seen := map[PublicKey]bool{tx.FeePayer: true}
	out := []PublicKey{tx.FeePayer}
	for _, ix := range tx.Instructions {
		for _, m := range ix.Accounts {
			if m.Signer && !seen[m.Address] {
				seen[m.Address] = true
				out = append(out, m.Address)
			}
		}
	}
	return out
}

// AddSignature appends or replaces the signature for signer.
func (tx *Transaction) AddSignature(signer PublicKey, sig Signature) {
	for i := range tx.Signatures {
		if tx.Signatures[i].Signer == signer {
			tx.Signatures[i].Signature = sig
			return
		}
	}
	tx.Signatures = append(tx.Signatures, SignaturePair{Signer: signer, Signature: sig})
}

// VerifySignatures checks that every required signer produced a valid
// signature over the message.
func (tx *Transaction) VerifySignatures() error {
	msg, err := tx.Message()
	if err != nil {
		return err
	}
	sigs := make(map[PublicKey]Signature, len(tx.Signatures))
	for _, p := range tx.Signatures {
		sigs[p.Signer] = p.Signature
	}
	for _, signer := range tx.RequiredSigners() {
		sig, ok := sigs[signer]
		if !ok {
			return fmt.Errorf("missing signature for %s", signer)
		}
		if !ed25519.Verify(ed25519.PublicKey(signer[:]), msg, sig[:]) {
			return fmt.Errorf("signature verification failed for %s", signer)
		}
	}
	return nil
}

// ID is the first signature, which identifies the transaction on the ledger.
func (tx *Transaction) ID() Signature {
	for _, p := range tx.Signatures {
		if p.Signer == tx.FeePayer {
			return p.Signature
		}
	}
	return Signature{}
}
