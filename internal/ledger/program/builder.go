// Package program builds the registry program's instructions with the
// account layout the program expects.
package program

import (
	"blue-carbon/registry-portal/registry-portal-backend/internal/ledger"
	"blue-carbon/registry-portal/registry-portal-backend/internal/ledger/address"
)

// Builder assembles instructions for one deployment.
type Builder struct {
	deriver *address.Deriver
}

func NewBuilder(deriver *address.Deriver) *Builder {
	return &Builder{deriver: deriver}
}

func (b *Builder) Deriver() *address.Deriver {
	return b.deriver
}

func (b *Builder) ix(name string, args interface{}, accounts ...ledger.AccountMeta) (ledger.Instruction, error) {
	return ledger.NewInstruction(b.deriver.Program, name, args, accounts...)
}

func signerMeta(name string, pk ledger.PublicKey) ledger.AccountMeta {
	return ledger.AccountMeta{Name: name, Address: pk, Signer: true, Writable: true}
}

func writable(name string, pk ledger.PublicKey) ledger.AccountMeta {
	return ledger.AccountMeta{Name: name, Address: pk, Writable: true}
}

func readonly(name string, pk ledger.PublicKey) ledger.AccountMeta {
	return ledger.AccountMeta{Name: name, Address: pk}
}

func (b *Builder) InitializeRegistry(admin ledger.PublicKey, decimals uint8) (ledger.Instruction, error) {
	reg, err := b.deriver.Registry()
	if err != nil {
		return ledger.Instruction{}, err
	}
	mint, err := b.deriver.CreditMint()
	if err != nil {
		return ledger.Instruction{}, err
	}
	return b.ix(ledger.InstrInitializeRegistry, ledger.InitializeRegistryArgs{Decimals: decimals},
		signerMeta("admin", admin),
		writable("registry", reg.Address),
		writable("credit_mint", mint.Address),
	)
}

// RegisterProject returns the instruction and the address the project will
// live at.
func (b *Builder) RegisterProject(owner ledger.PublicKey, args ledger.RegisterProjectArgs) (ledger.Instruction, ledger.PublicKey, error) {
	reg, err := b.deriver.Registry()
	if err != nil {
		return ledger.Instruction{}, ledger.PublicKey{}, err
	}
	proj, err := b.deriver.Project(owner, args.ProjectID)
	if err != nil {
		return ledger.Instruction{}, ledger.PublicKey{}, err
	}
	ix, err := b.ix(ledger.InstrRegisterProject, args,
		signerMeta("owner", owner),
		writable("registry", reg.Address),
		writable("project", proj.Address),
	)
	return ix, proj.Address, err
}

func (b *Builder) RegisterVerifier(admin, identity ledger.PublicKey, args ledger.RegisterVerifierArgs) (ledger.Instruction, error) {
	reg, err := b.deriver.Registry()
	if err != nil {
		return ledger.Instruction{}, err
	}
	v, err := b.deriver.Verifier(identity)
	if err != nil {
		return ledger.Instruction{}, err
	}
	return b.ix(ledger.InstrRegisterVerifier, args,
		signerMeta("admin", admin),
		writable("registry", reg.Address),
		readonly("verifier_authority", identity),
		writable("verifier", v.Address),
	)
}

func (b *Builder) VerifyProject(validator, project ledger.PublicKey, args ledger.VerifyProjectArgs) (ledger.Instruction, error) {
	reg, err := b.deriver.Registry()
	if err != nil {
		return ledger.Instruction{}, err
	}
	v, err := b.deriver.Verifier(validator)
	if err != nil {
		return ledger.Instruction{}, err
	}
	rec, err := b.deriver.Verification(project, validator)
	if err != nil {
		return ledger.Instruction{}, err
	}
	return b.ix(ledger.InstrVerifyProject, args,
		signerMeta("validator", validator),
		readonly("registry", reg.Address),
		writable("verifier", v.Address),
		writable("project", project),
		writable("verification", rec.Address),
	)
}

// MintCredits mints amount base units into the project owner's account.
func (b *Builder) MintCredits(authority, project, owner ledger.PublicKey, amount uint64) (ledger.Instruction, error) {
	reg, err := b.deriver.Registry()
	if err != nil {
		return ledger.Instruction{}, err
	}
	mint, err := b.deriver.CreditMint()
	if err != nil {
		return ledger.Instruction{}, err
	}
	recipient, err := b.deriver.CreditAccount(owner)
	if err != nil {
		return ledger.Instruction{}, err
	}
	return b.ix(ledger.InstrMintCredits, ledger.AmountArgs{Amount: amount},
		signerMeta("authority", authority),
		writable("registry", reg.Address),
		writable("credit_mint", mint.Address),
		writable("project", project),
		writable("recipient_account", recipient.Address),
	)
}

func (b *Builder) TransferCredits(from, to ledger.PublicKey, amount uint64) (ledger.Instruction, error) {
	src, err := b.deriver.CreditAccount(from)
	if err != nil {
		return ledger.Instruction{}, err
	}
	dst, err := b.deriver.CreditAccount(to)
	if err != nil {
		return ledger.Instruction{}, err
	}
	return b.ix(ledger.InstrTransferCredits, ledger.AmountArgs{Amount: amount},
		signerMeta("from_authority", from),
		writable("from_account", src.Address),
		readonly("to_holder", to),
		writable("to_account", dst.Address),
	)
}

func (b *Builder) RetireCredits(owner ledger.PublicKey, amount uint64) (ledger.Instruction, error) {
	reg, err := b.deriver.Registry()
	if err != nil {
		return ledger.Instruction{}, err
	}
	mint, err := b.deriver.CreditMint()
	if err != nil {
		return ledger.Instruction{}, err
	}
	src, err := b.deriver.CreditAccount(owner)
	if err != nil {
		return ledger.Instruction{}, err
	}
	sink, err := b.deriver.RetirementSink(owner)
	if err != nil {
		return ledger.Instruction{}, err
	}
	return b.ix(ledger.InstrRetireCredits, ledger.AmountArgs{Amount: amount},
		signerMeta("owner", owner),
		writable("registry", reg.Address),
		writable("credit_mint", mint.Address),
		writable("owner_account", src.Address),
		writable("retirement_sink", sink.Address),
	)
}

// CreateListing returns the instruction and the listing address.
func (b *Builder) CreateListing(seller, project ledger.PublicKey, args ledger.CreateListingArgs) (ledger.Instruction, ledger.PublicKey, error) {
	listing, err := b.deriver.Listing(project, seller)
	if err != nil {
		return ledger.Instruction{}, ledger.PublicKey{}, err
	}
	src, err := b.deriver.CreditAccount(seller)
	if err != nil {
		return ledger.Instruction{}, ledger.PublicKey{}, err
	}
	ix, err := b.ix(ledger.InstrCreateListing, args,
		signerMeta("seller", seller),
		writable("project", project),
		writable("listing", listing.Address),
		writable("seller_account", src.Address),
	)
	return ix, listing.Address, err
}

func (b *Builder) PurchaseListing(buyer, listing, seller ledger.PublicKey, quantity uint64) (ledger.Instruction, error) {
	dst, err := b.deriver.CreditAccount(buyer)
	if err != nil {
		return ledger.Instruction{}, err
	}
	return b.ix(ledger.InstrPurchaseListing, ledger.PurchaseListingArgs{Quantity: quantity},
		signerMeta("buyer", buyer),
		writable("listing", listing),
		writable("seller", seller),
		writable("buyer_account", dst.Address),
	)
}

func (b *Builder) CancelListing(seller, listing ledger.PublicKey) (ledger.Instruction, error) {
	src, err := b.deriver.CreditAccount(seller)
	if err != nil {
		return ledger.Instruction{}, err
	}
	return b.ix(ledger.InstrCancelListing, nil,
		signerMeta("seller", seller),
		writable("listing", listing),
		writable("seller_account", src.Address),
	)
}

// SubmitMonitoring returns the instruction and the record address.
func (b *Builder) SubmitMonitoring(submitter, project ledger.PublicKey, args ledger.SubmitMonitoringArgs) (ledger.Instruction, ledger.PublicKey, error) {
	rec, err := b.deriver.Monitoring(project, args.Timestamp)
	if err != nil {
		return ledger.Instruction{}, ledger.PublicKey{}, err
	}
	ix, err := b.ix(ledger.InstrSubmitMonitoring, args,
		signerMeta("submitter", submitter),
		writable("project", project),
		writable("record", rec.Address),
	)
	return ix, rec.Address, err
}
