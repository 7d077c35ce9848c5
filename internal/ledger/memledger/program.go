package memledger

import (
	"strings"

	"blue-carbon/registry-portal/registry-portal-backend/internal/failure"
	"blue-carbon/registry-portal/registry-portal-backend/internal/ledger"
	"blue-carbon/registry-portal/registry-portal-backend/internal/ledger/address"
)

const (
	maxContentIDLength = 64
	maxCredentialsLen  = 128
)

var ecosystemTypes = map[string]bool{
	"mangrove":          true,
	"seagrass":          true,
	"salt_marsh":        true,
	"saltmarsh":         true,
	"mixed_blue_carbon": true,
	"mixedbluecarbon":   true,
}

func (s *state) apply(ix *ledger.Instruction) error {
	switch ix.Name {
	case ledger.InstrInitializeRegistry:
		return s.initializeRegistry(ix)
	case ledger.InstrRegisterProject:
		return s.registerProject(ix)
	case ledger.InstrRegisterVerifier:
		return s.registerVerifier(ix)
	case ledger.InstrVerifyProject:
		return s.verifyProject(ix)
	case ledger.InstrMintCredits:
		return s.mintCredits(ix)
	case ledger.InstrTransferCredits:
		return s.transferCredits(ix)
	case ledger.InstrRetireCredits:
		return s.retireCredits(ix)
	case ledger.InstrCreateListing:
		return s.createListing(ix)
	case ledger.InstrPurchaseListing:
		return s.purchaseListing(ix)
	case ledger.InstrCancelListing:
		return s.cancelListing(ix)
	case ledger.InstrSubmitMonitoring:
		return s.submitMonitoring(ix)
	default:
		return programError("InstructionFallbackNotFound")
	}
}

// signer returns the named account, which must be marked as a signer.
func signer(ix *ledger.Instruction, name string) (ledger.PublicKey, error) {
	m, ok := ix.Account(name)
	if !ok || !m.Signer {
		return ledger.PublicKey{}, programError(failure.CodeConstraintSigner)
	}
	return m.Address, nil
}

// seeded returns the named account after checking it is the expected
// program address.
func seeded(ix *ledger.Instruction, name string, want address.Derived, err error) (address.Derived, error) {
	if err != nil {
		return address.Derived{}, programError(failure.CodeInvalidInput)
	}
	m, ok := ix.Account(name)
	if !ok || m.Address != want.Address {
		return address.Derived{}, programError(failure.CodeConstraintSeeds)
	}
	return want, nil
}

func account(ix *ledger.Instruction, name string) (ledger.PublicKey, error) {
	m, ok := ix.Account(name)
	if !ok {
		return ledger.PublicKey{}, programError(failure.CodeInvalidInput)
	}
	return m.Address, nil
}

func (s *state) registry() (ledger.PublicKey, *ledger.GlobalRegistry, error) {
	d, err := s.l.deriver.Registry()
	if err != nil {
		return ledger.PublicKey{}, nil, err
	}
	var reg ledger.GlobalRegistry
	if err := s.load(d.Address, ledger.KindGlobalRegistry, &reg); err != nil {
		return ledger.PublicKey{}, nil, err
	}
	return d.Address, &reg, nil
}

func (s *state) mint() (ledger.PublicKey, *ledger.CreditMint, error) {
	d, err := s.l.deriver.CreditMint()
	if err != nil {
		return ledger.PublicKey{}, nil, err
	}
	var m ledger.CreditMint
	if err := s.load(d.Address, ledger.KindCreditMint, &m); err != nil {
		return ledger.PublicKey{}, nil, err
	}
	return d.Address, &m, nil
}

// creditAccount loads a holder's balance, treating an absent account as
// empty.
func (s *state) creditAccount(holder ledger.PublicKey) (address.Derived, *ledger.CreditAccount, error) {
	d, err := s.l.deriver.CreditAccount(holder)
	if err != nil {
		return address.Derived{}, nil, err
	}
	mintAddr, _, err := s.mint()
	if err != nil {
		return address.Derived{}, nil, err
	}
	ca := &ledger.CreditAccount{Mint: mintAddr, Holder: holder}
	if s.exists(d.Address) {
		if err := s.load(d.Address, ledger.KindCreditAccount, ca); err != nil {
			return address.Derived{}, nil, err
		}
	}
	return d, ca, nil
}

func (s *state) loadProject(ix *ledger.Instruction) (ledger.PublicKey, *ledger.Project, error) {
	addr, err := account(ix, "project")
	if err != nil {
		return ledger.PublicKey{}, nil, err
	}
	var p ledger.Project
	if err := s.load(addr, ledger.KindProject, &p); err != nil {
		return ledger.PublicKey{}, nil, err
	}
	return addr, &p, nil
}

func (s *state) activeVerifier(identity ledger.PublicKey) (*ledger.Verifier, ledger.PublicKey, bool) {
	d, err := s.l.deriver.Verifier(identity)
	if err != nil || !s.exists(d.Address) {
		return nil, ledger.PublicKey{}, false
	}
	var v ledger.Verifier
	if err := s.load(d.Address, ledger.KindVerifier, &v); err != nil {
		return nil, ledger.PublicKey{}, false
	}
	return &v, d.Address, true
}

func (s *state) initializeRegistry(ix *ledger.Instruction) error {
	admin, err := signer(ix, "admin")
	if err != nil {
		return err
	}
	regD, err := s.l.deriver.Registry()
	if _, err := seeded(ix, "registry", regD, err); err != nil {
		return err
	}
	mintD, err := s.l.deriver.CreditMint()
	if _, err := seeded(ix, "credit_mint", mintD, err); err != nil {
		return err
	}
	if s.exists(regD.Address) {
		return alreadyInUse(regD.Address)
	}
	var args ledger.InitializeRegistryArgs
	if err := ix.DecodeArgs(&args); err != nil {
		return programError(failure.CodeInvalidInput)
	}
	if args.Decimals > 9 {
		return programError(failure.CodeInvalidInput)
	}

	reg := ledger.GlobalRegistry{
		Admin:      admin,
		CreditMint: mintD.Address,
		Decimals:   args.Decimals,
		Bump:       regD.Bump,
		CreatedAt:  s.now(),
	}
	if err := s.put(regD.Address, ledger.KindGlobalRegistry, admin, reg); err != nil {
		return err
	}
	mint := ledger.CreditMint{Authority: regD.Address, Decimals: args.Decimals, Bump: mintD.Bump}
	return s.put(mintD.Address, ledger.KindCreditMint, regD.Address, mint)
}

func (s *state) registerProject(ix *ledger.Instruction) error {
	owner, err := signer(ix, "owner")
	if err != nil {
		return err
	}
	regAddr, reg, err := s.registry()
	if err != nil {
		return err
	}
	var args ledger.RegisterProjectArgs
	if err := ix.DecodeArgs(&args); err != nil {
		return programError(failure.CodeInvalidInput)
	}
	if args.ProjectID == "" || len(args.ProjectID) > address.MaxSeedLength {
		return programError(failure.CodeInvalidInput)
	}
	if args.ContentID == "" || len(args.ContentID) > maxContentIDLength {
		return programError(failure.CodeInvalidInput)
	}
	if args.EstimatedTons == 0 {
		return programError(failure.CodeInvalidCarbonMeasurement)
	}
	if t := strings.ToLower(args.Ecosystem.Type); t != "" && !ecosystemTypes[t] {
		return programError(failure.CodeInvalidEcosystemType)
	}

	projD, err := s.l.deriver.Project(owner, args.ProjectID)
	if _, err := seeded(ix, "project", projD, err); err != nil {
		return err
	}
	if s.exists(projD.Address) {
		return programError(failure.CodeDuplicateProjectID)
	}

	p := ledger.Project{
		ProjectID:     args.ProjectID,
		Owner:         owner,
		ContentID:     args.ContentID,
		EstimatedTons: args.EstimatedTons,
		Status:        ledger.ProjectPending,
		Ecosystem:     args.Ecosystem,
		RegisteredAt:  s.now(),
		Bump:          projD.Bump,
	}
	if err := s.put(projD.Address, ledger.KindProject, owner, p); err != nil {
		return err
	}
	reg.TotalProjects++
	return s.put(regAddr, ledger.KindGlobalRegistry, reg.Admin, reg)
}

func (s *state) registerVerifier(ix *ledger.Instruction) error {
	admin, err := signer(ix, "admin")
	if err != nil {
		return err
	}
	regAddr, reg, err := s.registry()
	if err != nil {
		return err
	}
	if admin != reg.Admin {
		return programError(failure.CodeUnauthorized)
	}
	identity, err := account(ix, "verifier_authority")
	if err != nil {
		return err
	}
	vD, err := s.l.deriver.Verifier(identity)
	if _, err := seeded(ix, "verifier", vD, err); err != nil {
		return err
	}
	if s.exists(vD.Address) {
		return alreadyInUse(vD.Address)
	}
	var args ledger.RegisterVerifierArgs
	if err := ix.DecodeArgs(&args); err != nil || len(args.Credentials) > maxCredentialsLen {
		return programError(failure.CodeInvalidInput)
	}

	v := ledger.Verifier{
		Identity:     identity,
		VerifierType: args.VerifierType,
		Credentials:  args.Credentials,
		Active:       true,
		RegisteredAt: s.now(),
	}
	if err := s.put(vD.Address, ledger.KindVerifier, identity, v); err != nil {
		return err
	}
	reg.TotalVerifiers++
	return s.put(regAddr, ledger.KindGlobalRegistry, reg.Admin, reg)
}

func (s *state) verifyProject(ix *ledger.Instruction) error {
	validator, err := signer(ix, "validator")
	if err != nil {
		return err
	}
	_, reg, err := s.registry()
	if err != nil {
		return err
	}

	verifier, verifierAddr, registered := s.activeVerifier(validator)
	switch {
	case registered && !verifier.Active:
		return programError(failure.CodeVerifierNotActive)
	case !registered && validator != reg.Admin:
		return programError(failure.CodeUnauthorized)
	}

	projAddr, p, err := s.loadProject(ix)
	if err != nil {
		return err
	}
	var args ledger.VerifyProjectArgs
	if err := ix.DecodeArgs(&args); err != nil {
		return programError(failure.CodeInvalidInput)
	}
	if args.ProjectID != "" && args.ProjectID != p.ProjectID {
		return programError(failure.CodeConstraintSeeds)
	}

	recD, err := s.l.deriver.Verification(projAddr, validator)
	if _, err := seeded(ix, "verification", recD, err); err != nil {
		return err
	}
	if s.exists(recD.Address) {
		return programError(failure.CodeVerificationAlreadySubmitted)
	}
	if p.Status != ledger.ProjectPending && p.Status != ledger.ProjectUnderReview {
		return programError(failure.CodeProjectAlreadyProcessed)
	}
	if args.QualityRating > 5 {
		return programError(failure.CodeInvalidQualityRating)
	}
	if args.Confidence > 100 {
		return programError(failure.CodeInvalidInput)
	}
	if args.Approve && args.VerifiedTons == 0 {
		return programError(failure.CodeInvalidCarbonMeasurement)
	}

	rec := ledger.VerificationRecord{
		ProjectID:    p.ProjectID,
		Project:      projAddr,
		Validator:    validator,
		Approve:      args.Approve,
		ReportCID:    args.ReportCID,
		VerifiedTons: args.VerifiedTons,
		Confidence:   args.Confidence,
		Timestamp:    s.now(),
	}
	if err := s.put(recD.Address, ledger.KindVerification, validator, rec); err != nil {
		return err
	}

	if args.Approve {
		if p.Approvals == 0 || args.VerifiedTons < p.VerifiedTons {
			p.VerifiedTons = args.VerifiedTons
		}
		p.Approvals++
		if args.QualityRating > 0 {
			p.QualityRating = args.QualityRating
		}
		if int(p.Approvals) >= s.l.opts.RequiredApprovals {
			p.Status = ledger.ProjectVerified
			p.VerifiedAt = s.now()
		} else {
			p.Status = ledger.ProjectUnderReview
		}
	} else {
		p.Rejections++
		if s.l.opts.RejectionPolicy == RejectTerminal {
			p.Status = ledger.ProjectRejected
		} else {
			p.Status = ledger.ProjectPending
		}
	}
	if err := s.put(projAddr, ledger.KindProject, p.Owner, p); err != nil {
		return err
	}

	if registered {
		verifier.Verifications++
		return s.put(verifierAddr, ledger.KindVerifier, verifier.Identity, verifier)
	}
	return nil
}

func (s *state) mintCredits(ix *ledger.Instruction) error {
	authority, err := signer(ix, "authority")
	if err != nil {
		return err
	}
	regAddr, reg, err := s.registry()
	if err != nil {
		return err
	}
	mintAddr, mint, err := s.mint()
	if err != nil {
		return err
	}
	projAddr, p, err := s.loadProject(ix)
	if err != nil {
		return err
	}
	if authority != p.Owner && authority != reg.Admin {
		return programError(failure.CodeUnauthorized)
	}
	var args ledger.AmountArgs
	if err := ix.DecodeArgs(&args); err != nil {
		return programError(failure.CodeInvalidInput)
	}
	if !p.IsVerified() {
		return programError(failure.CodeProjectNotVerified)
	}
	if args.Amount == 0 {
		return programError(failure.CodeInvalidCreditAmount)
	}
	issued, err := checkedAdd(p.CreditsIssued, args.Amount)
	if err != nil {
		return err
	}
	if issued > p.Capacity(reg.Decimals) {
		return programError(failure.CodeExceedsVerifiedCapacity)
	}

	recipD, ca, err := s.creditAccount(p.Owner)
	if err != nil {
		return err
	}
	if _, err := seeded(ix, "recipient_account", recipD, nil); err != nil {
		return err
	}

	p.CreditsIssued = issued
	p.AvailableQuantity += args.Amount
	ca.Balance += args.Amount
	mint.Supply += args.Amount
	reg.TotalCreditsIssued += args.Amount

	if err := s.put(projAddr, ledger.KindProject, p.Owner, p); err != nil {
		return err
	}
	if err := s.put(recipD.Address, ledger.KindCreditAccount, p.Owner, ca); err != nil {
		return err
	}
	if err := s.put(mintAddr, ledger.KindCreditMint, regAddr, mint); err != nil {
		return err
	}
	return s.put(regAddr, ledger.KindGlobalRegistry, reg.Admin, reg)
}

func (s *state) transferCredits(ix *ledger.Instruction) error {
	from, err := signer(ix, "from_authority")
	if err != nil {
		return err
	}
	to, err := account(ix, "to_holder")
	if err != nil {
		return err
	}
	var args ledger.AmountArgs
	if err := ix.DecodeArgs(&args); err != nil {
		return programError(failure.CodeInvalidInput)
	}
	if args.Amount == 0 {
		return programError(failure.CodeInvalidCreditAmount)
	}

	fromD, src, err := s.creditAccount(from)
	if err != nil {
		return err
	}
	if _, err := seeded(ix, "from_account", fromD, nil); err != nil {
		return err
	}
	if src.Sink {
		return programError(failure.CodeInvalidTokenAccount)
	}
	if src.Balance < args.Amount {
		return programError(failure.CodeInsufficientCredits)
	}
	src.Balance -= args.Amount
	if err := s.put(fromD.Address, ledger.KindCreditAccount, from, src); err != nil {
		return err
	}

	toD, dst, err := s.creditAccount(to)
	if err != nil {
		return err
	}
	if _, err := seeded(ix, "to_account", toD, nil); err != nil {
		return err
	}
	dst.Balance += args.Amount
	return s.put(toD.Address, ledger.KindCreditAccount, to, dst)
}

func (s *state) retireCredits(ix *ledger.Instruction) error {
	owner, err := signer(ix, "owner")
	if err != nil {
		return err
	}
	regAddr, reg, err := s.registry()
	if err != nil {
		return err
	}
	mintAddr, mint, err := s.mint()
	if err != nil {
		return err
	}
	var args ledger.AmountArgs
	if err := ix.DecodeArgs(&args); err != nil {
		return programError(failure.CodeInvalidInput)
	}
	if args.Amount == 0 {
		return programError(failure.CodeInvalidCreditAmount)
	}

	srcD, src, err := s.creditAccount(owner)
	if err != nil {
		return err
	}
	if _, err := seeded(ix, "owner_account", srcD, nil); err != nil {
		return err
	}
	if src.Balance < args.Amount {
		return programError(failure.CodeInsufficientCredits)
	}

	sinkD, err := s.l.deriver.RetirementSink(owner)
	if _, err := seeded(ix, "retirement_sink", sinkD, err); err != nil {
		return err
	}
	sink := &ledger.CreditAccount{Mint: mintAddr, Holder: owner, Sink: true}
	if s.exists(sinkD.Address) {
		if err := s.load(sinkD.Address, ledger.KindRetirementSink, sink); err != nil {
			return err
		}
	}

	src.Balance -= args.Amount
	sink.Balance += args.Amount
	mint.Retired += args.Amount
	reg.TotalCreditsRetired += args.Amount

	if err := s.put(srcD.Address, ledger.KindCreditAccount, owner, src); err != nil {
		return err
	}
	if err := s.put(sinkD.Address, ledger.KindRetirementSink, owner, sink); err != nil {
		return err
	}
	if err := s.put(mintAddr, ledger.KindCreditMint, regAddr, mint); err != nil {
		return err
	}
	return s.put(regAddr, ledger.KindGlobalRegistry, reg.Admin, reg)
}

func (s *state) createListing(ix *ledger.Instruction) error {
	seller, err := signer(ix, "seller")
	if err != nil {
		return err
	}
	projAddr, p, err := s.loadProject(ix)
	if err != nil {
		return err
	}
	var args ledger.CreateListingArgs
	if err := ix.DecodeArgs(&args); err != nil {
		return programError(failure.CodeInvalidInput)
	}
	if !p.IsVerified() {
		return programError(failure.CodeProjectNotVerified)
	}
	if seller != p.Owner {
		return programError(failure.CodeUnauthorized)
	}
	if args.Quantity == 0 {
		return programError(failure.CodeInvalidCreditAmount)
	}
	if args.PricePerUnit == 0 {
		return programError(failure.CodeInvalidPrice)
	}
	if args.Quantity > p.AvailableQuantity {
		return programError(failure.CodeExceedsAvailableQuantity)
	}

	listD, err := s.l.deriver.Listing(projAddr, seller)
	if _, err := seeded(ix, "listing", listD, err); err != nil {
		return err
	}
	if acc, ok := s.get(listD.Address); ok {
		var prev ledger.Listing
		if err := acc.Decode(&prev); err != nil {
			return err
		}
		if prev.Status == ledger.ListingActive {
			return alreadyInUse(listD.Address)
		}
	}

	srcD, src, err := s.creditAccount(seller)
	if err != nil {
		return err
	}
	if _, err := seeded(ix, "seller_account", srcD, nil); err != nil {
		return err
	}
	if src.Balance < args.Quantity {
		return programError(failure.CodeInsufficientCredits)
	}

	src.Balance -= args.Quantity
	p.AvailableQuantity -= args.Quantity
	listing := ledger.Listing{
		ProjectID:    p.ProjectID,
		Project:      projAddr,
		Seller:       seller,
		Quantity:     args.Quantity,
		Remaining:    args.Quantity,
		PricePerUnit: args.PricePerUnit,
		Vintage:      args.Vintage,
		Status:       ledger.ListingActive,
		CreatedAt:    s.now(),
	}
	if err := s.put(srcD.Address, ledger.KindCreditAccount, seller, src); err != nil {
		return err
	}
	if err := s.put(projAddr, ledger.KindProject, p.Owner, p); err != nil {
		return err
	}
	return s.put(listD.Address, ledger.KindListing, seller, listing)
}

func (s *state) loadListing(ix *ledger.Instruction) (ledger.PublicKey, *ledger.Listing, error) {
	addr, err := account(ix, "listing")
	if err != nil {
		return ledger.PublicKey{}, nil, err
	}
	if !s.exists(addr) {
		return ledger.PublicKey{}, nil, programError(failure.CodeListingNotFound)
	}
	var l ledger.Listing
	if err := s.load(addr, ledger.KindListing, &l); err != nil {
		return ledger.PublicKey{}, nil, err
	}
	return addr, &l, nil
}

func (s *state) purchaseListing(ix *ledger.Instruction) error {
	buyer, err := signer(ix, "buyer")
	if err != nil {
		return err
	}
	listAddr, listing, err := s.loadListing(ix)
	if err != nil {
		return err
	}
	var args ledger.PurchaseListingArgs
	if err := ix.DecodeArgs(&args); err != nil {
		return programError(failure.CodeInvalidInput)
	}
	if listing.Status != ledger.ListingActive {
		return programError(failure.CodeListingNotActive)
	}
	if buyer == listing.Seller {
		return programError(failure.CodeCannotBuyOwnListing)
	}
	if args.Quantity == 0 {
		return programError(failure.CodeInvalidCreditAmount)
	}
	if args.Quantity > listing.Remaining {
		return programError(failure.CodeExceedsAvailableQuantity)
	}
	cost, err := checkedMul(args.Quantity, listing.PricePerUnit)
	if err != nil {
		return err
	}
	if have := s.lamportsOf(buyer); have < cost {
		return insufficientLamports(have, cost)
	}

	dstD, dst, err := s.creditAccount(buyer)
	if err != nil {
		return err
	}
	if _, err := seeded(ix, "buyer_account", dstD, nil); err != nil {
		return err
	}

	s.setLamports(buyer, s.lamportsOf(buyer)-cost)
	s.setLamports(listing.Seller, s.lamportsOf(listing.Seller)+cost)
	dst.Balance += args.Quantity
	listing.Remaining -= args.Quantity
	if listing.Remaining == 0 {
		listing.Status = ledger.ListingSold
	}
	if err := s.put(dstD.Address, ledger.KindCreditAccount, buyer, dst); err != nil {
		return err
	}
	return s.put(listAddr, ledger.KindListing, listing.Seller, listing)
}

func (s *state) cancelListing(ix *ledger.Instruction) error {
	seller, err := signer(ix, "seller")
	if err != nil {
		return err
	}
	listAddr, listing, err := s.loadListing(ix)
	if err != nil {
		return err
	}
	if seller != listing.Seller {
		return programError(failure.CodeUnauthorized)
	}
	if listing.Status != ledger.ListingActive {
		return programError(failure.CodeListingNotActive)
	}

	var p ledger.Project
	if err := s.load(listing.Project, ledger.KindProject, &p); err != nil {
		return err
	}
	srcD, src, err := s.creditAccount(seller)
	if err != nil {
		return err
	}

	src.Balance += listing.Remaining
	p.AvailableQuantity += listing.Remaining
	listing.Remaining = 0
	listing.Status = ledger.ListingCancelled

	if err := s.put(srcD.Address, ledger.KindCreditAccount, seller, src); err != nil {
		return err
	}
	if err := s.put(listing.Project, ledger.KindProject, p.Owner, p); err != nil {
		return err
	}
	return s.put(listAddr, ledger.KindListing, seller, listing)
}

func (s *state) submitMonitoring(ix *ledger.Instruction) error {
	submitter, err := signer(ix, "submitter")
	if err != nil {
		return err
	}
	_, reg, err := s.registry()
	if err != nil {
		return err
	}
	projAddr, p, err := s.loadProject(ix)
	if err != nil {
		return err
	}
	if submitter != p.Owner && submitter != reg.Admin {
		if v, _, ok := s.activeVerifier(submitter); !ok || !v.Active {
			return programError(failure.CodeUnauthorized)
		}
	}
	var args ledger.SubmitMonitoringArgs
	if err := ix.DecodeArgs(&args); err != nil {
		return programError(failure.CodeInvalidInput)
	}
	if args.Timestamp < 0 || args.Timestamp > s.now()+300 {
		return programError(failure.CodeInvalidTimestamp)
	}
	if args.Data.NDVI < -1 || args.Data.NDVI > 1 {
		return programError(failure.CodeInvalidInput)
	}
	if args.Data.CarbonSequestered < 0 {
		return programError(failure.CodeInvalidCarbonMeasurement)
	}

	recD, err := s.l.deriver.Monitoring(projAddr, args.Timestamp)
	if _, err := seeded(ix, "record", recD, err); err != nil {
		return err
	}
	if s.exists(recD.Address) {
		return alreadyInUse(recD.Address)
	}
	rec := ledger.MonitoringRecord{
		ProjectID: p.ProjectID,
		Project:   projAddr,
		Submitter: submitter,
		Timestamp: args.Timestamp,
		Data:      args.Data,
	}
	return s.put(recD.Address, ledger.KindMonitoringRecord, submitter, rec)
}
