package memledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"blue-carbon/registry-portal/registry-portal-backend/internal/failure"
	"blue-carbon/registry-portal/registry-portal-backend/internal/ledger"
	"blue-carbon/registry-portal/registry-portal-backend/internal/ledger/address"
	"blue-carbon/registry-portal/registry-portal-backend/internal/ledger/program"
)

type fixture struct {
	t         *testing.T
	ctx       context.Context
	ledger    *Ledger
	builder   *program.Builder
	deriver   *address.Deriver
	admin     *ledger.Keypair
	owner     *ledger.Keypair
	validator *ledger.Keypair
	buyer     *ledger.Keypair
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	deriver := address.NewDeriver(ledger.PublicKey{0xb1, 0x0c}, address.SchemeOwnerScoped, "test")
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.Unix(1_700_000_000, 0) }
	}
	f := &fixture{
		t:       t,
		ctx:     context.Background(),
		ledger:  New(deriver, opts, zap.NewNop()),
		builder: program.NewBuilder(deriver),
		deriver: deriver,
	}
	f.admin = f.key()
	f.owner = f.key()
	f.validator = f.key()
	f.buyer = f.key()
	return f
}

func (f *fixture) key() *ledger.Keypair {
	kp, err := ledger.NewKeypair()
	require.NoError(f.t, err)
	f.ledger.Airdrop(kp.PublicKey(), 1_000_000)
	return kp
}

func (f *fixture) send(signer *ledger.Keypair, ix ledger.Instruction, ixErr error) error {
	require.NoError(f.t, ixErr)
	_, err := program.Send(f.ctx, f.ledger, []ledger.Signer{signer}, ix)
	return err
}

func (f *fixture) init() {
	ix, err := f.builder.InitializeRegistry(f.admin.PublicKey(), 0)
	require.NoError(f.t, f.send(f.admin, ix, err))
}

func (f *fixture) register(id string, tons uint64) ledger.PublicKey {
	ix, addr, err := f.builder.RegisterProject(f.owner.PublicKey(), ledger.RegisterProjectArgs{
		ProjectID: id, ContentID: "QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG", EstimatedTons: tons,
		Ecosystem: ledger.Ecosystem{Type: "mangrove", AreaHectares: 12.5},
	})
	require.NoError(f.t, f.send(f.owner, ix, err))
	return addr
}

func (f *fixture) verify(project ledger.PublicKey, validator *ledger.Keypair, tons uint64, approve bool) error {
	ix, err := f.builder.VerifyProject(validator.PublicKey(), project, ledger.VerifyProjectArgs{
		Approve: approve, VerifiedTons: tons, ReportCID: "QmReport", Confidence: 90, QualityRating: 4,
	})
	return f.send(validator, ix, err)
}

func (f *fixture) mint(project ledger.PublicKey, amount uint64) error {
	ix, err := f.builder.MintCredits(f.owner.PublicKey(), project, f.owner.PublicKey(), amount)
	return f.send(f.owner, ix, err)
}

func (f *fixture) project(addr ledger.PublicKey) *ledger.Project {
	acc, err := f.ledger.GetAccount(f.ctx, addr)
	require.NoError(f.t, err)
	p, err := ledger.DecodeAs[ledger.Project](acc)
	require.NoError(f.t, err)
	return p
}

func (f *fixture) balance(holder ledger.PublicKey) uint64 {
	d, err := f.deriver.CreditAccount(holder)
	require.NoError(f.t, err)
	acc, err := f.ledger.GetAccount(f.ctx, d.Address)
	if errors.Is(err, ledger.ErrAccountNotFound) {
		return 0
	}
	require.NoError(f.t, err)
	ca, err := ledger.DecodeAs[ledger.CreditAccount](acc)
	require.NoError(f.t, err)
	return ca.Balance
}

func (f *fixture) registry() *ledger.GlobalRegistry {
	d, err := f.deriver.Registry()
	require.NoError(f.t, err)
	acc, err := f.ledger.GetAccount(f.ctx, d.Address)
	require.NoError(f.t, err)
	reg, err := ledger.DecodeAs[ledger.GlobalRegistry](acc)
	require.NoError(f.t, err)
	return reg
}

func assertRejected(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	ce := failure.Classify(err)
	assert.Equal(t, failure.KindRemoteProgramRejected, ce.Kind, err.Error())
	assert.Equal(t, code, ce.Code, err.Error())
}

func TestInitializeRegistry_OnlyOnce(t *testing.T) {
	f := newFixture(t, Options{})
	f.init()

	ix, err := f.builder.InitializeRegistry(f.owner.PublicKey(), 0)
	err = f.send(f.owner, ix, err)
	assertRejected(t, err, failure.CodeAccountAlreadyInUse)
	assert.True(t, failure.IsAlreadyExists(err))
	assert.Equal(t, f.admin.PublicKey(), f.registry().Admin)
}

func TestRegisterProject_RequiresRegistry(t *testing.T) {
	f := newFixture(t, Options{})
	ix, _, err := f.builder.RegisterProject(f.owner.PublicKey(), ledger.RegisterProjectArgs{
		ProjectID: "BCP-001", ContentID: "QmX", EstimatedTons: 10,
	})
	err = f.send(f.owner, ix, err)
	assertRejected(t, err, failure.CodeAccountNotInitialized)
	assert.True(t, failure.IsAccountMissing(err))
}

func TestRegisterProject_DuplicateID(t *testing.T) {
	f := newFixture(t, Options{})
	f.init()
	f.register("BCP-001", 1000)

	ix, _, err := f.builder.RegisterProject(f.owner.PublicKey(), ledger.RegisterProjectArgs{
		ProjectID: "BCP-001", ContentID: "QmOther", EstimatedTons: 5,
	})
	assertRejected(t, f.send(f.owner, ix, err), failure.CodeDuplicateProjectID)
	assert.Equal(t, uint64(1), f.registry().TotalProjects)
}

func TestRegisterProject_ValidatesInput(t *testing.T) {
	f := newFixture(t, Options{})
	f.init()

	ix, _, err := f.builder.RegisterProject(f.owner.PublicKey(), ledger.RegisterProjectArgs{
		ProjectID: "BCP-002", ContentID: "", EstimatedTons: 5,
	})
	assertRejected(t, f.send(f.owner, ix, err), failure.CodeInvalidInput)

	ix, _, err = f.builder.RegisterProject(f.owner.PublicKey(), ledger.RegisterProjectArgs{
		ProjectID: "BCP-002", ContentID: "QmX", EstimatedTons: 5, Ecosystem: ledger.Ecosystem{Type: "desert"},
	})
	assertRejected(t, f.send(f.owner, ix, err), failure.CodeInvalidEcosystemType)
}

func TestLifecycle_RegisterVerifyMint(t *testing.T) {
	f := newFixture(t, Options{})
	f.init()
	proj := f.register("BCP-001", 1000)

	require.NoError(t, f.verify(proj, f.admin, 1000, true))
	require.NoError(t, f.mint(proj, 1000))

	p := f.project(proj)
	assert.True(t, p.IsVerified())
	assert.Equal(t, uint64(1000), p.CreditsIssued)
	assert.Equal(t, uint64(1000), f.balance(f.owner.PublicKey()))
	assert.Equal(t, uint64(1000), f.registry().TotalCreditsIssued)

	assertRejected(t, f.mint(proj, 1), failure.CodeExceedsVerifiedCapacity)
}

func TestMint_UnverifiedProject(t *testing.T) {
	f := newFixture(t, Options{})
	f.init()
	proj := f.register("BCP-001", 1000)

	assertRejected(t, f.mint(proj, 10), failure.CodeProjectNotVerified)
	assert.Zero(t, f.balance(f.owner.PublicKey()))
	assert.Zero(t, f.project(proj).CreditsIssued)
}

func TestVerify_Authorization(t *testing.T) {
	f := newFixture(t, Options{})
	f.init()
	proj := f.register("BCP-001", 1000)

	assertRejected(t, f.verify(proj, f.validator, 1000, true), failure.CodeUnauthorized)

	ix, err := f.builder.RegisterVerifier(f.admin.PublicKey(), f.validator.PublicKey(), ledger.RegisterVerifierArgs{VerifierType: "ScientificInstitution"})
	require.NoError(t, f.send(f.admin, ix, err))

	require.NoError(t, f.verify(proj, f.validator, 900, true))
	assert.Equal(t, uint64(900), f.project(proj).VerifiedTons)
	assertRejected(t, f.verify(proj, f.validator, 900, true), failure.CodeVerificationAlreadySubmitted)
	assertRejected(t, f.verify(proj, f.admin, 900, true), failure.CodeProjectAlreadyProcessed)
}

func TestVerify_RejectionPolicies(t *testing.T) {
	terminal := newFixture(t, Options{RejectionPolicy: RejectTerminal})
	terminal.init()
	proj := terminal.register("BCP-001", 1000)
	require.NoError(t, terminal.verify(proj, terminal.admin, 0, false))
	assert.Equal(t, ledger.ProjectRejected, terminal.project(proj).Status)

	resubmit := newFixture(t, Options{RejectionPolicy: RejectResubmit})
	resubmit.init()
	proj = resubmit.register("BCP-001", 1000)
	require.NoError(t, resubmit.verify(proj, resubmit.admin, 0, false))
	assert.Equal(t, ledger.ProjectPending, resubmit.project(proj).Status)
}

func TestVerify_MultiPartyThreshold(t *testing.T) {
	f := newFixture(t, Options{RequiredApprovals: 2})
	f.init()
	ix, err := f.builder.RegisterVerifier(f.admin.PublicKey(), f.validator.PublicKey(), ledger.RegisterVerifierArgs{VerifierType: "CertificationBody"})
	require.NoError(t, f.send(f.admin, ix, err))
	proj := f.register("BCP-001", 1000)

	require.NoError(t, f.verify(proj, f.validator, 800, true))
	assert.Equal(t, ledger.ProjectUnderReview, f.project(proj).Status)
	assertRejected(t, f.mint(proj, 1), failure.CodeProjectNotVerified)

	require.NoError(t, f.verify(proj, f.admin, 900, true))
	p := f.project(proj)
	assert.Equal(t, ledger.ProjectVerified, p.Status)
	assert.Equal(t, uint64(800), p.VerifiedTons)
}

func TestTransfer_ConservesBalances(t *testing.T) {
	f := newFixture(t, Options{})
	f.init()
	proj := f.register("BCP-001", 1000)
	require.NoError(t, f.verify(proj, f.admin, 1000, true))
	require.NoError(t, f.mint(proj, 600))

	holders := []*ledger.Keypair{f.owner, f.buyer, f.validator}
	moves := []struct {
		from, to *ledger.Keypair
		amount   uint64
	}{
		{f.owner, f.buyer, 200},
		{f.buyer, f.validator, 50},
		{f.owner, f.validator, 100},
		{f.validator, f.owner, 25},
		{f.owner, f.owner, 10},
	}
	for _, m := range moves {
		ix, err := f.builder.TransferCredits(m.from.PublicKey(), m.to.PublicKey(), m.amount)
		require.NoError(t, f.send(m.from, ix, err))
	}

	var total uint64
	for _, h := range holders {
		total += f.balance(h.PublicKey())
	}
	assert.Equal(t, uint64(600), total)
	assert.Equal(t, uint64(325), f.balance(f.owner.PublicKey()))
}

func TestTransfer_InsufficientLeavesBalancesUnchanged(t *testing.T) {
	f := newFixture(t, Options{})
	f.init()
	proj := f.register("BCP-001", 1000)
	require.NoError(t, f.verify(proj, f.admin, 1000, true))
	require.NoError(t, f.mint(proj, 100))

	ix, err := f.builder.TransferCredits(f.owner.PublicKey(), f.buyer.PublicKey(), 101)
	assertRejected(t, f.send(f.owner, ix, err), failure.CodeInsufficientCredits)
	assert.Equal(t, uint64(100), f.balance(f.owner.PublicKey()))
	assert.Zero(t, f.balance(f.buyer.PublicKey()))
}

func TestRetire_SinkCannotBeSpent(t *testing.T) {
	f := newFixture(t, Options{})
	f.init()
	proj := f.register("BCP-001", 1000)
	require.NoError(t, f.verify(proj, f.admin, 1000, true))
	require.NoError(t, f.mint(proj, 100))

	ix, err := f.builder.RetireCredits(f.owner.PublicKey(), 40)
	require.NoError(t, f.send(f.owner, ix, err))
	assert.Equal(t, uint64(60), f.balance(f.owner.PublicKey()))
	assert.Equal(t, uint64(40), f.registry().TotalCreditsRetired)

	sink, err := f.deriver.RetirementSink(f.owner.PublicKey())
	require.NoError(t, err)
	ix, err = f.builder.TransferCredits(f.owner.PublicKey(), f.buyer.PublicKey(), 40)
	require.NoError(t, err)
	for i := range ix.Accounts {
		if ix.Accounts[i].Name == "from_account" {
			ix.Accounts[i].Address = sink.Address
		}
	}
	assertRejected(t, f.send(f.owner, ix, nil), failure.CodeConstraintSeeds)

	ix, err = f.builder.RetireCredits(f.owner.PublicKey(), 61)
	assertRejected(t, f.send(f.owner, ix, err), failure.CodeInsufficientCredits)
}

func TestMarketplace(t *testing.T) {
	f := newFixture(t, Options{})
	f.init()
	proj := f.register("BCP-001", 1000)
	require.NoError(t, f.verify(proj, f.admin, 1000, true))
	require.NoError(t, f.mint(proj, 100))

	ix, listing, err := f.builder.CreateListing(f.owner.PublicKey(), proj, ledger.CreateListingArgs{Quantity: 200, PricePerUnit: 10})
	assertRejected(t, f.send(f.owner, ix, err), failure.CodeExceedsAvailableQuantity)

	ix, listing, err = f.builder.CreateListing(f.owner.PublicKey(), proj, ledger.CreateListingArgs{Quantity: 50, PricePerUnit: 10, Vintage: 2024})
	require.NoError(t, f.send(f.owner, ix, err))
	assert.Equal(t, uint64(50), f.balance(f.owner.PublicKey()))

	ix, _, err = f.builder.CreateListing(f.owner.PublicKey(), proj, ledger.CreateListingArgs{Quantity: 10, PricePerUnit: 1})
	assertRejected(t, f.send(f.owner, ix, err), failure.CodeAccountAlreadyInUse)

	ix, err = f.builder.PurchaseListing(f.owner.PublicKey(), listing, f.owner.PublicKey(), 1)
	assertRejected(t, f.send(f.owner, ix, err), failure.CodeCannotBuyOwnListing)

	ix, err = f.builder.PurchaseListing(f.buyer.PublicKey(), listing, f.owner.PublicKey(), 51)
	assertRejected(t, f.send(f.buyer, ix, err), failure.CodeExceedsAvailableQuantity)

	sellerBefore := f.ledger.Lamports(f.owner.PublicKey())
	ix, err = f.builder.PurchaseListing(f.buyer.PublicKey(), listing, f.owner.PublicKey(), 30)
	require.NoError(t, f.send(f.buyer, ix, err))
	assert.Equal(t, uint64(30), f.balance(f.buyer.PublicKey()))
	assert.Equal(t, sellerBefore+300, f.ledger.Lamports(f.owner.PublicKey()))

	acc, err := f.ledger.GetAccount(f.ctx, listing)
	require.NoError(t, err)
	l, err := ledger.DecodeAs[ledger.Listing](acc)
	require.NoError(t, err)
	assert.Equal(t, uint64(20), l.Remaining)
	assert.Equal(t, uint64(10), l.PricePerUnit)

	ix, err = f.builder.CancelListing(f.owner.PublicKey(), listing)
	require.NoError(t, f.send(f.owner, ix, err))
	assert.Equal(t, uint64(70), f.balance(f.owner.PublicKey()))

	ix, err = f.builder.PurchaseListing(f.buyer.PublicKey(), listing, f.owner.PublicKey(), 1)
	assertRejected(t, f.send(f.buyer, ix, err), failure.CodeListingNotActive)
}

func TestPurchase_InsufficientLamports(t *testing.T) {
	f := newFixture(t, Options{})
	f.init()
	proj := f.register("BCP-001", 1000)
	require.NoError(t, f.verify(proj, f.admin, 1000, true))
	require.NoError(t, f.mint(proj, 100))
	ix, listing, err := f.builder.CreateListing(f.owner.PublicKey(), proj, ledger.CreateListingArgs{Quantity: 100, PricePerUnit: 1_000_000})
	require.NoError(t, f.send(f.owner, ix, err))

	ix, err = f.builder.PurchaseListing(f.buyer.PublicKey(), listing, f.owner.PublicKey(), 2)
	err = f.send(f.buyer, ix, err)
	assert.Equal(t, failure.KindInsufficientFunds, failure.KindOf(err))
	assert.Zero(t, f.balance(f.buyer.PublicKey()))
}

func TestMonitoring_AppendOnly(t *testing.T) {
	f := newFixture(t, Options{})
	f.init()
	proj := f.register("BCP-001", 1000)

	args := ledger.SubmitMonitoringArgs{Timestamp: 1_699_999_000, Data: ledger.MonitoringData{NDVI: 0.61}}
	ix, rec, err := f.builder.SubmitMonitoring(f.owner.PublicKey(), proj, args)
	require.NoError(t, f.send(f.owner, ix, err))

	args.Data.NDVI = 0.9
	ix, _, err = f.builder.SubmitMonitoring(f.owner.PublicKey(), proj, args)
	assertRejected(t, f.send(f.owner, ix, err), failure.CodeAccountAlreadyInUse)

	acc, err := f.ledger.GetAccount(f.ctx, rec)
	require.NoError(t, err)
	m, err := ledger.DecodeAs[ledger.MonitoringRecord](acc)
	require.NoError(t, err)
	assert.InDelta(t, 0.61, m.Data.NDVI, 1e-9)

	ix, _, err = f.builder.SubmitMonitoring(f.buyer.PublicKey(), proj, ledger.SubmitMonitoringArgs{Timestamp: 1_699_999_001})
	assertRejected(t, f.send(f.buyer, ix, err), failure.CodeUnauthorized)
}

func TestSendTransaction_IsAtomic(t *testing.T) {
	f := newFixture(t, Options{})
	f.init()
	proj := f.register("BCP-001", 1000)

	good, addr, err := f.builder.RegisterProject(f.owner.PublicKey(), ledger.RegisterProjectArgs{ProjectID: "BCP-002", ContentID: "QmX", EstimatedTons: 1})
	require.NoError(t, err)
	bad, err := f.builder.MintCredits(f.owner.PublicKey(), proj, f.owner.PublicKey(), 1)
	require.NoError(t, err)

	_, err = program.Send(f.ctx, f.ledger, []ledger.Signer{f.owner}, good, bad)
	assertRejected(t, err, failure.CodeProjectNotVerified)

	_, err = f.ledger.GetAccount(f.ctx, addr)
	assert.True(t, errors.Is(err, ledger.ErrAccountNotFound))
	assert.Equal(t, uint64(1), f.registry().TotalProjects)
}

func TestSendTransaction_FeeAndSignatures(t *testing.T) {
	f := newFixture(t, Options{Fee: 5000})
	f.init()

	poor, err := ledger.NewKeypair()
	require.NoError(t, err)
	ix, _, err := f.builder.RegisterProject(poor.PublicKey(), ledger.RegisterProjectArgs{ProjectID: "P", ContentID: "QmX", EstimatedTons: 1})
	err = f.send(poor, ix, err)
	assert.Equal(t, failure.KindInsufficientFunds, failure.KindOf(err))

	ix, _, err = f.builder.RegisterProject(f.owner.PublicKey(), ledger.RegisterProjectArgs{ProjectID: "P", ContentID: "QmX", EstimatedTons: 1})
	require.NoError(t, err)
	_, err = program.Send(f.ctx, f.ledger, []ledger.Signer{f.buyer}, ix)
	assertRejected(t, err, failure.CodeConstraintSigner)
}

func TestInterceptor(t *testing.T) {
	f := newFixture(t, Options{})
	f.ledger.SetInterceptor(func(ctx context.Context, tx *ledger.Transaction) error {
		return errors.New("503 service unavailable")
	})
	ix, err := f.builder.InitializeRegistry(f.admin.PublicKey(), 0)
	err = f.send(f.admin, ix, err)
	assert.Equal(t, failure.KindNetworkUnavailable, failure.KindOf(err))
	assert.Zero(t, f.ledger.Slot())
}

func TestListAccounts_Filter(t *testing.T) {
	f := newFixture(t, Options{})
	f.init()
	f.register("BCP-001", 10)
	f.register("BCP-002", 20)

	all, err := f.ledger.ListAccounts(f.ctx, ledger.AccountFilter{Kind: ledger.KindProject})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	mine, err := f.ledger.ListAccounts(f.ctx, ledger.AccountFilter{Kind: ledger.KindProject, Authority: f.owner.PublicKey()})
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	none, err := f.ledger.ListAccounts(f.ctx, ledger.AccountFilter{Kind: ledger.KindProject, Authority: f.buyer.PublicKey()})
	require.NoError(t, err)
	assert.Empty(t, none)
}
