package lifecycle

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
	"blue-carbon/registry-portal/registry-portal-backend/internal/ledger/memledger"
	"blue-carbon/registry-portal/registry-portal-backend/internal/ledger/program"
	"blue-carbon/registry-portal/registry-portal-backend/internal/notifications"
	"blue-carbon/registry-portal/registry-portal-backend/internal/pinning"
	"blue-carbon/registry-portal/registry-portal-backend/internal/registry"
	"blue-carbon/registry-portal/registry-portal-backend/pkg/storage"
)

const testCID = "QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG"

type fixture struct {
	ledger   *memledger.Ledger
	guard    *registry.Guard
	orch     *Orchestrator
	events   *notifications.Recorder
	store    *storage.MemoryStore
	admin    *ledger.Keypair
	owner    *ledger.Keypair
	buyer    *ledger.Keypair
	stranger *ledger.Keypair
}

// newFixture returns a fixture whose registry the admin has initialized.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := newBareFixture(t)
	require.NoError(t, f.guard.EnsureReady(context.Background(), f.admin))
	return f
}

func newBareFixture(t *testing.T) *fixture {
	t.Helper()
	deriver := address.NewDeriver(ledger.PublicKey{0x7a}, address.SchemeOwnerScoped, "lifecycle")
	l := memledger.New(deriver, memledger.Options{}, zap.NewNop())
	builder := program.NewBuilder(deriver)

	f := &fixture{ledger: l, events: &notifications.Recorder{}, store: storage.NewMemoryStore()}
	keyring := ledger.NewMemKeyring()
	for _, kp := range []**ledger.Keypair{&f.admin, &f.owner, &f.buyer, &f.stranger} {
		k, err := ledger.NewKeypair()
		require.NoError(t, err)
		l.Airdrop(k.PublicKey(), 10_000_000)
		keyring.Add(k)
		*kp = k
	}

	guard, err := registry.NewGuard(l, builder, registry.Options{Admin: f.admin.PublicKey(), Publisher: f.events}, zap.NewNop())
	require.NoError(t, err)
	f.guard = guard
	pinner, err := pinning.NewCoordinator(f.store, pinning.Options{}, zap.NewNop())
	require.NoError(t, err)

	f.orch = NewOrchestrator(Deps{
		Client:    l,
		Builder:   builder,
		Guard:     guard,
		Keyring:   keyring,
		Pinner:    pinner,
		Publisher: f.events,
	}, zap.NewNop())
	return f
}

func (f *fixture) register(t *testing.T, id string, tons uint64) ledger.PublicKey {
	t.Helper()
	r, err := f.orch.Register(context.Background(), RegisterRequest{
		Owner:         f.owner.PublicKey(),
		ProjectID:     id,
		ContentID:     testCID,
		EstimatedTons: tons,
		Ecosystem:     ledger.Ecosystem{Type: "mangrove", AreaHectares: 12.5},
	})
	require.NoError(t, err)
	return r.Address
}

func (f *fixture) verify(t *testing.T, project ledger.PublicKey, tons uint64) {
	t.Helper()
	_, err := f.orch.Verify(context.Background(), VerifyRequest{
		Project:      project,
		Validator:    f.admin.PublicKey(),
		ReportCID:    testCID,
		VerifiedTons: tons,
		Approve:      true,
		Confidence:   90,
	})
	require.NoError(t, err)
}

// mintedProject registers, verifies and fully mints a project for owner.
func (f *fixture) mintedProject(t *testing.T, id string, tons uint64) ledger.PublicKey {
	t.Helper()
	project := f.register(t, id, tons)
	f.verify(t, project, tons)
	_, err := f.orch.MintCredits(context.Background(), project, f.owner.PublicKey(), tons)
	require.NoError(t, err)
	return project
}

func requireRejected(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	var fe *failure.Error
	require.True(t, errors.As(err, &fe), "expected *failure.Error, got %T", err)
	assert.Equal(t, failure.KindRemoteProgramRejected, fe.Kind)
	assert.Equal(t, code, fe.Code)
}

func TestLifecycle_RegisterVerifyMint(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	project := f.register(t, "BCP-001", 1000)
	status, err := f.orch.ProjectStatus(ctx, project)
	require.NoError(t, err)
	assert.Equal(t, StatePending, status.State)

	f.verify(t, project, 1000)
	r, err := f.orch.MintCredits(ctx, project, f.owner.PublicKey(), 1000)
	require.NoError(t, err)

	require.NotNil(t, r.Project)
	assert.True(t, r.Project.IsVerified())
	assert.Equal(t, uint64(1000), r.Project.CreditsIssued)
	require.Len(t, r.Balances, 1)
	assert.Equal(t, uint64(1000), r.Balances[0].Amount)
	assert.False(t, r.Signature.IsZero())

	cached, ok := f.orch.Cache().Get(project)
	require.True(t, ok)
	assert.Equal(t, StateCreditsMinted, cached.State)

	assert.Equal(t, []notifications.EventType{
		notifications.EventRegistryInitialized,
		notifications.EventProjectRegistered,
		notifications.EventProjectVerified,
		notifications.EventCreditsMinted,
	}, f.events.Types())
}

func TestLifecycle_MintUnverifiedRejectedRemotely(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	project := f.register(t, "BCP-002", 500)

	_, err := f.orch.MintCredits(ctx, project, f.owner.PublicKey(), 100)
	requireRejected(t, err, failure.CodeProjectNotVerified)

	bal, err := f.orch.Balance(ctx, f.owner.PublicKey())
	require.NoError(t, err)
	assert.Zero(t, bal.Amount)
}

func TestLifecycle_MintBeyondCapacity(t *testing.T) {
	f := newFixture(t)
	project := f.register(t, "BCP-003", 1000)
	f.verify(t, project, 400)

	_, err := f.orch.MintCredits(context.Background(), project, f.owner.PublicKey(), 401)
	requireRejected(t, err, failure.CodeExceedsVerifiedCapacity)
}

func TestLifecycle_StaleCacheDoesNotGateMint(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	project := f.register(t, "BCP-004", 1000)

	// Pretend an earlier read saw the project verified.
	f.orch.Cache().Set(CachedStatus{Address: project, ProjectID: "BCP-004", Status: ledger.ProjectVerified, State: StateVerified})

	_, err := f.orch.MintCredits(ctx, project, f.owner.PublicKey(), 10)
	requireRejected(t, err, failure.CodeProjectNotVerified)

	cached, ok := f.orch.Cache().Get(project)
	require.True(t, ok)
	assert.Equal(t, StatePending, cached.State)
}

func TestLifecycle_TransferConservesTotal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mintedProject(t, "BCP-005", 1000)

	r, err := f.orch.Transfer(ctx, f.owner.PublicKey(), f.buyer.PublicKey(), 250)
	require.NoError(t, err)
	require.Len(t, r.Balances, 2)
	assert.Equal(t, uint64(750), r.Balances[0].Amount)
	assert.Equal(t, uint64(250), r.Balances[1].Amount)
	assert.Equal(t, uint64(1000), r.Balances[0].Amount+r.Balances[1].Amount)
}

func TestLifecycle_CancelAfterSubmitStillConfirms(t *testing.T) {
	f := newFixture(t)
	f.mintedProject(t, "BCP-005C", 500)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.ledger.SetInterceptor(func(context.Context, *ledger.Transaction) error {
		cancel()
		return nil
	})

	r, err := f.orch.Transfer(ctx, f.owner.PublicKey(), f.buyer.PublicKey(), 200)
	require.NoError(t, err)
	require.Error(t, ctx.Err())
	assert.False(t, r.Signature.IsZero())
	require.Len(t, r.Balances, 2)
	assert.Equal(t, uint64(300), r.Balances[0].Amount)
	assert.Equal(t, uint64(200), r.Balances[1].Amount)

	f.ledger.SetInterceptor(nil)
	receiver, err := f.orch.Balance(context.Background(), f.buyer.PublicKey())
	require.NoError(t, err)
	assert.Equal(t, uint64(200), receiver.Amount)
}

func TestLifecycle_CancelBeforeSubmitIsNotUserCancellation(t *testing.T) {
	f := newFixture(t)
	f.mintedProject(t, "BCP-005D", 100)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.orch.Transfer(ctx, f.owner.PublicKey(), f.buyer.PublicKey(), 10)
	require.Error(t, err)
	assert.NotEqual(t, failure.KindUserCancelled, failure.KindOf(err))

	sender, err := f.orch.Balance(context.Background(), f.owner.PublicKey())
	require.NoError(t, err)
	assert.Equal(t, uint64(100), sender.Amount)
}

func TestLifecycle_TransferInsufficientCredits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mintedProject(t, "BCP-006", 100)

	_, err := f.orch.Transfer(ctx, f.owner.PublicKey(), f.buyer.PublicKey(), 101)
	requireRejected(t, err, failure.CodeInsufficientCredits)

	sender, err := f.orch.Balance(ctx, f.owner.PublicKey())
	require.NoError(t, err)
	receiver, err := f.orch.Balance(ctx, f.buyer.PublicKey())
	require.NoError(t, err)
	assert.Equal(t, uint64(100), sender.Amount)
	assert.Zero(t, receiver.Amount)
}

func TestLifecycle_RetirementIsIrreversible(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mintedProject(t, "BCP-007", 300)

	r, err := f.orch.Retire(ctx, f.owner.PublicKey(), 120)
	require.NoError(t, err)
	require.Len(t, r.Balances, 2)
	assert.Equal(t, uint64(180), r.Balances[0].Amount)
	assert.Equal(t, uint64(120), r.Balances[1].Amount)
	assert.True(t, r.Balances[1].Sink)

	_, err = f.orch.Retire(ctx, f.owner.PublicKey(), 500)
	requireRejected(t, err, failure.CodeInsufficientCredits)

	retired, err := f.orch.Retired(ctx, f.owner.PublicKey())
	require.NoError(t, err)
	assert.Equal(t, uint64(120), retired.Amount)
}

func TestLifecycle_DuplicateProjectID(t *testing.T) {
	f := newFixture(t)
	f.register(t, "BCP-008", 10)

	_, err := f.orch.Register(context.Background(), RegisterRequest{
		Owner:         f.owner.PublicKey(),
		ProjectID:     "BCP-008",
		ContentID:     testCID,
		EstimatedTons: 10,
	})
	requireRejected(t, err, failure.CodeDuplicateProjectID)
}

func TestLifecycle_RegisterBeforeRegistryByNonAdmin(t *testing.T) {
	f := newBareFixture(t)
	_, err := f.orch.Register(context.Background(), RegisterRequest{
		Owner:         f.owner.PublicKey(),
		ProjectID:     "BCP-009",
		ContentID:     testCID,
		EstimatedTons: 10,
	})
	require.Error(t, err)
	assert.Equal(t, failure.KindRegistryNotReady, failure.KindOf(err))
	assert.Empty(t, f.events.Events())
}

func TestLifecycle_RegisterRequiresContentID(t *testing.T) {
	f := newFixture(t)

	_, err := f.orch.Register(context.Background(), RegisterRequest{
		Owner:         f.owner.PublicKey(),
		ProjectID:     "BCP-011",
		EstimatedTons: 10,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingContentID))

	_, err = f.orch.Register(context.Background(), RegisterRequest{
		Owner:         f.owner.PublicKey(),
		ProjectID:     "BCP-012",
		ContentID:     "not-a-cid",
		EstimatedTons: 10,
	})
	assert.Equal(t, failure.KindInvalidNamespaceInput, failure.KindOf(err))
}

func TestLifecycle_RegisterPinsDocuments(t *testing.T) {
	f := newFixture(t)

	r, err := f.orch.Register(context.Background(), RegisterRequest{
		Owner:         f.owner.PublicKey(),
		ProjectID:     "BCP-014",
		EstimatedTons: 42,
		Documents: []pinning.File{
			{Name: "survey.pdf", Data: []byte("mangrove survey")},
			{Name: "map.geojson", Data: []byte(`{"type":"FeatureCollection"}`)},
		},
	})
	require.NoError(t, err)
	require.NotNil(t, r.Documents)
	assert.Len(t, r.Documents.Uploads, 2)
	assert.Equal(t, r.Documents.ContentID, r.Project.ContentID)
	assert.Equal(t, 2, f.store.Len())
	assert.Contains(t, f.events.Types(), notifications.EventDocumentsPinned)
}

func TestLifecycle_Marketplace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	project := f.mintedProject(t, "BCP-015", 100)

	created, err := f.orch.CreateListing(ctx, ListingRequest{
		Seller:       f.owner.PublicKey(),
		Project:      project,
		Quantity:     40,
		PricePerUnit: 1000,
		Vintage:      2025,
	})
	require.NoError(t, err)
	require.NotNil(t, created.Listing)
	assert.Equal(t, ledger.ListingActive, created.Listing.Status)
	assert.Equal(t, uint64(60), created.Project.AvailableQuantity)

	want, err := f.orch.ListingAddress(project, f.owner.PublicKey())
	require.NoError(t, err)
	assert.Equal(t, want, created.Address)

	sellerBefore := f.ledger.Lamports(f.owner.PublicKey())
	bought, err := f.orch.PurchaseListing(ctx, f.buyer.PublicKey(), created.Address, 15)
	require.NoError(t, err)
	assert.Equal(t, uint64(25), bought.Listing.Remaining)
	assert.Equal(t, uint64(15), bought.Balances[0].Amount)
	assert.Equal(t, sellerBefore+15_000, f.ledger.Lamports(f.owner.PublicKey()))

	_, err = f.orch.PurchaseListing(ctx, f.owner.PublicKey(), created.Address, 1)
	requireRejected(t, err, failure.CodeCannotBuyOwnListing)

	cancelled, err := f.orch.CancelListing(ctx, f.owner.PublicKey(), created.Address)
	require.NoError(t, err)
	assert.Equal(t, ledger.ListingCancelled, cancelled.Listing.Status)
	assert.Equal(t, uint64(85), cancelled.Balances[0].Amount)

	_, err = f.orch.PurchaseListing(ctx, f.buyer.PublicKey(), created.Address, 1)
	requireRejected(t, err, failure.CodeListingNotActive)
}

func TestLifecycle_SubmitMonitoring(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	project := f.register(t, "BCP-016", 10)
	ts := time.Now().Add(-time.Hour).Unix()

	r, err := f.orch.SubmitMonitoring(ctx, MonitoringRequest{
		Submitter: f.owner.PublicKey(),
		Project:   project,
		Timestamp: ts,
		Data:      ledger.MonitoringData{NDVI: 0.62, CarbonSequestered: 3.4},
	})
	require.NoError(t, err)
	require.NotNil(t, r.Record)
	assert.Equal(t, ts, r.Record.Timestamp)
	assert.Equal(t, "BCP-016", r.Record.ProjectID)

	_, err = f.orch.SubmitMonitoring(ctx, MonitoringRequest{
		Submitter: f.owner.PublicKey(),
		Project:   project,
		Timestamp: ts,
		Data:      ledger.MonitoringData{NDVI: 0.1},
	})
	assert.True(t, failure.IsAlreadyExists(err))

	_, err = f.orch.SubmitMonitoring(ctx, MonitoringRequest{
		Submitter: f.stranger.PublicKey(),
		Project:   project,
		Timestamp: ts + 1,
	})
	requireRejected(t, err, failure.CodeUnauthorized)
}

func TestLifecycle_RegisterVerifier(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r, err := f.orch.RegisterVerifier(ctx, RegisterVerifierRequest{
		Admin:        f.admin.PublicKey(),
		Identity:     f.stranger.PublicKey(),
		VerifierType: "third_party",
		Credentials:  "ISO 14064-3",
	})
	require.NoError(t, err)
	require.NotNil(t, r.Verifier)
	assert.True(t, r.Verifier.Active)

	_, err = f.orch.RegisterVerifier(ctx, RegisterVerifierRequest{
		Admin:    f.owner.PublicKey(),
		Identity: f.buyer.PublicKey(),
	})
	requireRejected(t, err, failure.CodeUnauthorized)
}

func TestLifecycle_MissingProject(t *testing.T) {
	f := newFixture(t)
	missing := ledger.PublicKey{0x01, 0x02}
	f.orch.Cache().Set(CachedStatus{Address: missing, State: StatePending})

	_, err := f.orch.ProjectStatus(context.Background(), missing)
	require.Error(t, err)
	assert.True(t, failure.IsAccountMissing(err))

	cached, ok := f.orch.Cache().Get(missing)
	require.True(t, ok)
	assert.True(t, cached.Stale)
}

func TestLifecycle_UnknownSigner(t *testing.T) {
	f := newFixture(t)
	_, err := f.orch.Transfer(context.Background(), ledger.PublicKey{}, f.buyer.PublicKey(), 1)
	assert.Equal(t, failure.KindInvalidNamespaceInput, failure.KindOf(err))
}
