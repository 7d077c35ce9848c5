package registry

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"blue-carbon/registry-portal/registry-portal-backend/internal/failure"
	"blue-carbon/registry-portal/registry-portal-backend/internal/ledger"
	"blue-carbon/registry-portal/registry-portal-backend/internal/ledger/address"
	"blue-carbon/registry-portal/registry-portal-backend/internal/ledger/memledger"
	"blue-carbon/registry-portal/registry-portal-backend/internal/ledger/program"
	"blue-carbon/registry-portal/registry-portal-backend/internal/notifications"
)

// staleClient reports the registry as missing for the first n reads, the
// way a lagging RPC node would.
type staleClient struct {
	ledger.Client
	registry ledger.PublicKey
	misses   atomic.Int32
	reads    atomic.Int32
}

func (c *staleClient) GetAccount(ctx context.Context, addr ledger.PublicKey) (*ledger.Account, error) {
	if addr == c.registry {
		c.reads.Add(1)
		if c.misses.Add(-1) >= 0 {
			return nil, ledger.ErrAccountNotFound
		}
	}
	return c.Client.GetAccount(ctx, addr)
}

// flakyClient fails reads with a transport error while down is set.
type flakyClient struct {
	ledger.Client
	down atomic.Bool
}

func (c *flakyClient) GetAccount(ctx context.Context, addr ledger.PublicKey) (*ledger.Account, error) {
	if c.down.Load() {
		return nil, errors.New("fetch failed: connection refused")
	}
	return c.Client.GetAccount(ctx, addr)
}

type env struct {
	ledger  *memledger.Ledger
	builder *program.Builder
	admin   *ledger.Keypair
}

func newEnv(t *testing.T) *env {
	t.Helper()
	deriver := address.NewDeriver(ledger.PublicKey{0x42}, address.SchemeOwnerScoped, "guard")
	l := memledger.New(deriver, memledger.Options{}, zap.NewNop())
	admin, err := ledger.NewKeypair()
	require.NoError(t, err)
	l.Airdrop(admin.PublicKey(), 1_000_000)
	return &env{ledger: l, builder: program.NewBuilder(deriver), admin: admin}
}

func (e *env) guard(t *testing.T, client ledger.Client, opts Options) *Guard {
	t.Helper()
	g, err := NewGuard(client, e.builder, opts, zap.NewNop())
	require.NoError(t, err)
	return g
}

func TestGuard_StateMachine(t *testing.T) {
	sm := NewStateMachine()
	assert.True(t, sm.CanTransition(StateUnknown, StateChecking))
	assert.True(t, sm.CanTransition(StateAbsent, StateInitializing))
	assert.False(t, sm.CanTransition(StateUnknown, StateInitializing))
	assert.True(t, sm.IsTerminal(StateReady))
}

func TestGuard_CheckAbsentThenBootstrap(t *testing.T) {
	e := newEnv(t)
	g := e.guard(t, e.ledger, Options{Admin: e.admin.PublicKey()})
	ctx := context.Background()

	assert.Equal(t, StateUnknown, g.State())
	state, err := g.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateAbsent, state)
	assert.Equal(t, StateAbsent, g.State())

	require.NoError(t, g.EnsureReady(ctx, e.admin))
	assert.Equal(t, StateReady, g.State())

	acc, err := e.ledger.GetAccount(ctx, g.Address())
	require.NoError(t, err)
	reg, err := ledger.DecodeAs[ledger.GlobalRegistry](acc)
	require.NoError(t, err)
	assert.Equal(t, e.admin.PublicKey(), reg.Admin)
}

func TestGuard_UnauthorizedActor(t *testing.T) {
	e := newEnv(t)
	g := e.guard(t, e.ledger, Options{Admin: e.admin.PublicKey()})
	stranger, err := ledger.NewKeypair()
	require.NoError(t, err)

	ran := false
	err = g.Do(context.Background(), stranger, func(ctx context.Context) error {
		ran = true
		return nil
	})
	require.Error(t, err)
	assert.Equal(t, failure.KindRegistryNotReady, failure.KindOf(err))
	assert.False(t, ran)
	assert.Equal(t, StateAbsent, g.State())
	assert.Equal(t, uint64(0), e.ledger.Slot())
}

func TestGuard_AnyActorWhenNoAdminConfigured(t *testing.T) {
	e := newEnv(t)
	g := e.guard(t, e.ledger, Options{})
	require.NoError(t, g.EnsureReady(context.Background(), e.admin))
	assert.Equal(t, StateReady, g.State())
}

func TestGuard_ReadyShortCircuits(t *testing.T) {
	e := newEnv(t)
	reg, err := e.builder.Deriver().Registry()
	require.NoError(t, err)
	client := &staleClient{Client: e.ledger, registry: reg.Address}
	g := e.guard(t, client, Options{})
	ctx := context.Background()

	require.NoError(t, g.EnsureReady(ctx, e.admin))
	reads := client.reads.Load()

	calls := 0
	for i := 0; i < 3; i++ {
		require.NoError(t, g.Do(ctx, e.admin, func(ctx context.Context) error {
			calls++
			return nil
		}))
	}
	assert.Equal(t, 3, calls)
	assert.Equal(t, reads, client.reads.Load())
}

func TestGuard_AlreadyExistsResolvesToReady(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	reg, err := e.builder.Deriver().Registry()
	require.NoError(t, err)

	first := e.guard(t, e.ledger, Options{})
	require.NoError(t, first.EnsureReady(ctx, e.admin))

	// The second guard's read lags behind, so it attempts creation too and
	// loses the race.
	lagging := &staleClient{Client: e.ledger, registry: reg.Address}
	lagging.misses.Store(1)
	second := e.guard(t, lagging, Options{})

	require.NoError(t, second.EnsureReady(ctx, e.admin))
	assert.Equal(t, StateReady, second.State())
	assert.Nil(t, second.Status().LastError)
	assert.Equal(t, uint64(1), e.ledger.Slot())
}

func TestGuard_ConcurrentBootstrapRace(t *testing.T) {
	e := newEnv(t)
	reg, err := e.builder.Deriver().Registry()
	require.NoError(t, err)

	guards := make([]*Guard, 4)
	for i := range guards {
		c := &staleClient{Client: e.ledger, registry: reg.Address}
		c.misses.Store(1)
		guards[i] = e.guard(t, c, Options{})
	}

	var wg sync.WaitGroup
	errs := make([]error, len(guards))
	for i, g := range guards {
		wg.Add(1)
		go func(i int, g *Guard) {
			defer wg.Done()
			errs[i] = g.EnsureReady(context.Background(), e.admin)
		}(i, g)
	}
	wg.Wait()

	for i, g := range guards {
		assert.NoError(t, errs[i])
		assert.Equal(t, StateReady, g.State())
	}
	accs, err := e.ledger.ListAccounts(context.Background(), ledger.AccountFilter{Kind: ledger.KindGlobalRegistry})
	require.NoError(t, err)
	assert.Len(t, accs, 1)
}

func TestGuard_ConcurrentCallersShareOneInitialization(t *testing.T) {
	e := newEnv(t)
	g := e.guard(t, e.ledger, Options{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, g.EnsureReady(context.Background(), e.admin))
		}()
	}
	wg.Wait()

	assert.Equal(t, StateReady, g.State())
	assert.Equal(t, uint64(1), e.ledger.Slot())
}

func TestGuard_TransportFailureReturnsToUnknown(t *testing.T) {
	e := newEnv(t)
	client := &flakyClient{Client: e.ledger}
	client.down.Store(true)
	g := e.guard(t, client, Options{})
	ctx := context.Background()

	err := g.EnsureReady(ctx, e.admin)
	require.Error(t, err)
	assert.Equal(t, failure.KindNetworkUnavailable, failure.KindOf(err))
	assert.True(t, failure.IsRetryable(err))
	assert.Equal(t, StateUnknown, g.State())
	require.NotNil(t, g.Status().LastError)

	client.down.Store(false)
	require.NoError(t, g.EnsureReady(ctx, e.admin))
	assert.Equal(t, StateReady, g.State())
	assert.Nil(t, g.Status().LastError)
}

func TestGuard_SignatureRejected(t *testing.T) {
	e := newEnv(t)
	g := e.guard(t, e.ledger, Options{})

	err := g.EnsureReady(context.Background(), rejectingSigner{e.admin.PublicKey()})
	require.Error(t, err)
	assert.Equal(t, failure.KindUserCancelled, failure.KindOf(err))
	assert.Equal(t, StateUnknown, g.State())

	require.NoError(t, g.EnsureReady(context.Background(), e.admin))
}

type rejectingSigner struct {
	pk ledger.PublicKey
}

func (s rejectingSigner) PublicKey() ledger.PublicKey { return s.pk }

func (s rejectingSigner) SignTransaction(context.Context, *ledger.Transaction) error {
	return ledger.ErrSignatureRejected
}

func TestGuard_PublishesInitialization(t *testing.T) {
	e := newEnv(t)
	rec := &notifications.Recorder{}
	g := e.guard(t, e.ledger, Options{Publisher: rec})

	require.NoError(t, g.EnsureReady(context.Background(), e.admin))
	require.NoError(t, g.EnsureReady(context.Background(), e.admin))
	assert.Equal(t, []notifications.EventType{notifications.EventRegistryInitialized}, rec.Types())
	assert.True(t, rec.Events()[0].Touches(g.Address().String()))
}
