package app

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"blue-carbon/registry-portal/registry-portal-backend/internal/config"
	"blue-carbon/registry-portal/registry-portal-backend/internal/ledger"
	"blue-carbon/registry-portal/registry-portal-backend/internal/ledger/address"
	"blue-carbon/registry-portal/registry-portal-backend/internal/ledger/rpc"
	"blue-carbon/registry-portal/registry-portal-backend/internal/registry"
)

func memoryConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.LoadConfig("")
	require.NoError(t, err)
	cfg.Ledger.Mode = "memory"
	cfg.Ledger.SignerKeys = nil
	cfg.Registry.Admin = ""
	cfg.Storage.Provider = "memory"
	cfg.Storage.S3.Bucket = ""
	return cfg
}

func TestNew_MemoryBootstrap(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, memoryConfig(t), zap.NewNop())
	require.NoError(t, err)

	require.NotNil(t, a.Simulator)
	assert.False(t, a.Admin.IsZero())
	assert.Equal(t, uint64(1_000_000_000), a.Simulator.Lamports(a.Admin))
	assert.Equal(t, registry.StateUnknown, a.Guard.State())

	require.NoError(t, a.Bootstrap(ctx, 5*time.Second))
	assert.Equal(t, registry.StateReady, a.Guard.State())

	acc, err := a.Client.GetAccount(ctx, a.Guard.Address())
	require.NoError(t, err)
	assert.Equal(t, a.Guard.Address(), acc.Address)

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
}

func TestNew_RPCGateway(t *testing.T) {
	ctx := context.Background()
	admin, err := ledger.NewKeypair()
	require.NoError(t, err)

	cfg := memoryConfig(t)
	sim := NewSimulator(address.NewDeriver(DefaultProgramID, address.SchemeOwnerScoped, cfg.Ledger.Salt), cfg, zap.NewNop())
	sim.Airdrop(admin.PublicKey(), 1_000_000)
	srv := httptest.NewServer(rpc.NewHandler(sim))
	defer srv.Close()

	cfg.Ledger.Mode = "rpc"
	cfg.Ledger.RPCURL = srv.URL
	cfg.Ledger.ProgramID = DefaultProgramID.String()
	cfg.Ledger.SignerKeys = []string{admin.Secret()}
	require.NoError(t, cfg.Validate())

	a, err := New(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.Simulator)
	assert.Equal(t, admin.PublicKey(), a.Admin)
	require.NoError(t, a.Bootstrap(ctx, 5*time.Second))

	_, err = sim.GetAccount(ctx, a.Guard.Address())
	require.NoError(t, err)
}

func TestNew_ReadOnlyBootstrapChecks(t *testing.T) {
	ctx := context.Background()
	other, err := ledger.NewKeypair()
	require.NoError(t, err)

	cfg := memoryConfig(t)
	cfg.Registry.Admin = other.PublicKey().String()
	a, err := New(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	// The keyring does not hold the admin, so bootstrap only observes.
	require.NoError(t, a.Bootstrap(ctx, 5*time.Second))
	assert.Equal(t, registry.StateAbsent, a.Guard.State())
}

func TestNew_RejectsBadProgram(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Ledger.ProgramID = "not-base58-0OIl"
	_, err := New(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger("debug")
	require.NoError(t, err)
	assert.NotNil(t, logger)

	_, err = NewLogger("loud")
	assert.Error(t, err)
}
