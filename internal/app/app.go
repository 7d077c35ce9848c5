// Package app assembles the registry services from configuration. The
// binaries under cmd/ share it.
package app

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"net/http"
	"time"

	"github.com/mr-tron/base58"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"blue-carbon/registry-portal/registry-portal-backend/internal/auth"
	"blue-carbon/registry-portal/registry-portal-backend/internal/certificates"
	"blue-carbon/registry-portal/registry-portal-backend/internal/config"
	"blue-carbon/registry-portal/registry-portal-backend/internal/ledger"
	"blue-carbon/registry-portal/registry-portal-backend/internal/ledger/address"
	"blue-carbon/registry-portal/registry-portal-backend/internal/ledger/memledger"
	"blue-carbon/registry-portal/registry-portal-backend/internal/ledger/program"
	"blue-carbon/registry-portal/registry-portal-backend/internal/ledger/rpc"
	"blue-carbon/registry-portal/registry-portal-backend/internal/lifecycle"
	"blue-carbon/registry-portal/registry-portal-backend/internal/metrics"
	"blue-carbon/registry-portal/registry-portal-backend/internal/notifications"
	"blue-carbon/registry-portal/registry-portal-backend/internal/notifications/websocket"
	"blue-carbon/registry-portal/registry-portal-backend/internal/pinning"
	"blue-carbon/registry-portal/registry-portal-backend/internal/registry"
	"blue-carbon/registry-portal/registry-portal-backend/internal/views"
	"blue-carbon/registry-portal/registry-portal-backend/pkg/storage"
)

const issuer = "blue-carbon-registry"

// DefaultProgramID is the program address used by the in-process
// simulator when none is configured.
var DefaultProgramID = ledger.PublicKey(sha256.Sum256([]byte("blue-carbon-registry/program")))

// NewLogger builds a development logger at the given level.
func NewLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	if level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	return cfg.Build()
}

// App holds the wired services.
type App struct {
	Config       *config.Config
	Client       ledger.Client
	Simulator    *memledger.Ledger
	Deriver      *address.Deriver
	Builder      *program.Builder
	Keyring      *ledger.MemKeyring
	Admin        ledger.PublicKey
	Registry     *prometheus.Registry
	Metrics      *metrics.Metrics
	Events       *notifications.Service
	Sockets      *websocket.Manager
	Guard        *registry.Guard
	Pinner       *pinning.Coordinator
	Orchestrator *lifecycle.Orchestrator
	Source       *views.Source
	Views        *views.Reconciler
	Certificates *certificates.Generator
	Auth         *auth.Service

	logger  *zap.Logger
	closers []func() error
}

// New wires every service described by cfg.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{Config: cfg, logger: logger}
	if err := a.build(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.Config

	scheme, err := address.ParseScheme(cfg.Ledger.AddressingScheme)
	if err != nil {
		return err
	}
	programID := DefaultProgramID
	if cfg.Ledger.ProgramID != "" {
		if programID, err = ledger.ParsePublicKey(cfg.Ledger.ProgramID); err != nil {
			return fmt.Errorf("ledger.program_id: %w", err)
		}
	}
	a.Deriver = address.NewDeriver(programID, scheme, cfg.Ledger.Salt)
	a.Builder = program.NewBuilder(a.Deriver)

	if err := a.loadKeyring(); err != nil {
		return err
	}
	if err := a.connectLedger(ctx); err != nil {
		return err
	}

	a.Registry = prometheus.NewRegistry()
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Metrics = metrics.New(a.Registry)

	a.Sockets = websocket.NewManager(cfg.Security.AllowedOrigins, a.logger)
	a.closers = append(a.closers, func() error { a.Sockets.Close(); return nil })
	a.Events = notifications.NewService(a.Sockets, a.logger)

	a.Guard, err = registry.NewGuard(a.Client, a.Builder, registry.Options{
		Admin:     a.Admin,
		Decimals:  cfg.Registry.Decimals,
		Metrics:   a.Metrics,
		Publisher: a.Events,
	}, a.logger)
	if err != nil {
		return err
	}

	store, err := a.contentStore(ctx)
	if err != nil {
		return err
	}
	a.Pinner, err = pinning.NewCoordinator(store, pinning.Options{
		Concurrency: cfg.Pinning.Concurrency,
		HistorySize: cfg.Pinning.HistorySize,
	}, a.logger)
	if err != nil {
		return err
	}

	a.Orchestrator = lifecycle.NewOrchestrator(lifecycle.Deps{
		Client:    a.Client,
		Builder:   a.Builder,
		Guard:     a.Guard,
		Keyring:   a.Keyring,
		Pinner:    a.Pinner,
		Publisher: a.Events,
		Metrics:   a.Metrics,
	}, a.logger)

	a.Source = views.NewSource(a.Client, a.Deriver)
	a.Views, err = views.NewReconciler(a.Source, views.Options{
		SessionLimit: cfg.Views.SessionLimit,
		ProjectLimit: cfg.Views.ProjectLimit,
		Metrics:      a.Metrics,
	}, a.logger)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func() error { a.Views.Close(); return nil })
	unsubscribe := a.Events.Subscribe(a.Views.HandleEvent)
	a.closers = append(a.closers, func() error { unsubscribe(); return nil })

	a.Certificates = certificates.NewGenerator(certificates.DefaultOptions())

	secret := cfg.Security.JWTSecret
	if secret == "" {
		secret = sessionSecret()
		a.logger.Warn("No JWT secret configured, using an ephemeral one; tokens will not survive a restart")
	}
	a.Auth = auth.NewService(auth.NewTokenService(secret, issuer, cfg.Security.TokenTTL), issuer, a.logger)
	return nil
}

// loadKeyring loads the server-held signers. The first one is the registry
// admin unless registry.admin names another identity.
func (a *App) loadKeyring() error {
	a.Keyring = ledger.NewMemKeyring()
	var first ledger.PublicKey
	for i, secret := range a.Config.Ledger.SignerKeys {
		kp, err := ledger.ParseKeypair(secret)
		if err != nil {
			return fmt.Errorf("ledger.signer_keys[%d]: %w", i, err)
		}
		a.Keyring.Add(kp)
		if first.IsZero() {
			first = kp.PublicKey()
		}
	}
	if first.IsZero() && a.Config.Ledger.Mode == "memory" {
		kp, err := ledger.NewKeypair()
		if err != nil {
			return err
		}
		a.Keyring.Add(kp)
		first = kp.PublicKey()
		a.logger.Warn("No signer keys configured, generated an ephemeral admin",
			zap.String("admin", first.String()))
	}

	a.Admin = first
	if a.Config.Registry.Admin != "" {
		admin, err := ledger.ParsePublicKey(a.Config.Registry.Admin)
		if err != nil {
			return fmt.Errorf("registry.admin: %w", err)
		}
		a.Admin = admin
	}
	return nil
}

func (a *App) connectLedger(ctx context.Context) error {
	cfg := a.Config.Ledger
	switch cfg.Mode {
	case "rpc":
		header := http.Header{}
		if cfg.RPCToken != "" {
			header.Set("Authorization", "Bearer "+cfg.RPCToken)
		}
		client, closer, err := rpc.NewClient(ctx, cfg.RPCURL, header)
		if err != nil {
			return err
		}
		a.Client = client
		a.closers = append(a.closers, func() error { closer(); return nil })
		a.logger.Info("Connected to ledger gateway", zap.String("url", cfg.RPCURL))
	default:
		a.Simulator = NewSimulator(a.Deriver, a.Config, a.logger)
		for _, identity := range a.Keyring.Identities() {
			a.Simulator.Airdrop(identity, cfg.Airdrop)
		}
		a.Client = a.Simulator
		a.logger.Info("Using in-process ledger simulator",
			zap.String("program", a.Deriver.Program.String()))
	}
	return nil
}

// NewSimulator builds the in-process ledger for a deployment.
func NewSimulator(deriver *address.Deriver, cfg *config.Config, logger *zap.Logger) *memledger.Ledger {
	return memledger.New(deriver, memledger.Options{
		RejectionPolicy:   memledger.RejectionPolicy(cfg.Ledger.RejectionPolicy),
		RequiredApprovals: cfg.Ledger.RequiredApprovals,
		Fee:               cfg.Ledger.Fee,
	}, logger)
}

func (a *App) contentStore(ctx context.Context) (storage.ContentStore, error) {
	cfg := a.Config.Storage
	var primary storage.ContentStore
	switch cfg.Provider {
	case "pinata":
		primary = storage.NewIPFSClient(storage.PinataConfig{
			APIURL:     cfg.Pinata.APIURL,
			GatewayURL: cfg.Pinata.GatewayURL,
			JWT:        cfg.Pinata.JWT,
			Timeout:    cfg.Pinata.Timeout,
		})
	default:
		primary = storage.NewMemoryStore()
	}
	if cfg.S3.Bucket == "" {
		return primary, nil
	}
	s3, err := storage.NewS3Client(ctx, storage.S3Config{
		Bucket:          cfg.S3.Bucket,
		Region:          cfg.S3.Region,
		Endpoint:        cfg.S3.Endpoint,
		AccessKeyID:     cfg.S3.AccessKeyID,
		SecretAccessKey: cfg.S3.SecretAccessKey,
		Prefix:          cfg.S3.Prefix,
		UsePathStyle:    cfg.S3.UsePathStyle,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 mirror: %w", err)
	}
	a.logger.Info("Mirroring documents to S3", zap.String("bucket", cfg.S3.Bucket))
	return storage.NewMirroredStore(primary, []storage.Mirror{s3}, a.logger), nil
}

func sessionSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("read random secret: %v", err))
	}
	return base58.Encode(b)
}

// Bootstrap makes sure the registry exists, creating it with the admin key
// when the keyring holds it. It gives up after timeout.
func (a *App) Bootstrap(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if _, err := a.Keyring.Signer(a.Admin); err != nil {
		_, err := a.Guard.Check(ctx)
		return err
	}
	_, err := a.Orchestrator.EnsureRegistry(ctx, a.Admin)
	return err
}

// Close releases connections and tears down views. It is safe to call more
// than once.
func (a *App) Close() error {
	var err error
	for i := len(a.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, a.closers[i]())
	}
	a.closers = nil
	return err
}
