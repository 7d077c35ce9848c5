// Package lifecycle drives the multi-party credit lifecycle against the
// ledger: registration, verification, minting, transfer and retirement,
// plus the marketplace and monitoring operations. Every write is signed by
// an external signer, confirmed remotely, and followed by a re-read of the
// accounts it touched. Preconditions are enforced by the remote program,
// never assumed locally.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"blue-carbon/registry-portal/registry-portal-backend/internal/failure"
	"blue-carbon/registry-portal/registry-portal-backend/internal/ledger"
	"blue-carbon/registry-portal/registry-portal-backend/internal/ledger/program"
	"blue-carbon/registry-portal/registry-portal-backend/internal/metrics"
	"blue-carbon/registry-portal/registry-portal-backend/internal/notifications"
	"blue-carbon/registry-portal/registry-portal-backend/internal/pinning"
	"blue-carbon/registry-portal/registry-portal-backend/internal/registry"
	"blue-carbon/registry-portal/registry-portal-backend/pkg/workflows"
)

var (
	// ErrMissingContentID is returned by Register when neither a content id
	// nor documents were supplied.
	ErrMissingContentID = errors.New("a content identifier or supporting documents are required")

	// ErrPinningDisabled is returned when documents are supplied but no
	// pinning coordinator is configured.
	ErrPinningDisabled = errors.New("document pinning is not configured")
)

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Client    ledger.Client
	Builder   *program.Builder
	Guard     *registry.Guard
	Keyring   ledger.Keyring
	Pinner    *pinning.Coordinator
	Publisher notifications.Publisher
	Metrics   *metrics.Metrics
	Clock     func() time.Time
}

// Orchestrator runs lifecycle operations.
type Orchestrator struct {
	client    ledger.Client
	builder   *program.Builder
	guard     *registry.Guard
	keyring   ledger.Keyring
	pinner    *pinning.Coordinator
	publisher notifications.Publisher
	metrics   *metrics.Metrics
	clock     func() time.Time
	cache     *StatusCache
	states    *workflows.StateMachine[ProjectState]
	logger    *zap.Logger
}

func NewOrchestrator(deps Deps, logger *zap.Logger) *Orchestrator {
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	return &Orchestrator{
		client:    deps.Client,
		builder:   deps.Builder,
		guard:     deps.Guard,
		keyring:   deps.Keyring,
		pinner:    deps.Pinner,
		publisher: deps.Publisher,
		metrics:   deps.Metrics,
		clock:     deps.Clock,
		cache:     NewStatusCache(),
		states:    NewProjectStateMachine(),
		logger:    logger,
	}
}

// Balance is a re-read credit balance.
type Balance struct {
	Holder  ledger.PublicKey `json:"holder"`
	Account ledger.PublicKey `json:"account"`
	Amount  uint64           `json:"amount"`
	Sink    bool             `json:"sink,omitempty"`
}

// Receipt is the result of a confirmed write, carrying the authoritative
// state read back after confirmation.
type Receipt struct {
	Operation string                   `json:"operation"`
	Signature ledger.Signature         `json:"signature"`
	Address   ledger.PublicKey         `json:"address,omitempty"`
	Project   *ledger.Project          `json:"project,omitempty"`
	Verifier  *ledger.Verifier         `json:"verifier,omitempty"`
	Listing   *ledger.Listing          `json:"listing,omitempty"`
	Record    *ledger.MonitoringRecord `json:"record,omitempty"`
	Balances  []Balance                `json:"balances,omitempty"`
	Documents *pinning.Result          `json:"documents,omitempty"`
}

// Cache exposes the advisory status cache.
func (o *Orchestrator) Cache() *StatusCache {
	return o.cache
}

// Builder returns the instruction builder, whose deriver resolves
// addresses for this deployment.
func (o *Orchestrator) Builder() *program.Builder {
	return o.builder
}

func (o *Orchestrator) signer(identity ledger.PublicKey) (ledger.Signer, error) {
	if identity.IsZero() {
		return nil, failure.InvalidNamespace("signer identity is required")
	}
	s, err := o.keyring.Signer(identity)
	if err != nil {
		return nil, fmt.Errorf("resolve signer %s: %w", identity, err)
	}
	return s, nil
}

// execute signs and submits one instruction and records the outcome. The
// returned error is always classified. Once the transaction is confirmed the
// operation can no longer be cancelled, so the returned context, detached
// from ctx's cancellation, is the one to read authoritative state with.
func (o *Orchestrator) execute(ctx context.Context, signer ledger.Signer, ix ledger.Instruction) (context.Context, ledger.Signature, error) {
	start := time.Now()
	sig, err := program.Send(ctx, o.client, []ledger.Signer{signer}, ix)
	if err != nil {
		ce := failure.Classify(err)
		o.metrics.ObserveOperation(ix.Name, start, string(ce.Kind), ce.Code)
		o.logger.Error("Ledger operation failed",
			zap.String("operation", ix.Name),
			zap.String("signer", signer.PublicKey().String()),
			zap.String("kind", string(ce.Kind)),
			zap.String("code", ce.Code),
			zap.Error(ce))
		return ctx, ledger.Signature{}, ce
	}
	o.metrics.ObserveOperation(ix.Name, start, "", "")
	o.logger.Info("Ledger operation confirmed",
		zap.String("operation", ix.Name),
		zap.String("signature", sig.String()))
	return context.WithoutCancel(ctx), sig, nil
}

// run resolves the signer and executes fn once the registry is ready.
func (o *Orchestrator) run(ctx context.Context, identity ledger.PublicKey, fn func(ctx context.Context, signer ledger.Signer) error) error {
	signer, err := o.signer(identity)
	if err != nil {
		return failure.Classify(err)
	}
	err = o.guard.Do(ctx, signer, func(ctx context.Context) error {
		return fn(ctx, signer)
	})
	if err != nil {
		return failure.Classify(err)
	}
	return nil
}

func (o *Orchestrator) publish(ctx context.Context, event notifications.Event) {
	if o.publisher == nil {
		return
	}
	event.Timestamp = o.clock()
	o.publisher.Publish(context.WithoutCancel(ctx), event)
}

// readProject loads the authoritative project account and refreshes the
// status cache.
func (o *Orchestrator) readProject(ctx context.Context, addr ledger.PublicKey) (*ledger.Project, error) {
	acc, err := o.client.GetAccount(ctx, addr)
	if err != nil {
		return nil, failure.Classify(err)
	}
	p, err := ledger.DecodeAs[ledger.Project](acc)
	if err != nil {
		return nil, failure.Classify(err)
	}
	o.observe(addr, p)
	return p, nil
}

func (o *Orchestrator) observe(addr ledger.PublicKey, p *ledger.Project) {
	prev, had := o.cache.Observe(addr, p, o.clock())
	next := StateOf(p)
	if had && prev.State != next && !o.states.CanTransition(prev.State, next) {
		o.logger.Warn("Project moved outside the expected lifecycle",
			zap.String("project", addr.String()),
			zap.String("from", string(prev.State)),
			zap.String("to", string(next)))
	}
}

// readBalance loads a credit account. A missing account is a zero balance.
func (o *Orchestrator) readBalance(ctx context.Context, holder, account ledger.PublicKey) (Balance, error) {
	b := Balance{Holder: holder, Account: account}
	acc, err := o.client.GetAccount(ctx, account)
	if err != nil {
		if failure.IsAccountMissing(err) {
			return b, nil
		}
		return b, failure.Classify(err)
	}
	ca, err := ledger.DecodeAs[ledger.CreditAccount](acc)
	if err != nil {
		return b, failure.Classify(err)
	}
	b.Amount = ca.Balance
	b.Sink = ca.Sink
	return b, nil
}

func (o *Orchestrator) balanceOf(ctx context.Context, holder ledger.PublicKey) (Balance, error) {
	d, err := o.builder.Deriver().CreditAccount(holder)
	if err != nil {
		return Balance{}, err
	}
	return o.readBalance(ctx, holder, d.Address)
}

func (o *Orchestrator) retiredOf(ctx context.Context, holder ledger.PublicKey) (Balance, error) {
	d, err := o.builder.Deriver().RetirementSink(holder)
	if err != nil {
		return Balance{}, err
	}
	b, err := o.readBalance(ctx, holder, d.Address)
	b.Sink = true
	return b, err
}

// Balance re-reads a holder's circulating balance.
func (o *Orchestrator) Balance(ctx context.Context, holder ledger.PublicKey) (Balance, error) {
	b, err := o.balanceOf(ctx, holder)
	if err != nil {
		return b, failure.Classify(err)
	}
	return b, nil
}

// Retired re-reads the amount a holder has retired.
func (o *Orchestrator) Retired(ctx context.Context, holder ledger.PublicKey) (Balance, error) {
	b, err := o.retiredOf(ctx, holder)
	if err != nil {
		return b, failure.Classify(err)
	}
	return b, nil
}

// EnsureRegistry bootstraps the global registry on behalf of identity.
// Only the configured admin may create it; anyone may confirm it exists.
func (o *Orchestrator) EnsureRegistry(ctx context.Context, identity ledger.PublicKey) (registry.Status, error) {
	signer, err := o.signer(identity)
	if err != nil {
		return o.guard.Status(), failure.Classify(err)
	}
	if err := o.guard.EnsureReady(ctx, signer); err != nil {
		return o.guard.Status(), failure.Classify(err)
	}
	return o.guard.Status(), nil
}

// RegistryStatus re-checks the registry unless it is already known to
// exist.
func (o *Orchestrator) RegistryStatus(ctx context.Context) (registry.Status, error) {
	if o.guard.State() != registry.StateReady {
		if _, err := o.guard.Check(ctx); err != nil {
			return o.guard.Status(), failure.Classify(err)
		}
	}
	return o.guard.Status(), nil
}
