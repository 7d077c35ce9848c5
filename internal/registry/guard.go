// Package registry guards access to the global registry account: nothing
// that depends on the registry runs until it is known to exist, and the
// one-time creation is issued at most once per guard.
package registry

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"blue-carbon/registry-portal/registry-portal-backend/internal/failure"
	"blue-carbon/registry-portal/registry-portal-backend/internal/ledger"
	"blue-carbon/registry-portal/registry-portal-backend/internal/ledger/program"
	"blue-carbon/registry-portal/registry-portal-backend/internal/metrics"
	"blue-carbon/registry-portal/registry-portal-backend/internal/notifications"
	"blue-carbon/registry-portal/registry-portal-backend/pkg/workflows"
)

// State of the registry as observed by a guard.
type State string

const (
	StateUnknown      State = "UNKNOWN"
	StateChecking     State = "CHECKING"
	StateReady        State = "READY"
	StateAbsent       State = "ABSENT"
	StateInitializing State = "INITIALIZING"
)

// Ready is terminal: the registry is never deleted.
var transitions = map[State][]State{
	StateUnknown:      {StateChecking},
	StateChecking:     {StateReady, StateAbsent, StateUnknown},
	StateAbsent:       {StateChecking, StateInitializing},
	StateInitializing: {StateReady, StateUnknown},
	StateReady:        {},
}

// NewStateMachine returns the guard's transition table.
func NewStateMachine() *workflows.StateMachine[State] {
	return workflows.NewStateMachine(transitions)
}

// Options configures a guard for one deployment.
type Options struct {
	// Admin is the only identity allowed to create the registry. Zero
	// allows any actor.
	Admin    ledger.PublicKey
	Decimals uint8
	Metrics  *metrics.Metrics

	// Publisher receives EventRegistryInitialized. Optional.
	Publisher notifications.Publisher
}

// Status is a point-in-time view of the guard.
type Status struct {
	State     State            `json:"state"`
	Registry  ledger.PublicKey `json:"registry"`
	LastError *failure.Error   `json:"lastError,omitempty"`
}

// Guard tracks whether the registry exists and bootstraps it on demand.
type Guard struct {
	client   ledger.Client
	builder  *program.Builder
	opts     Options
	registry ledger.PublicKey
	tracker  *workflows.Tracker[State]
	group    singleflight.Group
	logger   *zap.Logger

	mu      sync.RWMutex
	lastErr *failure.Error
}

// NewGuard creates a guard in the Unknown state.
func NewGuard(client ledger.Client, builder *program.Builder, opts Options, logger *zap.Logger) (*Guard, error) {
	reg, err := builder.Deriver().Registry()
	if err != nil {
		return nil, fmt.Errorf("derive registry address: %w", err)
	}
	return &Guard{
		client:   client,
		builder:  builder,
		opts:     opts,
		registry: reg.Address,
		tracker:  workflows.NewTracker(NewStateMachine(), StateUnknown),
		logger:   logger,
	}, nil
}

// State returns the current observed state.
func (g *Guard) State() State {
	return g.tracker.Current()
}

// Address returns the registry account address.
func (g *Guard) Address() ledger.PublicKey {
	return g.registry
}

func (g *Guard) Status() Status {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return Status{State: g.tracker.Current(), Registry: g.registry, LastError: g.lastErr}
}

// setLastError records the outcome of a round trip and publishes the state
// gauge.
func (g *Guard) setLastError(err *failure.Error) {
	g.mu.Lock()
	g.lastErr = err
	g.mu.Unlock()
	g.opts.Metrics.SetRegistryState(string(g.tracker.Current()),
		string(StateUnknown), string(StateChecking), string(StateReady), string(StateAbsent), string(StateInitializing))
}

// Authorized reports whether actor may create the registry.
func (g *Guard) Authorized(actor ledger.PublicKey) bool {
	return g.opts.Admin.IsZero() || g.opts.Admin == actor
}

// Check reads the registry account and records the outcome. Concurrent
// calls share one read.
func (g *Guard) Check(ctx context.Context) (State, error) {
	v, err, _ := g.group.Do("check", func() (interface{}, error) {
		return g.check(ctx)
	})
	if err != nil {
		return StateUnknown, err
	}
	return v.(State), nil
}

func (g *Guard) check(ctx context.Context) (State, error) {
	if g.tracker.Current() == StateReady {
		return StateReady, nil
	}
	entered := g.tracker.CompareAndTransition(StateUnknown, StateChecking) ||
		g.tracker.CompareAndTransition(StateAbsent, StateChecking)

	next := StateReady
	var classified *failure.Error
	if _, err := g.client.GetAccount(ctx, g.registry); err != nil {
		classified = failure.Classify(err)
		if failure.IsAccountMissing(classified) {
			next, classified = StateAbsent, nil
		} else {
			next = StateUnknown
		}
	}

	if entered {
		g.tracker.CompareAndTransition(StateChecking, next)
	} else if next == StateReady {
		// An initialization from another flow is in progress on this guard.
		g.tracker.CompareAndTransition(StateInitializing, StateReady)
	}
	g.setLastError(classified)

	if classified != nil {
		g.logger.Warn("Registry check failed",
			zap.String("registry", g.registry.String()),
			zap.String("kind", string(classified.Kind)),
			zap.Error(classified))
		return StateUnknown, classified
	}
	return next, nil
}

// EnsureReady returns once the registry exists, creating it if it is
// absent and actor is authorized to do so.
func (g *Guard) EnsureReady(ctx context.Context, actor ledger.Signer) error {
	if g.tracker.Current() == StateReady {
		return nil
	}
	state, err := g.Check(ctx)
	if err != nil {
		return err
	}
	if state == StateReady {
		return nil
	}

	if actor == nil || !g.Authorized(actor.PublicKey()) {
		return failure.RegistryNotReady("The global registry has not been initialized. An administrator must initialize it first.")
	}

	_, err, _ = g.group.Do("initialize", func() (interface{}, error) {
		return nil, g.initialize(ctx, actor)
	})
	return err
}

func (g *Guard) initialize(ctx context.Context, actor ledger.Signer) error {
	if !g.tracker.CompareAndTransition(StateAbsent, StateInitializing) {
		if g.tracker.Current() == StateReady {
			return nil
		}
		return failure.RegistryNotReady("Registry state changed during bootstrap, check again")
	}

	ix, err := g.builder.InitializeRegistry(actor.PublicKey(), g.opts.Decimals)
	if err != nil {
		g.tracker.CompareAndTransition(StateInitializing, StateUnknown)
		return err
	}

	g.logger.Info("Initializing registry",
		zap.String("registry", g.registry.String()),
		zap.String("admin", actor.PublicKey().String()))

	sig, err := program.Send(ctx, g.client, []ledger.Signer{actor}, ix)
	if err != nil {
		classified := failure.Classify(err)
		if failure.IsAlreadyExists(classified) {
			g.logger.Info("Registry already initialized by another actor",
				zap.String("registry", g.registry.String()))
			g.tracker.CompareAndTransition(StateInitializing, StateReady)
			g.setLastError(nil)
			return nil
		}
		g.tracker.CompareAndTransition(StateInitializing, StateUnknown)
		g.setLastError(classified)
		g.logger.Error("Failed to initialize registry", zap.Error(classified))
		return classified
	}

	g.tracker.CompareAndTransition(StateInitializing, StateReady)
	g.setLastError(nil)
	g.logger.Info("Registry initialized",
		zap.String("registry", g.registry.String()),
		zap.String("signature", sig.String()))
	if g.opts.Publisher != nil {
		g.opts.Publisher.Publish(ctx, notifications.Event{
			Type:      notifications.EventRegistryInitialized,
			Signature: sig.String(),
			Actor:     actor.PublicKey().String(),
			Accounts:  []string{g.registry.String()},
			Data:      map[string]interface{}{"decimals": g.opts.Decimals},
		})
	}
	return nil
}

// Do runs op once the registry is confirmed ready.
func (g *Guard) Do(ctx context.Context, actor ledger.Signer, op func(ctx context.Context) error) error {
	if err := g.EnsureReady(ctx, actor); err != nil {
		return err
	}
	return op(ctx)
}
