// Package views keeps read-side projections of ledger state for the UI.
// Each projection is an Aggregate that is fetched on mount, on an explicit
// refetch, or when the wallet identity changes. Nothing polls: confirmed
// writes only mark aggregates stale.
package views

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"blue-carbon/registry-portal/registry-portal-backend/internal/failure"
	"blue-carbon/registry-portal/registry-portal-backend/internal/ledger"
	"blue-carbon/registry-portal/registry-portal-backend/internal/metrics"
	"blue-carbon/registry-portal/registry-portal-backend/pkg/workflows"
)

var (
	// ErrClosed is returned by an aggregate after Close.
	ErrClosed = errors.New("view has been torn down")

	// ErrSuperseded is returned to a caller whose fetch finished after a
	// newer fetch, an identity switch, or teardown. Its result was dropped.
	ErrSuperseded = errors.New("view fetch superseded")
)

// State is the load state of an aggregate.
type State string

const (
	StateIdle    State = "IDLE"
	StateLoading State = "LOADING"
	StateLoaded  State = "LOADED"
	StateFailed  State = "FAILED"
)

func newStateMachine() *workflows.StateMachine[State] {
	return workflows.NewStateMachine(map[State][]State{
		StateIdle:    {StateLoading},
		StateLoading: {StateLoading, StateLoaded, StateFailed, StateIdle},
		StateLoaded:  {StateLoading, StateIdle},
		StateFailed:  {StateLoading, StateIdle},
	})
}

// Fetcher loads one aggregate for an identity. Identity is zero for
// aggregates that do not depend on the caller.
type Fetcher[T any] func(ctx context.Context, identity ledger.PublicKey) (T, error)

// Snapshot is the uniform shape every aggregate is read through.
type Snapshot[T any] struct {
	Data      T                `json:"data"`
	Loading   bool             `json:"loading"`
	Error     *failure.Error   `json:"error,omitempty"`
	State     State            `json:"state"`
	FetchedAt time.Time        `json:"fetchedAt,omitempty"`
	Stale     bool             `json:"stale"`
	Identity  ledger.PublicKey `json:"identity,omitempty"`
}

// Any erases the data type so heterogeneous aggregates can be served
// through one interface.
func (s Snapshot[T]) Any() Snapshot[any] {
	return Snapshot[any]{
		Data:      s.Data,
		Loading:   s.Loading,
		Error:     s.Error,
		State:     s.State,
		FetchedAt: s.FetchedAt,
		Stale:     s.Stale,
		Identity:  s.Identity,
	}
}

// Aggregate is one asynchronously loaded projection. Every fetch carries a
// generation; a result whose generation is no longer current is dropped.
type Aggregate[T any] struct {
	name    string
	fetch   Fetcher[T]
	states  *workflows.StateMachine[State]
	metrics *metrics.Metrics
	clock   func() time.Time
	logger  *zap.Logger

	mu       sync.Mutex
	snap     Snapshot[T]
	identity ledger.PublicKey
	gen      uint64
	cancel   context.CancelFunc
	closed   bool
}

// NewAggregate creates an idle aggregate.
func NewAggregate[T any](name string, fetch Fetcher[T], m *metrics.Metrics, logger *zap.Logger) *Aggregate[T] {
	return &Aggregate[T]{
		name:    name,
		fetch:   fetch,
		states:  newStateMachine(),
		metrics: m,
		clock:   time.Now,
		logger:  logger,
		snap:    Snapshot[T]{State: StateIdle},
	}
}

func (a *Aggregate[T]) Name() string {
	return a.name
}

// Snapshot returns the current state without fetching.
func (a *Aggregate[T]) Snapshot() Snapshot[T] {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snap
}

// Identity returns the identity the aggregate is currently scoped to.
func (a *Aggregate[T]) Identity() ledger.PublicKey {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.identity
}

// Mount performs the initial fetch. An aggregate that has already been
// fetched returns its snapshot unchanged.
func (a *Aggregate[T]) Mount(ctx context.Context) (Snapshot[T], error) {
	a.mu.Lock()
	state := a.snap.State
	snap := a.snap
	a.mu.Unlock()
	if state != StateIdle {
		return snap, nil
	}
	return a.Refetch(ctx)
}

// SetIdentity switches the aggregate to another wallet. Data belonging to
// the previous identity is cleared, any in-flight fetch is superseded, and
// the aggregate is fetched again for the new identity.
func (a *Aggregate[T]) SetIdentity(ctx context.Context, identity ledger.PublicKey) (Snapshot[T], error) {
	a.mu.Lock()
	if a.closed {
		snap := a.snap
		a.mu.Unlock()
		return snap, ErrClosed
	}
	if a.identity == identity && a.snap.State != StateIdle {
		snap := a.snap
		a.mu.Unlock()
		return snap, nil
	}
	a.supersede()
	a.identity = identity
	a.snap = Snapshot[T]{State: StateIdle, Identity: identity}
	a.mu.Unlock()
	return a.Refetch(ctx)
}

// Refetch loads the aggregate now. Concurrent refetches supersede each
// other; only the newest result is kept.
func (a *Aggregate[T]) Refetch(ctx context.Context) (Snapshot[T], error) {
	a.mu.Lock()
	if a.closed {
		snap := a.snap
		a.mu.Unlock()
		return snap, ErrClosed
	}
	a.supersede()
	gen := a.gen
	identity := a.identity
	fetchCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.transition(StateLoading)
	a.snap.Loading = true
	a.mu.Unlock()
	defer cancel()

	data, err := a.fetch(fetchCtx, identity)
	a.metrics.ObserveViewFetch(a.name, err)

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed || gen != a.gen {
		a.logger.Debug("Dropping superseded view result",
			zap.String("view", a.name),
			zap.Uint64("generation", gen))
		return a.snap, ErrSuperseded
	}
	a.cancel = nil
	a.snap.Loading = false
	if err != nil {
		classified := failure.Classify(err)
		a.transition(StateFailed)
		a.snap.Error = classified
		a.logger.Warn("View fetch failed",
			zap.String("view", a.name),
			zap.String("kind", string(classified.Kind)),
			zap.Error(classified))
		return a.snap, classified
	}
	a.transition(StateLoaded)
	a.snap.Data = data
	a.snap.Error = nil
	a.snap.Stale = false
	a.snap.FetchedAt = a.clock()
	a.snap.Identity = identity
	return a.snap, nil
}

// Invalidate marks the aggregate stale. It does not fetch.
func (a *Aggregate[T]) Invalidate() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.snap.State == StateLoaded || a.snap.State == StateFailed {
		a.snap.Stale = true
	}
}

// Close tears the aggregate down. The in-flight fetch is cancelled and its
// result, if it still arrives, is dropped.
func (a *Aggregate[T]) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.supersede()
	a.closed = true
}

// supersede cancels the in-flight fetch and advances the generation. The
// caller holds mu.
func (a *Aggregate[T]) supersede() {
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	a.gen++
}

func (a *Aggregate[T]) transition(to State) {
	if !a.states.CanTransition(a.snap.State, to) {
		a.logger.Debug("Unexpected view transition",
			zap.String("view", a.name),
			zap.String("from", string(a.snap.State)),
			zap.String("to", string(to)))
	}
	a.snap.State = to
}

// View is an aggregate with its data type erased.
type View interface {
	Name() string
	Snapshot() Snapshot[any]
	Mount(ctx context.Context) (Snapshot[any], error)
	Refetch(ctx context.Context) (Snapshot[any], error)
	Invalidate()
}

type erased[T any] struct {
	*Aggregate[T]
}

// Erase wraps an aggregate as a View.
func Erase[T any](a *Aggregate[T]) View {
	return erased[T]{a}
}

func (e erased[T]) Snapshot() Snapshot[any] {
	return e.Aggregate.Snapshot().Any()
}

func (e erased[T]) Mount(ctx context.Context) (Snapshot[any], error) {
	s, err := e.Aggregate.Mount(ctx)
	return s.Any(), err
}

func (e erased[T]) Refetch(ctx context.Context) (Snapshot[any], error) {
	s, err := e.Aggregate.Refetch(ctx)
	return s.Any(), err
}
