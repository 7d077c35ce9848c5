package views

import (
	"context"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"blue-carbon/registry-portal/registry-portal-backend/internal/ledger"
	"blue-carbon/registry-portal/registry-portal-backend/internal/metrics"
	"blue-carbon/registry-portal/registry-portal-backend/internal/notifications"
)

// Name identifies an aggregate.
type Name string

const (
	NameRegistryStats  Name = "registry-stats"
	NameProject        Name = "project"
	NameUserProjects   Name = "user-projects"
	NameAllProjects    Name = "all-projects"
	NameCreditBalance  Name = "credit-balance"
	NameTokenEconomics Name = "token-economics"
	NameListings       Name = "listings"
)

// Names lists every aggregate.
var Names = []Name{
	NameRegistryStats,
	NameProject,
	NameUserProjects,
	NameAllProjects,
	NameCreditBalance,
	NameTokenEconomics,
	NameListings,
}

const (
	DefaultSessionLimit = 256
	DefaultProjectLimit = 512
)

// Options configures a Reconciler.
type Options struct {
	SessionLimit int
	ProjectLimit int
	Metrics      *metrics.Metrics
}

// Session holds the aggregates scoped to one UI client's wallet.
type Session struct {
	ID string

	mu       sync.Mutex
	identity ledger.PublicKey
	projects *Aggregate[[]ProjectSummary]
	balance  *Aggregate[CreditSummary]
	listings *Aggregate[[]ListingSummary]
}

func (s *Session) Identity() ledger.PublicKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// SetIdentity switches every aggregate of the session to identity. Results
// still in flight for the previous identity are discarded.
func (s *Session) SetIdentity(ctx context.Context, identity ledger.PublicKey) error {
	s.mu.Lock()
	if s.identity == identity {
		s.mu.Unlock()
		return nil
	}
	s.identity = identity
	s.mu.Unlock()

	var errs []error
	if _, err := s.projects.SetIdentity(ctx, identity); err != nil {
		errs = append(errs, err)
	}
	if _, err := s.balance.SetIdentity(ctx, identity); err != nil {
		errs = append(errs, err)
	}
	if _, err := s.listings.SetIdentity(ctx, identity); err != nil {
		errs = append(errs, err)
	}
	return multierr.Combine(errs...)
}

func (s *Session) view(name Name) (View, bool) {
	switch name {
	case NameUserProjects:
		return Erase(s.projects), true
	case NameCreditBalance:
		return Erase(s.balance), true
	case NameListings:
		return Erase(s.listings), true
	}
	return nil, false
}

func (s *Session) invalidate() {
	s.projects.Invalidate()
	s.balance.Invalidate()
	s.listings.Invalidate()
}

func (s *Session) close() {
	s.projects.Close()
	s.balance.Close()
	s.listings.Close()
}

// Reconciler owns every aggregate served to the UI. Registry-wide
// aggregates are shared; project aggregates are kept per address and
// wallet-scoped ones per session, both in bounded LRUs whose evictions tear
// the aggregate down.
type Reconciler struct {
	source  *Source
	opts    Options
	logger  *zap.Logger
	stats   *Aggregate[RegistryStats]
	all     *Aggregate[[]ProjectSummary]
	economy *Aggregate[TokenEconomics]

	projects *lru.Cache[ledger.PublicKey, *Aggregate[ProjectSummary]]
	sessions *lru.Cache[string, *Session]
	mu       sync.Mutex
	closed   bool
}

func NewReconciler(source *Source, opts Options, logger *zap.Logger) (*Reconciler, error) {
	if opts.SessionLimit <= 0 {
		opts.SessionLimit = DefaultSessionLimit
	}
	if opts.ProjectLimit <= 0 {
		opts.ProjectLimit = DefaultProjectLimit
	}
	projects, err := lru.NewWithEvict(opts.ProjectLimit, func(_ ledger.PublicKey, a *Aggregate[ProjectSummary]) {
		a.Close()
	})
	if err != nil {
		return nil, fmt.Errorf("create project views: %w", err)
	}
	sessions, err := lru.NewWithEvict(opts.SessionLimit, func(_ string, s *Session) {
		s.close()
	})
	if err != nil {
		return nil, fmt.Errorf("create view sessions: %w", err)
	}
	return &Reconciler{
		source:   source,
		opts:     opts,
		logger:   logger,
		stats:    NewAggregate[RegistryStats](string(NameRegistryStats), source.RegistryStats, opts.Metrics, logger),
		all:      NewAggregate[[]ProjectSummary](string(NameAllProjects), source.AllProjects, opts.Metrics, logger),
		economy:  NewAggregate[TokenEconomics](string(NameTokenEconomics), source.TokenEconomics, opts.Metrics, logger),
		projects: projects,
		sessions: sessions,
	}, nil
}

// Session returns the session with id, creating it when needed.
func (r *Reconciler) Session(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	if s, ok := r.sessions.Get(id); ok {
		return s, nil
	}
	s := &Session{
		ID:       id,
		projects: NewAggregate[[]ProjectSummary](string(NameUserProjects), r.source.UserProjects, r.opts.Metrics, r.logger),
		balance:  NewAggregate[CreditSummary](string(NameCreditBalance), r.source.CreditBalance, r.opts.Metrics, r.logger),
		listings: NewAggregate[[]ListingSummary](string(NameListings), r.source.Listings, r.opts.Metrics, r.logger),
	}
	r.sessions.Add(id, s)
	return s, nil
}

// Project returns the aggregate for the project at addr.
func (r *Reconciler) Project(addr ledger.PublicKey) (*Aggregate[ProjectSummary], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	if a, ok := r.projects.Get(addr); ok {
		return a, nil
	}
	a := NewAggregate[ProjectSummary](string(NameProject), r.source.Project(addr), r.opts.Metrics, r.logger)
	r.projects.Add(addr, a)
	return a, nil
}

// Request locates an aggregate for a UI client.
type Request struct {
	Name     Name
	Session  string
	Identity ledger.PublicKey
	Project  ledger.PublicKey
}

// Resolve returns the view for req. Wallet-scoped views are switched to
// req.Identity first.
func (r *Reconciler) Resolve(ctx context.Context, req Request) (View, error) {
	switch req.Name {
	case NameRegistryStats:
		return Erase(r.stats), nil
	case NameAllProjects:
		return Erase(r.all), nil
	case NameTokenEconomics:
		return Erase(r.economy), nil
	case NameProject:
		if req.Project.IsZero() {
			return nil, fmt.Errorf("view %s requires a project address", req.Name)
		}
		a, err := r.Project(req.Project)
		if err != nil {
			return nil, err
		}
		return Erase(a), nil
	case NameUserProjects, NameCreditBalance, NameListings:
		if req.Session == "" {
			return nil, fmt.Errorf("view %s requires a session", req.Name)
		}
		s, err := r.Session(req.Session)
		if err != nil {
			return nil, err
		}
		if err := s.SetIdentity(ctx, req.Identity); err != nil {
			r.logger.Debug("Identity switch fetch failed",
				zap.String("session", req.Session),
				zap.Error(err))
		}
		v, _ := s.view(req.Name)
		return v, nil
	}
	return nil, fmt.Errorf("unknown view %q", req.Name)
}

// HandleEvent marks the aggregates a confirmed write may have changed as
// stale. Registry-wide aggregates are invalidated on every event.
func (r *Reconciler) HandleEvent(event notifications.Event) {
	r.stats.Invalidate()
	r.all.Invalidate()
	r.economy.Invalidate()

	touched := make(map[string]bool, len(event.Accounts)+1)
	for _, a := range event.Accounts {
		touched[a] = true
	}
	if event.Actor != "" {
		touched[event.Actor] = true
	}
	for _, addr := range r.projects.Keys() {
		if !touched[addr.String()] {
			continue
		}
		if a, ok := r.projects.Peek(addr); ok {
			a.Invalidate()
		}
	}
	for _, id := range r.sessions.Keys() {
		s, ok := r.sessions.Peek(id)
		if !ok {
			continue
		}
		if identity := s.Identity(); !identity.IsZero() && touched[identity.String()] {
			s.invalidate()
		}
	}
}

// Close tears down every aggregate.
func (r *Reconciler) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	r.stats.Close()
	r.all.Close()
	r.economy.Close()
	r.projects.Purge()
	r.sessions.Purge()
}
