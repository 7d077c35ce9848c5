package views

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"blue-carbon/registry-portal/registry-portal-backend/internal/failure"
	"blue-carbon/registry-portal/registry-portal-backend/internal/ledger"
	"blue-carbon/registry-portal/registry-portal-backend/internal/ledger/address"
	"blue-carbon/registry-portal/registry-portal-backend/internal/lifecycle"
)

// RegistryStats summarizes the global registry.
type RegistryStats struct {
	Initialized         bool                           `json:"initialized"`
	Address             ledger.PublicKey               `json:"address"`
	Admin               ledger.PublicKey               `json:"admin,omitempty"`
	TotalProjects       uint64                         `json:"totalProjects"`
	TotalVerifiers      uint64                         `json:"totalVerifiers"`
	TotalCreditsIssued  uint64                         `json:"totalCreditsIssued"`
	TotalCreditsRetired uint64                         `json:"totalCreditsRetired"`
	Decimals            uint8                          `json:"decimals"`
	ProjectsByState     map[lifecycle.ProjectState]int `json:"projectsByState"`
	TotalAreaHectares   float64                        `json:"totalAreaHectares"`
}

// ProjectSummary is a project with the numbers derived from it.
type ProjectSummary struct {
	Address   ledger.PublicKey       `json:"address"`
	State     lifecycle.ProjectState `json:"state"`
	Project   ledger.Project         `json:"project"`
	Capacity  uint64                 `json:"capacity"`
	Mintable  uint64                 `json:"mintable"`
	Available uint64                 `json:"available"`
}

// CreditSummary is a holder's circulating and retired balance.
type CreditSummary struct {
	Holder  ledger.PublicKey `json:"holder"`
	Balance uint64           `json:"balance"`
	Retired uint64           `json:"retired"`
}

// TokenEconomics describes credit supply.
type TokenEconomics struct {
	Mint        ledger.PublicKey `json:"mint"`
	Supply      uint64           `json:"supply"`
	Retired     uint64           `json:"retired"`
	Circulating uint64           `json:"circulating"`
	Decimals    uint8            `json:"decimals"`
}

// ListingSummary is a listing with its address.
type ListingSummary struct {
	Address ledger.PublicKey `json:"address"`
	Listing ledger.Listing   `json:"listing"`
	Sold    uint64           `json:"sold"`
}

// saturatingSub returns a-b, or zero when b exceeds a.
func saturatingSub(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}

// Source reads aggregates from the ledger. Missing accounts read as zero
// values rather than errors.
type Source struct {
	client  ledger.Client
	deriver *address.Deriver
}

func NewSource(client ledger.Client, deriver *address.Deriver) *Source {
	return &Source{client: client, deriver: deriver}
}

// load decodes the account at addr into out. It reports false when the
// account does not exist.
func (s *Source) load(ctx context.Context, addr ledger.PublicKey, out interface{}) (bool, error) {
	acc, err := s.client.GetAccount(ctx, addr)
	if err != nil {
		if failure.IsAccountMissing(err) {
			return false, nil
		}
		return false, err
	}
	if err := acc.Decode(out); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Source) registry(ctx context.Context) (ledger.PublicKey, *ledger.GlobalRegistry, bool, error) {
	d, err := s.deriver.Registry()
	if err != nil {
		return ledger.PublicKey{}, nil, false, err
	}
	var reg ledger.GlobalRegistry
	ok, err := s.load(ctx, d.Address, &reg)
	return d.Address, &reg, ok, err
}

func (s *Source) decimals(ctx context.Context) (uint8, error) {
	_, reg, _, err := s.registry(ctx)
	if err != nil {
		return 0, err
	}
	return reg.Decimals, nil
}

func summarize(addr ledger.PublicKey, p ledger.Project, decimals uint8) ProjectSummary {
	capacity := p.Capacity(decimals)
	return ProjectSummary{
		Address:   addr,
		State:     lifecycle.StateOf(&p),
		Project:   p,
		Capacity:  capacity,
		Mintable:  saturatingSub(capacity, p.CreditsIssued),
		Available: p.AvailableQuantity,
	}
}

// RegistryStats reads the registry and tallies projects by state.
func (s *Source) RegistryStats(ctx context.Context, _ ledger.PublicKey) (RegistryStats, error) {
	var (
		stats    RegistryStats
		reg      *ledger.GlobalRegistry
		found    bool
		projects []ProjectSummary
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		stats.Address, reg, found, err = s.registry(gctx)
		if err != nil {
			return fmt.Errorf("registry: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		projects, err = s.listProjects(gctx, ledger.PublicKey{}, 0)
		if err != nil {
			return fmt.Errorf("projects: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return RegistryStats{}, err
	}

	stats.Initialized = found
	stats.Admin = reg.Admin
	stats.TotalProjects = reg.TotalProjects
	stats.TotalVerifiers = reg.TotalVerifiers
	stats.TotalCreditsIssued = reg.TotalCreditsIssued
	stats.TotalCreditsRetired = reg.TotalCreditsRetired
	stats.Decimals = reg.Decimals
	stats.ProjectsByState = make(map[lifecycle.ProjectState]int)
	for _, p := range projects {
		stats.ProjectsByState[p.State]++
		stats.TotalAreaHectares += p.Project.Ecosystem.AreaHectares
	}
	return stats, nil
}

// Project returns a fetcher for one project. A missing project is reported
// as AccountMissingOrUninitialized.
func (s *Source) Project(addr ledger.PublicKey) Fetcher[ProjectSummary] {
	return func(ctx context.Context, _ ledger.PublicKey) (ProjectSummary, error) {
		acc, err := s.client.GetAccount(ctx, addr)
		if err != nil {
			return ProjectSummary{}, err
		}
		p, err := ledger.DecodeAs[ledger.Project](acc)
		if err != nil {
			return ProjectSummary{}, err
		}
		decimals, err := s.decimals(ctx)
		if err != nil {
			return ProjectSummary{}, err
		}
		return summarize(addr, *p, decimals), nil
	}
}

// UserProjects lists the projects owned by identity.
func (s *Source) UserProjects(ctx context.Context, identity ledger.PublicKey) ([]ProjectSummary, error) {
	if identity.IsZero() {
		return []ProjectSummary{}, nil
	}
	decimals, err := s.decimals(ctx)
	if err != nil {
		return nil, err
	}
	return s.listProjects(ctx, identity, decimals)
}

// AllProjects lists every registered project.
func (s *Source) AllProjects(ctx context.Context, _ ledger.PublicKey) ([]ProjectSummary, error) {
	decimals, err := s.decimals(ctx)
	if err != nil {
		return nil, err
	}
	return s.listProjects(ctx, ledger.PublicKey{}, decimals)
}

func (s *Source) listProjects(ctx context.Context, owner ledger.PublicKey, decimals uint8) ([]ProjectSummary, error) {
	accounts, err := s.client.ListAccounts(ctx, ledger.AccountFilter{Kind: ledger.KindProject, Authority: owner})
	if err != nil {
		return nil, err
	}
	out := make([]ProjectSummary, 0, len(accounts))
	for _, acc := range accounts {
		var p ledger.Project
		if err := acc.Decode(&p); err != nil {
			return nil, fmt.Errorf("decode project %s: %w", acc.Address, err)
		}
		out = append(out, summarize(acc.Address, p, decimals))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Project.RegisteredAt != out[j].Project.RegisteredAt {
			return out[i].Project.RegisteredAt < out[j].Project.RegisteredAt
		}
		return out[i].Project.ProjectID < out[j].Project.ProjectID
	})
	return out, nil
}

// CreditBalance reads a holder's balance and retirement sink.
func (s *Source) CreditBalance(ctx context.Context, identity ledger.PublicKey) (CreditSummary, error) {
	summary := CreditSummary{Holder: identity}
	if identity.IsZero() {
		return summary, nil
	}
	acct, err := s.deriver.CreditAccount(identity)
	if err != nil {
		return summary, err
	}
	sink, err := s.deriver.RetirementSink(identity)
	if err != nil {
		return summary, err
	}
	var balance, retired ledger.CreditAccount
	if _, err := s.load(ctx, acct.Address, &balance); err != nil {
		return summary, err
	}
	if _, err := s.load(ctx, sink.Address, &retired); err != nil {
		return summary, err
	}
	summary.Balance = balance.Balance
	summary.Retired = retired.Balance
	return summary, nil
}

// TokenEconomics reads the credit mint.
func (s *Source) TokenEconomics(ctx context.Context, _ ledger.PublicKey) (TokenEconomics, error) {
	d, err := s.deriver.CreditMint()
	if err != nil {
		return TokenEconomics{}, err
	}
	var mint ledger.CreditMint
	if _, err := s.load(ctx, d.Address, &mint); err != nil {
		return TokenEconomics{}, err
	}
	return TokenEconomics{
		Mint:        d.Address,
		Supply:      mint.Supply,
		Retired:     mint.Retired,
		Circulating: saturatingSub(mint.Supply, mint.Retired),
		Decimals:    mint.Decimals,
	}, nil
}

// Listings lists the listings created by identity, newest first.
func (s *Source) Listings(ctx context.Context, identity ledger.PublicKey) ([]ListingSummary, error) {
	if identity.IsZero() {
		return []ListingSummary{}, nil
	}
	accounts, err := s.client.ListAccounts(ctx, ledger.AccountFilter{Kind: ledger.KindListing, Authority: identity})
	if err != nil {
		return nil, err
	}
	out := make([]ListingSummary, 0, len(accounts))
	for _, acc := range accounts {
		var l ledger.Listing
		if err := acc.Decode(&l); err != nil {
			return nil, fmt.Errorf("decode listing %s: %w", acc.Address, err)
		}
		out = append(out, ListingSummary{
			Address: acc.Address,
			Listing: l,
			Sold:    saturatingSub(l.Quantity, l.Remaining),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Listing.CreatedAt > out[j].Listing.CreatedAt
	})
	return out, nil
}
