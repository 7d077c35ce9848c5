package address

import (
	"fmt"
	"strings"

	"blue-carbon/registry-portal/registry-portal-backend/internal/failure"
	"blue-carbon/registry-portal/registry-portal-backend/internal/ledger"
)

// Scheme selects how project accounts are namespaced in a deployment.
type Scheme string

const (
	// SchemeOwnerScoped keys projects by [tag, owner, id].
	SchemeOwnerScoped Scheme = "owner"
	// SchemeGlobalScoped keys projects by [tag, id].
	SchemeGlobalScoped Scheme = "global"
)

// ParseScheme accepts "owner" or "global"; empty selects owner scoping.
func ParseScheme(s string) (Scheme, error) {
	switch Scheme(strings.ToLower(strings.TrimSpace(s))) {
	case "", SchemeOwnerScoped:
		return SchemeOwnerScoped, nil
	case SchemeGlobalScoped:
		return SchemeGlobalScoped, nil
	default:
		return "", fmt.Errorf("unknown project addressing scheme %q", s)
	}
}

const (
	tagRegistry      = "registry"
	tagCreditMint    = "carbon_token_mint"
	tagProject       = "project"
	tagVerifier      = "verifier"
	tagVerification  = "verification"
	tagMonitoring    = "monitoring"
	tagListing       = "listing"
	tagCreditAccount = "credit_account"
	tagRetirement    = "retirement"
)

// Deriver derives every entity address for one deployment.
type Deriver struct {
	Program ledger.PublicKey
	Scheme  Scheme
	// Salt is appended to the singleton tags so redeployments get fresh
	// registry and mint accounts.
	Salt string
}

func NewDeriver(program ledger.PublicKey, scheme Scheme, salt string) *Deriver {
	if scheme == "" {
		scheme = SchemeOwnerScoped
	}
	return &Deriver{Program: program, Scheme: scheme, Salt: salt}
}

func (d *Deriver) salted(tag string) []byte {
	if d.Salt == "" {
		return []byte(tag)
	}
	return []byte(tag + "_" + d.Salt)
}

func (d *Deriver) Registry() (Derived, error) {
	return Derive(d.Program, d.salted(tagRegistry))
}

func (d *Deriver) CreditMint() (Derived, error) {
	return Derive(d.Program, d.salted(tagCreditMint))
}

// Project dispatches on the configured scheme. owner is ignored for
// global-scoped deployments.
func (d *Deriver) Project(owner ledger.PublicKey, projectID string) (Derived, error) {
	if d.Scheme == SchemeGlobalScoped {
		return d.ProjectGlobalScoped(projectID)
	}
	return d.ProjectOwnerScoped(owner, projectID)
}

func (d *Deriver) ProjectOwnerScoped(owner ledger.PublicKey, projectID string) (Derived, error) {
	id, err := identifier(projectID)
	if err != nil {
		return Derived{}, err
	}
	if owner.IsZero() {
		return Derived{}, failure.InvalidNamespace("owner identity is required for owner-scoped projects")
	}
	return Derive(d.Program, []byte(tagProject), owner.Bytes(), id)
}

func (d *Deriver) ProjectGlobalScoped(projectID string) (Derived, error) {
	id, err := identifier(projectID)
	if err != nil {
		return Derived{}, err
	}
	return Derive(d.Program, []byte(tagProject), id)
}

func (d *Deriver) Verifier(identity ledger.PublicKey) (Derived, error) {
	return Derive(d.Program, []byte(tagVerifier), identity.Bytes())
}

func (d *Deriver) Verification(project, validator ledger.PublicKey) (Derived, error) {
	return Derive(d.Program, []byte(tagVerification), project.Bytes(), validator.Bytes())
}

func (d *Deriver) Monitoring(project ledger.PublicKey, timestamp int64) (Derived, error) {
	ts, err := TimestampSeed(timestamp)
	if err != nil {
		return Derived{}, err
	}
	return Derive(d.Program, []byte(tagMonitoring), project.Bytes(), ts)
}

func (d *Deriver) Listing(project, seller ledger.PublicKey) (Derived, error) {
	return Derive(d.Program, []byte(tagListing), project.Bytes(), seller.Bytes())
}

func (d *Deriver) CreditAccount(holder ledger.PublicKey) (Derived, error) {
	mint, err := d.CreditMint()
	if err != nil {
		return Derived{}, err
	}
	return Derive(d.Program, []byte(tagCreditAccount), mint.Address.Bytes(), holder.Bytes())
}

func (d *Deriver) RetirementSink(holder ledger.PublicKey) (Derived, error) {
	return Derive(d.Program, []byte(tagRetirement), holder.Bytes())
}

func identifier(s string) ([]byte, error) {
	if s == "" {
		return nil, failure.InvalidNamespace("identifier must not be empty")
	}
	if len(s) > MaxSeedLength {
		return nil, failure.InvalidNamespace("identifier %q is %d bytes, max %d", s, len(s), MaxSeedLength)
	}
	return []byte(s), nil
}
