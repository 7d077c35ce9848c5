package ledger

import (
	"encoding/json"
	"fmt"
)

// AccountKind tags the entity stored in an account's data.
type AccountKind string

const (
	KindGlobalRegistry   AccountKind = "global_registry"
	KindCreditMint       AccountKind = "credit_mint"
	KindProject          AccountKind = "project"
	KindVerifier         AccountKind = "verifier"
	KindVerification     AccountKind = "verification"
	KindCreditAccount    AccountKind = "credit_account"
	KindRetirementSink   AccountKind = "retirement_sink"
	KindListing          AccountKind = "listing"
	KindMonitoringRecord AccountKind = "monitoring_record"
)

// Account is a raw ledger account as returned by the remote ledger.
type Account struct {
	Address   PublicKey       `json:"address"`
	Program   PublicKey       `json:"program"`
	Kind      AccountKind     `json:"kind"`
	Authority PublicKey       `json:"authority"`
	Data      json.RawMessage `json:"data"`
	Slot      uint64          `json:"slot"`
}

// Decode unmarshals the account data into out. Absent fields stay zero.
func (a *Account) Decode(out interface{}) error {
	if a == nil {
		return fmt.Errorf("decode: nil account")
	}
	if len(a.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(a.Data, out); err != nil {
		return fmt.Errorf("decode %s account %s: %w", a.Kind, a.Address, err)
	}
	return nil
}

// DecodeAs decodes the account data into a fresh T.
func DecodeAs[T any](a *Account) (*T, error) {
	var out T
	if err := a.Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GlobalRegistry is the deployment-wide singleton.
type GlobalRegistry struct {
	Admin               PublicKey `json:"admin"`
	CreditMint          PublicKey `json:"credit_mint"`
	TotalProjects       uint64    `json:"total_projects"`
	TotalVerifiers      uint64    `json:"total_verifiers"`
	TotalCreditsIssued  uint64    `json:"total_credits_issued"`
	TotalCreditsRetired uint64    `json:"total_credits_retired"`
	Decimals            uint8     `json:"decimals"`
	Bump                uint8     `json:"bump"`
	CreatedAt           int64     `json:"created_at"`
}

// CreditMint tracks fungible credit supply.
type CreditMint struct {
	Authority PublicKey `json:"authority"`
	Supply    uint64    `json:"supply"`
	Retired   uint64    `json:"retired"`
	Decimals  uint8     `json:"decimals"`
	Bump      uint8     `json:"bump"`
}

// Circulating returns supply excluding retired credits.
func (m *CreditMint) Circulating() uint64 {
	if m.Retired > m.Supply {
		return 0
	}
	return m.Supply - m.Retired
}

// ProjectStatus is the verification state of a project.
type ProjectStatus string

const (
	ProjectPending     ProjectStatus = "PENDING"
	ProjectUnderReview ProjectStatus = "UNDER_REVIEW"
	ProjectVerified    ProjectStatus = "VERIFIED"
	ProjectRejected    ProjectStatus = "REJECTED"
)

// Ecosystem is the descriptive payload attached to a project. The registry
// program stores it without interpreting it.
type Ecosystem struct {
	Type              string  `json:"type,omitempty"`
	AreaHectares      float64 `json:"area_hectares,omitempty"`
	Location          string  `json:"location,omitempty"`
	Latitude          float64 `json:"latitude,omitempty"`
	Longitude         float64 `json:"longitude,omitempty"`
	BiodiversityIndex float64 `json:"biodiversity_index,omitempty"`
	BiomassTonnes     float64 `json:"biomass_tonnes,omitempty"`
}

// Project is a registered blue carbon project.
type Project struct {
	ProjectID         string        `json:"project_id"`
	Owner             PublicKey     `json:"owner"`
	ContentID         string        `json:"content_id"`
	EstimatedTons     uint64        `json:"estimated_tons"`
	VerifiedTons      uint64        `json:"verified_tons"`
	Status            ProjectStatus `json:"status"`
	Approvals         uint32        `json:"approvals"`
	Rejections        uint32        `json:"rejections"`
	CreditsIssued     uint64        `json:"credits_issued"`
	AvailableQuantity uint64        `json:"available_quantity"`
	QualityRating     uint8         `json:"quality_rating"`
	Ecosystem         Ecosystem     `json:"ecosystem"`
	RegisteredAt      int64         `json:"registered_at"`
	VerifiedAt        int64         `json:"verified_at,omitempty"`
	Bump              uint8         `json:"bump"`
}

func (p *Project) IsVerified() bool {
	return p.Status == ProjectVerified
}

// Capacity is the number of base units that may ever be minted for the
// project.
func (p *Project) Capacity(decimals uint8) uint64 {
	return p.VerifiedTons * Pow10(decimals)
}

// Verifier is a validator registered by the registry admin.
type Verifier struct {
	Identity      PublicKey `json:"identity"`
	VerifierType  string    `json:"verifier_type"`
	Credentials   string    `json:"credentials"`
	Active        bool      `json:"active"`
	Verifications uint64    `json:"verifications"`
	RegisteredAt  int64     `json:"registered_at"`
}

// VerificationRecord is one validator's assessment of a project.
type VerificationRecord struct {
	ProjectID    string    `json:"project_id"`
	Project      PublicKey `json:"project"`
	Validator    PublicKey `json:"validator"`
	Approve      bool      `json:"approve"`
	ReportCID    string    `json:"report_cid"`
	VerifiedTons uint64    `json:"verified_tons"`
	Confidence   uint8     `json:"confidence"`
	Timestamp    int64     `json:"timestamp"`
}

// CreditAccount holds a balance of the credit mint. Retirement sinks use the
// same layout with Sink set; nothing can be moved out of a sink.
type CreditAccount struct {
	Mint    PublicKey `json:"mint"`
	Holder  PublicKey `json:"holder"`
	Balance uint64    `json:"balance"`
	Sink    bool      `json:"sink,omitempty"`
}

// ListingStatus is the state of a marketplace listing.
type ListingStatus string

const (
	ListingActive    ListingStatus = "active"
	ListingSold      ListingStatus = "sold"
	ListingCancelled ListingStatus = "cancelled"
)

// Listing offers escrowed credits of one project at a fixed unit price.
type Listing struct {
	ProjectID    string        `json:"project_id"`
	Project      PublicKey     `json:"project"`
	Seller       PublicKey     `json:"seller"`
	Quantity     uint64        `json:"quantity"`
	Remaining    uint64        `json:"remaining"`
	PricePerUnit uint64        `json:"price_per_unit"`
	Vintage      int           `json:"vintage"`
	Status       ListingStatus `json:"status"`
	CreatedAt    int64         `json:"created_at"`
}

// MonitoringData is one ecological measurement sample.
type MonitoringData struct {
	NDVI              float64 `json:"ndvi,omitempty"`
	WaterQuality      float64 `json:"water_quality,omitempty"`
	EcosystemHealth   float64 `json:"ecosystem_health,omitempty"`
	CarbonSequestered float64 `json:"carbon_sequestered,omitempty"`
	ImageryCID        string  `json:"imagery_cid,omitempty"`
	Notes             string  `json:"notes,omitempty"`
}

// MonitoringRecord is an append-only sample keyed by project and timestamp.
type MonitoringRecord struct {
	ProjectID string         `json:"project_id"`
	Project   PublicKey      `json:"project"`
	Submitter PublicKey      `json:"submitter"`
	Timestamp int64          `json:"timestamp"`
	Data      MonitoringData `json:"data"`
}

// Pow10 returns 10^d for token decimal scaling.
func Pow10(d uint8) uint64 {
	n := uint64(1)
	for i := uint8(0); i < d; i++ {
		n *= 10
	}
	return n
}
