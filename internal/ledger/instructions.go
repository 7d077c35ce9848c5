package ledger

// InitializeRegistryArgs creates the registry and its credit mint.
type InitializeRegistryArgs struct {
	Decimals uint8 `json:"decimals"`
}

// RegisterProjectArgs creates a project in the Pending state.
type RegisterProjectArgs struct {
	ProjectID     string    `json:"project_id"`
	ContentID     string    `json:"content_id"`
	EstimatedTons uint64    `json:"estimated_tons"`
	Ecosystem     Ecosystem `json:"ecosystem"`
}

// RegisterVerifierArgs registers a validator identity.
type RegisterVerifierArgs struct {
	VerifierType string `json:"verifier_type"`
	Credentials  string `json:"credentials"`
}

// VerifyProjectArgs records one validator's verdict.
type VerifyProjectArgs struct {
	ProjectID     string `json:"project_id"`
	Approve       bool   `json:"approve"`
	ReportCID     string `json:"report_cid"`
	VerifiedTons  uint64 `json:"verified_tons"`
	Confidence    uint8  `json:"confidence"`
	QualityRating uint8  `json:"quality_rating"`
}

// AmountArgs carries a credit amount in base units.
type AmountArgs struct {
	Amount uint64 `json:"amount"`
}

// CreateListingArgs offers credits of a project for sale.
type CreateListingArgs struct {
	ProjectID    string `json:"project_id"`
	Quantity     uint64 `json:"quantity"`
	PricePerUnit uint64 `json:"price_per_unit"`
	Vintage      int    `json:"vintage"`
}

// PurchaseListingArgs buys part or all of a listing.
type PurchaseListingArgs struct {
	Quantity uint64 `json:"quantity"`
}

// SubmitMonitoringArgs appends a monitoring sample.
type SubmitMonitoringArgs struct {
	ProjectID string         `json:"project_id"`
	Timestamp int64          `json:"timestamp"`
	Data      MonitoringData `json:"data"`
}
