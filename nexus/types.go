package nexus

import "time"

// Analysis statuses reported by the engine.
const (
	StatusProcessing = "processing"
	StatusComplete   = "complete"
	StatusFailed     = "failed"
)

// Nexus statuses on a per-state result.
const (
	NexusStatusHas         = "has_nexus"
	NexusStatusApproaching = "approaching"
	NexusStatusNone        = "no_nexus"
)

// Nexus types on a per-state result.
const (
	NexusTypePhysical = "physical"
	NexusTypeEconomic = "economic"
	NexusTypeBoth     = "both"
	NexusTypeNone     = "none"
)

// Physical-presence categories tracked on a client profile. A state lives in
// at most one category at a time.
const (
	PresenceRemoteEmployee = "remote_employee"
	PresenceInventory3PL   = "inventory_3pl"
	PresenceOffice         = "office"
)

// Analysis is an uploaded dataset plus its computed results.
type Analysis struct {
	ID        string     `json:"id"`
	ClientID  string     `json:"client_id,omitempty"`
	Name      string     `json:"name"`
	Status    string     `json:"status"`
	FileName  string     `json:"file_name,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`

	RegisteredStates []string `json:"registered_states,omitempty"`
}

// StateResult is the per-state aggregate produced by an engine calculation
// pass. The frontend never mutates it directly; it changes only through
// recalculation.
type StateResult struct {
	StateCode          string  `json:"state_code"`
	StateName          string  `json:"state_name"`
	NexusStatus        string  `json:"nexus_status"`
	NexusType          string  `json:"nexus_type"`
	TotalSales         float64 `json:"total_sales"`
	TaxableSales       float64 `json:"taxable_sales"`
	ExemptSales        float64 `json:"exempt_sales"`
	TransactionCount   int     `json:"transaction_count"`
	BaseTax            float64 `json:"base_tax"`
	Interest           float64 `json:"interest"`
	Penalties          float64 `json:"penalties"`
	EstimatedLiability float64 `json:"estimated_liability"`
	Threshold          float64 `json:"threshold"`
	ThresholdPercent   float64 `json:"threshold_percent"`
}

// Transaction is an individual sale row.
type Transaction struct {
	ID              string  `json:"id"`
	Date            string  `json:"date"`
	StateCode       string  `json:"state_code"`
	Channel         string  `json:"channel,omitempty"`
	SalesAmount     float64 `json:"sales_amount"`
	ExemptAmount    float64 `json:"exempt_amount"`
	TaxableAmount   float64 `json:"taxable_amount"`
	ExemptionReason string  `json:"exemption_reason,omitempty"`
	RunningTotal    float64 `json:"running_total,omitempty"`
}

// PhysicalNexusRecord is a per-state record of physical presence.
type PhysicalNexusRecord struct {
	StateCode       string `json:"state_code"`
	NexusType       string `json:"nexus_type"`
	DateEstablished string `json:"date_established"`
	RegistrationID  string `json:"registration_id,omitempty"`
	Notes           string `json:"notes,omitempty"`
}

// ClientProfile is the client-level record. Registered states live here when
// an analysis is linked to a client; the categorized state lists mirror
// physical-nexus configuration.
type ClientProfile struct {
	ID                   string   `json:"id"`
	Name                 string   `json:"name"`
	RegisteredStates     []string `json:"registered_states"`
	RemoteEmployeeStates []string `json:"remote_employee_states"`
	Inventory3PLStates   []string `json:"inventory_3pl_states"`
	OfficeStates         []string `json:"office_states"`
}

// LiabilityTotals is a snapshot of aggregate liability across states,
// embedded in activity notes.
type LiabilityTotals struct {
	BaseTax   float64 `json:"base_tax"`
	Interest  float64 `json:"interest"`
	Penalties float64 `json:"penalties"`
	Total     float64 `json:"total"`
}

// VDAComparison models standard-registration exposure against VDA terms.
type VDAComparison struct {
	StateCode         string  `json:"state_code"`
	StandardLiability float64 `json:"standard_liability"`
	VDALiability      float64 `json:"vda_liability"`
	Savings           float64 `json:"savings"`
	LookbackYears     int     `json:"lookback_years"`
}

// ExemptionChange is one entry in a save-and-recalculate batch.
type ExemptionChange struct {
	TransactionID   string  `json:"transaction_id"`
	Action          string  `json:"action"` // created | updated | removed
	ExemptAmount    float64 `json:"exempt_amount"`
	ExemptionReason string  `json:"exemption_reason,omitempty"`
	ReasonDetail    string  `json:"reason_detail,omitempty"`
}

// Response envelopes.

type stateResultsResponse struct {
	States []StateResult `json:"states"`
}

type transactionsResponse struct {
	Transactions []Transaction `json:"transactions"`
	Total        int           `json:"total"`
}

type physicalNexusResponse struct {
	Records []PhysicalNexusRecord `json:"records"`
}

type vdaComparisonResponse struct {
	States []VDAComparison `json:"states"`
}

// SaveExemptionsResult reports the outcome of an exemption batch.
type SaveExemptionsResult struct {
	SavedCount          int    `json:"saved_count"`
	RecalculationStatus string `json:"recalculation_status"`
}

// RecalculateResult reports a synchronous recalculation. The endpoint blocks
// until liability figures are updated.
type RecalculateResult struct {
	Status     string    `json:"status"`
	FinishedAt time.Time `json:"finished_at"`
}
