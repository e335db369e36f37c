// Package domain defines the core business entities for the FinSight Brain.
// These models are independent of external services and represent the
// canonical data structures used throughout the query pipeline.
package domain

import "time"

// ============================================================
// Query / Intent
// ============================================================

// QueryRequest is the inbound payload for POST /v1/query.
type QueryRequest struct {
	Query               string  `json:"query"`
	CIF                 string  `json:"cif"`
	IncludeGlobal       bool    `json:"include_global"`
	TopK                int     `json:"top_k"`
	SimilarityThreshold float64 `json:"similarity_threshold"`
	UseGuardrails       bool    `json:"use_guardrails"`
}

// Intent is the classified purpose of a query. It is derived from the raw
// text by a pure classification function and never persisted.
type Intent string

const (
	IntentTransactionLookup Intent = "transaction_lookup"
	IntentProfileLookup     Intent = "profile_lookup"
	IntentContactLookup     Intent = "contact_lookup"
	IntentMultiDomain       Intent = "multi_domain"
	IntentAggregation       Intent = "aggregation"
	IntentDetailedListing   Intent = "detailed_listing"
	IntentComparison        Intent = "comparison"
)

// DateRange bounds a lookup to [Start, End] inclusive.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// AmountRange bounds a lookup by absolute amount. Nil means unbounded.
type AmountRange struct {
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`
}

// ParsedQuery carries the raw query plus every constraint the classifier
// extracted from it. Agents read it; nobody mutates it after parsing.
type ParsedQuery struct {
	RawText string
	CIF     string
	Intent  Intent

	DateRange       *DateRange
	Merchants       []string
	Categories      []string
	TransactionType string
	AmountRange     *AmountRange
	ContactType     string
	BankName        string
	MinFrequency    int
	Limit           int
}

// ============================================================
// Domain records (per agent data domain)
// ============================================================

// Transaction is a single raw transaction record scoped to a CIF.
type Transaction struct {
	ID              string    `json:"id"`
	CIF             string    `json:"cif"`
	Date            time.Time `json:"transaction_date"`
	Description     string    `json:"description,omitempty"`
	MerchantName    string    `json:"merchant_name"`
	Amount          float64   `json:"amount"`
	Currency        string    `json:"currency"`
	Category        string    `json:"category,omitempty"`
	Type            string    `json:"transaction_type,omitempty"` // debit, credit, transfer
	Location        string    `json:"location,omitempty"`
	ReferenceNumber string    `json:"reference_number,omitempty"`
}

// CustomerProfile holds demographic and segmentation data for a CIF.
type CustomerProfile struct {
	CIF               string   `json:"cif"`
	CustomerName      string   `json:"customer_name"`
	CustomerType      string   `json:"customer_type,omitempty"`
	Status            string   `json:"status,omitempty"`
	Age               int      `json:"age,omitempty"`
	Gender            string   `json:"gender,omitempty"`
	Occupation        string   `json:"occupation,omitempty"`
	IncomeRange       string   `json:"income_range,omitempty"`
	RiskProfile       string   `json:"risk_profile,omitempty"`
	Segment           string   `json:"segment,omitempty"`
	PreferredChannels []string `json:"preferred_channels,omitempty"`
}

// ProfileStatistics enriches a complete-profile lookup with activity counts.
type ProfileStatistics struct {
	TotalTransactions int     `json:"total_transactions"`
	TotalContacts     int     `json:"total_contacts"`
	AvgMonthlySpend   float64 `json:"avg_monthly_spend"`
	Currency          string  `json:"currency,omitempty"`
}

// TransferContact is a saved transfer beneficiary scoped to a CIF.
type TransferContact struct {
	ID               string     `json:"id"`
	CIF              string     `json:"cif"`
	ContactName      string     `json:"contact_name"`
	AccountNumber    string     `json:"account_number"`
	BankName         string     `json:"bank_name"`
	ContactType      string     `json:"contact_type,omitempty"` // personal, business
	Frequency        int        `json:"frequency"`
	LastTransferDate *time.Time `json:"last_transfer_date,omitempty"`
}

// ============================================================
// Agent results
// ============================================================

// ResultType identifies the shape of an agent payload.
type ResultType string

const (
	ResultTypeSearch      ResultType = "search"
	ResultTypeAggregation ResultType = "aggregation"
	ResultTypeBreakdown   ResultType = "breakdown"
	ResultTypeProfile     ResultType = "profile"
	ResultTypeContacts    ResultType = "contacts"
)

// TransactionAggregate summarizes transactions within a single currency.
// Aggregates are never combined across currencies.
type TransactionAggregate struct {
	Currency          string  `json:"currency"`
	TotalTransactions int     `json:"total_transactions"`
	TotalSpending     float64 `json:"total_spending"`
	TotalIncome       float64 `json:"total_income"`
	AvgAmount         float64 `json:"avg_transaction_amount"`
	MaxAmount         float64 `json:"max_transaction"`
	UniqueMerchants   int     `json:"unique_merchants"`
	UniqueCategories  int     `json:"unique_categories"`
}

// BreakdownItem is one group in a category or merchant breakdown.
type BreakdownItem struct {
	Group       string  `json:"group"`
	Currency    string  `json:"currency"`
	Count       int     `json:"transaction_count"`
	TotalAmount float64 `json:"total_amount"`
	AvgAmount   float64 `json:"avg_amount"`
}

// AgentPayload is the domain data a single agent returns for one query.
// Exactly one of the record slices/pointers is populated depending on
// the agent and the ResultType.
type AgentPayload struct {
	Type         ResultType             `json:"type"`
	Transactions []Transaction          `json:"transactions,omitempty"`
	Aggregates   []TransactionAggregate `json:"aggregates,omitempty"`
	Breakdown    []BreakdownItem        `json:"breakdown,omitempty"`
	Profile      *CustomerProfile       `json:"profile,omitempty"`
	Statistics   *ProfileStatistics     `json:"statistics,omitempty"`
	Contacts     []TransferContact      `json:"contacts,omitempty"`
}

// RecordCount returns the number of domain records in the payload.
func (p *AgentPayload) RecordCount() int {
	if p == nil {
		return 0
	}
	switch {
	case len(p.Transactions) > 0:
		return len(p.Transactions)
	case len(p.Breakdown) > 0:
		return len(p.Breakdown)
	case len(p.Aggregates) > 0:
		n := 0
		for _, a := range p.Aggregates {
			n += a.TotalTransactions
		}
		return n
	case len(p.Contacts) > 0:
		return len(p.Contacts)
	case p.Profile != nil:
		return 1
	}
	return 0
}

// AgentResult is the complete outcome of one agent for one query.
// Every dispatched agent yields exactly one AgentResult: a success,
// a deliberate skip (Handled=false, Error empty), or a failure
// (Handled=false, Error set).
type AgentResult struct {
	AgentName       string        `json:"agent_name"`
	Handled         bool          `json:"handled"`
	Payload         *AgentPayload `json:"payload,omitempty"`
	ResultType      ResultType    `json:"result_type,omitempty"`
	RecordCount     int           `json:"record_count"`
	ExecutionTimeMS int64         `json:"execution_time_ms"`
	Error           string        `json:"error,omitempty"`
}

// Failed reports whether the agent attempted the query and errored
// (a skip is not a failure).
func (r *AgentResult) Failed() bool {
	return !r.Handled && r.Error != ""
}

// HasRecords reports whether this result contributes data to synthesis.
func (r *AgentResult) HasRecords() bool {
	return r.Handled && r.RecordCount > 0
}

// ============================================================
// Synthesis
// ============================================================

// ResponseType selects the answer shape the synthesizer produced.
type ResponseType string

const (
	ResponseAggregation      ResponseType = "aggregation"
	ResponseDetailedListing  ResponseType = "detailed_listing"
	ResponseMerchantSpecific ResponseType = "merchant_specific"
	ResponseCategoryAnalysis ResponseType = "category_analysis"
	ResponseMultiSource      ResponseType = "multi_source"
	ResponseNoData           ResponseType = "no_data"
)

// CurrencyTotal is a per-currency monetary total. Totals for different
// currencies are reported side by side, never summed.
type CurrencyTotal struct {
	Currency string  `json:"currency"`
	Total    float64 `json:"total"`
	Count    int     `json:"count"`
}

// SynthesizedContext is the merged, LLM-ready digest of all agent results.
// It is deterministic for a given result set regardless of the order in
// which agents completed.
type SynthesizedContext struct {
	MergedText   string          `json:"merged_text"`
	ResponseType ResponseType    `json:"response_type"`
	Transactions []Transaction   `json:"transactions,omitempty"`
	Totals       []CurrencyTotal `json:"totals,omitempty"`
	DataSources  []string        `json:"data_sources"`
	NoData       bool            `json:"no_data"`
}

// ============================================================
// Response envelope
// ============================================================

// Citation points at a data source that contributed to the answer.
type Citation struct {
	Source      string `json:"source"`
	Title       string `json:"title"`
	TextSnippet string `json:"text_snippet"`
}

// AgentActivity is the per-agent telemetry exposed to the caller.
// One entry per dispatched agent, in registration order.
type AgentActivity struct {
	AgentName       string     `json:"agent_name"`
	Handled         bool       `json:"handled"`
	ExecutionTimeMS int64      `json:"execution_time_ms"`
	ResultType      ResultType `json:"result_type,omitempty"`
	RecordCount     *int       `json:"record_count,omitempty"`
	Error           string     `json:"error,omitempty"`
}

// GuardrailStatus reports the outcome of guardrail filtering.
type GuardrailStatus struct {
	Action     string   `json:"action"` // allow, block, transform, warn, flag
	Severity   string   `json:"severity,omitempty"`
	Violations []string `json:"violations,omitempty"`
	Failed     bool     `json:"failed,omitempty"` // the filter itself errored; text passed through
}

// ResponseEnvelope is the terminal artifact returned to the caller.
type ResponseEnvelope struct {
	Query           string           `json:"query"`
	CIF             string           `json:"cif"`
	Answer          string           `json:"answer"`
	Citations       []Citation       `json:"citations"`
	Transactions    []Transaction    `json:"transactions,omitempty"`
	LatencyMS       int64            `json:"latency_ms"`
	ModelUsed       string           `json:"model_used"`
	GuardrailStatus *GuardrailStatus `json:"guardrail_status,omitempty"`
	AgentActivity   []AgentActivity  `json:"agent_activity"`
	ResponseType    ResponseType     `json:"response_type"`
	DataSources     []string         `json:"data_sources"`
}

// ============================================================
// Guardrails / History
// ============================================================

// GuardrailRule is a content-filtering rule loaded from the store.
type GuardrailRule struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	RuleType string `json:"rule_type"` // regex, keyword
	Pattern  string `json:"pattern"`
	Action   string `json:"action"`   // block, transform, warn, flag
	Severity string `json:"severity"` // critical, high, medium, low
	Message  string `json:"message,omitempty"`
	Replace  string `json:"replacement,omitempty"`
	IsActive bool   `json:"is_active"`
	Priority int    `json:"priority"`
}

// HistoryEntry is one audited query/answer pair.
type HistoryEntry struct {
	ID             string    `json:"id"`
	CIF            string    `json:"cif"`
	Query          string    `json:"query"`
	Response       string    `json:"response"`
	ModelUsed      string    `json:"model_used"`
	LatencyMS      int64     `json:"latency_ms"`
	RetrievedCount int       `json:"retrieved_count"`
	TokensUsed     int       `json:"tokens_used"`
	CreatedAt      time.Time `json:"created_at"`
}

// APIKey is a stored inbound API credential. Only the bcrypt hash is kept.
type APIKey struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	KeyHash   string     `json:"key_hash"`
	IsActive  bool       `json:"is_active"`
	LastUsed  *time.Time `json:"last_used_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// ============================================================
// LLM
// ============================================================

// TokenUsage tracks LLM token consumption for cost monitoring.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// GenerationResult is the LLM's answer plus metadata.
type GenerationResult struct {
	Answer     string     `json:"answer"`
	Model      string     `json:"model"`
	TokensUsed TokenUsage `json:"tokens_used"`
	LatencyMS  int64      `json:"latency_ms"`
}

// ============================================================
// Health & pipeline metrics API responses
// ============================================================

// HealthStatus is returned by GET /healthz.
type HealthStatus struct {
	Status   string          `json:"status"` // healthy, degraded, unhealthy
	Services []ServiceHealth `json:"services"`
}

// ServiceHealth represents the health of an individual dependency.
type ServiceHealth struct {
	Name        string `json:"name"`
	Status      string `json:"status"`
	LatencyMs   int64  `json:"latencyMs"`
	LastChecked string `json:"lastChecked"`
}

// PipelineMetrics is returned by GET /v1/metrics/pipeline.
type PipelineMetrics struct {
	TotalQueries        int64   `json:"totalQueries"`
	ErrorRate           float64 `json:"errorRate"`
	FallbackRate        float64 `json:"fallbackRate"`
	AvgTokensPerQuery   float64 `json:"avgTokensPerQuery"`
	GuardrailBlockCount int64   `json:"guardrailBlockCount"`
	CacheHitRate        float64 `json:"cacheHitRate"`
	Period              string  `json:"period"`
}
