package models

import "time"

// RawMessage is an email fetched from a mailbox, staged in the message store.
// It is immutable after staging; the row moves from the inbox table to the
// processed table exactly once, whatever the outcome.
type RawMessage struct {
	ID          int64     `json:"id,omitempty"` // message store row id
	MailboxID   string    `json:"mailbox_id"`
	MessageUID  uint32    `json:"message_uid"` // mailbox-stable identifier
	ReceivedAt  time.Time `json:"received_at"`
	Subject     string    `json:"subject"`
	FromAddress string    `json:"from_address"`
	HTMLBody    string    `json:"html_body,omitempty"`
	TextBody    string    `json:"text_body,omitempty"`
	SizeBytes   int64     `json:"size_bytes"`
}

// TransactionType classifies the economic event described by a confirmation email.
type TransactionType string

const (
	TransactionBuy           TransactionType = "buy"
	TransactionSell          TransactionType = "sell"
	TransactionDividend      TransactionType = "dividend"
	TransactionOptionExpired TransactionType = "option_expired"
)

// Valid reports whether t is a member of the known transaction type set.
func (t TransactionType) Valid() bool {
	switch t {
	case TransactionBuy, TransactionSell, TransactionDividend, TransactionOptionExpired:
		return true
	}
	return false
}

// ParsedTradeCandidate is the structured trade event extracted from one email
// by a brokerage grammar. It is derived, never persisted on its own; only its
// terminal outcome is recorded against the source message.
type ParsedTradeCandidate struct {
	SourceMessageID int64           `json:"source_message_id"`
	SymbolRaw       string          `json:"symbol_raw"`
	TransactionType TransactionType `json:"transaction_type"`
	Quantity        float64         `json:"quantity"`
	Price           float64         `json:"price"`
	TotalAmount     float64         `json:"total_amount"`
	Fees            float64         `json:"fees"`
	AccountType     string          `json:"account_type"`
	TransactionAt   time.Time       `json:"transaction_at"`
	Currency        string          `json:"currency"`
	Confidence      float64         `json:"confidence"` // 0..1
	ParseMethod     string          `json:"parse_method"`
}

// SymbolSource identifies which resolution path produced a ResolvedSymbol.
// Trust order is direct > ai-enhanced > ai-fallback.
type SymbolSource string

const (
	SourceDirect     SymbolSource = "direct"
	SourceAIEnhanced SymbolSource = "ai-enhanced"
	SourceAIFallback SymbolSource = "ai-fallback"
)

// ResolvedSymbol is the canonical tradable symbol for a raw instrument
// mention. Values are immutable; a new resolution produces a new value.
type ResolvedSymbol struct {
	SymbolRaw        string       `json:"symbol_raw"`
	NormalizedSymbol string       `json:"normalized_symbol"`
	Source           SymbolSource `json:"source"`
	Confidence       float64      `json:"confidence"`
	NeedsReview      bool         `json:"needs_review,omitempty"`
}

// PortfolioMapping is the result of mapping a brokerage account-type label to
// a portfolio. Mapping the same account type twice yields the same portfolio
// id, with Created=false the second time.
type PortfolioMapping struct {
	AccountType string `json:"account_type"`
	PortfolioID string `json:"portfolio_id"`
	Created     bool   `json:"created"`
}

// DuplicateVerdict is the duplicate detector's decision for one candidate.
type DuplicateVerdict struct {
	IsDuplicate          bool   `json:"is_duplicate"`
	MatchedTransactionID string `json:"matched_transaction_id,omitempty"`
	Reason               string `json:"reason"`
}

// Outcome is the terminal tag a message receives when archived.
type Outcome string

const (
	OutcomeSuccess        Outcome = "success"
	OutcomeDuplicate      Outcome = "duplicate"
	OutcomeParseFailed    Outcome = "parse-failed"
	OutcomeReviewRequired Outcome = "review-required"
	OutcomeError          Outcome = "error"
)

// SyncError records a per-message or per-mailbox failure inside a cycle.
type SyncError struct {
	MailboxID  string `json:"mailbox_id"`
	MessageUID uint32 `json:"message_uid,omitempty"`
	Stage      string `json:"stage"`
	Message    string `json:"message"`
}

// SyncRunSummary aggregates one sync cycle. Write-once; the scheduler keeps
// the latest snapshot for the status endpoint.
type SyncRunSummary struct {
	RunID                string          `json:"run_id"`
	Trigger              string          `json:"trigger"` // scheduled, manual, request
	StartedAt            time.Time       `json:"started_at"`
	FinishedAt           time.Time       `json:"finished_at"`
	TotalEmailsSynced    int             `json:"total_emails_synced"`
	Outcomes             map[Outcome]int `json:"outcomes"`
	ConfigurationsSynced int             `json:"configurations_synced"`
	ConfigurationsTotal  int             `json:"configurations_total"`
	Errors               []SyncError     `json:"errors"`
}

// HasErrors reports whether the cycle recorded any errors.
func (s *SyncRunSummary) HasErrors() bool { return len(s.Errors) > 0 }
