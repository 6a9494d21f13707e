package models

import "time"

// Portfolio is a ledger-owned record; the pipeline only reads and creates.
type Portfolio struct {
	ID       string `json:"id,omitempty"`
	Name     string `json:"name"`
	Currency string `json:"currency"`
}

// Asset is a ledger-owned instrument record.
type Asset struct {
	ID     string `json:"id,omitempty"`
	Symbol string `json:"symbol"`
}

// Transaction is the terminal artifact in the external ledger. The pipeline's
// only mutation right is create, never update or delete.
type Transaction struct {
	ID            string          `json:"id,omitempty"`
	PortfolioID   string          `json:"portfolio_id"`
	AssetID       string          `json:"asset_id,omitempty"`
	Symbol        string          `json:"symbol"`
	Type          TransactionType `json:"transaction_type"`
	Quantity      float64         `json:"quantity"`
	Price         float64         `json:"price"`
	Amount        float64         `json:"amount"`
	Currency      string          `json:"currency"`
	TransactionAt time.Time       `json:"transaction_date"`
}

// SyncRequest is an externally queued on-demand sync, written by the web UI
// into the ledger datastore and drained by the scheduler.
type SyncRequest struct {
	ID          string    `json:"id"`
	MailboxID   string    `json:"mailbox_id,omitempty"` // empty means all mailboxes
	RequestedAt time.Time `json:"requested_at"`
}
