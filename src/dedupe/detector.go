package dedupe

import (
	"context"
	"fmt"
	"time"

	"github.com/prado2016/investra-ai-sub010/src/ledger"
	"github.com/prado2016/investra-ai-sub010/src/logger"
	"github.com/prado2016/investra-ai-sub010/src/models"
	"github.com/prado2016/investra-ai-sub010/src/utils"
)

// Detector compares a parsed candidate against the portfolio's recent
// transactions. Brokerage confirmation timestamps are not byte-identical
// across resend scenarios, so matching uses a time window and numeric
// tolerances instead of exact equality.
type Detector struct {
	client    ledger.Client
	window    time.Duration
	tolerance float64
}

func NewDetector(client ledger.Client, window time.Duration, tolerance float64) *Detector {
	if window <= 0 {
		window = 24 * time.Hour
	}
	if tolerance <= 0 {
		tolerance = 0.01
	}
	return &Detector{client: client, window: window, tolerance: tolerance}
}

// Check returns the verdict for one candidate. A failed ledger lookup
// degrades to "not a duplicate": a false negative is recoverable by a human
// merge, blocked ingestion is not.
func (d *Detector) Check(ctx context.Context, candidate *models.ParsedTradeCandidate, normalizedSymbol, portfolioID string) models.DuplicateVerdict {
	since := candidate.TransactionAt.Add(-d.window)
	until := candidate.TransactionAt.Add(d.window)

	existing, err := d.client.ListTransactions(ctx, portfolioID, normalizedSymbol, candidate.TransactionType, since, until)
	if err != nil {
		logger.L.Warn("Duplicate lookup failed, treating candidate as unique",
			"portfolioID", portfolioID, "symbol", normalizedSymbol, "error", err)
		return models.DuplicateVerdict{
			IsDuplicate: false,
			Reason:      fmt.Sprintf("lookup failed, assumed unique: %v", err),
		}
	}

	for _, tx := range existing {
		if d.matches(candidate, tx) {
			// Conservative tie-break: any match flags the candidate. It is
			// routed to review, never silently dropped or double-counted.
			return models.DuplicateVerdict{
				IsDuplicate:          true,
				MatchedTransactionID: tx.ID,
				Reason: fmt.Sprintf("matches transaction %s within %s window (tolerance %g)",
					tx.ID, d.window, d.tolerance),
			}
		}
	}
	return models.DuplicateVerdict{
		IsDuplicate: false,
		Reason:      fmt.Sprintf("no match among %d nearby transactions", len(existing)),
	}
}

func (d *Detector) matches(candidate *models.ParsedTradeCandidate, tx models.Transaction) bool {
	delta := tx.TransactionAt.Sub(candidate.TransactionAt)
	if delta < 0 {
		delta = -delta
	}
	if delta > d.window {
		return false
	}
	if !utils.ApproxEqual(tx.Quantity, candidate.Quantity, d.tolerance) {
		return false
	}
	// For dividends and option expiries the price field is not a trade
	// price; the total amount carries the economics, so compare that instead.
	switch candidate.TransactionType {
	case models.TransactionDividend, models.TransactionOptionExpired:
		return utils.ApproxEqual(tx.Amount, candidate.TotalAmount, d.tolerance)
	default:
		return utils.ApproxEqual(tx.Price, candidate.Price, d.tolerance)
	}
}
