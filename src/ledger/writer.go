package ledger

import (
	"context"
	"fmt"

	"github.com/prado2016/investra-ai-sub010/src/models"
)

// Writer is the side-effecting boundary of the pipeline: one call, one ledger
// write. Duplicate protection lives upstream in the detector; the writer
// trusts its caller's verdict.
type Writer struct {
	client          Client
	defaultCurrency string
}

func NewWriter(client Client, defaultCurrency string) *Writer {
	return &Writer{client: client, defaultCurrency: defaultCurrency}
}

// Write looks up or creates the asset for the resolved symbol, then performs
// the single transaction insert.
func (w *Writer) Write(ctx context.Context, portfolioID string, resolved models.ResolvedSymbol, candidate *models.ParsedTradeCandidate) (models.Transaction, error) {
	asset, err := w.client.GetOrCreateAsset(ctx, resolved.NormalizedSymbol)
	if err != nil {
		return models.Transaction{}, fmt.Errorf("asset lookup for %s: %w", resolved.NormalizedSymbol, err)
	}

	currency := candidate.Currency
	if currency == "" {
		currency = w.defaultCurrency
	}

	tx := models.Transaction{
		PortfolioID:   portfolioID,
		AssetID:       asset.ID,
		Symbol:        resolved.NormalizedSymbol,
		Type:          candidate.TransactionType,
		Quantity:      candidate.Quantity,
		Price:         candidate.Price,
		Amount:        candidate.TotalAmount,
		Currency:      currency,
		TransactionAt: candidate.TransactionAt,
	}
	created, err := w.client.CreateTransaction(ctx, tx)
	if err != nil {
		return models.Transaction{}, fmt.Errorf("creating transaction for %s: %w", resolved.NormalizedSymbol, err)
	}
	return created, nil
}
