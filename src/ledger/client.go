package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/prado2016/investra-ai-sub010/src/logger"
	"github.com/prado2016/investra-ai-sub010/src/models"
)

// ErrConflict is returned when a create hits a uniqueness constraint in the
// datastore. Callers treat create as create-if-absent and re-read.
var ErrConflict = errors.New("ledger row already exists")

// Client is the consumed surface of the external ledger datastore. All calls
// are remote and can fail transiently; retry policy belongs to the caller.
type Client interface {
	ListTransactions(ctx context.Context, portfolioID, symbol string, txType models.TransactionType, since, until time.Time) ([]models.Transaction, error)
	CreateTransaction(ctx context.Context, tx models.Transaction) (models.Transaction, error)
	GetOrCreateAsset(ctx context.Context, symbol string) (models.Asset, error)
	ListPortfolios(ctx context.Context) ([]models.Portfolio, error)
	CreatePortfolio(ctx context.Context, name, currency string) (models.Portfolio, error)
	ListPendingSyncRequests(ctx context.Context) ([]models.SyncRequest, error)
	MarkSyncRequestComplete(ctx context.Context, id string) error
}

// httpClient talks to the ledger's PostgREST-style API. Auth is a static
// service key; no token minting happens here.
type httpClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) Client {
	return &httpClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *httpClient) do(ctx context.Context, method, path string, query url.Values, body any, prefer string, out any) error {
	u := c.baseURL + "/rest/v1/" + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding %s body: %w", path, err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("building %s request: %w", path, err)
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("ledger %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		return fmt.Errorf("%w: %s", ErrConflict, path)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("ledger %s %s: status %d: %s", method, path, resp.StatusCode, string(b))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding %s response: %w", path, err)
		}
	}
	return nil
}

func (c *httpClient) ListTransactions(ctx context.Context, portfolioID, symbol string, txType models.TransactionType, since, until time.Time) ([]models.Transaction, error) {
	q := url.Values{}
	q.Set("portfolio_id", "eq."+portfolioID)
	if symbol != "" {
		q.Set("symbol", "eq."+symbol)
	}
	if txType != "" {
		q.Set("transaction_type", "eq."+string(txType))
	}
	if !since.IsZero() {
		q.Set("transaction_date", "gte."+since.UTC().Format(time.RFC3339))
	}
	if !until.IsZero() {
		q.Add("transaction_date", "lte."+until.UTC().Format(time.RFC3339))
	}

	var txs []models.Transaction
	if err := c.do(ctx, http.MethodGet, "transactions", q, nil, "", &txs); err != nil {
		return nil, err
	}
	return txs, nil
}

func (c *httpClient) CreateTransaction(ctx context.Context, tx models.Transaction) (models.Transaction, error) {
	var created []models.Transaction
	err := c.do(ctx, http.MethodPost, "transactions", nil, tx, "return=representation", &created)
	if err != nil {
		return models.Transaction{}, err
	}
	if len(created) == 0 {
		return models.Transaction{}, fmt.Errorf("ledger returned no transaction row")
	}
	logger.L.Info("Transaction created in ledger",
		"transactionID", created[0].ID, "portfolioID", tx.PortfolioID,
		"symbol", tx.Symbol, "type", tx.Type, "quantity", tx.Quantity, "price", tx.Price)
	return created[0], nil
}

func (c *httpClient) GetOrCreateAsset(ctx context.Context, symbol string) (models.Asset, error) {
	// Upsert keyed on the symbol's unique constraint: two concurrent calls
	// both land on the same row.
	q := url.Values{}
	q.Set("on_conflict", "symbol")
	var assets []models.Asset
	err := c.do(ctx, http.MethodPost, "assets", q,
		models.Asset{Symbol: symbol},
		"resolution=merge-duplicates,return=representation", &assets)
	if err != nil {
		return models.Asset{}, err
	}
	if len(assets) == 0 {
		return models.Asset{}, fmt.Errorf("ledger returned no asset row for %s", symbol)
	}
	return assets[0], nil
}

func (c *httpClient) ListPortfolios(ctx context.Context) ([]models.Portfolio, error) {
	var portfolios []models.Portfolio
	if err := c.do(ctx, http.MethodGet, "portfolios", nil, nil, "", &portfolios); err != nil {
		return nil, err
	}
	return portfolios, nil
}

func (c *httpClient) CreatePortfolio(ctx context.Context, name, currency string) (models.Portfolio, error) {
	var created []models.Portfolio
	err := c.do(ctx, http.MethodPost, "portfolios", nil,
		models.Portfolio{Name: name, Currency: currency},
		"return=representation", &created)
	if err != nil {
		return models.Portfolio{}, err
	}
	if len(created) == 0 {
		return models.Portfolio{}, fmt.Errorf("ledger returned no portfolio row for %s", name)
	}
	return created[0], nil
}

func (c *httpClient) ListPendingSyncRequests(ctx context.Context) ([]models.SyncRequest, error) {
	q := url.Values{}
	q.Set("status", "eq.pending")
	var reqs []models.SyncRequest
	if err := c.do(ctx, http.MethodGet, "sync_requests", q, nil, "", &reqs); err != nil {
		return nil, err
	}
	return reqs, nil
}

func (c *httpClient) MarkSyncRequestComplete(ctx context.Context, id string) error {
	q := url.Values{}
	q.Set("id", "eq."+id)
	return c.do(ctx, http.MethodPatch, "sync_requests", q,
		map[string]string{"status": "complete"}, "", nil)
}
