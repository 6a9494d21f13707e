package services

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prado2016/investra-ai-sub010/src/config"
	"github.com/prado2016/investra-ai-sub010/src/database"
	"github.com/prado2016/investra-ai-sub010/src/dedupe"
	"github.com/prado2016/investra-ai-sub010/src/ledger"
	"github.com/prado2016/investra-ai-sub010/src/mailbox"
	"github.com/prado2016/investra-ai-sub010/src/models"
	"github.com/prado2016/investra-ai-sub010/src/parsers"
	"github.com/prado2016/investra-ai-sub010/src/portfolio"
	"github.com/prado2016/investra-ai-sub010/src/store"
	"github.com/prado2016/investra-ai-sub010/src/symbols"
)

var tradeDay = time.Date(2025, 8, 12, 15, 0, 0, 0, time.UTC)

// fakeMailboxClient serves canned messages without an IMAP server.
type fakeMailboxClient struct {
	mu       sync.Mutex
	uids     []uint32
	messages map[uint32]*models.RawMessage
	fetchErr map[uint32]error
	archived []uint32
}

func (c *fakeMailboxClient) Connect() error { return nil }

func (c *fakeMailboxClient) ListSince(sinceUID uint32) ([]uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []uint32
	for _, uid := range c.uids {
		if uid > sinceUID {
			out = append(out, uid)
		}
	}
	return out, nil
}

func (c *fakeMailboxClient) Fetch(uid uint32) (*models.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err, ok := c.fetchErr[uid]; ok {
		return nil, err
	}
	msg, ok := c.messages[uid]
	if !ok {
		return nil, fmt.Errorf("no such uid %d", uid)
	}
	clone := *msg
	return &clone, nil
}

func (c *fakeMailboxClient) Archive(uid uint32, outcome models.Outcome) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.archived = append(c.archived, uid)
	return nil
}

func (c *fakeMailboxClient) Close() error { return nil }

func (c *fakeMailboxClient) addMessage(uid uint32, subject string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.uids = append(c.uids, uid)
	c.messages[uid] = &models.RawMessage{
		MailboxID:   "primary",
		MessageUID:  uid,
		ReceivedAt:  tradeDay,
		Subject:     subject,
		FromAddress: "notifications@wealthsimple.com",
		TextBody:    subject,
	}
}

// fakeLedgerClient keeps transactions and portfolios in memory.
type fakeLedgerClient struct {
	mu           sync.Mutex
	transactions []models.Transaction
	portfolios   []models.Portfolio
	pending      []models.SyncRequest
	completed    []string
}

func (f *fakeLedgerClient) ListTransactions(ctx context.Context, portfolioID, symbol string, txType models.TransactionType, since, until time.Time) ([]models.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Transaction
	for _, tx := range f.transactions {
		if tx.PortfolioID != portfolioID || tx.Symbol != symbol || tx.Type != txType {
			continue
		}
		if tx.TransactionAt.Before(since) || tx.TransactionAt.After(until) {
			continue
		}
		out = append(out, tx)
	}
	return out, nil
}

func (f *fakeLedgerClient) CreateTransaction(ctx context.Context, tx models.Transaction) (models.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx.ID = fmt.Sprintf("tx-%d", len(f.transactions)+1)
	f.transactions = append(f.transactions, tx)
	return tx, nil
}

func (f *fakeLedgerClient) GetOrCreateAsset(ctx context.Context, symbol string) (models.Asset, error) {
	return models.Asset{ID: "asset-" + symbol, Symbol: symbol}, nil
}

func (f *fakeLedgerClient) ListPortfolios(ctx context.Context) ([]models.Portfolio, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Portfolio(nil), f.portfolios...), nil
}

func (f *fakeLedgerClient) CreatePortfolio(ctx context.Context, name, currency string) (models.Portfolio, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := models.Portfolio{ID: "p-" + name, Name: name, Currency: currency}
	f.portfolios = append(f.portfolios, p)
	return p, nil
}

func (f *fakeLedgerClient) ListPendingSyncRequests(ctx context.Context) ([]models.SyncRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.SyncRequest(nil), f.pending...), nil
}

func (f *fakeLedgerClient) MarkSyncRequestComplete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, id)
	return nil
}

// stubParser turns every message into the same candidate, so orchestration
// tests do not depend on any brokerage grammar.
type stubParser struct {
	candidate models.ParsedTradeCandidate
	err       error
}

func (p *stubParser) Parse(msg *models.RawMessage) (*models.ParsedTradeCandidate, error) {
	if p.err != nil {
		return nil, p.err
	}
	c := p.candidate
	c.SourceMessageID = msg.ID
	return &c, nil
}

func buyCandidate() models.ParsedTradeCandidate {
	return models.ParsedTradeCandidate{
		SymbolRaw:       "AAPL",
		TransactionType: models.TransactionBuy,
		Quantity:        100,
		Price:           150.50,
		TotalAmount:     15050,
		AccountType:     "TFSA",
		TransactionAt:   tradeDay,
		Currency:        "USD",
		Confidence:      0.9,
		ParseMethod:     "stub",
	}
}

type fixture struct {
	store    *store.MessageStore
	ledger   *fakeLedgerClient
	notifier *MockNotifier
	client   *fakeMailboxClient
	svc      SyncService
}

func newFixture(t *testing.T, parser parsers.Parser) *fixture {
	t.Helper()
	database.InitDB(filepath.Join(t.TempDir(), "staging.db"))
	t.Cleanup(func() { database.DB.Close() })

	fx := &fixture{
		store:    store.NewMessageStore(database.DB),
		ledger:   &fakeLedgerClient{},
		notifier: &MockNotifier{},
		client: &fakeMailboxClient{
			messages: make(map[uint32]*models.RawMessage),
			fetchErr: make(map[uint32]error),
		},
	}

	resolver := symbols.NewResolver(nil, 5*time.Second)
	detector := dedupe.NewDetector(fx.ledger, 24*time.Hour, 0.01)
	mapper := portfolio.NewMapper(fx.ledger, true, "CAD")
	writer := ledger.NewWriter(fx.ledger, "CAD")

	fx.svc = NewSyncService(
		[]config.MailboxConfig{{ID: "primary", Host: "imap.example.com", Folder: "INBOX"}},
		func(cfg config.MailboxConfig) mailbox.Client { return fx.client },
		func(fromAddress string) (parsers.Parser, error) { return parser, nil },
		fx.store,
		resolver,
		detector,
		mapper,
		writer,
		fx.ledger,
		fx.notifier,
		50,
		0.6,
	)
	return fx
}

func TestSyncAll_HappyPath(t *testing.T) {
	fx := newFixture(t, &stubParser{candidate: buyCandidate()})
	fx.client.addMessage(1, "Your order has been filled")

	summary := fx.svc.SyncAll(context.Background(), "manual")

	assert.False(t, summary.HasErrors(), "errors: %+v", summary.Errors)
	assert.Equal(t, 1, summary.TotalEmailsSynced)
	assert.Equal(t, 1, summary.Outcomes[models.OutcomeSuccess])
	assert.Equal(t, 1, summary.ConfigurationsSynced)

	require.Len(t, fx.ledger.transactions, 1)
	tx := fx.ledger.transactions[0]
	assert.Equal(t, "AAPL", tx.Symbol)
	assert.Equal(t, models.TransactionBuy, tx.Type)
	assert.Equal(t, 100.0, tx.Quantity)
	assert.Equal(t, 150.50, tx.Price)
	assert.Equal(t, "p-TFSA", tx.PortfolioID)
	assert.Equal(t, "USD", tx.Currency)

	outcome, err := fx.store.Outcome("primary", 1)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeSuccess, outcome)

	watermark, err := fx.store.Watermark("primary")
	require.NoError(t, err)
	assert.Equal(t, uint32(1), watermark)

	assert.Equal(t, []uint32{1}, fx.client.archived)
}

func TestSyncAll_DuplicateResendWritesOnce(t *testing.T) {
	fx := newFixture(t, &stubParser{candidate: buyCandidate()})
	fx.client.addMessage(1, "Your order has been filled")

	first := fx.svc.SyncAll(context.Background(), "manual")
	require.Equal(t, 1, first.Outcomes[models.OutcomeSuccess])

	// The brokerage resends the same confirmation under a new UID.
	fx.client.addMessage(2, "Your order has been filled")

	second := fx.svc.SyncAll(context.Background(), "manual")

	assert.Equal(t, 1, second.Outcomes[models.OutcomeDuplicate])
	assert.Zero(t, second.Outcomes[models.OutcomeSuccess])
	assert.Len(t, fx.ledger.transactions, 1, "resend must not create a second transaction")

	outcome, err := fx.store.Outcome("primary", 2)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeDuplicate, outcome)

	// Duplicates go into the review digest so a human can confirm the merge.
	require.Len(t, fx.notifier.Sent, 1)
	assert.Equal(t, models.OutcomeDuplicate, fx.notifier.Sent[0][0].Outcome)
}

func TestSyncAll_UnknownSenderParseFailed(t *testing.T) {
	fx := newFixture(t, &stubParser{err: fmt.Errorf("%w: example.org", parsers.ErrNoGrammar)})
	fx.client.addMessage(7, "Monthly statement")

	summary := fx.svc.SyncAll(context.Background(), "manual")

	assert.Equal(t, 1, summary.Outcomes[models.OutcomeParseFailed])
	assert.Empty(t, fx.ledger.transactions)

	outcome, err := fx.store.Outcome("primary", 7)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeParseFailed, outcome)
}

func TestSyncAll_LowParseConfidenceGoesToReview(t *testing.T) {
	candidate := buyCandidate()
	candidate.Confidence = 0.4
	fx := newFixture(t, &stubParser{candidate: candidate})
	fx.client.addMessage(3, "Your order has been filled")

	summary := fx.svc.SyncAll(context.Background(), "manual")

	assert.Equal(t, 1, summary.Outcomes[models.OutcomeReviewRequired])
	assert.Empty(t, fx.ledger.transactions, "review-required must not write")
	require.Len(t, fx.notifier.Sent, 1)
	assert.Equal(t, models.OutcomeReviewRequired, fx.notifier.Sent[0][0].Outcome)
}

func TestSyncAll_UnresolvableSymbolGoesToReview(t *testing.T) {
	candidate := buyCandidate()
	candidate.SymbolRaw = "Some Unlisted Private Co"
	fx := newFixture(t, &stubParser{candidate: candidate})
	fx.client.addMessage(4, "Your order has been filled")

	summary := fx.svc.SyncAll(context.Background(), "manual")

	assert.Equal(t, 1, summary.Outcomes[models.OutcomeReviewRequired])
	assert.Empty(t, fx.ledger.transactions)
}

func TestSyncAll_FetchFailureHoldsWatermark(t *testing.T) {
	fx := newFixture(t, &stubParser{candidate: buyCandidate()})
	fx.client.addMessage(1, "Your order has been filled")
	fx.client.addMessage(2, "Your order has been filled")
	fx.client.fetchErr[1] = errors.New("connection reset")

	summary := fx.svc.SyncAll(context.Background(), "manual")

	require.True(t, summary.HasErrors())
	var stages []string
	for _, e := range summary.Errors {
		stages = append(stages, e.Stage)
	}
	assert.Contains(t, stages, "fetch")

	// Nothing may be staged past the failed fetch; the next cycle retries
	// from the same watermark.
	watermark, err := fx.store.Watermark("primary")
	require.NoError(t, err)
	assert.Zero(t, watermark)
	assert.Empty(t, fx.ledger.transactions)
}

func TestSyncAll_ScheduledCycleDrainsSyncRequests(t *testing.T) {
	fx := newFixture(t, &stubParser{candidate: buyCandidate()})
	fx.ledger.pending = []models.SyncRequest{{ID: "req-1"}, {ID: "req-2", MailboxID: "primary"}}

	fx.svc.SyncAll(context.Background(), "scheduled")
	assert.Equal(t, []string{"req-1", "req-2"}, fx.ledger.completed)

	fx.ledger.pending = nil
	fx.svc.SyncAll(context.Background(), "manual")
	assert.Len(t, fx.ledger.completed, 2, "manual cycles do not drain the queue")
}
