package portfolio

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prado2016/investra-ai-sub010/src/ledger"
	"github.com/prado2016/investra-ai-sub010/src/models"
)

type fakeLedger struct {
	portfolios  []models.Portfolio
	listCalls   int
	createCalls int
	createErr   error
}

func (f *fakeLedger) ListPortfolios(ctx context.Context) ([]models.Portfolio, error) {
	f.listCalls++
	return f.portfolios, nil
}

func (f *fakeLedger) CreatePortfolio(ctx context.Context, name, currency string) (models.Portfolio, error) {
	f.createCalls++
	if f.createErr != nil {
		return models.Portfolio{}, f.createErr
	}
	p := models.Portfolio{ID: fmt.Sprintf("p-%d", f.createCalls), Name: name, Currency: currency}
	f.portfolios = append(f.portfolios, p)
	return p, nil
}

func (f *fakeLedger) ListTransactions(ctx context.Context, portfolioID, symbol string, txType models.TransactionType, since, until time.Time) ([]models.Transaction, error) {
	return nil, nil
}
func (f *fakeLedger) CreateTransaction(ctx context.Context, tx models.Transaction) (models.Transaction, error) {
	return tx, nil
}
func (f *fakeLedger) GetOrCreateAsset(ctx context.Context, symbol string) (models.Asset, error) {
	return models.Asset{}, nil
}
func (f *fakeLedger) ListPendingSyncRequests(ctx context.Context) ([]models.SyncRequest, error) {
	return nil, nil
}
func (f *fakeLedger) MarkSyncRequestComplete(ctx context.Context, id string) error { return nil }

func TestMapOrCreate_ExistingPortfolio(t *testing.T) {
	fake := &fakeLedger{portfolios: []models.Portfolio{{ID: "p-tfsa", Name: "TFSA", Currency: "CAD"}}}
	m := NewMapper(fake, true, "CAD")

	mapping, err := m.MapOrCreate(context.Background(), "TFSA")
	require.NoError(t, err)
	assert.Equal(t, "p-tfsa", mapping.PortfolioID)
	assert.False(t, mapping.Created)
	assert.Zero(t, fake.createCalls)
}

func TestMapOrCreate_AccountTypeNormalization(t *testing.T) {
	fake := &fakeLedger{portfolios: []models.Portfolio{
		{ID: "p-cash", Name: "Cash"},
		{ID: "p-tfsa", Name: "TFSA"},
	}}
	m := NewMapper(fake, false, "CAD")

	tests := []struct {
		accountType string
		wantID      string
	}{
		{"tfsa", "p-tfsa"},
		{" TFSA ", "p-tfsa"},
		{"Personal", "p-cash"},
		{"individual", "p-cash"},
		{"Cash", "p-cash"},
	}
	for _, tt := range tests {
		t.Run(tt.accountType, func(t *testing.T) {
			mapping, err := m.MapOrCreate(context.Background(), tt.accountType)
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, mapping.PortfolioID)
		})
	}
}

func TestMapOrCreate_AutoCreateOnce(t *testing.T) {
	fake := &fakeLedger{}
	m := NewMapper(fake, true, "CAD")

	first, err := m.MapOrCreate(context.Background(), "RRSP")
	require.NoError(t, err)
	assert.True(t, first.Created)
	assert.NotEmpty(t, first.PortfolioID)

	second, err := m.MapOrCreate(context.Background(), "RRSP")
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.PortfolioID, second.PortfolioID)
	assert.Equal(t, 1, fake.createCalls)
}

func TestMapOrCreate_DisabledPolicy(t *testing.T) {
	fake := &fakeLedger{}
	m := NewMapper(fake, false, "CAD")

	_, err := m.MapOrCreate(context.Background(), "FHSA")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMappingDisabled)
	assert.Zero(t, fake.createCalls)
}

func TestMapOrCreate_ConflictFallsBackToExisting(t *testing.T) {
	fake := &fakeLedger{createErr: fmt.Errorf("duplicate key: %w", ledger.ErrConflict)}

	// Simulate the race: create conflicts, but the portfolio shows up on the
	// re-list because another cycle inserted it.
	calls := 0
	racy := &racingLedger{fakeLedger: fake, onList: func() {
		calls++
		if calls == 2 {
			fake.portfolios = []models.Portfolio{{ID: "p-won", Name: "Margin"}}
		}
	}}
	m := NewMapper(racy, true, "CAD")

	mapping, err := m.MapOrCreate(context.Background(), "margin")
	require.NoError(t, err)
	assert.Equal(t, "p-won", mapping.PortfolioID)
	assert.False(t, mapping.Created)
}

type racingLedger struct {
	*fakeLedger
	onList func()
}

func (r *racingLedger) ListPortfolios(ctx context.Context) ([]models.Portfolio, error) {
	r.onList()
	return r.fakeLedger.ListPortfolios(ctx)
}

func TestMapOrCreate_UnknownAccountTypeStillDeterministic(t *testing.T) {
	fake := &fakeLedger{}
	m := NewMapper(fake, true, "USD")

	mapping, err := m.MapOrCreate(context.Background(), "Spousal RRSP")
	require.NoError(t, err)
	assert.True(t, mapping.Created)

	again, err := m.MapOrCreate(context.Background(), "Spousal RRSP")
	require.NoError(t, err)
	assert.Equal(t, mapping.PortfolioID, again.PortfolioID)
	assert.Equal(t, 1, fake.createCalls)
}
