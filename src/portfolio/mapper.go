package portfolio

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/prado2016/investra-ai-sub010/src/ledger"
	"github.com/prado2016/investra-ai-sub010/src/logger"
	"github.com/prado2016/investra-ai-sub010/src/models"
)

// ErrMappingDisabled is returned when no portfolio exists for an account type
// and auto-creation is switched off.
var ErrMappingDisabled = errors.New("no portfolio for account type, auto-create disabled")

// Account-type labels as brokerages print them, mapped to the portfolio name
// convention the ledger uses.
var accountTypeNames = map[string]string{
	"tfsa":       "TFSA",
	"rrsp":       "RRSP",
	"resp":       "RESP",
	"lira":       "LIRA",
	"fhsa":       "FHSA",
	"margin":     "Margin",
	"cash":       "Cash",
	"personal":   "Cash",
	"individual": "Cash",
}

// Mapper maps brokerage account-type strings to ledger portfolios,
// auto-creating missing ones when policy allows. Creation is
// create-if-absent: a uniqueness conflict means another cycle won the race,
// and the existing portfolio is returned instead.
type Mapper struct {
	client          ledger.Client
	autoCreate      bool
	defaultCurrency string
	mappings        *cache.Cache
}

func NewMapper(client ledger.Client, autoCreate bool, defaultCurrency string) *Mapper {
	return &Mapper{
		client:          client,
		autoCreate:      autoCreate,
		defaultCurrency: defaultCurrency,
		mappings:        cache.New(15*time.Minute, 30*time.Minute),
	}
}

// MapOrCreate resolves accountType to a portfolio id. Calling it twice for
// the same account type returns the same id, with Created=false the second
// time.
func (m *Mapper) MapOrCreate(ctx context.Context, accountType string) (models.PortfolioMapping, error) {
	name := portfolioName(accountType)

	if cached, found := m.mappings.Get(name); found {
		mapping := cached.(models.PortfolioMapping)
		mapping.AccountType = accountType
		mapping.Created = false
		return mapping, nil
	}

	portfolios, err := m.client.ListPortfolios(ctx)
	if err != nil {
		return models.PortfolioMapping{}, fmt.Errorf("listing portfolios: %w", err)
	}
	for _, p := range portfolios {
		if strings.EqualFold(p.Name, name) {
			mapping := models.PortfolioMapping{AccountType: accountType, PortfolioID: p.ID, Created: false}
			m.mappings.Set(name, mapping, cache.DefaultExpiration)
			return mapping, nil
		}
	}

	if !m.autoCreate {
		return models.PortfolioMapping{}, fmt.Errorf("%w: %q", ErrMappingDisabled, accountType)
	}

	created, err := m.client.CreatePortfolio(ctx, name, m.defaultCurrency)
	if err != nil {
		if errors.Is(err, ledger.ErrConflict) {
			// Concurrent cycle created it first; re-read and return it.
			return m.findExisting(ctx, accountType, name)
		}
		return models.PortfolioMapping{}, fmt.Errorf("creating portfolio %q: %w", name, err)
	}

	logger.L.Info("Portfolio auto-created", "accountType", accountType, "name", name, "portfolioID", created.ID)
	mapping := models.PortfolioMapping{AccountType: accountType, PortfolioID: created.ID, Created: true}
	m.mappings.Set(name, models.PortfolioMapping{AccountType: accountType, PortfolioID: created.ID}, cache.DefaultExpiration)
	return mapping, nil
}

func (m *Mapper) findExisting(ctx context.Context, accountType, name string) (models.PortfolioMapping, error) {
	portfolios, err := m.client.ListPortfolios(ctx)
	if err != nil {
		return models.PortfolioMapping{}, fmt.Errorf("re-listing portfolios after conflict: %w", err)
	}
	for _, p := range portfolios {
		if strings.EqualFold(p.Name, name) {
			mapping := models.PortfolioMapping{AccountType: accountType, PortfolioID: p.ID, Created: false}
			m.mappings.Set(name, mapping, cache.DefaultExpiration)
			return mapping, nil
		}
	}
	return models.PortfolioMapping{}, fmt.Errorf("portfolio %q conflicted on create but is not listed", name)
}

// portfolioName normalizes a brokerage account-type label to the ledger's
// portfolio name convention. Unknown labels become their trimmed form so a
// new brokerage account type still maps somewhere deterministic.
func portfolioName(accountType string) string {
	key := strings.ToLower(strings.TrimSpace(accountType))
	if name, ok := accountTypeNames[key]; ok {
		return name
	}
	return strings.TrimSpace(accountType)
}
