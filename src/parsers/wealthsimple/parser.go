// Grammar for Wealthsimple trade confirmation emails. These arrive as HTML
// with labelled lines, e.g.:
//
//	Market Buy Order Filled
//	Symbol: AAPL
//	Shares: 100
//	Average price: $150.50
//	Total cost: $15,050.00
//	Account: TFSA
package wealthsimple

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/prado2016/investra-ai-sub010/src/models"
	"github.com/prado2016/investra-ai-sub010/src/utils"
)

type WealthsimpleParser struct{}

func NewParser() *WealthsimpleParser {
	return &WealthsimpleParser{}
}

// classification rules, most specific first. "Market Buy" and friends share
// vocabulary with dividend and expiry notices, so the order matters: an
// option-expiry email also contains the word "option", a dividend email may
// mention the original buy.
type rule struct {
	name   string
	txType models.TransactionType
	marker *regexp.Regexp
}

var rules = []rule{
	{"option-expired", models.TransactionOptionExpired, regexp.MustCompile(`(?i)option[s]?\s+(?:position\s+)?expired|expired\s+worthless`)},
	{"dividend", models.TransactionDividend, regexp.MustCompile(`(?i)dividend\s+(?:payment|received|of)`)},
	{"market-sell", models.TransactionSell, regexp.MustCompile(`(?i)\b(?:market|limit|stop)\s+sell\b`)},
	{"market-buy", models.TransactionBuy, regexp.MustCompile(`(?i)\b(?:market|limit|stop)\s+buy\b`)},
	{"generic-sell", models.TransactionSell, regexp.MustCompile(`(?i)\bsell\s+order\s+(?:filled|executed)\b`)},
	{"generic-buy", models.TransactionBuy, regexp.MustCompile(`(?i)\bbuy\s+order\s+(?:filled|executed)\b`)},
}

var (
	symbolRe   = regexp.MustCompile(`(?i)symbol:\s*([A-Z][A-Z0-9.\-]{0,11})`)
	sharesRe   = regexp.MustCompile(`(?i)(?:shares|quantity|contracts):\s*([\d,]+(?:\.\d+)?)`)
	priceRe    = regexp.MustCompile(`(?i)(?:average\s+price|price\s+per\s+share|price):\s*((?:US\$|C\$|\$)?[\d,]+(?:\.\d+)?)`)
	totalRe    = regexp.MustCompile(`(?i)total\s+(?:cost|value|amount|proceeds):\s*((?:US\$|C\$|\$)?[\d,]+(?:\.\d+)?)`)
	feesRe     = regexp.MustCompile(`(?i)fees?:\s*((?:US\$|C\$|\$)?[\d,]+(?:\.\d+)?)`)
	accountRe  = regexp.MustCompile(`(?i)account(?:\s+type)?:\s*([A-Za-z][A-Za-z ]{0,19})`)
	currencyRe = regexp.MustCompile(`(?i)currency:\s*([A-Z]{3})`)
	dateRe     = regexp.MustCompile(`(?i)(?:filled|executed|paid)\s+on:?\s+([A-Za-z0-9, :]+[AP]M(?:\s+[A-Z]{2,4})?|[A-Za-z0-9, /-]+)`)
)

func (p *WealthsimpleParser) Parse(msg *models.RawMessage) (*models.ParsedTradeCandidate, error) {
	text := msg.TextBody
	if msg.HTMLBody != "" {
		text = utils.FlattenHTML(msg.HTMLBody)
	}
	content := msg.Subject + "\n" + text

	var matched *rule
	for i := range rules {
		if rules[i].marker.MatchString(content) {
			matched = &rules[i]
			break
		}
	}
	if matched == nil {
		return nil, fmt.Errorf("no wealthsimple rule matched subject %q", msg.Subject)
	}

	symbol := firstGroup(symbolRe, content)
	if symbol == "" {
		return nil, fmt.Errorf("rule %s matched but no symbol found", matched.name)
	}

	candidate := &models.ParsedTradeCandidate{
		SourceMessageID: msg.ID,
		SymbolRaw:       strings.ToUpper(symbol),
		TransactionType: matched.txType,
		TransactionAt:   msg.ReceivedAt,
		ParseMethod:     "ws-regex/" + matched.name,
	}

	confidence := 0.5 // rule + symbol matched
	optional := 0

	switch matched.txType {
	case models.TransactionBuy, models.TransactionSell:
		qty, err := utils.ParsePositiveQuantity(firstGroup(sharesRe, content))
		if err != nil {
			return nil, fmt.Errorf("rule %s: quantity: %w", matched.name, err)
		}
		price, err := utils.ParseMoney(firstGroup(priceRe, content))
		if err != nil {
			return nil, fmt.Errorf("rule %s: price: %w", matched.name, err)
		}
		if price < 0 {
			return nil, fmt.Errorf("rule %s: negative price", matched.name)
		}
		candidate.Quantity = qty
		candidate.Price = price
		candidate.TotalAmount = utils.RoundFloat(qty*price, 2)

	case models.TransactionDividend:
		total, err := utils.ParseMoney(firstGroup(totalRe, content))
		if err != nil {
			return nil, fmt.Errorf("rule %s: amount: %w", matched.name, err)
		}
		if total <= 0 {
			return nil, fmt.Errorf("rule %s: non-positive dividend amount", matched.name)
		}
		// A dividend has no trade price; quantity 1 keeps the positive
		// quantity invariant and the amount carries the economics.
		candidate.Quantity = 1
		candidate.Price = 0
		candidate.TotalAmount = total

	case models.TransactionOptionExpired:
		qty := 1.0
		if raw := firstGroup(sharesRe, content); raw != "" {
			parsed, err := utils.ParsePositiveQuantity(raw)
			if err != nil {
				return nil, fmt.Errorf("rule %s: contracts: %w", matched.name, err)
			}
			qty = parsed
		}
		candidate.Quantity = qty
		candidate.Price = 0
		candidate.TotalAmount = 0
	}

	// Corroborating optional fields raise confidence beyond the mandatory
	// match.
	if raw := firstGroup(totalRe, content); raw != "" && candidate.TransactionType != models.TransactionDividend {
		if total, err := utils.ParseMoney(raw); err == nil && total > 0 {
			candidate.TotalAmount = total
			optional++
		}
	}
	if raw := firstGroup(feesRe, content); raw != "" {
		if fees, err := utils.ParseMoney(raw); err == nil && fees >= 0 && utils.IsFinite(fees) {
			candidate.Fees = fees
		}
		// An unparsable fees field defaults to 0; it never fails the candidate.
	}
	if account := strings.TrimSpace(firstGroup(accountRe, content)); account != "" {
		candidate.AccountType = account
		optional++
	}
	if currency := firstGroup(currencyRe, content); currency != "" {
		candidate.Currency = strings.ToUpper(currency)
		optional++
	}
	if raw := firstGroup(dateRe, content); raw != "" {
		if t := utils.ParseEmailDate(raw); !t.IsZero() {
			candidate.TransactionAt = t
			optional++
		}
	}

	candidate.Confidence = utils.Clamp01(confidence + 0.1*float64(optional))

	if !candidate.TransactionType.Valid() || candidate.Quantity <= 0 ||
		!utils.IsFinite(candidate.Quantity) || !utils.IsFinite(candidate.Price) || !utils.IsFinite(candidate.TotalAmount) {
		return nil, fmt.Errorf("rule %s produced invalid candidate", matched.name)
	}
	return candidate, nil
}

func firstGroup(re *regexp.Regexp, s string) string {
	m := re.FindStringSubmatch(s)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}
