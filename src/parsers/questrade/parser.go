// Grammar for Questrade execution notification emails. Unlike Wealthsimple's
// labelled lines, Questrade writes the fill as one sentence:
//
//	Your order to buy 100 shares of AAPL at US$150.50 was executed.
//	Account: 12345678 (TFSA)
package questrade

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/prado2016/investra-ai-sub010/src/models"
	"github.com/prado2016/investra-ai-sub010/src/utils"
)

type QuestradeParser struct{}

func NewParser() *QuestradeParser {
	return &QuestradeParser{}
}

var (
	// Expiry and dividend notices must be tried before the fill sentence:
	// a dividend email can quote the position ("100 shares of AAPL") without
	// describing a trade.
	expiryRe   = regexp.MustCompile(`(?i)option\s+(?:position|contract)s?\s+.*expired|expired\s+worthless`)
	dividendRe = regexp.MustCompile(`(?i)dividend\s+(?:payment\s+)?of\s+((?:US\$|C\$|\$)?[\d,]+(?:\.\d+)?)\s+(?:from|for)\s+([A-Z][A-Z0-9.\-]{0,11})`)
	fillRe     = regexp.MustCompile(`(?i)order\s+to\s+(buy|sell)\s+([\d,]+(?:\.\d+)?)\s+(?:shares?|units?|contracts?)\s+of\s+([A-Z][A-Z0-9.\-]{0,11})\s+at\s+((?:US\$|C\$|\$)?[\d,]+(?:\.\d+)?)`)
	executedRe = regexp.MustCompile(`(?i)(?:was|has\s+been)\s+(?:executed|filled)`)

	contractsRe = regexp.MustCompile(`(?i)([\d,]+)\s+contracts?\s+of\s+([A-Z][A-Z0-9.\-]{0,11})`)
	accountRe   = regexp.MustCompile(`(?i)account:?\s*\d*\s*\(?\s*(TFSA|RRSP|RESP|LIRA|FHSA|Margin|Cash)\s*\)?`)
	currencyRe  = regexp.MustCompile(`(US\$|C\$|\bUSD\b|\bCAD\b)`)
	whenRe      = regexp.MustCompile(`(?i)on\s+([A-Za-z]+ \d{1,2}, \d{4}(?: \d{1,2}:\d{2} [AP]M(?: [A-Z]{2,4})?)?)`)
)

func (p *QuestradeParser) Parse(msg *models.RawMessage) (*models.ParsedTradeCandidate, error) {
	text := msg.TextBody
	if msg.HTMLBody != "" {
		text = utils.FlattenHTML(msg.HTMLBody)
	}
	content := msg.Subject + "\n" + text

	candidate := &models.ParsedTradeCandidate{
		SourceMessageID: msg.ID,
		TransactionAt:   msg.ReceivedAt,
	}
	confidence := 0.5
	optional := 0

	switch {
	case expiryRe.MatchString(content):
		candidate.TransactionType = models.TransactionOptionExpired
		candidate.ParseMethod = "qt-regex/option-expired"
		candidate.Quantity = 1
		if m := contractsRe.FindStringSubmatch(content); len(m) == 3 {
			qty, err := utils.ParsePositiveQuantity(m[1])
			if err != nil {
				return nil, fmt.Errorf("option expiry: contracts: %w", err)
			}
			candidate.Quantity = qty
			candidate.SymbolRaw = strings.ToUpper(m[2])
		}
		if candidate.SymbolRaw == "" {
			return nil, fmt.Errorf("option expiry notice without a symbol")
		}

	case dividendRe.MatchString(content):
		m := dividendRe.FindStringSubmatch(content)
		amount, err := utils.ParseMoney(m[1])
		if err != nil || amount <= 0 {
			return nil, fmt.Errorf("dividend amount %q: %v", m[1], err)
		}
		candidate.TransactionType = models.TransactionDividend
		candidate.ParseMethod = "qt-regex/dividend"
		candidate.SymbolRaw = strings.ToUpper(m[2])
		candidate.Quantity = 1
		candidate.TotalAmount = amount

	case fillRe.MatchString(content):
		// The fill sentence alone is not enough; require the execution
		// confirmation so pending-order emails are not ingested as trades.
		if !executedRe.MatchString(content) {
			return nil, fmt.Errorf("order email without execution confirmation")
		}
		m := fillRe.FindStringSubmatch(content)
		qty, err := utils.ParsePositiveQuantity(m[2])
		if err != nil {
			return nil, fmt.Errorf("fill quantity: %w", err)
		}
		price, err := utils.ParseMoney(m[4])
		if err != nil || price < 0 {
			return nil, fmt.Errorf("fill price %q: %v", m[4], err)
		}
		if strings.EqualFold(m[1], "buy") {
			candidate.TransactionType = models.TransactionBuy
			candidate.ParseMethod = "qt-regex/fill-buy"
		} else {
			candidate.TransactionType = models.TransactionSell
			candidate.ParseMethod = "qt-regex/fill-sell"
		}
		candidate.SymbolRaw = strings.ToUpper(m[3])
		candidate.Quantity = qty
		candidate.Price = price
		candidate.TotalAmount = utils.RoundFloat(qty*price, 2)
		optional++ // price present in the fill sentence

	default:
		return nil, fmt.Errorf("no questrade rule matched subject %q", msg.Subject)
	}

	if m := accountRe.FindStringSubmatch(content); len(m) == 2 {
		candidate.AccountType = strings.ToUpper(m[1])
		switch {
		case strings.EqualFold(m[1], "margin"):
			candidate.AccountType = "Margin"
		case strings.EqualFold(m[1], "cash"):
			candidate.AccountType = "Cash"
		}
		optional++
	}
	if m := currencyRe.FindStringSubmatch(content); len(m) == 2 {
		switch m[1] {
		case "US$", "USD":
			candidate.Currency = "USD"
		case "C$", "CAD":
			candidate.Currency = "CAD"
		}
		optional++
	}
	if m := whenRe.FindStringSubmatch(content); len(m) == 2 {
		if t := utils.ParseEmailDate(m[1]); !t.IsZero() {
			candidate.TransactionAt = t
			optional++
		}
	}

	candidate.Confidence = utils.Clamp01(confidence + 0.1*float64(optional))

	if !candidate.TransactionType.Valid() || candidate.Quantity <= 0 ||
		!utils.IsFinite(candidate.Quantity) || !utils.IsFinite(candidate.Price) || !utils.IsFinite(candidate.TotalAmount) {
		return nil, fmt.Errorf("questrade parse produced invalid candidate")
	}
	return candidate, nil
}
