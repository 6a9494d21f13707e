package parsers

import (
	"fmt"
	"strings"

	"github.com/prado2016/investra-ai-sub010/src/parsers/questrade"
	"github.com/prado2016/investra-ai-sub010/src/parsers/wealthsimple"
)

// GetParser selects the grammar for a sender address. Adding a brokerage
// means adding a case here plus its parser package; dispatch itself does not
// change.
func GetParser(fromAddress string) (Parser, error) {
	domain := senderDomain(fromAddress)
	switch {
	case strings.HasSuffix(domain, "wealthsimple.com"):
		return wealthsimple.NewParser(), nil
	case strings.HasSuffix(domain, "questrade.com"):
		return questrade.NewParser(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrNoGrammar, domain)
	}
}

func senderDomain(fromAddress string) string {
	addr := strings.TrimSpace(strings.ToLower(fromAddress))
	if i := strings.LastIndex(addr, "@"); i >= 0 {
		addr = addr[i+1:]
	}
	return strings.TrimSuffix(addr, ">")
}
