package symbols

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/prado2016/investra-ai-sub010/src/logger"
	"github.com/prado2016/investra-ai-sub010/src/models"
)

// Fixed confidence per resolution source. The ordering is an invariant:
// direct > ai-enhanced > ai-fallback.
const (
	directConfidence     = 0.95
	aiEnhancedConfidence = 0.75
	aiFallbackConfidence = 0.30
)

// Known-instrument grammar: plain tickers, exchange-suffixed tickers and
// OCC-style option symbols. Both direct input and oracle answers must pass
// this before being trusted.
var (
	tickerRe   = regexp.MustCompile(`^[A-Z][A-Z0-9]{0,5}$`)
	suffixedRe = regexp.MustCompile(`^[A-Z][A-Z0-9]{0,5}\.[A-Z]{1,3}$`)
	occRe      = regexp.MustCompile(`^[A-Z]{1,6}\d{6}[CP]\d{8}$`)
)

// LookupContext carries what the caller knows about the instrument mention.
type LookupContext struct {
	TransactionType models.TransactionType
	Description     string
}

// Resolver turns raw instrument mentions into canonical symbols. Direct
// grammar matches are free; the oracle path is the one remote call in the
// pipeline with non-trivial latency, so it is bounded by a timeout and never
// fails a candidate: on any oracle problem the result degrades to a
// low-confidence fallback flagged for review.
type Resolver struct {
	oracle  Oracle // nil disables AI enhancement
	timeout time.Duration
	cache   *cache.Cache
}

func NewResolver(oracle Oracle, timeout time.Duration) *Resolver {
	return &Resolver{
		oracle:  oracle,
		timeout: timeout,
		cache:   cache.New(6*time.Hour, 12*time.Hour),
	}
}

func (r *Resolver) Resolve(ctx context.Context, symbolRaw string, lctx LookupContext) models.ResolvedSymbol {
	cleaned := normalizeInput(symbolRaw)

	if cached, found := r.cache.Get(cleaned); found {
		resolved := cached.(models.ResolvedSymbol)
		resolved.SymbolRaw = symbolRaw
		return resolved
	}

	if matchesInstrumentGrammar(cleaned) {
		resolved := models.ResolvedSymbol{
			SymbolRaw:        symbolRaw,
			NormalizedSymbol: cleaned,
			Source:           models.SourceDirect,
			Confidence:       directConfidence,
		}
		r.cache.Set(cleaned, resolved, cache.DefaultExpiration)
		return resolved
	}

	if r.oracle != nil {
		if resolved, ok := r.lookupViaOracle(ctx, symbolRaw, cleaned, lctx); ok {
			r.cache.Set(cleaned, resolved, cache.DefaultExpiration)
			return resolved
		}
	}

	return models.ResolvedSymbol{
		SymbolRaw:        symbolRaw,
		NormalizedSymbol: cleaned,
		Source:           models.SourceAIFallback,
		Confidence:       aiFallbackConfidence,
		NeedsReview:      true,
	}
}

func (r *Resolver) lookupViaOracle(ctx context.Context, symbolRaw, cleaned string, lctx LookupContext) (models.ResolvedSymbol, bool) {
	query := cleaned
	if lctx.Description != "" {
		query = cleaned + " (" + lctx.Description + ")"
	}

	oracleCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	answer, err := r.oracle.LookupSymbol(oracleCtx, query)
	if err != nil {
		logger.L.Warn("Symbol oracle failed, degrading to fallback", "symbolRaw", symbolRaw, "error", err)
		return models.ResolvedSymbol{}, false
	}
	if !matchesInstrumentGrammar(answer) {
		logger.L.Warn("Symbol oracle answer rejected by instrument grammar", "symbolRaw", symbolRaw, "answer", answer)
		return models.ResolvedSymbol{}, false
	}
	return models.ResolvedSymbol{
		SymbolRaw:        symbolRaw,
		NormalizedSymbol: answer,
		Source:           models.SourceAIEnhanced,
		Confidence:       aiEnhancedConfidence,
	}, true
}

func normalizeInput(symbolRaw string) string {
	s := strings.ToUpper(strings.TrimSpace(symbolRaw))
	s = strings.TrimPrefix(s, "$")
	return s
}

func matchesInstrumentGrammar(s string) bool {
	return tickerRe.MatchString(s) || suffixedRe.MatchString(s) || occRe.MatchString(s)
}
