package symbols

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/prado2016/investra-ai-sub010/src/logger"
)

// Oracle is the external AI symbol-lookup collaborator. Answers are never
// trusted directly; the resolver validates them against the instrument
// grammar before use.
type Oracle interface {
	LookupSymbol(ctx context.Context, query string) (string, error)
}

type geminiOracle struct {
	client  *genai.Client
	model   string
	limiter *rate.Limiter
}

// NewGeminiOracle builds an Oracle on the Gemini API, rate limited to
// ratePerMinute calls.
func NewGeminiOracle(ctx context.Context, apiKey, model string, ratePerMinute int) (Oracle, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	if ratePerMinute <= 0 {
		ratePerMinute = 10
	}
	return &geminiOracle{
		client:  client,
		model:   model,
		limiter: rate.NewLimiter(rate.Limit(float64(ratePerMinute)/60.0), 1),
	}, nil
}

const lookupPrompt = `You map instrument descriptions from brokerage emails to canonical ticker symbols.
Answer with the ticker symbol only, no punctuation or explanation.
Use OCC format for options (e.g. AAPL240119C00150000) and exchange suffixes for non-US listings (e.g. SHOP.TO).
If you cannot identify a single symbol, answer UNKNOWN.

Description: %s`

func (o *geminiOracle) LookupSymbol(ctx context.Context, query string) (string, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("oracle rate limit wait: %w", err)
	}

	resp, err := o.client.Models.GenerateContent(ctx, o.model,
		genai.Text(fmt.Sprintf(lookupPrompt, query)),
		&genai.GenerateContentConfig{Temperature: genai.Ptr[float32](0)},
	)
	if err != nil {
		return "", fmt.Errorf("gemini lookup for %q: %w", query, err)
	}

	answer := strings.TrimSpace(resp.Text())
	logger.L.Debug("Oracle answered", "query", query, "answer", answer)
	if answer == "" || strings.EqualFold(answer, "UNKNOWN") {
		return "", fmt.Errorf("oracle could not identify %q", query)
	}
	// Models occasionally wrap the answer anyway.
	answer = strings.Trim(answer, "\"'.` ")
	if i := strings.IndexAny(answer, " \n"); i > 0 {
		answer = answer[:i]
	}
	return strings.ToUpper(answer), nil
}
