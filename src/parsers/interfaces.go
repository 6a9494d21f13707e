package parsers

import (
	"errors"

	"github.com/prado2016/investra-ai-sub010/src/models"
)

// ErrNoGrammar is returned when no supported brokerage matches the sender.
var ErrNoGrammar = errors.New("no grammar available for sender")

// Parser extracts a trade candidate from one brokerage's confirmation email
// format. Implementations are pure functions over the message content plus a
// static rule table; a returned error means the message did not describe a
// parseable trade event.
type Parser interface {
	Parse(msg *models.RawMessage) (*models.ParsedTradeCandidate, error)
}
