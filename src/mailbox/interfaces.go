package mailbox

import (
	"errors"

	"github.com/prado2016/investra-ai-sub010/src/models"
)

var (
	// ErrAuth is returned when the mailbox rejects the configured credentials.
	ErrAuth = errors.New("mailbox authentication failed")
	// ErrNotConnected is returned when an operation runs before Connect.
	ErrNotConnected = errors.New("mailbox client not connected")
)

// Client wraps one IMAP mailbox connection. It performs network I/O only; no
// parsing or business logic. Transient failures are retried by the caller.
type Client interface {
	// Connect dials and authenticates, then selects the configured folder.
	Connect() error
	// ListSince returns the UIDs of messages newer than the watermark UID,
	// ascending.
	ListSince(sinceUID uint32) ([]uint32, error)
	// Fetch retrieves one message by UID.
	Fetch(uid uint32) (*models.RawMessage, error)
	// Archive moves a message out of the listing folder so it is not
	// re-listed on the next cycle.
	Archive(uid uint32, outcome models.Outcome) error
	// Close logs out and releases the connection.
	Close() error
}
