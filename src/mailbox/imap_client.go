package mailbox

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"

	"github.com/prado2016/investra-ai-sub010/src/config"
	"github.com/prado2016/investra-ai-sub010/src/logger"
	"github.com/prado2016/investra-ai-sub010/src/models"
)

// imapClient implements Client over IMAP with TLS (port 993).
type imapClient struct {
	cfg config.MailboxConfig
	c   *client.Client
}

// NewIMAPClient returns a Client for one configured mailbox. The connection
// is established lazily by Connect.
func NewIMAPClient(cfg config.MailboxConfig) Client {
	return &imapClient{cfg: cfg}
}

func (m *imapClient) Connect() error {
	c, err := client.DialTLS(m.cfg.Addr(), nil)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", m.cfg.Addr(), err)
	}
	if err := c.Login(m.cfg.Username, m.cfg.Password()); err != nil {
		c.Logout()
		return fmt.Errorf("%w: %s@%s: %v", ErrAuth, m.cfg.Username, m.cfg.Host, err)
	}
	if _, err := c.Select(m.cfg.Folder, false); err != nil {
		c.Logout()
		return fmt.Errorf("selecting folder %s: %w", m.cfg.Folder, err)
	}
	m.c = c
	logger.L.Info("Mailbox connected", "mailboxID", m.cfg.ID, "host", m.cfg.Host, "folder", m.cfg.Folder)
	return nil
}

func (m *imapClient) ListSince(sinceUID uint32) ([]uint32, error) {
	if m.c == nil {
		return nil, ErrNotConnected
	}
	criteria := imap.NewSearchCriteria()
	criteria.Uid = new(imap.SeqSet)
	criteria.Uid.AddRange(sinceUID+1, 0) // 0 means "*"

	uids, err := m.c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("searching uids above %d: %w", sinceUID, err)
	}
	// Servers may return an unordered set; processing order must follow UID.
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	// A UID search for (n+1):* returns the last message even when its UID is
	// below the range start. Filter those out.
	filtered := uids[:0]
	for _, uid := range uids {
		if uid > sinceUID {
			filtered = append(filtered, uid)
		}
	}
	return filtered, nil
}

func (m *imapClient) Fetch(uid uint32) (*models.RawMessage, error) {
	if m.c == nil {
		return nil, ErrNotConnected
	}
	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchRFC822Size, imap.FetchUid, section.FetchItem()}

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- m.c.UidFetch(seqset, items, messages)
	}()

	msg := <-messages
	if err := <-done; err != nil {
		return nil, fmt.Errorf("fetching uid %d: %w", uid, err)
	}
	if msg == nil {
		return nil, fmt.Errorf("fetching uid %d: no message returned", uid)
	}

	raw := &models.RawMessage{
		MailboxID:  m.cfg.ID,
		MessageUID: msg.Uid,
		SizeBytes:  int64(msg.Size),
	}
	if env := msg.Envelope; env != nil {
		raw.Subject = env.Subject
		raw.ReceivedAt = env.Date
		if len(env.From) > 0 {
			raw.FromAddress = env.From[0].Address()
		}
	}

	body := msg.GetBody(section)
	if body == nil {
		return nil, fmt.Errorf("fetching uid %d: server returned no body section", uid)
	}
	if err := readBodyParts(body, raw); err != nil {
		return nil, fmt.Errorf("reading body of uid %d: %w", uid, err)
	}
	return raw, nil
}

// readBodyParts walks the MIME structure and captures the text and HTML parts.
func readBodyParts(r io.Reader, raw *models.RawMessage) error {
	mr, err := mail.CreateReader(r)
	if err != nil {
		return err
	}
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		h, ok := p.Header.(*mail.InlineHeader)
		if !ok {
			continue // attachments are out of scope, metadata only
		}
		contentType, _, err := h.ContentType()
		if err != nil {
			continue
		}
		b, err := io.ReadAll(p.Body)
		if err != nil {
			return err
		}
		switch {
		case strings.HasPrefix(contentType, "text/html"):
			raw.HTMLBody = string(b)
		case strings.HasPrefix(contentType, "text/plain"):
			raw.TextBody = string(b)
		}
	}
	return nil
}

func (m *imapClient) Archive(uid uint32, outcome models.Outcome) error {
	if m.c == nil {
		return ErrNotConnected
	}
	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)

	dest := m.cfg.ProcessedFolder
	// Create is a no-op error when the folder already exists.
	_ = m.c.Create(dest)

	if ok, _ := m.c.Support("MOVE"); ok {
		if err := m.c.UidMove(seqset, dest); err != nil {
			return fmt.Errorf("moving uid %d to %s: %w", uid, dest, err)
		}
		return nil
	}

	// Fallback for servers without MOVE: copy, flag deleted, expunge.
	if err := m.c.UidCopy(seqset, dest); err != nil {
		return fmt.Errorf("copying uid %d to %s: %w", uid, dest, err)
	}
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	flags := []interface{}{imap.DeletedFlag}
	if err := m.c.UidStore(seqset, item, flags, nil); err != nil {
		return fmt.Errorf("flagging uid %d deleted: %w", uid, err)
	}
	if err := m.c.Expunge(nil); err != nil {
		return fmt.Errorf("expunging after archive of uid %d: %w", uid, err)
	}
	return nil
}

func (m *imapClient) Close() error {
	if m.c == nil {
		return nil
	}
	err := m.c.Logout()
	m.c = nil
	return err
}
