package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/prado2016/investra-ai-sub010/src/logger"
	"github.com/prado2016/investra-ai-sub010/src/models"
)

var (
	// ErrNotFound is returned when a message id matches no inbox row.
	ErrNotFound = errors.New("message not found in inbox")
	// ErrAlreadyArchived is returned when Archive is called twice for a message.
	ErrAlreadyArchived = errors.New("message already archived")
)

// MessageStore is the durable staging area between the mailbox and the
// pipeline: an inbox of fetched-but-unprocessed messages and an archive of
// messages that already reached a terminal outcome.
type MessageStore struct {
	db *sql.DB
}

func NewMessageStore(db *sql.DB) *MessageStore {
	return &MessageStore{db: db}
}

// StageIncoming inserts a fetched message into the inbox. Returns false when
// the (mailbox, uid) pair is already staged or already processed, so a
// re-fetch of the same mailbox message is a no-op.
func (s *MessageStore) StageIncoming(msg *models.RawMessage) (bool, error) {
	var exists int
	err := s.db.QueryRow(
		`SELECT COUNT(1) FROM email_processed WHERE mailbox_id = ? AND message_uid = ?`,
		msg.MailboxID, msg.MessageUID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking processed table: %w", err)
	}
	if exists > 0 {
		return false, nil
	}

	res, err := s.db.Exec(
		`INSERT OR IGNORE INTO email_inbox
		 (mailbox_id, message_uid, received_at, subject, from_address, html_body, text_body, size_bytes)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.MailboxID, msg.MessageUID, msg.ReceivedAt.UTC(), msg.Subject,
		msg.FromAddress, msg.HTMLBody, msg.TextBody, msg.SizeBytes,
	)
	if err != nil {
		return false, fmt.Errorf("staging message uid %d: %w", msg.MessageUID, err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		id, _ := res.LastInsertId()
		msg.ID = id
	}
	return n > 0, nil
}

// ListInbox returns up to limit unprocessed messages for one mailbox, oldest
// receive time first.
func (s *MessageStore) ListInbox(mailboxID string, limit int) ([]models.RawMessage, error) {
	rows, err := s.db.Query(
		`SELECT id, mailbox_id, message_uid, received_at, subject, from_address,
		        COALESCE(html_body, ''), COALESCE(text_body, ''), size_bytes
		 FROM email_inbox WHERE mailbox_id = ? ORDER BY received_at ASC, message_uid ASC LIMIT ?`,
		mailboxID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing inbox for %s: %w", mailboxID, err)
	}
	defer rows.Close()

	var msgs []models.RawMessage
	for rows.Next() {
		var m models.RawMessage
		var receivedAt time.Time
		if err := rows.Scan(&m.ID, &m.MailboxID, &m.MessageUID, &receivedAt,
			&m.Subject, &m.FromAddress, &m.HTMLBody, &m.TextBody, &m.SizeBytes); err != nil {
			return nil, fmt.Errorf("scanning inbox row: %w", err)
		}
		m.ReceivedAt = receivedAt
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// Archive moves one message from the inbox to the processed table with its
// terminal outcome. The move happens in a single database transaction; it is
// the unit of completion for the whole pipeline.
func (s *MessageStore) Archive(messageID int64, outcome models.Outcome, detail string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning archive transaction: %w", err)
	}
	defer tx.Rollback()

	var m models.RawMessage
	var receivedAt time.Time
	err = tx.QueryRow(
		`SELECT mailbox_id, message_uid, received_at, subject, from_address
		 FROM email_inbox WHERE id = ?`, messageID,
	).Scan(&m.MailboxID, &m.MessageUID, &receivedAt, &m.Subject, &m.FromAddress)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("loading inbox row %d: %w", messageID, err)
	}

	res, err := tx.Exec(
		`INSERT OR IGNORE INTO email_processed
		 (mailbox_id, message_uid, received_at, subject, from_address, outcome, outcome_detail)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.MailboxID, m.MessageUID, receivedAt, m.Subject, m.FromAddress, string(outcome), detail,
	)
	if err != nil {
		return fmt.Errorf("inserting processed row: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAlreadyArchived
	}

	if _, err := tx.Exec(`DELETE FROM email_inbox WHERE id = ?`, messageID); err != nil {
		return fmt.Errorf("deleting inbox row %d: %w", messageID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing archive: %w", err)
	}
	logger.L.Debug("Message archived", "mailboxID", m.MailboxID, "uid", m.MessageUID, "outcome", outcome)
	return nil
}

// Outcome returns the terminal outcome recorded for a processed message, or
// ErrNotFound when the message has not been archived.
func (s *MessageStore) Outcome(mailboxID string, uid uint32) (models.Outcome, error) {
	var outcome string
	err := s.db.QueryRow(
		`SELECT outcome FROM email_processed WHERE mailbox_id = ? AND message_uid = ?`,
		mailboxID, uid,
	).Scan(&outcome)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("loading outcome: %w", err)
	}
	return models.Outcome(outcome), nil
}

// Watermark returns the last mailbox UID already staged for a mailbox.
func (s *MessageStore) Watermark(mailboxID string) (uint32, error) {
	var lastUID uint32
	err := s.db.QueryRow(
		`SELECT last_uid FROM mailbox_state WHERE mailbox_id = ?`, mailboxID,
	).Scan(&lastUID)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("loading watermark for %s: %w", mailboxID, err)
	}
	return lastUID, nil
}

// AdvanceWatermark records the highest UID staged so far. It never moves the
// watermark backwards.
func (s *MessageStore) AdvanceWatermark(mailboxID string, uid uint32) error {
	_, err := s.db.Exec(
		`INSERT INTO mailbox_state (mailbox_id, last_uid, updated_at)
		 VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(mailbox_id) DO UPDATE SET
		   last_uid = MAX(last_uid, excluded.last_uid),
		   updated_at = CURRENT_TIMESTAMP`,
		mailboxID, uid,
	)
	if err != nil {
		return fmt.Errorf("advancing watermark for %s: %w", mailboxID, err)
	}
	return nil
}

// InboxCount reports the number of unprocessed messages for a mailbox.
func (s *MessageStore) InboxCount(mailboxID string) (int, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(1) FROM email_inbox WHERE mailbox_id = ?`, mailboxID,
	).Scan(&n)
	return n, err
}
