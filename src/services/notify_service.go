package services

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"
	"time"

	"github.com/mailgun/mailgun-go/v4"

	"github.com/prado2016/investra-ai-sub010/src/config"
	"github.com/prado2016/investra-ai-sub010/src/logger"
)

// NewNotifier builds the review notifier from configuration. Incomplete
// provider configuration falls back to the mock notifier rather than failing
// startup; review outcomes are still recorded in the store either way.
func NewNotifier() Notifier {
	if config.Cfg == nil {
		slog.Error("Configuration (config.Cfg) is nil. Notifier will default to mock.")
		return &MockNotifier{}
	}

	provider := strings.ToLower(config.Cfg.NotifierProvider)
	logger.L.Info("Initializing review notifier", "provider", provider)

	switch provider {
	case "mailgun":
		if config.Cfg.MailgunDomain == "" || config.Cfg.MailgunPrivateAPIKey == "" || config.Cfg.ReviewNotifyTo == "" {
			logger.L.Warn("Mailgun configuration incomplete (Domain, API Key, or ReviewNotifyTo missing). Falling back to MockNotifier.")
			return &MockNotifier{}
		}
		mg := mailgun.NewMailgun(config.Cfg.MailgunDomain, config.Cfg.MailgunPrivateAPIKey)
		logger.L.Info("Mailgun client initialized", "domain", config.Cfg.MailgunDomain)
		return &MailgunNotifier{
			mg:          mg,
			senderEmail: config.Cfg.SenderEmail,
			senderName:  config.Cfg.SenderName,
			notifyTo:    config.Cfg.ReviewNotifyTo,
		}
	case "smtp":
		if config.Cfg.SMTPServer == "" || config.Cfg.SMTPUser == "" || config.Cfg.SMTPPassword == "" || config.Cfg.ReviewNotifyTo == "" {
			logger.L.Warn("SMTP configuration incomplete. Falling back to MockNotifier.")
			return &MockNotifier{}
		}
		return &SMTPNotifier{
			SMTPServer:   config.Cfg.SMTPServer,
			SMTPPort:     config.Cfg.SMTPPort,
			SMTPUser:     config.Cfg.SMTPUser,
			SMTPPassword: config.Cfg.SMTPPassword,
			SenderEmail:  config.Cfg.SenderEmail,
			NotifyTo:     config.Cfg.ReviewNotifyTo,
		}
	default:
		logger.L.Info("Defaulting to MockNotifier.")
		return &MockNotifier{}
	}
}

func digestBody(items []ReviewItem) (subject, body string) {
	subject = fmt.Sprintf("Investra ingest: %d email(s) need manual review", len(items))
	var b strings.Builder
	b.WriteString("The following confirmation emails were staged but not auto-accepted:\n\n")
	for _, item := range items {
		fmt.Fprintf(&b, "- [%s] %q (%s): %s\n", item.MailboxID, item.Subject, item.Outcome, item.Reason)
	}
	b.WriteString("\nReview them in the transactions dashboard.\n")
	return subject, b.String()
}

type MailgunNotifier struct {
	mg          mailgun.Mailgun
	senderEmail string
	senderName  string
	notifyTo    string
}

func (n *MailgunNotifier) NotifyReviewRequired(items []ReviewItem) error {
	if len(items) == 0 {
		return nil
	}
	from := fmt.Sprintf("%s <%s>", n.senderName, n.senderEmail)
	subject, body := digestBody(items)

	message := n.mg.NewMessage(from, subject, body, n.notifyTo)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*20)
	defer cancel()
	resp, id, err := n.mg.Send(ctx, message)
	if err != nil {
		logger.L.Error("Failed to send review digest via Mailgun", "error", err, "to", n.notifyTo, "mailgunResp", resp, "mailgunId", id)
		return fmt.Errorf("mailgun send failed: %w. Response: %s", err, resp)
	}
	logger.L.Info("Review digest sent via Mailgun", "to", n.notifyTo, "items", len(items), "id", id)
	return nil
}

type SMTPNotifier struct {
	SMTPServer   string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	SenderEmail  string
	NotifyTo     string
}

func (n *SMTPNotifier) NotifyReviewRequired(items []ReviewItem) error {
	if len(items) == 0 {
		return nil
	}
	subject, body := digestBody(items)

	header := map[string]string{
		"From":         n.SenderEmail,
		"To":           n.NotifyTo,
		"Subject":      subject,
		"MIME-version": "1.0",
		"Content-Type": `text/plain; charset="UTF-8"`,
	}
	var message strings.Builder
	for k, v := range header {
		fmt.Fprintf(&message, "%s: %s\r\n", k, v)
	}
	message.WriteString("\r\n" + body)

	auth := smtp.PlainAuth("", n.SMTPUser, n.SMTPPassword, n.SMTPServer)
	addr := fmt.Sprintf("%s:%d", n.SMTPServer, n.SMTPPort)
	if err := smtp.SendMail(addr, auth, n.SenderEmail, []string{n.NotifyTo}, []byte(message.String())); err != nil {
		logger.L.Error("Failed to send review digest via SMTP", "error", err, "to", n.NotifyTo)
		return fmt.Errorf("failed to send review digest via SMTP: %w", err)
	}
	logger.L.Info("Review digest sent via SMTP", "to", n.NotifyTo, "items", len(items))
	return nil
}

// MockNotifier logs the digest instead of sending it.
type MockNotifier struct {
	Sent [][]ReviewItem // recorded for tests
}

func (n *MockNotifier) NotifyReviewRequired(items []ReviewItem) error {
	if len(items) == 0 {
		return nil
	}
	n.Sent = append(n.Sent, items)
	logger.L.Info("MOCK notifier: review digest", "items", len(items))
	return nil
}
