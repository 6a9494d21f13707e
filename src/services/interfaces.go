package services

import (
	"context"

	"github.com/prado2016/investra-ai-sub010/src/models"
)

// SyncService runs one sync cycle across all configured mailboxes and always
// returns a run summary, whether or not every message succeeded.
type SyncService interface {
	SyncAll(ctx context.Context, trigger string) *models.SyncRunSummary
}

// ReviewItem is one message routed to manual review in a cycle.
type ReviewItem struct {
	MailboxID string
	Subject   string
	Outcome   models.Outcome
	Reason    string
}

// Notifier delivers the per-cycle review digest to operators.
type Notifier interface {
	NotifyReviewRequired(items []ReviewItem) error
}
