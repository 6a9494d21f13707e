package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/prado2016/investra-ai-sub010/src/config"
	"github.com/prado2016/investra-ai-sub010/src/dedupe"
	"github.com/prado2016/investra-ai-sub010/src/ledger"
	"github.com/prado2016/investra-ai-sub010/src/logger"
	"github.com/prado2016/investra-ai-sub010/src/mailbox"
	"github.com/prado2016/investra-ai-sub010/src/models"
	"github.com/prado2016/investra-ai-sub010/src/parsers"
	"github.com/prado2016/investra-ai-sub010/src/portfolio"
	"github.com/prado2016/investra-ai-sub010/src/store"
	"github.com/prado2016/investra-ai-sub010/src/symbols"
)

// MailboxFactory builds a mailbox client for one configuration. Injected so
// tests run without an IMAP server.
type MailboxFactory func(cfg config.MailboxConfig) mailbox.Client

// ParserFactory selects a grammar for a sender address.
type ParserFactory func(fromAddress string) (parsers.Parser, error)

const defaultAccountType = "Cash"

type syncServiceImpl struct {
	mailboxes  []config.MailboxConfig
	newClient  MailboxFactory
	getParser  ParserFactory
	store      *store.MessageStore
	resolver   *symbols.Resolver
	detector   *dedupe.Detector
	mapper     *portfolio.Mapper
	writer     *ledger.Writer
	ledger     ledger.Client
	notifier   Notifier

	maxPerCycle   int
	minAutoAccept float64
}

func NewSyncService(
	mailboxes []config.MailboxConfig,
	newClient MailboxFactory,
	getParser ParserFactory,
	messageStore *store.MessageStore,
	resolver *symbols.Resolver,
	detector *dedupe.Detector,
	mapper *portfolio.Mapper,
	writer *ledger.Writer,
	ledgerClient ledger.Client,
	notifier Notifier,
	maxPerCycle int,
	minAutoAccept float64,
) SyncService {
	if maxPerCycle <= 0 {
		maxPerCycle = 50
	}
	return &syncServiceImpl{
		mailboxes:     mailboxes,
		newClient:     newClient,
		getParser:     getParser,
		store:         messageStore,
		resolver:      resolver,
		detector:      detector,
		mapper:        mapper,
		writer:        writer,
		ledger:        ledgerClient,
		notifier:      notifier,
		maxPerCycle:   maxPerCycle,
		minAutoAccept: minAutoAccept,
	}
}

// runCollector accumulates the run summary and review digest across mailbox
// workers.
type runCollector struct {
	mu      sync.Mutex
	summary *models.SyncRunSummary
	reviews []ReviewItem
}

func (rc *runCollector) addError(e models.SyncError) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.summary.Errors = append(rc.summary.Errors, e)
}

func (rc *runCollector) addOutcome(outcome models.Outcome) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.summary.Outcomes[outcome]++
	rc.summary.TotalEmailsSynced++
}

func (rc *runCollector) addReview(item ReviewItem) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.reviews = append(rc.reviews, item)
}

func (rc *runCollector) mailboxDone() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.summary.ConfigurationsSynced++
}

// SyncAll runs one cycle: each mailbox gets its own worker, no mutable state
// is shared between them except the collector. A per-message failure never
// aborts the batch; only the summary records it.
func (s *syncServiceImpl) SyncAll(ctx context.Context, trigger string) *models.SyncRunSummary {
	rc := &runCollector{
		summary: &models.SyncRunSummary{
			RunID:               uuid.NewString(),
			Trigger:             trigger,
			StartedAt:           time.Now().UTC(),
			Outcomes:            make(map[models.Outcome]int),
			ConfigurationsTotal: len(s.mailboxes),
		},
	}
	logger.L.Info("Sync cycle START", "runID", rc.summary.RunID, "trigger", trigger, "mailboxes", len(s.mailboxes))

	if trigger == "scheduled" {
		s.drainSyncRequests(ctx, rc)
	}

	var wg sync.WaitGroup
	for _, cfg := range s.mailboxes {
		wg.Add(1)
		go func(cfg config.MailboxConfig) {
			defer wg.Done()
			s.syncMailbox(ctx, cfg, rc)
		}(cfg)
	}
	wg.Wait()

	rc.summary.FinishedAt = time.Now().UTC()

	if len(rc.reviews) > 0 && s.notifier != nil {
		if err := s.notifier.NotifyReviewRequired(rc.reviews); err != nil {
			logger.L.Warn("Review digest delivery failed", "error", err)
		}
	}

	logger.L.Info("Sync cycle END",
		"runID", rc.summary.RunID,
		"emails", rc.summary.TotalEmailsSynced,
		"mailboxesSynced", rc.summary.ConfigurationsSynced,
		"errors", len(rc.summary.Errors),
		"duration", rc.summary.FinishedAt.Sub(rc.summary.StartedAt))
	return rc.summary
}

// drainSyncRequests acknowledges externally queued on-demand syncs; the cycle
// that is about to run satisfies them.
func (s *syncServiceImpl) drainSyncRequests(ctx context.Context, rc *runCollector) {
	reqs, err := s.ledger.ListPendingSyncRequests(ctx)
	if err != nil {
		logger.L.Warn("Listing pending sync requests failed", "error", err)
		return
	}
	for _, req := range reqs {
		if err := s.ledger.MarkSyncRequestComplete(ctx, req.ID); err != nil {
			rc.addError(models.SyncError{Stage: "sync-request", Message: fmt.Sprintf("marking request %s complete: %v", req.ID, err)})
			continue
		}
		logger.L.Info("Sync request acknowledged", "requestID", req.ID, "mailboxID", req.MailboxID)
	}
}

func (s *syncServiceImpl) syncMailbox(ctx context.Context, cfg config.MailboxConfig, rc *runCollector) {
	client := s.newClient(cfg)

	err := withRetry(ctx, 3, 2*time.Second, func() error { return client.Connect() })
	if err != nil {
		rc.addError(models.SyncError{MailboxID: cfg.ID, Stage: "connect", Message: err.Error()})
		logger.L.Error("Mailbox connect failed after retries", "mailboxID", cfg.ID, "error", err)
		return
	}
	defer client.Close()

	s.stageNewMessages(ctx, cfg, client, rc)
	s.processInbox(ctx, cfg, client, rc)
	rc.mailboxDone()
}

// stageNewMessages pulls messages above the watermark into the inbox table.
// Staging stops at the first fetch that fails its retries so the watermark
// never advances past an unfetched message.
func (s *syncServiceImpl) stageNewMessages(ctx context.Context, cfg config.MailboxConfig, client mailbox.Client, rc *runCollector) {
	watermark, err := s.store.Watermark(cfg.ID)
	if err != nil {
		rc.addError(models.SyncError{MailboxID: cfg.ID, Stage: "watermark", Message: err.Error()})
		return
	}

	uids, err := client.ListSince(watermark)
	if err != nil {
		rc.addError(models.SyncError{MailboxID: cfg.ID, Stage: "list", Message: err.Error()})
		return
	}
	logger.L.Debug("Mailbox listed", "mailboxID", cfg.ID, "watermark", watermark, "newMessages", len(uids))

	staged := 0
	for _, uid := range uids {
		if staged >= s.maxPerCycle {
			logger.L.Info("Max emails per cycle reached while staging", "mailboxID", cfg.ID, "max", s.maxPerCycle)
			break
		}
		if ctx.Err() != nil {
			return
		}

		var msg *models.RawMessage
		err := withRetry(ctx, 2, time.Second, func() error {
			var ferr error
			msg, ferr = client.Fetch(uid)
			return ferr
		})
		if err != nil {
			rc.addError(models.SyncError{MailboxID: cfg.ID, MessageUID: uid, Stage: "fetch", Message: err.Error()})
			return // retried next cycle; do not advance past it
		}

		if _, err := s.store.StageIncoming(msg); err != nil {
			rc.addError(models.SyncError{MailboxID: cfg.ID, MessageUID: uid, Stage: "stage", Message: err.Error()})
			return
		}
		if err := s.store.AdvanceWatermark(cfg.ID, uid); err != nil {
			rc.addError(models.SyncError{MailboxID: cfg.ID, MessageUID: uid, Stage: "watermark", Message: err.Error()})
			return
		}
		staged++
	}
}

// processInbox drains staged messages in receive order. Every message reaches
// exactly one terminal outcome; the store archive is the unit of completion,
// the mailbox archive merely keeps the remote folder tidy.
func (s *syncServiceImpl) processInbox(ctx context.Context, cfg config.MailboxConfig, client mailbox.Client, rc *runCollector) {
	msgs, err := s.store.ListInbox(cfg.ID, s.maxPerCycle)
	if err != nil {
		rc.addError(models.SyncError{MailboxID: cfg.ID, Stage: "inbox", Message: err.Error()})
		return
	}

	for i := range msgs {
		if ctx.Err() != nil {
			logger.L.Info("Shutdown requested, stopping before next message", "mailboxID", cfg.ID)
			return
		}
		msg := &msgs[i]

		outcome, detail := s.processMessage(ctx, msg)

		if err := s.store.Archive(msg.ID, outcome, detail); err != nil {
			if errors.Is(err, store.ErrAlreadyArchived) {
				continue
			}
			rc.addError(models.SyncError{MailboxID: cfg.ID, MessageUID: msg.MessageUID, Stage: "archive", Message: err.Error()})
			continue
		}
		if err := client.Archive(msg.MessageUID, outcome); err != nil {
			// Not fatal: the processed table prevents reprocessing even if
			// the message lingers in the remote folder.
			logger.L.Warn("Mailbox archive failed", "mailboxID", cfg.ID, "uid", msg.MessageUID, "error", err)
		}

		rc.addOutcome(outcome)
		if outcome == models.OutcomeReviewRequired || outcome == models.OutcomeDuplicate {
			rc.addReview(ReviewItem{MailboxID: cfg.ID, Subject: msg.Subject, Outcome: outcome, Reason: detail})
		}
		if outcome == models.OutcomeError {
			rc.addError(models.SyncError{MailboxID: cfg.ID, MessageUID: msg.MessageUID, Stage: "process", Message: detail})
		}
	}
}

// processMessage runs one message through parse → resolve → dedupe → map →
// write and returns its terminal outcome.
func (s *syncServiceImpl) processMessage(ctx context.Context, msg *models.RawMessage) (models.Outcome, string) {
	parser, err := s.getParser(msg.FromAddress)
	if err != nil {
		return models.OutcomeParseFailed, err.Error()
	}

	candidate, err := parser.Parse(msg)
	if err != nil {
		return models.OutcomeParseFailed, err.Error()
	}

	resolved := s.resolver.Resolve(ctx, candidate.SymbolRaw, symbols.LookupContext{
		TransactionType: candidate.TransactionType,
		Description:     msg.Subject,
	})

	if resolved.NeedsReview || resolved.Confidence < s.minAutoAccept {
		return models.OutcomeReviewRequired,
			fmt.Sprintf("symbol resolution %s -> %s (source %s, confidence %.2f) below auto-accept threshold %.2f",
				candidate.SymbolRaw, resolved.NormalizedSymbol, resolved.Source, resolved.Confidence, s.minAutoAccept)
	}
	if candidate.Confidence < s.minAutoAccept {
		return models.OutcomeReviewRequired,
			fmt.Sprintf("parse confidence %.2f (%s) below auto-accept threshold %.2f",
				candidate.Confidence, candidate.ParseMethod, s.minAutoAccept)
	}

	accountType := candidate.AccountType
	if accountType == "" {
		accountType = defaultAccountType
	}
	mapping, err := s.mapper.MapOrCreate(ctx, accountType)
	if err != nil {
		return models.OutcomeError, fmt.Sprintf("portfolio mapping for %q: %v", accountType, err)
	}

	verdict := s.detector.Check(ctx, candidate, resolved.NormalizedSymbol, mapping.PortfolioID)
	if verdict.IsDuplicate {
		return models.OutcomeDuplicate, verdict.Reason
	}

	var written models.Transaction
	err = withRetry(ctx, 2, time.Second, func() error {
		var werr error
		written, werr = s.writer.Write(ctx, mapping.PortfolioID, resolved, candidate)
		return werr
	})
	if err != nil {
		return models.OutcomeError, fmt.Sprintf("transaction write: %v", err)
	}

	return models.OutcomeSuccess,
		fmt.Sprintf("transaction %s created (%s %g %s @ %g)", written.ID, candidate.TransactionType,
			candidate.Quantity, resolved.NormalizedSymbol, candidate.Price)
}

// withRetry runs fn up to attempts times with exponential backoff, stopping
// early when the context is done.
func withRetry(ctx context.Context, attempts int, baseDelay time.Duration, fn func() error) error {
	var err error
	delay := baseDelay
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}
