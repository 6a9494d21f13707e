package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prado2016/investra-ai-sub010/src/logger"
	"github.com/prado2016/investra-ai-sub010/src/models"
)

// ErrCycleInProgress is returned when RunOnce is called while a cycle is
// already running.
var ErrCycleInProgress = errors.New("sync cycle already in progress")

// Scheduler drives the sync service on a fixed interval. Single-flight: a
// tick that fires while a cycle is still running is skipped and logged, never
// queued, so a slow mailbox cannot build an unbounded backlog.
type Scheduler struct {
	svc      SyncService
	interval time.Duration

	running  atomic.Bool // a cycle is executing right now
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}

	mu          sync.RWMutex
	lastSummary *models.SyncRunSummary
	history     []*models.SyncRunSummary
	historySize int
}

func NewScheduler(svc SyncService, interval time.Duration, historySize int) *Scheduler {
	if historySize <= 0 {
		historySize = 20
	}
	return &Scheduler{
		svc:         svc,
		interval:    interval,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
		historySize: historySize,
	}
}

// Start launches the timer loop. ctx cancellation and Stop both end it; the
// in-flight cycle is allowed to finish its current message.
func (s *Scheduler) Start(ctx context.Context) {
	logger.L.Info("Scheduler started", "interval", s.interval)
	go func() {
		defer close(s.doneCh)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := s.run(ctx, "scheduled"); errors.Is(err, ErrCycleInProgress) {
					logger.L.Warn("Sync tick skipped: previous cycle still running")
				}
			case <-ctx.Done():
				logger.L.Info("Scheduler stopping: context cancelled")
				return
			case <-s.stopCh:
				logger.L.Info("Scheduler stopping: stop requested")
				return
			}
		}
	}()
}

// Stop ends the timer loop and waits for it to exit.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.doneCh
}

// RunOnce bypasses the timer for manual or CI-triggered single-shot
// execution. The returned summary is also retained for the status endpoint.
func (s *Scheduler) RunOnce(ctx context.Context, trigger string) (*models.SyncRunSummary, error) {
	return s.run(ctx, trigger)
}

func (s *Scheduler) run(ctx context.Context, trigger string) (*models.SyncRunSummary, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrCycleInProgress
	}
	defer s.running.Store(false)

	summary := s.svc.SyncAll(ctx, trigger)

	s.mu.Lock()
	s.lastSummary = summary
	s.history = append(s.history, summary)
	if len(s.history) > s.historySize {
		s.history = s.history[len(s.history)-s.historySize:]
	}
	s.mu.Unlock()

	return summary, nil
}

// Running reports whether a cycle is currently executing.
func (s *Scheduler) Running() bool { return s.running.Load() }

// LastSummary returns the most recent run summary, or nil before the first
// cycle.
func (s *Scheduler) LastSummary() *models.SyncRunSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSummary
}

// History returns a copy of the retained run summaries, oldest first.
func (s *Scheduler) History() []*models.SyncRunSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.SyncRunSummary, len(s.history))
	copy(out, s.history)
	return out
}
