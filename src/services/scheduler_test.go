package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prado2016/investra-ai-sub010/src/models"
)

// blockingSyncService holds SyncAll open until release is closed, so tests can
// observe an in-flight cycle.
type blockingSyncService struct {
	mu       sync.Mutex
	started  chan struct{}
	release  chan struct{}
	calls    int
	triggers []string
}

func newBlockingSyncService() *blockingSyncService {
	return &blockingSyncService{
		started: make(chan struct{}, 8),
		release: make(chan struct{}),
	}
}

func (b *blockingSyncService) SyncAll(ctx context.Context, trigger string) *models.SyncRunSummary {
	b.mu.Lock()
	b.calls++
	b.triggers = append(b.triggers, trigger)
	b.mu.Unlock()
	b.started <- struct{}{}
	<-b.release
	return &models.SyncRunSummary{
		Trigger:    trigger,
		StartedAt:  time.Now().UTC(),
		FinishedAt: time.Now().UTC(),
		Outcomes:   map[models.Outcome]int{},
	}
}

func (b *blockingSyncService) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

func TestRunOnce_SingleFlight(t *testing.T) {
	svc := newBlockingSyncService()
	sched := NewScheduler(svc, time.Hour, 5)

	done := make(chan error, 1)
	go func() {
		_, err := sched.RunOnce(context.Background(), "manual")
		done <- err
	}()
	<-svc.started
	assert.True(t, sched.Running())

	// A second trigger while the cycle is in flight is rejected, not queued.
	_, err := sched.RunOnce(context.Background(), "manual")
	assert.ErrorIs(t, err, ErrCycleInProgress)
	assert.Equal(t, 1, svc.callCount())

	close(svc.release)
	require.NoError(t, <-done)
	assert.False(t, sched.Running())

	// After the first cycle finished, a new one may start.
	_, err = sched.RunOnce(context.Background(), "manual")
	require.NoError(t, err)
	assert.Equal(t, 2, svc.callCount())
}

func TestRunOnce_RecordsSummaryAndHistory(t *testing.T) {
	svc := newBlockingSyncService()
	close(svc.release)
	sched := NewScheduler(svc, time.Hour, 2)

	require.Nil(t, sched.LastSummary())

	for i := 0; i < 3; i++ {
		_, err := sched.RunOnce(context.Background(), "manual")
		require.NoError(t, err)
	}

	last := sched.LastSummary()
	require.NotNil(t, last)
	assert.Equal(t, "manual", last.Trigger)

	// History is a bounded ring: oldest entries fall off.
	history := sched.History()
	assert.Len(t, history, 2)
	assert.Same(t, last, history[len(history)-1])
}

func TestScheduler_TickRunsScheduledCycle(t *testing.T) {
	svc := newBlockingSyncService()
	close(svc.release)
	sched := NewScheduler(svc, 20*time.Millisecond, 5)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.Start(ctx)

	select {
	case <-svc.started:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler never ticked")
	}
	sched.Stop()

	svc.mu.Lock()
	defer svc.mu.Unlock()
	require.NotEmpty(t, svc.triggers)
	assert.Equal(t, "scheduled", svc.triggers[0])
}

func TestScheduler_StopIsIdempotent(t *testing.T) {
	svc := newBlockingSyncService()
	close(svc.release)
	sched := NewScheduler(svc, time.Hour, 5)
	sched.Start(context.Background())

	sched.Stop()
	sched.Stop()
}
