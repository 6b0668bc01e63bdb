package orchestrator_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Lemmeyg/howtobuddy2-sub001/internal/cache"
	"github.com/Lemmeyg/howtobuddy2-sub001/internal/config"
	"github.com/Lemmeyg/howtobuddy2-sub001/internal/domain"
	"github.com/Lemmeyg/howtobuddy2-sub001/internal/events"
	eventsmock "github.com/Lemmeyg/howtobuddy2-sub001/internal/events/mock"
	"github.com/Lemmeyg/howtobuddy2-sub001/internal/orchestrator"
	"github.com/Lemmeyg/howtobuddy2-sub001/internal/provider"
	providermock "github.com/Lemmeyg/howtobuddy2-sub001/internal/provider/mock"
	"github.com/Lemmeyg/howtobuddy2-sub001/internal/registry"
	"github.com/Lemmeyg/howtobuddy2-sub001/internal/repository/mock"
)

// fakeConn satisfies registry.Conn and records the events written to it.
type fakeConn struct {
	mu     sync.Mutex
	writes []interface{}
}

func (c *fakeConn) SetWriteDeadline(t time.Time) error { return nil }

func (c *fakeConn) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, v)
	return nil
}

func (c *fakeConn) WriteControl(messageType int, data []byte, deadline time.Time) error { return nil }

func (c *fakeConn) Close() error { return nil }

func (c *fakeConn) statusEvents(t *testing.T) []*domain.StatusEvent {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	evs := make([]*domain.StatusEvent, 0, len(c.writes))
	for _, w := range c.writes {
		ev, ok := w.(*domain.StatusEvent)
		if !ok {
			t.Fatalf("unexpected write type %T", w)
		}
		evs = append(evs, ev)
	}
	return evs
}

func testWorkerConfig() config.WorkerConfig {
	return config.WorkerConfig{
		TickInterval:        10 * time.Millisecond,
		PollInitialInterval: time.Millisecond,
		PollMaxInterval:     4 * time.Millisecond,
		PollMaxWait:         time.Second,
		MaxTransientRetries: 3,
		RetryBackoff:        time.Millisecond,
		PersistRetries:      2,
		PersistBackoff:      time.Millisecond,
	}
}

func newTestOrchestrator(store *mock.JobStore, lock *mock.ClaimLock, prov *providermock.Transcriber, bc events.Broadcaster) *orchestrator.Orchestrator {
	return orchestrator.New(store, lock, prov, bc, cache.New(), testWorkerConfig(), zap.NewNop())
}

func pendingJob(sourceRef string) *domain.Job {
	id, _ := uuid.NewV7()
	return &domain.Job{
		JobID:     id,
		SourceRef: sourceRef,
		Status:    domain.StatusPending,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
}

// runningThenFinished returns a PollFn that reports running for n polls and
// then a finished transcript.
func runningThenFinished(n int, transcript string) func(ctx context.Context, id string) (*provider.PollResult, error) {
	var mu sync.Mutex
	polls := 0
	return func(ctx context.Context, id string) (*provider.PollResult, error) {
		mu.Lock()
		defer mu.Unlock()
		polls++
		if polls <= n {
			return &provider.PollResult{Status: provider.StateRunning}, nil
		}
		return &provider.PollResult{Status: provider.StateFinished, Transcript: transcript}, nil
	}
}

// Test: a pending job is claimed and driven to COMPLETED after two polls.
func TestTick_Success(t *testing.T) {
	store := mock.NewJobStore()
	job := pendingJob("video-A")
	store.Put(job)

	lock := &mock.ClaimLock{}
	prov := &providermock.Transcriber{PollFn: runningThenFinished(2, "transcript text")}
	bc := &eventsmock.Broadcaster{}

	o := newTestOrchestrator(store, lock, prov, bc)
	o.Tick(context.Background())

	final := store.Get(job.JobID)
	if final.Status != domain.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", final.Status)
	}
	if final.Result != "transcript text" {
		t.Errorf("expected result persisted, got %q", final.Result)
	}
	if final.ProviderJobID != "prov-video-A" {
		t.Errorf("expected provider job ID persisted, got %q", final.ProviderJobID)
	}

	evs := bc.EventsFor(job.JobID)
	if len(evs) != 2 {
		t.Fatalf("expected 2 events, got %d", len(evs))
	}
	if evs[0].Status != domain.StatusProcessing || evs[1].Status != domain.StatusCompleted {
		t.Errorf("unexpected event sequence: %s, %s", evs[0].Status, evs[1].Status)
	}
	if evs[1].Result != "transcript text" {
		t.Errorf("expected result in terminal event, got %q", evs[1].Result)
	}

	if len(lock.ReleaseCalls) != 1 {
		t.Errorf("expected claim lock released once, got %d", len(lock.ReleaseCalls))
	}
}

// Test: a subscriber registered before the claim observes exactly the
// PROCESSING and COMPLETED events, in order, through a real registry.
func TestTick_EndToEndWithRegistry(t *testing.T) {
	store := mock.NewJobStore()
	job := pendingJob("video-A")
	store.Put(job)

	reg := registry.New(30*time.Second, time.Second, zap.NewNop())
	conn := &fakeConn{}
	reg.Subscribe(job.JobID, conn)

	prov := &providermock.Transcriber{PollFn: runningThenFinished(2, "transcript text")}
	o := newTestOrchestrator(store, &mock.ClaimLock{}, prov, reg)
	o.Tick(context.Background())

	evs := conn.statusEvents(t)
	if len(evs) != 2 {
		t.Fatalf("expected exactly 2 events delivered, got %d", len(evs))
	}
	if evs[0].Status != domain.StatusProcessing {
		t.Errorf("first event: expected PROCESSING, got %s", evs[0].Status)
	}
	if evs[1].Status != domain.StatusCompleted || evs[1].Result != "transcript text" {
		t.Errorf("second event: expected COMPLETED with result, got %s %q", evs[1].Status, evs[1].Result)
	}
}

// Test: no pending job means no activity.
func TestTick_NoPendingJobs(t *testing.T) {
	store := mock.NewJobStore()
	prov := &providermock.Transcriber{}
	bc := &eventsmock.Broadcaster{}

	o := newTestOrchestrator(store, &mock.ClaimLock{}, prov, bc)
	o.Tick(context.Background())

	if len(prov.SubmitCalls) != 0 {
		t.Errorf("expected no submissions, got %d", len(prov.SubmitCalls))
	}
	if bc.Count() != 0 {
		t.Errorf("expected no events, got %d", bc.Count())
	}
}

// Test: a job locked by another instance is returned to PENDING untouched,
// so a later tick can retry it once the lock clears.
func TestTick_LockHeldElsewhere(t *testing.T) {
	store := mock.NewJobStore()
	job := pendingJob("video-A")
	store.Put(job)

	lock := &mock.ClaimLock{
		AcquireFn: func(ctx context.Context, jobID uuid.UUID) (bool, error) {
			return false, nil
		},
	}
	prov := &providermock.Transcriber{}
	bc := &eventsmock.Broadcaster{}

	o := newTestOrchestrator(store, lock, prov, bc)
	o.Tick(context.Background())

	if got := store.Get(job.JobID).Status; got != domain.StatusPending {
		t.Errorf("expected claim rolled back to PENDING, got %s", got)
	}
	if len(prov.SubmitCalls) != 0 {
		t.Errorf("expected no submissions, got %d", len(prov.SubmitCalls))
	}
	if bc.Count() != 0 {
		t.Errorf("expected no events, got %d", bc.Count())
	}
}

// Test: a claim lock failure also rolls the claim back instead of leaving
// the row PROCESSING with no worker driving it.
func TestTick_LockAcquireErrorRollsBackClaim(t *testing.T) {
	store := mock.NewJobStore()
	job := pendingJob("video-A")
	store.Put(job)

	lock := &mock.ClaimLock{
		AcquireFn: func(ctx context.Context, jobID uuid.UUID) (bool, error) {
			return false, errors.New("connection refused")
		},
	}
	prov := &providermock.Transcriber{}
	bc := &eventsmock.Broadcaster{}

	o := newTestOrchestrator(store, lock, prov, bc)
	o.Tick(context.Background())

	if got := store.Get(job.JobID).Status; got != domain.StatusPending {
		t.Errorf("expected claim rolled back to PENDING, got %s", got)
	}
	if len(prov.SubmitCalls) != 0 {
		t.Errorf("expected no submissions, got %d", len(prov.SubmitCalls))
	}
	if bc.Count() != 0 {
		t.Errorf("expected no events, got %d", bc.Count())
	}
}

// Test: at most one pass runs at a time; a tick during an in-flight job
// claims nothing.
func TestTick_SingleFlight(t *testing.T) {
	store := mock.NewJobStore()
	store.Put(pendingJob("video-A"))
	store.Put(pendingJob("video-B"))

	release := make(chan struct{})
	prov := &providermock.Transcriber{
		SubmitFn: func(ctx context.Context, sourceRef string) (string, error) {
			<-release
			return "prov-1", nil
		},
	}
	bc := &eventsmock.Broadcaster{}
	o := newTestOrchestrator(store, &mock.ClaimLock{}, prov, bc)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		o.Tick(context.Background())
	}()

	time.Sleep(20 * time.Millisecond) // let the first tick claim and block in submit
	o.Tick(context.Background())      // must be a no-op while busy

	close(release)
	wg.Wait()

	if store.ClaimCalls != 1 {
		t.Errorf("expected 1 claim, got %d", store.ClaimCalls)
	}
}

// Test: transient submit failures are retried up to the bound.
func TestTick_SubmitTransientRetry(t *testing.T) {
	store := mock.NewJobStore()
	job := pendingJob("video-A")
	store.Put(job)

	var mu sync.Mutex
	attempts := 0
	prov := &providermock.Transcriber{
		SubmitFn: func(ctx context.Context, sourceRef string) (string, error) {
			mu.Lock()
			defer mu.Unlock()
			attempts++
			if attempts <= 2 {
				return "", fmt.Errorf("%w: connection reset", domain.ErrProviderTransient)
			}
			return "prov-1", nil
		},
		PollFn: runningThenFinished(0, "done"),
	}
	bc := &eventsmock.Broadcaster{}

	o := newTestOrchestrator(store, &mock.ClaimLock{}, prov, bc)
	o.Tick(context.Background())

	if attempts != 3 {
		t.Errorf("expected 3 submit attempts, got %d", attempts)
	}
	if store.Get(job.JobID).Status != domain.StatusCompleted {
		t.Errorf("expected COMPLETED, got %s", store.Get(job.JobID).Status)
	}
}

// Test: a non-transient submit failure marks the job ERROR immediately.
func TestTick_SubmitTerminalFailure(t *testing.T) {
	store := mock.NewJobStore()
	job := pendingJob("video-A")
	store.Put(job)

	prov := &providermock.Transcriber{
		SubmitFn: func(ctx context.Context, sourceRef string) (string, error) {
			return "", fmt.Errorf("%w: unsupported media", domain.ErrProviderFailed)
		},
	}
	bc := &eventsmock.Broadcaster{}

	o := newTestOrchestrator(store, &mock.ClaimLock{}, prov, bc)
	o.Tick(context.Background())

	final := store.Get(job.JobID)
	if final.Status != domain.StatusError {
		t.Fatalf("expected ERROR, got %s", final.Status)
	}
	if !strings.Contains(final.ErrorDetail, "provider submission failed") {
		t.Errorf("unexpected error detail: %q", final.ErrorDetail)
	}
	if len(prov.SubmitCalls) != 1 {
		t.Errorf("expected 1 submit attempt, got %d", len(prov.SubmitCalls))
	}
}

// Test: exhausted transient poll retries mark the job ERROR.
func TestTick_PollTransientExhausted(t *testing.T) {
	store := mock.NewJobStore()
	job := pendingJob("video-A")
	store.Put(job)

	prov := &providermock.Transcriber{
		PollFn: func(ctx context.Context, id string) (*provider.PollResult, error) {
			return nil, fmt.Errorf("%w: gateway timeout", domain.ErrProviderTransient)
		},
	}
	bc := &eventsmock.Broadcaster{}

	o := newTestOrchestrator(store, &mock.ClaimLock{}, prov, bc)
	o.Tick(context.Background())

	if store.Get(job.JobID).Status != domain.StatusError {
		t.Fatalf("expected ERROR, got %s", store.Get(job.JobID).Status)
	}
	// Initial attempt plus the configured retries.
	if got := prov.PollCount(); got != 4 {
		t.Errorf("expected 4 poll attempts, got %d", got)
	}
}

// Test: exceeding the maximum total wait marks the job ERROR with a
// timeout detail.
func TestTick_PollTimeout(t *testing.T) {
	store := mock.NewJobStore()
	job := pendingJob("video-A")
	store.Put(job)

	cfg := testWorkerConfig()
	cfg.PollMaxWait = 5 * time.Millisecond
	prov := &providermock.Transcriber{
		PollFn: func(ctx context.Context, id string) (*provider.PollResult, error) {
			return &provider.PollResult{Status: provider.StateRunning}, nil
		},
	}
	bc := &eventsmock.Broadcaster{}
	o := orchestrator.New(store, &mock.ClaimLock{}, prov, bc, cache.New(), cfg, zap.NewNop())

	o.Tick(context.Background())

	final := store.Get(job.JobID)
	if final.Status != domain.StatusError {
		t.Fatalf("expected ERROR, got %s", final.Status)
	}
	if !strings.Contains(final.ErrorDetail, "timed out") {
		t.Errorf("expected timeout detail, got %q", final.ErrorDetail)
	}
}

// Test: a provider-reported failure is persisted as ERROR with its detail.
func TestTick_ProviderReportsFailure(t *testing.T) {
	store := mock.NewJobStore()
	job := pendingJob("video-A")
	store.Put(job)

	prov := &providermock.Transcriber{
		PollFn: func(ctx context.Context, id string) (*provider.PollResult, error) {
			return &provider.PollResult{Status: provider.StateFailed, ErrorDetail: "audio track missing"}, nil
		},
	}
	bc := &eventsmock.Broadcaster{}

	o := newTestOrchestrator(store, &mock.ClaimLock{}, prov, bc)
	o.Tick(context.Background())

	final := store.Get(job.JobID)
	if final.Status != domain.StatusError {
		t.Fatalf("expected ERROR, got %s", final.Status)
	}
	if final.ErrorDetail != "audio track missing" {
		t.Errorf("unexpected error detail: %q", final.ErrorDetail)
	}
}

// Test: losing the terminal CAS to the webhook path discards the polling
// result without a second terminal broadcast.
func TestTick_TerminalConflictDiscarded(t *testing.T) {
	store := mock.NewJobStore()
	job := pendingJob("video-A")
	store.Put(job)
	store.UpdateStatusFn = func(ctx context.Context, id uuid.UUID, from, to domain.JobStatus, fields domain.StatusFields) error {
		if to.IsTerminal() {
			return domain.ErrStatusConflict
		}
		return nil
	}

	prov := &providermock.Transcriber{PollFn: runningThenFinished(0, "late result")}
	bc := &eventsmock.Broadcaster{}

	o := newTestOrchestrator(store, &mock.ClaimLock{}, prov, bc)
	o.Tick(context.Background())

	evs := bc.EventsFor(job.JobID)
	if len(evs) != 1 || evs[0].Status != domain.StatusProcessing {
		t.Fatalf("expected only the PROCESSING event, got %d events", len(evs))
	}
}

// Test: a failed terminal persist is retried and the result is not
// discarded while retries remain.
func TestTick_PersistRetried(t *testing.T) {
	store := mock.NewJobStore()
	job := pendingJob("video-A")
	store.Put(job)

	var mu sync.Mutex
	terminalAttempts := 0
	store.UpdateStatusFn = func(ctx context.Context, id uuid.UUID, from, to domain.JobStatus, fields domain.StatusFields) error {
		if !to.IsTerminal() {
			return nil
		}
		mu.Lock()
		defer mu.Unlock()
		terminalAttempts++
		if terminalAttempts == 1 {
			return errors.New("connection refused")
		}
		return nil
	}

	prov := &providermock.Transcriber{PollFn: runningThenFinished(0, "transcript")}
	bc := &eventsmock.Broadcaster{}

	o := newTestOrchestrator(store, &mock.ClaimLock{}, prov, bc)
	o.Tick(context.Background())

	if terminalAttempts != 2 {
		t.Errorf("expected 2 terminal persist attempts, got %d", terminalAttempts)
	}
	evs := bc.EventsFor(job.JobID)
	if len(evs) != 2 || evs[1].Status != domain.StatusCompleted {
		t.Fatalf("expected terminal broadcast after retry, got %d events", len(evs))
	}
}
