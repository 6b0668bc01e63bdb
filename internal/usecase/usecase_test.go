package usecase_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Lemmeyg/howtobuddy2-sub001/internal/cache"
	"github.com/Lemmeyg/howtobuddy2-sub001/internal/domain"
	"github.com/Lemmeyg/howtobuddy2-sub001/internal/repository/mock"
	"github.com/Lemmeyg/howtobuddy2-sub001/internal/usecase"
)

func TestSubmitJob_Success(t *testing.T) {
	store := mock.NewJobStore()
	uc := usecase.NewSubmitJobUsecase(store, zap.NewNop())

	resp, err := uc.Execute(context.Background(), &domain.SubmitRequest{SourceRef: "https://example.com/video-A"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Status != string(domain.StatusPending) {
		t.Errorf("expected PENDING response, got %s", resp.Status)
	}

	job := store.Get(resp.JobID)
	if job == nil {
		t.Fatal("job was not persisted")
	}
	if job.Status != domain.StatusPending {
		t.Errorf("expected PENDING, got %s", job.Status)
	}
	if job.SourceRef != "https://example.com/video-A" {
		t.Errorf("unexpected source ref: %q", job.SourceRef)
	}
}

func TestSubmitJob_TrimsWhitespace(t *testing.T) {
	store := mock.NewJobStore()
	uc := usecase.NewSubmitJobUsecase(store, zap.NewNop())

	resp, err := uc.Execute(context.Background(), &domain.SubmitRequest{SourceRef: "  video-A  "})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := store.Get(resp.JobID).SourceRef; got != "video-A" {
		t.Errorf("expected trimmed source ref, got %q", got)
	}
}

func TestSubmitJob_InvalidSourceRef(t *testing.T) {
	store := mock.NewJobStore()
	uc := usecase.NewSubmitJobUsecase(store, zap.NewNop())

	cases := []struct {
		name      string
		sourceRef string
		want      error
	}{
		{"empty", "", domain.ErrEmptySourceRef},
		{"whitespace only", "   ", domain.ErrEmptySourceRef},
		{"too long", strings.Repeat("a", 2049), domain.ErrSourceRefTooLong},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := uc.Execute(context.Background(), &domain.SubmitRequest{SourceRef: tc.sourceRef})
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
	if len(store.Jobs) != 0 {
		t.Errorf("expected no jobs persisted, got %d", len(store.Jobs))
	}
}

func TestSubmitJob_IDsAreTimeOrdered(t *testing.T) {
	store := mock.NewJobStore()
	uc := usecase.NewSubmitJobUsecase(store, zap.NewNop())

	first, err := uc.Execute(context.Background(), &domain.SubmitRequest{SourceRef: "video-A"})
	if err != nil {
		t.Fatal(err)
	}
	second, err := uc.Execute(context.Background(), &domain.SubmitRequest{SourceRef: "video-B"})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Compare(first.JobID.String(), second.JobID.String()) >= 0 {
		t.Errorf("expected v7 IDs to sort by creation: %s !< %s", first.JobID, second.JobID)
	}
}

func TestSubmitJob_StoreFailure(t *testing.T) {
	store := mock.NewJobStore()
	store.CreateFn = func(ctx context.Context, job *domain.Job) error {
		return errors.New("connection refused")
	}
	uc := usecase.NewSubmitJobUsecase(store, zap.NewNop())

	if _, err := uc.Execute(context.Background(), &domain.SubmitRequest{SourceRef: "video-A"}); err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestGetJob_Found(t *testing.T) {
	store := mock.NewJobStore()
	id, _ := uuid.NewV7()
	store.Put(&domain.Job{JobID: id, SourceRef: "video-A", Status: domain.StatusProcessing})

	uc := usecase.NewGetJobUsecase(store, cache.New(), time.Minute, zap.NewNop())

	job, err := uc.Execute(context.Background(), id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.JobID != id || job.Status != domain.StatusProcessing {
		t.Errorf("unexpected job: %+v", job)
	}
}

func TestGetJob_NotFound(t *testing.T) {
	uc := usecase.NewGetJobUsecase(mock.NewJobStore(), cache.New(), time.Minute, zap.NewNop())

	id, _ := uuid.NewV7()
	if _, err := uc.Execute(context.Background(), id); !errors.Is(err, domain.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestGetJob_SecondReadServedFromCache(t *testing.T) {
	store := mock.NewJobStore()
	id, _ := uuid.NewV7()
	store.Put(&domain.Job{JobID: id, SourceRef: "video-A", Status: domain.StatusProcessing})

	var mu sync.Mutex
	reads := 0
	store.GetByIDFn = func(ctx context.Context, jobID uuid.UUID) (*domain.Job, error) {
		mu.Lock()
		reads++
		mu.Unlock()
		return store.Get(jobID), nil
	}

	uc := usecase.NewGetJobUsecase(store, cache.New(), time.Minute, zap.NewNop())

	for i := 0; i < 3; i++ {
		if _, err := uc.Execute(context.Background(), id); err != nil {
			t.Fatalf("read %d: unexpected error: %v", i+1, err)
		}
	}
	if reads != 1 {
		t.Errorf("expected 1 store read, got %d", reads)
	}
}

// Test: a status transition invalidates the cached snapshot through the
// job's tag, so the next read sees the new state.
func TestGetJob_TagInvalidationRefreshes(t *testing.T) {
	store := mock.NewJobStore()
	id, _ := uuid.NewV7()
	store.Put(&domain.Job{JobID: id, SourceRef: "video-A", Status: domain.StatusProcessing})

	c := cache.New()
	uc := usecase.NewGetJobUsecase(store, c, time.Minute, zap.NewNop())

	job, err := uc.Execute(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != domain.StatusProcessing {
		t.Fatalf("expected PROCESSING, got %s", job.Status)
	}

	result := "transcript text"
	if err := store.UpdateStatus(context.Background(), id, domain.StatusProcessing, domain.StatusCompleted,
		domain.StatusFields{Result: &result}); err != nil {
		t.Fatal(err)
	}
	c.InvalidateByTag(cache.JobTag(id))

	job, err = uc.Execute(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != domain.StatusCompleted || job.Result != "transcript text" {
		t.Errorf("expected refreshed COMPLETED snapshot, got %s %q", job.Status, job.Result)
	}
}
