package mock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Lemmeyg/howtobuddy2-sub001/internal/domain"
	"github.com/Lemmeyg/howtobuddy2-sub001/internal/repository"
)

// ---- JobStore mock ----

var _ repository.JobStore = (*JobStore)(nil)

// JobStore is an in-memory test double for repository.JobStore. The default
// behavior applies operations against the Jobs map with the same conflict
// semantics as the real store; per-method Fn fields override it.
type JobStore struct {
	mu sync.Mutex

	Jobs map[uuid.UUID]*domain.Job

	CreateFn             func(ctx context.Context, job *domain.Job) error
	GetByIDFn            func(ctx context.Context, id uuid.UUID) (*domain.Job, error)
	GetByProviderJobIDFn func(ctx context.Context, providerJobID string) (*domain.Job, error)
	ClaimOldestPendingFn func(ctx context.Context) (*domain.Job, error)
	UpdateStatusFn       func(ctx context.Context, id uuid.UUID, from, to domain.JobStatus, fields domain.StatusFields) error

	// Recorded calls for assertions.
	StatusUpdates []StatusUpdate
	ClaimCalls    int
}

type StatusUpdate struct {
	ID     uuid.UUID
	From   domain.JobStatus
	To     domain.JobStatus
	Fields domain.StatusFields
}

// NewJobStore creates an empty in-memory job store.
func NewJobStore() *JobStore {
	return &JobStore{Jobs: make(map[uuid.UUID]*domain.Job)}
}

// Put seeds a job, copying it so later mutations don't alias test fixtures.
func (m *JobStore) Put(job *domain.Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Jobs == nil {
		m.Jobs = make(map[uuid.UUID]*domain.Job)
	}
	cp := *job
	m.Jobs[job.JobID] = &cp
}

// Get returns a copy of the stored job, or nil.
func (m *JobStore) Get(id uuid.UUID) *domain.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.Jobs[id]
	if !ok {
		return nil
	}
	cp := *job
	return &cp
}

func (m *JobStore) Create(ctx context.Context, job *domain.Job) error {
	if m.CreateFn != nil {
		return m.CreateFn(ctx, job)
	}
	now := time.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now
	m.Put(job)
	return nil
}

func (m *JobStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	if m.GetByIDFn != nil {
		return m.GetByIDFn(ctx, id)
	}
	if job := m.Get(id); job != nil {
		return job, nil
	}
	return nil, domain.ErrJobNotFound
}

func (m *JobStore) GetByProviderJobID(ctx context.Context, providerJobID string) (*domain.Job, error) {
	if m.GetByProviderJobIDFn != nil {
		return m.GetByProviderJobIDFn(ctx, providerJobID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, job := range m.Jobs {
		if job.ProviderJobID == providerJobID && providerJobID != "" {
			cp := *job
			return &cp, nil
		}
	}
	return nil, domain.ErrJobNotFound
}

func (m *JobStore) ClaimOldestPending(ctx context.Context) (*domain.Job, error) {
	m.mu.Lock()
	m.ClaimCalls++
	m.mu.Unlock()
	if m.ClaimOldestPendingFn != nil {
		return m.ClaimOldestPendingFn(ctx)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	var oldest *domain.Job
	for _, job := range m.Jobs {
		if job.Status != domain.StatusPending {
			continue
		}
		if oldest == nil || job.CreatedAt.Before(oldest.CreatedAt) {
			oldest = job
		}
	}
	if oldest == nil {
		return nil, nil
	}
	oldest.Status = domain.StatusProcessing
	oldest.UpdatedAt = time.Now().UTC()
	cp := *oldest
	return &cp, nil
}

func (m *JobStore) UpdateStatus(ctx context.Context, id uuid.UUID, from, to domain.JobStatus, fields domain.StatusFields) error {
	m.mu.Lock()
	m.StatusUpdates = append(m.StatusUpdates, StatusUpdate{ID: id, From: from, To: to, Fields: fields})
	m.mu.Unlock()
	if m.UpdateStatusFn != nil {
		return m.UpdateStatusFn(ctx, id, from, to, fields)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.Jobs[id]
	if !ok {
		return domain.ErrJobNotFound
	}
	if job.Status != from {
		return domain.ErrStatusConflict
	}
	job.Status = to
	if fields.ProviderJobID != nil {
		job.ProviderJobID = *fields.ProviderJobID
	}
	if fields.Result != nil {
		job.Result = *fields.Result
	}
	if fields.ErrorDetail != nil {
		job.ErrorDetail = *fields.ErrorDetail
	}
	job.UpdatedAt = time.Now().UTC()
	return nil
}

// ---- ClaimLock mock ----

var _ repository.ClaimLock = (*ClaimLock)(nil)

// ClaimLock is a test double for repository.ClaimLock.
type ClaimLock struct {
	mu sync.Mutex

	AcquireFn func(ctx context.Context, jobID uuid.UUID) (bool, error)
	ReleaseFn func(ctx context.Context, jobID uuid.UUID) error

	AcquireCalls []uuid.UUID
	ReleaseCalls []uuid.UUID
}

func (m *ClaimLock) Acquire(ctx context.Context, jobID uuid.UUID) (bool, error) {
	m.mu.Lock()
	m.AcquireCalls = append(m.AcquireCalls, jobID)
	m.mu.Unlock()
	if m.AcquireFn != nil {
		return m.AcquireFn(ctx, jobID)
	}
	return true, nil // default: lock acquired
}

func (m *ClaimLock) Release(ctx context.Context, jobID uuid.UUID) error {
	m.mu.Lock()
	m.ReleaseCalls = append(m.ReleaseCalls, jobID)
	m.mu.Unlock()
	if m.ReleaseFn != nil {
		return m.ReleaseFn(ctx, jobID)
	}
	return nil
}
