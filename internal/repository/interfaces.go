package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/Lemmeyg/howtobuddy2-sub001/internal/domain"
)

// JobStore defines the interface for job persistence operations.
// Implementations must be safe for concurrent use.
type JobStore interface {
	// Create inserts a new job into the data store.
	Create(ctx context.Context, job *domain.Job) error

	// GetByID retrieves a job by its UUID.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Job, error)

	// GetByProviderJobID retrieves a job by the ID the transcription
	// provider assigned to it. Returns domain.ErrJobNotFound if no job
	// carries that provider ID.
	GetByProviderJobID(ctx context.Context, providerJobID string) (*domain.Job, error)

	// ClaimOldestPending atomically selects the oldest PENDING job and
	// marks it PROCESSING. Returns (nil, nil) when no pending job exists.
	// Two concurrent callers never claim the same job.
	ClaimOldestPending(ctx context.Context) (*domain.Job, error)

	// UpdateStatus conditionally transitions a job from status `from` to
	// status `to`, writing any non-nil fields alongside. It returns
	// domain.ErrStatusConflict when the stored status no longer matches
	// `from`, and domain.ErrJobNotFound when the job does not exist.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to domain.JobStatus, fields domain.StatusFields) error
}

// ClaimLock defines the interface for distributed single-flight locks.
// It backs the cross-instance half of the one-worker-per-job guarantee;
// the in-process half is an atomic flag in the orchestrator.
type ClaimLock interface {
	// Acquire attempts to take an exclusive processing lock for a job.
	// Returns true if the lock was acquired, false if another instance
	// already holds it.
	Acquire(ctx context.Context, jobID uuid.UUID) (bool, error)

	// Release relinquishes the lock with a TTL for eventual cleanup.
	Release(ctx context.Context, jobID uuid.UUID) error
}
