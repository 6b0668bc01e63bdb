package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Lemmeyg/howtobuddy2-sub001/internal/domain"
	"github.com/Lemmeyg/howtobuddy2-sub001/internal/repository"
)

// Ensure pgJobStore implements repository.JobStore.
var _ repository.JobStore = (*pgJobStore)(nil)

type pgJobStore struct {
	pool *pgxpool.Pool
}

// NewPostgresJobStore creates a new PostgreSQL-backed job store.
func NewPostgresJobStore(pool *pgxpool.Pool) repository.JobStore {
	return &pgJobStore{pool: pool}
}

const jobColumns = `job_id, source_ref, provider_job_id, status, result, error_detail, created_at, updated_at`

func scanJob(row pgx.Row) (*domain.Job, error) {
	job := &domain.Job{}
	var providerJobID, result, errorDetail *string
	err := row.Scan(
		&job.JobID, &job.SourceRef, &providerJobID, &job.Status,
		&result, &errorDetail, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if providerJobID != nil {
		job.ProviderJobID = *providerJobID
	}
	if result != nil {
		job.Result = *result
	}
	if errorDetail != nil {
		job.ErrorDetail = *errorDetail
	}
	return job, nil
}

func (s *pgJobStore) Create(ctx context.Context, job *domain.Job) error {
	query := `
		INSERT INTO transcription_jobs (job_id, source_ref, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)`

	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx, query, job.JobID, job.SourceRef, job.Status, now, now)
	if err != nil {
		return fmt.Errorf("postgres: create job: %w", err)
	}
	job.CreatedAt = now
	job.UpdatedAt = now
	return nil
}

func (s *pgJobStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM transcription_jobs WHERE job_id = $1`

	job, err := scanJob(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("postgres: get job by id: %w", err)
	}
	return job, nil
}

func (s *pgJobStore) GetByProviderJobID(ctx context.Context, providerJobID string) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM transcription_jobs WHERE provider_job_id = $1`

	job, err := scanJob(s.pool.QueryRow(ctx, query, providerJobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("postgres: get job by provider id: %w", err)
	}
	return job, nil
}

// ClaimOldestPending uses FOR UPDATE SKIP LOCKED so concurrent claimers
// skip rows another transaction is mid-claim on instead of blocking.
func (s *pgJobStore) ClaimOldestPending(ctx context.Context) (*domain.Job, error) {
	query := `
		UPDATE transcription_jobs
		SET status = $1, updated_at = $2
		WHERE job_id = (
			SELECT job_id FROM transcription_jobs
			WHERE status = $3
			ORDER BY created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + jobColumns

	job, err := scanJob(s.pool.QueryRow(ctx, query,
		domain.StatusProcessing, time.Now().UTC(), domain.StatusPending))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: claim pending job: %w", err)
	}
	return job, nil
}

func (s *pgJobStore) UpdateStatus(ctx context.Context, id uuid.UUID, from, to domain.JobStatus, fields domain.StatusFields) error {
	query := `
		UPDATE transcription_jobs
		SET status = $1,
		    provider_job_id = COALESCE($2, provider_job_id),
		    result = COALESCE($3, result),
		    error_detail = COALESCE($4, error_detail),
		    updated_at = $5
		WHERE job_id = $6 AND status = $7`

	tag, err := s.pool.Exec(ctx, query,
		to, fields.ProviderJobID, fields.Result, fields.ErrorDetail,
		time.Now().UTC(), id, from,
	)
	if err != nil {
		return fmt.Errorf("postgres: update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a lost race from a missing job.
		if _, err := s.GetByID(ctx, id); err != nil {
			return err
		}
		return domain.ErrStatusConflict
	}
	return nil
}
