package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Lemmeyg/howtobuddy2-sub001/internal/domain"
	"github.com/Lemmeyg/howtobuddy2-sub001/internal/repository"
)

const maxSourceRefLength = 2048

// SubmitJobUsecase creates transcription job records in PENDING state; the
// orchestrator loop picks them up on its next tick.
type SubmitJobUsecase struct {
	store  repository.JobStore
	logger *zap.Logger
}

// NewSubmitJobUsecase creates a new SubmitJobUsecase.
func NewSubmitJobUsecase(store repository.JobStore, logger *zap.Logger) *SubmitJobUsecase {
	return &SubmitJobUsecase{
		store:  store,
		logger: logger,
	}
}

// Execute validates the request, creates the job, and returns its ID.
func (uc *SubmitJobUsecase) Execute(ctx context.Context, req *domain.SubmitRequest) (*domain.SubmitResponse, error) {
	sourceRef := strings.TrimSpace(req.SourceRef)
	if sourceRef == "" {
		return nil, domain.ErrEmptySourceRef
	}
	if len(sourceRef) > maxSourceRefLength {
		return nil, domain.ErrSourceRefTooLong
	}

	// UUIDv7 keeps job IDs time-ordered, matching the FIFO claim order.
	jobID, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate UUIDv7: %w", err)
	}

	job := &domain.Job{
		JobID:     jobID,
		SourceRef: sourceRef,
		Status:    domain.StatusPending,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}

	if err := uc.store.Create(ctx, job); err != nil {
		uc.logger.Error("Failed to create job", zap.Error(err), zap.String("job_id", jobID.String()))
		return nil, fmt.Errorf("create job: %w", err)
	}

	uc.logger.Info("Job submitted",
		zap.String("job_id", jobID.String()),
		zap.String("source_ref", sourceRef),
	)

	return &domain.SubmitResponse{
		JobID:  jobID,
		Status: string(domain.StatusPending),
	}, nil
}
