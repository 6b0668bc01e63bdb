package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Lemmeyg/howtobuddy2-sub001/internal/cache"
	"github.com/Lemmeyg/howtobuddy2-sub001/internal/domain"
	"github.com/Lemmeyg/howtobuddy2-sub001/internal/repository"
)

// GetJobUsecase serves job status snapshots, fronted by the cache. Entries
// carry the job's invalidation tag, so every persisted transition drops
// them and readers never see a stale terminal state for long; the short TTL
// bounds staleness for anything the tag misses.
type GetJobUsecase struct {
	store  repository.JobStore
	cache  *cache.Cache
	ttl    time.Duration
	logger *zap.Logger
}

// NewGetJobUsecase creates a new GetJobUsecase.
func NewGetJobUsecase(store repository.JobStore, c *cache.Cache, ttl time.Duration, logger *zap.Logger) *GetJobUsecase {
	return &GetJobUsecase{
		store:  store,
		cache:  c,
		ttl:    ttl,
		logger: logger,
	}
}

// Execute retrieves a job by its ID.
func (uc *GetJobUsecase) Execute(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	v, err := uc.cache.WithCache(cache.JobKey(id), func() (interface{}, error) {
		return uc.store.GetByID(ctx, id)
	}, cache.Options{TTL: uc.ttl, Tags: []string{cache.JobTag(id)}})
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			uc.logger.Debug("Job not found", zap.String("job_id", id.String()))
			return nil, domain.ErrJobNotFound
		}
		return nil, err
	}
	return v.(*domain.Job), nil
}
