package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Lemmeyg/howtobuddy2-sub001/internal/cache"
	"github.com/Lemmeyg/howtobuddy2-sub001/internal/config"
	"github.com/Lemmeyg/howtobuddy2-sub001/internal/domain"
	"github.com/Lemmeyg/howtobuddy2-sub001/internal/events"
	"github.com/Lemmeyg/howtobuddy2-sub001/internal/metrics"
	"github.com/Lemmeyg/howtobuddy2-sub001/internal/provider"
	"github.com/Lemmeyg/howtobuddy2-sub001/internal/repository"
)

// Orchestrator is the single-flight background worker. On each tick it
// claims the oldest pending job and drives it through the transcription
// provider to a terminal state before claiming another. At most one job is
// in flight per instance; the store-level conditional claim plus the
// distributed claim lock keep multiple instances from doubling up.
type Orchestrator struct {
	store       repository.JobStore
	lock        repository.ClaimLock
	provider    provider.Transcriber
	broadcaster events.Broadcaster
	cache       *cache.Cache
	cfg         config.WorkerConfig
	logger      *zap.Logger

	busy atomic.Bool
}

// New constructs an Orchestrator with its dependencies injected. Start it
// once at process startup.
func New(
	store repository.JobStore,
	lock repository.ClaimLock,
	prov provider.Transcriber,
	broadcaster events.Broadcaster,
	c *cache.Cache,
	cfg config.WorkerConfig,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		store:       store,
		lock:        lock,
		provider:    prov,
		broadcaster: broadcaster,
		cache:       c,
		cfg:         cfg,
		logger:      logger,
	}
}

// Start runs the worker loop until ctx is cancelled.
func (o *Orchestrator) Start(ctx context.Context) {
	o.logger.Info("Starting orchestrator loop",
		zap.Duration("tick_interval", o.cfg.TickInterval),
	)

	ticker := time.NewTicker(o.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.logger.Info("Orchestrator loop stopped")
			return
		case <-ticker.C:
			o.Tick(ctx)
		}
	}
}

// Tick performs one claim-and-run pass. If a previous pass is still in
// flight the tick is a no-op, so a slow job never stacks work.
func (o *Orchestrator) Tick(ctx context.Context) {
	if !o.busy.CompareAndSwap(false, true) {
		return
	}
	defer o.busy.Store(false)

	job, err := o.claimNext(ctx)
	if err != nil {
		o.logger.Error("Claim failed", zap.Error(err))
		return
	}
	if job == nil {
		return
	}

	o.run(ctx, job)
}

// claimNext atomically claims the oldest pending job, marks it PROCESSING,
// and announces the transition. Returns (nil, nil) when no work is eligible.
func (o *Orchestrator) claimNext(ctx context.Context) (*domain.Job, error) {
	job, err := o.store.ClaimOldestPending(ctx)
	if err != nil || job == nil {
		return nil, err
	}

	acquired, err := o.lock.Acquire(ctx, job.JobID)
	if err != nil {
		o.unclaim(ctx, job.JobID)
		return nil, fmt.Errorf("acquire claim lock: %w", err)
	}
	if !acquired {
		// Another instance holds the lock, or a stale key survived a crash.
		// Either way nobody here will drive the job, so put the row back to
		// PENDING for a later tick instead of stranding it in PROCESSING.
		o.logger.Info("Job locked by another instance, returning claim",
			zap.String("job_id", job.JobID.String()),
		)
		o.unclaim(ctx, job.JobID)
		return nil, nil
	}

	o.announce(ctx, job.JobID, domain.StatusProcessing, "", "")

	o.logger.Info("Claimed job",
		zap.String("job_id", job.JobID.String()),
		zap.String("source_ref", job.SourceRef),
	)
	return job, nil
}

// unclaim rolls a freshly claimed row back to PENDING. Nothing has been
// announced at this point, so subscribers never observe the aborted claim.
// A conflict here means another path moved the job on; leave it alone.
func (o *Orchestrator) unclaim(ctx context.Context, jobID uuid.UUID) {
	err := o.store.UpdateStatus(ctx, jobID, domain.StatusProcessing, domain.StatusPending, domain.StatusFields{})
	if err != nil && !errors.Is(err, domain.ErrStatusConflict) {
		o.logger.Error("Failed to roll back claim",
			zap.String("job_id", jobID.String()), zap.Error(err))
	}
}

// run drives one claimed job to a terminal state: submit to the provider,
// poll with exponential backoff under a total deadline, persist the outcome.
func (o *Orchestrator) run(ctx context.Context, job *domain.Job) {
	defer func() {
		if err := o.lock.Release(ctx, job.JobID); err != nil {
			o.logger.Warn("Failed to release claim lock",
				zap.String("job_id", job.JobID.String()), zap.Error(err))
		}
	}()

	start := time.Now()

	providerJobID, err := o.submitWithRetry(ctx, job.SourceRef)
	if err != nil {
		if ctx.Err() != nil {
			return // shutting down; job is reclaimed on restart
		}
		o.finalize(ctx, job.JobID, domain.StatusError, "", "provider submission failed: "+err.Error())
		return
	}

	// providerJobId is set exactly once, at submission.
	if err := o.store.UpdateStatus(ctx, job.JobID, domain.StatusProcessing, domain.StatusProcessing,
		domain.StatusFields{ProviderJobID: &providerJobID}); err != nil {
		if errors.Is(err, domain.ErrStatusConflict) {
			// A webhook beat us to a terminal state; nothing left to drive.
			o.logger.Info("Job finished out-of-band before provider ID persisted",
				zap.String("job_id", job.JobID.String()),
			)
			return
		}
		o.logger.Error("Failed to persist provider job ID",
			zap.String("job_id", job.JobID.String()), zap.Error(err))
	}

	interval := o.cfg.PollInitialInterval
	deadline := start.Add(o.cfg.PollMaxWait)
	transientRetries := 0

	for {
		if time.Now().After(deadline) {
			o.finalize(ctx, job.JobID, domain.StatusError, "",
				fmt.Sprintf("%v (waited %s)", domain.ErrPollTimeout, o.cfg.PollMaxWait))
			return
		}
		if err := sleep(ctx, interval); err != nil {
			return
		}

		res, err := o.provider.Poll(ctx, providerJobID)
		if err != nil {
			if errors.Is(err, domain.ErrProviderTransient) && transientRetries < o.cfg.MaxTransientRetries {
				transientRetries++
				o.logger.Warn("Transient poll failure, retrying",
					zap.String("job_id", job.JobID.String()),
					zap.Int("attempt", transientRetries),
					zap.Error(err),
				)
				interval = backoff(interval, o.cfg.PollMaxInterval)
				continue
			}
			o.finalize(ctx, job.JobID, domain.StatusError, "", "provider polling failed: "+err.Error())
			return
		}
		transientRetries = 0

		if res.Done() {
			metrics.ProviderPollDuration.Observe(time.Since(start).Seconds())
			if res.Status == provider.StateFinished {
				o.finalize(ctx, job.JobID, domain.StatusCompleted, res.Transcript, "")
			} else {
				detail := res.ErrorDetail
				if detail == "" {
					detail = domain.ErrProviderFailed.Error()
				}
				o.finalize(ctx, job.JobID, domain.StatusError, "", detail)
			}
			return
		}

		interval = backoff(interval, o.cfg.PollMaxInterval)
	}
}

// submitWithRetry submits the source to the provider, retrying transient
// failures up to the configured bound with exponential backoff.
func (o *Orchestrator) submitWithRetry(ctx context.Context, sourceRef string) (string, error) {
	delay := o.cfg.RetryBackoff
	var lastErr error
	for attempt := 0; attempt <= o.cfg.MaxTransientRetries; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, delay); err != nil {
				return "", err
			}
			delay = backoff(delay, o.cfg.PollMaxInterval)
		}

		providerJobID, err := o.provider.Submit(ctx, sourceRef)
		if err == nil {
			return providerJobID, nil
		}
		if !errors.Is(err, domain.ErrProviderTransient) {
			return "", err
		}
		lastErr = err
		o.logger.Warn("Transient submit failure, retrying",
			zap.Int("attempt", attempt+1), zap.Error(err))
	}
	return "", lastErr
}

// finalize persists a terminal transition with bounded retries and, on the
// first successful application, announces it. A conditional-update conflict
// means the webhook path already applied a terminal outcome; the losing
// result is discarded without a broadcast. If persistence retries exhaust,
// the outcome is logged and the job stays in its last persisted state for a
// later reconciliation pass.
func (o *Orchestrator) finalize(ctx context.Context, jobID uuid.UUID, status domain.JobStatus, result, errorDetail string) {
	fields := domain.StatusFields{}
	if result != "" {
		fields.Result = &result
	}
	if errorDetail != "" {
		fields.ErrorDetail = &errorDetail
	}

	var err error
	for attempt := 0; attempt <= o.cfg.PersistRetries; attempt++ {
		if attempt > 0 {
			if sleepErr := sleep(ctx, o.cfg.PersistBackoff); sleepErr != nil {
				break
			}
		}

		err = o.store.UpdateStatus(ctx, jobID, domain.StatusProcessing, status, fields)
		if err == nil {
			o.announce(ctx, jobID, status, result, errorDetail)
			metrics.JobsProcessedTotal.WithLabelValues(string(status), "worker").Inc()
			o.logger.Info("Job finished",
				zap.String("job_id", jobID.String()),
				zap.String("status", string(status)),
			)
			return
		}
		if errors.Is(err, domain.ErrStatusConflict) {
			o.logger.Info("Terminal result discarded, webhook applied first",
				zap.String("job_id", jobID.String()),
				zap.String("status", string(status)),
			)
			return
		}
		if errors.Is(err, domain.ErrJobNotFound) {
			o.logger.Error("Job vanished before terminal persist",
				zap.String("job_id", jobID.String()))
			return
		}
		o.logger.Warn("Terminal persist failed, retrying",
			zap.String("job_id", jobID.String()),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}

	// The provider result could not be persisted; keep it in the log so a
	// reconciliation pass can recover it.
	o.logger.Error("Terminal persist retries exhausted, job left in last persisted state",
		zap.String("job_id", jobID.String()),
		zap.String("unpersisted_status", string(status)),
		zap.String("unpersisted_result", result),
		zap.String("unpersisted_error_detail", errorDetail),
		zap.Error(err),
	)
}

// announce broadcasts a persisted transition and drops cached reads of the job.
func (o *Orchestrator) announce(ctx context.Context, jobID uuid.UUID, status domain.JobStatus, result, errorDetail string) {
	o.cache.InvalidateByTag(cache.JobTag(jobID))
	ev := domain.NewStatusEvent(jobID, status, result, errorDetail)
	if err := o.broadcaster.Broadcast(ctx, ev); err != nil {
		o.logger.Warn("Broadcast failed",
			zap.String("job_id", jobID.String()), zap.Error(err))
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func backoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	return next
}
