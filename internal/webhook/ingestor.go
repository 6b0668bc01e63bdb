package webhook

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Lemmeyg/howtobuddy2-sub001/internal/cache"
	"github.com/Lemmeyg/howtobuddy2-sub001/internal/domain"
	"github.com/Lemmeyg/howtobuddy2-sub001/internal/events"
	"github.com/Lemmeyg/howtobuddy2-sub001/internal/metrics"
	"github.com/Lemmeyg/howtobuddy2-sub001/internal/provider"
	"github.com/Lemmeyg/howtobuddy2-sub001/internal/repository"
)

// Ingestor validates and idempotently applies provider-pushed status
// updates. It feeds the same state machine and broadcaster as the polling
// path; conditional store updates resolve races between the two, so a
// webhook and a poll result reporting different terminal outcomes apply
// exactly one.
type Ingestor struct {
	store       repository.JobStore
	provider    provider.Transcriber
	broadcaster events.Broadcaster
	cache       *cache.Cache
	logger      *zap.Logger
}

// NewIngestor creates a webhook ingestor.
func NewIngestor(
	store repository.JobStore,
	prov provider.Transcriber,
	broadcaster events.Broadcaster,
	c *cache.Cache,
	logger *zap.Logger,
) *Ingestor {
	return &Ingestor{
		store:       store,
		provider:    prov,
		broadcaster: broadcaster,
		cache:       c,
		logger:      logger,
	}
}

// Ingest applies one raw provider callback. Malformed payloads return
// domain.ErrInvalidPayload and unknown provider job IDs return
// domain.ErrJobNotFound, both without state change. Providers deliver
// at-least-once: a repeat of an already-applied terminal payload is
// detected and discarded without a second broadcast.
func (i *Ingestor) Ingest(ctx context.Context, raw []byte, signature string) error {
	payload, err := i.provider.VerifyWebhookPayload(raw, signature)
	if err != nil {
		metrics.WebhooksTotal.WithLabelValues("invalid").Inc()
		return err
	}

	job, err := i.store.GetByProviderJobID(ctx, payload.ProviderJobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			metrics.WebhooksTotal.WithLabelValues("unknown_job").Inc()
			i.logger.Warn("Webhook for unknown provider job",
				zap.String("provider_job_id", payload.ProviderJobID),
			)
		}
		return err
	}

	terminal, isTerminal := payload.TerminalStatus()

	if job.Status.IsTerminal() {
		return i.dedup(job, payload, terminal, isTerminal)
	}

	// Webhook delivery can race ahead of the polling path: a terminal
	// payload for a still-PENDING job is accepted after an implicit
	// promotion to PROCESSING.
	if job.Status == domain.StatusPending {
		if err := i.promote(ctx, job); err != nil {
			return err
		}
	}

	if !isTerminal {
		// Progress-only callback; the promotion above is all it carries.
		metrics.WebhooksTotal.WithLabelValues("progress").Inc()
		return nil
	}

	return i.applyTerminal(ctx, job.JobID, payload, terminal)
}

// promote moves a PENDING job to PROCESSING and announces it. A conflict
// means the orchestrator claimed the job in the meantime, which is fine.
func (i *Ingestor) promote(ctx context.Context, job *domain.Job) error {
	err := i.store.UpdateStatus(ctx, job.JobID, domain.StatusPending, domain.StatusProcessing, domain.StatusFields{})
	if err != nil {
		if errors.Is(err, domain.ErrStatusConflict) {
			return nil
		}
		return err
	}
	i.announce(ctx, job.JobID, domain.StatusProcessing, "", "")
	i.logger.Info("Job promoted to PROCESSING by webhook",
		zap.String("job_id", job.JobID.String()),
	)
	return nil
}

// applyTerminal persists the terminal outcome. A conflict means another
// path applied a terminal state first; the losing payload is discarded.
func (i *Ingestor) applyTerminal(ctx context.Context, jobID uuid.UUID, payload *provider.WebhookPayload, terminal domain.JobStatus) error {
	fields := domain.StatusFields{}
	if payload.Transcript != "" {
		fields.Result = &payload.Transcript
	}
	if payload.ErrorDetail != "" {
		fields.ErrorDetail = &payload.ErrorDetail
	}

	err := i.store.UpdateStatus(ctx, jobID, domain.StatusProcessing, terminal, fields)
	if err != nil {
		if errors.Is(err, domain.ErrStatusConflict) {
			// Re-read so a duplicate of the winning outcome is treated as
			// such rather than surfaced as an error.
			current, getErr := i.store.GetByID(ctx, jobID)
			if getErr != nil {
				return getErr
			}
			if current.Status.IsTerminal() {
				return i.dedup(current, payload, terminal, true)
			}
			metrics.WebhooksTotal.WithLabelValues("conflict").Inc()
			return nil
		}
		return err
	}

	i.announce(ctx, jobID, terminal, payload.Transcript, payload.ErrorDetail)
	metrics.JobsProcessedTotal.WithLabelValues(string(terminal), "webhook").Inc()
	metrics.WebhooksTotal.WithLabelValues("applied").Inc()
	i.logger.Info("Webhook applied terminal status",
		zap.String("job_id", jobID.String()),
		zap.String("status", string(terminal)),
	)
	return nil
}

// dedup handles a payload for a job already in a terminal state. A repeat
// of the same outcome is a silent no-op; a payload disagreeing with the
// stored outcome is logged as an anomaly and discarded rather than
// overwriting prior data. Neither rebroadcasts.
func (i *Ingestor) dedup(job *domain.Job, payload *provider.WebhookPayload, terminal domain.JobStatus, isTerminal bool) error {
	sameOutcome := isTerminal && job.Status == terminal &&
		(terminal != domain.StatusCompleted || payload.Transcript == job.Result)

	if sameOutcome || !isTerminal {
		metrics.WebhooksTotal.WithLabelValues("duplicate").Inc()
		i.logger.Debug("Duplicate webhook discarded",
			zap.String("job_id", job.JobID.String()),
			zap.String("status", string(job.Status)),
		)
		return nil
	}

	metrics.WebhooksTotal.WithLabelValues("anomaly").Inc()
	i.logger.Warn("Webhook disagrees with stored terminal outcome, discarded",
		zap.String("job_id", job.JobID.String()),
		zap.String("stored_status", string(job.Status)),
		zap.String("payload_status", payload.Status),
	)
	return nil
}

// announce broadcasts a persisted transition and drops cached reads of the job.
func (i *Ingestor) announce(ctx context.Context, jobID uuid.UUID, status domain.JobStatus, result, errorDetail string) {
	i.cache.InvalidateByTag(cache.JobTag(jobID))
	ev := domain.NewStatusEvent(jobID, status, result, errorDetail)
	if err := i.broadcaster.Broadcast(ctx, ev); err != nil {
		i.logger.Warn("Broadcast failed",
			zap.String("job_id", jobID.String()), zap.Error(err))
	}
}
