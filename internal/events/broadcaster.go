package events

import (
	"context"

	"go.uber.org/zap"

	"github.com/Lemmeyg/howtobuddy2-sub001/internal/domain"
)

// Broadcaster delivers a persisted status transition to interested
// observers. Implementations must not block the caller indefinitely.
type Broadcaster interface {
	Broadcast(ctx context.Context, ev *domain.StatusEvent) error
}

// Fanout delivers every event to each wrapped broadcaster. One sink failing
// does not stop delivery to the rest; failures are logged and swallowed so
// notification problems never alter job state.
type Fanout struct {
	sinks  []Broadcaster
	logger *zap.Logger
}

// NewFanout composes broadcasters into one.
func NewFanout(logger *zap.Logger, sinks ...Broadcaster) *Fanout {
	return &Fanout{sinks: sinks, logger: logger}
}

func (f *Fanout) Broadcast(ctx context.Context, ev *domain.StatusEvent) error {
	for _, sink := range f.sinks {
		if err := sink.Broadcast(ctx, ev); err != nil {
			f.logger.Warn("Event sink delivery failed",
				zap.String("job_id", ev.JobID.String()),
				zap.String("status", string(ev.Status)),
				zap.Error(err),
			)
		}
	}
	return nil
}
