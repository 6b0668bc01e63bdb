package mock

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/Lemmeyg/howtobuddy2-sub001/internal/domain"
	"github.com/Lemmeyg/howtobuddy2-sub001/internal/events"
)

var _ events.Broadcaster = (*Broadcaster)(nil)

// Broadcaster is a test double for events.Broadcaster.
type Broadcaster struct {
	mu sync.Mutex

	BroadcastFn func(ctx context.Context, ev *domain.StatusEvent) error

	Events []*domain.StatusEvent
}

func (m *Broadcaster) Broadcast(ctx context.Context, ev *domain.StatusEvent) error {
	m.mu.Lock()
	m.Events = append(m.Events, ev)
	m.mu.Unlock()
	if m.BroadcastFn != nil {
		return m.BroadcastFn(ctx, ev)
	}
	return nil
}

// EventsFor returns the events broadcast for one job, in order.
func (m *Broadcaster) EventsFor(jobID uuid.UUID) []*domain.StatusEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.StatusEvent
	for _, ev := range m.Events {
		if ev.JobID == jobID {
			out = append(out, ev)
		}
	}
	return out
}

// Count returns the total number of events broadcast.
func (m *Broadcaster) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Events)
}
