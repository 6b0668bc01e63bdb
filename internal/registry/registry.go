package registry

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Lemmeyg/howtobuddy2-sub001/internal/domain"
	"github.com/Lemmeyg/howtobuddy2-sub001/internal/metrics"
)

// Conn is the subset of *websocket.Conn the registry needs. Narrowed to an
// interface so tests can substitute fakes.
type Conn interface {
	SetWriteDeadline(t time.Time) error
	WriteJSON(v interface{}) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

type subscriber struct {
	conn     Conn
	jobID    uuid.UUID
	lastSeen time.Time

	// writeMu serializes data writes; gorilla permits only one concurrent
	// writer per connection (WriteControl excepted).
	writeMu sync.Mutex
}

// Registry maps job IDs to live subscriber connections and fans status
// events out to them. A connection watches at most one job at a time;
// re-subscribing moves it. A periodic heartbeat reaps connections that
// stop answering pings.
type Registry struct {
	mu     sync.Mutex
	byJob  map[uuid.UUID]map[*subscriber]struct{}
	byConn map[Conn]*subscriber

	heartbeatInterval time.Duration
	writeTimeout      time.Duration
	logger            *zap.Logger
}

// New creates an empty registry.
func New(heartbeatInterval, writeTimeout time.Duration, logger *zap.Logger) *Registry {
	return &Registry{
		byJob:             make(map[uuid.UUID]map[*subscriber]struct{}),
		byConn:            make(map[Conn]*subscriber),
		heartbeatInterval: heartbeatInterval,
		writeTimeout:      writeTimeout,
		logger:            logger,
	}
}

// Subscribe registers conn's interest in jobID. A connection already
// registered under another job is moved, never duplicated.
func (r *Registry) Subscribe(jobID uuid.UUID, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sub, ok := r.byConn[conn]; ok {
		if sub.jobID == jobID {
			sub.lastSeen = time.Now()
			return
		}
		r.detachLocked(sub)
	} else {
		metrics.SubscribersActive.Inc()
	}

	sub := &subscriber{conn: conn, jobID: jobID, lastSeen: time.Now()}
	r.byConn[conn] = sub
	set, ok := r.byJob[jobID]
	if !ok {
		set = make(map[*subscriber]struct{})
		r.byJob[jobID] = set
	}
	set[sub] = struct{}{}

	r.logger.Debug("Subscriber registered", zap.String("job_id", jobID.String()))
}

// Unsubscribe removes conn from whatever job set currently holds it.
// No-op if the connection is not registered.
func (r *Registry) Unsubscribe(conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.byConn[conn]
	if !ok {
		return
	}
	r.detachLocked(sub)
	delete(r.byConn, conn)
	metrics.SubscribersActive.Dec()
}

// Touch records a liveness signal (pong) for conn.
func (r *Registry) Touch(conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sub, ok := r.byConn[conn]; ok {
		sub.lastSeen = time.Now()
	}
}

// Broadcast delivers ev to every subscriber of ev.JobID. Deliveries run in
// parallel, each under its own write deadline, so one slow or dead
// connection never delays the others; a failed write drops the subscriber.
// Always returns nil, and blocks for at most one write timeout in total.
// Callers broadcast sequentially, and writeMu keeps concurrent event writes
// to one connection in order.
func (r *Registry) Broadcast(ctx context.Context, ev *domain.StatusEvent) error {
	r.mu.Lock()
	subs := make([]*subscriber, 0, len(r.byJob[ev.JobID]))
	for sub := range r.byJob[ev.JobID] {
		subs = append(subs, sub)
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(sub *subscriber) {
			defer wg.Done()

			sub.writeMu.Lock()
			sub.conn.SetWriteDeadline(time.Now().Add(r.writeTimeout))
			err := sub.conn.WriteJSON(ev)
			sub.writeMu.Unlock()

			if err != nil {
				r.logger.Debug("Dropping subscriber after failed write",
					zap.String("job_id", ev.JobID.String()),
					zap.Error(err),
				)
				r.drop(sub)
			}
		}(sub)
	}
	wg.Wait()
	metrics.BroadcastsTotal.Inc()
	return nil
}

// Count returns the number of live subscribers for jobID.
func (r *Registry) Count(jobID uuid.UUID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byJob[jobID])
}

// Start runs the heartbeat loop until ctx is cancelled. Each tick reaps
// connections that have not answered a ping within one interval, then
// pings the survivors.
func (r *Registry) Start(ctx context.Context) {
	ticker := time.NewTicker(r.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.closeAll()
			return
		case <-ticker.C:
			r.sweep(time.Now())
		}
	}
}

// sweep reaps stale subscribers and pings the rest.
func (r *Registry) sweep(now time.Time) {
	r.mu.Lock()
	var stale, alive []*subscriber
	for _, sub := range r.byConn {
		if now.Sub(sub.lastSeen) > r.heartbeatInterval {
			stale = append(stale, sub)
		} else {
			alive = append(alive, sub)
		}
	}
	r.mu.Unlock()

	for _, sub := range stale {
		r.logger.Debug("Reaping unresponsive subscriber",
			zap.String("job_id", sub.jobID.String()),
		)
		r.drop(sub)
	}
	for _, sub := range alive {
		deadline := time.Now().Add(r.writeTimeout)
		if err := sub.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
			r.drop(sub)
		}
	}
}

// drop removes a subscriber and closes its connection.
func (r *Registry) drop(sub *subscriber) {
	r.mu.Lock()
	if current, ok := r.byConn[sub.conn]; !ok || current != sub {
		r.mu.Unlock()
		return
	}
	r.detachLocked(sub)
	delete(r.byConn, sub.conn)
	r.mu.Unlock()

	metrics.SubscribersActive.Dec()
	sub.conn.Close()
}

// detachLocked removes sub from its job set and prunes the set once empty.
// Caller holds mu.
func (r *Registry) detachLocked(sub *subscriber) {
	if set, ok := r.byJob[sub.jobID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(r.byJob, sub.jobID)
		}
	}
}

// closeAll disconnects every subscriber, used on shutdown.
func (r *Registry) closeAll() {
	r.mu.Lock()
	conns := make([]Conn, 0, len(r.byConn))
	for conn := range r.byConn {
		conns = append(conns, conn)
	}
	r.byJob = make(map[uuid.UUID]map[*subscriber]struct{})
	r.byConn = make(map[Conn]*subscriber)
	r.mu.Unlock()

	for _, conn := range conns {
		metrics.SubscribersActive.Dec()
		conn.Close()
	}
}
