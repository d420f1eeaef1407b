// Package registry owns the table of live connections: one entry per user
// identity, each with a subscription set and a last-activity timestamp. It
// also runs the periodic liveness sweep.
package registry

import (
	"context"
	"errors"
	"sync"
	"time"

	"courier-relay/internal/domain/user"
	"courier-relay/internal/general/logger"
)

var errClosed = errors.New("connection closed")

const (
	// DefaultStaleAfter is the inactivity threshold past which the sweep
	// force-closes a connection.
	DefaultStaleAfter = 2 * time.Minute
	// DefaultSweepInterval is how often the liveness sweep runs.
	DefaultSweepInterval = 30 * time.Second

	pingDeadline = 5 * time.Second
)

// Registry is the in-memory table of live connections keyed by user ID.
// All mutation goes through its methods under a single coarse lock;
// contention per identity is low.
type Registry struct {
	logger     *logger.Logger
	staleAfter time.Duration
	sweepEvery time.Duration

	mu    sync.RWMutex
	conns map[string]*Connection

	stopOnce sync.Once
	stop     chan struct{}
}

// New constructs a Registry. Non-positive durations fall back to the
// defaults. The liveness sweep starts only when StartSweeper is called.
func New(log *logger.Logger, staleAfter, sweepEvery time.Duration) *Registry {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	if sweepEvery <= 0 {
		sweepEvery = DefaultSweepInterval
	}
	return &Registry{
		logger:     log,
		staleAfter: staleAfter,
		sweepEvery: sweepEvery,
		conns:      make(map[string]*Connection),
		stop:       make(chan struct{}),
	}
}

// Register creates the entry for u.ID, replacing any prior one. The
// superseded transport is force-closed so no orphan lingers until the sweep.
func (r *Registry) Register(u user.User, t Transport) *Connection {
	conn := newConnection(u, t)

	r.mu.Lock()
	old := r.conns[u.ID]
	r.conns[u.ID] = conn
	r.mu.Unlock()

	if old != nil {
		old.close(CloseSuperseded, "connection superseded by a newer session")
	}

	r.logger.Info(context.Background(), "connection_registered", "Connection registered",
		map[string]any{"user_id": u.ID, "role": u.Role.String()})
	return conn
}

// Deregister removes the entry for userID; idempotent. The transport is not
// closed here — callers deregister from the read loop after the transport
// already died, or close it themselves.
func (r *Registry) Deregister(userID string) {
	r.mu.Lock()
	_, ok := r.conns[userID]
	delete(r.conns, userID)
	r.mu.Unlock()

	if ok {
		r.logger.Info(context.Background(), "connection_deregistered", "Connection removed",
			map[string]any{"user_id": userID})
	}
}

// DeregisterConnection removes conn only while it is still the current
// entry for its identity. Read loops use this so a superseded connection's
// teardown cannot evict its replacement.
func (r *Registry) DeregisterConnection(conn *Connection) {
	r.mu.Lock()
	cur, ok := r.conns[conn.User.ID]
	if ok && cur == conn {
		delete(r.conns, conn.User.ID)
	} else {
		ok = false
	}
	r.mu.Unlock()

	if ok {
		r.logger.Info(context.Background(), "connection_deregistered", "Connection removed",
			map[string]any{"user_id": conn.User.ID})
	}
}

// Touch refreshes lastActivity for userID; no-op for unknown identities.
// Called on every inbound frame.
func (r *Registry) Touch(userID string) {
	if c, ok := r.Get(userID); ok {
		c.touch()
	}
}

// Subscribe adds topics to the connection's subscription set; no-op when the
// connection no longer exists.
func (r *Registry) Subscribe(userID string, topics ...string) {
	if c, ok := r.Get(userID); ok {
		c.subscribe(topics)
	}
}

// Unsubscribe removes topics from the connection's subscription set; no-op
// when the connection no longer exists.
func (r *Registry) Unsubscribe(userID string, topics ...string) {
	if c, ok := r.Get(userID); ok {
		c.unsubscribe(topics)
	}
}

// Get returns the live connection for userID.
func (r *Registry) Get(userID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[userID]
	return c, ok
}

// ConnectedUsers returns the IDs of every registered connection.
func (r *Registry) ConnectedUsers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.conns))
	for id := range r.conns {
		out = append(out, id)
	}
	return out
}

// Snapshot returns the current connections. Fan-out iterates this snapshot;
// connections closing mid-iteration just fail their individual send.
func (r *Registry) Snapshot() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}

// StartSweeper runs the liveness sweep on a fixed timer until ctx is
// cancelled or Shutdown is called.
func (r *Registry) StartSweeper(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(r.sweepEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.sweep()
			case <-ctx.Done():
				return
			case <-r.stop:
				return
			}
		}
	}()
}

// sweep force-closes and removes every connection idle past the staleness
// threshold; all others get a keep-alive probe.
func (r *Registry) sweep() {
	cutoff := time.Now().Add(-r.staleAfter)

	for _, c := range r.Snapshot() {
		if c.LastActivity().Before(cutoff) {
			c.close(CloseStale, "stale connection")
			r.mu.Lock()
			// the identity may have re-registered since the snapshot
			if cur, ok := r.conns[c.User.ID]; ok && cur == c {
				delete(r.conns, c.User.ID)
			}
			r.mu.Unlock()
			r.logger.Info(context.Background(), "stale_connection_evicted", "Stale connection evicted",
				map[string]any{"user_id": c.User.ID})
			continue
		}
		if err := c.Ping(time.Now().Add(pingDeadline)); err != nil {
			r.logger.Debug(context.Background(), "keepalive_probe_failed", "Keep-alive probe failed",
				map[string]any{"user_id": c.User.ID})
		}
	}
}

// Shutdown closes every live connection with a shutdown notice and releases
// the registry.
func (r *Registry) Shutdown() {
	r.stopOnce.Do(func() { close(r.stop) })

	r.mu.Lock()
	conns := r.conns
	r.conns = make(map[string]*Connection)
	r.mu.Unlock()

	for _, c := range conns {
		c.close(CloseServerShutdown, "server shutting down")
	}

	r.logger.Info(context.Background(), "registry_shutdown", "Registry shut down",
		map[string]any{"closed": len(conns)})
}
