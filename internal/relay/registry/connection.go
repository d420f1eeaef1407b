package registry

import (
	"sync"
	"time"

	"courier-relay/internal/domain/user"
)

// Close codes used by the registry when it terminates a transport.
const (
	// CloseServerShutdown mirrors the websocket "going away" code.
	CloseServerShutdown = 1001
	// CloseSuperseded terminates a connection replaced by a newer one for
	// the same identity.
	CloseSuperseded = 4000
	// CloseStale terminates a connection evicted by the liveness sweep.
	CloseStale = 4001
	// CloseClientRequested is the caller-initiated client close.
	CloseClientRequested = 4002
	// CloseAuthFailure rejects a connection whose token did not verify.
	CloseAuthFailure = 4003
)

// Transport is the underlying session handle a Connection exclusively owns.
// The websocket-backed implementation lives in the service package; tests
// supply fakes.
type Transport interface {
	// WriteMessage enqueues one text frame.
	WriteMessage(data []byte) error
	// Ping sends a protocol-level keep-alive probe.
	Ping(deadline time.Time) error
	// Close terminates the transport with a close code and reason.
	Close(code int, reason string) error
}

// Connection is a live transport session for one identity.
type Connection struct {
	User      user.User
	transport Transport

	mu           sync.Mutex // guards writes and the mutable fields below
	lastActivity time.Time
	subs         map[string]struct{}
	closed       bool
}

func newConnection(u user.User, t Transport) *Connection {
	return &Connection{
		User:         u,
		transport:    t,
		lastActivity: time.Now(),
		subs:         make(map[string]struct{}),
	}
}

// Send writes one frame under the per-connection write lock. A write error
// marks the connection closed so sweeps and fan-out skip it.
func (c *Connection) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errClosed
	}
	if err := c.transport.WriteMessage(data); err != nil {
		c.closed = true
		return err
	}
	return nil
}

// Ping sends a keep-alive probe.
func (c *Connection) Ping(deadline time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errClosed
	}
	return c.transport.Ping(deadline)
}

// close terminates the transport once; repeated calls are no-ops.
func (c *Connection) close(code int, reason string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	t := c.transport
	c.mu.Unlock()
	_ = t.Close(code, reason)
}

// touch refreshes the activity timestamp.
func (c *Connection) touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

// LastActivity returns the time of the most recent inbound frame.
func (c *Connection) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

// subscribe adds topics to the subscription set.
func (c *Connection) subscribe(topics []string) {
	c.mu.Lock()
	for _, t := range topics {
		c.subs[t] = struct{}{}
	}
	c.mu.Unlock()
}

// unsubscribe removes topics from the subscription set.
func (c *Connection) unsubscribe(topics []string) {
	c.mu.Lock()
	for _, t := range topics {
		delete(c.subs, t)
	}
	c.mu.Unlock()
}

// SubscribedTo reports whether the connection subscribes to topic.
func (c *Connection) SubscribedTo(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subs[topic]
	return ok
}

// Subscriptions returns a copy of the current subscription set.
func (c *Connection) Subscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.subs))
	for t := range c.subs {
		out = append(out, t)
	}
	return out
}
