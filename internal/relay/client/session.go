// Package client implements the device-side session state machine:
// connection lifecycle with bounded reconnects, geolocation sampling, and
// interval-paced transmission of the buffered last known position.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"courier-relay/internal/domain/user"
	"courier-relay/internal/general/logger"
	"courier-relay/internal/relay/message"
)

// Phase of the connection lifecycle.
type Phase string

const (
	PhaseDisconnected Phase = "DISCONNECTED"
	PhaseConnecting   Phase = "CONNECTING"
	PhaseOpen         Phase = "OPEN"
	PhaseReconnecting Phase = "RECONNECTING"
	PhaseClosed       Phase = "CLOSED" // terminal
)

const closeClientRequested = 4002

var (
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
	ErrMissingURL         = errors.New("relay url is required")
	ErrMissingIdentity    = errors.New("user id and role are required")
	ErrSessionClosed      = errors.New("session closed")
)

// Conn is the client-side transport handle. The default implementation
// wraps a gorilla websocket connection; tests supply fakes.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close(code int, reason string) error
}

// Dialer opens a transport to the relay.
type Dialer func(ctx context.Context, url string) (Conn, error)

type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *wsConn) WriteMessage(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close(code int, reason string) error {
	c.mu.Lock()
	_ = c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(2*time.Second),
	)
	c.mu.Unlock()
	return c.conn.Close()
}

// DialWebSocket is the default Dialer.
func DialWebSocket(ctx context.Context, rawURL string) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		return nil, err
	}
	return &wsConn{conn: conn}, nil
}

// Options configure a Session.
type Options struct {
	URL   string // relay websocket endpoint
	Token string // appended as the `token` query parameter when set

	UserID string
	Role   user.Role

	// ClientID is the stable client identifier sent in the IDENTIFY frame.
	// Generated once at construction when empty and reused across
	// reconnects.
	ClientID string

	Dial      Dialer         // nil -> DialWebSocket
	Positions PositionSource // required for tracking

	SendInterval         time.Duration // tick pace for location transmission
	ReconnectInterval    time.Duration // wait between reconnect attempts
	MaxReconnectAttempts int
	HighAccuracy         bool
	PositionTimeout      time.Duration // per-position-request timeout

	OnMessage func(message.Envelope) // consumer callback for inbound envelopes
	OnError   func(error)            // terminal conditions (ReconnectExhausted)

	Logger *logger.Logger
}

// Session is one logical client connection to the relay.
type Session struct {
	opts   Options
	logger *logger.Logger

	mu                sync.Mutex
	phase             Phase
	conn              Conn
	trackingActive    bool
	reconnectAttempts int
	closed            bool
	activeOrder       string
	subs              map[string]struct{}
	trackCancel       context.CancelFunc

	posMu   sync.Mutex
	lastPos *Position // single writer: the position callback
}

// New validates the options and immediately begins opening the transport in
// the background.
func New(opts Options) (*Session, error) {
	if strings.TrimSpace(opts.URL) == "" {
		return nil, ErrMissingURL
	}
	if strings.TrimSpace(opts.UserID) == "" || !opts.Role.Valid() {
		return nil, ErrMissingIdentity
	}
	if opts.ClientID == "" {
		opts.ClientID = uuid.NewString()
	}
	if opts.Dial == nil {
		opts.Dial = DialWebSocket
	}
	if opts.SendInterval <= 0 {
		opts.SendInterval = 5 * time.Second
	}
	if opts.ReconnectInterval <= 0 {
		opts.ReconnectInterval = 3 * time.Second
	}
	if opts.MaxReconnectAttempts <= 0 {
		opts.MaxReconnectAttempts = 5
	}
	if opts.PositionTimeout <= 0 {
		opts.PositionTimeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logger.New("relay-client")
	}

	s := &Session{
		opts:   opts,
		logger: opts.Logger,
		phase:  PhaseDisconnected,
		subs:   make(map[string]struct{}),
	}
	go s.run()
	return s, nil
}

// run owns the connect/reconnect loop. Exactly one instance per session; a
// reconnect is only scheduled after the prior transport has fully closed.
func (s *Session) run() {
	for {
		if s.isClosed() {
			return
		}
		s.setPhase(PhaseConnecting)

		conn, err := s.opts.Dial(context.Background(), s.dialURL())
		if s.isClosed() {
			if err == nil {
				_ = conn.Close(closeClientRequested, "client closed")
			}
			return
		}

		if err == nil {
			s.onOpen(conn)
			s.readLoop(conn)
			if s.isClosed() {
				return
			}
			s.logger.Info(context.Background(), "connection_lost", "Transport closed, scheduling reconnect",
				map[string]any{"client_id": s.opts.ClientID})
		} else {
			s.logger.Info(context.Background(), "connect_failed", "Failed to open transport",
				map[string]any{"client_id": s.opts.ClientID, "error": err.Error()})
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		s.reconnectAttempts++
		if s.reconnectAttempts >= s.opts.MaxReconnectAttempts {
			s.phase = PhaseClosed
			s.closed = true
			s.mu.Unlock()
			s.stopTracking(false)
			s.report(ErrReconnectExhausted)
			return
		}
		s.phase = PhaseReconnecting
		s.mu.Unlock()

		// the wait itself is not cancellable; Close during it is honored by
		// the isClosed check at the top of the loop
		time.Sleep(s.opts.ReconnectInterval)
	}
}

// dialURL appends the auth token as a query parameter when configured.
func (s *Session) dialURL() string {
	if s.opts.Token == "" {
		return s.opts.URL
	}
	u, err := url.Parse(s.opts.URL)
	if err != nil {
		return s.opts.URL
	}
	q := u.Query()
	q.Set("token", s.opts.Token)
	u.RawQuery = q.Encode()
	return u.String()
}

// onOpen resets the retry counter, identifies the client, and re-arms
// tracking when the disconnect happened mid-tracking.
func (s *Session) onOpen(conn Conn) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close(closeClientRequested, "client closed")
		return
	}
	s.conn = conn
	s.phase = PhaseOpen
	s.reconnectAttempts = 0
	resume := s.trackingActive
	s.mu.Unlock()

	identify := message.New(message.Envelope{
		Type:       message.TypeAuthentication,
		SenderID:   s.opts.UserID,
		SenderRole: s.opts.Role,
		Payload:    message.MustPayload(message.IdentifyPayload{ClientID: s.opts.ClientID}),
	})
	if raw, err := message.Encode(identify); err == nil {
		_ = conn.WriteMessage(raw)
	}

	if resume {
		// reconnect mid-tracking: restart sampling without the caller
		// calling StartTracking again
		s.stopTracking(false)
		s.armTracking()
	}

	s.logger.Info(context.Background(), "connection_open", "Transport open",
		map[string]any{"client_id": s.opts.ClientID, "user_id": s.opts.UserID})
}

// readLoop consumes inbound frames until the transport dies.
func (s *Session) readLoop(conn Conn) {
	for {
		frame, err := conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			if s.conn == conn {
				s.conn = nil
			}
			s.mu.Unlock()
			return
		}

		env, err := message.Decode(frame)
		if err != nil {
			continue // malformed inbound frame: drop
		}
		s.dispatch(env)
	}
}

// dispatch keeps session bookkeeping consistent and hands the envelope to
// the consumer callback.
func (s *Session) dispatch(env message.Envelope) {
	switch env.Type {
	case message.TypeSubscription:
		if sub, err := env.SubscriptionPayload(); err == nil {
			s.mu.Lock()
			for _, t := range sub.Topics {
				if sub.Action == message.ActionSubscribe {
					s.subs[t] = struct{}{}
				} else {
					delete(s.subs, t)
				}
			}
			s.mu.Unlock()
		}
	case message.TypeOrderAssignment:
		if env.OrderID != "" {
			s.mu.Lock()
			s.activeOrder = env.OrderID
			s.mu.Unlock()
		}
	}

	if s.opts.OnMessage != nil {
		s.opts.OnMessage(env)
	}
}

// StartTracking subscribes to continuous device positions and starts the
// fixed-interval transmission timer. Idempotent: any previous sampling is
// cleared before starting anew. Tracking intent persists across reconnects.
func (s *Session) StartTracking() error {
	if s.opts.Positions == nil {
		return fmt.Errorf("start tracking: no position source configured")
	}

	s.stopTracking(false)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.trackingActive = true
	s.mu.Unlock()

	return s.armTracking()
}

// armTracking starts the sampling subscription and the transmission timer.
func (s *Session) armTracking() error {
	ctx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	if s.trackCancel != nil {
		s.trackCancel()
	}
	s.trackCancel = cancel
	s.mu.Unlock()

	samples, err := s.opts.Positions.Watch(ctx, WatchOptions{
		HighAccuracy: s.opts.HighAccuracy,
		Timeout:      s.opts.PositionTimeout,
	})
	if err != nil {
		cancel()
		return fmt.Errorf("start tracking: watch positions: %w", err)
	}

	// sampling goroutine: sole writer of lastPos
	go func() {
		for p := range samples {
			s.posMu.Lock()
			cp := p
			s.lastPos = &cp
			s.posMu.Unlock()
		}
	}()

	// transmission timer: reads lastPos, skips ticks while not open
	go func() {
		ticker := time.NewTicker(s.opts.SendInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.transmitTick()
			}
		}
	}()

	return nil
}

// transmitTick sends the buffered last known position if a sample exists
// and the transport is open. A skipped tick is not queued or retried.
func (s *Session) transmitTick() {
	s.posMu.Lock()
	pos := s.lastPos
	s.posMu.Unlock()
	if pos == nil {
		return
	}

	s.mu.Lock()
	conn := s.conn
	open := s.phase == PhaseOpen
	orderID := s.activeOrder
	s.mu.Unlock()
	if !open || conn == nil {
		return
	}

	env := message.New(message.Envelope{
		Type:       message.TypeLocationUpdate,
		SenderID:   s.opts.UserID,
		SenderRole: s.opts.Role,
		OrderID:    orderID,
		Payload: message.MustPayload(message.LocationPayload{
			Latitude:       pos.Latitude,
			Longitude:      pos.Longitude,
			AccuracyMeters: pos.AccuracyMeters,
			SpeedKMH:       pos.SpeedKMH,
			HeadingDegrees: pos.HeadingDegrees,
			RelayTime:      time.Now().UTC(),
			DeviceTime:     pos.Timestamp,
		}),
	})

	raw, err := message.Encode(env)
	if err != nil {
		return
	}
	_ = conn.WriteMessage(raw)
}

// StopTracking cancels the position subscription and the timer and clears
// the tracking intent.
func (s *Session) StopTracking() {
	s.stopTracking(true)
}

// stopTracking cancels sampling; the reconnection-resume path calls it with
// clearIntent=false so a reconnect auto-resumes transmission.
func (s *Session) stopTracking(clearIntent bool) {
	s.mu.Lock()
	if s.trackCancel != nil {
		s.trackCancel()
		s.trackCancel = nil
	}
	if clearIntent {
		s.trackingActive = false
	}
	s.mu.Unlock()
}

// Send is a direct pass-through send. It fails closed — false, no panic —
// when the transport is not currently open.
func (s *Session) Send(env message.Envelope) bool {
	s.mu.Lock()
	conn := s.conn
	open := s.phase == PhaseOpen
	s.mu.Unlock()
	if !open || conn == nil {
		return false
	}

	raw, err := message.Encode(env)
	if err != nil {
		return false
	}
	return conn.WriteMessage(raw) == nil
}

// Close stops tracking and closes the transport with the client-requested
// code. It never triggers the automatic-reconnect path, including a
// reconnect already pending when Close is called.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.phase = PhaseClosed
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	s.stopTracking(true)
	if conn != nil {
		_ = conn.Close(closeClientRequested, "client closed")
	}

	s.logger.Info(context.Background(), "session_closed", "Session closed by caller",
		map[string]any{"client_id": s.opts.ClientID})
}

// SetActiveOrder pins the order identifier attached to outgoing location
// updates. Receiving an ORDER_ASSIGNMENT envelope sets it automatically.
func (s *Session) SetActiveOrder(orderID string) {
	s.mu.Lock()
	s.activeOrder = orderID
	s.mu.Unlock()
}

// Phase returns the current connection phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// TrackingActive reports the tracking intent, which is independent of the
// connection phase.
func (s *Session) TrackingActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trackingActive
}

// ReconnectAttempts returns the current retry counter.
func (s *Session) ReconnectAttempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconnectAttempts
}

// Subscriptions returns the topics the server has confirmed for this
// session.
func (s *Session) Subscriptions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.subs))
	for t := range s.subs {
		out = append(out, t)
	}
	return out
}

// LastPosition returns the most recent buffered device sample, if any.
func (s *Session) LastPosition() (Position, bool) {
	s.posMu.Lock()
	defer s.posMu.Unlock()
	if s.lastPos == nil {
		return Position{}, false
	}
	return *s.lastPos, true
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) setPhase(p Phase) {
	s.mu.Lock()
	if !s.closed {
		s.phase = p
	}
	s.mu.Unlock()
}

func (s *Session) report(err error) {
	s.logger.Error(context.Background(), "session_terminal", "Session reached a terminal condition", err,
		map[string]any{"client_id": s.opts.ClientID})
	if s.opts.OnError != nil {
		s.opts.OnError(err)
	}
}
