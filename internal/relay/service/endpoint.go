package service

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"courier-relay/internal/relay/message"
	"courier-relay/internal/relay/registry"
)

const (
	wsWriteTimeout   = 5 * time.Second
	wsCloseAckWindow = 2 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// wsTransport adapts a gorilla connection to the registry's Transport.
// Serialization of writes happens in registry.Connection; this type only
// applies deadlines.
type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) WriteMessage(data []byte) error {
	_ = t.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) Ping(deadline time.Time) error {
	return t.conn.WriteControl(websocket.PingMessage, nil, deadline)
}

func (t *wsTransport) Close(code int, reason string) error {
	_ = t.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(wsCloseAckWindow),
	)
	return t.conn.Close()
}

// tokenFromRequest extracts the auth token from the `token` query parameter
// or an `Authorization: Bearer <token>` header. Absence of both yields ""
// and is handed to the verifier as-is.
func tokenFromRequest(r *http.Request) string {
	if tok := r.URL.Query().Get("token"); tok != "" {
		return tok
	}
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return ""
}

// HandleWS upgrades the request, authenticates it through the embedder's
// verifier, registers the connection, auto-subscribes it, and runs the read
// loop until the transport dies.
func (rl *Relay) HandleWS(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		rl.logger.Error(ctx, "websocket_upgrade_failed", "Failed to upgrade to WebSocket", err, nil)
		return
	}
	transport := &wsTransport{conn: conn}

	u, err := rl.verifier.VerifyToken(ctx, tokenFromRequest(r))
	if err != nil || u == nil {
		rl.logger.Info(ctx, "ws_auth_rejected", "Token verification failed",
			map[string]any{"remote": r.RemoteAddr})
		_ = transport.Close(registry.CloseAuthFailure, "authentication failed")
		return
	}

	entry := rl.reg.Register(*u, transport)
	defer rl.reg.DeregisterConnection(entry)

	conn.SetReadLimit(1 << 20) // 1 MiB
	_ = conn.SetReadDeadline(time.Now().Add(rl.readWait))
	conn.SetPongHandler(func(string) error {
		rl.reg.Touch(u.ID)
		return conn.SetReadDeadline(time.Now().Add(rl.readWait))
	})

	rl.autoSubscribe(ctx, *u)
	rl.sendWelcome(u.ID)

	rl.logger.Info(ctx, "ws_connected", "Connection authenticated and registered",
		map[string]any{"user_id": u.ID, "role": u.Role.String()})

	for {
		_ = conn.SetReadDeadline(time.Now().Add(rl.readWait))
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				rl.logger.Info(ctx, "ws_unexpected_close", "Connection closed unexpectedly",
					map[string]any{"user_id": u.ID})
			} else {
				rl.logger.Info(ctx, "ws_connection_closed", "Connection closed",
					map[string]any{"user_id": u.ID})
			}
			return
		}

		rl.reg.Touch(u.ID)

		env, err := message.Decode(frame)
		if err != nil {
			// malformed frame: drop, never crash, never ack
			rl.logger.Debug(ctx, "frame_dropped", "Malformed inbound frame",
				map[string]any{"user_id": u.ID})
			continue
		}

		rl.HandleEnvelope(ctx, *u, env)
	}
}

// sendWelcome greets a freshly registered connection with a SYSTEM envelope.
func (rl *Relay) sendWelcome(userID string) {
	env := message.New(message.Envelope{
		Type:        message.TypeSystem,
		RecipientID: userID,
		Payload: message.MustPayload(message.SystemPayload{
			Event:   "welcome",
			Message: "connected to courier relay",
			Details: map[string]any{"connected_users": len(rl.reg.ConnectedUsers())},
		}),
	})
	rl.router.SendToUser(userID, env)
}
