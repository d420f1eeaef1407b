// Package router is pure fan-out over the connection registry: directed
// send to one user, delivery to a topic's subscribers, or broadcast. It
// never blocks beyond the transport's own backpressure and never raises a
// write error — failed sends are counted as not-sent.
package router

import (
	"context"

	"courier-relay/internal/general/logger"
	"courier-relay/internal/relay/message"
	"courier-relay/internal/relay/registry"
)

type Router struct {
	reg    *registry.Registry
	logger *logger.Logger
}

// New constructs a Router over the given registry.
func New(reg *registry.Registry, log *logger.Logger) *Router {
	return &Router{reg: reg, logger: log}
}

// SendToUser delivers the envelope to userID. It returns false when no open
// connection exists or the write fails; write errors are swallowed.
func (r *Router) SendToUser(userID string, env message.Envelope) bool {
	conn, ok := r.reg.Get(userID)
	if !ok {
		return false
	}

	raw, err := message.Encode(env)
	if err != nil {
		r.logger.Error(context.Background(), "envelope_encode_failed", "Failed to encode envelope", err,
			map[string]any{"recipient": userID, "type": env.Type.String()})
		return false
	}

	if err := conn.Send(raw); err != nil {
		r.logger.Debug(context.Background(), "send_failed", "Write to connection failed",
			map[string]any{"recipient": userID})
		return false
	}
	return true
}

// SendToTopic delivers the envelope to every currently-subscribed, open
// connection and returns the count of successful sends. Delivery order is
// registry iteration order; no ordering guarantee between recipients.
func (r *Router) SendToTopic(topic string, env message.Envelope) int {
	raw, err := message.Encode(env)
	if err != nil {
		r.logger.Error(context.Background(), "envelope_encode_failed", "Failed to encode envelope", err,
			map[string]any{"topic": topic, "type": env.Type.String()})
		return 0
	}

	sent := 0
	for _, conn := range r.reg.Snapshot() {
		if !conn.SubscribedTo(topic) {
			continue
		}
		if err := conn.Send(raw); err == nil {
			sent++
		}
	}
	return sent
}

// Broadcast delivers the envelope to every open connection and returns the
// count of successful sends.
func (r *Router) Broadcast(env message.Envelope) int {
	raw, err := message.Encode(env)
	if err != nil {
		r.logger.Error(context.Background(), "envelope_encode_failed", "Failed to encode envelope", err,
			map[string]any{"type": env.Type.String()})
		return 0
	}

	sent := 0
	for _, conn := range r.reg.Snapshot() {
		if err := conn.Send(raw); err == nil {
			sent++
		}
	}
	return sent
}
