// Package service orchestrates the registry, router, and order-mapping
// store: it authorizes and forwards location updates, fans out order
// assignment and status notifications, and optionally mirrors events to the
// durable-log bridge.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"courier-relay/internal/domain/user"
	"courier-relay/internal/general/logger"
	"courier-relay/internal/relay/message"
	"courier-relay/internal/relay/order"
	"courier-relay/internal/relay/registry"
	"courier-relay/internal/relay/router"
)

// Topic conventions.
const (
	topicOrderPrefix  = "order:"
	topicDriverPrefix = "driver:"
)

// Bridge topics used when mirroring to the durable log.
const (
	BridgeTopicLocations   = "relay.locations"
	BridgeTopicAssignments = "relay.assignments"
)

var ErrUnauthorized = errors.New("unauthorized")

// OrderTopic returns the fan-out topic for an order.
func OrderTopic(orderID string) string { return topicOrderPrefix + orderID }

// DriverTopic returns the fan-out topic for a driver.
func DriverTopic(driverID string) string { return topicDriverPrefix + driverID }

// TokenVerifier is the embedder-supplied authentication check. Returning a
// nil user (or an error) rejects the connection.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (*user.User, error)
}

// Bridge is the optional durable-log collaborator. Publish failures are
// treated as non-fatal by the relay: logged, never retried, and never
// blocking the direct forward.
type Bridge interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
}

// Relay wires the connection registry, the router, and the order store.
type Relay struct {
	logger   *logger.Logger
	store    order.Store
	reg      *registry.Registry
	router   *router.Router
	verifier TokenVerifier
	bridge   Bridge // nil when the durable-log mirror is disabled

	readWait time.Duration
}

// New constructs a Relay. bridge may be nil.
func New(log *logger.Logger, store order.Store, reg *registry.Registry, rt *router.Router, verifier TokenVerifier, bridge Bridge) *Relay {
	return &Relay{
		logger:   log,
		store:    store,
		reg:      reg,
		router:   rt,
		verifier: verifier,
		bridge:   bridge,
		readWait: registry.DefaultStaleAfter + registry.DefaultSweepInterval,
	}
}

// Registry exposes the relay's connection registry (shutdown, sweeps).
func (rl *Relay) Registry() *registry.Registry { return rl.reg }

// HandleEnvelope dispatches one decoded inbound envelope from sender.
// Traffic that matches no rule below is accepted without relay-level side
// effect; the relay is restrictive only about who may assert a location on
// whose behalf.
func (rl *Relay) HandleEnvelope(ctx context.Context, sender user.User, env message.Envelope) {
	switch env.Type {
	case message.TypeLocationUpdate:
		rl.handleLocationUpdate(ctx, sender, env)
	case message.TypeSubscription:
		rl.handleSubscription(ctx, sender, env)
	default:
		// liveness bookkeeping already happened in the read loop
	}
}

// handleLocationUpdate performs the sole authorization check in the system:
// the sender must be the driver assigned to the order. Failures are dropped
// silently — logged, never surfaced to the sender.
func (rl *Relay) handleLocationUpdate(ctx context.Context, sender user.User, env message.Envelope) {
	if !sender.Role.IsDriver() || env.OrderID == "" {
		rl.logger.Debug(ctx, "location_update_dropped", "Location update from non-driver or without order",
			map[string]any{"sender": sender.ID, "role": sender.Role.String()})
		return
	}

	loc, err := env.LocationPayload()
	if err != nil {
		rl.logger.Debug(ctx, "location_update_dropped", "Location payload failed validation",
			map[string]any{"sender": sender.ID, "order_id": env.OrderID})
		return
	}

	mapping, err := rl.store.Get(ctx, env.OrderID)
	if err != nil {
		rl.logger.Debug(ctx, "location_update_dropped", "No mapping for order",
			map[string]any{"sender": sender.ID, "order_id": env.OrderID})
		return
	}
	if mapping.DriverID != sender.ID {
		rl.logger.Info(ctx, "location_update_unauthorized", "Driver is not assigned to this order",
			map[string]any{"sender": sender.ID, "order_id": env.OrderID, "assigned_driver": mapping.DriverID})
		return
	}

	// normalized location record: relay timestamp added, device timestamp kept
	loc.DriverID = sender.ID
	loc.OrderID = mapping.OrderID
	loc.RelayTime = time.Now().UTC()
	if loc.DeviceTime.IsZero() {
		loc.DeviceTime = env.Timestamp
	}

	// fire-and-forget mirror; a bridge outage never blocks the forward
	rl.mirror(BridgeTopicLocations, mapping.OrderID, loc)

	forward := message.New(message.Envelope{
		Type:          message.TypeLocationUpdate,
		SenderID:      sender.ID,
		SenderRole:    user.RoleDriver,
		RecipientID:   mapping.CustomerID,
		RecipientRole: user.RoleCustomer,
		OrderID:       mapping.OrderID,
		Payload:       message.MustPayload(loc),
	})

	if !rl.router.SendToUser(mapping.CustomerID, forward) {
		rl.logger.Debug(ctx, "location_forward_skipped", "Customer not connected",
			map[string]any{"order_id": mapping.OrderID, "customer_id": mapping.CustomerID})
		return
	}
	rl.logger.Debug(ctx, "location_forwarded", "Location update forwarded",
		map[string]any{"order_id": mapping.OrderID, "customer_id": mapping.CustomerID})
}

// handleSubscription applies the subscription sub-protocol to the sender's
// own connection.
func (rl *Relay) handleSubscription(ctx context.Context, sender user.User, env message.Envelope) {
	sub, err := env.SubscriptionPayload()
	if err != nil {
		rl.logger.Debug(ctx, "subscription_dropped", "Subscription payload failed validation",
			map[string]any{"sender": sender.ID})
		return
	}

	switch sub.Action {
	case message.ActionSubscribe:
		rl.reg.Subscribe(sender.ID, sub.Topics...)
	case message.ActionUnsubscribe:
		rl.reg.Unsubscribe(sender.ID, sub.Topics...)
	}
	rl.logger.Debug(ctx, "subscription_applied", "Subscription set updated",
		map[string]any{"sender": sender.ID, "action": sub.Action, "topics": sub.Topics})
}

// AssignDriverToOrder creates (or overwrites) the order mapping with status
// ASSIGNED and notifies both parties. Only a store failure is an error;
// offline recipients are not.
func (rl *Relay) AssignDriverToOrder(ctx context.Context, orderID, customerID, driverID string, details map[string]any) error {
	mapping, err := order.NewMapping(orderID, customerID, driverID)
	if err != nil {
		return fmt.Errorf("assign driver: %w", err)
	}
	if err := rl.store.Save(ctx, mapping); err != nil {
		return fmt.Errorf("assign driver: save mapping: %w", err)
	}

	payload := message.MustPayload(message.AssignmentPayload{
		OrderID:    orderID,
		CustomerID: customerID,
		DriverID:   driverID,
		Status:     order.StatusAssigned.String(),
		Details:    details,
	})

	for _, rcpt := range []struct {
		id   string
		role user.Role
	}{{driverID, user.RoleDriver}, {customerID, user.RoleCustomer}} {
		env := message.New(message.Envelope{
			Type:          message.TypeOrderAssignment,
			SenderID:      "system",
			SenderRole:    user.RoleSystem,
			RecipientID:   rcpt.id,
			RecipientRole: rcpt.role,
			OrderID:       orderID,
			Payload:       payload,
		})
		if !rl.router.SendToUser(rcpt.id, env) {
			rl.logger.Debug(ctx, "assignment_notice_skipped", "Recipient not connected",
				map[string]any{"order_id": orderID, "recipient": rcpt.id})
		}
	}

	rl.mirror(BridgeTopicAssignments, orderID, message.AssignmentPayload{
		OrderID:    orderID,
		CustomerID: customerID,
		DriverID:   driverID,
		Status:     order.StatusAssigned.String(),
	})

	rl.logger.Info(ctx, "driver_assigned", "Driver assigned to order",
		map[string]any{"order_id": orderID, "driver_id": driverID, "customer_id": customerID})
	return nil
}

// UpdateOrderStatus transitions the mapping's status and notifies both
// parties with a SYSTEM envelope. order.ErrNotFound propagates to the
// caller.
func (rl *Relay) UpdateOrderStatus(ctx context.Context, orderID string, status order.Status, updatedBy string) error {
	// snapshot the parties first: once the transition commits, a concurrent
	// Remove must not turn the committed update into a caller-facing error
	mapping, err := rl.store.Get(ctx, orderID)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if err := rl.store.UpdateStatus(ctx, orderID, status); err != nil {
		return fmt.Errorf("update order status: %w", err)
	}

	payload := message.MustPayload(message.SystemPayload{
		Event:   "order_status",
		OrderID: orderID,
		Status:  status.String(),
		Details: map[string]any{"updated_by": updatedBy},
	})

	for _, id := range []string{mapping.DriverID, mapping.CustomerID} {
		env := message.New(message.Envelope{
			Type:        message.TypeSystem,
			RecipientID: id,
			OrderID:     orderID,
			Payload:     payload,
		})
		if !rl.router.SendToUser(id, env) {
			rl.logger.Debug(ctx, "status_notice_skipped", "Recipient not connected",
				map[string]any{"order_id": orderID, "recipient": id})
		}
	}

	rl.logger.Info(ctx, "order_status_updated", "Order status updated",
		map[string]any{"order_id": orderID, "status": status.String(), "updated_by": updatedBy})
	return nil
}

// autoSubscribe puts a freshly connected identity back on the topics its
// open orders imply and echoes each as an explicit SUBSCRIPTION envelope so
// the client's own bookkeeping stays consistent.
func (rl *Relay) autoSubscribe(ctx context.Context, u user.User) {
	var topics []string

	switch u.Role {
	case user.RoleDriver:
		mappings, err := rl.store.ListByDriver(ctx, u.ID)
		if err != nil {
			rl.logger.Error(ctx, "auto_subscribe_failed", "Failed to list driver orders", err,
				map[string]any{"user_id": u.ID})
			return
		}
		for _, m := range mappings {
			if m.Status.Terminal() {
				continue
			}
			topics = append(topics, OrderTopic(m.OrderID))
		}
	case user.RoleCustomer:
		mappings, err := rl.store.ListByCustomer(ctx, u.ID)
		if err != nil {
			rl.logger.Error(ctx, "auto_subscribe_failed", "Failed to list customer orders", err,
				map[string]any{"user_id": u.ID})
			return
		}
		for _, m := range mappings {
			if m.Status.Terminal() {
				continue
			}
			topics = append(topics, OrderTopic(m.OrderID), DriverTopic(m.DriverID))
		}
	default:
		return
	}

	if len(topics) == 0 {
		return
	}
	rl.reg.Subscribe(u.ID, topics...)

	for _, topic := range topics {
		env := message.New(message.Envelope{
			Type:        message.TypeSubscription,
			RecipientID: u.ID,
			Payload: message.MustPayload(message.SubscriptionPayload{
				Action: message.ActionSubscribe,
				Topics: []string{topic},
			}),
		})
		rl.router.SendToUser(u.ID, env)
	}

	rl.logger.Debug(ctx, "auto_subscribed", "Reconnecting identity re-subscribed",
		map[string]any{"user_id": u.ID, "topics": topics})
}

// mirror publishes value to the durable-log bridge keyed by key. At-least-
// once best effort: failures are logged, not retried, and never block the
// caller.
func (rl *Relay) mirror(topic, key string, value any) {
	if rl.bridge == nil {
		return
	}
	raw := message.MustPayload(value)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rl.bridge.Publish(ctx, topic, key, raw); err != nil {
			rl.logger.Error(ctx, "bridge_publish_failed", "Durable-log mirror failed", err,
				map[string]any{"topic": topic, "key": key})
		}
	}()
}
