package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"courier-relay/internal/domain/user"
	"courier-relay/internal/general/logger"
	"courier-relay/internal/relay/message"
	"courier-relay/internal/relay/order"
	"courier-relay/internal/relay/registry"
	"courier-relay/internal/relay/router"
)

type fakeTransport struct {
	mu     sync.Mutex
	frames [][]byte
}

func (f *fakeTransport) WriteMessage(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, data)
	return nil
}

func (f *fakeTransport) Ping(time.Time) error    { return nil }
func (f *fakeTransport) Close(int, string) error { return nil }

func (f *fakeTransport) envelopes(t *testing.T) []message.Envelope {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]message.Envelope, 0, len(f.frames))
	for _, raw := range f.frames {
		env, err := message.Decode(raw)
		if err != nil {
			t.Fatalf("transport holds a malformed frame: %v", err)
		}
		out = append(out, env)
	}
	return out
}

type publishRecord struct {
	topic string
	key   string
	value []byte
}

type fakeBridge struct {
	ch chan publishRecord
}

func newFakeBridge() *fakeBridge {
	return &fakeBridge{ch: make(chan publishRecord, 8)}
}

func (b *fakeBridge) Publish(_ context.Context, topic, key string, value []byte) error {
	b.ch <- publishRecord{topic: topic, key: key, value: value}
	return nil
}

type fixture struct {
	relay *Relay
	store order.Store
	reg   *registry.Registry
}

func newFixture(t *testing.T, bridge Bridge) *fixture {
	t.Helper()
	log := logger.New("service-test")
	store := order.NewMemoryStore()
	reg := registry.New(log, 0, 0)
	rt := router.New(reg, log)
	return &fixture{
		relay: New(log, store, reg, rt, nil, bridge),
		store: store,
		reg:   reg,
	}
}

func (fx *fixture) assign(t *testing.T, orderID, customerID, driverID string) {
	t.Helper()
	m, err := order.NewMapping(orderID, customerID, driverID)
	if err != nil {
		t.Fatalf("NewMapping: %v", err)
	}
	if err := fx.store.Save(context.Background(), m); err != nil {
		t.Fatalf("Save: %v", err)
	}
}

func (fx *fixture) connect(id string, role user.Role) *fakeTransport {
	tr := &fakeTransport{}
	fx.reg.Register(user.User{ID: id, Role: role}, tr)
	return tr
}

func locationEnvelope(driverID, orderID string, lat, lng float64) message.Envelope {
	return message.New(message.Envelope{
		Type:       message.TypeLocationUpdate,
		SenderID:   driverID,
		SenderRole: user.RoleDriver,
		OrderID:    orderID,
		Payload:    message.MustPayload(message.LocationPayload{Latitude: lat, Longitude: lng}),
	})
}

func TestLocationForwardedToCustomerExactlyOnce(t *testing.T) {
	fx := newFixture(t, nil)
	fx.assign(t, "o1", "c1", "d1")

	customer := fx.connect("c1", user.RoleCustomer)
	driver := fx.connect("d1", user.RoleDriver)

	fx.relay.HandleEnvelope(context.Background(),
		user.User{ID: "d1", Role: user.RoleDriver},
		locationEnvelope("d1", "o1", 37.0, -122.0))

	got := customer.envelopes(t)
	if len(got) != 1 {
		t.Fatalf("customer received %d envelopes, want exactly 1", len(got))
	}
	env := got[0]
	if env.Type != message.TypeLocationUpdate || env.OrderID != "o1" || env.RecipientID != "c1" {
		t.Errorf("forwarded envelope = %+v", env)
	}
	loc, err := env.LocationPayload()
	if err != nil {
		t.Fatalf("forwarded payload: %v", err)
	}
	if loc.Latitude != 37.0 || loc.Longitude != -122.0 {
		t.Errorf("coords = (%v, %v), want (37, -122)", loc.Latitude, loc.Longitude)
	}
	if loc.RelayTime.IsZero() {
		t.Error("relay timestamp not stamped on forward")
	}
	if loc.DriverID != "d1" || loc.OrderID != "o1" {
		t.Errorf("payload identity = (%q, %q)", loc.DriverID, loc.OrderID)
	}

	if n := len(driver.envelopes(t)); n != 0 {
		t.Errorf("driver received %d envelopes, want 0", n)
	}
}

func TestLocationFromUnassignedDriverDropped(t *testing.T) {
	fx := newFixture(t, nil)
	fx.assign(t, "o1", "c1", "d1")

	customer := fx.connect("c1", user.RoleCustomer)
	fx.connect("d2", user.RoleDriver)

	fx.relay.HandleEnvelope(context.Background(),
		user.User{ID: "d2", Role: user.RoleDriver},
		locationEnvelope("d2", "o1", 37.0, -122.0))

	if n := len(customer.envelopes(t)); n != 0 {
		t.Fatalf("customer received %d envelopes from an unassigned driver, want 0", n)
	}

	// the drop leaves no trace in the store
	m, err := fx.store.Get(context.Background(), "o1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if m.DriverID != "d1" || m.Status != order.StatusAssigned {
		t.Errorf("mapping mutated by unauthorized update: %+v", m)
	}
}

func TestLocationDropReasons(t *testing.T) {
	fx := newFixture(t, nil)
	fx.assign(t, "o1", "c1", "d1")
	customer := fx.connect("c1", user.RoleCustomer)

	cases := map[string]struct {
		sender user.User
		env    message.Envelope
	}{
		"customer sender": {
			sender: user.User{ID: "c1", Role: user.RoleCustomer},
			env:    locationEnvelope("c1", "o1", 1, 1),
		},
		"missing order": {
			sender: user.User{ID: "d1", Role: user.RoleDriver},
			env:    locationEnvelope("d1", "", 1, 1),
		},
		"unknown order": {
			sender: user.User{ID: "d1", Role: user.RoleDriver},
			env:    locationEnvelope("d1", "o999", 1, 1),
		},
		"latitude out of range": {
			sender: user.User{ID: "d1", Role: user.RoleDriver},
			env:    locationEnvelope("d1", "o1", 95, 1),
		},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			fx.relay.HandleEnvelope(context.Background(), c.sender, c.env)
			if n := len(customer.envelopes(t)); n != 0 {
				t.Errorf("customer received %d envelopes, want 0", n)
			}
		})
	}
}

func TestLocationMirroredToBridge(t *testing.T) {
	bridge := newFakeBridge()
	fx := newFixture(t, bridge)
	fx.assign(t, "o1", "c1", "d1")
	fx.connect("c1", user.RoleCustomer)

	fx.relay.HandleEnvelope(context.Background(),
		user.User{ID: "d1", Role: user.RoleDriver},
		locationEnvelope("d1", "o1", 37.0, -122.0))

	select {
	case rec := <-bridge.ch:
		if rec.topic != BridgeTopicLocations || rec.key != "o1" {
			t.Errorf("mirrored to (%q, %q), want (%q, %q)", rec.topic, rec.key, BridgeTopicLocations, "o1")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no mirror publish observed")
	}
}

func TestAssignDriverNotifiesBothParties(t *testing.T) {
	fx := newFixture(t, nil)

	customer := fx.connect("c1", user.RoleCustomer)
	driver := fx.connect("d1", user.RoleDriver)

	if err := fx.relay.AssignDriverToOrder(context.Background(), "o1", "c1", "d1",
		map[string]any{"pickup": "Abay 10"}); err != nil {
		t.Fatalf("AssignDriverToOrder: %v", err)
	}

	m, err := fx.store.Get(context.Background(), "o1")
	if err != nil {
		t.Fatalf("mapping not stored: %v", err)
	}
	if m.Status != order.StatusAssigned {
		t.Errorf("status = %s, want ASSIGNED", m.Status)
	}

	for name, tr := range map[string]*fakeTransport{"customer": customer, "driver": driver} {
		envs := tr.envelopes(t)
		if len(envs) != 1 || envs[0].Type != message.TypeOrderAssignment {
			t.Errorf("%s received %d envelopes (first type %v), want one ORDER_ASSIGNMENT",
				name, len(envs), typeOf(envs))
		}
	}
}

func typeOf(envs []message.Envelope) message.Type {
	if len(envs) == 0 {
		return ""
	}
	return envs[0].Type
}

func TestAssignSucceedsWithPartiesOffline(t *testing.T) {
	fx := newFixture(t, nil)

	if err := fx.relay.AssignDriverToOrder(context.Background(), "o1", "c1", "d1", nil); err != nil {
		t.Fatalf("AssignDriverToOrder with nobody connected: %v", err)
	}
	if _, err := fx.store.Get(context.Background(), "o1"); err != nil {
		t.Fatalf("mapping not stored: %v", err)
	}
}

func TestAssignRejectsIncompleteMapping(t *testing.T) {
	fx := newFixture(t, nil)

	if err := fx.relay.AssignDriverToOrder(context.Background(), "o1", "", "d1", nil); !errors.Is(err, order.ErrMissingParties) {
		t.Errorf("err = %v, want ErrMissingParties", err)
	}
}

func TestUpdateOrderStatusPropagatesNotFound(t *testing.T) {
	fx := newFixture(t, nil)

	err := fx.relay.UpdateOrderStatus(context.Background(), "ghost", order.StatusInProgress, "ops")
	if !errors.Is(err, order.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestUpdateOrderStatusNotifiesBothParties(t *testing.T) {
	fx := newFixture(t, nil)
	fx.assign(t, "o1", "c1", "d1")

	customer := fx.connect("c1", user.RoleCustomer)
	driver := fx.connect("d1", user.RoleDriver)

	if err := fx.relay.UpdateOrderStatus(context.Background(), "o1", order.StatusInProgress, "d1"); err != nil {
		t.Fatalf("UpdateOrderStatus: %v", err)
	}

	m, _ := fx.store.Get(context.Background(), "o1")
	if m.Status != order.StatusInProgress {
		t.Errorf("stored status = %s, want IN_PROGRESS", m.Status)
	}

	for name, tr := range map[string]*fakeTransport{"customer": customer, "driver": driver} {
		envs := tr.envelopes(t)
		if len(envs) != 1 || envs[0].Type != message.TypeSystem || envs[0].OrderID != "o1" {
			t.Errorf("%s received %d envelopes (first type %v), want one SYSTEM for o1",
				name, len(envs), typeOf(envs))
		}
	}
}

// vanishingStore removes the mapping right after a status transition
// commits, standing in for a concurrent Remove.
type vanishingStore struct {
	order.Store
}

func (s *vanishingStore) UpdateStatus(ctx context.Context, orderID string, status order.Status) error {
	if err := s.Store.UpdateStatus(ctx, orderID, status); err != nil {
		return err
	}
	_, err := s.Store.Remove(ctx, orderID)
	return err
}

func TestUpdateOrderStatusSurvivesConcurrentRemove(t *testing.T) {
	log := logger.New("service-test")
	inner := order.NewMemoryStore()
	reg := registry.New(log, 0, 0)
	rt := router.New(reg, log)
	relay := New(log, &vanishingStore{Store: inner}, reg, rt, nil, nil)

	m, err := order.NewMapping("o1", "c1", "d1")
	if err != nil {
		t.Fatalf("NewMapping: %v", err)
	}
	if err := inner.Save(context.Background(), m); err != nil {
		t.Fatalf("Save: %v", err)
	}

	customer := &fakeTransport{}
	driver := &fakeTransport{}
	reg.Register(user.User{ID: "c1", Role: user.RoleCustomer}, customer)
	reg.Register(user.User{ID: "d1", Role: user.RoleDriver}, driver)

	// the transition committed, so the caller must see success even though
	// the mapping vanished immediately afterwards
	if err := relay.UpdateOrderStatus(context.Background(), "o1", order.StatusInProgress, "ops"); err != nil {
		t.Fatalf("UpdateOrderStatus: %v", err)
	}

	for name, tr := range map[string]*fakeTransport{"customer": customer, "driver": driver} {
		envs := tr.envelopes(t)
		if len(envs) != 1 || envs[0].Type != message.TypeSystem {
			t.Errorf("%s received %d envelopes (first type %v), want one SYSTEM", name, len(envs), typeOf(envs))
		}
	}
}

func TestAutoSubscribeCustomer(t *testing.T) {
	fx := newFixture(t, nil)
	fx.assign(t, "o1", "c1", "d1")

	tr := fx.connect("c1", user.RoleCustomer)
	fx.relay.autoSubscribe(context.Background(), user.User{ID: "c1", Role: user.RoleCustomer})

	conn, ok := fx.reg.Get("c1")
	if !ok {
		t.Fatal("connection missing")
	}
	if !conn.SubscribedTo(OrderTopic("o1")) || !conn.SubscribedTo(DriverTopic("d1")) {
		t.Errorf("subscriptions = %v, want order and driver topics", conn.Subscriptions())
	}

	// each topic is echoed as a SUBSCRIPTION envelope
	var echoes int
	for _, env := range tr.envelopes(t) {
		if env.Type == message.TypeSubscription {
			echoes++
		}
	}
	if echoes != 2 {
		t.Errorf("subscription echoes = %d, want 2", echoes)
	}
}

func TestAutoSubscribeSkipsTerminalOrders(t *testing.T) {
	fx := newFixture(t, nil)
	fx.assign(t, "o1", "c1", "d1")
	if err := fx.store.UpdateStatus(context.Background(), "o1", order.StatusCancelled); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	fx.connect("d1", user.RoleDriver)
	fx.relay.autoSubscribe(context.Background(), user.User{ID: "d1", Role: user.RoleDriver})

	conn, _ := fx.reg.Get("d1")
	if got := conn.Subscriptions(); len(got) != 0 {
		t.Errorf("subscriptions = %v, want none for a terminal order", got)
	}
}

func TestHandleSubscriptionAppliesToSender(t *testing.T) {
	fx := newFixture(t, nil)
	fx.connect("c1", user.RoleCustomer)

	env := message.New(message.Envelope{
		Type:       message.TypeSubscription,
		SenderID:   "c1",
		SenderRole: user.RoleCustomer,
		Payload: message.MustPayload(message.SubscriptionPayload{
			Action: message.ActionSubscribe,
			Topics: []string{"order:9"},
		}),
	})
	fx.relay.HandleEnvelope(context.Background(), user.User{ID: "c1", Role: user.RoleCustomer}, env)

	conn, _ := fx.reg.Get("c1")
	if !conn.SubscribedTo("order:9") {
		t.Fatal("subscribe action not applied")
	}

	env = message.New(message.Envelope{
		Type:       message.TypeSubscription,
		SenderID:   "c1",
		SenderRole: user.RoleCustomer,
		Payload: message.MustPayload(message.SubscriptionPayload{
			Action: message.ActionUnsubscribe,
			Topics: []string{"order:9"},
		}),
	})
	fx.relay.HandleEnvelope(context.Background(), user.User{ID: "c1", Role: user.RoleCustomer}, env)

	if conn.SubscribedTo("order:9") {
		t.Fatal("unsubscribe action not applied")
	}
}
