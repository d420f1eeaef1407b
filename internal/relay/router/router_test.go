package router

import (
	"errors"
	"sync"
	"testing"
	"time"

	"courier-relay/internal/domain/user"
	"courier-relay/internal/general/logger"
	"courier-relay/internal/relay/message"
	"courier-relay/internal/relay/registry"
)

type fakeTransport struct {
	mu       sync.Mutex
	frames   [][]byte
	writeErr error
}

func (f *fakeTransport) WriteMessage(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.frames = append(f.frames, data)
	return nil
}

func (f *fakeTransport) Ping(time.Time) error    { return nil }
func (f *fakeTransport) Close(int, string) error { return nil }

func (f *fakeTransport) frameCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

func setup() (*registry.Registry, *Router) {
	log := logger.New("router-test")
	reg := registry.New(log, 0, 0)
	return reg, New(reg, log)
}

func testEnvelope() message.Envelope {
	return message.New(message.Envelope{Type: message.TypeSystem})
}

func TestSendToUser(t *testing.T) {
	reg, rt := setup()
	tr := &fakeTransport{}
	reg.Register(user.User{ID: "u1", Role: user.RoleCustomer}, tr)

	if !rt.SendToUser("u1", testEnvelope()) {
		t.Fatal("SendToUser to a live connection returned false")
	}
	if tr.frameCount() != 1 {
		t.Errorf("frames = %d, want 1", tr.frameCount())
	}

	if rt.SendToUser("nobody", testEnvelope()) {
		t.Error("SendToUser to an absent identity returned true")
	}
}

func TestSendToUserAfterDeregister(t *testing.T) {
	reg, rt := setup()
	reg.Register(user.User{ID: "u1", Role: user.RoleCustomer}, &fakeTransport{})
	reg.Deregister("u1")

	if rt.SendToUser("u1", testEnvelope()) {
		t.Error("SendToUser after deregister returned true")
	}
}

func TestSendToUserSwallowsWriteError(t *testing.T) {
	reg, rt := setup()
	reg.Register(user.User{ID: "u1", Role: user.RoleCustomer},
		&fakeTransport{writeErr: errors.New("gone")})

	if rt.SendToUser("u1", testEnvelope()) {
		t.Error("SendToUser over a dead transport returned true")
	}
}

func TestSendToTopicCountsSubscribersOnly(t *testing.T) {
	reg, rt := setup()

	subscribed := &fakeTransport{}
	bystander := &fakeTransport{}
	broken := &fakeTransport{writeErr: errors.New("gone")}

	reg.Register(user.User{ID: "u1", Role: user.RoleCustomer}, subscribed)
	reg.Register(user.User{ID: "u2", Role: user.RoleCustomer}, bystander)
	reg.Register(user.User{ID: "u3", Role: user.RoleCustomer}, broken)

	reg.Subscribe("u1", "order:1")
	reg.Subscribe("u3", "order:1")

	if sent := rt.SendToTopic("order:1", testEnvelope()); sent != 1 {
		t.Errorf("SendToTopic = %d, want 1 (one subscriber live, one dead)", sent)
	}
	if subscribed.frameCount() != 1 {
		t.Errorf("subscriber frames = %d, want 1", subscribed.frameCount())
	}
	if bystander.frameCount() != 0 {
		t.Errorf("bystander frames = %d, want 0", bystander.frameCount())
	}
}

func TestBroadcast(t *testing.T) {
	reg, rt := setup()

	a := &fakeTransport{}
	b := &fakeTransport{}
	reg.Register(user.User{ID: "u1", Role: user.RoleCustomer}, a)
	reg.Register(user.User{ID: "u2", Role: user.RoleDriver}, b)

	if sent := rt.Broadcast(testEnvelope()); sent != 2 {
		t.Errorf("Broadcast = %d, want 2", sent)
	}
	if a.frameCount() != 1 || b.frameCount() != 1 {
		t.Errorf("frames = (%d, %d), want (1, 1)", a.frameCount(), b.frameCount())
	}
}
