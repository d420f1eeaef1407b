package message

import (
	"errors"
	"strings"
	"testing"
	"time"

	"courier-relay/internal/domain/user"
)

func TestEncodeFillsDefaults(t *testing.T) {
	raw, err := Encode(Envelope{})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	got, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Type != TypeSystem {
		t.Errorf("type = %q, want %q", got.Type, TypeSystem)
	}
	if got.SenderID != "system" {
		t.Errorf("senderId = %q, want %q", got.SenderID, "system")
	}
	if got.SenderRole != user.RoleSystem {
		t.Errorf("senderRole = %q, want %q", got.SenderRole, user.RoleSystem)
	}
	if got.Timestamp.IsZero() {
		t.Error("timestamp not defaulted")
	}
	if string(got.Payload) != "{}" {
		t.Errorf("payload = %s, want {}", got.Payload)
	}
}

func TestRoundTripPreservesFields(t *testing.T) {
	ts := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	want := Envelope{
		Type:          TypeLocationUpdate,
		SenderID:      "driver-7",
		SenderRole:    user.RoleDriver,
		RecipientID:   "customer-2",
		RecipientRole: user.RoleCustomer,
		OrderID:       "order-41",
		Payload:       MustPayload(LocationPayload{Latitude: 51.1, Longitude: 71.4}),
		Timestamp:     ts,
	}

	raw, err := Encode(want)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if got.Type != want.Type || got.SenderID != want.SenderID || got.SenderRole != want.SenderRole {
		t.Errorf("sender fields differ: got %+v", got)
	}
	if got.RecipientID != want.RecipientID || got.RecipientRole != want.RecipientRole || got.OrderID != want.OrderID {
		t.Errorf("routing fields differ: got %+v", got)
	}
	if !got.Timestamp.Equal(want.Timestamp) {
		t.Errorf("timestamp = %v, want %v", got.Timestamp, want.Timestamp)
	}

	loc, err := got.LocationPayload()
	if err != nil {
		t.Fatalf("LocationPayload: %v", err)
	}
	if loc.Latitude != 51.1 || loc.Longitude != 71.4 {
		t.Errorf("payload coords = (%v, %v)", loc.Latitude, loc.Longitude)
	}
}

func TestDecodeMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":         `{"type": LOCATION`,
		"missing type":     `{"senderId":"u1","senderRole":"DRIVER"}`,
		"missing senderId": `{"type":"SYSTEM","senderRole":"SYSTEM"}`,
		"missing role":     `{"type":"SYSTEM","senderId":"u1"}`,
		"array not object": `[1,2,3]`,
		"blank sender":     `{"type":"SYSTEM","senderId":"  ","senderRole":"SYSTEM"}`,
	}
	for name, frame := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Decode([]byte(frame)); !errors.Is(err, ErrMalformedMessage) {
				t.Errorf("Decode(%s) err = %v, want ErrMalformedMessage", frame, err)
			}
		})
	}
}

func TestDecodeToleratesUnknownTypeAndFields(t *testing.T) {
	frame := `{"type":"FUTURE_THING","senderId":"u1","senderRole":"DRIVER","shiny":true}`
	got, err := Decode([]byte(frame))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Type.Known() {
		t.Errorf("type %q unexpectedly known", got.Type)
	}
	if got.SenderID != "u1" {
		t.Errorf("senderId = %q", got.SenderID)
	}
}

func TestLocationPayloadRanges(t *testing.T) {
	bad := []LocationPayload{
		{Latitude: 91, Longitude: 0},
		{Latitude: -91, Longitude: 0},
		{Latitude: 0, Longitude: 181},
		{Latitude: 0, Longitude: -181},
	}
	for _, p := range bad {
		if err := p.Validate(); !errors.Is(err, ErrMalformedMessage) {
			t.Errorf("Validate(%+v) = %v, want ErrMalformedMessage", p, err)
		}
	}
	ok := LocationPayload{Latitude: -90, Longitude: 180}
	if err := ok.Validate(); err != nil {
		t.Errorf("Validate(%+v) = %v", ok, err)
	}
}

func TestSubscriptionPayloadValidate(t *testing.T) {
	env := New(Envelope{
		Type:    TypeSubscription,
		Payload: MustPayload(SubscriptionPayload{Action: "resubscribe", Topics: []string{"order:1"}}),
	})
	if _, err := env.SubscriptionPayload(); err == nil || !strings.Contains(err.Error(), "resubscribe") {
		t.Errorf("unknown action accepted: %v", err)
	}

	env = New(Envelope{
		Type:    TypeSubscription,
		Payload: MustPayload(SubscriptionPayload{Action: ActionSubscribe}),
	})
	if _, err := env.SubscriptionPayload(); !errors.Is(err, ErrMalformedMessage) {
		t.Errorf("empty topics accepted: %v", err)
	}
}
