package message

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"courier-relay/internal/domain/user"
)

// Type tags the envelope and decides how its payload is interpreted.
type Type string

const (
	TypeLocationUpdate  Type = "LOCATION_UPDATE"
	TypeOrderAssignment Type = "ORDER_ASSIGNMENT"
	TypeSubscription    Type = "SUBSCRIPTION"
	TypeAuthentication  Type = "AUTHENTICATION"
	TypeSystem          Type = "SYSTEM"
)

// Known reports whether t is one of the types this relay routes specially.
// Unknown types still decode fine; they just pass through untouched.
func (t Type) Known() bool {
	switch t {
	case TypeLocationUpdate, TypeOrderAssignment, TypeSubscription, TypeAuthentication, TypeSystem:
		return true
	default:
		return false
	}
}

// String returns the string representation of the Type.
func (t Type) String() string {
	return string(t)
}

var ErrMalformedMessage = errors.New("malformed message")

// Envelope is the unit of wire communication. Constructed once by the
// producing side and never mutated in transit.
type Envelope struct {
	Type          Type            `json:"type"`
	SenderID      string          `json:"senderId"`
	SenderRole    user.Role       `json:"senderRole"`
	RecipientID   string          `json:"recipientId,omitempty"`
	RecipientRole user.Role       `json:"recipientRole,omitempty"`
	OrderID       string          `json:"orderId,omitempty"`
	Payload       json.RawMessage `json:"payload"`
	Timestamp     time.Time       `json:"timestamp"`
}

// Validate checks the required envelope fields.
func (e *Envelope) Validate() error {
	if strings.TrimSpace(string(e.Type)) == "" {
		return fmt.Errorf("%w: missing type", ErrMalformedMessage)
	}
	if strings.TrimSpace(e.SenderID) == "" {
		return fmt.Errorf("%w: missing senderId", ErrMalformedMessage)
	}
	if strings.TrimSpace(string(e.SenderRole)) == "" {
		return fmt.Errorf("%w: missing senderRole", ErrMalformedMessage)
	}
	return nil
}

// withDefaults fills the documented defaults for omitted fields:
// type -> SYSTEM, senderId -> "system", senderRole -> SYSTEM,
// timestamp -> now, payload -> empty object.
func withDefaults(e Envelope) Envelope {
	if e.Type == "" {
		e.Type = TypeSystem
	}
	if e.SenderID == "" {
		e.SenderID = "system"
	}
	if e.SenderRole == "" {
		e.SenderRole = user.RoleSystem
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if len(e.Payload) == 0 {
		e.Payload = json.RawMessage(`{}`)
	}
	return e
}

// New returns a defaulted, ready-to-encode envelope. Pure, no side effects
// beyond reading the clock for a missing timestamp.
func New(e Envelope) Envelope {
	return withDefaults(e)
}

// Encode fills defaults and marshals the envelope to a UTF-8 JSON frame.
func Encode(e Envelope) ([]byte, error) {
	e = withDefaults(e)
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return raw, nil
}

// Decode parses a wire frame into an Envelope. It fails with
// ErrMalformedMessage when the frame is not well-formed JSON or any of
// type/senderId/senderRole is absent. Unrecognized type values and unknown
// extra fields are tolerated (forward-compatible).
func Decode(raw []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if err := e.Validate(); err != nil {
		return Envelope{}, err
	}
	if len(e.Payload) == 0 {
		e.Payload = json.RawMessage(`{}`)
	}
	return e, nil
}
