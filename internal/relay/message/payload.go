package message

import (
	"encoding/json"
	"fmt"
	"time"
)

// Typed payload shapes for the known envelope types. The envelope keeps the
// payload opaque on the wire; callers decode the shape matching the type and
// drop the frame when it does not fit.

// LocationPayload is carried by LOCATION_UPDATE envelopes.
type LocationPayload struct {
	DriverID       string    `json:"driverId,omitempty"`
	OrderID        string    `json:"orderId,omitempty"`
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	AccuracyMeters float64   `json:"accuracy_meters,omitempty"`
	SpeedKMH       float64   `json:"speed_kmh,omitempty"`
	HeadingDegrees float64   `json:"heading_degrees,omitempty"`
	RelayTime      time.Time `json:"relay_time,omitempty"`  // assigned by the relay on forward
	DeviceTime     time.Time `json:"device_time,omitempty"` // reported by the sampling device
}

// Validate checks coordinate ranges.
func (p *LocationPayload) Validate() error {
	if p.Latitude < -90 || p.Latitude > 90 {
		return fmt.Errorf("%w: latitude out of range", ErrMalformedMessage)
	}
	if p.Longitude < -180 || p.Longitude > 180 {
		return fmt.Errorf("%w: longitude out of range", ErrMalformedMessage)
	}
	return nil
}

// SubscriptionPayload is the subscription sub-protocol:
// {action: "subscribe"|"unsubscribe", topics: [...]}.
type SubscriptionPayload struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
)

// Validate checks the action verb and that at least one topic is named.
func (p *SubscriptionPayload) Validate() error {
	if p.Action != ActionSubscribe && p.Action != ActionUnsubscribe {
		return fmt.Errorf("%w: unknown subscription action %q", ErrMalformedMessage, p.Action)
	}
	if len(p.Topics) == 0 {
		return fmt.Errorf("%w: subscription without topics", ErrMalformedMessage)
	}
	return nil
}

// AssignmentPayload is carried by ORDER_ASSIGNMENT envelopes.
type AssignmentPayload struct {
	OrderID    string         `json:"orderId"`
	CustomerID string         `json:"customerId"`
	DriverID   string         `json:"driverId"`
	Status     string         `json:"status"`
	Details    map[string]any `json:"details,omitempty"`
}

// SystemPayload is carried by SYSTEM envelopes (welcome, status notices).
type SystemPayload struct {
	Event   string         `json:"event"`
	Message string         `json:"message,omitempty"`
	OrderID string         `json:"orderId,omitempty"`
	Status  string         `json:"status,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// IdentifyPayload is carried by AUTHENTICATION envelopes the client sends
// right after the transport opens.
type IdentifyPayload struct {
	ClientID string `json:"clientId"`
}

// LocationPayload decodes the envelope payload as a LocationPayload and
// validates its shape.
func (e *Envelope) LocationPayload() (LocationPayload, error) {
	var p LocationPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return LocationPayload{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if err := p.Validate(); err != nil {
		return LocationPayload{}, err
	}
	return p, nil
}

// SubscriptionPayload decodes the envelope payload as a SubscriptionPayload
// and validates its shape.
func (e *Envelope) SubscriptionPayload() (SubscriptionPayload, error) {
	var p SubscriptionPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return SubscriptionPayload{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if err := p.Validate(); err != nil {
		return SubscriptionPayload{}, err
	}
	return p, nil
}

// MustPayload marshals v as an envelope payload. It panics only on
// unmarshalable values, which the known payload shapes never are.
func MustPayload(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("message: marshal payload: %v", err))
	}
	return raw
}
