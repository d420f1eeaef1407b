package order

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Status of an order mapping. Transitions are one-directional
// (ASSIGNED -> IN_PROGRESS -> COMPLETED); CANCELLED is reachable from any
// non-terminal state.
type Status string

const (
	StatusAssigned   Status = "ASSIGNED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusCancelled  Status = "CANCELLED"
)

var (
	ErrNotFound       = errors.New("order mapping not found")
	ErrInvalidStatus  = errors.New("invalid order status")
	ErrBadTransition  = errors.New("invalid status transition")
	ErrEmptyOrderID   = errors.New("order id cannot be empty")
	ErrMissingParties = errors.New("customer and driver ids are required")
)

// Valid reports whether s is one of the allowed status constants.
func (s Status) Valid() bool {
	switch s {
	case StatusAssigned, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal reports whether s admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// CanTransition reports whether next is reachable from s.
func (s Status) CanTransition(next Status) bool {
	if !next.Valid() || s.Terminal() {
		return false
	}
	if next == StatusCancelled {
		return true
	}
	switch s {
	case StatusAssigned:
		return next == StatusInProgress
	case StatusInProgress:
		return next == StatusCompleted
	default:
		return false
	}
}

// String returns the string representation of the Status.
func (s Status) String() string {
	return string(s)
}

// Mapping binds an order to its customer and driver. It is the sole
// authorization record consulted when relaying location updates.
type Mapping struct {
	OrderID    string
	CustomerID string
	DriverID   string
	Status     Status
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// NewMapping constructs a Mapping in ASSIGNED state.
func NewMapping(orderID, customerID, driverID string) (*Mapping, error) {
	now := time.Now().UTC()
	m := &Mapping{
		OrderID:    strings.TrimSpace(orderID),
		CustomerID: strings.TrimSpace(customerID),
		DriverID:   strings.TrimSpace(driverID),
		Status:     StatusAssigned,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Validate checks the Mapping invariants.
func (m *Mapping) Validate() error {
	if strings.TrimSpace(m.OrderID) == "" {
		return ErrEmptyOrderID
	}
	if strings.TrimSpace(m.CustomerID) == "" || strings.TrimSpace(m.DriverID) == "" {
		return ErrMissingParties
	}
	if !m.Status.Valid() {
		return ErrInvalidStatus
	}
	return nil
}

// Store is the capability contract for order-mapping persistence.
// Implementations may back it with memory or a database; all must keep the
// exact semantics, including ErrNotFound on UpdateStatus for an unknown
// order.
type Store interface {
	// Get returns the mapping for orderID or ErrNotFound.
	Get(ctx context.Context, orderID string) (*Mapping, error)
	// ListByCustomer returns every mapping whose customer is customerID.
	ListByCustomer(ctx context.Context, customerID string) ([]*Mapping, error)
	// ListByDriver returns every mapping whose driver is driverID.
	ListByDriver(ctx context.Context, driverID string) ([]*Mapping, error)
	// Save upserts the mapping and refreshes UpdatedAt.
	Save(ctx context.Context, m *Mapping) error
	// UpdateStatus transitions the stored status and refreshes UpdatedAt.
	// Fails with ErrNotFound when no mapping exists for orderID and with
	// ErrBadTransition when the transition is not allowed. It never creates
	// a mapping.
	UpdateStatus(ctx context.Context, orderID string, status Status) error
	// Remove deletes the mapping; true when something was deleted.
	Remove(ctx context.Context, orderID string) (bool, error)
}
