package order

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the reference Store: an unbounded in-memory table with no
// eviction. Entries live for the process lifetime unless removed.
type MemoryStore struct {
	mu       sync.RWMutex
	mappings map[string]Mapping
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{mappings: make(map[string]Mapping)}
}

var _ Store = (*MemoryStore)(nil)

// Get returns a copy of the mapping for orderID or ErrNotFound.
func (s *MemoryStore) Get(ctx context.Context, orderID string) (*Mapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.mappings[orderID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := m
	return &cp, nil
}

// ListByCustomer returns copies of every mapping for customerID.
func (s *MemoryStore) ListByCustomer(ctx context.Context, customerID string) ([]*Mapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Mapping
	for _, m := range s.mappings {
		if m.CustomerID == customerID {
			cp := m
			out = append(out, &cp)
		}
	}
	return out, nil
}

// ListByDriver returns copies of every mapping for driverID.
func (s *MemoryStore) ListByDriver(ctx context.Context, driverID string) ([]*Mapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Mapping
	for _, m := range s.mappings {
		if m.DriverID == driverID {
			cp := m
			out = append(out, &cp)
		}
	}
	return out, nil
}

// Save upserts the mapping and refreshes UpdatedAt. CreatedAt is kept from
// an existing entry so repeated saves do not rewrite history.
func (s *MemoryStore) Save(ctx context.Context, m *Mapping) error {
	if err := m.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *m
	now := time.Now().UTC()
	if prev, ok := s.mappings[m.OrderID]; ok {
		cp.CreatedAt = prev.CreatedAt
	} else if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	s.mappings[m.OrderID] = cp

	m.CreatedAt = cp.CreatedAt
	m.UpdatedAt = cp.UpdatedAt
	return nil
}

// UpdateStatus transitions the stored status; ErrNotFound for unknown
// orders, ErrBadTransition for disallowed transitions.
func (s *MemoryStore) UpdateStatus(ctx context.Context, orderID string, status Status) error {
	if !status.Valid() {
		return ErrInvalidStatus
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.mappings[orderID]
	if !ok {
		return ErrNotFound
	}
	if !m.Status.CanTransition(status) {
		return ErrBadTransition
	}
	m.Status = status
	m.UpdatedAt = time.Now().UTC()
	s.mappings[orderID] = m
	return nil
}

// Remove deletes the mapping for orderID; true when an entry was deleted.
func (s *MemoryStore) Remove(ctx context.Context, orderID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.mappings[orderID]
	delete(s.mappings, orderID)
	return ok, nil
}
