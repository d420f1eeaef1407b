package order

import (
	"context"
	"errors"
	"testing"
)

func TestSaveAndGet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	m, err := NewMapping("o1", "c1", "d1")
	if err != nil {
		t.Fatalf("NewMapping: %v", err)
	}
	if err := s.Save(ctx, m); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Get(ctx, "o1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.CustomerID != "c1" || got.DriverID != "d1" || got.Status != StatusAssigned {
		t.Errorf("mapping = %+v", got)
	}
	if got.UpdatedAt.Before(got.CreatedAt) {
		t.Errorf("UpdatedAt %v before CreatedAt %v", got.UpdatedAt, got.CreatedAt)
	}

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) = %v, want ErrNotFound", err)
	}
}

func TestSaveKeepsCreatedAt(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	m, _ := NewMapping("o1", "c1", "d1")
	if err := s.Save(ctx, m); err != nil {
		t.Fatalf("Save: %v", err)
	}
	created := m.CreatedAt

	again, _ := NewMapping("o1", "c1", "d2")
	if err := s.Save(ctx, again); err != nil {
		t.Fatalf("Save again: %v", err)
	}

	got, _ := s.Get(ctx, "o1")
	if !got.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt rewritten: %v != %v", got.CreatedAt, created)
	}
	if got.DriverID != "d2" {
		t.Errorf("driver not updated: %q", got.DriverID)
	}
}

func TestUpdateStatusNeverCreates(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if err := s.UpdateStatus(ctx, "ghost", StatusInProgress); !errors.Is(err, ErrNotFound) {
		t.Fatalf("UpdateStatus(ghost) = %v, want ErrNotFound", err)
	}
	if _, err := s.Get(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateStatus created a mapping")
	}
}

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusAssigned, StatusInProgress, true},
		{StatusAssigned, StatusCompleted, false},
		{StatusAssigned, StatusCancelled, true},
		{StatusInProgress, StatusCompleted, true},
		{StatusInProgress, StatusAssigned, false},
		{StatusInProgress, StatusCancelled, true},
		{StatusCompleted, StatusCancelled, false},
		{StatusCancelled, StatusAssigned, false},
		{StatusAssigned, Status("LOST"), false},
	}
	for _, c := range cases {
		if got := c.from.CanTransition(c.to); got != c.ok {
			t.Errorf("CanTransition(%s -> %s) = %v, want %v", c.from, c.to, got, c.ok)
		}
	}
}

func TestUpdateStatusEnforcesTransitions(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	m, _ := NewMapping("o1", "c1", "d1")
	_ = s.Save(ctx, m)

	if err := s.UpdateStatus(ctx, "o1", StatusCompleted); !errors.Is(err, ErrBadTransition) {
		t.Errorf("ASSIGNED -> COMPLETED = %v, want ErrBadTransition", err)
	}
	if err := s.UpdateStatus(ctx, "o1", StatusInProgress); err != nil {
		t.Fatalf("ASSIGNED -> IN_PROGRESS: %v", err)
	}
	if err := s.UpdateStatus(ctx, "o1", StatusCompleted); err != nil {
		t.Fatalf("IN_PROGRESS -> COMPLETED: %v", err)
	}
	if err := s.UpdateStatus(ctx, "o1", StatusCancelled); !errors.Is(err, ErrBadTransition) {
		t.Errorf("COMPLETED -> CANCELLED = %v, want ErrBadTransition", err)
	}
}

func TestListByParty(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	for _, row := range []struct{ o, c, d string }{
		{"o1", "c1", "d1"},
		{"o2", "c1", "d2"},
		{"o3", "c2", "d1"},
	} {
		m, _ := NewMapping(row.o, row.c, row.d)
		_ = s.Save(ctx, m)
	}

	byCustomer, err := s.ListByCustomer(ctx, "c1")
	if err != nil || len(byCustomer) != 2 {
		t.Errorf("ListByCustomer(c1) = %d mappings, err %v", len(byCustomer), err)
	}
	byDriver, err := s.ListByDriver(ctx, "d1")
	if err != nil || len(byDriver) != 2 {
		t.Errorf("ListByDriver(d1) = %d mappings, err %v", len(byDriver), err)
	}
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	m, _ := NewMapping("o1", "c1", "d1")
	_ = s.Save(ctx, m)

	ok, err := s.Remove(ctx, "o1")
	if err != nil || !ok {
		t.Fatalf("Remove = (%v, %v), want (true, nil)", ok, err)
	}
	ok, err = s.Remove(ctx, "o1")
	if err != nil || ok {
		t.Errorf("second Remove = (%v, %v), want (false, nil)", ok, err)
	}
}
