package user

import (
	"errors"
	"strings"
)

// Attrs carries optional per-user metadata (display name, vehicle, ...).
type Attrs map[string]any

// User is the identity attached to a live connection.
type User struct {
	ID    string
	Role  Role
	Attrs Attrs
}

var ErrEmptyUserID = errors.New("user id cannot be empty")

// New constructs a User and validates its invariants.
func New(id string, role Role, attrs Attrs) (*User, error) {
	u := &User{
		ID:    strings.TrimSpace(id),
		Role:  role,
		Attrs: attrs,
	}
	if err := u.Validate(); err != nil {
		return nil, err
	}
	return u, nil
}

// Validate checks the User invariants.
func (u *User) Validate() error {
	if strings.TrimSpace(u.ID) == "" {
		return ErrEmptyUserID
	}
	if !u.Role.Valid() {
		return ErrInvalidRole
	}
	return nil
}
