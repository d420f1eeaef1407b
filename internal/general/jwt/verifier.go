package jwt

import (
	"context"

	"courier-relay/internal/domain/user"
)

// Verifier adapts the token Manager to the relay's TokenVerifier
// capability: a nil user means "absent" and rejects the connection.
type Verifier struct {
	mgr *Manager
}

// NewVerifier wraps a Manager.
func NewVerifier(mgr *Manager) *Verifier {
	return &Verifier{mgr: mgr}
}

// VerifyToken validates the raw token and maps its claims to an identity.
// Invalid, expired, and empty tokens all yield (nil, nil): the relay treats
// an absent identity as a rejection, not an internal error.
func (v *Verifier) VerifyToken(ctx context.Context, token string) (*user.User, error) {
	_, claims, err := v.mgr.ParseAndValidate(token)
	if err != nil {
		return nil, nil
	}
	u, err := user.New(claims.Subject, claims.Role, nil)
	if err != nil {
		return nil, nil
	}
	return u, nil
}
