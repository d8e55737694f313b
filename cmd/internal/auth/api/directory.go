package authapi

import (
	"context"

	"carta/cmd/identity"
	"carta/cmd/internal/auth/session"
)

// accountDirectory adapts the identity store to the read-only principal lookup
// the session engine performs during rotation.
type accountDirectory struct {
	accounts identity.Store
}

func (d accountDirectory) PrincipalState(ctx context.Context, principalID string) (session.PrincipalState, bool, error) {
	st, err := d.accounts.GetAuthState(ctx, principalID)
	if identity.IsNotFound(err) {
		return session.PrincipalState{}, false, nil
	}
	if err != nil {
		return session.PrincipalState{}, false, err
	}
	return session.PrincipalState{Active: st.Active, Verified: st.Verified}, true, nil
}
