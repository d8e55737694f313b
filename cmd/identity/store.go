package identity

import (
	"context"
	"time"
)

// Account is Carta's canonical security principal: a restaurant owner.
type Account struct {
	ID        string
	Email     string
	EmailNorm string

	DisplayName *string

	// PasswordHash is the PHC-encoded Argon2id hash. Never expose it to callers.
	PasswordHash string

	// IsActive is flipped off when an account is deactivated (billing, abuse, ...).
	IsActive bool

	// EmailVerifiedAt is nil until the owner confirms their address.
	EmailVerifiedAt *time.Time

	CreatedAt time.Time
}

// Verified reports whether the account's email identity is confirmed.
func (a Account) Verified() bool { return a.EmailVerifiedAt != nil }

// AuthState is the read-only principal state the session core checks during
// rotation. It deliberately carries no persistence details.
type AuthState struct {
	Active   bool
	Verified bool
}

// CreateAccountInput describes an account registration request.
type CreateAccountInput struct {
	Email       string
	Password    string
	DisplayName *string
	Now         time.Time
}

// Store is the identity persistence boundary.
type Store interface {
	CreateAccount(ctx context.Context, in CreateAccountInput) (Account, error)

	// GetByID loads an account by its ULID.
	GetByID(ctx context.Context, accountID string) (Account, error)

	// GetByEmail loads an account by normalized email, including the password
	// hash, for login verification.
	GetByEmail(ctx context.Context, email string) (Account, error)

	// GetAuthState returns the deactivation/verification state for a principal.
	// Returns NotFoundError when the account row is missing.
	GetAuthState(ctx context.Context, accountID string) (AuthState, error)

	// MarkEmailVerified records email confirmation. Idempotent: a second call
	// keeps the original timestamp.
	MarkEmailVerified(ctx context.Context, accountID string, now time.Time) error
}
