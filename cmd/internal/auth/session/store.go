package session

import (
	"context"
	"time"
)

// Credential mirrors the carta.credentials row: one row per issued refresh secret.
//
// A row is mutated at most twice after insert: Revoke sets RevokedAt exactly
// once (plus RotatedToID when the revocation is a rotation), and nothing else
// ever changes. Rows are never deleted by this subsystem.
type Credential struct {
	ID          string
	PrincipalID string

	// SecretHash is the one-way digest of the plaintext secret. Unique across
	// all rows; the plaintext itself is never persisted.
	SecretHash string

	CreatedAt  time.Time
	LastUsedAt *time.Time

	// ExpiresAt is fixed at issuance (now + TTL) and never extended.
	ExpiresAt time.Time

	// RevokedAt is nil while the credential is valid; set exactly once.
	RevokedAt *time.Time

	// RotatedFromID points back to the credential this one replaced (audit chain).
	RotatedFromID *string

	// RotatedToID points forward to the successor, set in the same atomic step
	// that revokes this row during rotation. Nil for explicit logout/revoke-all.
	RotatedToID *string
}

// Active reports whether the credential is usable at instant now:
// not revoked and not expired.
func (c Credential) Active(now time.Time) bool {
	return c.RevokedAt == nil && c.ExpiresAt.After(now)
}

// Store abstracts persistence for credential state.
//
// All mutating operations happen through a Tx so a logical request
// (one rotation, one revocation) is a single atomic unit.
type Store interface {
	// Begin opens a transaction. Implementations must bound lock acquisition
	// by the configured lock timeout and surface ErrLockTimeout.
	Begin(ctx context.Context) (Tx, error)

	// GetByID loads a credential row without locking (reads outside rotation).
	GetByID(ctx context.Context, credentialID string) (Credential, error)
}

// Tx is a single transactional unit over credential rows.
//
// Lock* methods take a write-intent row lock held until Commit/Rollback, so
// two concurrent resolutions of the same presented secret serialize rather
// than race.
type Tx interface {
	// LockBySecretHash loads the row matching digest under lock.
	// Returns ErrInvalidCredential if no row matches.
	LockBySecretHash(ctx context.Context, secretHash string) (Credential, error)

	// LockByID loads a row by id under lock, used while following the
	// rotation chain. Returns ErrInvalidCredential if the row is missing.
	LockByID(ctx context.Context, credentialID string) (Credential, error)

	// Create inserts a new credential row. Returns ErrDuplicateSecretHash when
	// the digest collides with an existing row; callers retry with a fresh secret.
	Create(ctx context.Context, now time.Time, principalID, secretHash string, expiresAt time.Time, rotatedFromID *string) (Credential, error)

	// Revoke sets revoked_at = now on a single row, and rotated_to_id when the
	// revocation is a rotation. Callers call it once per row, under lock.
	Revoke(ctx context.Context, now time.Time, credentialID string, rotatedToID *string) error

	// RevokeAllForPrincipal revokes every currently-active row for a principal.
	RevokeAllForPrincipal(ctx context.Context, now time.Time, principalID string) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
