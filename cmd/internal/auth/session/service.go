package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
)

// PrincipalState is the read-only account state checked during rotation.
type PrincipalState struct {
	Active   bool
	Verified bool
}

// PrincipalDirectory is the lookup capability the credential engine needs from
// identity. found=false means the account row does not exist (which should not
// happen for a credential that does; the engine revokes defensively).
type PrincipalDirectory interface {
	PrincipalState(ctx context.Context, principalID string) (state PrincipalState, found bool, err error)
}

// Service implements the high-level credential operations for Carta.
//
// It issues refresh credentials (plus access tokens), performs rotation with
// grace-window duplicate tolerance, and supports per-credential and
// per-principal revocation under a strict transactional model.
type Service struct {
	cfg        Config
	tokens     AccessTokenManager
	store      Store
	principals PrincipalDirectory
	log        *slog.Logger
}

// Issued is the result of issuing or rotating a credential.
// It includes a short-lived access token and an opaque refresh secret.
// The refresh secret must be shown to the client exactly once and never logged.
type Issued struct {
	CredentialID  string
	PrincipalID   string
	AccessToken   string
	AccessExp     time.Time
	RefreshSecret string
	RefreshExp    time.Time
}

// NewService constructs a Service with the provided configuration, store,
// principal directory, and token manager.
func NewService(cfg Config, store Store, principals PrincipalDirectory, tokens AccessTokenManager, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{cfg: cfg, store: store, principals: principals, tokens: tokens, log: log}
}

// Issue creates a fresh credential row for a principal and returns its
// plaintext secret alongside a new access token. Used at login and
// registration, not during rotation.
func (s *Service) Issue(ctx context.Context, now time.Time, principalID string) (Issued, error) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return Issued{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	plain, cred, err := s.createWithRetry(ctx, tx, now, principalID, nil)
	if err != nil {
		return Issued{}, err
	}

	accessToken, accessExp, err := s.tokens.Issue(principalID, cred.ID, now)
	if err != nil {
		return Issued{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Issued{}, err
	}

	return Issued{
		CredentialID:  cred.ID,
		PrincipalID:   principalID,
		AccessToken:   accessToken,
		AccessExp:     accessExp,
		RefreshSecret: plain,
		RefreshExp:    cred.ExpiresAt,
	}, nil
}

// Rotate exchanges a presented refresh secret for a successor credential and
// a fresh access token.
//
// Security model:
//   - Lock the credential row by secret hash (SELECT ... FOR UPDATE).
//   - Resolve the usable row along the rotation chain (grace window, bounded hops).
//   - Check the owning principal; deactivated/unverified/missing principals
//     revoke the row durably before the call fails.
//   - Create the successor, revoke the old row, and link rotated_to_id in one
//     atomic step. The new secret is generated fresh, never derived from the old.
func (s *Service) Rotate(ctx context.Context, now time.Time, refreshSecret string) (Issued, error) {
	refreshSecret = strings.TrimSpace(refreshSecret)
	// Basic sanity bounds to avoid pathological inputs.
	if refreshSecret == "" || len(refreshSecret) > 4096 {
		return Issued{}, ErrInvalidCredential
	}

	// Hash in-memory (never persist or log the plain secret).
	secretHash := hashRefreshSecretHex(refreshSecret)

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return Issued{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	presented, err := tx.LockBySecretHash(ctx, secretHash)
	if err != nil {
		return Issued{}, err
	}

	current, err := s.resolveUsable(ctx, tx, presented, now)
	if err != nil {
		return Issued{}, err
	}

	state, found, err := s.principals.PrincipalState(ctx, current.PrincipalID)
	if err != nil {
		return Issued{}, err
	}
	if !found {
		// Data-integrity guard: a credential without an account should not
		// exist. Revoke it durably and reject as an ordinary invalid credential.
		s.log.Warn("session.rotate.orphan_credential",
			"credential_id", current.ID, "principal_id", current.PrincipalID)
		return Issued{}, s.revokeAndFail(ctx, tx, now, current.ID, ErrInvalidCredential)
	}
	if !state.Active {
		return Issued{}, s.revokeAndFail(ctx, tx, now, current.ID, ErrPrincipalDeactivated)
	}
	if !state.Verified {
		return Issued{}, s.revokeAndFail(ctx, tx, now, current.ID, ErrPrincipalUnverified)
	}

	plain, successor, err := s.createWithRetry(ctx, tx, now, current.PrincipalID, &current.ID)
	if err != nil {
		return Issued{}, err
	}

	if err := tx.Revoke(ctx, now, current.ID, &successor.ID); err != nil {
		return Issued{}, err
	}

	accessToken, accessExp, err := s.tokens.Issue(current.PrincipalID, successor.ID, now)
	if err != nil {
		return Issued{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Issued{}, err
	}

	return Issued{
		CredentialID:  successor.ID,
		PrincipalID:   current.PrincipalID,
		AccessToken:   accessToken,
		AccessExp:     accessExp,
		RefreshSecret: plain,
		RefreshExp:    successor.ExpiresAt,
	}, nil
}

// RevokeOne revokes the credential matching a presented secret, best-effort.
// Absence or an already-revoked row is not an error (idempotent logout).
func (s *Service) RevokeOne(ctx context.Context, now time.Time, refreshSecret string) error {
	refreshSecret = strings.TrimSpace(refreshSecret)
	if refreshSecret == "" || len(refreshSecret) > 4096 {
		return nil
	}

	secretHash := hashRefreshSecretHex(refreshSecret)

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row, err := tx.LockBySecretHash(ctx, secretHash)
	if errors.Is(err, ErrInvalidCredential) {
		return nil
	}
	if err != nil {
		return err
	}
	if row.RevokedAt != nil {
		return nil
	}

	if err := tx.Revoke(ctx, now, row.ID, nil); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// RevokeAll revokes every currently-active credential for a principal
// (logout everywhere).
func (s *Service) RevokeAll(ctx context.Context, now time.Time, principalID string) error {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := tx.RevokeAllForPrincipal(ctx, now, principalID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ValidateAccessToken verifies a short-lived access token. Verification is
// stateless; revocation takes effect at the next refresh.
func (s *Service) ValidateAccessToken(tokenStr string, now time.Time) (AccessClaims, error) {
	return s.tokens.Verify(tokenStr, now)
}

// revokeAndFail revokes a row and COMMITS before surfacing kind, so a rejected
// rotation against a deactivated/unverified account never leaves a reusable
// credential behind.
func (s *Service) revokeAndFail(ctx context.Context, tx Tx, now time.Time, credentialID string, kind error) error {
	if err := tx.Revoke(ctx, now, credentialID, nil); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	return kind
}

// createWithRetry inserts a new credential row, regenerating the secret on a
// hash collision up to the configured budget. Exhaustion indicates a broken
// randomness source or misconfiguration and aborts loudly.
func (s *Service) createWithRetry(ctx context.Context, tx Tx, now time.Time, principalID string, rotatedFromID *string) (string, Credential, error) {
	expiresAt := now.Add(s.cfg.RefreshTTL)

	for attempt := 0; attempt < s.cfg.CreateRetryMax; attempt++ {
		plain, secretHash, err := newOpaqueRefreshSecret(s.cfg.RefreshSecretBytes)
		if err != nil {
			return "", Credential{}, err
		}

		cred, err := tx.Create(ctx, now, principalID, secretHash, expiresAt, rotatedFromID)
		if errors.Is(err, ErrDuplicateSecretHash) {
			s.log.Warn("session.create.hash_collision", "attempt", attempt+1)
			continue
		}
		if err != nil {
			return "", Credential{}, err
		}
		return plain, cred, nil
	}

	s.log.Error("session.create.entropy_exhausted", "retries", s.cfg.CreateRetryMax)
	return "", Credential{}, ErrEntropyExhausted
}
