package session

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
)

// Integration tests are opt-in and require CARTA_DATABASE_URL.
// In non-CI runs, unreachable Postgres skips these tests to keep local runs fast.
//
// Each test works against the carta.credentials table (created if absent) and
// uses a fresh random principal id, so rows never collide across runs. Created
// rows are deleted on cleanup.

func TestPostgresStore_CreateLockRevoke_RoundTrip(t *testing.T) {
	t.Parallel()

	pool := mustOpenSessionTestPool(t)
	defer pool.Close()
	mustApplyCredentialSchema(t, pool)

	cfg := DefaultConfig()
	store := NewPostgresStore(pool, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	principalID := newTestPrincipalID(t, pool)
	now := time.Now().UTC().Truncate(time.Microsecond)

	tx, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	plain, hash, err := newOpaqueRefreshSecret(cfg.RefreshSecretBytes)
	if err != nil {
		t.Fatalf("new secret: %v", err)
	}
	_ = plain

	cred, err := tx.Create(ctx, now, principalID, hash, now.Add(cfg.RefreshTTL), nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	// Lock by hash inside a fresh transaction and revoke.
	tx2, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("begin 2: %v", err)
	}
	got, err := tx2.LockBySecretHash(ctx, hash)
	if err != nil {
		t.Fatalf("lock by hash: %v", err)
	}
	if got.ID != cred.ID || got.PrincipalID != principalID {
		t.Fatalf("row mismatch: got %q/%q", got.ID, got.PrincipalID)
	}
	if got.RevokedAt != nil {
		t.Fatalf("fresh row must not be revoked")
	}

	later := now.Add(time.Minute)
	if err := tx2.Revoke(ctx, later, cred.ID, nil); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if err := tx2.Commit(ctx); err != nil {
		t.Fatalf("commit 2: %v", err)
	}

	final, err := store.GetByID(ctx, cred.ID)
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if final.RevokedAt == nil || !final.RevokedAt.Equal(later) {
		t.Fatalf("expected revoked_at %v, got %v", later, final.RevokedAt)
	}
	if final.LastUsedAt == nil || !final.LastUsedAt.Equal(later) {
		t.Fatalf("expected last_used_at updated on revoke")
	}
}

func TestPostgresStore_DuplicateSecretHash(t *testing.T) {
	t.Parallel()

	pool := mustOpenSessionTestPool(t)
	defer pool.Close()
	mustApplyCredentialSchema(t, pool)

	cfg := DefaultConfig()
	store := NewPostgresStore(pool, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	principalID := newTestPrincipalID(t, pool)
	now := time.Now().UTC()

	_, hash, err := newOpaqueRefreshSecret(cfg.RefreshSecretBytes)
	if err != nil {
		t.Fatalf("new secret: %v", err)
	}

	tx, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := tx.Create(ctx, now, principalID, hash, now.Add(cfg.RefreshTTL), nil); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	tx2, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("begin 2: %v", err)
	}
	defer func() { _ = tx2.Rollback(ctx) }()

	if _, err := tx2.Create(ctx, now, principalID, hash, now.Add(cfg.RefreshTTL), nil); !errors.Is(err, ErrDuplicateSecretHash) {
		t.Fatalf("expected ErrDuplicateSecretHash, got %v", err)
	}
}

func TestPostgresStore_RotationChainLinks(t *testing.T) {
	t.Parallel()

	pool := mustOpenSessionTestPool(t)
	defer pool.Close()
	mustApplyCredentialSchema(t, pool)

	cfg := DefaultConfig()
	store := NewPostgresStore(pool, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	principalID := newTestPrincipalID(t, pool)
	now := time.Now().UTC().Truncate(time.Microsecond)

	tx, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	_, hashA, err := newOpaqueRefreshSecret(cfg.RefreshSecretBytes)
	if err != nil {
		t.Fatalf("new secret A: %v", err)
	}
	a, err := tx.Create(ctx, now, principalID, hashA, now.Add(cfg.RefreshTTL), nil)
	if err != nil {
		t.Fatalf("create A: %v", err)
	}

	_, hashB, err := newOpaqueRefreshSecret(cfg.RefreshSecretBytes)
	if err != nil {
		t.Fatalf("new secret B: %v", err)
	}
	b, err := tx.Create(ctx, now, principalID, hashB, now.Add(cfg.RefreshTTL), &a.ID)
	if err != nil {
		t.Fatalf("create B: %v", err)
	}
	if err := tx.Revoke(ctx, now, a.ID, &b.ID); err != nil {
		t.Fatalf("revoke A: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	gotA, err := store.GetByID(ctx, a.ID)
	if err != nil {
		t.Fatalf("get A: %v", err)
	}
	if gotA.RotatedToID == nil || *gotA.RotatedToID != b.ID {
		t.Fatalf("A must link forward to B")
	}
	gotB, err := store.GetByID(ctx, b.ID)
	if err != nil {
		t.Fatalf("get B: %v", err)
	}
	if gotB.RotatedFromID == nil || *gotB.RotatedFromID != a.ID {
		t.Fatalf("B must link back to A")
	}
	if gotB.RevokedAt != nil {
		t.Fatalf("successor must be active")
	}
}

func TestPostgresStore_LockTimeoutOnContendedRow(t *testing.T) {
	t.Parallel()

	pool := mustOpenSessionTestPool(t)
	defer pool.Close()
	mustApplyCredentialSchema(t, pool)

	cfg := DefaultConfig()
	cfg.LockTimeout = 300 * time.Millisecond
	store := NewPostgresStore(pool, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	principalID := newTestPrincipalID(t, pool)
	now := time.Now().UTC()

	_, hash, err := newOpaqueRefreshSecret(cfg.RefreshSecretBytes)
	if err != nil {
		t.Fatalf("new secret: %v", err)
	}

	tx, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := tx.Create(ctx, now, principalID, hash, now.Add(cfg.RefreshTTL), nil); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	// Holder locks the row and sits on it past the contender's lock timeout.
	holder, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("begin holder: %v", err)
	}
	defer func() { _ = holder.Rollback(ctx) }()
	if _, err := holder.LockBySecretHash(ctx, hash); err != nil {
		t.Fatalf("holder lock: %v", err)
	}

	contender, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("begin contender: %v", err)
	}
	defer func() { _ = contender.Rollback(ctx) }()

	if _, err := contender.LockBySecretHash(ctx, hash); !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("expected ErrLockTimeout, got %v", err)
	}
}

// ---- helpers ----

func mustOpenSessionTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv("CARTA_DATABASE_URL"))
	if raw == "" {
		t.Skip("integration test skipped: CARTA_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 12*time.Second)
	defer cancel()

	cfg, err := pgxpool.ParseConfig(raw)
	if err != nil {
		t.Fatalf("parse CARTA_DATABASE_URL: %v", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}

	// Validate acquire quickly (fast fail).
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer pingCancel()

	c, err := pool.Acquire(pingCtx)
	if err != nil {
		pool.Close()
		if shouldSkipIntegration(err) {
			t.Skipf("integration test skipped: Postgres unreachable (CARTA_DATABASE_URL set): %v", err)
		}
		t.Fatalf("acquire: %v", err)
	}
	c.Release()

	return pool
}

func mustApplyCredentialSchema(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	const schemaSQL = `
CREATE SCHEMA IF NOT EXISTS carta;

CREATE TABLE IF NOT EXISTS carta.accounts (
  id TEXT PRIMARY KEY,
  email TEXT NOT NULL,
  email_norm TEXT NOT NULL,
  display_name TEXT NULL,
  password_hash TEXT NOT NULL,
  is_active BOOLEAN NOT NULL DEFAULT TRUE,
  email_verified_at TIMESTAMPTZ NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),

  CONSTRAINT chk_accounts_id_ulid_len CHECK (char_length(id) = 26),
  CONSTRAINT uq_accounts_email_norm UNIQUE (email_norm)
);

CREATE TABLE IF NOT EXISTS carta.credentials (
  id TEXT PRIMARY KEY,
  principal_id TEXT NOT NULL REFERENCES carta.accounts(id) ON DELETE CASCADE,

  secret_hash TEXT NOT NULL,

  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  last_used_at TIMESTAMPTZ NULL,
  expires_at TIMESTAMPTZ NOT NULL,
  revoked_at TIMESTAMPTZ NULL,

  rotated_from_id TEXT NULL REFERENCES carta.credentials(id) ON DELETE SET NULL,
  rotated_to_id TEXT NULL REFERENCES carta.credentials(id) ON DELETE SET NULL,

  CONSTRAINT chk_credentials_id_ulid_len CHECK (char_length(id) = 26),
  CONSTRAINT chk_credentials_secret_hash_len CHECK (char_length(secret_hash) = 64),
  CONSTRAINT uq_credentials_secret_hash UNIQUE (secret_hash),
  CONSTRAINT chk_credentials_expires_after_created CHECK (expires_at > created_at),
  CONSTRAINT chk_credentials_rotated_not_self CHECK (rotated_to_id IS NULL OR rotated_to_id <> id)
);

CREATE INDEX IF NOT EXISTS idx_credentials_principal_id
  ON carta.credentials (principal_id);
`
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
}

// newTestPrincipalID seeds an account row, returns its id, and registers
// cleanup. Credential rows cascade on account deletion.
func newTestPrincipalID(t *testing.T, pool *pgxpool.Pool) string {
	t.Helper()

	id := ulid.Make().String()
	email := strings.ToLower(id) + "@it.example"

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := pool.Exec(ctx, `
		INSERT INTO carta.accounts (id, email, email_norm, password_hash, is_active, email_verified_at)
		VALUES ($1, $2, $2, 'x', TRUE, now())
	`, id, email); err != nil {
		t.Fatalf("seed account: %v", err)
	}

	t.Cleanup(func() {
		cleanupCtx, cleanupCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cleanupCancel()
		_, _ = pool.Exec(cleanupCtx, `DELETE FROM carta.accounts WHERE id = $1`, id)
	})
	return id
}

func shouldSkipIntegration(err error) bool {
	if err == nil {
		return false
	}
	if os.Getenv("CI") != "" {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "context deadline exceeded") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "dial tcp") ||
		strings.Contains(msg, "no such host") {
		return true
	}
	return false
}
