package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store using PostgreSQL (carta.credentials).
type PostgresStore struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

// NewPostgresStore creates a Postgres-backed credential store.
// Row locks inside transactions time out after cfg.LockTimeout; a timed-out
// acquisition surfaces as ErrLockTimeout, safe for the client to retry.
func NewPostgresStore(pool *pgxpool.Pool, cfg Config) *PostgresStore {
	return &PostgresStore{pool: pool, lockTimeout: cfg.LockTimeout}
}

// Begin opens a transaction and applies the lock timeout to it.
func (s *PostgresStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}

	// lock_timeout bounds every FOR UPDATE wait in this transaction, so a
	// stalled rotation cannot block its duplicate indefinitely.
	ms := s.lockTimeout.Milliseconds()
	if ms > 0 {
		if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", ms)); err != nil {
			_ = tx.Rollback(ctx)
			return nil, err
		}
	}

	return &pgTx{tx: tx}, nil
}

// GetByID loads a credential row without locking.
func (s *PostgresStore) GetByID(ctx context.Context, credentialID string) (Credential, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+credentialColumns+`
		FROM carta.credentials
		WHERE id = $1
	`, credentialID)
	return scanCredential(row)
}

const credentialColumns = `
		id, principal_id, secret_hash,
		created_at, last_used_at, expires_at, revoked_at,
		rotated_from_id, rotated_to_id`

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) LockBySecretHash(ctx context.Context, secretHash string) (Credential, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT `+credentialColumns+`
		FROM carta.credentials
		WHERE secret_hash = $1
		FOR UPDATE
	`, secretHash)
	return scanCredential(row)
}

func (t *pgTx) LockByID(ctx context.Context, credentialID string) (Credential, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT `+credentialColumns+`
		FROM carta.credentials
		WHERE id = $1
		FOR UPDATE
	`, credentialID)
	return scanCredential(row)
}

func (t *pgTx) Create(ctx context.Context, now time.Time, principalID, secretHash string, expiresAt time.Time, rotatedFromID *string) (Credential, error) {
	id := newCredentialID()

	_, err := t.tx.Exec(ctx, `
		INSERT INTO carta.credentials (
			id, principal_id, secret_hash,
			created_at, last_used_at, expires_at, revoked_at,
			rotated_from_id, rotated_to_id
		) VALUES (
			$1, $2, $3,
			$4, $4, $5, NULL,
			$6, NULL
		)
	`, id, principalID, secretHash, now, expiresAt, rotatedFromID)
	if err != nil {
		return Credential{}, mapPgWriteErr(err)
	}

	lastUsed := now
	return Credential{
		ID:            id,
		PrincipalID:   principalID,
		SecretHash:    secretHash,
		CreatedAt:     now,
		LastUsedAt:    &lastUsed,
		ExpiresAt:     expiresAt,
		RotatedFromID: rotatedFromID,
	}, nil
}

func (t *pgTx) Revoke(ctx context.Context, now time.Time, credentialID string, rotatedToID *string) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE carta.credentials
		SET
			last_used_at = $2,
			revoked_at = $2,
			rotated_to_id = $3
		WHERE id = $1
	`, credentialID, now, rotatedToID)
	return mapPgWriteErr(err)
}

func (t *pgTx) RevokeAllForPrincipal(ctx context.Context, now time.Time, principalID string) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE carta.credentials
		SET revoked_at = $2
		WHERE principal_id = $1
		  AND revoked_at IS NULL
	`, principalID, now)
	return mapPgWriteErr(err)
}

func (t *pgTx) Commit(ctx context.Context) error   { return t.tx.Commit(ctx) }
func (t *pgTx) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }

func scanCredential(row pgx.Row) (Credential, error) {
	var c Credential
	err := row.Scan(
		&c.ID,
		&c.PrincipalID,
		&c.SecretHash,
		&c.CreatedAt,
		&c.LastUsedAt,
		&c.ExpiresAt,
		&c.RevokedAt,
		&c.RotatedFromID,
		&c.RotatedToID,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Credential{}, ErrInvalidCredential
	}
	if err != nil {
		return Credential{}, mapPgLockErr(err)
	}
	return c, nil
}

func mapPgLockErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "55P03" { // lock_not_available
		return ErrLockTimeout
	}
	return err
}

func mapPgWriteErr(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation (secret_hash)
			return ErrDuplicateSecretHash
		case "55P03": // lock_not_available
			return ErrLockTimeout
		}
	}
	return err
}
