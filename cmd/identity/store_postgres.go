package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"carta/cmd/identity/ids"
	"carta/cmd/security/password"
)

// PostgresStore implements identity persistence over PostgreSQL.
//
// Design notes:
// - The pgx pool is owned by the caller; this store must NOT close it.
// - Schema identifiers are validated to avoid SQL injection via identifiers.
// - Errors are mapped to identity sentinel kinds where appropriate.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema used by the identity store (default "carta").
// The schema name is validated to be a legal PostgreSQL identifier.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("identity: empty schema")
		}
		if !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore with secure defaults.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "carta",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}
	return st, nil
}

func (s *PostgresStore) table() string {
	return fmt.Sprintf("%q.accounts", s.schema)
}

const accountColumns = `id, email, email_norm, display_name, password_hash, is_active, email_verified_at, created_at`

// CreateAccount creates a new owner account.
func (s *PostgresStore) CreateAccount(ctx context.Context, in CreateAccountInput) (Account, error) {
	const op = "identity.CreateAccount"

	if s == nil || s.pool == nil {
		return Account{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}

	email := strings.TrimSpace(in.Email)
	if email == "" {
		return Account{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "email is required"}
	}
	if strings.TrimSpace(in.Password) == "" {
		return Account{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "password is required"}
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	emailNorm := NormalizeEmail(email)

	pwHash, err := password.Hash(in.Password, password.DefaultParams())
	if err != nil {
		return Account{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: err.Error()}
	}

	accountID, err := ids.NewULID(now)
	if err != nil {
		return Account{}, fmt.Errorf("%s: ulid: %w", op, err)
	}

	_, err = s.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (
			id, email, email_norm, display_name, password_hash,
			is_active, email_verified_at, created_at
		) VALUES ($1, $2, $3, $4, $5, TRUE, NULL, $6)
	`, s.table()), accountID, email, emailNorm, in.DisplayName, pwHash, now)
	if err != nil {
		if isUniqueViolation(err) {
			return Account{}, ConflictError{Op: op, Field: "email"}
		}
		return Account{}, fmt.Errorf("%s: %w", op, err)
	}

	return Account{
		ID:           accountID,
		Email:        email,
		EmailNorm:    emailNorm,
		DisplayName:  in.DisplayName,
		PasswordHash: pwHash,
		IsActive:     true,
		CreatedAt:    now,
	}, nil
}

// GetByID loads an account by its ULID.
func (s *PostgresStore) GetByID(ctx context.Context, accountID string) (Account, error) {
	const op = "identity.GetByID"

	row := s.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT %s FROM %s WHERE id = $1
	`, accountColumns, s.table()), accountID)

	return scanAccount(op, row)
}

// GetByEmail loads an account by normalized email, including the password hash.
func (s *PostgresStore) GetByEmail(ctx context.Context, email string) (Account, error) {
	const op = "identity.GetByEmail"

	row := s.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT %s FROM %s WHERE email_norm = $1
	`, accountColumns, s.table()), NormalizeEmail(email))

	return scanAccount(op, row)
}

// GetAuthState returns the deactivation/verification state for a principal.
func (s *PostgresStore) GetAuthState(ctx context.Context, accountID string) (AuthState, error) {
	const op = "identity.GetAuthState"

	var (
		active     bool
		verifiedAt *time.Time
	)
	err := s.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT is_active, email_verified_at FROM %s WHERE id = $1
	`, s.table()), accountID).Scan(&active, &verifiedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return AuthState{}, NotFoundError{Op: op, Resource: "account"}
	}
	if err != nil {
		return AuthState{}, fmt.Errorf("%s: %w", op, err)
	}

	return AuthState{Active: active, Verified: verifiedAt != nil}, nil
}

// MarkEmailVerified records email confirmation.
func (s *PostgresStore) MarkEmailVerified(ctx context.Context, accountID string, now time.Time) error {
	const op = "identity.MarkEmailVerified"

	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`
		UPDATE %s
		SET email_verified_at = COALESCE(email_verified_at, $2)
		WHERE id = $1
	`, s.table()), accountID, now)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return NotFoundError{Op: op, Resource: "account"}
	}
	return nil
}

func scanAccount(op string, row pgx.Row) (Account, error) {
	var a Account
	err := row.Scan(
		&a.ID,
		&a.Email,
		&a.EmailNorm,
		&a.DisplayName,
		&a.PasswordHash,
		&a.IsActive,
		&a.EmailVerifiedAt,
		&a.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, NotFoundError{Op: op, Resource: "account"}
	}
	if err != nil {
		return Account{}, fmt.Errorf("%s: %w", op, err)
	}
	return a, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505" // unique_violation
}
