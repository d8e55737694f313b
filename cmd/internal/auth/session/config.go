package session

import (
	"os"
	"strconv"
	"time"
)

// Config defines all runtime configuration for the credential subsystem.
//
// It controls access-token TTL, refresh-credential lifetime, the rotation
// grace window, chain-walk bounds, refresh entropy size, lock acquisition
// timeout, and PASETO v4 signing keys.
//
// This struct is intentionally explicit and environment-driven so that
// production deployments can tune security parameters without code changes.
type Config struct {
	// Issuer is the value set in the "iss" claim of access tokens.
	Issuer string

	// AccessTokenTTL defines the lifetime of PASETO access tokens.
	AccessTokenTTL time.Duration

	// RefreshTTL is the absolute lifetime of a refresh credential, fixed at
	// issuance and never extended.
	RefreshTTL time.Duration

	// GraceWindow is how long after revocation-by-rotation a refresh secret
	// may still resolve to its successor. Zero disables grace reuse entirely.
	GraceWindow time.Duration

	// MaxChainHops bounds how many rotation-chain hops a single resolution may
	// follow. Exceeding the bound is a plain rejection.
	MaxChainHops int

	// RefreshSecretBytes defines the number of random bytes used
	// to generate opaque refresh secrets (>= 32 for 256-bit entropy).
	RefreshSecretBytes int

	// CreateRetryMax bounds how many fresh secrets issuance may try when the
	// stored hash collides. Exhaustion is EntropyExhausted, never silent.
	CreateRetryMax int

	// LockTimeout bounds row-lock acquisition so a stalled transaction cannot
	// indefinitely block a duplicate request.
	LockTimeout time.Duration

	// ClockSkew defines the allowed time skew during token validation.
	ClockSkew time.Duration

	// PasetoV4SecretKeyHex is the hex-encoded Ed25519 secret key
	// used to sign PASETO v4.public access tokens.
	PasetoV4SecretKeyHex string
}

// DefaultConfig returns a secure default configuration suitable for development.
//
// Production environments should override values via environment variables.
func DefaultConfig() Config {
	return Config{
		Issuer:             "carta",
		AccessTokenTTL:     15 * time.Minute,
		RefreshTTL:         30 * 24 * time.Hour,
		GraceWindow:        30 * time.Second,
		MaxChainHops:       10,
		RefreshSecretBytes: 32,
		CreateRetryMax:     3,
		LockTimeout:        5 * time.Second,
		ClockSkew:          30 * time.Second,
	}
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Required:
//   - CARTA_PASETO_V4_SECRET_KEY_HEX
//
// Optional (durations must be valid Go duration strings):
//   - CARTA_AUTH_ISSUER
//   - CARTA_AUTH_ACCESS_TTL
//   - CARTA_AUTH_REFRESH_TTL
//   - CARTA_AUTH_GRACE_WINDOW (0 disables grace reuse)
//   - CARTA_AUTH_MAX_CHAIN_HOPS
//   - CARTA_AUTH_REFRESH_SECRET_BYTES
//   - CARTA_AUTH_CREATE_RETRY_MAX
//   - CARTA_AUTH_LOCK_TIMEOUT
//   - CARTA_AUTH_CLOCK_SKEW
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("CARTA_AUTH_ISSUER"); v != "" {
		cfg.Issuer = v
	}

	if v := os.Getenv("CARTA_AUTH_ACCESS_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.AccessTokenTTL = d
	}

	if v := os.Getenv("CARTA_AUTH_REFRESH_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.RefreshTTL = d
	}

	if v := os.Getenv("CARTA_AUTH_GRACE_WINDOW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, ErrConfig
		}
		cfg.GraceWindow = d
	}

	if v := os.Getenv("CARTA_AUTH_MAX_CHAIN_HOPS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			return Config{}, ErrConfig
		}
		cfg.MaxChainHops = n
	}

	if v := os.Getenv("CARTA_AUTH_REFRESH_SECRET_BYTES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 32 || n > 64 {
			return Config{}, ErrConfig
		}
		cfg.RefreshSecretBytes = n
	}

	if v := os.Getenv("CARTA_AUTH_CREATE_RETRY_MAX"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 10 {
			return Config{}, ErrConfig
		}
		cfg.CreateRetryMax = n
	}

	if v := os.Getenv("CARTA_AUTH_LOCK_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.LockTimeout = d
	}

	if v := os.Getenv("CARTA_AUTH_CLOCK_SKEW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, ErrConfig
		}
		cfg.ClockSkew = d
	}

	cfg.PasetoV4SecretKeyHex = os.Getenv("CARTA_PASETO_V4_SECRET_KEY_HEX")
	if cfg.PasetoV4SecretKeyHex == "" {
		return Config{}, ErrConfig
	}

	// Invariant: the grace window must stay well under the refresh TTL, or
	// revoked chains would remain resumable for most of their lifetime.
	if cfg.GraceWindow >= cfg.RefreshTTL {
		return Config{}, ErrConfig
	}

	return cfg, nil
}
