package app

import (
	"errors"

	"carta/cmd/security/token"
)

// ValidateSecurityConfig enforces Carta's security policy at startup.
// Fail-fast: silently falling back to weaker crypto in production is unacceptable.
func ValidateSecurityConfig(cfg Config) error {
	if !cfg.RequireTokenHMAC {
		return nil
	}

	// Minimum 32 bytes for an HMAC-SHA256 secret; measured as raw bytes.
	if _, err := token.HMACKeyFromEnv(32); err != nil {
		switch {
		case errors.Is(err, token.ErrHMACKeyMissing):
			return errors.New("security policy: CARTA_REQUIRE_TOKEN_HMAC=true but CARTA_TOKEN_HMAC_KEY is missing")
		case errors.Is(err, token.ErrHMACKeyTooShort):
			return errors.New("security policy: CARTA_REQUIRE_TOKEN_HMAC=true but CARTA_TOKEN_HMAC_KEY is too short (min 32 bytes)")
		default:
			return err
		}
	}

	// Hard assertion: hashing must actually run in HMAC mode in this runtime.
	if !token.HMACEnabled() {
		return errors.New("security policy: CARTA_REQUIRE_TOKEN_HMAC=true but token hasher is not in HMAC mode")
	}

	return nil
}
