package session

import "errors"

var (
	// ErrInvalidToken is returned when an access token fails verification or validation.
	ErrInvalidToken = errors.New("invalid token")

	// ErrInvalidCredential is returned when a refresh secret is missing, unknown,
	// expired, or cannot be resumed along its rotation chain (outside the grace
	// window, no successor, or hop limit exceeded). Callers must treat the
	// session as terminated and clear any stored secret.
	ErrInvalidCredential = errors.New("invalid credential")

	// ErrPrincipalDeactivated is returned when the presented credential was
	// structurally valid but the owning account is deactivated. The credential
	// is revoked before this error is returned.
	ErrPrincipalDeactivated = errors.New("principal deactivated")

	// ErrPrincipalUnverified is returned when the presented credential was
	// structurally valid but the owning account's email is unverified. The
	// credential is revoked before this error is returned.
	ErrPrincipalUnverified = errors.New("principal unverified")

	// ErrEntropyExhausted is returned when repeated secret-hash collisions
	// exceed the issuance retry budget. This indicates a configuration or
	// randomness-source defect, not a user error.
	ErrEntropyExhausted = errors.New("entropy exhausted")

	// ErrLockTimeout is returned when a row lock could not be acquired in time.
	// It is transient: the credential state is unaffected and the client may retry.
	ErrLockTimeout = errors.New("lock timeout")

	// ErrDuplicateSecretHash is returned by stores when an insert hits the
	// unique secret_hash constraint. The issuer retries with a fresh secret.
	ErrDuplicateSecretHash = errors.New("duplicate secret hash")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)
