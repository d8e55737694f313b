// Package session implements Carta's credential lifecycle engine.
//
// It issues long-lived refresh credentials, rotates them on every use, and
// revokes them on logout. Rotation guarantees at-most-one-active-successor
// per credential chain while tolerating near-simultaneous duplicate requests
// (two tabs refreshing at once) through a short, bounded grace window.
//
// Access tokens are issued as PASETO v4.public and are short-lived.
// Refresh secrets are opaque random strings and are stored hashed in Postgres
// (HMAC-SHA256 when CARTA_TOKEN_HMAC_KEY is set; otherwise SHA-256 for dev).
//
// Transport (HTTP cookie) integration is intentionally out of scope here.
package session
