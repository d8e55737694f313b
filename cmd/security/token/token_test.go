package token

import (
	"strings"
	"testing"
)

func TestHashRefreshSecretHex_SHAFallback(t *testing.T) {
	t.Setenv(HMACEnvKey, "")

	a := HashRefreshSecretHex("secret-a")
	b := HashRefreshSecretHex("secret-a")
	c := HashRefreshSecretHex("secret-b")

	if len(a) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(a))
	}
	if a != b {
		t.Fatalf("hashing must be deterministic")
	}
	if a == c {
		t.Fatalf("distinct secrets must not collide trivially")
	}
	if strings.Contains(a, "secret-a") {
		t.Fatalf("digest must not contain the plaintext")
	}
}

func TestHashRefreshSecretHex_HMACMode(t *testing.T) {
	t.Setenv(HMACEnvKey, "")
	plain := HashRefreshSecretHex("secret-a")

	t.Setenv(HMACEnvKey, "0123456789abcdef0123456789abcdef")
	keyed := HashRefreshSecretHex("secret-a")

	if plain == keyed {
		t.Fatalf("HMAC mode must change the digest")
	}
	if len(keyed) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(keyed))
	}
}

func TestHMACKeyFromEnv(t *testing.T) {
	t.Setenv(HMACEnvKey, "")
	if _, err := HMACKeyFromEnv(32); err != ErrHMACKeyMissing {
		t.Fatalf("expected ErrHMACKeyMissing, got %v", err)
	}

	t.Setenv(HMACEnvKey, "short")
	if _, err := HMACKeyFromEnv(32); err != ErrHMACKeyTooShort {
		t.Fatalf("expected ErrHMACKeyTooShort, got %v", err)
	}

	t.Setenv(HMACEnvKey, "0123456789abcdef0123456789abcdef")
	key, err := HMACKeyFromEnv(32)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(key) != 32 {
		t.Fatalf("expected 32 key bytes, got %d", len(key))
	}
}
