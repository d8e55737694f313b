package app

import (
	"strings"
	"testing"
)

func TestValidateSecurityConfig_Disabled(t *testing.T) {
	if err := ValidateSecurityConfig(Config{RequireTokenHMAC: false}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateSecurityConfig_MissingKey(t *testing.T) {
	t.Setenv("CARTA_TOKEN_HMAC_KEY", "")

	err := ValidateSecurityConfig(Config{RequireTokenHMAC: true})
	if err == nil || !strings.Contains(err.Error(), "missing") {
		t.Fatalf("expected missing-key error, got %v", err)
	}
}

func TestValidateSecurityConfig_ShortKey(t *testing.T) {
	t.Setenv("CARTA_TOKEN_HMAC_KEY", "too-short")

	err := ValidateSecurityConfig(Config{RequireTokenHMAC: true})
	if err == nil || !strings.Contains(err.Error(), "too short") {
		t.Fatalf("expected short-key error, got %v", err)
	}
}

func TestValidateSecurityConfig_ValidKey(t *testing.T) {
	t.Setenv("CARTA_TOKEN_HMAC_KEY", strings.Repeat("k", 48))

	if err := ValidateSecurityConfig(Config{RequireTokenHMAC: true}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
