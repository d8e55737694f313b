package authapi

import (
	"context"
	"net"
	"net/http"
	"strings"

	"carta/cmd/identity"
	"carta/cmd/internal/auth/session"
)

// EmailSender delivers verification mail after registration. The default is a
// no-op so deployments without a mail pipeline still work.
type EmailSender interface {
	SendEmailVerification(ctx context.Context, msg EmailVerificationMessage) error
}

// EmailVerificationMessage carries what a mail backend needs to address the owner.
type EmailVerificationMessage struct {
	AccountID string
	Email     string
}

// NoopEmailSender drops verification mail.
type NoopEmailSender struct{}

func (NoopEmailSender) SendEmailVerification(context.Context, EmailVerificationMessage) error {
	return nil
}

func toAccountResponse(a identity.Account) accountResponse {
	return accountResponse{
		ID:            a.ID,
		Email:         a.Email,
		DisplayName:   a.DisplayName,
		EmailVerified: a.Verified(),
		CreatedAt:     a.CreatedAt,
	}
}

func toSessionResponse(issued session.Issued) sessionResponse {
	return sessionResponse{
		CredentialID:     issued.CredentialID,
		AccessToken:      issued.AccessToken,
		AccessExpiresAt:  issued.AccessExp,
		RefreshToken:     issued.RefreshSecret,
		RefreshExpiresAt: issued.RefreshExp,
	}
}

func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		return ""
	}
	parts := strings.SplitN(raw, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func isWebClient(client string) bool {
	return strings.ToLower(strings.TrimSpace(client)) == "web"
}

func clientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}
	return nil
}

func parseForwardedIP(raw string) net.IP {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	for _, p := range parts {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}
