package authapi

import (
	"context"
	"encoding/json"
	"net"
	"strings"
)

func (h *Handler) auditRegister(ctx context.Context, accountID string, ip net.IP, ua string) {
	h.insertAudit(ctx, "auth.register", &accountID, nil, ip, ua, nil)
}

func (h *Handler) auditLoginFailed(ctx context.Context, accountID *string, ip net.IP, ua string, emailNorm string, reason string) {
	h.insertAudit(ctx, "auth.login.failed", accountID, nil, ip, ua, map[string]any{
		"email":  emailNorm,
		"reason": reason,
	})
}

func (h *Handler) auditLoginSuccess(ctx context.Context, accountID string, credentialID string, ip net.IP, ua string) {
	h.insertAudit(ctx, "auth.login.success", &accountID, &credentialID, ip, ua, nil)
}

func (h *Handler) auditRefreshSuccess(ctx context.Context, accountID string, credentialID string, ip net.IP, ua string) {
	h.insertAudit(ctx, "auth.refresh.success", &accountID, &credentialID, ip, ua, nil)
}

func (h *Handler) auditRefreshRejected(ctx context.Context, ip net.IP, ua string, reason string) {
	h.insertAudit(ctx, "auth.refresh.rejected", nil, nil, ip, ua, map[string]any{
		"reason": reason,
	})
}

func (h *Handler) auditLogout(ctx context.Context, ip net.IP, ua string) {
	h.insertAudit(ctx, "auth.logout", nil, nil, ip, ua, nil)
}

func (h *Handler) auditLogoutAll(ctx context.Context, accountID string, ip net.IP, ua string) {
	h.insertAudit(ctx, "auth.logout_all", &accountID, nil, ip, ua, nil)
}

func (h *Handler) insertAudit(ctx context.Context, action string, accountID *string, credentialID *string, ip net.IP, ua string, meta map[string]any) {
	if h == nil || h.pool == nil || !h.dbEnabled {
		return
	}

	action = strings.TrimSpace(action)
	if action == "" {
		return
	}

	var ipVal any
	if ip != nil {
		ipVal = ip.String()
	}

	var metaVal *string
	if len(meta) > 0 {
		if b, err := json.Marshal(meta); err == nil {
			s := string(b)
			metaVal = &s
		}
	}

	_, err := h.pool.Exec(ctx, `
		INSERT INTO carta.audit_log (
			account_id, credential_id, action, created_at, ip, user_agent, meta
		) VALUES ($1, $2, $3, now(), $4, $5, $6::jsonb)
	`, accountID, credentialID, action, ipVal, trimOrNil(ua), metaVal)
	if err != nil {
		h.log.Error("auth.audit.insert.fail", "err", err, "action", action)
	}
}

func trimOrNil(s string) any {
	v := strings.TrimSpace(s)
	if v == "" {
		return nil
	}
	return v
}
