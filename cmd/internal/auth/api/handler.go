package authapi

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"carta/cmd/identity"
	"carta/cmd/internal/auth/session"
	"carta/cmd/security/password"
)

// Handler wires HTTP auth endpoints to identity and session services.
type Handler struct {
	log *slog.Logger
	cfg Config

	dbEnabled bool
	pool      *pgxpool.Pool

	accounts identity.Store
	sessions *session.Service
	sessCfg  session.Config

	emailSender EmailSender
	metrics     *Metrics

	dummyHash string
}

// HandlerOption configures optional auth handler dependencies.
type HandlerOption func(*Handler)

// WithEmailSender overrides the default no-op email sender.
func WithEmailSender(sender EmailSender) HandlerOption {
	return func(h *Handler) {
		if h == nil || sender == nil {
			return
		}
		h.emailSender = sender
	}
}

// WithMetrics attaches auth outcome counters.
func WithMetrics(m *Metrics) HandlerOption {
	return func(h *Handler) {
		if h == nil || m == nil {
			return
		}
		h.metrics = m
	}
}

// NewHandler constructs an auth Handler. If dbEnabled is false, auth routes return 503.
func NewHandler(log *slog.Logger, pool *pgxpool.Pool, cfg Config, sessCfg session.Config, dbEnabled bool, opts ...HandlerOption) (*Handler, error) {
	if log == nil {
		log = slog.Default()
	}

	h := &Handler{
		log:         log,
		cfg:         cfg,
		dbEnabled:   dbEnabled,
		pool:        pool,
		sessCfg:     sessCfg,
		emailSender: NoopEmailSender{},
	}

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(h)
	}

	if !dbEnabled {
		return h, nil
	}
	if pool == nil {
		return nil, errors.New("auth: nil db pool")
	}

	accounts, err := identity.NewPostgresStore(pool)
	if err != nil {
		return nil, err
	}
	h.accounts = accounts

	tokens, err := session.NewPasetoV4PublicManager(sessCfg)
	if err != nil {
		return nil, err
	}
	credStore := session.NewPostgresStore(pool, sessCfg)
	h.sessions = session.NewService(sessCfg, credStore, accountDirectory{accounts: accounts}, tokens, log)

	// Dummy hash for timing-resistant login checks.
	if hash, err := password.Hash("dummy-password-for-timing-only", password.DefaultParams()); err == nil {
		h.dummyHash = hash
	}

	return h, nil
}

// Register wires auth routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("/auth/register", h.handleRegister)
	mux.HandleFunc("/auth/login", h.handleLogin)
	mux.HandleFunc("/auth/refresh", h.handleRefresh)
	mux.HandleFunc("/auth/logout", h.handleLogout)
	mux.HandleFunc("/auth/logout_all", h.handleLogoutAll)
	mux.HandleFunc("/me", h.handleMe)
}

// SessionService returns the underlying session service (may be nil when DB is disabled).
func (h *Handler) SessionService() *session.Service {
	if h == nil {
		return nil
	}
	return h.sessions
}

// ---- handlers ----

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !h.dbEnabled {
		writeError(w, http.StatusServiceUnavailable, "db_unavailable", "database not configured")
		return
	}

	var req registerRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if strings.TrimSpace(req.Email) == "" || strings.TrimSpace(req.Password) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "email and password are required")
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()
	ip := clientIP(r, h.cfg.TrustProxy)
	ua := strings.TrimSpace(r.UserAgent())

	account, err := h.accounts.CreateAccount(ctx, identity.CreateAccountInput{
		Email:       req.Email,
		Password:    req.Password,
		DisplayName: req.DisplayName,
		Now:         now,
	})
	if err != nil {
		switch {
		case identity.IsConflict(err):
			writeError(w, http.StatusConflict, "conflict", "email already registered")
		case identity.IsInvalidInput(err):
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid input")
		default:
			h.log.Error("auth.register.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		}
		return
	}

	h.auditRegister(ctx, account.ID, ip, ua)

	if h.cfg.RequireVerification {
		// Account stays unverified until the owner confirms their address;
		// refresh rotation fails closed for unverified principals.
		h.sendVerificationEmail(ctx, account)
		writeJSON(w, http.StatusCreated, registerResponse{Account: toAccountResponse(account)})
		return
	}

	// No mail pipeline deployed: auto-verify so the fresh account can hold a
	// working session.
	if err := h.accounts.MarkEmailVerified(ctx, account.ID, now); err != nil {
		h.log.Error("auth.register.verify.fail", "err", err, "account_id", account.ID)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	verifiedAt := now
	account.EmailVerifiedAt = &verifiedAt

	issued, err := h.sessions.Issue(ctx, now, account.ID)
	if err != nil {
		h.log.Error("auth.register.issue.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	respSession := toSessionResponse(issued)
	if h.shouldUseWebCookieTransport(req.Client) {
		if _, err := h.setWebSessionCookies(w, issued.RefreshSecret, issued.RefreshExp); err != nil {
			h.log.Error("auth.register.web_cookie.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
			return
		}
		respSession.RefreshToken = ""
	}

	writeJSON(w, http.StatusCreated, registerResponse{
		Account: toAccountResponse(account),
		Session: &respSession,
	})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !h.dbEnabled {
		writeError(w, http.StatusServiceUnavailable, "db_unavailable", "database not configured")
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	email := strings.TrimSpace(req.Email)
	pw := strings.TrimSpace(req.Password)
	if email == "" || pw == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "email and password are required")
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()
	ip := clientIP(r, h.cfg.TrustProxy)
	ua := strings.TrimSpace(r.UserAgent())
	emailNorm := identity.NormalizeEmail(email)

	account, err := h.accounts.GetByEmail(ctx, email)
	if err != nil {
		// Timing resistance: perform a dummy verify when the account is missing.
		if h.dummyHash != "" {
			_, _ = password.Verify(pw, h.dummyHash)
		}
		h.metrics.login("invalid_credentials")
		h.auditLoginFailed(ctx, nil, ip, ua, emailNorm, "not_found")
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
		return
	}

	okPw, err := password.Verify(pw, account.PasswordHash)
	if err != nil || !okPw {
		h.metrics.login("invalid_credentials")
		h.auditLoginFailed(ctx, &account.ID, ip, ua, emailNorm, "bad_password")
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
		return
	}
	if !account.IsActive {
		h.metrics.login("account_deactivated")
		h.auditLoginFailed(ctx, &account.ID, ip, ua, emailNorm, "deactivated")
		writeError(w, http.StatusForbidden, "account_deactivated", "account is deactivated")
		return
	}
	if h.cfg.RequireVerifiedLogin && !account.Verified() {
		h.metrics.login("email_not_verified")
		h.auditLoginFailed(ctx, &account.ID, ip, ua, emailNorm, "email_not_verified")
		writeError(w, http.StatusForbidden, "email_not_verified", "email verification required")
		return
	}

	issued, err := h.sessions.Issue(ctx, now, account.ID)
	if err != nil {
		h.metrics.login("error")
		h.log.Error("auth.login.issue.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.metrics.login("success")
	h.auditLoginSuccess(ctx, account.ID, issued.CredentialID, ip, ua)

	respSession := toSessionResponse(issued)
	if h.shouldUseWebCookieTransport(req.Client) {
		if _, err := h.setWebSessionCookies(w, issued.RefreshSecret, issued.RefreshExp); err != nil {
			h.log.Error("auth.login.web_cookie.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
			return
		}
		respSession.RefreshToken = ""
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Account: toAccountResponse(account),
		Session: respSession,
	})
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !h.dbEnabled {
		writeError(w, http.StatusServiceUnavailable, "db_unavailable", "database not configured")
		return
	}

	var req refreshRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
			return
		}
	}
	refreshSecret := strings.TrimSpace(req.RefreshToken)
	fromCookie := false
	if cookieSecret, ok := h.refreshSecretFromCookie(r); ok {
		fromCookie = true
		if refreshSecret == "" {
			refreshSecret = cookieSecret
		}
	}
	if refreshSecret == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "refresh_token is required")
		return
	}
	if fromCookie && !h.csrfDoubleSubmitValid(r) {
		h.metrics.refresh("csrf_invalid")
		writeError(w, http.StatusForbidden, "csrf_invalid", "missing or invalid csrf token")
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()
	ip := clientIP(r, h.cfg.TrustProxy)
	ua := strings.TrimSpace(r.UserAgent())

	issued, err := h.sessions.Rotate(ctx, now, refreshSecret)
	if err != nil {
		h.rejectRotation(ctx, w, err, ip, ua)
		return
	}

	h.metrics.refresh("rotated")
	h.auditRefreshSuccess(ctx, issued.PrincipalID, issued.CredentialID, ip, ua)

	respSession := toSessionResponse(issued)
	if fromCookie || h.shouldUseWebCookieTransport(req.Client) {
		if _, err := h.setWebSessionCookies(w, issued.RefreshSecret, issued.RefreshExp); err != nil {
			h.log.Error("auth.refresh.web_cookie.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
			return
		}
		respSession.RefreshToken = ""
	}

	writeJSON(w, http.StatusOK, refreshResponse{
		Session: respSession,
	})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !h.dbEnabled {
		writeError(w, http.StatusServiceUnavailable, "db_unavailable", "database not configured")
		return
	}

	var req logoutRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
			return
		}
	}
	refreshSecret := strings.TrimSpace(req.RefreshToken)
	if cookieSecret, ok := h.refreshSecretFromCookie(r); ok && refreshSecret == "" {
		refreshSecret = cookieSecret
	}

	ctx := r.Context()
	now := time.Now().UTC()
	if err := h.sessions.RevokeOne(ctx, now, refreshSecret); err != nil {
		h.log.Error("auth.logout.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.metrics.logout()
	h.auditLogout(ctx, clientIP(r, h.cfg.TrustProxy), strings.TrimSpace(r.UserAgent()))
	h.clearWebSessionCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !h.dbEnabled {
		writeError(w, http.StatusServiceUnavailable, "db_unavailable", "database not configured")
		return
	}

	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()
	if err := h.sessions.RevokeAll(ctx, now, claims.PrincipalID); err != nil {
		h.log.Error("auth.logout_all.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.metrics.logout()
	h.auditLogoutAll(ctx, claims.PrincipalID, clientIP(r, h.cfg.TrustProxy), strings.TrimSpace(r.UserAgent()))
	h.clearWebSessionCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !h.dbEnabled {
		writeError(w, http.StatusServiceUnavailable, "db_unavailable", "database not configured")
		return
	}

	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	account, err := h.accounts.GetByID(ctx, claims.PrincipalID)
	if err != nil {
		if identity.IsNotFound(err) {
			writeError(w, http.StatusUnauthorized, "not_found", "account not found")
			return
		}
		h.log.Error("auth.me.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	writeJSON(w, http.StatusOK, meResponse{Account: toAccountResponse(account)})
}

// ---- helpers ----

// rejectRotation maps rotation failures to HTTP responses. Credential-level
// rejections clear the web cookies so browsers stop replaying a dead secret;
// transient failures (lock contention, entropy exhaustion) keep them, since
// the presented credential may still be good.
func (h *Handler) rejectRotation(ctx context.Context, w http.ResponseWriter, err error, ip net.IP, ua string) {
	switch {
	case errors.Is(err, session.ErrInvalidCredential):
		h.metrics.refresh("invalid_credential")
		h.auditRefreshRejected(ctx, ip, ua, "invalid_credential")
		h.clearWebSessionCookies(w)
		writeError(w, http.StatusUnauthorized, "invalid_credential", "refresh credential is not usable")
	case errors.Is(err, session.ErrPrincipalDeactivated):
		h.metrics.refresh("account_deactivated")
		h.auditRefreshRejected(ctx, ip, ua, "account_deactivated")
		h.clearWebSessionCookies(w)
		writeError(w, http.StatusForbidden, "account_deactivated", "account is deactivated")
	case errors.Is(err, session.ErrPrincipalUnverified):
		h.metrics.refresh("email_not_verified")
		h.auditRefreshRejected(ctx, ip, ua, "email_not_verified")
		h.clearWebSessionCookies(w)
		writeError(w, http.StatusForbidden, "email_not_verified", "email verification required")
	case errors.Is(err, session.ErrLockTimeout):
		h.metrics.refresh("lock_timeout")
		writeError(w, http.StatusServiceUnavailable, "server_busy", "please retry later")
	case errors.Is(err, session.ErrEntropyExhausted):
		h.metrics.refresh("entropy_exhausted")
		h.log.Error("auth.refresh.entropy_exhausted")
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
	default:
		h.metrics.refresh("error")
		h.log.Error("auth.refresh.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}

func (h *Handler) requireAuth(w http.ResponseWriter, r *http.Request) (session.AccessClaims, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return session.AccessClaims{}, false
	}
	claims, err := h.sessions.ValidateAccessToken(token, time.Now().UTC())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
		return session.AccessClaims{}, false
	}
	return claims, true
}

func (h *Handler) sendVerificationEmail(ctx context.Context, account identity.Account) {
	if h == nil || h.emailSender == nil || account.Verified() {
		return
	}
	email := strings.TrimSpace(account.Email)
	if email == "" {
		return
	}

	if err := h.emailSender.SendEmailVerification(ctx, EmailVerificationMessage{
		AccountID: account.ID,
		Email:     email,
	}); err != nil {
		h.log.Error("auth.email_verification.send.fail", "err", err, "account_id", account.ID)
	}
}
