package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/tenantgate/pkg/apperr"
	"github.com/platinummonkey/tenantgate/pkg/audit"
	"github.com/platinummonkey/tenantgate/pkg/auth"
	"github.com/platinummonkey/tenantgate/pkg/httputil"
	"github.com/platinummonkey/tenantgate/pkg/middleware"
	"github.com/platinummonkey/tenantgate/pkg/observability"
	"github.com/platinummonkey/tenantgate/pkg/session"
)

// AuthHandlers handles session-related HTTP requests
type AuthHandlers struct {
	pipeline *middleware.Pipeline
	sessions *session.Store
	cookies  session.CookieConfig
	limit    *middleware.RateLimitMiddleware
	auditLog audit.Logger
	now      func() time.Time
}

// NewAuthHandlers creates a new auth handlers instance. limit and auditLog
// may be nil.
func NewAuthHandlers(pipeline *middleware.Pipeline, sessions *session.Store, cookies session.CookieConfig, limit *middleware.RateLimitMiddleware, auditLog audit.Logger) *AuthHandlers {
	if auditLog == nil {
		auditLog = audit.NopLogger{}
	}
	return &AuthHandlers{
		pipeline: pipeline,
		sessions: sessions,
		cookies:  cookies,
		limit:    limit,
		auditLog: auditLog,
		now:      time.Now,
	}
}

// RegisterRoutes registers the routes that manage the session itself
func (h *AuthHandlers) RegisterRoutes(router *mux.Router) {
	router.Handle("/auth/session", h.limited(h.createSession)).Methods("POST")
	router.HandleFunc("/auth/session", h.deleteSession).Methods("DELETE")
	router.Handle("/auth/refresh", h.limited(h.refreshSession)).Methods("POST")
}

// Routes implements RouteRegistrar
func (h *AuthHandlers) Routes() []GuardedRoute {
	return []GuardedRoute{
		{Path: "/auth/me", Methods: []string{"GET"}, Scope: ScopeIdentity, Handler: h.me},
	}
}

func (h *AuthHandlers) limited(fn http.HandlerFunc) http.Handler {
	if h.limit == nil {
		return fn
	}
	return h.limit.Handler(fn)
}

// signInRequest carries what the client knows beyond the bearer token.
// Durations are in seconds; absolute times win over durations. The access
// expiry may shorten the token's exp but never extend it.
type signInRequest struct {
	RefreshToken     string     `json:"refresh_token"`
	AccessExpiresAt  *time.Time `json:"access_expires_at"`
	AccessExpiresIn  int64      `json:"access_expires_in"`
	RefreshExpiresAt *time.Time `json:"refresh_expires_at"`
	RefreshExpiresIn int64      `json:"refresh_expires_in"`
}

func (req *signInRequest) tokens(accessToken string, ident *auth.Identity, now time.Time) (*session.Tokens, error) {
	if req.AccessExpiresIn < 0 || req.RefreshExpiresIn < 0 {
		return nil, apperr.New(apperr.KindBadRequest, "api.signIn", "expiry durations must not be negative")
	}

	t := &session.Tokens{
		AccessToken:      accessToken,
		RefreshToken:     req.RefreshToken,
		RefreshExpiresAt: req.RefreshExpiresAt,
		RefreshExpiresIn: time.Duration(req.RefreshExpiresIn) * time.Second,
	}

	var access time.Time
	switch {
	case req.AccessExpiresAt != nil && !req.AccessExpiresAt.IsZero():
		access = *req.AccessExpiresAt
	case req.AccessExpiresIn > 0:
		access = now.Add(time.Duration(req.AccessExpiresIn) * time.Second)
	}
	if ident != nil && !ident.Expiry.IsZero() && (access.IsZero() || access.After(ident.Expiry)) {
		access = ident.Expiry
	}
	if !access.IsZero() {
		t.AccessExpiresAt = &access
	}
	return t, nil
}

// UserView is the caller as rendered by the API
type UserView struct {
	UserID   int64    `json:"user_id"`
	UID      string   `json:"uid"`
	Email    string   `json:"email,omitempty"`
	Name     string   `json:"name,omitempty"`
	Provider string   `json:"provider,omitempty"`
	Role     string   `json:"role,omitempty"`
	Roles    []string `json:"roles,omitempty"`
}

func newUserView(p *auth.Principal) UserView {
	return UserView{
		UserID:   p.UserID,
		UID:      p.UID,
		Email:    p.Email,
		Name:     p.Name,
		Provider: p.Provider,
		Role:     p.Role,
		Roles:    p.Roles,
	}
}

// SessionResponse describes a created or refreshed session
type SessionResponse struct {
	SessionID       string     `json:"session_id"`
	User            UserView   `json:"user"`
	ExpiresAt       time.Time  `json:"expires_at"`
	AccessExpiresAt *time.Time `json:"access_expires_at,omitempty"`
}

func newSessionResponse(rec *session.Record) SessionResponse {
	resp := SessionResponse{
		SessionID: rec.ID,
		User:      newUserView(&rec.Principal),
		ExpiresAt: rec.ExpiresAt,
	}
	if !rec.AccessExpiresAt.IsZero() {
		at := rec.AccessExpiresAt
		resp.AccessExpiresAt = &at
	}
	return resp
}

// createSession handles POST /auth/session
func (h *AuthHandlers) createSession(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	res, err := h.pipeline.Authenticate(w, r, middleware.ClassBearer)
	if err != nil {
		recordAudit(h.auditLog, r, audit.NewEvent(r, audit.EventTypeSignIn, audit.EventStatusFailure).WithError(err))
		httputil.WriteError(w, r, err)
		return
	}
	raw, _ := auth.BearerToken(r.Header.Get("Authorization"))

	tokens, err := req.tokens(raw, res.Identity, h.now())
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	// Signing in again replaces the session the client already holds
	if old := h.cookies.ExtractID(r); old != "" {
		if err := h.sessions.Delete(r.Context(), old); err != nil {
			observability.FromContext(r.Context()).WithError(err).Warn("Failed to delete replaced session")
		}
	}

	rec, err := h.sessions.Create(r.Context(), *res.Principal, tokens)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	recordAudit(h.auditLog, r, audit.NewEvent(r, audit.EventTypeSignIn, audit.EventStatusSuccess).WithActor(&rec.Principal))
	h.cookies.WriteCookie(w, rec.ID, rec.MaxAge(h.now()))
	httputil.WriteCreated(w, newSessionResponse(rec))
}

// deleteSession handles DELETE /auth/session. Signing out without a
// session succeeds.
func (h *AuthHandlers) deleteSession(w http.ResponseWriter, r *http.Request) {
	if id := h.cookies.ExtractID(r); id != "" {
		event := audit.NewEvent(r, audit.EventTypeSignOut, audit.EventStatusSuccess)
		if rec, err := h.sessions.Get(r.Context(), id); err == nil && rec != nil {
			event.WithActor(&rec.Principal)
		}
		if err := h.sessions.Delete(r.Context(), id); err != nil {
			httputil.WriteError(w, r, err)
			return
		}
		recordAudit(h.auditLog, r, event)
	}
	h.cookies.ClearCookie(w)
	httputil.WriteNoContent(w)
}

// refreshSession handles POST /auth/refresh
func (h *AuthHandlers) refreshSession(w http.ResponseWriter, r *http.Request) {
	const op = "api.refreshSession"

	id := h.cookies.ExtractID(r)
	if id == "" {
		httputil.WriteError(w, r, apperr.New(apperr.KindUnauthenticated, op, "no session"))
		return
	}

	rec, err := h.sessions.Get(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	if rec == nil {
		h.cookies.ClearCookie(w)
		httputil.WriteError(w, r, apperr.New(apperr.KindUnauthenticated, op, "session expired or unknown"))
		return
	}

	next, err := h.pipeline.RefreshSession(r.Context(), w, rec)
	if err != nil {
		recordAudit(h.auditLog, r, audit.NewEvent(r, audit.EventTypeRefreshFailed, audit.EventStatusFailure).
			WithActor(&rec.Principal).
			WithError(err))
		if apperr.Is(err, apperr.KindUnauthenticated) {
			h.cookies.ClearCookie(w)
		}
		httputil.WriteError(w, r, err)
		return
	}
	recordAudit(h.auditLog, r, audit.NewEvent(r, audit.EventTypeRefresh, audit.EventStatusSuccess).WithActor(&next.Principal))
	httputil.WriteSuccess(w, newSessionResponse(next))
}

// MeResponse is the authenticated caller
type MeResponse struct {
	User             UserView   `json:"user"`
	SessionExpiresAt *time.Time `json:"session_expires_at,omitempty"`
}

// me handles GET /auth/me
func (h *AuthHandlers) me(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		httputil.WriteError(w, r, apperr.New(apperr.KindUnauthenticated, "api.me", "no principal"))
		return
	}

	resp := MeResponse{User: newUserView(principal)}
	if rec, ok := middleware.SessionFrom(r.Context()); ok {
		exp := rec.ExpiresAt
		resp.SessionExpiresAt = &exp
	}
	httputil.WriteSuccess(w, resp)
}
