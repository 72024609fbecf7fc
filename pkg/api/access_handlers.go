package api

import (
	"net/http"

	"github.com/platinummonkey/tenantgate/pkg/apperr"
	"github.com/platinummonkey/tenantgate/pkg/audit"
	"github.com/platinummonkey/tenantgate/pkg/auth"
	"github.com/platinummonkey/tenantgate/pkg/httputil"
	"github.com/platinummonkey/tenantgate/pkg/manager"
	"github.com/platinummonkey/tenantgate/pkg/middleware"
)

// AccessHandlers grants and revokes tenant access
type AccessHandlers struct {
	grants   *manager.Grants
	auditLog audit.Logger
}

// NewAccessHandlers creates access handlers over the grant service
func NewAccessHandlers(grants *manager.Grants, auditLog audit.Logger) *AccessHandlers {
	if auditLog == nil {
		auditLog = audit.NopLogger{}
	}
	return &AccessHandlers{grants: grants, auditLog: auditLog}
}

func accessEvent(r *http.Request, eventType audit.EventType, status audit.EventStatus, actor *auth.Principal, uid string, tenantID int64) *audit.Event {
	e := audit.NewEvent(r, eventType, status).WithActor(actor)
	e.TargetUID = uid
	e.TenantID = tenantID
	return e
}

// Routes implements RouteRegistrar
func (h *AccessHandlers) Routes() []GuardedRoute {
	return []GuardedRoute{
		{Path: "/api/tenants/{tenant_id}/access", Methods: []string{"POST"}, Scope: ScopeIdentity, Handler: h.grant},
		{Path: "/api/tenants/{tenant_id}/access", Methods: []string{"DELETE"}, Scope: ScopeIdentity, Handler: h.revoke},
	}
}

type grantRequest struct {
	UID   string `json:"uid"`
	Level string `json:"level"`
}

// GrantResponse reports an access grant
type GrantResponse struct {
	UID      string `json:"uid"`
	TenantID int64  `json:"tenant_id"`
	Level    string `json:"level"`
	Created  bool   `json:"created"`
}

// RevokeResponse reports how many grants a revocation removed
type RevokeResponse struct {
	UID      string `json:"uid"`
	TenantID int64  `json:"tenant_id"`
	Removed  int64  `json:"removed"`
}

func tenantParam(r *http.Request) (int64, error) {
	id, err := httputil.ParsePathInt64(r, "tenant_id")
	if err != nil {
		return 0, err
	}
	if id <= 0 {
		return 0, apperr.Errorf(apperr.KindBadRequest, "api.tenant", "invalid tenant id %d", id)
	}
	return id, nil
}

// grant handles POST /api/tenants/{tenant_id}/access. Only admins grant.
func (h *AccessHandlers) grant(w http.ResponseWriter, r *http.Request) {
	const op = "api.grant"

	tenantID, err := tenantParam(r)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	var req grantRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	principal, ok := middleware.PrincipalFrom(r.Context())
	if !ok || !principal.IsAdmin() {
		recordAudit(h.auditLog, r, accessEvent(r, audit.EventTypeAccessGrant, audit.EventStatusDenied, principal, req.UID, tenantID))
		httputil.WriteError(w, r, apperr.New(apperr.KindForbidden, op, "only admins grant tenant access"))
		return
	}

	if req.Level == "" {
		req.Level = manager.DefaultAccessLevel
	}
	created, err := h.grants.Grant(r.Context(), req.UID, tenantID, req.Level)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	event := accessEvent(r, audit.EventTypeAccessGrant, audit.EventStatusSuccess, principal, req.UID, tenantID)
	event.Metadata = map[string]interface{}{"level": req.Level, "created": created}
	recordAudit(h.auditLog, r, event)

	resp := GrantResponse{UID: req.UID, TenantID: tenantID, Level: req.Level, Created: created}
	if created {
		httputil.WriteCreated(w, resp)
		return
	}
	httputil.WriteSuccess(w, resp)
}

// revoke handles DELETE /api/tenants/{tenant_id}/access?uid=. Without a uid
// callers revoke their own access; revoking someone else takes an admin.
func (h *AccessHandlers) revoke(w http.ResponseWriter, r *http.Request) {
	const op = "api.revoke"

	tenantID, err := tenantParam(r)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	principal, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		httputil.WriteError(w, r, apperr.New(apperr.KindUnauthenticated, op, "no principal"))
		return
	}

	uid := httputil.ParseQueryString(r, "uid", principal.UID)
	if uid != principal.UID && !principal.IsAdmin() {
		recordAudit(h.auditLog, r, accessEvent(r, audit.EventTypeAccessRevoke, audit.EventStatusDenied, principal, uid, tenantID))
		httputil.WriteError(w, r, apperr.New(apperr.KindForbidden, op, "only admins revoke other users"))
		return
	}

	removed, err := h.grants.Revoke(r.Context(), uid, tenantID)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	event := accessEvent(r, audit.EventTypeAccessRevoke, audit.EventStatusSuccess, principal, uid, tenantID)
	event.Metadata = map[string]interface{}{"removed": removed}
	recordAudit(h.auditLog, r, event)

	httputil.WriteSuccess(w, RevokeResponse{UID: uid, TenantID: tenantID, Removed: removed})
}
