package manager

import (
	"context"

	"github.com/platinummonkey/tenantgate/pkg/access"
	"github.com/platinummonkey/tenantgate/pkg/apperr"
	"github.com/platinummonkey/tenantgate/pkg/observability"
)

// DefaultAccessLevel is used when an invite names no level
const DefaultAccessLevel = "member"

// Grants applies invite acceptance and revocation to the manager tenant and
// keeps the access cache in step without a full reload.
type Grants struct {
	store  *Store
	cache  *access.AccessCache
	logger *observability.Logger
}

// NewGrants creates a grant service
func NewGrants(store *Store, cache *access.AccessCache, logger *observability.Logger) *Grants {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Grants{store: store, cache: cache, logger: logger.WithField("component", "grants")}
}

// Grant gives the user with uid access to tenantID. It reports whether a new
// grant was created.
func (g *Grants) Grant(ctx context.Context, uid string, tenantID int64, level string) (bool, error) {
	const op = "manager.Grant"

	if level == "" {
		level = DefaultAccessLevel
	}
	u, err := g.user(ctx, op, uid)
	if err != nil {
		return false, err
	}

	created, err := g.store.GrantAccess(ctx, u.ID, tenantID, level)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindTenantNotFound {
			return false, err
		}
		return false, apperr.Wrap(err, apperr.KindUnavailable, op, "cannot grant access")
	}

	g.cache.Add(u.ID, u.UID, tenantID, level)
	if created {
		g.logger.WithFields(map[string]interface{}{"uid": uid, "tenant_id": tenantID}).Info("Access granted")
	}
	return created, nil
}

// Revoke removes the user's access to tenantID and returns how many grants went
func (g *Grants) Revoke(ctx context.Context, uid string, tenantID int64) (int64, error) {
	const op = "manager.Revoke"

	u, err := g.user(ctx, op, uid)
	if err != nil {
		return 0, err
	}

	n, err := g.store.RevokeAccess(ctx, u.ID, tenantID)
	if err != nil {
		return 0, apperr.Wrap(err, apperr.KindUnavailable, op, "cannot revoke access")
	}
	g.cache.Remove(uid, tenantID)

	g.logger.WithFields(map[string]interface{}{"uid": uid, "tenant_id": tenantID, "removed": n}).Info("Access revoked")
	return n, nil
}

func (g *Grants) user(ctx context.Context, op, uid string) (*User, error) {
	if uid == "" {
		return nil, apperr.New(apperr.KindBadRequest, op, "uid is required")
	}
	u, err := g.store.GetUserByUID(ctx, uid)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindUnavailable, op, "manager tenant unavailable")
	}
	if u == nil {
		return nil, apperr.Errorf(apperr.KindNotFound, op, "user %q is not registered", uid)
	}
	return u, nil
}
