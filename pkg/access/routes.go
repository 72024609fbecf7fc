package access

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/mux"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/platinummonkey/tenantgate/pkg/apperr"
	"github.com/platinummonkey/tenantgate/pkg/observability"
	"github.com/platinummonkey/tenantgate/pkg/storage"
	"github.com/platinummonkey/tenantgate/pkg/tenancy"
)

// Tenant tables consulted for route permissions
const (
	UsersModel      = "users"
	RoleRoutesModel = "role_routes"
)

// RouteCache answers "may user U invoke method+path on tenant T" from the
// tenant's own users and role_routes tables. Verdicts are cached per tenant
// connection and dropped together with it.
type RouteCache struct {
	mu      sync.Mutex
	size    int
	tenants map[int64]*connVerdicts

	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewRouteCache creates a route cache holding up to size verdicts per tenant
func NewRouteCache(size int, logger *observability.Logger, metrics *observability.Metrics) *RouteCache {
	if size <= 0 {
		size = 1024
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &RouteCache{
		size:    size,
		tenants: make(map[int64]*connVerdicts),
		logger:  logger.WithField("component", "route_cache"),
		metrics: metrics,
	}
}

// connVerdicts are the verdicts computed against one tenant connection
type connVerdicts struct {
	conn  *tenancy.Connection
	cache *lru.Cache[string, bool]
}

// verdicts returns the cache bound to conn. Verdicts of any other connection
// of the tenant, such as an evicted one still held by a slow request, are
// discarded rather than shared.
func (c *RouteCache) verdicts(conn *tenancy.Connection) *lru.Cache[string, bool] {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.tenants[conn.TenantID]
	if !ok || v.conn != conn {
		// lru.New only fails for a non-positive size.
		cache, _ := lru.New[string, bool](c.size)
		v = &connVerdicts{conn: conn, cache: cache}
		c.tenants[conn.TenantID] = v
	}
	return v.cache
}

// Check resolves the verdict for uid on method and path. A tenant store
// without route tables yields an Internal error, not a deny.
func (c *RouteCache) Check(ctx context.Context, uid, method, path string, conn *tenancy.Connection) (bool, error) {
	key := uid + " " + strings.ToUpper(method) + " " + path
	verdicts := c.verdicts(conn)

	if allowed, ok := verdicts.Get(key); ok {
		c.metrics.ObserveRouteCache(true)
		return allowed, nil
	}
	c.metrics.ObserveRouteCache(false)

	allowed, err := c.resolve(ctx, uid, method, path, conn)
	if err != nil {
		return false, err
	}
	verdicts.Add(key, allowed)
	return allowed, nil
}

func (c *RouteCache) resolve(ctx context.Context, uid, method, path string, conn *tenancy.Connection) (bool, error) {
	const op = "access.RouteCache"

	users, err := conn.Model(UsersModel)
	if err != nil {
		return false, classify(err, op, "open users model")
	}
	user, err := users.FindOne(ctx, storage.Query{Where: storage.Filter{"uid": uid}})
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, classify(err, op, "read tenant user")
	}

	roleID, ok := user["role_id"]
	if !ok || roleID == nil {
		return false, nil
	}

	routes, err := conn.Model(RoleRoutesModel)
	if err != nil {
		return false, classify(err, op, "open role_routes model")
	}
	grants, err := routes.FindMany(ctx, storage.Query{Where: storage.Filter{"role_id": roleID}})
	if err != nil {
		return false, classify(err, op, "read role routes")
	}

	req := &http.Request{Method: strings.ToUpper(method), URL: &url.URL{Path: path}}
	for _, g := range grants {
		if routeMatches(g, req) {
			return true, nil
		}
	}
	return false, nil
}

// routeMatches tests a role_routes row. The path column is a mux path
// template such as /api/data/{model}; method "*" matches any method.
func routeMatches(grant storage.Record, req *http.Request) bool {
	method := strings.ToUpper(fmt.Sprint(grant["method"]))
	if method != "*" && method != req.Method {
		return false
	}

	tpl, _ := grant["path"].(string)
	if tpl == "" {
		return false
	}
	if strings.HasSuffix(tpl, "/*") {
		return strings.HasPrefix(req.URL.Path, strings.TrimSuffix(tpl, "*"))
	}

	route := mux.NewRouter().NewRoute().Path(tpl)
	if route.GetError() != nil {
		return false
	}
	return route.Match(req, &mux.RouteMatch{})
}

func classify(err error, op, msg string) error {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	return apperr.Wrap(err, apperr.KindUnavailable, op, msg)
}

// Invalidate drops every cached verdict of a tenant
func (c *RouteCache) Invalidate(tenantID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tenants, tenantID)
}

// Tenants returns how many tenants have cached verdicts
func (c *RouteCache) Tenants() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tenants)
}

// OnTenantEvicted implements tenancy.EvictionListener
func (c *RouteCache) OnTenantEvicted(tenantID int64, manager bool) {
	c.Invalidate(tenantID)
}

// OnTenantReplaced implements tenancy.ReplaceListener
func (c *RouteCache) OnTenantReplaced(tenantID int64) {
	c.Invalidate(tenantID)
}
