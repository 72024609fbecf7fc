package access

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantgate/pkg/apperr"
	"github.com/platinummonkey/tenantgate/pkg/storage"
	"github.com/platinummonkey/tenantgate/pkg/storage/relational"
	"github.com/platinummonkey/tenantgate/pkg/tenancy"
)

var tenantSeq int64

// setupTenant creates an in-memory tenant with users and role_routes tables
func setupTenant(t *testing.T) *tenancy.Connection {
	t.Helper()

	n := atomic.AddInt64(&tenantSeq, 1)
	conn, err := relational.Open(context.Background(), storage.Descriptor{
		ID:     n,
		Kind:   storage.KindRelational,
		Driver: relational.DriverSQLite,
		DSN:    fmt.Sprintf("file:routes%d?mode=memory&cache=shared", n),
	}, relational.PoolConfig{MaxOpenConns: 1})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	_, err = conn.DB().Exec(`
		CREATE TABLE users (id INTEGER PRIMARY KEY AUTOINCREMENT, uid TEXT NOT NULL UNIQUE, role_id INTEGER);
		CREATE TABLE role_routes (id INTEGER PRIMARY KEY AUTOINCREMENT, role_id INTEGER NOT NULL, method TEXT NOT NULL, path TEXT NOT NULL);
		INSERT INTO users (uid, role_id) VALUES ('alice', 1), ('bob', 2), ('nobody', NULL);
		INSERT INTO role_routes (role_id, method, path) VALUES
			(1, '*', '/api/data/{model}'),
			(1, '*', '/api/data/{model}/{id}'),
			(2, 'GET', '/api/data/{model}'),
			(2, 'GET', '/api/reports/*');
	`)
	require.NoError(t, err)

	return tenancy.NewConnection(n, conn, false)
}

func TestRouteCache_Check(t *testing.T) {
	conn := setupTenant(t)
	c := NewRouteCache(16, nil, nil)
	ctx := context.Background()

	tests := []struct {
		uid    string
		method string
		path   string
		want   bool
	}{
		{"alice", "GET", "/api/data/widgets", true},
		{"alice", "DELETE", "/api/data/widgets/7", true},
		{"bob", "GET", "/api/data/widgets", true},
		{"bob", "post", "/api/data/widgets", false},
		{"bob", "GET", "/api/data/widgets/7", false},
		{"bob", "GET", "/api/reports/monthly/2024", true},
		{"nobody", "GET", "/api/data/widgets", false},
		{"stranger", "GET", "/api/data/widgets", false},
	}

	for _, tt := range tests {
		t.Run(tt.uid+" "+tt.method+" "+tt.path, func(t *testing.T) {
			got, err := c.Check(ctx, tt.uid, tt.method, tt.path, conn)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRouteCache_CachesUntilTenantEvicted(t *testing.T) {
	conn := setupTenant(t)
	c := NewRouteCache(16, nil, nil)
	ctx := context.Background()

	allowed, err := c.Check(ctx, "bob", "POST", "/api/data/widgets", conn)
	require.NoError(t, err)
	require.False(t, allowed)

	db := conn.Conn.(*relational.Conn).DB()
	_, err = db.Exec(`INSERT INTO role_routes (role_id, method, path) VALUES (2, 'POST', '/api/data/{model}')`)
	require.NoError(t, err)

	allowed, err = c.Check(ctx, "bob", "POST", "/api/data/widgets", conn)
	require.NoError(t, err)
	assert.False(t, allowed, "verdict is cached for the connection lifetime")

	c.OnTenantEvicted(conn.TenantID, false)
	assert.Equal(t, 0, c.Tenants())

	allowed, err = c.Check(ctx, "bob", "POST", "/api/data/widgets", conn)
	require.NoError(t, err)
	assert.True(t, allowed)

	c.OnTenantReplaced(conn.TenantID)
	assert.Equal(t, 0, c.Tenants())
}

func TestRouteCache_StaleConnectionDoesNotLeakVerdicts(t *testing.T) {
	stale := setupTenant(t)
	c := NewRouteCache(16, nil, nil)
	ctx := context.Background()

	// The tenant's connection is evicted while a request still holds it
	c.OnTenantEvicted(stale.TenantID, false)
	allowed, err := c.Check(ctx, "bob", "POST", "/api/data/widgets", stale)
	require.NoError(t, err)
	require.False(t, allowed)

	// The replacement connection sees a role granted since
	db := stale.Conn.(*relational.Conn).DB()
	_, err = db.Exec(`INSERT INTO role_routes (role_id, method, path) VALUES (2, 'POST', '/api/data/{model}')`)
	require.NoError(t, err)
	fresh := tenancy.NewConnection(stale.TenantID, stale.Conn, false)

	allowed, err = c.Check(ctx, "bob", "POST", "/api/data/widgets", fresh)
	require.NoError(t, err)
	assert.True(t, allowed, "verdicts of the evicted connection are not reused")
	assert.Equal(t, 1, c.Tenants())
}

type noRoutesConn struct{}

func (noRoutesConn) Kind() storage.Kind { return storage.KindDocument }

func (noRoutesConn) Model(name string) (storage.Model, error) {
	return nil, apperr.NotImplemented("noRoutes.Model")
}

func (noRoutesConn) Transaction(ctx context.Context, fn func(context.Context, storage.Tx) error) error {
	return apperr.NotImplemented("noRoutes.Transaction")
}

func (noRoutesConn) Ping(ctx context.Context) error { return nil }

func (noRoutesConn) Close() error { return nil }

func TestRouteCache_NotImplementedIsInternal(t *testing.T) {
	c := NewRouteCache(16, nil, nil)
	conn := tenancy.NewConnection(5, noRoutesConn{}, false)

	allowed, err := c.Check(context.Background(), "alice", "GET", "/api/data/x", conn)
	assert.False(t, allowed)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrNotImplemented)
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
}

func TestRouteCache_StoreFailureIsUnavailable(t *testing.T) {
	conn := setupTenant(t)
	require.NoError(t, conn.Conn.Close())

	c := NewRouteCache(16, nil, nil)
	_, err := c.Check(context.Background(), "alice", "GET", "/api/data/x", conn)
	require.Error(t, err)
	assert.Equal(t, apperr.KindUnavailable, apperr.KindOf(err))
}
