package access

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticLoader struct {
	entries []Entry
	err     error
	calls   int
}

func (l *staticLoader) ListAccess(ctx context.Context) ([]Entry, error) {
	l.calls++
	return l.entries, l.err
}

func (l *staticLoader) ListTenantAccess(ctx context.Context, tenantID int64) ([]Entry, error) {
	l.calls++
	if l.err != nil {
		return nil, l.err
	}
	var out []Entry
	for _, e := range l.entries {
		if e.TenantID == tenantID {
			out = append(out, e)
		}
	}
	return out, nil
}

func loadedCache(t *testing.T, entries ...Entry) (*AccessCache, *staticLoader) {
	t.Helper()
	c := NewAccessCache(nil, nil)
	l := &staticLoader{entries: entries}
	require.NoError(t, c.Load(context.Background(), l))
	return c, l
}

func TestAccessCache_UnknownBeforeLoad(t *testing.T) {
	c := NewAccessCache(nil, nil)
	assert.Equal(t, Unknown, c.Check("alice", 1))
	assert.False(t, c.HasAccess("alice", 1))
	assert.False(t, c.Loaded())
}

func TestAccessCache_Check(t *testing.T) {
	c, _ := loadedCache(t,
		Entry{UserID: 1, UID: "alice", TenantID: 10, AccessLevel: "owner"},
		Entry{UserID: 2, UID: "bob", TenantID: 20, AccessLevel: "read"},
	)

	assert.Equal(t, Allowed, c.Check("alice", 10))
	assert.Equal(t, Denied, c.Check("alice", 20))
	assert.Equal(t, Denied, c.Check("mallory", 10))
	assert.Equal(t, Denied, c.Check("alice", 99))
}

func TestAccessCache_PublicTenant(t *testing.T) {
	c, _ := loadedCache(t,
		Entry{TenantID: 30, Public: true},
		Entry{UserID: 1, UID: "alice", TenantID: 10},
	)

	for _, uid := range []string{"alice", "bob", "anyone"} {
		assert.Equal(t, Allowed, c.Check(uid, 30), uid)
	}
	assert.Equal(t, Denied, c.Check("bob", 10))
}

func TestAccessCache_AddIsIdempotent(t *testing.T) {
	c, _ := loadedCache(t)

	assert.True(t, c.Add(1, "alice", 10, "owner"))
	assert.False(t, c.Add(1, "alice", 10, "owner"))
	assert.False(t, c.Add(1, "alice", 10, "read"), "level is not part of the tuple")
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, Allowed, c.Check("alice", 10))
}

func TestAccessCache_LoadDeduplicates(t *testing.T) {
	c, _ := loadedCache(t,
		Entry{UserID: 1, UID: "alice", TenantID: 10},
		Entry{UserID: 1, UID: "alice", TenantID: 10},
	)
	assert.Equal(t, 1, c.Len())
}

func TestAccessCache_Remove(t *testing.T) {
	c, _ := loadedCache(t,
		Entry{UserID: 1, UID: "alice", TenantID: 10},
		Entry{UserID: 7, UID: "alice", TenantID: 10},
		Entry{UserID: 1, UID: "alice", TenantID: 11},
	)

	assert.Equal(t, 2, c.Remove("alice", 10))
	assert.Equal(t, Denied, c.Check("alice", 10))
	assert.Equal(t, Allowed, c.Check("alice", 11))
	assert.Equal(t, 0, c.Remove("alice", 10))
}

func TestAccessCache_RemoveKeepsPublicEntries(t *testing.T) {
	c, _ := loadedCache(t,
		Entry{UserID: 1, UID: "alice", TenantID: 10},
		Entry{TenantID: 10, Public: true},
	)

	assert.Equal(t, 1, c.Remove("alice", 10))
	assert.Equal(t, Allowed, c.Check("alice", 10), "tenant is still public")
	assert.Equal(t, 0, c.Remove("", 10))
	assert.Equal(t, Allowed, c.Check("bob", 10))

	assert.Equal(t, 1, c.RemoveTenant(10))
}

func TestAccessCache_CascadeOnEviction(t *testing.T) {
	c, _ := loadedCache(t,
		Entry{UserID: 1, UID: "alice", TenantID: 10},
		Entry{TenantID: 10, Public: true},
		Entry{UserID: 2, UID: "bob", TenantID: 20},
	)
	require.Equal(t, Allowed, c.Check("alice", 10))
	require.Equal(t, Allowed, c.Check("bob", 10))

	c.OnTenantEvicted(10, false)

	for _, uid := range []string{"alice", "bob", "carol"} {
		assert.False(t, c.HasAccess(uid, 10), uid)
		assert.Equal(t, Unknown, c.Check(uid, 10), uid)
	}
	assert.Equal(t, Allowed, c.Check("bob", 20))
	assert.Empty(t, c.TenantsFor("alice"))
}

func TestAccessCache_EnsureReloadsStaleTenant(t *testing.T) {
	c, l := loadedCache(t,
		Entry{UserID: 1, UID: "alice", TenantID: 10},
		Entry{UserID: 2, UID: "bob", TenantID: 20},
	)
	c.OnTenantEvicted(10, false)

	// Revoked in the manager while the tenant was evicted.
	l.entries = []Entry{{UserID: 2, UID: "bob", TenantID: 20}, {UserID: 3, UID: "carol", TenantID: 10}}

	require.NoError(t, c.Ensure(context.Background(), l, 10))
	assert.Equal(t, Denied, c.Check("alice", 10))
	assert.Equal(t, Allowed, c.Check("carol", 10))

	calls := l.calls
	require.NoError(t, c.Ensure(context.Background(), l, 10))
	assert.Equal(t, calls, l.calls, "nothing to reload")
}

func TestAccessCache_ManagerEvictionResets(t *testing.T) {
	c, l := loadedCache(t, Entry{UserID: 1, UID: "alice", TenantID: 10})

	c.OnTenantEvicted(1, true)
	assert.False(t, c.Loaded())
	assert.Equal(t, Unknown, c.Check("alice", 10))

	require.NoError(t, c.Ensure(context.Background(), l, 10))
	assert.Equal(t, Allowed, c.Check("alice", 10))
}

func TestAccessCache_LoadError(t *testing.T) {
	c := NewAccessCache(nil, nil)
	err := c.Load(context.Background(), &staticLoader{err: errors.New("manager down")})
	assert.Error(t, err)
	assert.Equal(t, Unknown, c.Check("alice", 1))
}

func TestAccessCache_TenantsFor(t *testing.T) {
	c, _ := loadedCache(t,
		Entry{UserID: 1, UID: "alice", TenantID: 10},
		Entry{UserID: 1, UID: "alice", TenantID: 11},
		Entry{UserID: 9, UID: "alice", TenantID: 11},
		Entry{TenantID: 12, Public: true},
	)
	assert.Equal(t, []int64{10, 11}, c.TenantsFor("alice"))
}

func TestDecision_String(t *testing.T) {
	assert.Equal(t, "allowed", Allowed.String())
	assert.Equal(t, "denied", Denied.String())
	assert.Equal(t, "unknown", Unknown.String())
}
