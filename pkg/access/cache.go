package access

import (
	"context"
	"fmt"
	"sync"

	"github.com/platinummonkey/tenantgate/pkg/observability"
)

// Decision is the three-valued answer of the access cache
type Decision int

const (
	// Unknown means the facts needed to answer have not been loaded.
	Unknown Decision = iota
	Denied
	Allowed
)

func (d Decision) String() string {
	switch d {
	case Allowed:
		return "allowed"
	case Denied:
		return "denied"
	default:
		return "unknown"
	}
}

// Entry is one access fact: a user may reach a tenant at some level, or the
// tenant is public to every authenticated user.
type Entry struct {
	UserID      int64  `db:"user_id" json:"user_id"`
	UID         string `db:"uid" json:"uid"`
	TenantID    int64  `db:"database_credential_id" json:"tenant_id"`
	AccessLevel string `db:"access_level" json:"access_level"`
	Public      bool   `db:"is_public" json:"is_public"`
}

func (e Entry) same(o Entry) bool {
	return e.UserID == o.UserID && e.UID == o.UID && e.TenantID == o.TenantID && e.Public == o.Public
}

// Loader reads access facts from the manager tenant
type Loader interface {
	ListAccess(ctx context.Context) ([]Entry, error)
	ListTenantAccess(ctx context.Context, tenantID int64) ([]Entry, error)
}

// AccessCache answers "may user U reach tenant T" from an in-memory list.
// Mutations are last-writer-wins; the mutex only keeps the list memory safe.
type AccessCache struct {
	mu      sync.RWMutex
	entries []Entry
	loaded  bool
	// stale holds tenants whose entries were dropped by a cascade and must
	// be reloaded before they can be answered again.
	stale map[int64]struct{}

	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewAccessCache creates an empty, unloaded cache
func NewAccessCache(logger *observability.Logger, metrics *observability.Metrics) *AccessCache {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &AccessCache{
		stale:   make(map[int64]struct{}),
		logger:  logger.WithField("component", "access_cache"),
		metrics: metrics,
	}
}

// Load replaces the whole list with the loader's facts
func (c *AccessCache) Load(ctx context.Context, loader Loader) error {
	entries, err := loader.ListAccess(ctx)
	if err != nil {
		return fmt.Errorf("failed to load access entries: %w", err)
	}

	deduped := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if !contains(deduped, e) {
			deduped = append(deduped, e)
		}
	}

	c.mu.Lock()
	c.entries = deduped
	c.loaded = true
	c.stale = make(map[int64]struct{})
	c.mu.Unlock()

	c.logger.WithField("entries", len(deduped)).Info("Access cache loaded")
	return nil
}

// LoadTenant replaces the facts of one tenant
func (c *AccessCache) LoadTenant(ctx context.Context, loader Loader, tenantID int64) error {
	entries, err := loader.ListTenantAccess(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("failed to load access entries for tenant %d: %w", tenantID, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = without(c.entries, func(e Entry) bool { return e.TenantID == tenantID })
	for _, e := range entries {
		if e.TenantID == tenantID && !contains(c.entries, e) {
			c.entries = append(c.entries, e)
		}
	}
	delete(c.stale, tenantID)
	return nil
}

// Ensure loads whatever is missing to answer for tenantID
func (c *AccessCache) Ensure(ctx context.Context, loader Loader, tenantID int64) error {
	c.mu.RLock()
	loaded := c.loaded
	_, stale := c.stale[tenantID]
	c.mu.RUnlock()

	switch {
	case !loaded:
		return c.Load(ctx, loader)
	case stale:
		return c.LoadTenant(ctx, loader, tenantID)
	}
	return nil
}

// Loaded reports whether a bulk load has completed
func (c *AccessCache) Loaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loaded
}

// Check returns Allowed when an entry matches (uid, tenantID) exactly or the
// tenant has a public entry. Before the first load, or for a tenant whose
// facts were dropped by a cascade, the answer is Unknown.
func (c *AccessCache) Check(uid string, tenantID int64) Decision {
	d := c.check(uid, tenantID)
	c.metrics.ObserveAccess(d.String())
	return d
}

func (c *AccessCache) check(uid string, tenantID int64) Decision {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.loaded {
		return Unknown
	}
	if _, ok := c.stale[tenantID]; ok {
		return Unknown
	}
	for _, e := range c.entries {
		if e.TenantID != tenantID {
			continue
		}
		if e.Public || e.UID == uid {
			return Allowed
		}
	}
	return Denied
}

// HasAccess is Check collapsed to a boolean; Unknown is not access.
func (c *AccessCache) HasAccess(uid string, tenantID int64) bool {
	return c.check(uid, tenantID) == Allowed
}

// Add appends an entry unless the same tuple is already present
func (c *AccessCache) Add(userID int64, uid string, tenantID int64, level string) bool {
	e := Entry{UserID: userID, UID: uid, TenantID: tenantID, AccessLevel: level}

	c.mu.Lock()
	defer c.mu.Unlock()
	if contains(c.entries, e) {
		return false
	}
	c.entries = append(c.entries, e)
	return true
}

// Remove drops every grant matching (uid, tenantID) and returns how many.
// Public entries have no uid and are left in place, so revoking a user never
// makes a public tenant private; RemoveTenant drops them.
func (c *AccessCache) Remove(uid string, tenantID int64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	before := len(c.entries)
	c.entries = without(c.entries, func(e Entry) bool {
		return e.UID == uid && e.TenantID == tenantID && !e.Public
	})
	return before - len(c.entries)
}

// RemoveTenant drops every entry of a tenant and marks it stale
func (c *AccessCache) RemoveTenant(tenantID int64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	before := len(c.entries)
	c.entries = without(c.entries, func(e Entry) bool { return e.TenantID == tenantID })
	if c.loaded {
		c.stale[tenantID] = struct{}{}
	}
	return before - len(c.entries)
}

// TenantsFor lists the tenants a uid holds an individual entry for
func (c *AccessCache) TenantsFor(uid string) []int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	seen := make(map[int64]struct{})
	var out []int64
	for _, e := range c.entries {
		if e.UID != uid || e.Public {
			continue
		}
		if _, ok := seen[e.TenantID]; ok {
			continue
		}
		seen[e.TenantID] = struct{}{}
		out = append(out, e.TenantID)
	}
	return out
}

// Reset forgets everything; the next Check is Unknown until reloaded
func (c *AccessCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = nil
	c.loaded = false
	c.stale = make(map[int64]struct{})
}

// Len returns the number of cached entries
func (c *AccessCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// OnTenantEvicted cascades a registry removal. Losing the manager connection
// invalidates the whole list since it was loaded through that connection.
func (c *AccessCache) OnTenantEvicted(tenantID int64, manager bool) {
	if manager {
		c.Reset()
		c.logger.WithField("tenant_id", tenantID).Info("Manager connection removed, access cache reset")
		return
	}
	n := c.RemoveTenant(tenantID)
	c.logger.WithFields(map[string]interface{}{
		"tenant_id": tenantID,
		"removed":   n,
	}).Debug("Access entries dropped with tenant connection")
}

func contains(entries []Entry, e Entry) bool {
	for _, x := range entries {
		if x.same(e) {
			return true
		}
	}
	return false
}

func without(entries []Entry, drop func(Entry) bool) []Entry {
	out := entries[:0:0]
	for _, e := range entries {
		if !drop(e) {
			out = append(out, e)
		}
	}
	return out
}
