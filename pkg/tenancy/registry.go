package tenancy

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/tenantgate/pkg/observability"
)

const (
	reasonCapacity = "capacity"
	reasonDelete   = "delete"
	reasonReplace  = "replace"
)

// EvictionListener is notified after a tenant connection leaves the registry,
// either by capacity eviction or by Delete.
type EvictionListener interface {
	OnTenantEvicted(tenantID int64, manager bool)
}

// ReplaceListener is notified when Set swaps the connection of an existing tenant.
type ReplaceListener interface {
	OnTenantReplaced(tenantID int64)
}

// OpenFunc opens a connection for a tenant that is not in the registry
type OpenFunc func(ctx context.Context, tenantID int64) (*Connection, error)

// Options configures a Registry
type Options struct {
	Capacity       int
	ConnectTimeout time.Duration
	Logger         *observability.Logger
	Metrics        *observability.Metrics
}

// Registry is the bounded tenant connection cache. Non-pinned entries are
// kept in strict insertion order: reads use Peek and never reorder. Manager
// entries live in a separate pinned set and are never eviction victims.
type Registry struct {
	mu        sync.Mutex
	capacity  int
	pinned    map[int64]*Connection
	order     *simplelru.LRU[int64, *Connection]
	listeners []EvictionListener

	group          singleflight.Group
	connectTimeout time.Duration
	logger         *observability.Logger
	metrics        *observability.Metrics
}

type removal struct {
	conn   *Connection
	reason string
}

// NewRegistry creates an empty registry
func NewRegistry(opts Options) (*Registry, error) {
	if opts.Capacity <= 0 {
		return nil, fmt.Errorf("registry capacity must be positive, got %d", opts.Capacity)
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = observability.NewNopLogger()
	}

	// Capacity is enforced by the registry itself so the pinned set counts
	// against it; the list only needs room for every non-pinned entry.
	order, err := simplelru.NewLRU[int64, *Connection](opts.Capacity+1, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create registry list: %w", err)
	}

	return &Registry{
		capacity:       opts.Capacity,
		pinned:         make(map[int64]*Connection),
		order:          order,
		connectTimeout: opts.ConnectTimeout,
		logger:         opts.Logger.WithField("component", "tenant_registry"),
		metrics:        opts.Metrics,
	}, nil
}

// AddListener registers a cascade listener
func (r *Registry) AddListener(l EvictionListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

// Get returns the connection for a tenant without changing its position.
func (r *Registry) Get(tenantID int64) (*Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.peek(tenantID)
}

func (r *Registry) peek(tenantID int64) (*Connection, bool) {
	if c, ok := r.pinned[tenantID]; ok {
		return c, true
	}
	return r.order.Peek(tenantID)
}

// Set registers a connection. An existing key is re-inserted at the back of
// the insertion order and its previous handle is closed. A new non-pinned key
// evicts the oldest non-pinned entry when the registry is full; if only pinned
// entries remain, the insert proceeds and the registry exceeds the bound.
func (r *Registry) Set(tenantID int64, conn *Connection) {
	conn.TenantID = tenantID

	var removed []removal

	r.mu.Lock()
	if old, ok := r.peek(tenantID); ok {
		delete(r.pinned, tenantID)
		r.order.Remove(tenantID)
		if old != conn {
			removed = append(removed, removal{conn: old, reason: reasonReplace})
		}
	} else if !conn.Manager {
		for len(r.pinned)+r.order.Len() >= r.capacity && r.order.Len() > 0 {
			_, victim, _ := r.order.RemoveOldest()
			removed = append(removed, removal{conn: victim, reason: reasonCapacity})
		}
	}

	if conn.Manager {
		r.pinned[tenantID] = conn
	} else {
		r.order.Add(tenantID, conn)
	}
	size := len(r.pinned) + r.order.Len()
	listeners := r.listeners
	r.mu.Unlock()

	r.metrics.SetRegistrySize(size)
	r.finish(removed, listeners)
}

// Delete removes a tenant connection, cascading to listeners and closing the handle.
func (r *Registry) Delete(tenantID int64) bool {
	r.mu.Lock()
	conn, ok := r.peek(tenantID)
	if ok {
		delete(r.pinned, tenantID)
		r.order.Remove(tenantID)
	}
	size := len(r.pinned) + r.order.Len()
	listeners := r.listeners
	r.mu.Unlock()

	if !ok {
		return false
	}
	r.metrics.SetRegistrySize(size)
	r.finish([]removal{{conn: conn, reason: reasonDelete}}, listeners)
	return true
}

// finish runs cascades and closes handles outside the registry lock
func (r *Registry) finish(removed []removal, listeners []EvictionListener) {
	for _, rm := range removed {
		r.metrics.ObserveEviction(rm.reason)
		log := r.logger.WithFields(map[string]interface{}{
			"tenant_id": rm.conn.TenantID,
			"reason":    rm.reason,
		})

		if rm.reason == reasonReplace {
			for _, l := range listeners {
				if rl, ok := l.(ReplaceListener); ok {
					rl.OnTenantReplaced(rm.conn.TenantID)
				}
			}
		} else {
			for _, l := range listeners {
				l.OnTenantEvicted(rm.conn.TenantID, rm.conn.Manager)
			}
		}

		if err := rm.conn.close(); err != nil {
			log.WithError(err).Warn("Failed to close tenant connection")
			continue
		}
		log.Debug("Tenant connection removed")
	}
}

// Resolve returns the cached connection or opens one. Concurrent misses for
// the same tenant share a single open call.
func (r *Registry) Resolve(ctx context.Context, tenantID int64, open OpenFunc) (*Connection, error) {
	if c, ok := r.Get(tenantID); ok {
		return c, nil
	}

	v, err, _ := r.group.Do(strconv.FormatInt(tenantID, 10), func() (interface{}, error) {
		if c, ok := r.Get(tenantID); ok {
			return c, nil
		}

		// One caller's cancellation must not fail the others sharing this call.
		openCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.connectTimeout)
		defer cancel()

		c, err := open(openCtx, tenantID)
		r.metrics.ObserveOpen(err)
		if err != nil {
			return nil, err
		}
		r.Set(tenantID, c)
		r.logger.WithField("tenant_id", tenantID).Debug("Tenant connection opened")
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Connection), nil
}

// Keys returns pinned tenant ids first, then the rest oldest to newest
func (r *Registry) Keys() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := make([]int64, 0, len(r.pinned)+r.order.Len())
	for id := range r.pinned {
		keys = append(keys, id)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return append(keys, r.order.Keys()...)
}

// Len returns the number of live connections
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pinned) + r.order.Len()
}

// Capacity returns the configured bound
func (r *Registry) Capacity() int {
	return r.capacity
}

// Close closes every handle and empties the registry. Listeners are not
// notified since the whole process is going away.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	conns := make([]*Connection, 0, len(r.pinned)+r.order.Len())
	for _, c := range r.pinned {
		conns = append(conns, c)
	}
	for _, id := range r.order.Keys() {
		if c, ok := r.order.Peek(id); ok {
			conns = append(conns, c)
		}
	}
	r.pinned = make(map[int64]*Connection)
	r.order.Purge()
	r.mu.Unlock()

	r.metrics.SetRegistrySize(0)

	var errs []error
	for _, c := range conns {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := c.close(); err != nil {
			errs = append(errs, fmt.Errorf("tenant %d: %w", c.TenantID, err))
		}
	}
	return errors.Join(errs...)
}
