package tenancy

import (
	"sync"
	"time"

	"github.com/platinummonkey/tenantgate/pkg/storage"
)

// Connection is one live, fully initialized link to a tenant store.
type Connection struct {
	TenantID int64
	Kind     storage.Kind
	Conn     storage.Conn
	Manager  bool
	// ExpiresAt is informational; the registry's own eviction is authoritative.
	ExpiresAt time.Time

	mu     sync.Mutex
	models map[string]storage.Model
}

// NewConnection wraps an open store handle
func NewConnection(tenantID int64, conn storage.Conn, manager bool) *Connection {
	return &Connection{
		TenantID: tenantID,
		Kind:     conn.Kind(),
		Conn:     conn,
		Manager:  manager,
		models:   make(map[string]storage.Model),
	}
}

// Model returns the named model, creating it on first use
func (c *Connection) Model(name string) (storage.Model, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if m, ok := c.models[name]; ok {
		return m, nil
	}
	m, err := c.Conn.Model(name)
	if err != nil {
		return nil, err
	}
	c.models[name] = m
	return m, nil
}

// ModelNames lists the models created so far
func (c *Connection) ModelNames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.models))
	for n := range c.models {
		names = append(names, n)
	}
	return names
}

func (c *Connection) close() error {
	if c == nil || c.Conn == nil {
		return nil
	}
	return c.Conn.Close()
}
