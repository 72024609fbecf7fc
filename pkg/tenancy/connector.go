package tenancy

import (
	"context"

	"github.com/platinummonkey/tenantgate/pkg/storage"
)

// CredentialSource looks up the store descriptor of a tenant
type CredentialSource interface {
	GetCredential(ctx context.Context, tenantID int64) (storage.Descriptor, error)
}

// StoreOpener opens a tenant store from its descriptor
type StoreOpener interface {
	Open(ctx context.Context, d storage.Descriptor) (storage.Conn, error)
}

// Connector resolves tenant connections through the registry, opening
// missing ones from the credentials held by the manager tenant.
type Connector struct {
	registry *Registry
	opener   StoreOpener
	creds    CredentialSource
}

// NewConnector wires a registry to a store opener and credential source
func NewConnector(registry *Registry, opener StoreOpener, creds CredentialSource) *Connector {
	return &Connector{registry: registry, opener: opener, creds: creds}
}

// Registry returns the underlying registry
func (c *Connector) Registry() *Registry {
	return c.registry
}

// Connection returns the live connection for tenantID, opening it on a miss.
// An unknown tenant fails with apperr.KindTenantNotFound.
func (c *Connector) Connection(ctx context.Context, tenantID int64) (*Connection, error) {
	return c.registry.Resolve(ctx, tenantID, c.open)
}

func (c *Connector) open(ctx context.Context, tenantID int64) (*Connection, error) {
	d, err := c.creds.GetCredential(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	conn, err := c.opener.Open(ctx, d)
	if err != nil {
		return nil, err
	}
	return NewConnection(tenantID, conn, false), nil
}
