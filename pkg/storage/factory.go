package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/platinummonkey/tenantgate/pkg/apperr"
)

// Opener opens a store of one kind from a descriptor.
type Opener func(ctx context.Context, d Descriptor) (Conn, error)

// Factory is the connection factory. Each store family registers an Opener
// for its Kind; opening any other kind fails fast as not implemented.
type Factory struct {
	mu      sync.RWMutex
	openers map[Kind]Opener
}

// NewFactory creates an empty factory
func NewFactory() *Factory {
	return &Factory{openers: make(map[Kind]Opener)}
}

// Register installs the opener for a kind, replacing any previous one
func (f *Factory) Register(kind Kind, open Opener) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.openers[kind] = open
}

// Kinds lists the registered store kinds
func (f *Factory) Kinds() []Kind {
	f.mu.RLock()
	defer f.mu.RUnlock()
	kinds := make([]Kind, 0, len(f.openers))
	for k := range f.openers {
		kinds = append(kinds, k)
	}
	return kinds
}

// Open validates the descriptor and opens it with the opener for its kind
func (f *Factory) Open(ctx context.Context, d Descriptor) (Conn, error) {
	if err := d.Validate(); err != nil {
		return nil, apperr.Wrap(err, apperr.KindInternal, "storage.Open", "invalid descriptor")
	}

	f.mu.RLock()
	open, ok := f.openers[d.Kind]
	f.mu.RUnlock()
	if !ok {
		return nil, apperr.NotImplemented(fmt.Sprintf("storage.Open(kind=%s)", d.Kind))
	}

	conn, err := open(ctx, d)
	if err != nil {
		if _, typed := err.(*apperr.Error); typed {
			return nil, err
		}
		return nil, apperr.Wrap(err, apperr.KindUnavailable, "storage.Open", fmt.Sprintf("open tenant %d", d.ID))
	}
	return conn, nil
}
