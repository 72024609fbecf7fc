package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantgate/pkg/apperr"
)

type stubConn struct{ kind Kind }

func (c *stubConn) Kind() Kind { return c.kind }

func (c *stubConn) Model(name string) (Model, error) {
	return nil, apperr.NotImplemented("stub.Model")
}

func (c *stubConn) Ping(ctx context.Context) error { return nil }

func (c *stubConn) Close() error { return nil }

func (c *stubConn) Transaction(ctx context.Context, fn func(context.Context, Tx) error) error {
	return apperr.NotImplemented("stub.Transaction")
}

func TestFactory_Open(t *testing.T) {
	f := NewFactory()
	f.Register(KindRelational, func(ctx context.Context, d Descriptor) (Conn, error) {
		return &stubConn{kind: d.Kind}, nil
	})

	t.Run("registered kind", func(t *testing.T) {
		conn, err := f.Open(context.Background(), Descriptor{ID: 1, Kind: KindRelational, Driver: "sqlite3", Database: "t1"})
		require.NoError(t, err)
		assert.Equal(t, KindRelational, conn.Kind())
	})

	t.Run("unsupported kind is not implemented", func(t *testing.T) {
		_, err := f.Open(context.Background(), Descriptor{ID: 2, Kind: KindDocument, Bucket: "b"})
		require.Error(t, err)
		assert.ErrorIs(t, err, apperr.ErrNotImplemented)
		assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
	})

	t.Run("invalid descriptor", func(t *testing.T) {
		_, err := f.Open(context.Background(), Descriptor{ID: 3, Kind: KindRelational})
		require.Error(t, err)
		assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
	})
}

func TestFactory_OpenFailureIsUnavailable(t *testing.T) {
	f := NewFactory()
	f.Register(KindDocument, func(ctx context.Context, d Descriptor) (Conn, error) {
		return nil, errors.New("dial tcp: connection refused")
	})

	_, err := f.Open(context.Background(), Descriptor{ID: 9, Kind: KindDocument, Bucket: "b"})
	require.Error(t, err)
	assert.Equal(t, apperr.KindUnavailable, apperr.KindOf(err))
}

func TestDescriptor_Validate(t *testing.T) {
	tests := []struct {
		name    string
		d       Descriptor
		wantErr bool
	}{
		{"relational ok", Descriptor{Kind: KindRelational, Driver: "postgres", Database: "db"}, false},
		{"relational dsn ok", Descriptor{Kind: KindRelational, Driver: "sqlite3", DSN: ":memory:"}, false},
		{"relational no driver", Descriptor{Kind: KindRelational, Database: "db"}, true},
		{"relational no database", Descriptor{Kind: KindRelational, Driver: "postgres"}, true},
		{"document ok", Descriptor{Kind: KindDocument, Bucket: "b"}, false},
		{"document no bucket", Descriptor{Kind: KindDocument}, true},
		{"no kind", Descriptor{}, true},
		{"unknown kind passes to factory", Descriptor{Kind: "graph"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.d.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRecord_ID(t *testing.T) {
	assert.Equal(t, "", Record{}.ID())
	assert.Equal(t, "", Record{"id": nil}.ID())
	assert.Equal(t, "42", Record{"id": int64(42)}.ID())
	assert.Equal(t, "abc", Record{"id": "abc"}.ID())
}
