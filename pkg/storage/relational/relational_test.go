package relational

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantgate/pkg/apperr"
	"github.com/platinummonkey/tenantgate/pkg/storage"
)

var dbSeq int64

// setupTestConn opens a private in-memory sqlite database with a widgets table
func setupTestConn(t *testing.T) *Conn {
	t.Helper()

	n := atomic.AddInt64(&dbSeq, 1)
	d := storage.Descriptor{
		ID:     n,
		Kind:   storage.KindRelational,
		Driver: DriverSQLite,
		DSN:    fmt.Sprintf("file:reltest%d?mode=memory&cache=shared", n),
	}

	conn, err := Open(context.Background(), d, PoolConfig{MaxOpenConns: 1, MaxIdleConns: 1})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	_, err = conn.DB().Exec(`
		CREATE TABLE widgets (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			color TEXT,
			weight INTEGER DEFAULT 0
		)`)
	require.NoError(t, err)

	return conn
}

func TestConn_CRUD(t *testing.T) {
	conn := setupTestConn(t)
	ctx := context.Background()

	widgets, err := conn.Model("widgets")
	require.NoError(t, err)
	assert.Equal(t, "widgets", widgets.Name())

	created, err := widgets.Create(ctx, storage.Record{"name": "gear", "color": "red", "weight": 3})
	require.NoError(t, err)
	assert.Equal(t, "gear", created["name"])
	id := created.ID()
	require.NotEmpty(t, id)

	found, err := widgets.Find(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "red", found["color"])

	updated, err := widgets.Update(ctx, id, storage.Record{"color": "blue"})
	require.NoError(t, err)
	assert.Equal(t, "blue", updated["color"])
	assert.Equal(t, "gear", updated["name"])

	require.NoError(t, widgets.Delete(ctx, id))

	_, err = widgets.Find(ctx, id)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	err = widgets.Delete(ctx, id)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = widgets.Update(ctx, id, storage.Record{"color": "green"})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestModel_FindMany(t *testing.T) {
	conn := setupTestConn(t)
	ctx := context.Background()
	widgets, err := conn.Model("widgets")
	require.NoError(t, err)

	for i, color := range []string{"red", "blue", "red", "green"} {
		_, err := widgets.Create(ctx, storage.Record{"name": fmt.Sprintf("w%d", i), "color": color, "weight": i})
		require.NoError(t, err)
	}

	all, err := widgets.FindMany(ctx, storage.Query{})
	require.NoError(t, err)
	assert.Len(t, all, 4)

	reds, err := widgets.FindMany(ctx, storage.Query{Where: storage.Filter{"color": "red"}, OrderBy: []string{"weight DESC"}})
	require.NoError(t, err)
	require.Len(t, reds, 2)
	assert.Equal(t, "w2", reds[0]["name"])

	page, err := widgets.FindMany(ctx, storage.Query{OrderBy: []string{"id"}, Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "w1", page[0]["name"])

	one, err := widgets.FindOne(ctx, storage.Query{Where: storage.Filter{"color": "green"}})
	require.NoError(t, err)
	assert.Equal(t, "w3", one["name"])

	_, err = widgets.FindOne(ctx, storage.Query{Where: storage.Filter{"color": "purple"}})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestModel_RejectsUnsafeIdentifiers(t *testing.T) {
	conn := setupTestConn(t)
	ctx := context.Background()

	_, err := conn.Model("widgets; DROP TABLE widgets")
	require.Error(t, err)
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))

	widgets, err := conn.Model("widgets")
	require.NoError(t, err)

	_, err = widgets.FindMany(ctx, storage.Query{Where: storage.Filter{"color = 'x' OR 1": 1}})
	assert.Error(t, err)

	_, err = widgets.FindMany(ctx, storage.Query{OrderBy: []string{"id; DELETE"}})
	assert.Error(t, err)

	_, err = widgets.Create(ctx, storage.Record{})
	assert.Error(t, err)
}

func TestConn_Transaction(t *testing.T) {
	conn := setupTestConn(t)
	ctx := context.Background()

	err := conn.Transaction(ctx, func(ctx context.Context, tx storage.Tx) error {
		m, err := tx.Model("widgets")
		if err != nil {
			return err
		}
		_, err = m.Create(ctx, storage.Record{"name": "committed"})
		return err
	})
	require.NoError(t, err)

	err = conn.Transaction(ctx, func(ctx context.Context, tx storage.Tx) error {
		m, err := tx.Model("widgets")
		if err != nil {
			return err
		}
		if _, err := m.Create(ctx, storage.Record{"name": "rolled-back"}); err != nil {
			return err
		}
		return fmt.Errorf("abort")
	})
	require.EqualError(t, err, "abort")

	widgets, err := conn.Model("widgets")
	require.NoError(t, err)
	all, err := widgets.FindMany(ctx, storage.Query{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "committed", all[0]["name"])
}

func TestConn_KindAndPing(t *testing.T) {
	conn := setupTestConn(t)
	assert.Equal(t, storage.KindRelational, conn.Kind())
	assert.NoError(t, conn.Ping(context.Background()))
}

func TestDSN(t *testing.T) {
	t.Run("postgres keyword form", func(t *testing.T) {
		dsn, err := DSN(storage.Descriptor{
			Driver:   DriverPostgres,
			Host:     "db.internal",
			Port:     5432,
			User:     "app",
			Password: "p'ss",
			Database: "tenant_7",
		})
		require.NoError(t, err)
		assert.Equal(t, `dbname='tenant_7' host='db.internal' password='p\'ss' port='5432' sslmode='require' user='app'`, dsn)
	})

	t.Run("explicit dsn wins", func(t *testing.T) {
		dsn, err := DSN(storage.Descriptor{Driver: DriverPostgres, DSN: "postgres://x"})
		require.NoError(t, err)
		assert.Equal(t, "postgres://x", dsn)
	})

	t.Run("sqlite file", func(t *testing.T) {
		dsn, err := DSN(storage.Descriptor{Driver: DriverSQLite, Database: "/tmp/t.db"})
		require.NoError(t, err)
		assert.Equal(t, "file:/tmp/t.db", dsn)
	})

	t.Run("unknown driver", func(t *testing.T) {
		_, err := DSN(storage.Descriptor{Driver: "oracle", Database: "x"})
		assert.ErrorIs(t, err, apperr.ErrNotImplemented)
	})
}

func TestOpen_PingFailure(t *testing.T) {
	d := storage.Descriptor{
		ID:     99,
		Kind:   storage.KindRelational,
		Driver: DriverSQLite,
		DSN:    "file:/nonexistent-dir/sub/tenant.db?mode=ro",
	}
	_, err := Open(context.Background(), d, PoolConfig{})
	assert.Error(t, err)
}
