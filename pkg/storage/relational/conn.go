package relational

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"           // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/platinummonkey/tenantgate/pkg/apperr"
	"github.com/platinummonkey/tenantgate/pkg/storage"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// PoolConfig holds connection pool settings applied to every tenant database
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
}

func (p PoolConfig) withDefaults() PoolConfig {
	if p.MaxOpenConns <= 0 {
		p.MaxOpenConns = 5
	}
	if p.MaxIdleConns <= 0 {
		p.MaxIdleConns = 2
	}
	if p.ConnMaxLifetime <= 0 {
		p.ConnMaxLifetime = 30 * time.Minute
	}
	if p.ConnMaxIdleTime <= 0 {
		p.ConnMaxIdleTime = 5 * time.Minute
	}
	if p.PingTimeout <= 0 {
		p.PingTimeout = 5 * time.Second
	}
	return p
}

// Conn is a relational tenant store
type Conn struct {
	db      *sqlx.DB
	builder sq.StatementBuilderType
}

var _ storage.Conn = (*Conn)(nil)

// Opener returns a storage.Opener for relational descriptors
func Opener(pool PoolConfig) storage.Opener {
	return func(ctx context.Context, d storage.Descriptor) (storage.Conn, error) {
		return Open(ctx, d, pool)
	}
}

// Open connects to the database described by d and verifies it with a ping
func Open(ctx context.Context, d storage.Descriptor, pool PoolConfig) (*Conn, error) {
	pool = pool.withDefaults()

	dsn, err := DSN(d)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Open(d.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %w", d.Driver, err)
	}

	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	db.SetConnMaxIdleTime(pool.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, pool.PingTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s tenant %d: %w", d.Driver, d.ID, err)
	}

	return NewConn(db), nil
}

// NewConn wraps an already open database
func NewConn(db *sqlx.DB) *Conn {
	return &Conn{
		db:      db,
		builder: sq.StatementBuilder.PlaceholderFormat(PlaceholderFor(db.DriverName())),
	}
}

// PlaceholderFor returns the bind variable format of a driver
func PlaceholderFor(driver string) sq.PlaceholderFormat {
	if driver == DriverPostgres {
		return sq.Dollar
	}
	return sq.Question
}

// DSN assembles the driver connection string for a descriptor
func DSN(d storage.Descriptor) (string, error) {
	if d.DSN != "" {
		return d.DSN, nil
	}

	switch d.Driver {
	case DriverPostgres:
		params := map[string]string{
			"host":        d.Host,
			"user":        d.User,
			"password":    d.Password,
			"dbname":      d.Database,
			"sslmode":     d.SSLMode,
			"sslrootcert": d.SSLRootCert,
			"sslcert":     d.SSLCert,
			"sslkey":      d.SSLKey,
		}
		if d.Port > 0 {
			params["port"] = strconv.Itoa(d.Port)
		}
		if params["sslmode"] == "" {
			params["sslmode"] = "require"
		}
		keys := make([]string, 0, len(params))
		for k, v := range params {
			if v != "" {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+"="+quoteParam(params[k]))
		}
		return strings.Join(parts, " "), nil
	case DriverSQLite:
		return "file:" + d.Database, nil
	default:
		return "", apperr.NotImplemented(fmt.Sprintf("relational.DSN(driver=%s)", d.Driver))
	}
}

// quoteParam quotes a libpq keyword/value parameter
func quoteParam(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// DB returns the underlying database handle
func (c *Conn) DB() *sqlx.DB {
	return c.db
}

// Kind implements storage.Conn
func (c *Conn) Kind() storage.Kind {
	return storage.KindRelational
}

// Model returns the model bound to table name
func (c *Conn) Model(name string) (storage.Model, error) {
	if !validIdent(name) {
		return nil, apperr.Errorf(apperr.KindInternal, "relational.Model", "invalid model name %q", name)
	}
	return &model{name: name, db: c.db, builder: c.builder}, nil
}

// Transaction runs fn with models bound to one database transaction
func (c *Conn) Transaction(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, &txView{tx: tx, builder: c.builder}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Ping checks connectivity
func (c *Conn) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Close closes the pool
func (c *Conn) Close() error {
	return c.db.Close()
}

type txView struct {
	tx      *sqlx.Tx
	builder sq.StatementBuilderType
}

func (t *txView) Model(name string) (storage.Model, error) {
	if !validIdent(name) {
		return nil, apperr.Errorf(apperr.KindInternal, "relational.Model", "invalid model name %q", name)
	}
	return &model{name: name, db: t.tx, builder: t.builder}, nil
}
