package manager

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/platinummonkey/tenantgate/pkg/access"
	"github.com/platinummonkey/tenantgate/pkg/apperr"
	"github.com/platinummonkey/tenantgate/pkg/auth"
	"github.com/platinummonkey/tenantgate/pkg/storage"
	"github.com/platinummonkey/tenantgate/pkg/storage/relational"
)

// RoleMember is the role of every user but the first
const RoleMember = "member"

// User is a row of the manager tenant's users table
type User struct {
	ID        int64     `db:"id" json:"id"`
	UID       string    `db:"uid" json:"uid"`
	Email     string    `db:"email" json:"email"`
	Name      string    `db:"name" json:"name"`
	Role      string    `db:"role" json:"role"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

var credentialColumns = []string{
	"id", "name", "kind", "driver", "host", "port", "username", "password",
	"database_name", "ssl_mode", "ssl_root_cert", "ssl_cert", "ssl_key", "dsn",
	"bucket", "region", "endpoint", "key_prefix", "access_key", "secret_key",
}

// usersLockKey serializes first-user provisioning on postgres
const usersLockKey int64 = 0x74656e616e74

var userColumns = []string{"id", "uid", "email", "name", "role", "created_at", "updated_at"}

// Store reads and writes the manager tenant: users, access grants and the
// credentials of every other tenant.
type Store struct {
	db      *sqlx.DB
	builder sq.StatementBuilderType
}

// NewStore creates a store over the manager tenant's database
func NewStore(db *sqlx.DB) *Store {
	return &Store{
		db:      db,
		builder: sq.StatementBuilder.PlaceholderFormat(relational.PlaceholderFor(db.DriverName())),
	}
}

// DB returns the underlying handle
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Ping checks the manager database
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ListAccess returns every grant plus one public entry per public tenant
func (s *Store) ListAccess(ctx context.Context) ([]access.Entry, error) {
	return s.listAccess(ctx, nil)
}

// ListTenantAccess is ListAccess restricted to one tenant
func (s *Store) ListTenantAccess(ctx context.Context, tenantID int64) ([]access.Entry, error) {
	return s.listAccess(ctx, &tenantID)
}

func (s *Store) listAccess(ctx context.Context, tenantID *int64) ([]access.Entry, error) {
	grants := s.builder.
		Select("ua.user_id", "u.uid", "ua.database_credential_id", "ua.access_level").
		From("user_access ua").
		Join("users u ON u.id = ua.user_id").
		OrderBy("ua.id")
	public := s.builder.
		Select("id AS database_credential_id", "is_public").
		From("database_credentials").
		Where(sq.Eq{"is_public": true}).
		OrderBy("id")
	if tenantID != nil {
		grants = grants.Where(sq.Eq{"ua.database_credential_id": *tenantID})
		public = public.Where(sq.Eq{"id": *tenantID})
	}

	var entries []access.Entry
	if err := s.selectInto(ctx, &entries, grants); err != nil {
		return nil, fmt.Errorf("failed to list access grants: %w", err)
	}
	var publics []access.Entry
	if err := s.selectInto(ctx, &publics, public); err != nil {
		return nil, fmt.Errorf("failed to list public tenants: %w", err)
	}
	return append(entries, publics...), nil
}

// GetCredential returns the store descriptor of a tenant
func (s *Store) GetCredential(ctx context.Context, tenantID int64) (storage.Descriptor, error) {
	const op = "manager.GetCredential"

	query, args, err := s.builder.Select(credentialColumns...).
		From("database_credentials").
		Where(sq.Eq{"id": tenantID}).
		ToSql()
	if err != nil {
		return storage.Descriptor{}, fmt.Errorf("failed to build query: %w", err)
	}

	var d storage.Descriptor
	if err := s.db.GetContext(ctx, &d, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Descriptor{}, apperr.Errorf(apperr.KindTenantNotFound, op, "tenant %d not found", tenantID)
		}
		return storage.Descriptor{}, apperr.Wrap(err, apperr.KindUnavailable, op, "manager tenant unavailable")
	}
	return d, nil
}

// CreateCredential registers a tenant store and returns its id
func (s *Store) CreateCredential(ctx context.Context, d storage.Descriptor, public bool) (int64, error) {
	if d.Name == "" {
		d.Name = string(d.Kind)
	}
	return s.insertReturningID(ctx, s.builder.Insert("database_credentials").SetMap(map[string]interface{}{
		"name":          d.Name,
		"kind":          string(d.Kind),
		"driver":        d.Driver,
		"host":          d.Host,
		"port":          d.Port,
		"username":      d.User,
		"password":      d.Password,
		"database_name": d.Database,
		"ssl_mode":      d.SSLMode,
		"ssl_root_cert": d.SSLRootCert,
		"ssl_cert":      d.SSLCert,
		"ssl_key":       d.SSLKey,
		"dsn":           d.DSN,
		"bucket":        d.Bucket,
		"region":        d.Region,
		"endpoint":      d.Endpoint,
		"key_prefix":    d.Prefix,
		"access_key":    d.AccessKey,
		"secret_key":    d.SecretKey,
		"is_public":     public,
	}))
}

// GetUserByUID returns nil, nil when no user has uid
func (s *Store) GetUserByUID(ctx context.Context, uid string) (*User, error) {
	return s.getUser(ctx, s.db, sq.Eq{"uid": uid})
}

// GetUser returns nil, nil when the user does not exist
func (s *Store) GetUser(ctx context.Context, id int64) (*User, error) {
	return s.getUser(ctx, s.db, sq.Eq{"id": id})
}

func (s *Store) getUser(ctx context.Context, q sqlx.QueryerContext, where sq.Eq) (*User, error) {
	query, args, err := s.builder.Select(userColumns...).From("users").Where(where).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}
	u := &User{}
	if err := sqlx.GetContext(ctx, q, u, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// CreateUser inserts a user for principal and returns the stored row. The
// first user of the manager tenant becomes admin; the role is decided by the
// insert itself, under an advisory lock on postgres. A concurrent insert of
// the same uid returns the existing row.
func (s *Store) CreateUser(ctx context.Context, p auth.Principal) (*User, error) {
	if existing, err := s.getUser(ctx, s.db, sq.Eq{"uid": p.UID}); err != nil || existing != nil {
		return existing, err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if s.db.DriverName() == relational.DriverPostgres {
		if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", usersLockKey); err != nil {
			return nil, fmt.Errorf("failed to lock users: %w", err)
		}
	}

	row := sq.Select().
		Column("?", p.UID).
		Column("?", p.Email).
		Column("?", p.Name).
		Column(sq.Expr("CASE WHEN EXISTS (SELECT 1 FROM users) THEN ? ELSE ? END", RoleMember, auth.RoleAdmin)).
		Where("1 = 1")
	query, args, err := s.builder.Insert("users").
		Columns("uid", "email", "name", "role").
		Select(row).
		Suffix("ON CONFLICT (uid) DO NOTHING").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build insert: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	u, err := s.getUser(ctx, tx, sq.Eq{"uid": p.UID})
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, fmt.Errorf("user %q missing after insert", p.UID)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return u, nil
}

// UpdateUserProfile sets email and name from the identity provider
func (s *Store) UpdateUserProfile(ctx context.Context, id int64, email, name string) error {
	query, args, err := s.builder.Update("users").
		Set("email", email).
		Set("name", name).
		Set("updated_at", time.Now().UTC()).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build update: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	return nil
}

// GrantAccess gives a user access to a tenant. It reports false when the
// grant already existed, including one inserted concurrently.
func (s *Store) GrantAccess(ctx context.Context, userID, tenantID int64, level string) (bool, error) {
	if _, err := s.GetCredential(ctx, tenantID); err != nil {
		return false, err
	}

	query, args, err := s.builder.Insert("user_access").
		Columns("user_id", "database_credential_id", "access_level").
		Values(userID, tenantID, level).
		Suffix("ON CONFLICT (user_id, database_credential_id) DO NOTHING").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("failed to build insert: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to grant access: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to grant access: %w", err)
	}
	return n > 0, nil
}

// RevokeAccess removes a user's grant on a tenant and returns how many rows went
func (s *Store) RevokeAccess(ctx context.Context, userID, tenantID int64) (int64, error) {
	query, args, err := s.builder.Delete("user_access").
		Where(sq.Eq{"user_id": userID, "database_credential_id": tenantID}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build delete: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke access: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) selectInto(ctx context.Context, dest interface{}, b sq.SelectBuilder) error {
	query, args, err := b.ToSql()
	if err != nil {
		return err
	}
	return s.db.SelectContext(ctx, dest, query, args...)
}

func (s *Store) insertReturningID(ctx context.Context, b sq.InsertBuilder) (int64, error) {
	query, args, err := b.Suffix("RETURNING id").ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build insert: %w", err)
	}
	var id int64
	if err := s.db.QueryRowxContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to insert: %w", err)
	}
	return id, nil
}
