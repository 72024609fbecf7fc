package relational

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/platinummonkey/tenantgate/pkg/apperr"
	"github.com/platinummonkey/tenantgate/pkg/storage"
)

// model maps a storage.Model onto one table. Table and column names are
// validated as identifiers because squirrel does not quote them.
type model struct {
	name    string
	db      sqlx.ExtContext
	builder sq.StatementBuilderType
}

func (m *model) Name() string {
	return m.name
}

func (m *model) Find(ctx context.Context, id string) (storage.Record, error) {
	return m.FindOne(ctx, storage.Query{Where: storage.Filter{"id": id}})
}

func (m *model) FindOne(ctx context.Context, q storage.Query) (storage.Record, error) {
	q.Limit = 1
	recs, err := m.FindMany(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, storage.ErrNotFound
	}
	return recs[0], nil
}

func (m *model) FindMany(ctx context.Context, q storage.Query) ([]storage.Record, error) {
	stmt := m.builder.Select("*").From(m.name)

	if len(q.Where) > 0 {
		if err := checkColumns(q.Where); err != nil {
			return nil, err
		}
		stmt = stmt.Where(sq.Eq(q.Where))
	}
	for _, order := range q.OrderBy {
		if !validOrder(order) {
			return nil, apperr.Errorf(apperr.KindInternal, "relational.FindMany", "invalid order %q", order)
		}
		stmt = stmt.OrderBy(order)
	}
	if q.Limit > 0 {
		stmt = stmt.Limit(q.Limit)
	}
	if q.Offset > 0 {
		stmt = stmt.Offset(q.Offset)
	}

	query, args, err := stmt.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select on %s: %w", m.name, err)
	}

	rows, err := m.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", m.name, err)
	}
	defer rows.Close()

	var out []storage.Record
	for rows.Next() {
		row := make(map[string]interface{})
		if err := rows.MapScan(row); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", m.name, err)
		}
		out = append(out, normalize(row))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s rows: %w", m.name, err)
	}
	return out, nil
}

func (m *model) Create(ctx context.Context, rec storage.Record) (storage.Record, error) {
	if len(rec) == 0 {
		return nil, apperr.New(apperr.KindInternal, "relational.Create", "empty record")
	}
	if err := checkColumns(storage.Filter(rec)); err != nil {
		return nil, err
	}

	query, args, err := m.builder.Insert(m.name).
		SetMap(map[string]interface{}(rec)).
		Suffix("RETURNING *").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build insert on %s: %w", m.name, err)
	}

	return m.returning(ctx, query, args)
}

func (m *model) Update(ctx context.Context, id string, changes storage.Record) (storage.Record, error) {
	delete(changes, "id")
	if len(changes) == 0 {
		return m.Find(ctx, id)
	}
	if err := checkColumns(storage.Filter(changes)); err != nil {
		return nil, err
	}

	query, args, err := m.builder.Update(m.name).
		SetMap(map[string]interface{}(changes)).
		Where(sq.Eq{"id": id}).
		Suffix("RETURNING *").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build update on %s: %w", m.name, err)
	}

	return m.returning(ctx, query, args)
}

func (m *model) Delete(ctx context.Context, id string) error {
	query, args, err := m.builder.Delete(m.name).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("failed to build delete on %s: %w", m.name, err)
	}

	res, err := m.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to delete from %s: %w", m.name, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (m *model) returning(ctx context.Context, query string, args []interface{}) (storage.Record, error) {
	row := make(map[string]interface{})
	if err := m.db.QueryRowxContext(ctx, query, args...).MapScan(row); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to write %s: %w", m.name, err)
	}
	return normalize(row), nil
}

// normalize converts driver byte slices to strings so records encode as JSON text.
func normalize(row map[string]interface{}) storage.Record {
	for k, v := range row {
		if b, ok := v.([]byte); ok {
			row[k] = string(b)
		}
	}
	return storage.Record(row)
}

func checkColumns(f storage.Filter) error {
	for col := range f {
		if !validIdent(col) {
			return apperr.Errorf(apperr.KindInternal, "relational", "invalid column %q", col)
		}
	}
	return nil
}

func validIdent(s string) bool {
	if s == "" || len(s) > 63 {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

func validOrder(s string) bool {
	parts := strings.Fields(s)
	switch len(parts) {
	case 1:
		return validIdent(parts[0])
	case 2:
		dir := strings.ToUpper(parts[1])
		return validIdent(parts[0]) && (dir == "ASC" || dir == "DESC")
	default:
		return false
	}
}
