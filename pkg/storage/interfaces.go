package storage

import (
	"context"
	"errors"
	"fmt"
)

// Kind discriminates the backing-store family of a tenant.
type Kind string

const (
	KindRelational Kind = "relational"
	KindDocument   Kind = "document"
)

// ErrNotFound is returned by Model lookups that match nothing.
var ErrNotFound = errors.New("record not found")

// Record is one row or document, keyed by field name.
type Record map[string]interface{}

// ID returns the record's "id" field rendered as a string.
func (r Record) ID() string {
	v, ok := r["id"]
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

// Filter is a conjunction of field equality tests.
type Filter map[string]interface{}

// Query selects records from a model.
type Query struct {
	Where   Filter
	OrderBy []string
	Limit   uint64
	Offset  uint64
}

// Model is the data-access capability bound to one named collection of a
// tenant store. Relational and document stores both implement it.
type Model interface {
	Name() string
	Find(ctx context.Context, id string) (Record, error)
	FindOne(ctx context.Context, q Query) (Record, error)
	FindMany(ctx context.Context, q Query) ([]Record, error)
	Create(ctx context.Context, rec Record) (Record, error)
	Update(ctx context.Context, id string, changes Record) (Record, error)
	Delete(ctx context.Context, id string) error
}

// Tx exposes models bound to an open transaction.
type Tx interface {
	Model(name string) (Model, error)
}

// Conn is an open handle to one tenant store.
type Conn interface {
	Kind() Kind
	// Model returns the data-access model for a named collection.
	Model(name string) (Model, error)
	// Transaction runs fn inside a transaction, committing when fn returns nil.
	// Stores without transactions return apperr.ErrNotImplemented.
	Transaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Ping(ctx context.Context) error
	Close() error
}

// Descriptor is the credential record the connection factory opens a tenant
// store from. Relational fields and document fields are used by their
// respective families.
type Descriptor struct {
	ID     int64  `db:"id" json:"id"`
	Name   string `db:"name" json:"name"`
	Kind   Kind   `db:"kind" json:"kind"`
	Driver string `db:"driver" json:"driver"`

	Host        string `db:"host" json:"host,omitempty"`
	Port        int    `db:"port" json:"port,omitempty"`
	User        string `db:"username" json:"username,omitempty"`
	Password    string `db:"password" json:"-"`
	Database    string `db:"database_name" json:"database,omitempty"`
	SSLMode     string `db:"ssl_mode" json:"ssl_mode,omitempty"`
	SSLRootCert string `db:"ssl_root_cert" json:"ssl_root_cert,omitempty"`
	SSLCert     string `db:"ssl_cert" json:"ssl_cert,omitempty"`
	SSLKey      string `db:"ssl_key" json:"-"`
	// DSN overrides the assembled relational connection string when set.
	DSN string `db:"dsn" json:"-"`

	Bucket    string `db:"bucket" json:"bucket,omitempty"`
	Region    string `db:"region" json:"region,omitempty"`
	Endpoint  string `db:"endpoint" json:"endpoint,omitempty"`
	Prefix    string `db:"key_prefix" json:"prefix,omitempty"`
	AccessKey string `db:"access_key" json:"-"`
	SecretKey string `db:"secret_key" json:"-"`
}

// Validate checks the fields required by the descriptor's kind.
func (d Descriptor) Validate() error {
	switch d.Kind {
	case KindRelational:
		if d.Driver == "" {
			return fmt.Errorf("relational descriptor %d: driver is required", d.ID)
		}
		if d.DSN == "" && d.Database == "" {
			return fmt.Errorf("relational descriptor %d: database or dsn is required", d.ID)
		}
	case KindDocument:
		if d.Bucket == "" {
			return fmt.Errorf("document descriptor %d: bucket is required", d.ID)
		}
	case "":
		return fmt.Errorf("descriptor %d: kind is required", d.ID)
	}
	return nil
}
