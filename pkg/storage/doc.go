// Package storage defines the tenant store abstraction and the connection factory.
//
// # Overview
//
// Every tenant is backed by one store family, selected by Descriptor.Kind:
//
//   - KindRelational: SQL databases (postgres, sqlite3), see pkg/storage/relational
//   - KindDocument: JSON documents in an S3 bucket, see pkg/storage/document
//
// Both families expose the same capability interface. A Conn hands out Models
// by collection name, and a Model supports Find, FindOne, FindMany, Create,
// Update and Delete. Conn.Transaction runs a function against models bound to
// one transaction; stores that cannot do that return apperr.ErrNotImplemented.
//
// # Factory
//
//	factory := storage.NewFactory()
//	factory.Register(storage.KindRelational, relational.Opener(relational.PoolConfig{}))
//	factory.Register(storage.KindDocument, document.Opener(5*time.Second))
//
//	conn, err := factory.Open(ctx, descriptor)
//
// Unsupported kinds fail with apperr.ErrNotImplemented rather than a silent no-op.
// Opener failures that are not already classified surface as unavailable.
package storage
