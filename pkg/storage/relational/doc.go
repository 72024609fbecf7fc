// Package relational implements storage.Conn for SQL tenant databases.
//
// PostgreSQL (lib/pq) and SQLite (mattn/go-sqlite3) are supported. Queries are
// built with squirrel using the placeholder format of the driver and rows are
// scanned into storage.Record maps with sqlx. Writes use INSERT/UPDATE ...
// RETURNING * so callers always get the stored row back.
//
// Collection and column names are restricted to plain identifiers.
package relational
