// Package document implements storage.Conn on an S3 bucket.
//
// Records are JSON objects stored at <prefix>/<model>/<id>.json. Lookups by
// id are a single GetObject; queries list the model prefix and filter client
// side. The store has no transactions, so Conn.Transaction reports
// apperr.ErrNotImplemented.
package document
