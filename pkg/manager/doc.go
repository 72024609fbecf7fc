// Package manager owns the manager tenant: the pinned database holding
// users, access grants and the store credentials of every other tenant.
//
// Store is the sqlx/squirrel repository over those tables. It implements
// access.Loader for the access cache and tenancy.CredentialSource for the
// tenant connector; an unknown credential id is apperr.KindTenantNotFound.
//
// Provisioner runs on every authenticated request. Users are created on
// first sight (the very first becomes admin) and recently seen users are
// served from an expiring LRU. When a profile is new or changed, the user's
// row is upserted into each tenant they can reach, in the background.
//
// Grants applies invite acceptance and revocation to both the database and
// the access cache.
//
// Schema migrations for postgres and sqlite3 are embedded and applied with
// golang-migrate:
//
//	if err := manager.Migrate(cfg.Manager.Driver, cfg.Manager.DSN); err != nil {
//		return err
//	}
package manager
