// Package session stores authenticated sessions behind an opaque id.
//
// A session expires with its refresh token when that expiry is known, else
// with its access token. A session with neither is rejected unless the
// caller asks for the store's default TTL.
//
// Sessions are kept in redis when TENANTGATE_REDIS_URL is set and reachable,
// otherwise in process. The choice is made once by NewStore; later redis
// failures surface as apperr.KindUnavailable instead of switching backends.
//
//	store, err := session.NewStore(ctx, session.Options{RedisURL: cfg.Session.RedisURL})
//	rec, err := store.Create(ctx, principal, &session.Tokens{
//		AccessToken:     tok,
//		AccessExpiresIn: time.Hour,
//	})
//
// Records are persisted as JSON under "session:<id>" with a TTL rounded up
// to whole seconds.
package session
