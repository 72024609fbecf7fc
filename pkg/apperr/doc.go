// Package apperr defines the error taxonomy shared by every layer of tenantgate.
//
// Each failure carries a Kind (unauthenticated, forbidden, invalid tenant,
// tenant not found, unavailable, internal). The HTTP surface maps kinds to
// status codes and stable response codes:
//
//	unauthenticated   401  UNAUTHENTICATED
//	invalid_tenant    400  INVALID_TENANT
//	forbidden         403  FORBIDDEN
//	tenant_not_found  404  TENANT_NOT_FOUND
//	unavailable       503  SERVICE_UNAVAILABLE
//	internal          500  INTERNAL
//
// Wrap errors at layer boundaries:
//
//	if err := db.PingContext(ctx); err != nil {
//		return apperr.Wrap(err, apperr.KindUnavailable, "relational.Open", "ping failed")
//	}
//
// Callers inspect with KindOf or Is. ErrNotImplemented is an internal error
// so a missing backend capability is never reported as a deny.
package apperr
