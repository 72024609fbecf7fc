// Package access implements the tenant access cache and the route access cache.
//
// AccessCache keeps the (user, tenant, level) facts of the manager tenant in
// memory and answers with a three-valued Decision:
//
//	switch cache.Check(uid, tenantID) {
//	case access.Allowed:
//	case access.Denied:
//	case access.Unknown: // never loaded, or dropped by a cascade; call Ensure
//	}
//
// RouteCache consults the tenant's own users and role_routes tables through
// its connection and caches the verdict until the connection leaves the
// registry. Both caches implement tenancy.EvictionListener.
package access
