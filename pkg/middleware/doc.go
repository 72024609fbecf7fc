// Package middleware provides the request resolution pipeline and rate limiting.
//
// # Overview
//
// Every API request runs through Pipeline, which ends either ALLOWED, with
// the principal, session and tenant connection attached to the request
// context, or with exactly one rejection rendered by httputil.WriteError.
//
// # Steps
//
//  1. extract the credential: a session id (ClassSession) or a bearer token (ClassBearer)
//  2. validate it; sessions near expiry are refreshed and the cookie re-issued
//  3. resolve the principal
//  4. provision the user in the manager tenant
//  5. parse X-Tenant-ID and check the access cache
//  6. resolve the tenant connection through the registry
//  7. check the route against the tenant's role_routes
//
// Steps 1 to 4 alone back identity routes such as /auth/me:
//
//	router.Handle("/auth/me", pipeline.Authenticated(middleware.ClassSession)(me))
//	router.Handle("/api/data/{model}", pipeline.TenantScoped(middleware.ClassSession)(records))
//
// Rejections map to UNAUTHENTICATED, INVALID_TENANT, FORBIDDEN,
// TENANT_NOT_FOUND, SERVICE_UNAVAILABLE or INTERNAL. Each outcome is counted
// in tenantgate_pipeline_outcomes_total and each step runs in its own span.
//
// # Rate Limiting
//
// RateLimiter keeps a token bucket per key in a bounded LRU;
// DistributedRateLimiter shares fixed windows through Redis. Mounted behind
// the pipeline the key is the principal, otherwise the client address:
//
//	limit := middleware.NewRateLimitMiddleware(middleware.NewRateLimiter(cfg), logger, metrics)
//	router.Handle("/api/data/{model}", pipeline.TenantScoped(class)(limit.Handler(records)))
//
// Limiter errors fail open.
package middleware
