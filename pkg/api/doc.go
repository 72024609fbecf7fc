// Package api provides the HTTP surface of tenantgate.
//
// # Overview
//
// Server is a gorilla/mux router behind request id, logging, recovery,
// CORS and OpenTelemetry middleware. Every guarded route runs through the
// resolution pipeline in pkg/middleware before its handler sees the request.
//
//	server, err := api.NewServer(api.ServerOptions{
//		Pipeline: pipeline,
//		Sessions: sessions,
//		Cookies:  cookies,
//		Grants:   grants,
//	})
//	http.ListenAndServe(":8080", server)
//
// # Route Classes
//
// Each guarded route is mounted twice on the same path template. Requests
// carrying "Authorization: Bearer ..." take the bearer class; all others the
// session class, reading X-Session-Id or the session cookie. Because the
// template is shared, the same role_routes rows govern both.
//
// # Endpoints
//
//	POST   /auth/session                    sign in with a bearer token, returns a session
//	DELETE /auth/session                    sign out
//	POST   /auth/refresh                    refresh the session's tokens
//	GET    /auth/me                         the authenticated caller
//	POST   /api/tenants/{tenant_id}/access  grant access (admins)
//	DELETE /api/tenants/{tenant_id}/access  revoke access (self, or anyone for admins)
//	GET    /api/data/{model}                list records of the X-Tenant-ID tenant
//	POST   /api/data/{model}                create a record
//	GET    /api/data/{model}/{id}           read a record
//	PUT    /api/data/{model}/{id}           update a record (PATCH too)
//	DELETE /api/data/{model}/{id}           delete a record
//
// Errors render as {"code": ..., "message": ...} with the message localized
// from Accept-Language.
package api
