// Package contextkeys provides centralized context key definitions
//
// All context keys used across tenantgate are defined here so that packages
// which only need to read a value do not import the package that sets it.
//
// USAGE PATTERN:
//
//	import "github.com/platinummonkey/tenantgate/pkg/contextkeys"
//	ctx = contextkeys.WithTenantID(ctx, 42)
//	tenantID, ok := contextkeys.GetTenantID(ctx)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// PrincipalKey contains *auth.Principal
	// Set by: middleware.Pipeline after credential validation
	// Type: *auth.Principal
	PrincipalKey Key = "principal"

	// SessionKey contains *session.Record
	// Set by: middleware.Pipeline for session-class routes
	// Type: *session.Record
	SessionKey Key = "session"

	// TenantConnKey contains *tenancy.Connection
	// Set by: middleware.Pipeline once tenant and route access are confirmed
	// Type: *tenancy.Connection
	TenantConnKey Key = "tenant_connection"

	// TenantIDKey contains the resolved tenant id
	// Type: int64
	TenantIDKey Key = "tenant_id"

	// RequestIDKey contains request ID string (UUID)
	// Set by: httputil.RequestIDMiddleware
	// Type: string
	RequestIDKey Key = "request_id"

	// UserUIDKey contains the identity provider UID of the caller
	// Type: string
	UserUIDKey Key = "user_uid"

	// LoggerKey contains *observability.Logger
	// Type: *observability.Logger
	LoggerKey Key = "logger"
)

// WithPrincipal adds the authenticated principal to the context
func WithPrincipal(ctx context.Context, principal interface{}) context.Context {
	return context.WithValue(ctx, PrincipalKey, principal)
}

// WithSession adds the session record to the context
func WithSession(ctx context.Context, record interface{}) context.Context {
	return context.WithValue(ctx, SessionKey, record)
}

// WithTenantConn adds the live tenant connection to the context
func WithTenantConn(ctx context.Context, conn interface{}) context.Context {
	return context.WithValue(ctx, TenantConnKey, conn)
}

// WithTenantID adds the tenant id to the context
func WithTenantID(ctx context.Context, tenantID int64) context.Context {
	return context.WithValue(ctx, TenantIDKey, tenantID)
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithUserUID adds the caller's UID to the context
func WithUserUID(ctx context.Context, uid string) context.Context {
	return context.WithValue(ctx, UserUIDKey, uid)
}

// WithLogger adds logger to the context
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// GetUserUID retrieves the caller's UID from context
func GetUserUID(ctx context.Context) string {
	if uid, ok := ctx.Value(UserUIDKey).(string); ok {
		return uid
	}
	return ""
}

// GetTenantID retrieves the tenant id from context
func GetTenantID(ctx context.Context) (int64, bool) {
	tenantID, ok := ctx.Value(TenantIDKey).(int64)
	return tenantID, ok
}
