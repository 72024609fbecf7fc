// Package config provides application configuration management from environment variables.
//
// # Overview
//
// This package loads and validates configuration from TENANTGATE_* environment
// variables with sensible defaults for all settings.
//
// # Configuration Structure
//
// Server settings:
//
//	TENANTGATE_HOST="0.0.0.0"
//	TENANTGATE_PORT="8080"
//	TENANTGATE_HEALTH_PORT="9090"
//	TENANTGATE_ALLOWED_ORIGINS="https://app.example.com"
//
// Manager tenant (pinned, holds users, grants and tenant credentials):
//
//	TENANTGATE_MANAGER_TENANT_ID="0"
//	TENANTGATE_MANAGER_DRIVER="postgres"   # postgres, sqlite3
//	TENANTGATE_MANAGER_DSN="postgres://localhost/tenantgate?sslmode=disable"
//	TENANTGATE_MANAGER_MIGRATE="true"
//
// Tenant registry:
//
//	TENANTGATE_TENANT_CACHE_SIZE="50"
//	TENANTGATE_TENANT_CONNECT_TIMEOUT="10s"
//	TENANTGATE_ROUTE_CACHE_SIZE="1024"
//
// Sessions (an empty or "disabled" redis URL selects the in-process backend):
//
//	TENANTGATE_REDIS_URL="redis://localhost:6379/0"
//	TENANTGATE_SESSION_REFRESH_THRESHOLD="5m"
//	TENANTGATE_SESSION_ACCESS_TTL="1h"
//	TENANTGATE_SESSION_COOKIE_NAME="session_id"
//	TENANTGATE_SESSION_COOKIE_SAMESITE="lax"
//
// Bearer validation (lists are comma separated and trimmed):
//
//	TENANTGATE_AUTH_ISSUERS="https://login.example.com/,https://sts.example.net/"
//	TENANTGATE_AUTH_AUDIENCES="api://tenantgate"   # defaults to the client id
//	TENANTGATE_AUTH_CLIENT_ID="tenantgate"
//	TENANTGATE_AUTH_JWKS_URL="https://login.example.com/.well-known/jwks.json"
//	TENANTGATE_AUTH_PROVIDER="azuread"
//
// Observability:
//
//	TENANTGATE_LOG_LEVEL="info"
//	TENANTGATE_METRICS_ENABLED="true"
//	TENANTGATE_OTEL_ENABLED="false"
//	TENANTGATE_OTEL_ENDPOINT="localhost:4317"
//	TENANTGATE_AUDIT_ENABLED="true"
//	TENANTGATE_AUDIT_LOG_DIR=""            # adds a rotated JSON-lines audit file
//	TENANTGATE_AUDIT_MAX_SIZE_MB="100"
//	TENANTGATE_AUDIT_MAX_FILES="10"
//
// # Usage
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
package config
