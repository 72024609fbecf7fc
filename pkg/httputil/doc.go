// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Overview
//
// This package offers helper functions for JSON encoding/decoding, error responses,
// parameter parsing, and the middleware shared by every tenantgate listener.
//
// # Response Helpers
//
// JSON responses:
//
//	httputil.WriteJSON(w, http.StatusOK, data)
//	httputil.WriteCreated(w, resource)
//	httputil.WriteNoContent(w)
//
// Error responses are driven by apperr kinds. The body is always
// {"code": ..., "message": ...}; the message is chosen from the
// Accept-Language header (English, Spanish, French or German) and the cause
// is only logged:
//
//	httputil.WriteError(w, r, err)
//
// # Request Parsing
//
// Parse failures are apperr.KindBadRequest:
//
//	var req GrantRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // Error response already written
//	}
//
//	tenantID, err := httputil.ParsePathInt64(r, "tenant_id")
//	limit, err := httputil.ParseQueryUint(r, "limit", 100)
//
// # Middleware
//
//	handler := httputil.Chain(
//		httputil.LoggerMiddleware(logger),
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware,
//		httputil.RecoveryMiddleware,
//		httputil.CORSMiddleware(cfg.AllowedOrigins),
//		httputil.MaxBytesMiddleware(1 << 20),
//	)(router)
package httputil
