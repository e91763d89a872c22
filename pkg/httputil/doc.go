// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Response Helpers
//
// Every error leaves the server as the same envelope:
//
//	{"success": false, "error": "Detection service failed.", "detail": "model not loaded"}
//
//	httputil.WriteFailure(w, http.StatusBadGateway, "Detection service failed.", detail)
//	httputil.WriteBadRequest(w, "No image file provided.")
//	httputil.WriteUnauthorized(w, "Token expired")
//	httputil.WriteSuccess(w, payload)
//
// # Request Parsing
//
//	var req LoginRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // Error response already written
//	}
//
//	limit, err := httputil.ParseQueryInt(r, "limit", 50)
//
// # Middleware
//
//	handler := httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(logger),
//		httputil.RecoveryMiddleware(logger),
//		httputil.CORSMiddleware(origins),
//		httputil.MaxBytesMiddleware(50<<20),
//	)(router)
//
// # Related Packages
//
//   - pkg/middleware: authentication and rate limiting
//   - pkg/contextkeys: request id and logger context keys
package httputil
