// Package httputil provides HTTP utilities for standardized request/response handling.
//
// Every error body has the shape {"detail": message}. Server errors always
// carry the same generic detail; the cause goes to the request-scoped logger.
//
//	var req loginRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // Error response already written
//	}
//	httputil.WriteUnauthorized(w, "Invalid credentials")
//
// The middleware set assigns request ids (UUID), logs one structured line per
// request, recovers panics, sets security headers and caps body size:
//
//	handler := httputil.Chain(
//		httputil.RequestIDMiddleware(logger),
//		httputil.LoggingMiddleware,
//		httputil.RecoveryMiddleware,
//		httputil.SecurityHeadersMiddleware,
//		httputil.MaxBytesMiddleware(1<<20),
//	)(router)
package httputil
