// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Response Helpers
//
//	httputil.WriteJSON(w, http.StatusOK, data)
//	httputil.WriteAccepted(w, map[string]string{"id": taskID, "status": "queued"})
//	httputil.WriteDetailedError(w, http.StatusForbidden, msg, "missing_scope", details)
//
// # Request Parsing
//
//	var req captureRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // Error response already written
//	}
//
// # Middleware
//
//	httputil.Chain(
//		httputil.RequestIDMiddleware(logger),
//		httputil.LoggingMiddleware,
//		httputil.RecoveryMiddleware,
//		httputil.MaxBytesMiddleware(1<<20),
//	)
//
// RequestIDMiddleware must run first: it puts the request id and the logger on
// the context that the others log through.
package httputil
