// Package audit records security-relevant events: API key issuance and
// revocation, failed key and session validation, denied workspace access,
// and captures written through an API key.
//
// # Loggers
//
//   - StructuredLogger writes events through the service JSON logger
//   - DBLogger inserts into the audit_events table and supports Search and Cleanup
//   - MultiLogger fans out to several loggers, optionally asynchronously
//
// # Usage Example
//
//	logger := audit.NewMultiLogger(audit.NewStructuredLogger(log), dbLogger)
//	_ = logger.Log(ctx, audit.AuthorizationEvent(ctx,
//		audit.Actor{UserID: userID, WorkspaceID: wsID},
//		audit.ResourceTypePermission, "apikeys:manage",
//		audit.EventStatusDenied, "missing permission"))
//
// The HTTP Middleware puts the logger into the request context so handlers
// can call audit.Record.
package audit
