package audit

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/platinummonkey/ideahub/pkg/contextkeys"
)

// Logger is the interface for audit logging
type Logger interface {
	// Log records an audit event
	Log(ctx context.Context, event *AuditEvent) error

	// Close flushes any buffered events
	Close() error
}

// WithLogger adds an audit logger to the context
func WithLogger(ctx context.Context, logger Logger) context.Context {
	return contextkeys.WithAuditLogger(ctx, logger)
}

// FromContext retrieves the audit logger from context
func FromContext(ctx context.Context) Logger {
	if logger, ok := ctx.Value(contextkeys.AuditLoggerKey).(Logger); ok {
		return logger
	}
	return NewNoOpLogger()
}

// WithRequestStartTime adds the request start time to the context
func WithRequestStartTime(ctx context.Context, t time.Time) context.Context {
	return contextkeys.WithRequestStartTime(ctx, t)
}

// GetRequestStartTime retrieves the request start time from context
func GetRequestStartTime(ctx context.Context) time.Time {
	if t, ok := ctx.Value(contextkeys.RequestStartTimeKey).(time.Time); ok {
		return t
	}
	return time.Now()
}

// NewNoOpLogger returns a logger that discards every event
func NewNoOpLogger() Logger {
	return noOpLogger{}
}

type noOpLogger struct{}

func (noOpLogger) Log(context.Context, *AuditEvent) error { return nil }
func (noOpLogger) Close() error                           { return nil }

// getClientIP extracts the client IP from the request
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// buildBaseEvent creates an event with request context populated
func buildBaseEvent(ctx context.Context, r *http.Request, eventType EventType, status EventStatus) *AuditEvent {
	event := &AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Status:    status,
		RequestID: contextkeys.GetRequestID(ctx),
		UserID:    contextkeys.GetUserID(ctx),
		Metadata:  make(map[string]interface{}),
	}
	if r != nil {
		event.IPAddress = getClientIP(r)
		event.UserAgent = r.UserAgent()
		event.Method = r.Method
		event.Path = r.URL.Path
	}
	return event
}

func (e *AuditEvent) withActor(actor Actor) *AuditEvent {
	if actor.UserID != "" {
		e.UserID = actor.UserID
	}
	e.WorkspaceID = actor.WorkspaceID
	e.APIKeyID = actor.APIKeyID
	return e
}

// AuthenticationEvent builds an authentication event
func AuthenticationEvent(ctx context.Context, eventType EventType, actor Actor, status EventStatus, message string) *AuditEvent {
	event := buildBaseEvent(ctx, nil, eventType, status).withActor(actor)
	event.ResourceType = ResourceTypeAPIKey
	event.ResourceID = actor.APIKeyID
	event.Message = message
	return event
}

// AuthorizationEvent builds an authorization decision event
func AuthorizationEvent(ctx context.Context, actor Actor, resourceType ResourceType, resourceID string, status EventStatus, message string) *AuditEvent {
	event := buildBaseEvent(ctx, nil, EventTypeAccessDenied, status).withActor(actor)
	event.ResourceType = resourceType
	event.ResourceID = resourceID
	event.Message = message
	return event
}

// DataMutationEvent builds a successful mutation event
func DataMutationEvent(ctx context.Context, eventType EventType, actor Actor, resourceType ResourceType, resourceID, message string) *AuditEvent {
	event := buildBaseEvent(ctx, nil, eventType, EventStatusSuccess).withActor(actor)
	event.ResourceType = resourceType
	event.ResourceID = resourceID
	event.Message = message
	return event
}

// HTTPRequestEvent builds an event describing a completed HTTP request. The
// duration is measured from the start time the middleware put in ctx.
func HTTPRequestEvent(ctx context.Context, r *http.Request, statusCode int) *AuditEvent {
	status := EventStatusSuccess
	switch {
	case statusCode == http.StatusForbidden:
		status = EventStatusDenied
	case statusCode >= 400:
		status = EventStatusFailure
	}

	event := buildBaseEvent(ctx, r, EventTypeHTTPRequest, status)
	event.StatusCode = statusCode
	event.Metadata["duration_ms"] = time.Since(GetRequestStartTime(ctx)).Milliseconds()
	return event
}

// Record logs event with the context's audit logger and swallows the error;
// audit failures never fail a request.
func Record(ctx context.Context, event *AuditEvent) {
	_ = FromContext(ctx).Log(ctx, event)
}
