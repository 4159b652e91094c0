package audit

import (
	"context"

	"github.com/platinummonkey/ideahub/pkg/observability"
)

// StructuredLogger writes audit events as structured JSON log lines
type StructuredLogger struct {
	logger *observability.Logger
}

// NewStructuredLogger creates an audit logger on top of the service logger
func NewStructuredLogger(logger *observability.Logger) *StructuredLogger {
	return &StructuredLogger{logger: logger.WithField("audit", true)}
}

func (l *StructuredLogger) Log(_ context.Context, event *AuditEvent) error {
	fields := map[string]interface{}{
		"event_type": string(event.EventType),
		"status":     string(event.Status),
	}
	for k, v := range map[string]string{
		"user_id":       event.UserID,
		"workspace_id":  event.WorkspaceID,
		"api_key_id":    event.APIKeyID,
		"resource_type": string(event.ResourceType),
		"resource_id":   event.ResourceID,
		"request_id":    event.RequestID,
		"ip_address":    event.IPAddress,
		"method":        event.Method,
		"path":          event.Path,
		"error":         event.ErrorMessage,
	} {
		if v != "" {
			fields[k] = v
		}
	}
	if event.StatusCode != 0 {
		fields["status_code"] = event.StatusCode
	}
	for k, v := range event.Metadata {
		fields["meta_"+k] = v
	}

	message := event.Message
	if message == "" {
		message = string(event.EventType)
	}

	entry := l.logger.WithFields(fields)
	if event.Status == EventStatusSuccess {
		entry.Info(message)
	} else {
		entry.Warn(message)
	}
	return nil
}

func (l *StructuredLogger) Close() error {
	return nil
}
