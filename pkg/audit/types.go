package audit

import (
	"encoding/json"
	"time"
)

// EventType represents the category of audit event
type EventType string

const (
	// Authentication events
	EventTypeAPIKeyCreate       EventType = "auth.api_key_create"
	EventTypeAPIKeyRevoke       EventType = "auth.api_key_revoke"
	EventTypeAPIKeyValidateFail EventType = "auth.api_key_validate_fail"
	EventTypeSessionFail        EventType = "auth.session_fail"

	// Authorization events
	EventTypeAccessDenied EventType = "authz.access_denied"

	// Data mutation events
	EventTypeCaptureCreate EventType = "data.capture_create"

	// Request events written by the middleware
	EventTypeHTTPRequest EventType = "http.request"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// ResourceType represents the type of resource being accessed
type ResourceType string

const (
	ResourceTypeWorkspace  ResourceType = "workspace"
	ResourceTypeAPIKey     ResourceType = "api_key"
	ResourceTypeCapture    ResourceType = "capture"
	ResourceTypePermission ResourceType = "permission"
	ResourceTypeUser       ResourceType = "user"
)

// Actor identifies who performed an audited action. Any field may be empty.
type Actor struct {
	UserID      string
	WorkspaceID string
	APIKeyID    string
}

// AuditEvent represents a single audit log entry
type AuditEvent struct {
	ID        int64       `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	// Actor information
	UserID      string `json:"user_id,omitempty"`
	WorkspaceID string `json:"workspace_id,omitempty"`
	APIKeyID    string `json:"api_key_id,omitempty"`

	// Resource information
	ResourceType ResourceType `json:"resource_type,omitempty"`
	ResourceID   string       `json:"resource_id,omitempty"`

	// Request context
	IPAddress  string `json:"ip_address,omitempty"`
	UserAgent  string `json:"user_agent,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
	Method     string `json:"method,omitempty"`
	Path       string `json:"path,omitempty"`
	StatusCode int    `json:"status_code,omitempty"`

	Message      string                 `json:"message,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// ToJSON converts the audit event to JSON
func (e *AuditEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// SearchFilter represents filters for searching audit logs
type SearchFilter struct {
	StartTime *time.Time
	EndTime   *time.Time

	UserID      string
	WorkspaceID string

	EventTypes []EventType
	Status     *EventStatus

	Limit  int
	Offset int
}

// ExportFormat represents the format for exporting audit logs
type ExportFormat string

const (
	ExportFormatJSON   ExportFormat = "json"
	ExportFormatCSV    ExportFormat = "csv"
	ExportFormatNDJSON ExportFormat = "ndjson" // Newline-delimited JSON
)
