package audit

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Export renders events in the requested format
func Export(events []*AuditEvent, format ExportFormat) ([]byte, error) {
	switch format {
	case ExportFormatJSON:
		return json.MarshalIndent(events, "", "  ")
	case ExportFormatNDJSON, "":
		return exportNDJSON(events)
	case ExportFormatCSV:
		return exportCSV(events)
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
}

// exportNDJSON exports audit events as newline-delimited JSON
func exportNDJSON(events []*AuditEvent) ([]byte, error) {
	var buf bytes.Buffer
	for _, event := range events {
		line, err := event.ToJSON()
		if err != nil {
			return nil, fmt.Errorf("failed to encode event: %w", err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// exportCSV exports audit events as CSV
func exportCSV(events []*AuditEvent) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	header := []string{
		"ID", "Timestamp", "EventType", "Status",
		"UserID", "WorkspaceID", "APIKeyID",
		"ResourceType", "ResourceID",
		"IPAddress", "RequestID", "Method", "Path", "StatusCode",
		"Message", "ErrorMessage",
	}
	if err := writer.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, event := range events {
		row := []string{
			strconv.FormatInt(event.ID, 10),
			event.Timestamp.Format(time.RFC3339),
			string(event.EventType),
			string(event.Status),
			event.UserID,
			event.WorkspaceID,
			event.APIKeyID,
			string(event.ResourceType),
			event.ResourceID,
			event.IPAddress,
			event.RequestID,
			event.Method,
			event.Path,
			strconv.Itoa(event.StatusCode),
			event.Message,
			event.ErrorMessage,
		}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}
	return buf.Bytes(), nil
}
