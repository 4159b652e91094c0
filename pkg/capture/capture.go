// Package capture accepts pages captured by the browser extension and turns
// them into stored captures, either through an asynq queue (QueueService and
// Worker) or in-process (MemoryService).
package capture

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/platinummonkey/ideahub/pkg/auth"
)

const (
	// TaskTypeCapturePage is the asynq task type for a captured page
	TaskTypeCapturePage = "capture:page"
	// QueueName is the asynq queue captures are enqueued on
	QueueName = "captures"

	maxURLLength   = 2048
	maxTitleLength = 500
	maxTags        = 50
)

// ErrTaskNotFound is returned for unknown tasks and for tasks owned by another workspace
var ErrTaskNotFound = errors.New("task not found")

// Request is a page to capture into a workspace
type Request struct {
	WorkspaceID string   `json:"workspace_id"`
	UserID      string   `json:"user_id"`
	APIKeyID    string   `json:"api_key_id,omitempty"`
	URL         string   `json:"url"`
	Title       string   `json:"title,omitempty"`
	Content     string   `json:"content,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// State is the externally visible lifecycle of a capture task
type State string

const (
	StateQueued     State = "queued"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// Task is the status view of a capture
type Task struct {
	ID          string          `json:"id"`
	WorkspaceID string          `json:"-"`
	UserID      string          `json:"-"`
	URL         string          `json:"url,omitempty"`
	Title       string          `json:"title,omitempty"`
	State       State           `json:"status"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// Service queues captures and reports on them
type Service interface {
	// Capture validates and queues req, returning the task id
	Capture(ctx context.Context, req Request) (string, error)
	// Task returns a task only if it belongs to workspaceID
	Task(ctx context.Context, workspaceID, taskID string) (*Task, error)
}

// Validate checks the caller-supplied fields of a request
func Validate(req Request) error {
	raw := strings.TrimSpace(req.URL)
	if raw == "" {
		return auth.NewValidationError("url_required", "url is required", nil)
	}
	if len(raw) > maxURLLength {
		return auth.NewValidationError("invalid_url", "url is too long", nil)
	}
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return auth.NewValidationError("invalid_url", "url must be an absolute http or https URL",
			map[string]string{"url": raw})
	}
	if utf8.RuneCountInString(req.Title) > maxTitleLength {
		return auth.NewValidationError("title_too_long", "title is too long", nil)
	}
	if len(req.Tags) > maxTags {
		return auth.NewValidationError("too_many_tags", "too many tags", nil)
	}
	return nil
}

// payload is the JSON body of a capture:page task
type payload struct {
	TaskID      string    `json:"task_id"`
	WorkspaceID string    `json:"workspace_id"`
	UserID      string    `json:"user_id"`
	APIKeyID    string    `json:"api_key_id,omitempty"`
	URL         string    `json:"url"`
	Title       string    `json:"title,omitempty"`
	Content     string    `json:"content,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

func newPayload(taskID string, req Request, now time.Time) payload {
	return payload{
		TaskID:      taskID,
		WorkspaceID: req.WorkspaceID,
		UserID:      req.UserID,
		APIKeyID:    req.APIKeyID,
		URL:         strings.TrimSpace(req.URL),
		Title:       strings.TrimSpace(req.Title),
		Content:     req.Content,
		Tags:        normalizeTags(req.Tags),
		RequestedAt: now,
	}
}

func normalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// result is written as the task result once the capture is stored
type result struct {
	CaptureID string `json:"capture_id"`
}
