package capture

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/platinummonkey/ideahub/pkg/observability"
)

const (
	defaultMaxRetry  = 3
	defaultTimeout   = 2 * time.Minute
	defaultRetention = 24 * time.Hour
)

// Enqueuer is satisfied by *asynq.Client
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// TaskInspector is satisfied by *asynq.Inspector
type TaskInspector interface {
	GetTaskInfo(queue, id string) (*asynq.TaskInfo, error)
}

// QueueService enqueues captures on asynq and reads their state back from it
type QueueService struct {
	client    Enqueuer
	inspector TaskInspector
	metrics   *observability.Metrics
	retention time.Duration
	now       func() time.Time
}

// NewQueueService creates a queue-backed capture service
func NewQueueService(client Enqueuer, inspector TaskInspector, metrics *observability.Metrics) *QueueService {
	return &QueueService{
		client:    client,
		inspector: inspector,
		metrics:   metrics,
		retention: defaultRetention,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Capture implements Service
func (s *QueueService) Capture(ctx context.Context, req Request) (string, error) {
	if err := Validate(req); err != nil {
		return "", err
	}

	taskID := uuid.NewString()
	body, err := json.Marshal(newPayload(taskID, req, s.now()))
	if err != nil {
		return "", fmt.Errorf("failed to encode capture: %w", err)
	}

	task := asynq.NewTask(TaskTypeCapturePage, body)
	_, err = s.client.EnqueueContext(ctx, task,
		asynq.TaskID(taskID),
		asynq.Queue(QueueName),
		asynq.MaxRetry(defaultMaxRetry),
		asynq.Timeout(defaultTimeout),
		asynq.Retention(s.retention),
	)
	if err != nil {
		s.metrics.RecordCaptureEnqueued("failure")
		return "", fmt.Errorf("failed to enqueue capture: %w", err)
	}
	s.metrics.RecordCaptureEnqueued("success")
	return taskID, nil
}

// Task implements Service
func (s *QueueService) Task(_ context.Context, workspaceID, taskID string) (*Task, error) {
	info, err := s.inspector.GetTaskInfo(QueueName, taskID)
	if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to inspect task: %w", err)
	}

	var p payload
	if err := json.Unmarshal(info.Payload, &p); err != nil {
		return nil, fmt.Errorf("malformed capture payload: %w", err)
	}
	if p.WorkspaceID != workspaceID {
		return nil, ErrTaskNotFound
	}

	task := &Task{
		ID:          info.ID,
		WorkspaceID: p.WorkspaceID,
		UserID:      p.UserID,
		URL:         p.URL,
		Title:       p.Title,
		State:       stateOf(info.State),
		CreatedAt:   p.RequestedAt,
	}
	switch task.State {
	case StateCompleted:
		if len(info.Result) > 0 {
			task.Result = json.RawMessage(info.Result)
		}
		if !info.CompletedAt.IsZero() {
			completed := info.CompletedAt.UTC()
			task.CompletedAt = &completed
		}
	case StateFailed:
		task.Error = info.LastErr
	}
	return task, nil
}

func stateOf(s asynq.TaskState) State {
	switch s {
	case asynq.TaskStateActive, asynq.TaskStateRetry:
		return StateProcessing
	case asynq.TaskStateCompleted:
		return StateCompleted
	case asynq.TaskStateArchived:
		return StateFailed
	default:
		return StateQueued
	}
}
