package capture

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/ideahub/pkg/observability"
	"github.com/platinummonkey/ideahub/pkg/storage"
)

// MemoryService stores captures inline. It backs development servers and
// tests where no Redis is available. Finished tasks are kept for the same
// retention as queued ones.
type MemoryService struct {
	worker    *Worker
	metrics   *observability.Metrics
	retention time.Duration
	now       func() time.Time

	mu    sync.RWMutex
	tasks map[string]Task
}

// NewMemoryService creates an in-process capture service
func NewMemoryService(captures storage.CaptureRepository, metrics *observability.Metrics, logger *observability.Logger) *MemoryService {
	return &MemoryService{
		worker:    NewWorker(captures, logger),
		metrics:   metrics,
		retention: defaultRetention,
		now:       func() time.Time { return time.Now().UTC() },
		tasks:     make(map[string]Task),
	}
}

// Capture implements Service
func (s *MemoryService) Capture(ctx context.Context, req Request) (string, error) {
	if err := Validate(req); err != nil {
		return "", err
	}

	now := s.now()
	p := newPayload(uuid.NewString(), req, now)
	task := Task{
		ID:          p.TaskID,
		WorkspaceID: p.WorkspaceID,
		UserID:      p.UserID,
		URL:         p.URL,
		Title:       p.Title,
		CreatedAt:   now,
	}

	captureID, err := s.worker.store(ctx, p)
	if err != nil {
		task.State = StateFailed
		task.Error = err.Error()
	} else {
		completed := s.now()
		task.State = StateCompleted
		task.Result, _ = json.Marshal(result{CaptureID: captureID})
		task.CompletedAt = &completed
	}

	s.mu.Lock()
	s.prune(s.now())
	s.tasks[task.ID] = task
	s.mu.Unlock()

	s.metrics.RecordCaptureEnqueued("success")
	return task.ID, nil
}

// Task implements Service
func (s *MemoryService) Task(_ context.Context, workspaceID, taskID string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[taskID]
	if !ok || t.WorkspaceID != workspaceID || s.expired(t, s.now()) {
		return nil, ErrTaskNotFound
	}
	return &t, nil
}

// prune drops expired tasks. Callers hold s.mu.
func (s *MemoryService) prune(now time.Time) {
	for id, t := range s.tasks {
		if s.expired(t, now) {
			delete(s.tasks, id)
		}
	}
}

func (s *MemoryService) expired(t Task, now time.Time) bool {
	finished := t.CreatedAt
	if t.CompletedAt != nil {
		finished = *t.CompletedAt
	}
	return now.Sub(finished) > s.retention
}
