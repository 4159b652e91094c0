package capture

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/hibiken/asynq"

	"github.com/platinummonkey/ideahub/pkg/observability"
	"github.com/platinummonkey/ideahub/pkg/storage"
)

// Worker handles capture:page tasks by storing the capture
type Worker struct {
	captures storage.CaptureRepository
	logger   *observability.Logger
}

// NewWorker creates a capture worker
func NewWorker(captures storage.CaptureRepository, logger *observability.Logger) *Worker {
	return &Worker{
		captures: captures,
		logger:   logger.WithField("component", "capture_worker"),
	}
}

// Register mounts the worker on mux
func (w *Worker) Register(mux *asynq.ServeMux) {
	mux.Handle(TaskTypeCapturePage, w)
}

// ProcessTask implements asynq.Handler
func (w *Worker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p payload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("malformed capture payload: %v: %w", err, asynq.SkipRetry)
	}

	captureID, err := w.store(ctx, p)
	if err != nil {
		w.logger.WithError(err).WithField("task_id", p.TaskID).Warn("capture failed")
		return err
	}

	if rw := t.ResultWriter(); rw != nil {
		body, _ := json.Marshal(result{CaptureID: captureID})
		if _, err := rw.Write(body); err != nil {
			return fmt.Errorf("failed to write task result: %w", err)
		}
	}

	w.logger.WithFields(map[string]interface{}{
		"task_id":      p.TaskID,
		"workspace_id": p.WorkspaceID,
		"capture_id":   captureID,
	}).Info("capture stored")
	return nil
}

// store persists the capture. The capture id is the task id, so a retried
// task that already succeeded is not stored twice.
func (w *Worker) store(ctx context.Context, p payload) (string, error) {
	c := &storage.Capture{
		ID:          p.TaskID,
		WorkspaceID: p.WorkspaceID,
		UserID:      p.UserID,
		APIKeyID:    p.APIKeyID,
		URL:         p.URL,
		Title:       p.Title,
		Content:     p.Content,
		Tags:        p.Tags,
		CreatedAt:   time.Now().UTC(),
	}
	err := w.captures.CreateCapture(ctx, c)
	if errors.Is(err, storage.ErrConflict) {
		return c.ID, nil
	}
	if errors.Is(err, storage.ErrNotFound) {
		// The workspace or user is gone; retrying will not help.
		return "", fmt.Errorf("capture owner missing: %v: %w", err, asynq.SkipRetry)
	}
	if err != nil {
		return "", fmt.Errorf("failed to store capture: %w", err)
	}
	return c.ID, nil
}

// ServerLogger adapts the service logger to asynq.Logger
type ServerLogger struct {
	Logger *observability.Logger
}

func (l ServerLogger) Debug(args ...interface{}) { l.Logger.Debug(fmt.Sprint(args...)) }
func (l ServerLogger) Info(args ...interface{})  { l.Logger.Info(fmt.Sprint(args...)) }
func (l ServerLogger) Warn(args ...interface{})  { l.Logger.Warn(fmt.Sprint(args...)) }
func (l ServerLogger) Error(args ...interface{}) { l.Logger.Error(fmt.Sprint(args...)) }
func (l ServerLogger) Fatal(args ...interface{}) {
	l.Logger.Error(fmt.Sprint(args...))
	exit(1)
}

var exit = os.Exit
