package apikeys

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/ideahub/pkg/async"
	"github.com/platinummonkey/ideahub/pkg/observability"
	"github.com/platinummonkey/ideahub/pkg/storage"
)

// Toucher records that a key was just used. Implementations are best effort
// and must never block or fail the request.
type Toucher interface {
	Touch(ctx context.Context, keyID string)
}

// NopToucher discards every touch
type NopToucher struct{}

func (NopToucher) Touch(context.Context, string) {}

// AsyncToucher writes last_used_at in the background as soon as a key is used
type AsyncToucher struct {
	keys    storage.APIKeyRepository
	timeout time.Duration
	metrics *observability.Metrics
	now     func() time.Time
}

// NewAsyncToucher creates a toucher that issues one update per use
func NewAsyncToucher(keys storage.APIKeyRepository, timeout time.Duration, metrics *observability.Metrics) *AsyncToucher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &AsyncToucher{
		keys:    keys,
		timeout: timeout,
		metrics: metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (t *AsyncToucher) Touch(ctx context.Context, keyID string) {
	at := t.now()
	// The request context is cancelled as soon as the response is written.
	async.SafeGo(context.WithoutCancel(ctx), t.timeout, "api key touch", func(ctx context.Context) error {
		err := t.keys.TouchAPIKeys(ctx, []string{keyID}, at)
		t.metrics.RecordLastUsedFlush(flushResult(err), 1)
		return err
	})
}

// DefaultTouchSchedule is how often BatchToucher flushes
const DefaultTouchSchedule = "@every 30s"

const (
	touchChunkSize = 100
	touchWorkers   = 4
)

// BatchToucher buffers key ids and writes them on a cron schedule. Timestamps
// are therefore only accurate to the flush interval.
type BatchToucher struct {
	keys    storage.APIKeyRepository
	metrics *observability.Metrics
	logger  *observability.Logger
	cron    *cron.Cron
	now     func() time.Time

	mu      sync.Mutex
	pending map[string]struct{}
}

// NewBatchToucher creates a batching toucher. Call Start to begin flushing and
// Stop to flush what is left.
func NewBatchToucher(keys storage.APIKeyRepository, schedule string, metrics *observability.Metrics, logger *observability.Logger) (*BatchToucher, error) {
	if schedule == "" {
		schedule = DefaultTouchSchedule
	}
	b := &BatchToucher{
		keys:    keys,
		metrics: metrics,
		logger:  logger.WithField("component", "batch_toucher"),
		cron:    cron.New(),
		now:     func() time.Time { return time.Now().UTC() },
		pending: make(map[string]struct{}),
	}
	if _, err := b.cron.AddFunc(schedule, b.scheduledFlush); err != nil {
		return nil, fmt.Errorf("invalid touch schedule %q: %w", schedule, err)
	}
	return b, nil
}

func (b *BatchToucher) Touch(_ context.Context, keyID string) {
	b.mu.Lock()
	b.pending[keyID] = struct{}{}
	b.mu.Unlock()
}

// Pending reports how many keys are waiting for the next flush
func (b *BatchToucher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Start begins the flush schedule
func (b *BatchToucher) Start() {
	b.cron.Start()
}

// Stop halts the schedule, waits for a running flush and flushes the remainder
func (b *BatchToucher) Stop(ctx context.Context) error {
	select {
	case <-b.cron.Stop().Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	return b.Flush(ctx)
}

func (b *BatchToucher) scheduledFlush() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := b.Flush(ctx); err != nil {
		b.logger.WithError(err).Warn("last-used flush failed")
	}
}

// Flush writes every buffered key id. Failed chunks are dropped; the next use
// of the key buffers it again.
func (b *BatchToucher) Flush(ctx context.Context) error {
	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return nil
	}
	ids := make([]string, 0, len(b.pending))
	for id := range b.pending {
		ids = append(ids, id)
	}
	b.pending = make(map[string]struct{})
	b.mu.Unlock()

	at := b.now()
	chunks := chunk(ids, touchChunkSize)
	errs := async.Batch(ctx, chunks, touchWorkers, "last-used flush", 30*time.Second,
		func(ctx context.Context, ids []string) error {
			err := b.keys.TouchAPIKeys(ctx, ids, at)
			b.metrics.RecordLastUsedFlush(flushResult(err), len(ids))
			return err
		})
	if len(errs) > 0 {
		return fmt.Errorf("%d of %d last-used chunks failed: %w", len(errs), len(chunks), errs[0])
	}
	b.logger.WithField("keys", len(ids)).Debug("flushed last-used timestamps")
	return nil
}

func chunk(ids []string, size int) [][]string {
	var out [][]string
	for len(ids) > size {
		out = append(out, ids[:size])
		ids = ids[size:]
	}
	if len(ids) > 0 {
		out = append(out, ids)
	}
	return out
}

func flushResult(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}
