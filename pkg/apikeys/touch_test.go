package apikeys

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/ideahub/pkg/auth"
	"github.com/platinummonkey/ideahub/pkg/observability"
	"github.com/platinummonkey/ideahub/pkg/storage/memory"
)

func lastUsed(t *testing.T, store interface {
	GetAPIKey(context.Context, string) (*auth.APIKey, error)
}, id string) *time.Time {
	t.Helper()
	key, err := store.GetAPIKey(context.Background(), id)
	require.NoError(t, err)
	return key.LastUsedAt
}

func TestAsyncToucher(t *testing.T) {
	store := newTestStore(t)
	issued := generate(t, newTestIssuer(store), "admin", auth.ScopeClipperWrite)
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	toucher := NewAsyncToucher(store, time.Second, metrics)

	ctx, cancel := context.WithCancel(context.Background())
	toucher.Touch(ctx, issued.Key.ID)
	cancel() // the write must outlive the request

	assert.Eventually(t, func() bool {
		return lastUsed(t, store, issued.Key.ID) != nil
	}, time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.LastUsedFlushTotal.WithLabelValues("success")) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestAuthenticator_WithAsyncToucher(t *testing.T) {
	store := newTestStore(t)
	issued := generate(t, newTestIssuer(store), "admin", auth.ScopeClipperWrite)
	authn := NewAuthenticator(store, store, store, store, WithToucher(NewAsyncToucher(store, time.Second, nil)))

	_, err := authn.Authenticate(context.Background(), issued.Plaintext)
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		return lastUsed(t, store, issued.Key.ID) != nil
	}, time.Second, 10*time.Millisecond)
}

func newTestBatchToucher(t *testing.T, store *memory.Store, metrics *observability.Metrics) *BatchToucher {
	t.Helper()
	b, err := NewBatchToucher(store, "", metrics, observability.NewLogger(observability.DebugLevel, io.Discard))
	require.NoError(t, err)
	return b
}

func TestBatchToucher_Flush(t *testing.T) {
	store := newTestStore(t)
	issuer := newTestIssuer(store)
	a := generate(t, issuer, "admin", auth.ScopeClipperWrite)
	b := generate(t, issuer, "owner", auth.ScopeIdeasRead)
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	toucher := newTestBatchToucher(t, store, metrics)

	flushAt := time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)
	toucher.now = func() time.Time { return flushAt }

	toucher.Touch(context.Background(), a.Key.ID)
	toucher.Touch(context.Background(), a.Key.ID)
	toucher.Touch(context.Background(), b.Key.ID)
	assert.Equal(t, 2, toucher.Pending())
	assert.Nil(t, lastUsed(t, store, a.Key.ID), "nothing is written before a flush")

	require.NoError(t, toucher.Flush(context.Background()))
	assert.Equal(t, 0, toucher.Pending())
	assert.Equal(t, flushAt, *lastUsed(t, store, a.Key.ID))
	assert.Equal(t, flushAt, *lastUsed(t, store, b.Key.ID))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.LastUsedFlushTotal.WithLabelValues("success")))

	// Empty flush is a no-op.
	require.NoError(t, toucher.Flush(context.Background()))
}

func TestBatchToucher_StopFlushesRemainder(t *testing.T) {
	store := newTestStore(t)
	issued := generate(t, newTestIssuer(store), "admin", auth.ScopeClipperWrite)
	toucher := newTestBatchToucher(t, store, nil)

	toucher.Start()
	toucher.Touch(context.Background(), issued.Key.ID)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, toucher.Stop(ctx))
	assert.NotNil(t, lastUsed(t, store, issued.Key.ID))
}

func TestNewBatchToucher_InvalidSchedule(t *testing.T) {
	_, err := NewBatchToucher(newTestStore(t), "every now and then", nil, observability.NewLogger(observability.InfoLevel, io.Discard))
	assert.Error(t, err)
}

func TestChunk(t *testing.T) {
	ids := make([]string, 250)
	for i := range ids {
		ids[i] = fmt.Sprintf("k%d", i)
	}
	chunks := chunk(ids, 100)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 100)
	assert.Len(t, chunks[2], 50)
	assert.Empty(t, chunk(nil, 100))
}
