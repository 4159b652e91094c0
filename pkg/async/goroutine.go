package async

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/ideahub/pkg/observability"
)

var logger atomic.Pointer[observability.Logger]

func init() {
	SetLogger(observability.NewLogger(observability.InfoLevel, os.Stderr))
}

// SetLogger replaces the logger used for background failures and panics
func SetLogger(l *observability.Logger) {
	logger.Store(l.WithField("component", "async"))
}

func log() *observability.Logger {
	return logger.Load()
}

// SafeGo runs fn in a goroutine bounded by timeout. Errors and panics are
// logged under taskName and never reach the caller.
//
//	SafeGo(context.WithoutCancel(r.Context()), 5*time.Second, "api key touch", func(ctx context.Context) error {
//	    return keys.TouchAPIKeys(ctx, []string{keyID}, time.Now())
//	})
func SafeGo(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(parentCtx, timeout)
		defer cancel()

		defer observability.RecoverPanic(log(), taskName)

		if err := fn(ctx); err != nil {
			log().WithError(err).WithField("task", taskName).Warn("background task failed")
		}
	}()
}

// Batch calls fn for every item with at most workers calls in flight, each
// bounded by timeout. Unlike errgroup.Wait it keeps going after a failure and
// returns every error; a panic in fn becomes an error. Items not started
// before ctx is done fail with ctx's error.
//
//	errs := Batch(ctx, chunks, 4, "last-used flush", 10*time.Second, func(ctx context.Context, ids []string) error {
//	    return keys.TouchAPIKeys(ctx, ids, now)
//	})
func Batch[T any](ctx context.Context, items []T, workers int, taskName string, timeout time.Duration,
	fn func(context.Context, T) error) []error {
	if workers < 1 {
		workers = 1
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	report := func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}

	var g errgroup.Group
	g.SetLimit(workers)
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			report(fmt.Errorf("%s: %d items not started: %w", taskName, len(items)-i, err))
			break
		}
		g.Go(func() error {
			itemCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			defer func() {
				if err := observability.MustRecover(recover()); err != nil {
					log().WithError(err).WithField("task", taskName).Error("batch item panicked")
					report(err)
				}
			}()
			if err := fn(itemCtx, item); err != nil {
				report(err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return errs
}
