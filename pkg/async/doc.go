// Package async runs background work with panic recovery and timeouts.
//
// SafeGo is fire-and-forget: failures and panics go to the logger set with
// SetLogger and never reach the caller.
//
//	async.SafeGo(ctx, 5*time.Second, "api key touch", func(ctx context.Context) error {
//		return keys.TouchAPIKeys(ctx, []string{keyID}, time.Now())
//	})
//
// Batch fans a slice out over a bounded number of goroutines and collects
// every error:
//
//	errs := async.Batch(ctx, chunks, 4, "last-used flush", 10*time.Second,
//		func(ctx context.Context, ids []string) error {
//			return keys.TouchAPIKeys(ctx, ids, now)
//		})
package async
