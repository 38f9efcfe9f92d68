// Package async provides panic-safe goroutine helpers for background work.
//
// SafeGo runs one task with a timeout and logs its error or panic instead of
// crashing the process:
//
//	async.SafeGo(ctx, logger, time.Minute, "sweep", func(ctx context.Context) error {
//		return sweeper.RunOnce(ctx)
//	})
//
// Batch fans a slice of items out over a bounded number of goroutines and
// collects every error:
//
//	errs := async.Batch(ctx, steps, 2, "sweep", 30*time.Second, func(ctx context.Context, s step) error {
//		return s.run(ctx)
//	})
package async
