package async

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/platinummonkey/taskboard/pkg/observability"
)

// SafeGo executes a function in a goroutine with:
// - Context cancellation support
// - Panic recovery
// - Timeout enforcement
// - Error logging
//
// The returned channel is closed once fn has returned or panicked.
// A timeout <= 0 leaves fn bounded only by parentCtx.
//
// Example:
//
//	SafeGo(ctx, logger, time.Minute, "archived board sweep", func(ctx context.Context) error {
//	    return sweeper.RunOnce(ctx)
//	})
func SafeGo(parentCtx context.Context, logger *observability.Logger, timeout time.Duration, taskName string, fn func(context.Context) error) <-chan struct{} {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	done := make(chan struct{})
	go func() {
		defer close(done)

		ctx, cancel := context.WithCancel(parentCtx)
		if timeout > 0 {
			ctx, cancel = context.WithTimeout(parentCtx, timeout)
		}
		defer cancel()

		defer observability.RecoverPanic(logger, taskName)

		if err := fn(ctx); err != nil {
			logger.WithError(err).WithField("task", taskName).Error("Background task failed")
		}
	}()
	return done
}

// SafeGoNoError is like SafeGo but for functions that don't return errors.
func SafeGoNoError(parentCtx context.Context, logger *observability.Logger, timeout time.Duration, taskName string, fn func(context.Context)) <-chan struct{} {
	return SafeGo(parentCtx, logger, timeout, taskName, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}

// Batch processes items concurrently with at most workers goroutines, each
// item under its own timeout. It returns every error encountered; a panic in
// fn is returned as an error for that item. Items not yet started when ctx
// is cancelled report ctx.Err().
//
// Example:
//
//	errs := Batch(ctx, steps, 2, "sweep", 30*time.Second, func(ctx context.Context, s step) error {
//	    return s.run(ctx)
//	})
func Batch[T any](ctx context.Context, items []T, workers int, taskName string, timeout time.Duration,
	fn func(context.Context, T) error) []error {

	if workers < 1 {
		workers = 1
	}

	var (
		mu   sync.Mutex
		errs []error
		wg   sync.WaitGroup
	)
	collect := func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}

	sem := make(chan struct{}, workers)
	for _, item := range items {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			collect(fmt.Errorf("%s: %w", taskName, ctx.Err()))
			continue
		}

		wg.Add(1)
		go func(item T) {
			defer wg.Done()
			defer func() { <-sem }()

			itemCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			defer func() {
				if r := recover(); r != nil {
					collect(fmt.Errorf("%s: panic: %v\n%s", taskName, r, debug.Stack()))
				}
			}()

			if err := fn(itemCtx, item); err != nil {
				collect(err)
			}
		}(item)
	}

	wg.Wait()
	return errs
}
