package async

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/tenantgate/pkg/observability"
)

// SafeGo executes fn in a goroutine with:
//   - a timeout derived from parentCtx
//   - panic recovery
//   - error logging
//
// The returned channel is closed when fn has returned.
//
// Example:
//
//	async.SafeGo(ctx, 10*time.Second, "tenant user sync", logger, func(ctx context.Context) error {
//	    return syncUser(ctx, tenantID)
//	})
func SafeGo(parentCtx context.Context, timeout time.Duration, taskName string, logger *observability.Logger, fn func(context.Context) error) <-chan struct{} {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	done := make(chan struct{})

	go func() {
		defer close(done)

		ctx, cancel := context.WithTimeout(parentCtx, timeout)
		defer cancel()

		if err := run(ctx, fn); err != nil {
			logger.WithField("task", taskName).WithError(err).Warn("Background task failed")
		}
	}()

	return done
}

// Batch runs fn over items with at most workers in flight. Each call gets
// its own timeout. The returned slice holds one error per failed item, in
// item order; a failure does not cancel the other items.
//
// Example:
//
//	errs := async.Batch(ctx, tenantIDs, 4, 5*time.Second, func(ctx context.Context, id int64) error {
//	    return upsertUser(ctx, id)
//	})
func Batch[T any](ctx context.Context, items []T, workers int, timeout time.Duration, fn func(context.Context, T) error) []error {
	if workers <= 0 {
		workers = 1
	}

	results := make([]error, len(items))
	var g errgroup.Group
	g.SetLimit(workers)

	for i, item := range items {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i] = err
				return nil
			}
			taskCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			results[i] = run(taskCtx, func(ctx context.Context) error { return fn(ctx, item) })
			return nil
		})
	}
	g.Wait()

	var errs []error
	for _, err := range results {
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// run calls fn and turns a panic into an error carrying the stack
func run(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return fn(ctx)
}
