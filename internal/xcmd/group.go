package xcmd

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// RunUntilInterrupted starts each of tasks under one errgroup alongside a
// goroutine waiting on WaitInterrupted, and cancels every task's context
// as soon as either a task fails or a shutdown signal arrives. It returns
// the first non-nil, non-interrupt error any task produced.
func RunUntilInterrupted(ctx context.Context, tasks ...func(context.Context) error) error {
	cctx, cancel := context.WithCancel(ctx)
	defer cancel()

	group, gctx := errgroup.WithContext(cctx)

	group.Go(func() error {
		_ = WaitInterrupted(gctx)
		cancel()
		return nil
	})

	for _, task := range tasks {
		task := task
		group.Go(func() error {
			err := task(gctx)
			cancel()
			return err
		})
	}

	return group.Wait()
}
