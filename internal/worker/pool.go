package worker

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// RunPool 并发运行 n 个工作循环，全部结束后返回。
// 所有循环都因题库耗尽而结束时返回 nil。
func RunPool(ctx context.Context, n int, newLoop func(i int) *Loop) error {
	if n < 1 {
		return fmt.Errorf("worker pool: concurrency must be positive, got %d", n)
	}
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		loop := newLoop(i)
		g.Go(func() error {
			return loop.Run(gctx)
		})
	}
	return g.Wait()
}
