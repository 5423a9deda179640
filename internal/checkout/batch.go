package checkout

import (
	"context"

	"golang.org/x/sync/errgroup"
)

const defaultParallelism = 4

// forEach runs fn for every index with at most Parallelism calls in flight.
// fn reports its own failures; a failing index never stops the rest.
func (c *Coordinator) forEach(ctx context.Context, n int, fn func(ctx context.Context, i int)) {
	limit := c.Parallelism
	if limit <= 0 {
		limit = defaultParallelism
	}
	var g errgroup.Group
	g.SetLimit(limit)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			fn(ctx, i)
			return nil
		})
	}
	_ = g.Wait()
}
