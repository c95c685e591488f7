// Package concurrency holds the bounded fan-out helpers used by request
// handling. All work is scoped to the caller's context.
package concurrency

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Task is one unit of fan-out work.
type Task func(ctx context.Context) error

// Run executes tasks with at most limit in flight (limit <= 0 means no
// bound). The first error cancels the shared context and is returned after
// every started task has finished.
func Run(ctx context.Context, limit int, tasks ...Task) error {
	g, ctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for _, task := range tasks {
		g.Go(func() error { return task(ctx) })
	}
	return g.Wait()
}

// ForEach calls fn for every index in [0, n) with at most limit calls in
// flight. Results are written by fn into caller-owned slots by index.
func ForEach(ctx context.Context, limit, n int, fn func(ctx context.Context, index int) error) error {
	g, ctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i := 0; i < n; i++ {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return fn(ctx, i)
		})
	}
	return g.Wait()
}
