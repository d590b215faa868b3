package pipeline

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Executor runs fn(i) for every i in [0, n). Calls for different i may run
// concurrently and must not share mutable state other than atomics.
// Cancellation is observed between chunks only; an item that has started
// always finishes.
type Executor interface {
	Run(ctx context.Context, n int, fn func(i int)) error
}

// SequentialExecutor runs every item on the calling goroutine in index
// order.
type SequentialExecutor struct{}

// Run implements Executor.
func (SequentialExecutor) Run(ctx context.Context, n int, fn func(i int)) error {
	for i := 0; i < n; i++ {
		if i%defaultChunkSize == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		fn(i)
	}
	return nil
}

const defaultChunkSize = 256

// PoolExecutor splits the index range into chunks and runs them on a
// bounded set of goroutines.
type PoolExecutor struct {
	// Workers bounds the number of concurrent chunks. <= 0 means GOMAXPROCS.
	Workers int
	// ChunkSize is the number of consecutive items per task. <= 0 means 256.
	ChunkSize int
}

// Run implements Executor.
func (p PoolExecutor) Run(ctx context.Context, n int, fn func(i int)) error {
	if n <= 0 {
		return ctx.Err()
	}
	workers := p.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	chunk := p.ChunkSize
	if chunk <= 0 {
		chunk = defaultChunkSize
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for start := 0; start < n; start += chunk {
		if gctx.Err() != nil {
			break
		}
		end := min(start+chunk, n)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			for i := start; i < end; i++ {
				fn(i)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}
