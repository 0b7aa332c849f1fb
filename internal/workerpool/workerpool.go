// Package workerpool implements the bounded OS-thread pool spec.md §5
// requires for CPU-heavy work dispatched off the single cooperative
// event loop (STARK proof generation, cluster labeling on large
// graphs, Merkle tree construction). Built on golang.org/x/sync's
// errgroup and semaphore, mirroring the teacher's reach for x/sync
// wherever it bounds fan-out concurrency.
package workerpool

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Pool bounds concurrent CPU-heavy work to a fixed number of OS
// threads. Submit delivers its result on a returned channel, so the
// submitter does not block on the work itself. No other package in
// this repository, the event loop included, submits work to a Pool.
type Pool struct {
	sem *semaphore.Weighted
	cap int64
}

// New builds a Pool with capacity workers.
func New(capacity int) *Pool {
	if capacity < 1 {
		capacity = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(capacity)), cap: int64(capacity)}
}

// Result carries a worker's owned-buffer output back across the
// boundary (spec.md §5: "exchanging owned buffers across the
// boundary").
type Result struct {
	Value []byte
	Err   error
}

// Submit runs fn on a pooled goroutine once a slot is free, returning a
// channel the caller awaits exactly once. ctx cancellation both aborts
// waiting for a slot and is passed through to fn.
func (p *Pool) Submit(ctx context.Context, fn func(ctx context.Context) ([]byte, error)) <-chan Result {
	out := make(chan Result, 1)
	go func() {
		if err := p.sem.Acquire(ctx, 1); err != nil {
			out <- Result{Err: fmt.Errorf("workerpool: acquire slot: %w", err)}
			return
		}
		defer p.sem.Release(1)
		v, err := fn(ctx)
		out <- Result{Value: v, Err: err}
	}()
	return out
}

// RunAll runs every fn concurrently, bounded by the pool's capacity,
// and returns on the first error (golang.org/x/sync/errgroup
// semantics), cancelling the remaining work's context.
func (p *Pool) RunAll(ctx context.Context, fns ...func(ctx context.Context) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(int(p.cap))
	for _, fn := range fns {
		fn := fn
		g.Go(func() error {
			return fn(gctx)
		})
	}
	return g.Wait()
}

// Capacity returns the pool's fixed worker count.
func (p *Pool) Capacity() int {
	return int(p.cap)
}
