// Package workerpool implements a semaphore-bounded pool of concurrent
// tasks: independent units of work arriving over time that must never
// exceed a fixed concurrency limit. Rather than a fixed array of worker
// goroutines draining a shared channel, admission is gated by a
// golang.org/x/sync/semaphore.Weighted -- each Submit spawns its own
// goroutine once a permit is free, so a burst of submissions doesn't pay
// for idle workers between bursts.
package workerpool

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Task is a unit of work submitted to a Pool.
type Task func()

// Pool bounds the number of Tasks running concurrently to size.
type Pool struct {
	sem  *semaphore.Weighted
	size int64
	wg   sync.WaitGroup

	closeOnce sync.Once
	closed    chan struct{}
}

// New creates a pool that runs at most size tasks concurrently. If size is
// zero or negative, it's treated as 1.
func New(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		sem:    semaphore.NewWeighted(int64(size)),
		size:   int64(size),
		closed: make(chan struct{}),
	}
}

// Submit acquires a permit (blocking until one is free) and then runs task
// in a new goroutine, returning as soon as the goroutine has started. It
// panics if called after Close.
func (p *Pool) Submit(task Task) {
	select {
	case <-p.closed:
		panic("task submitted to closed pool")
	default:
	}

	if err := p.sem.Acquire(context.Background(), 1); err != nil {
		panic("unable to acquire worker pool permit: " + err.Error())
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.sem.Release(1)
		task()
	}()
}

// Close stops accepting new tasks and waits for all in-flight tasks to
// complete.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		close(p.closed)
	})
	p.wg.Wait()
}

// Drained reports whether every permit becomes free before ctx expires,
// i.e. whether every submitted task has finished running. Unlike Close it
// leaves the pool usable, so callers can use it as a bounded quiescence
// probe between bursts of submissions.
func (p *Pool) Drained(ctx context.Context) bool {
	if err := p.sem.Acquire(ctx, p.size); err != nil {
		return false
	}
	p.sem.Release(p.size)
	return true
}
