package cloudcore

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// ThreadPool executes blocking work off the event-loop thread, bounded to a
// fixed worker count. Grounded on internal/sync.WorkerPool's shape: a
// bounded number of concurrent executions with no queue of its own
// (Schedule blocks the submitter while every slot is busy), tracked with a
// WaitGroup so callers can drain cleanly on shutdown.
type ThreadPool struct {
	sem *semaphore.Weighted
	wg  sync.WaitGroup
}

// NewThreadPool creates a pool allowing up to workers concurrent tasks.
// A provider's default primary pool typically uses a single worker; callers
// needing more (e.g. parallel chunk uploads) pass a larger value explicitly.
func NewThreadPool(workers int64) *ThreadPool {
	if workers < 1 {
		workers = 1
	}

	return &ThreadPool{sem: semaphore.NewWeighted(workers)}
}

// Schedule blocks until a worker slot is free (or ctx is cancelled), then
// runs task in a new goroutine. Returns immediately after launching; use
// Wait to block until all scheduled tasks have completed.
func (t *ThreadPool) Schedule(ctx context.Context, task func()) error {
	if err := t.sem.Acquire(ctx, 1); err != nil {
		return err
	}

	t.wg.Add(1)

	go func() {
		defer t.wg.Done()
		defer t.sem.Release(1)

		task()
	}()

	return nil
}

// Wait blocks until every task scheduled so far has returned.
func (t *ThreadPool) Wait() {
	t.wg.Wait()
}
