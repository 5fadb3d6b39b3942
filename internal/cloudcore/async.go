package cloudcore

import (
	"context"

	"github.com/tonimelisma/cloudfs/internal/clouderr"
)

// Async schedules fn on pool and resolves the returned Promise with its
// result, delivered through loop. Cancelling the promise cancels fn's
// context, so any HTTP call fn makes is told to abort. If ctx is
// already cancelled by the time fn returns, the promise settles with
// clouderr.Aborted() rather than fn's own error, since cancellation always
// wins the race against a normal result or error.
func Async[T any](pool *ThreadPool, loop *EventLoop, fn func(ctx context.Context) (T, error)) *Promise[T] {
	p, fulfill, reject := NewPromise[T](loop)

	ctx, cancel := context.WithCancel(context.Background())

	p.OnCancel(cancel)

	scheduleErr := pool.Schedule(ctx, func() {
		v, err := fn(ctx)

		if ctx.Err() != nil {
			reject(clouderr.Aborted())

			return
		}

		if err != nil {
			reject(err)

			return
		}

		fulfill(v)
	})
	if scheduleErr != nil {
		reject(clouderr.Aborted())
	}

	return p
}
