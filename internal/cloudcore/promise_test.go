package cloudcore_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/cloudfs/internal/clouderr"
	"github.com/tonimelisma/cloudfs/internal/cloudcore"
)

func TestPromiseFulfillThenAwait(t *testing.T) {
	p, fulfill, _ := cloudcore.NewPromise[int](nil)
	fulfill(42)

	next := cloudcore.Await(p, nil, func(v int) (int, error) { return v * 2, nil })

	v, err := next.Wait()
	require.NoError(t, err)
	assert.Equal(t, 84, v)
}

func TestPromiseRejectPropagates(t *testing.T) {
	p, _, reject := cloudcore.NewPromise[int](nil)
	reject(clouderr.NotFound("missing"))

	next := cloudcore.Await(p, nil, func(v int) (int, error) { return v, nil })

	_, err := next.Wait()
	require.Error(t, err)
	assert.True(t, clouderr.Is(err, clouderr.KindNotFound))
}

func TestPromiseCatchRecoversMatchingKind(t *testing.T) {
	p, _, reject := cloudcore.NewPromise[int](nil)
	reject(clouderr.NotFound("missing"))

	recovered := cloudcore.Catch(p, nil, clouderr.KindNotFound, func(*clouderr.Error) (int, error) {
		return -1, nil
	})

	v, err := recovered.Wait()
	require.NoError(t, err)
	assert.Equal(t, -1, v)
}

func TestPromiseCatchIgnoresOtherKind(t *testing.T) {
	p, _, reject := cloudcore.NewPromise[int](nil)
	reject(clouderr.Auth("denied"))

	recovered := cloudcore.Catch(p, nil, clouderr.KindNotFound, func(*clouderr.Error) (int, error) {
		return -1, nil
	})

	_, err := recovered.Wait()
	require.Error(t, err)
	assert.True(t, clouderr.Is(err, clouderr.KindAuth))
}

// TestCancelCalledExactlyOnce verifies cancel() results in
// done being called exactly once with Aborted, regardless of whether it
// arrives before or during completion.
func TestCancelCalledExactlyOnce(t *testing.T) {
	var hookCalls atomic.Int32

	p, _, reject := cloudcore.NewPromise[int](nil)
	p.OnCancel(func() { hookCalls.Add(1) })

	var doneCalls atomic.Int32

	result := cloudcore.Await(p, nil, func(v int) (int, error) { return v, nil })

	done := make(chan struct{})

	register := func() {
		_, err := result.Wait()
		if clouderr.Is(err, clouderr.KindAborted) {
			doneCalls.Add(1)
		}

		close(done)
	}

	go register()

	p.Cancel()
	p.Cancel() // second call must be a no-op
	reject(clouderr.Failure("too late"))

	<-done

	assert.Equal(t, int32(1), hookCalls.Load())
	assert.Equal(t, int32(1), doneCalls.Load())
}

func TestAsyncCancelAbortsContext(t *testing.T) {
	pool := cloudcore.NewThreadPool(2)
	loop := cloudcore.NewEventLoop()

	started := make(chan struct{})

	p := cloudcore.Async(pool, loop, func(ctx context.Context) (int, error) {
		close(started)
		<-ctx.Done()

		return 0, ctx.Err()
	})

	go loop.Exec(context.Background())

	<-started
	p.Cancel()

	_, err := p.Wait()
	require.Error(t, err)
	assert.True(t, clouderr.Is(err, clouderr.KindAborted))
}

func TestEventLoopProcessEventsDrainsQueue(t *testing.T) {
	loop := cloudcore.NewEventLoop()

	var n atomic.Int32

	for range 5 {
		loop.Invoke(func() { n.Add(1) })
	}

	loop.ProcessEvents()
	assert.Equal(t, int32(5), n.Load())
}

func TestEventLoopExecStopsOnQuit(t *testing.T) {
	loop := cloudcore.NewEventLoop()

	done := make(chan struct{})

	go func() {
		loop.Exec(context.Background())
		close(done)
	}()

	loop.Quit()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Exec did not return after Quit")
	}
}
