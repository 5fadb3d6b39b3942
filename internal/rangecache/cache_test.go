package rangecache_test

import (
	"bytes"
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/cloudfs/internal/cloudcore"
	"github.com/tonimelisma/cloudfs/internal/provider"
	"github.com/tonimelisma/cloudfs/internal/rangecache"
)

func fullFile(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i)
	}

	return b
}

func TestReadServesExactSliceOnFirstFetch(t *testing.T) {
	data := fullFile(1024)
	pool := cloudcore.NewThreadPool(4)
	loop := cloudcore.NewEventLoop()

	var fetches int32

	c := rangecache.New(int64(len(data)), 4, 256, func(_ context.Context, rng provider.Range) ([]byte, error) {
		atomic.AddInt32(&fetches, 1)

		return data[rng.Start : rng.Start+rng.Size], nil
	}, pool, loop)

	p := c.Read(context.Background(), provider.Range{Start: 10, Size: 20})

	go loop.Exec(context.Background())
	defer loop.Quit()

	result, err := waitWithTimeout(t, p)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data[10:30], result))
	assert.GreaterOrEqual(t, atomic.LoadInt32(&fetches), int32(1))
}

func TestReadSecondOverlappingRequestServedFromCache(t *testing.T) {
	data := fullFile(4096)
	pool := cloudcore.NewThreadPool(4)
	loop := cloudcore.NewEventLoop()
	go loop.Exec(context.Background())
	defer loop.Quit()

	var fetches int32

	c := rangecache.New(int64(len(data)), 4, 2048, func(_ context.Context, rng provider.Range) ([]byte, error) {
		atomic.AddInt32(&fetches, 1)

		return data[rng.Start : rng.Start+rng.Size], nil
	}, pool, loop)

	first, err := waitWithTimeout(t, c.Read(context.Background(), provider.Range{Start: 0, Size: 100}))
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data[0:100], first))

	before := atomic.LoadInt32(&fetches)

	second, err := waitWithTimeout(t, c.Read(context.Background(), provider.Range{Start: 10, Size: 50}))
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data[10:60], second))
	assert.Equal(t, before, atomic.LoadInt32(&fetches), "second read should hit cache, not trigger a new fetch")
}

func TestReadClampsPastEOF(t *testing.T) {
	data := fullFile(100)
	pool := cloudcore.NewThreadPool(1)
	loop := cloudcore.NewEventLoop()
	go loop.Exec(context.Background())
	defer loop.Quit()

	c := rangecache.New(int64(len(data)), 4, 64, func(_ context.Context, rng provider.Range) ([]byte, error) {
		return data[rng.Start : rng.Start+rng.Size], nil
	}, pool, loop)

	result, err := waitWithTimeout(t, c.Read(context.Background(), provider.Range{Start: 200, Size: 10}))
	require.NoError(t, err)
	assert.Empty(t, result)
}

func TestReadPropagatesFetchError(t *testing.T) {
	pool := cloudcore.NewThreadPool(1)
	loop := cloudcore.NewEventLoop()
	go loop.Exec(context.Background())
	defer loop.Quit()

	boom := assertErr("boom")
	c := rangecache.New(1000, 4, 64, func(context.Context, provider.Range) ([]byte, error) {
		return nil, boom
	}, pool, loop)

	_, err := waitWithTimeout(t, c.Read(context.Background(), provider.Range{Start: 0, Size: 10}))
	require.ErrorIs(t, err, boom)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }

func waitWithTimeout(t *testing.T, p *cloudcore.Promise[[]byte]) ([]byte, error) {
	t.Helper()

	type result struct {
		data []byte
		err  error
	}

	ch := make(chan result, 1)

	go func() {
		data, err := p.Wait()
		ch <- result{data, err}
	}()

	select {
	case r := <-ch:
		return r.data, r.err
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for promise")

		return nil, nil
	}
}
