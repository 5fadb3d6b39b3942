// Package rangecache implements the per-item read-ahead byte cache that
// sits between a streaming download callback and a provider's ranged-fetch
// operation: it serves overlapping reads from a bounded set of recently
// fetched chunks and deduplicates concurrent fetches of the same bytes.
package rangecache

import (
	"context"
	"sync"

	"github.com/tonimelisma/cloudfs/internal/cloudcore"
	"github.com/tonimelisma/cloudfs/internal/provider"
)

// DefaultChunkCount and DefaultReadAhead are the cache's conventional
// tuning values: a 4-deep chunk history and 2MiB read-ahead comfortably
// cover sequential media playback without over-fetching on seeks.
const (
	DefaultChunkCount = 4
	DefaultReadAhead  = 2 * 1024 * 1024
)

// Fetcher retrieves exactly the requested byte range from the remote item.
// The cache never retries a failed Fetcher call on its own; that policy
// belongs to the provider issuing the request.
type Fetcher func(ctx context.Context, rng provider.Range) ([]byte, error)

type chunk struct {
	rng  provider.Range
	data []byte
}

type waiter struct {
	rng     provider.Range
	resolve func([]byte, error)
}

type pendingFetch struct {
	rng     provider.Range
	waiters []waiter
}

// Cache is the read-ahead byte cache for a single open item.
type Cache struct {
	mu sync.Mutex

	itemSize   int64
	chunkCount int
	readAhead  int64
	fetch      Fetcher
	pool       *cloudcore.ThreadPool
	loop       *cloudcore.EventLoop

	chunks  []chunk
	pending []*pendingFetch
}

// New builds a Cache for an item of itemSize bytes. A chunkCount or
// readAhead of 0 falls back to the package defaults.
func New(itemSize int64, chunkCount int, readAhead int64, fetch Fetcher, pool *cloudcore.ThreadPool, loop *cloudcore.EventLoop) *Cache {
	if chunkCount <= 0 {
		chunkCount = DefaultChunkCount
	}

	if readAhead <= 0 {
		readAhead = DefaultReadAhead
	}

	return &Cache{
		itemSize:   itemSize,
		chunkCount: chunkCount,
		readAhead:  readAhead,
		fetch:      fetch,
		pool:       pool,
		loop:       loop,
	}
}

// Read serves rng, clamped to the item size, from a cached chunk if one
// already covers it; otherwise it deduplicates against any in-flight fetch
// covering the same bytes, or launches a new one, and resolves once the
// underlying Fetcher returns. A clamped size of 0 resolves immediately with
// an empty slice.
func (c *Cache) Read(ctx context.Context, rng provider.Range) *cloudcore.Promise[[]byte] {
	p, fulfill, reject := cloudcore.NewPromise[[]byte](c.loop)

	clamped := rng.Clamp(c.itemSize)
	if clamped.Size == 0 {
		fulfill(nil)

		return p
	}

	c.mu.Lock()

	if data, ok := c.serveFromChunkLocked(clamped); ok {
		c.mu.Unlock()
		fulfill(data)

		return p
	}

	c.maybeReadAheadLocked(ctx, clamped)

	pf := c.findOrStartFetchLocked(ctx, clamped)
	pf.waiters = append(pf.waiters, waiter{
		rng: clamped,
		resolve: func(data []byte, err error) {
			if err != nil {
				reject(err)

				return
			}

			fulfill(data)
		},
	})

	c.mu.Unlock()

	return p
}

func (c *Cache) serveFromChunkLocked(rng provider.Range) ([]byte, bool) {
	for _, ch := range c.chunks {
		if contains(ch.rng, rng) {
			start := rng.Start - ch.rng.Start

			return ch.data[start : start+rng.Size], true
		}
	}

	return nil, false
}

// maybeReadAheadLocked schedules a background fetch of
// max(rng.Size, readAhead) bytes starting readAhead/2 past rng.Start,
// unless a cached or pending chunk already covers the readAhead/2 bytes
// that begin there.
func (c *Cache) maybeReadAheadLocked(ctx context.Context, rng provider.Range) {
	half := c.readAhead / 2
	probe := provider.Range{Start: rng.Start + half, Size: half}.Clamp(c.itemSize)

	if probe.Size == 0 {
		return
	}

	for _, ch := range c.chunks {
		if contains(ch.rng, probe) {
			return
		}
	}

	for _, pf := range c.pending {
		if contains(pf.rng, probe) {
			return
		}
	}

	aheadSize := c.readAhead
	if rng.Size > aheadSize {
		aheadSize = rng.Size
	}

	ahead := provider.Range{Start: rng.Start + half, Size: aheadSize}.Clamp(c.itemSize)
	if ahead.Size == 0 {
		return
	}

	c.startFetchLocked(ctx, ahead)
}

func (c *Cache) findOrStartFetchLocked(ctx context.Context, rng provider.Range) *pendingFetch {
	for _, pf := range c.pending {
		if contains(pf.rng, rng) {
			return pf
		}
	}

	return c.startFetchLocked(ctx, rng)
}

func (c *Cache) startFetchLocked(ctx context.Context, rng provider.Range) *pendingFetch {
	pf := &pendingFetch{rng: rng}
	c.pending = append(c.pending, pf)

	fetch := cloudcore.Async(c.pool, c.loop, func(ctx context.Context) ([]byte, error) {
		return c.fetch(ctx, rng)
	})

	fetch.OnCancel(func() {})

	go func() {
		data, err := fetch.Wait()
		c.onFetchDone(pf, data, err)
	}()

	return pf
}

func (c *Cache) onFetchDone(pf *pendingFetch, data []byte, err error) {
	c.mu.Lock()

	c.pending = removePending(c.pending, pf)

	if err == nil {
		// A fetch that returned fewer bytes than requested is recorded
		// with the range it actually covers.
		if int64(len(data)) < pf.rng.Size {
			pf.rng.Size = int64(len(data))
		}

		c.chunks = append(c.chunks, chunk{rng: pf.rng, data: data})
		if len(c.chunks) > c.chunkCount {
			c.chunks = c.chunks[len(c.chunks)-c.chunkCount:]
		}
	}

	waiters := pf.waiters
	c.mu.Unlock()

	for _, w := range waiters {
		if err != nil {
			w.resolve(nil, err)

			continue
		}

		start := w.rng.Start - pf.rng.Start
		end := start + w.rng.Size
		if end > int64(len(data)) {
			end = int64(len(data))
		}

		if start > end {
			start = end
		}

		w.resolve(data[start:end], nil)
	}
}

func removePending(list []*pendingFetch, target *pendingFetch) []*pendingFetch {
	out := list[:0]

	for _, pf := range list {
		if pf != target {
			out = append(out, pf)
		}
	}

	return out
}

// contains reports whether outer fully covers inner.
func contains(outer, inner provider.Range) bool {
	return inner.Start >= outer.Start && inner.Start+inner.Size <= outer.Start+outer.Size
}
