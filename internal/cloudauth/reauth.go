package cloudauth

import (
	"context"
	"errors"
	"sync"

	"github.com/tonimelisma/cloudfs/internal/clouderr"
	"github.com/tonimelisma/cloudfs/internal/provider"
)

// Coordinator implements the reauthorization protocol's single-flight
// refresh: exactly one in-flight refresh per provider.
// Concurrent callers that hit a 401 during an existing refresh await the
// same refresh outcome — they do not launch their own.
type Coordinator struct {
	src      TokenSource
	callback provider.AuthCallback

	mu         sync.Mutex
	refreshing bool
	waiters    []chan refreshResult
}

type refreshResult struct {
	tok provider.Token
	err error
}

// NewCoordinator wraps src with the shared-refresh protocol. callback may
// be nil.
func NewCoordinator(src TokenSource, callback provider.AuthCallback) *Coordinator {
	if callback == nil {
		callback = provider.NopAuthCallback{}
	}

	return &Coordinator{src: src, callback: callback}
}

// Source exposes the underlying TokenSource for the current, non-forcing
// Token() read (the request template calls this before the first attempt).
func (c *Coordinator) Source() TokenSource {
	return c.src
}

// Refresh performs (or awaits an in-flight) token refresh. On a client-side
// (4xx) failure from the underlying source it surfaces the authorize URL
// through callback and reports Done via the side channel.
func (c *Coordinator) Refresh(ctx context.Context) (provider.Token, error) {
	c.mu.Lock()

	if c.refreshing {
		ch := make(chan refreshResult, 1)
		c.waiters = append(c.waiters, ch)
		c.mu.Unlock()

		select {
		case res := <-ch:
			return res.tok, res.err
		case <-ctx.Done():
			return provider.Token{}, ctx.Err()
		}
	}

	c.refreshing = true
	c.mu.Unlock()

	tok, err := c.src.Refresh(ctx)

	c.mu.Lock()
	waiters := c.waiters
	c.waiters = nil
	c.refreshing = false
	c.mu.Unlock()

	for _, ch := range waiters {
		ch <- refreshResult{tok: tok, err: err}
	}

	c.notify(err)

	return tok, err
}

func (c *Coordinator) notify(err error) {
	if err == nil {
		return
	}

	var ce *clouderr.Error
	if errors.As(err, &ce) && (ce.Kind == clouderr.KindAuth || ce.Kind == clouderr.KindHTTP && isClientError(ce.Code)) {
		c.callback.AuthorizeLibraryURLChanged(c.src.AuthorizeLibraryURL())
		c.callback.Done(err)
	}
}

func isClientError(code int) bool {
	return code >= 400 && code < 500
}
