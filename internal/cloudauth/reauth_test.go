package cloudauth_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/cloudfs/internal/cloudauth"
	"github.com/tonimelisma/cloudfs/internal/provider"
)

// countingSource is a TokenSource whose Refresh is slow enough to open a
// real race window between concurrent callers, and that counts how many
// times it actually ran.
type countingSource struct {
	calls atomic.Int32
}

func (s *countingSource) Token(context.Context) (provider.Token, error) {
	return provider.Token{AccessToken: "stale"}, nil
}

func (s *countingSource) Refresh(context.Context) (provider.Token, error) {
	s.calls.Add(1)
	time.Sleep(20 * time.Millisecond)

	return provider.Token{AccessToken: "fresh"}, nil
}

func (s *countingSource) AuthorizeLibraryURL() string { return "https://example.com/authorize" }

func (s *countingSource) ExchangeCode(context.Context, string) (provider.Token, error) {
	return provider.Token{}, nil
}

// TestCoordinatorRefreshCollapsesConcurrentCallers fires many concurrent
// callers at a Coordinator wrapping an expired token and asserts the
// underlying source was refreshed exactly once: latecomers await the
// in-flight refresh's result instead of launching their own.
func TestCoordinatorRefreshCollapsesConcurrentCallers(t *testing.T) {
	src := &countingSource{}
	c := cloudauth.NewCoordinator(src, nil)

	const callers = 20

	var wg sync.WaitGroup

	results := make([]provider.Token, callers)
	errs := make([]error, callers)

	for i := range callers {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			tok, err := c.Refresh(context.Background())
			results[i] = tok
			errs[i] = err
		}(i)
	}

	wg.Wait()

	assert.Equal(t, int32(1), src.calls.Load())

	for i := range callers {
		require.NoError(t, errs[i])
		assert.Equal(t, "fresh", results[i].AccessToken)
	}
}

// TestCoordinatorRefreshSequentialCallsEachRefresh confirms the collapsing
// behavior is specific to genuinely concurrent callers: two calls that do
// not overlap each trigger their own refresh.
func TestCoordinatorRefreshSequentialCallsEachRefresh(t *testing.T) {
	src := &countingSource{}
	c := cloudauth.NewCoordinator(src, nil)

	_, err := c.Refresh(context.Background())
	require.NoError(t, err)

	_, err = c.Refresh(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int32(2), src.calls.Load())
}
