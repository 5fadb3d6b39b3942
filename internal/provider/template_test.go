package provider_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/cloudfs/internal/httpengine"
	"github.com/tonimelisma/cloudfs/internal/provider"
)

func TestExecuteSuccessOnFirstAttempt(t *testing.T) {
	calls := 0
	out, err := provider.Execute(context.Background(),
		func(context.Context) (provider.Token, error) { return provider.Token{AccessToken: "tok1"}, nil },
		func(context.Context) (provider.Token, error) { t.Fatal("refresh should not be called"); return provider.Token{}, nil },
		provider.DefaultShouldReauth,
		func(_ context.Context, tok provider.Token) (*httpengine.Response, error) {
			calls++
			assert.Equal(t, "tok1", tok.AccessToken)

			return &httpengine.Response{HTTPCode: 200}, nil
		},
		func(resp *httpengine.Response) (string, error) { return "ok", nil },
	)

	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 1, calls)
}

func TestExecuteRetriesExactlyOnceAfterReauth(t *testing.T) {
	attempt := 0
	out, err := provider.Execute(context.Background(),
		func(context.Context) (provider.Token, error) { return provider.Token{AccessToken: "stale"}, nil },
		func(context.Context) (provider.Token, error) { return provider.Token{AccessToken: "fresh"}, nil },
		provider.DefaultShouldReauth,
		func(_ context.Context, tok provider.Token) (*httpengine.Response, error) {
			attempt++
			if tok.AccessToken == "stale" {
				return &httpengine.Response{HTTPCode: 401}, nil
			}

			return &httpengine.Response{HTTPCode: 200}, nil
		},
		func(resp *httpengine.Response) (string, error) { return "recovered", nil },
	)

	require.NoError(t, err)
	assert.Equal(t, "recovered", out)
	assert.Equal(t, 2, attempt)
}

func TestExecuteDoesNotRetryTwice(t *testing.T) {
	attempt := 0
	_, err := provider.Execute(context.Background(),
		func(context.Context) (provider.Token, error) { return provider.Token{AccessToken: "stale"}, nil },
		func(context.Context) (provider.Token, error) { return provider.Token{AccessToken: "still-bad"}, nil },
		provider.DefaultShouldReauth,
		func(_ context.Context, tok provider.Token) (*httpengine.Response, error) {
			attempt++

			return &httpengine.Response{HTTPCode: 401}, nil
		},
		func(resp *httpengine.Response) (string, error) { return "", nil },
	)

	require.Error(t, err)
	assert.Equal(t, 2, attempt)
}

func TestExecuteRefreshFailurePropagates(t *testing.T) {
	_, err := provider.Execute(context.Background(),
		func(context.Context) (provider.Token, error) { return provider.Token{AccessToken: "stale"}, nil },
		func(context.Context) (provider.Token, error) { return provider.Token{}, assertAuthErr },
		provider.DefaultShouldReauth,
		func(context.Context, provider.Token) (*httpengine.Response, error) {
			return &httpengine.Response{HTTPCode: 401}, nil
		},
		func(resp *httpengine.Response) (string, error) { return "", nil },
	)

	require.ErrorIs(t, err, assertAuthErr)
}

var assertAuthErr = assertError("refresh failed")

type assertError string

func (e assertError) Error() string { return string(e) }
