package provider

import (
	"context"

	"github.com/tonimelisma/cloudfs/internal/clouderr"
	"github.com/tonimelisma/cloudfs/internal/httpengine"
)

// Execute runs one logical operation with exactly-one-retry-after-reauth
// semantics: getToken supplies the current credential, do issues the wire
// request, and if shouldReauth flags the response as an auth failure,
// refresh is called once and do is retried exactly once more with the new
// token. A second consecutive auth failure is returned as-is; there is no
// unbounded retry loop.
//
// Grounded on internal/graph/client.go's doRetry (transport-level retry is
// handled one layer down, inside the httpengine.Engine implementation) and
// on internal/graph/auth.go's reauth-on-401 flow, generalized from a single
// Microsoft Graph client to any provider by taking its token and refresh
// operations as plain closures rather than a concrete auth type — this
// keeps provider free of any dependency on cloudauth (which itself depends
// on provider for Token and AuthCallback).
func Execute[T any](
	ctx context.Context,
	getToken func(ctx context.Context) (Token, error),
	refresh func(ctx context.Context) (Token, error),
	shouldReauth func(resp *httpengine.Response) bool,
	do func(ctx context.Context, tok Token) (*httpengine.Response, error),
	parse func(resp *httpengine.Response) (T, error),
) (T, error) {
	var zero T

	tok, err := getToken(ctx)
	if err != nil {
		return zero, err
	}

	resp, err := do(ctx, tok)
	if err != nil {
		return zero, clouderr.Wrap(err)
	}

	if shouldReauth(resp) {
		newTok, rerr := refresh(ctx)
		if rerr != nil {
			return zero, rerr
		}

		resp, err = do(ctx, newTok)
		if err != nil {
			return zero, clouderr.Wrap(err)
		}
	}

	if !resp.Success(nil) {
		return zero, clouderr.HTTP(resp.HTTPCode, string(resp.ErrorBody))
	}

	return parse(resp)
}

// DefaultShouldReauth treats 401 as the sole trigger for the reauth retry,
// matching every provider's auth convention covered so far (OAuth2 bearer
// tokens and WebDAV Basic/Digest credentials alike signal an expired or
// revoked credential with 401).
func DefaultShouldReauth(resp *httpengine.Response) bool {
	return resp.HTTPCode == 401
}
