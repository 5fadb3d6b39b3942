package cloudauth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/tonimelisma/cloudfs/internal/clouderr"
	"github.com/tonimelisma/cloudfs/internal/provider"
)

// OAuth2 implements TokenSource for every provider that speaks standard
// OAuth2 (Google Drive, OneDrive, Dropbox, Box, hubiC). It is grounded on
// internal/graph/auth.go's use of golang.org/x/oauth2: a *oauth2.Config
// plus the current *oauth2.Token drive everything, including silent
// refresh via cfg.TokenSource.
type OAuth2 struct {
	cfg   *oauth2.Config
	state string

	mu  sync.Mutex
	tok *oauth2.Token
	src oauth2.TokenSource
}

// NewOAuth2 builds an OAuth2 token source. seed may be nil if no token has
// been obtained yet (the caller must still call ExchangeCode or Refresh
// before Token can succeed).
func NewOAuth2(cfg *oauth2.Config, state string, seed *oauth2.Token) *OAuth2 {
	a := &OAuth2{cfg: cfg, state: state}
	if seed != nil {
		a.setToken(seed)
	}

	return a
}

func (a *OAuth2) setToken(tok *oauth2.Token) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.tok = tok
	a.src = a.cfg.TokenSource(context.Background(), tok)
}

// AuthorizeLibraryURL builds the standard OAuth2 consent URL.
func (a *OAuth2) AuthorizeLibraryURL() string {
	return a.cfg.AuthCodeURL(a.state, oauth2.AccessTypeOffline)
}

// Token returns the current access token, performing x/oauth2's own silent
// refresh if the cached token has expired. This is distinct from the
// core's own Coordinator-mediated Refresh: golang.org/x/oauth2 already
// single-flights its own internal refresh per TokenSource instance, and
// Coordinator exists to single-flight across retries of the *outer* HTTP
// call after a 401, which can race independently of token expiry.
func (a *OAuth2) Token(ctx context.Context) (provider.Token, error) {
	a.mu.Lock()
	src := a.src
	a.mu.Unlock()

	if src == nil {
		return provider.Token{}, clouderr.Auth("oauth2: not logged in")
	}

	tok, err := src.Token()
	if err != nil {
		return provider.Token{}, clouderr.Auth(fmt.Sprintf("oauth2: token refresh failed: %v", err))
	}

	a.mu.Lock()
	a.tok = tok
	a.mu.Unlock()

	return toProviderToken(tok), nil
}

// Refresh forces a fresh access token by invalidating the cached expiry,
// then re-deriving through the same oauth2.TokenSource silent-refresh path.
func (a *OAuth2) Refresh(ctx context.Context) (provider.Token, error) {
	a.mu.Lock()
	tok := a.tok
	a.mu.Unlock()

	if tok == nil {
		return provider.Token{}, clouderr.Auth("oauth2: no refresh token available")
	}

	expired := *tok
	expired.Expiry = time.Now().Add(-time.Minute) // force the underlying source to refresh

	src := a.cfg.TokenSource(ctx, &expired)

	newTok, err := src.Token()
	if err != nil {
		return provider.Token{}, clouderr.Auth(fmt.Sprintf("oauth2: refresh failed: %v", err))
	}

	a.setToken(newTok)

	return toProviderToken(newTok), nil
}

// ExchangeCode runs the authorization-code-for-token exchange.
func (a *OAuth2) ExchangeCode(ctx context.Context, code string) (provider.Token, error) {
	tok, err := a.cfg.Exchange(ctx, code)
	if err != nil {
		return provider.Token{}, clouderr.Auth(fmt.Sprintf("oauth2: code exchange failed: %v", err))
	}

	a.setToken(tok)

	return toProviderToken(tok), nil
}

func toProviderToken(tok *oauth2.Token) provider.Token {
	expiresIn := 0
	if !tok.Expiry.IsZero() {
		if d := int(tok.Expiry.Sub(time.Now()).Seconds()); d > 0 {
			expiresIn = d
		}
	}

	return provider.Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresIn:    expiresIn,
	}
}
