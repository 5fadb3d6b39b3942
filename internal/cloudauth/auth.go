// Package cloudauth implements the authorization state machine shared by
// every provider: OAuth2 and non-OAuth2 token sources behind one interface,
// plus the single-flight reauthorization coordinator.
package cloudauth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/tonimelisma/cloudfs/internal/clouderr"
	"github.com/tonimelisma/cloudfs/internal/provider"
)

// TokenSource is the contract every provider's auth mechanism satisfies,
// whether OAuth2 or a static non-OAuth credential.
type TokenSource interface {
	// Token returns the current token without forcing a refresh.
	Token(ctx context.Context) (provider.Token, error)
	// Refresh fetches (or, for non-OAuth providers, re-validates) a token.
	Refresh(ctx context.Context) (provider.Token, error)
	// AuthorizeLibraryURL returns the URL a user must open to grant consent.
	AuthorizeLibraryURL() string
	// ExchangeCode trades an authorization code (or, for non-OAuth
	// providers, a verbatim credential blob) for a Token.
	ExchangeCode(ctx context.Context, code string) (provider.Token, error)
}

// StaticCredential implements TokenSource for providers that have no OAuth2
// dance at all (WebDAV, S3, local): the "token" is base64(JSON) of a small
// structured blob, and refresh is a validity probe the caller supplies.
type StaticCredential struct {
	// Blob is the base64-encoded JSON credential: a provider without OAuth2
	// encodes its credential into refresh_token.
	Blob string

	// Probe validates the credential against the remote, if the backend
	// supports a cheap validity check. May be nil, in which case Refresh
	// always succeeds without contacting the remote.
	Probe func(ctx context.Context, blob string) error

	authorizeURL string
}

// NewStaticCredential builds a StaticCredential from a structured value,
// JSON-marshaled and base64-encoded into the refresh_token format.
func NewStaticCredential(v any, authorizeURL string, probe func(context.Context, string) error) (*StaticCredential, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("cloudauth: marshaling static credential: %w", err)
	}

	return &StaticCredential{
		Blob:         base64.StdEncoding.EncodeToString(raw),
		Probe:        probe,
		authorizeURL: authorizeURL,
	}, nil
}

func (s *StaticCredential) Token(context.Context) (provider.Token, error) {
	return provider.Token{RefreshToken: s.Blob}, nil
}

func (s *StaticCredential) Refresh(ctx context.Context) (provider.Token, error) {
	if s.Probe != nil {
		if err := s.Probe(ctx, s.Blob); err != nil {
			return provider.Token{}, clouderr.Auth(err.Error())
		}
	}

	return provider.Token{RefreshToken: s.Blob}, nil
}

func (s *StaticCredential) AuthorizeLibraryURL() string {
	return s.authorizeURL
}

// ExchangeCode for a non-OAuth provider is a no-op: the code IS the token.
func (s *StaticCredential) ExchangeCode(_ context.Context, code string) (provider.Token, error) {
	return provider.Token{RefreshToken: code}, nil
}

// DecodeStaticBlob reverses NewStaticCredential's encoding, used to
// reconstruct a provider's structured
// credential from a persisted refresh_token.
func DecodeStaticBlob(blob string, out any) error {
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return fmt.Errorf("cloudauth: decoding static credential: %w", err)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("cloudauth: parsing static credential: %w", err)
	}

	return nil
}
