package tokenstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tonimelisma/cloudfs/internal/provider"
)

// ErrNotFound is returned by Get when no token is persisted for the given
// (provider, account) key.
var ErrNotFound = errors.New("tokenstore: not found")

const (
	sqlGetToken = `SELECT access_token, refresh_token, expires_in, hints
		FROM tokens WHERE provider = ? AND account = ?`

	sqlUpsertToken = `INSERT INTO tokens
		(provider, account, access_token, refresh_token, expires_in, hints, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(provider, account) DO UPDATE SET
			access_token  = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expires_in    = excluded.expires_in,
			hints         = excluded.hints,
			updated_at    = excluded.updated_at`

	sqlDeleteToken = `DELETE FROM tokens WHERE provider = ? AND account = ?`

	sqlListAccounts = `SELECT provider, account FROM tokens ORDER BY provider, account`
)

func (s *Store) prepareTokenStmts(ctx context.Context) error {
	return prepareAll(ctx, s.db, []stmtDef{
		{&s.tokenStmts.get, sqlGetToken, "getToken"},
		{&s.tokenStmts.upsert, sqlUpsertToken, "upsertToken"},
		{&s.tokenStmts.delete, sqlDeleteToken, "deleteToken"},
		{&s.tokenStmts.listAccounts, sqlListAccounts, "listAccounts"},
	})
}

// AccountKey identifies one persisted credential: a provider backend name
// plus the caller's chosen account name (the key tokenstore is indexed by,
// matching internal/config's account naming).
type AccountKey struct {
	Provider string
	Account  string
}

// Get returns the token and hints persisted for key, or ErrNotFound if
// none exists.
func (s *Store) Get(ctx context.Context, key AccountKey) (provider.Token, provider.Hints, error) {
	var (
		accessToken, refreshToken, hintsJSON string
		expiresIn                            int
	)

	row := s.tokenStmts.get.QueryRowContext(ctx, key.Provider, key.Account)

	err := row.Scan(&accessToken, &refreshToken, &expiresIn, &hintsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return provider.Token{}, nil, ErrNotFound
	}

	if err != nil {
		return provider.Token{}, nil, fmt.Errorf("tokenstore: get %s/%s: %w", key.Provider, key.Account, err)
	}

	hints, err := decodeHints(hintsJSON)
	if err != nil {
		return provider.Token{}, nil, fmt.Errorf("tokenstore: decode hints for %s/%s: %w", key.Provider, key.Account, err)
	}

	tok := provider.Token{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    expiresIn,
	}

	return tok, hints, nil
}

// Put persists tok and hints under key, replacing any prior value. Its
// only caller is cloudfsctl's login, which saves the token the login
// produced; a token refreshed later in a session is not written back here.
func (s *Store) Put(ctx context.Context, key AccountKey, tok provider.Token, hints provider.Hints) error {
	hintsJSON, err := encodeHints(hints)
	if err != nil {
		return fmt.Errorf("tokenstore: encode hints for %s/%s: %w", key.Provider, key.Account, err)
	}

	_, err = s.tokenStmts.upsert.ExecContext(ctx,
		key.Provider, key.Account, tok.AccessToken, tok.RefreshToken, tok.ExpiresIn,
		hintsJSON, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("tokenstore: put %s/%s: %w", key.Provider, key.Account, err)
	}

	return nil
}

// Delete removes the persisted token for key. Idempotent: returns nil if
// no row existed.
func (s *Store) Delete(ctx context.Context, key AccountKey) error {
	if _, err := s.tokenStmts.delete.ExecContext(ctx, key.Provider, key.Account); err != nil {
		return fmt.Errorf("tokenstore: delete %s/%s: %w", key.Provider, key.Account, err)
	}

	return nil
}

// ListAccounts returns every persisted (provider, account) key, sorted.
func (s *Store) ListAccounts(ctx context.Context) ([]AccountKey, error) {
	rows, err := s.tokenStmts.listAccounts.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("tokenstore: list accounts: %w", err)
	}
	defer rows.Close()

	var keys []AccountKey

	for rows.Next() {
		var k AccountKey
		if err := rows.Scan(&k.Provider, &k.Account); err != nil {
			return nil, fmt.Errorf("tokenstore: scan account row: %w", err)
		}

		keys = append(keys, k)
	}

	return keys, rows.Err()
}

func encodeHints(hints provider.Hints) (string, error) {
	if hints == nil {
		hints = provider.Hints{}
	}

	b, err := json.Marshal(hints)
	if err != nil {
		return "", err
	}

	return string(b), nil
}

func decodeHints(raw string) (provider.Hints, error) {
	if raw == "" {
		return provider.Hints{}, nil
	}

	var hints provider.Hints

	if err := json.Unmarshal([]byte(raw), &hints); err != nil {
		return nil, err
	}

	return hints, nil
}
