package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseTestConfig() *Config {
	cfg := DefaultConfig()
	cfg.Accounts["work"] = Account{
		Provider:    "googledrive",
		AccessToken: "work-token",
		Hints:       map[string]string{"client_id": "abc"},
	}

	return cfg
}

func TestResolveAccount_ExplicitName(t *testing.T) {
	cfg := baseTestConfig()

	ra, err := ResolveAccount(cfg, "work")
	require.NoError(t, err)
	assert.Equal(t, "work", ra.Name)
	assert.Equal(t, "googledrive", ra.ProviderName())
	assert.Equal(t, "work-token", ra.Token.AccessToken)
	assert.Equal(t, "abc", ra.Hints.Get("client_id"))
}

func TestResolveAccount_SoleAccountIsDefault(t *testing.T) {
	cfg := baseTestConfig()

	ra, err := ResolveAccount(cfg, "")
	require.NoError(t, err)
	assert.Equal(t, "work", ra.Name)
}

func TestResolveAccount_LiteralDefaultNamePreferred(t *testing.T) {
	cfg := baseTestConfig()
	cfg.Accounts["default"] = Account{Provider: "dropbox", AccessToken: "d"}

	ra, err := ResolveAccount(cfg, "")
	require.NoError(t, err)
	assert.Equal(t, "default", ra.Name)
}

func TestResolveAccount_AmbiguousWithoutSelector(t *testing.T) {
	cfg := baseTestConfig()
	cfg.Accounts["personal"] = Account{Provider: "dropbox", AccessToken: "d"}

	_, err := ResolveAccount(cfg, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--account")
}

func TestResolveAccount_UnknownNameErrors(t *testing.T) {
	cfg := baseTestConfig()

	_, err := ResolveAccount(cfg, "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestResolveAccount_NoAccountsErrors(t *testing.T) {
	cfg := DefaultConfig()

	_, err := ResolveAccount(cfg, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no accounts")
}

func TestResolveAccount_SectionOverrideReplacesWholesale(t *testing.T) {
	cfg := baseTestConfig()
	acc := cfg.Accounts["work"]
	acc.Transfers = &TransfersConfig{
		ParallelDownloads: 2,
		ParallelUploads:   2,
		ChunkSize:         "20MiB",
		BandwidthLimit:    "0",
	}
	cfg.Accounts["work"] = acc

	ra, err := ResolveAccount(cfg, "work")
	require.NoError(t, err)
	assert.Equal(t, 2, ra.Transfers.ParallelDownloads)
	assert.Equal(t, "20MiB", ra.Transfers.ChunkSize)

	// Untouched accounts still see the global default.
	cfg.Accounts["other"] = Account{Provider: "dropbox", AccessToken: "x"}

	raOther, err := ResolveAccount(cfg, "other")
	require.NoError(t, err)
	assert.Equal(t, cfg.Transfers.ParallelDownloads, raOther.Transfers.ParallelDownloads)
}
