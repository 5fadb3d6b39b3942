package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	// Registers "google" in the provider registry so
	// validateProviderName can resolve it.
	_ "github.com/tonimelisma/cloudfs/internal/providers/googledrive"
)

func TestValidate_DefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Accounts["default"] = Account{Provider: "google", AccessToken: "t"}

	assert.NoError(t, Validate(cfg))
}

func TestValidate_RejectsBadChunkSize(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Accounts["default"] = Account{Provider: "google", AccessToken: "t"}
	cfg.Transfers.ChunkSize = "1MiB"

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chunk_size")
}

func TestValidate_RejectsUnalignedChunkSize(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Accounts["default"] = Account{Provider: "google", AccessToken: "t"}
	cfg.Transfers.ChunkSize = "10485761B"

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "320 KiB")
}

func TestValidate_RejectsBadLogLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Accounts["default"] = Account{Provider: "google", AccessToken: "t"}
	cfg.Logging.LogLevel = "verbose"

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_level")
}

func TestValidate_RejectsShortConnectTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Accounts["default"] = Account{Provider: "google", AccessToken: "t"}
	cfg.Network.ConnectTimeout = "100ms"

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect_timeout")
}

func TestValidate_AccumulatesMultipleErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Accounts["default"] = Account{Provider: "bogus-provider", AccessToken: "t"}
	cfg.Logging.LogLevel = "verbose"
	cfg.Network.ConnectTimeout = "100ms"

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_level")
	assert.Contains(t, err.Error(), "connect_timeout")
	assert.Contains(t, err.Error(), "provider")
}
