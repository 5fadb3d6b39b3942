package main

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/cloudfs/internal/cloudcore"
	"github.com/tonimelisma/cloudfs/internal/config"
	"github.com/tonimelisma/cloudfs/internal/provider"
)

func TestParseHints_ParsesKeyValuePairs(t *testing.T) {
	hints, err := parseHints([]string{"client_id=abc", "client_secret=def"})
	require.NoError(t, err)
	assert.Equal(t, "abc", hints.Get("client_id"))
	assert.Equal(t, "def", hints.Get("client_secret"))
}

func TestParseHints_RejectsMissingEquals(t *testing.T) {
	_, err := parseHints([]string{"not-a-pair"})
	assert.Error(t, err)
}

func TestParseHints_EmptyInputYieldsEmptyHints(t *testing.T) {
	hints, err := parseHints(nil)
	require.NoError(t, err)
	assert.Empty(t, hints)
}

// testProviderName is registered once for this test binary so whoami/quota
// can be exercised against the fakeBackend through the real
// provider.Create/config.ResolveAccount path instead of constructing a
// CLIContext that bypasses the registry entirely.
const testProviderName = "cloudfsctl-test-fake"

var testBackend = newFakeBackend(testProviderName)

func init() {
	testBackend.generalData = provider.GeneralData{Username: "alice", SpaceUsed: 100, SpaceTotal: 1000}

	provider.Register(testProviderName, func(provider.InitData) (provider.Provider, error) {
		return testBackend, nil
	})
}

func resolvedTestAccount(t *testing.T) *config.ResolvedAccount {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Accounts["default"] = config.Account{Provider: testProviderName, AccessToken: "seed"}

	account, err := config.ResolveAccount(cfg, "")
	require.NoError(t, err)

	return account
}

func newTestCLIContext(t *testing.T) *CLIContext {
	t.Helper()

	return &CLIContext{
		Account: resolvedTestAccount(t),
		Cfg:     config.DefaultConfig(),
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Pool:    cloudcore.NewThreadPool(1),
		Loop:    cloudcore.NewEventLoop(),
	}
}

func TestRunWhoami_PrintsAccountIdentity(t *testing.T) {
	cc := newTestCLIContext(t)

	cmd := &cobra.Command{}
	cmd.SetContext(context.WithValue(context.Background(), cliContextKey{}, cc))

	out := captureStdout(t, func() {
		require.NoError(t, runWhoami(cmd, nil))
	})

	assert.Contains(t, out, "alice")
	assert.Contains(t, out, testProviderName)
}

func TestRunQuota_PrintsUsedAndTotal(t *testing.T) {
	cc := newTestCLIContext(t)

	cmd := &cobra.Command{}
	cmd.SetContext(context.WithValue(context.Background(), cliContextKey{}, cc))

	out := captureStdout(t, func() {
		require.NoError(t, runQuota(cmd, nil))
	})

	assert.Contains(t, out, "100 B")
	assert.Contains(t, out, "1000 B")
}
