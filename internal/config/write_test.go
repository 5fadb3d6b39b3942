package config

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDumpAccounts_ThenLoadAccounts_RoundTrips(t *testing.T) {
	accounts := map[string]Account{
		"work": {
			Provider:     "googledrive",
			AccessToken:  "at-1",
			RefreshToken: "rt-1",
			ExpiresIn:    1800,
			Hints:        map[string]string{"client_id": "abc"},
		},
		"personal": {
			Provider:    "dropbox",
			AccessToken: "at-2",
		},
	}

	var buf bytes.Buffer
	require.NoError(t, DumpAccounts(&buf, accounts))

	restored, err := LoadAccounts(&buf)
	require.NoError(t, err)

	require.Contains(t, restored, "work")
	assert.Equal(t, "googledrive", restored["work"].Provider)
	assert.Equal(t, "at-1", restored["work"].AccessToken)
	assert.Equal(t, "rt-1", restored["work"].RefreshToken)
	assert.Equal(t, 1800, restored["work"].ExpiresIn)
	assert.Equal(t, "abc", restored["work"].Hints["client_id"])

	require.Contains(t, restored, "personal")
	assert.Equal(t, "dropbox", restored["personal"].Provider)
	assert.Equal(t, "at-2", restored["personal"].AccessToken)
}

func TestDumpAccounts_EmptySetRoundTrips(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, DumpAccounts(&buf, map[string]Account{}))

	restored, err := LoadAccounts(&buf)
	require.NoError(t, err)
	assert.Empty(t, restored)
}

func TestLoadAccounts_RejectsGarbage(t *testing.T) {
	_, err := LoadAccounts(bytes.NewBufferString("not valid toml {{{"))
	assert.Error(t, err)
}
