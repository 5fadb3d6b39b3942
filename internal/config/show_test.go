package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderEffective_IncludesAccountAndSections(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Accounts["work"] = Account{Provider: "googledrive", AccessToken: "t"}

	ra, err := ResolveAccount(cfg, "work")
	require.NoError(t, err)

	var buf strings.Builder
	require.NoError(t, RenderEffective(ra, &buf))

	out := buf.String()
	assert.Contains(t, out, `name     = "work"`)
	assert.Contains(t, out, `provider = "googledrive"`)
	assert.Contains(t, out, "[transfers]")
	assert.Contains(t, out, "[logging]")
	assert.Contains(t, out, "[network]")
	assert.NotContains(t, out, hintProviderName)
}
