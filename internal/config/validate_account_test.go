package config

import (
	"testing"

	"github.com/stretchr/testify/assert"

	// Registers "google" for provider-name validation.
	_ "github.com/tonimelisma/cloudfs/internal/providers/googledrive"
)

func TestValidateAccounts_RejectsUnregisteredProvider(t *testing.T) {
	errs := validateAccounts(map[string]Account{
		"work": {Provider: "not-a-real-provider", AccessToken: "t"},
	})

	assert.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "not a registered provider")
}

func TestValidateAccounts_RejectsEmptyProvider(t *testing.T) {
	errs := validateAccounts(map[string]Account{
		"work": {AccessToken: "t"},
	})

	assert.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "must not be empty")
}

func TestValidateAccounts_RejectsMissingToken(t *testing.T) {
	errs := validateAccounts(map[string]Account{
		"work": {Provider: "google"},
	})

	assert.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "access_token or refresh_token")
}

func TestValidateAccounts_AcceptsRefreshTokenOnly(t *testing.T) {
	errs := validateAccounts(map[string]Account{
		"work": {Provider: "google", RefreshToken: "r"},
	})

	assert.Empty(t, errs)
}
