package config

import (
	"fmt"
	"slices"

	"github.com/tonimelisma/cloudfs/internal/provider"
)

// validateAccounts checks all account-level constraints.
func validateAccounts(accounts map[string]Account) []error {
	var errs []error

	for name := range accounts {
		acc := accounts[name]
		errs = append(errs, validateSingleAccount(name, &acc)...)
	}

	return errs
}

// validateSingleAccount validates one account's fields.
func validateSingleAccount(name string, acc *Account) []error {
	var errs []error

	errs = append(errs, validateProviderName(name, acc.Provider)...)
	errs = append(errs, validateAccountToken(name, acc)...)

	if acc.Transfers != nil {
		errs = append(errs, validateTransfers(acc.Transfers)...)
	}

	if acc.Logging != nil {
		errs = append(errs, validateLogging(acc.Logging)...)
	}

	if acc.Network != nil {
		errs = append(errs, validateNetwork(acc.Network)...)
	}

	return errs
}

// validateProviderName checks that provider names a registered backend.
func validateProviderName(accountName, providerName string) []error {
	if providerName == "" {
		return []error{fmt.Errorf("account.%s.provider: must not be empty", accountName)}
	}

	if !slices.Contains(provider.Names(), providerName) {
		return []error{fmt.Errorf(
			"account.%s.provider: %q is not a registered provider (known: %v)",
			accountName, providerName, provider.Names())}
	}

	return nil
}

// validateAccountToken checks that an account carries at least one credential
// a provider can be seeded with.
func validateAccountToken(accountName string, acc *Account) []error {
	if acc.AccessToken == "" && acc.RefreshToken == "" {
		return []error{fmt.Errorf(
			"account.%s: must set access_token or refresh_token", accountName)}
	}

	return nil
}
