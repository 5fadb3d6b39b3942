package config

import (
	"fmt"

	"github.com/tonimelisma/cloudfs/internal/provider"
)

// defaultAccountName is the account name used when --account is omitted.
const defaultAccountName = "default"

// Account represents one persisted provider account within a TOML config
// file: which provider.Provider backend to construct, the token to seed it
// with, and any construction Hints (client ID, bucket, region, endpoint,
// ...) the provider needs. Per-account section overrides (e.g.
// [account.work.transfers]) completely replace the corresponding global
// section — individual fields are not merged.
type Account struct {
	Provider     string            `toml:"provider"`
	AccessToken  string            `toml:"access_token"`
	RefreshToken string            `toml:"refresh_token"`
	ExpiresIn    int               `toml:"expires_in"`
	Hints        map[string]string `toml:"hints"`

	Transfers *TransfersConfig `toml:"transfers,omitempty"`
	Logging   *LoggingConfig   `toml:"logging,omitempty"`
	Network   *NetworkConfig   `toml:"network,omitempty"`
}

// ResolvedAccount contains an account's fields plus effective config
// sections after merging global defaults with per-account overrides. This
// is the final product consumed by the CLI and by provider.Create.
type ResolvedAccount struct {
	Name  string
	Token provider.Token
	Hints provider.Hints

	Transfers TransfersConfig
	Logging   LoggingConfig
	Network   NetworkConfig
}

// ProviderName returns the provider.Provider registry key this account
// constructs, read back out of Hints where ResolveAccount stashes it so
// callers don't need a second map lookup.
func (ra *ResolvedAccount) ProviderName() string { return ra.Hints.Get(hintProviderName) }

// hintProviderName is a private Hints key ResolveAccount uses to smuggle
// the account's provider name alongside its real construction hints,
// since provider.InitData has no separate "which backend" field of its
// own — the caller picks the constructor by provider.Create(name, ...).
const hintProviderName = "_account_provider"

// ResolveAccount merges global defaults with account-specific overrides.
// If accountName is empty, the default account is selected: a literal
// "default" account if present, or the sole configured account otherwise.
func ResolveAccount(cfg *Config, accountName string) (*ResolvedAccount, error) {
	name, err := resolveAccountName(cfg, accountName)
	if err != nil {
		return nil, err
	}

	acc := cfg.Accounts[name]

	hints := make(provider.Hints, len(acc.Hints)+1)
	for k, v := range acc.Hints {
		hints[k] = v
	}

	hints[hintProviderName] = acc.Provider

	resolved := &ResolvedAccount{
		Name: name,
		Token: provider.Token{
			AccessToken:  acc.AccessToken,
			RefreshToken: acc.RefreshToken,
			ExpiresIn:    acc.ExpiresIn,
		},
		Hints: hints,
	}

	resolveAccountSections(resolved, &acc, cfg)

	return resolved, nil
}

func resolveAccountSections(resolved *ResolvedAccount, acc *Account, cfg *Config) {
	resolved.Transfers = resolveSection(acc.Transfers, cfg.Transfers)
	resolved.Logging = resolveSection(acc.Logging, cfg.Logging)
	resolved.Network = resolveSection(acc.Network, cfg.Network)
}

// resolveSection returns the account override if present, otherwise the
// global value.
func resolveSection[T any](accountOverride *T, global T) T {
	if accountOverride != nil {
		return *accountOverride
	}

	return global
}

func resolveAccountName(cfg *Config, accountName string) (string, error) {
	if len(cfg.Accounts) == 0 {
		return "", fmt.Errorf("no accounts defined in config")
	}

	if accountName != "" {
		return lookupExplicitAccount(cfg, accountName)
	}

	return lookupDefaultAccount(cfg)
}

func lookupExplicitAccount(cfg *Config, name string) (string, error) {
	if _, ok := cfg.Accounts[name]; !ok {
		return "", fmt.Errorf("account %q not found in config", name)
	}

	return name, nil
}

func lookupDefaultAccount(cfg *Config) (string, error) {
	if _, ok := cfg.Accounts[defaultAccountName]; ok {
		return defaultAccountName, nil
	}

	if len(cfg.Accounts) == 1 {
		for name := range cfg.Accounts {
			return name, nil
		}
	}

	return "", fmt.Errorf(
		"multiple accounts defined but none named %q; use --account to select one",
		defaultAccountName)
}
