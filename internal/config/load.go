package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/BurntSushi/toml"
)

// CLIOverrides holds values a caller (typically a CLI's persistent flags)
// wants to take priority over both the config file and the environment.
type CLIOverrides struct {
	ConfigPath string
	Account    string
}

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unknown keys are treated as fatal errors with "did you
// mean?" suggestions.
func Load(path string, logger *slog.Logger) (*Config, error) {
	logger.Debug("loading config file", "path", path)

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	logger.Debug("config file parsed successfully",
		"path", path,
		"account_count", len(cfg.Accounts),
	)

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns
// a Config populated with all default values. This supports the zero-config
// first-run experience: callers can start without creating a config file.
func LoadOrDefault(path string, logger *slog.Logger) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		logger.Debug("config file not found, using defaults", "path", path)

		return DefaultConfig(), nil
	}

	return Load(path, logger)
}

// ResolveConfigPath determines the config file path using the three-layer
// priority: CLI flag > environment variable > platform default. This is the
// single correct implementation of config path resolution — every caller
// (a CLI's PersistentPreRunE, ResolveAccount's callers) should use it.
func ResolveConfigPath(env EnvOverrides, cli CLIOverrides, logger *slog.Logger) string {
	cfgPath := DefaultConfigPath()
	source := "default"

	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
		source = "env"
	}

	if cli.ConfigPath != "" {
		cfgPath = cli.ConfigPath
		source = "cli"
	}

	logger.Debug("config path resolved", "path", cfgPath, "source", source)

	return cfgPath
}

// LoadAndResolveAccount loads configuration from the path implied by env
// and cli overrides and resolves the named account, applying the
// three-layer override chain: defaults -> config file -> environment ->
// CLI flags. It returns the resolved account and the raw parsed config
// (a caller persisting a token refresh needs the latter to call Save).
func LoadAndResolveAccount(env EnvOverrides, cli CLIOverrides, logger *slog.Logger) (*ResolvedAccount, *Config, error) {
	cfgPath := ResolveConfigPath(env, cli, logger)

	cfg, err := LoadOrDefault(cfgPath, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}

	accountName := env.Account
	if cli.Account != "" {
		accountName = cli.Account
	}

	logger.Debug("account selector resolved",
		"selector", accountName,
		"source_env", env.Account,
		"source_cli", cli.Account,
	)

	resolved, err := ResolveAccount(cfg, accountName)
	if err != nil {
		return nil, nil, err
	}

	return resolved, cfg, nil
}
