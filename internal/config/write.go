package config

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// configFilePermissions is the standard permission mode for config files.
// Owner read/write, group and others read-only.
const configFilePermissions = 0o644

// configDirPermissions is the standard permission mode for config directories.
const configDirPermissions = 0o755

// configTemplateHeader is prepended to the TOML encoding of a fresh Config
// on first Save, so users discover every top-level section without reading
// docs.
const configTemplateHeader = `# cloudfs configuration
#
# [account.<name>] sections hold one provider login each; when --account
# is omitted, "default" is used, or the only account if none is "default".
# [transfers], [logging], and [network] set global defaults; any account
# may override a whole section with its own [account.<name>.transfers]
# (etc.) table — overrides replace the section wholesale, not per-field.

`

// Save serializes cfg as TOML and atomically writes it to path. Used after
// `login` adds a new account, or after any other mutation of a loaded
// Config that should be persisted.
func Save(path string, cfg *Config) error {
	slog.Info("writing config file", "path", path)

	var buf bytes.Buffer

	buf.WriteString(configTemplateHeader)

	enc := toml.NewEncoder(&buf)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	return atomicWriteFile(path, buf.Bytes())
}

// dumpAccounts is the TOML-serializable shape of an account for
// DumpAccounts/LoadAccounts: exactly the provider identity and token,
// without the ambient transfers/logging/network overrides that belong to
// a full config file.
type dumpAccounts struct {
	Accounts map[string]dumpAccount `toml:"account"`
}

type dumpAccount struct {
	Provider     string            `toml:"provider"`
	AccessToken  string            `toml:"access_token"`
	RefreshToken string            `toml:"refresh_token"`
	ExpiresIn    int               `toml:"expires_in"`
	Hints        map[string]string `toml:"hints"`
}

// DumpAccounts serializes provider/token/access_token tuples for every
// account to w as TOML. Pairs with LoadAccounts so a caller can move a set
// of logged-in accounts between machines, or snapshot them before a risky
// operation, without persisting the rest of a Config.
func DumpAccounts(w io.Writer, accounts map[string]Account) error {
	dump := dumpAccounts{Accounts: make(map[string]dumpAccount, len(accounts))}

	for name, acc := range accounts {
		dump.Accounts[name] = dumpAccount{
			Provider:     acc.Provider,
			AccessToken:  acc.AccessToken,
			RefreshToken: acc.RefreshToken,
			ExpiresIn:    acc.ExpiresIn,
			Hints:        acc.Hints,
		}
	}

	if err := toml.NewEncoder(w).Encode(dump); err != nil {
		return fmt.Errorf("encoding accounts: %w", err)
	}

	return nil
}

// LoadAccounts restores the account set written by DumpAccounts. The
// result is ready to assign directly to Config.Accounts, or to merge into
// an existing map.
func LoadAccounts(r io.Reader) (map[string]Account, error) {
	var dump dumpAccounts

	if _, err := toml.NewDecoder(r).Decode(&dump); err != nil {
		return nil, fmt.Errorf("decoding accounts: %w", err)
	}

	accounts := make(map[string]Account, len(dump.Accounts))

	for name, da := range dump.Accounts {
		accounts[name] = Account{
			Provider:     da.Provider,
			AccessToken:  da.AccessToken,
			RefreshToken: da.RefreshToken,
			ExpiresIn:    da.ExpiresIn,
			Hints:        da.Hints,
		}
	}

	return accounts, nil
}

// atomicWriteFile writes data to a temporary file in the same directory as
// path, then renames it to the target path. This prevents partial writes
// from corrupting the config file on crash. Parent directories are created
// as needed. Files are created with configFilePermissions (0644).
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, configDirPermissions); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tempPath := f.Name()

	// Clean up the temp file on any error path.
	succeeded := false
	defer func() {
		if !succeeded {
			os.Remove(tempPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		f.Close()

		return fmt.Errorf("writing temp file: %w", err)
	}

	// Flush data to disk before rename. Without fsync, a power loss after
	// rename could leave the file empty (rename is metadata-only on POSIX).
	if err := f.Sync(); err != nil {
		f.Close()

		return fmt.Errorf("syncing temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Chmod(tempPath, configFilePermissions); err != nil {
		return fmt.Errorf("setting file permissions: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	succeeded = true

	return nil
}
