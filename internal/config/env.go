package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig  = "CLOUDFS_CONFIG"
	EnvAccount = "CLOUDFS_ACCOUNT"
)

// EnvOverrides holds values derived from environment variables. These are
// resolved by ReadEnvOverrides and made available to callers; reading them
// does not modify the Config.
type EnvOverrides struct {
	ConfigPath string // CLOUDFS_CONFIG: override config file path
	Account    string // CLOUDFS_ACCOUNT: active account name
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		Account:    os.Getenv(EnvAccount),
	}
}
