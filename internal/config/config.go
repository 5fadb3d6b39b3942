// Package config implements TOML-backed persistence for cloudfs: named
// provider accounts (credentials, hints) plus a small set of global
// transfer/logging/network defaults every account inherits unless it
// overrides them. Per-account section overrides completely replace the
// corresponding global section; individual fields are not merged.
package config

// Config is the top-level configuration structure: a set of named accounts
// plus global sections.
type Config struct {
	Accounts  map[string]Account `toml:"account"`
	Transfers TransfersConfig    `toml:"transfers"`
	Logging   LoggingConfig      `toml:"logging"`
	Network   NetworkConfig      `toml:"network"`
}

// TransfersConfig controls parallel worker counts and transfer chunking.
type TransfersConfig struct {
	ParallelDownloads int    `toml:"parallel_downloads"`
	ParallelUploads   int    `toml:"parallel_uploads"`
	ChunkSize         string `toml:"chunk_size"`
	BandwidthLimit    string `toml:"bandwidth_limit"`
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFile   string `toml:"log_file"`
	LogFormat string `toml:"log_format"`
}

// NetworkConfig controls HTTP client behavior.
type NetworkConfig struct {
	ConnectTimeout string `toml:"connect_timeout"`
	DataTimeout    string `toml:"data_timeout"`
	UserAgent      string `toml:"user_agent"`
}
