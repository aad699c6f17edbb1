// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for stitchkeep. It supports a four-layer
// override chain (defaults -> config file -> environment -> CLI flags).
// The sync policy itself lives in its own preference file (see package
// policy); this package only names the mode a fresh install starts in.
package config

// Config is the top-level configuration structure parsed from a TOML file.
// All keys are flat; the embedded structs only group them in code.
type Config struct {
	RemoteConfig
	SyncConfig
	StorageConfig
	LoggingConfig
	NetworkConfig
}

// RemoteConfig locates the remote document store.
type RemoteConfig struct {
	RemoteURL string `toml:"remote_url"`
	Subscribe bool   `toml:"subscribe"`
}

// SyncConfig controls engine behavior that is not part of the live policy.
type SyncConfig struct {
	SyncMode     string `toml:"sync_mode"`
	FlushTimeout string `toml:"flush_timeout"`
}

// StorageConfig controls where local state is kept.
type StorageConfig struct {
	DataDir      string `toml:"data_dir"`
	IdentityFile string `toml:"identity_file"`
}

// LoggingConfig controls log output behavior: level, format, and rotation.
type LoggingConfig struct {
	LogLevel         string `toml:"log_level"`
	LogFile          string `toml:"log_file"`
	LogFormat        string `toml:"log_format"`
	LogRetentionDays int    `toml:"log_retention_days"`
}

// NetworkConfig controls HTTP client behavior.
type NetworkConfig struct {
	ConnectTimeout string `toml:"connect_timeout"`
	DataTimeout    string `toml:"data_timeout"`
	UserAgent      string `toml:"user_agent"`
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings. Pointer fields distinguish "not specified" (nil)
// from "explicitly set to zero value".
type CLIOverrides struct {
	ConfigPath string  // --config flag (empty = use default)
	DataDir    string  // --data-dir flag
	RemoteURL  string  // --remote flag
	Subscribe  *bool   // --subscribe flag
	SyncMode   *string // --mode flag
}
