package config

// Default values for configuration options. These represent the "layer 0"
// of the four-layer override chain.
const (
	defaultRemoteURL        = "http://127.0.0.1:8787"
	defaultSyncMode         = "default"
	defaultFlushTimeout     = "10s"
	defaultLogLevel         = "info"
	defaultLogFormat        = "auto"
	defaultLogRetentionDays = 30
	defaultConnectTimeout   = "10s"
	defaultDataTimeout      = "30s"
	defaultUserAgent        = "stitchkeep/0.1"
)

// DefaultConfig returns a Config populated with all default values.
// This is used both as the starting point for TOML decoding (so unset
// fields retain defaults) and as the fallback when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		RemoteConfig: RemoteConfig{
			RemoteURL: defaultRemoteURL,
			Subscribe: true,
		},
		SyncConfig: SyncConfig{
			SyncMode:     defaultSyncMode,
			FlushTimeout: defaultFlushTimeout,
		},
		LoggingConfig: LoggingConfig{
			LogLevel:         defaultLogLevel,
			LogFormat:        defaultLogFormat,
			LogRetentionDays: defaultLogRetentionDays,
		},
		NetworkConfig: NetworkConfig{
			ConnectTimeout: defaultConnectTimeout,
			DataTimeout:    defaultDataTimeout,
			UserAgent:      defaultUserAgent,
		},
	}
}
