package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig    = "STITCHKEEP_CONFIG"
	EnvDataDir   = "STITCHKEEP_DATA_DIR"
	EnvRemoteURL = "STITCHKEEP_REMOTE_URL"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath string // STITCHKEEP_CONFIG: override config file path
	DataDir    string // STITCHKEEP_DATA_DIR: data directory override
	RemoteURL  string // STITCHKEEP_REMOTE_URL: remote store override
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
// This does not modify the Config; callers apply the relevant fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		DataDir:    os.Getenv(EnvDataDir),
		RemoteURL:  os.Getenv(EnvRemoteURL),
	}
}
