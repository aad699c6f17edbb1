package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Resolved is the effective configuration after the four-layer override
// chain, with durations parsed and paths made absolute.
type Resolved struct {
	ConfigPath       string
	RemoteURL        string
	Subscribe        bool
	SyncMode         string
	FlushTimeout     time.Duration
	DataDir          string
	IdentityPath     string
	BackupPath       string
	PolicyPath       string
	LogLevel         string
	LogFile          string
	LogFormat        string
	LogRetentionDays int
	ConnectTimeout   time.Duration
	DataTimeout      time.Duration
	UserAgent        string
}

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unknown keys are fatal errors with "did you mean?"
// suggestions.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := CheckUnknownKeys(&md, knownKeysList); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns
// a Config populated with all default values. Users can start without
// creating a config file.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Resolve loads configuration and applies the four-layer override chain:
// defaults -> config file -> environment variables -> CLI flags.
func Resolve(env EnvOverrides, cli CLIOverrides) (*Resolved, error) {
	// 1. Resolve config path: CLI > env > default
	cfgPath := DefaultConfigPath()
	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
	}

	if cli.ConfigPath != "" {
		cfgPath = cli.ConfigPath
	}

	// 2. Load config file (returns defaults if no file exists)
	cfg, err := LoadOrDefault(cfgPath)
	if err != nil {
		return nil, err
	}

	// 3. Apply env overrides
	if env.DataDir != "" {
		cfg.DataDir = env.DataDir
	}

	if env.RemoteURL != "" {
		cfg.RemoteURL = env.RemoteURL
	}

	// 4. Apply CLI overrides
	if cli.DataDir != "" {
		cfg.DataDir = cli.DataDir
	}

	if cli.RemoteURL != "" {
		cfg.RemoteURL = cli.RemoteURL
	}

	if cli.Subscribe != nil {
		cfg.Subscribe = *cli.Subscribe
	}

	if cli.SyncMode != nil {
		cfg.SyncMode = *cli.SyncMode
	}

	// 5. Validate again: env and CLI values bypassed the file validation.
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return resolve(cfg, cfgPath)
}

// resolve converts a validated Config into a Resolved. Durations were
// already checked by Validate, so parse errors cannot occur here.
func resolve(cfg *Config, cfgPath string) (*Resolved, error) {
	dataDir := expandTilde(cfg.DataDir)
	if dataDir == "" {
		dataDir = DefaultDataDir()
	}

	if dataDir == "" {
		return nil, errors.New("config: cannot determine data directory (set data_dir)")
	}

	identity := expandTilde(cfg.IdentityFile)
	if identity == "" {
		identity = filepath.Join(dataDir, identityFileName)
	}

	flush, _ := time.ParseDuration(cfg.FlushTimeout)
	connect, _ := time.ParseDuration(cfg.ConnectTimeout)
	data, _ := time.ParseDuration(cfg.DataTimeout)

	return &Resolved{
		ConfigPath:       cfgPath,
		RemoteURL:        strings.TrimRight(cfg.RemoteURL, "/"),
		Subscribe:        cfg.Subscribe,
		SyncMode:         cfg.SyncMode,
		FlushTimeout:     flush,
		DataDir:          dataDir,
		IdentityPath:     identity,
		BackupPath:       filepath.Join(dataDir, backupFileName),
		PolicyPath:       filepath.Join(filepath.Dir(cfgPath), policyFileName),
		LogLevel:         cfg.LogLevel,
		LogFile:          expandTilde(cfg.LogFile),
		LogFormat:        cfg.LogFormat,
		LogRetentionDays: cfg.LogRetentionDays,
		ConnectTimeout:   connect,
		DataTimeout:      data,
		UserAgent:        cfg.UserAgent,
	}, nil
}

// expandTilde replaces a leading "~/" with the user's home directory.
func expandTilde(p string) string {
	if !strings.HasPrefix(p, "~/") {
		return p
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}

	return filepath.Join(home, p[2:])
}
