package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Validation range constants.
const (
	minLogRetention   = 1
	minFlushTimeout   = 1 * time.Second
	minConnectTimeout = 1 * time.Second
	minDataTimeout    = 5 * time.Second
)

// validSyncModes mirrors the named presets of the policy package. The
// policy package imports config, so the names are repeated here.
var validSyncModes = map[string]bool{
	"default": true,
	"economy": true,
	"rapid":   true,
}

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first, so users
// see a complete report and can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateRemote(&cfg.RemoteConfig)...)
	errs = append(errs, validateSync(&cfg.SyncConfig)...)
	errs = append(errs, validateLogging(&cfg.LoggingConfig)...)
	errs = append(errs, validateNetwork(&cfg.NetworkConfig)...)

	return errors.Join(errs...)
}

func validateRemote(r *RemoteConfig) []error {
	u, err := url.Parse(r.RemoteURL)
	if err != nil {
		return []error{fmt.Errorf("remote_url: invalid URL %q: %w", r.RemoteURL, err)}
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return []error{fmt.Errorf("remote_url: scheme must be http or https, got %q", r.RemoteURL)}
	}

	if u.Host == "" {
		return []error{fmt.Errorf("remote_url: missing host in %q", r.RemoteURL)}
	}

	return nil
}

func validateSync(s *SyncConfig) []error {
	var errs []error

	if !validSyncModes[s.SyncMode] {
		errs = append(errs, fmt.Errorf("sync_mode: must be one of default, economy, rapid; got %q", s.SyncMode))
	}

	errs = append(errs, validateDurationMin("flush_timeout", s.FlushTimeout, minFlushTimeout)...)

	return errs
}

func validateDurationMin(field, value string, minimum time.Duration) []error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid duration %q: %w", field, value, err)}
	}

	if d < minimum {
		return []error{fmt.Errorf("%s: must be >= %s, got %s", field, minimum, d)}
	}

	return nil
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	errs = append(errs, validateLogLevel(l.LogLevel)...)
	errs = append(errs, validateLogFormat(l.LogFormat)...)

	if l.LogRetentionDays < minLogRetention {
		errs = append(errs, fmt.Errorf("log_retention_days: must be >= %d, got %d",
			minLogRetention, l.LogRetentionDays))
	}

	return errs
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

func validateLogLevel(level string) []error {
	if !validLogLevels[level] {
		return []error{fmt.Errorf("log_level: must be one of debug, info, warn, error; got %q", level)}
	}

	return nil
}

var validLogFormats = map[string]bool{
	"auto": true,
	"text": true,
	"json": true,
}

func validateLogFormat(format string) []error {
	if !validLogFormats[format] {
		return []error{fmt.Errorf("log_format: must be one of auto, text, json; got %q", format)}
	}

	return nil
}

func validateNetwork(n *NetworkConfig) []error {
	var errs []error

	errs = append(errs, validateDurationMin("connect_timeout", n.ConnectTimeout, minConnectTimeout)...)
	errs = append(errs, validateDurationMin("data_timeout", n.DataTimeout, minDataTimeout)...)

	return errs
}
