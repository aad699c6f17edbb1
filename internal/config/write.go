package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

// configFilePermissions is the standard permission mode for config files.
// Owner read/write, group and others read-only.
const configFilePermissions = 0o644

// configDirPermissions is the standard permission mode for config directories.
const configDirPermissions = 0o755

// ErrConfigExists is returned by CreateDefault when a config file is already
// present; user edits are never overwritten.
var ErrConfigExists = errors.New("config: file already exists")

// configTemplate is the config file content written by `stitchkeep config init`.
// Every setting is present as a commented-out default so users can discover
// the options without reading docs.
const configTemplate = `# stitchkeep configuration

# Remote document store.
# remote_url = "http://127.0.0.1:8787"

# Listen for remote changes made on other devices.
# subscribe = true

# Sync preset used until a mode is chosen with 'stitchkeep mode':
# default, economy, rapid
# sync_mode = "default"

# How long shutdown waits for pending writes to drain.
# flush_timeout = "10s"

# Where the backup database and identity file live
# (default: platform data directory).
# data_dir = ""
# identity_file = ""

# Log verbosity: debug, info, warn, error
# log_level = "info"

# Log file path; empty logs to stderr only.
# log_file = ""

# Log format: auto, text, json
# log_format = "auto"
# log_retention_days = 30

# connect_timeout = "10s"
# data_timeout = "30s"
`

// CreateDefault writes the commented template to path. It refuses to
// overwrite an existing file.
func CreateDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s", ErrConfigExists, path)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("checking config file: %w", err)
	}

	slog.Info("creating config file", "path", path)

	return AtomicWriteFile(path, []byte(configTemplate), configFilePermissions)
}

// AtomicWriteFile writes data to path via a temp file in the same directory
// followed by rename, so readers never observe a partial file. Parent
// directories are created as needed.
func AtomicWriteFile(path string, data []byte, perm fs.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, configDirPermissions); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*.tmp")
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

	if err := f.Sync(); err != nil {
		f.Close()

		return fmt.Errorf("syncing temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Chmod(tempPath, perm); err != nil {
		return fmt.Errorf("setting file permissions: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	succeeded = true

	return nil
}
