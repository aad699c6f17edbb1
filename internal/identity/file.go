package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/oauth2"
)

// FilePerms restricts identity files to owner-only read/write.
const FilePerms = 0o600

// DirPerms is used when creating the directory holding the identity file.
const DirPerms = 0o700

// File is the on-disk format of the identity file: the bearer token issued
// by the sync service, wrapped so fields can be added without breaking old
// files.
type File struct {
	Token *oauth2.Token `json:"token"`
}

// readToken loads the token from path. Returns (nil, nil) if the file does
// not exist.
func readToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil //nolint:nilnil // sentinel for "not found"
	}

	if err != nil {
		return nil, fmt.Errorf("identity: reading %s: %w", path, err)
	}

	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("identity: decoding %s: %w", path, err)
	}

	if f.Token == nil || f.Token.AccessToken == "" {
		return nil, fmt.Errorf("identity: %s missing token field (log in again)", path)
	}

	return f.Token, nil
}

// Save writes the identity file atomically (write-to-temp + rename) with
// 0600 permissions. Never logs token values.
func Save(path string, tok *oauth2.Token) error {
	data, err := json.MarshalIndent(File{Token: tok}, "", "  ")
	if err != nil {
		return fmt.Errorf("identity: encoding: %w", err)
	}

	dir := filepath.Dir(path)
	if mkErr := os.MkdirAll(dir, DirPerms); mkErr != nil {
		return fmt.Errorf("identity: creating directory %s: %w", dir, mkErr)
	}

	// Same directory guarantees same filesystem for rename(2).
	tmp, err := os.CreateTemp(dir, ".identity-*.tmp")
	if err != nil {
		return fmt.Errorf("identity: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	// Restrict before the token bytes land on disk.
	if err := os.Chmod(tmpPath, FilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("identity: setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("identity: writing: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("identity: syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("identity: closing: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("identity: renaming: %w", err)
	}

	success = true

	return nil
}

// Remove deletes the identity file, reverting to the guest identity.
// Removing an absent file is not an error.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("identity: removing %s: %w", path, err)
	}

	return nil
}
