package policy

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePref(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "sync-policy.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestSaveLoad_RoundTripsCustom(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "sync-policy.toml")
	urgent := 50 * time.Millisecond
	cfg := Patch{Debounce: DebouncePatch{Urgent: &urgent}}.Apply(Rapid())

	require.NoError(t, Save(path, cfg))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `urgent_debounce = "50ms"`)
	assert.Contains(t, string(data), `mode = "custom"`)
}

func TestLoad_MissingKeysKeepDefaults(t *testing.T) {
	t.Parallel()

	path := writePref(t, `progress_debounce = "4s"`)

	got, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 4*time.Second, got.Debounce.Progress)
	assert.Equal(t, Default().Debounce.Critical, got.Debounce.Critical)
	assert.Equal(t, Default().Strategy, got.Strategy)
}

func TestLoad_UnknownKeySuggests(t *testing.T) {
	t.Parallel()

	path := writePref(t, `max_retry = 4`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `did you mean "max_retries"`)
}

func TestLoad_RejectsBadValues(t *testing.T) {
	t.Parallel()

	path := writePref(t, `
progress_debounce = "soon"
urgent_debounce = "-1s"
max_retries = -2
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "progress_debounce")
	assert.Contains(t, err.Error(), "urgent_debounce")
	assert.Contains(t, err.Error(), "max_retries")
}

func TestLoadOrPreset(t *testing.T) {
	t.Parallel()

	got, err := LoadOrPreset(filepath.Join(t.TempDir(), "absent.toml"), ModeEconomy)
	require.NoError(t, err)
	assert.Equal(t, Economy(), got)

	_, err = LoadOrPreset(filepath.Join(t.TempDir(), "absent.toml"), "nope")
	require.ErrorIs(t, err, ErrUnknownMode)
}
