package policy

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestStore_SnapshotsAreIndependent(t *testing.T) {
	t.Parallel()

	s := NewStore(Default(), "", testLogger(t))
	held := s.Get()

	_, err := s.SetMode(ModeEconomy)
	require.NoError(t, err)

	assert.Equal(t, ModeDefault, held.Mode, "earlier snapshot unchanged")
	assert.Equal(t, 3*time.Second, held.Debounce.Progress)
	assert.Equal(t, ModeEconomy, s.Get().Mode)
}

func TestStore_SetDeepMerges(t *testing.T) {
	t.Parallel()

	s := NewStore(Rapid(), "", testLogger(t))
	off := false

	got := s.Set(Patch{Strategy: StrategyPatch{EnableDebouncing: &off}})

	assert.False(t, got.Strategy.EnableDebouncing)
	assert.Equal(t, Rapid().Debounce, got.Debounce)
	assert.Equal(t, Rapid().Strategy.MaxRetries, got.Strategy.MaxRetries)
	assert.Equal(t, got, s.Get())
}

func TestStore_SetModeUnknownKeepsSnapshot(t *testing.T) {
	t.Parallel()

	s := NewStore(Default(), "", testLogger(t))

	_, err := s.SetMode("warp")
	require.ErrorIs(t, err, ErrUnknownMode)
	assert.Equal(t, Default(), s.Get())
}

func TestStore_OnChangeNotified(t *testing.T) {
	t.Parallel()

	s := NewStore(Default(), "", testLogger(t))

	var seen []string
	s.OnChange(func(c Config) { seen = append(seen, c.Mode) })

	_, _ = s.SetMode(ModeRapid)
	_, _ = s.SetMode(ModeRapid) // identical snapshot: no notification
	s.Replace(Economy())

	assert.Equal(t, []string{ModeRapid, ModeEconomy}, seen)
}

func TestStore_PersistsChanges(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "sync-policy.toml")
	s := NewStore(Default(), path, testLogger(t))

	_, err := s.SetMode(ModeEconomy)
	require.NoError(t, err)

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Economy(), loaded)

	s.Replace(Rapid())

	loaded, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, Economy(), loaded, "Replace does not write back")
}

func TestStore_ConcurrentSetsAllLand(t *testing.T) {
	t.Parallel()

	s := NewStore(Default(), "", slog.New(slog.DiscardHandler))

	const rounds = 200

	setters := []func(d time.Duration) Patch{
		func(d time.Duration) Patch { return Patch{Debounce: DebouncePatch{Progress: &d}} },
		func(d time.Duration) Patch { return Patch{Debounce: DebouncePatch{Default: &d}} },
		func(d time.Duration) Patch { return Patch{Debounce: DebouncePatch{Critical: &d}} },
		func(d time.Duration) Patch { return Patch{Debounce: DebouncePatch{Urgent: &d}} },
		func(d time.Duration) Patch { return Patch{Subscription: SubscriptionPatch{CheckInterval: &d}} },
		func(d time.Duration) Patch { return Patch{Subscription: SubscriptionPatch{LocalUpdateCooldown: &d}} },
	}

	var wg sync.WaitGroup

	for _, patch := range setters {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for i := 1; i <= rounds; i++ {
				s.Set(patch(time.Duration(i) * time.Millisecond))
			}
		}()
	}

	wg.Wait()

	want := time.Duration(rounds) * time.Millisecond
	got := s.Get()

	assert.Equal(t, Debounce{Progress: want, Default: want, Critical: want, Urgent: want}, got.Debounce)
	assert.Equal(t, Subscription{CheckInterval: want, LocalUpdateCooldown: want}, got.Subscription)
	assert.Equal(t, ModeCustom, got.Mode)
}
