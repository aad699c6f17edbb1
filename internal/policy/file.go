package policy

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/tonimelisma/stitchkeep/internal/config"
)

// prefFilePermissions is owner read/write only; the file holds no secrets but
// is per-user state.
const prefFilePermissions = 0o600

// record is the flat on-disk layout: four debounce tiers, two subscription
// intervals, four strategy flags, and the mode name. Durations are Go
// duration strings ("3s", "250ms").
type record struct {
	Mode                      string `toml:"mode"`
	ProgressDebounce          string `toml:"progress_debounce"`
	DefaultDebounce           string `toml:"default_debounce"`
	CriticalDebounce          string `toml:"critical_debounce"`
	UrgentDebounce            string `toml:"urgent_debounce"`
	SubscriptionCheckInterval string `toml:"subscription_check_interval"`
	LocalUpdateCooldown       string `toml:"local_update_cooldown"`
	EnableDebouncing          bool   `toml:"enable_debouncing"`
	MaxRetries                int    `toml:"max_retries"`
	FlushOnVisibilityChange   bool   `toml:"flush_on_visibility_change"`
	FlushOnBeforeUnload       bool   `toml:"flush_on_before_unload"`
}

// knownKeys lists every key the preference file may contain.
var knownKeys = []string{
	"critical_debounce",
	"default_debounce",
	"enable_debouncing",
	"flush_on_before_unload",
	"flush_on_visibility_change",
	"local_update_cooldown",
	"max_retries",
	"mode",
	"progress_debounce",
	"subscription_check_interval",
	"urgent_debounce",
}

func toRecord(c Config) record {
	return record{
		Mode:                      c.Mode,
		ProgressDebounce:          c.Debounce.Progress.String(),
		DefaultDebounce:           c.Debounce.Default.String(),
		CriticalDebounce:          c.Debounce.Critical.String(),
		UrgentDebounce:            c.Debounce.Urgent.String(),
		SubscriptionCheckInterval: c.Subscription.CheckInterval.String(),
		LocalUpdateCooldown:       c.Subscription.LocalUpdateCooldown.String(),
		EnableDebouncing:          c.Strategy.EnableDebouncing,
		MaxRetries:                c.Strategy.MaxRetries,
		FlushOnVisibilityChange:   c.Strategy.FlushOnVisibilityChange,
		FlushOnBeforeUnload:       c.Strategy.FlushOnBeforeUnload,
	}
}

func (r record) toConfig() (Config, error) {
	var errs []error

	parse := func(key, value string) time.Duration {
		d, err := time.ParseDuration(value)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: invalid duration %q", key, value))
			return 0
		}

		if d < 0 {
			errs = append(errs, fmt.Errorf("%s: must not be negative, got %s", key, value))
		}

		return d
	}

	c := Config{
		Mode: r.Mode,
		Debounce: Debounce{
			Progress: parse("progress_debounce", r.ProgressDebounce),
			Default:  parse("default_debounce", r.DefaultDebounce),
			Critical: parse("critical_debounce", r.CriticalDebounce),
			Urgent:   parse("urgent_debounce", r.UrgentDebounce),
		},
		Subscription: Subscription{
			CheckInterval:       parse("subscription_check_interval", r.SubscriptionCheckInterval),
			LocalUpdateCooldown: parse("local_update_cooldown", r.LocalUpdateCooldown),
		},
		Strategy: Strategy{
			EnableDebouncing:        r.EnableDebouncing,
			MaxRetries:              r.MaxRetries,
			FlushOnVisibilityChange: r.FlushOnVisibilityChange,
			FlushOnBeforeUnload:     r.FlushOnBeforeUnload,
		},
	}

	if r.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("max_retries: must not be negative, got %d", r.MaxRetries))
	}

	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}

	if c.Mode == "" {
		c.Mode = ModeCustom
	}

	return c, nil
}

// Load reads the preference file. Keys missing from the file keep their
// default-preset values; unknown keys are rejected with a suggestion.
func Load(path string) (Config, error) {
	rec := toRecord(Default())

	md, err := toml.DecodeFile(path, &rec)
	if err != nil {
		return Config{}, fmt.Errorf("policy: parsing %s: %w", path, err)
	}

	if err := config.CheckUnknownKeys(&md, knownKeys); err != nil {
		return Config{}, fmt.Errorf("policy: %s: %w", path, err)
	}

	cfg, err := rec.toConfig()
	if err != nil {
		return Config{}, fmt.Errorf("policy: %s: %w", path, err)
	}

	return cfg, nil
}

// LoadOrPreset is Load, falling back to the named preset when the file does
// not exist yet (first run).
func LoadOrPreset(path, mode string) (Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return Preset(mode)
	}

	return Load(path)
}

// Save writes cfg to path atomically.
func Save(path string, cfg Config) error {
	var buf bytes.Buffer

	buf.WriteString("# stitchkeep sync policy (written by the app; edits are picked up live)\n")

	if err := toml.NewEncoder(&buf).Encode(toRecord(cfg)); err != nil {
		return fmt.Errorf("policy: encoding: %w", err)
	}

	if err := config.AtomicWriteFile(path, buf.Bytes(), prefFilePermissions); err != nil {
		return fmt.Errorf("policy: writing %s: %w", path, err)
	}

	return nil
}
