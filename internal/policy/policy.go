// Package policy holds the sync policy: the timing constants and strategy
// flags that govern how aggressively local edits are pushed to the remote
// store. A Config is an immutable value; Store swaps whole snapshots so a
// caller holding an older snapshot never observes a later change.
package policy

import (
	"errors"
	"fmt"
	"time"
)

// Mode names. ModeCustom marks a snapshot that was adjusted with Set after a
// preset was applied.
const (
	ModeDefault = "default"
	ModeEconomy = "economy"
	ModeRapid   = "rapid"
	ModeCustom  = "custom"
)

// minBatchDelay is the floor for the shared batch window.
const minBatchDelay = 10 * time.Second

// batchDelayFactor stretches the progress debounce into the batch window.
const batchDelayFactor = 1.5

// ErrUnknownMode is returned by SetMode and Preset for names that are not
// one of the named presets.
var ErrUnknownMode = errors.New("policy: unknown sync mode")

// Debounce holds the per-tier debounce durations.
type Debounce struct {
	Progress time.Duration // high-frequency counter edits
	Default  time.Duration // aggregate-level structural edits
	Critical time.Duration // entity create/delete
	Urgent   time.Duration // caller-flagged urgent writes
}

// Subscription holds the timings of the remote change subscription.
type Subscription struct {
	CheckInterval       time.Duration // reconnect/poll interval of the listener
	LocalUpdateCooldown time.Duration // echo-suppression window after a local edit
}

// Strategy holds the on/off switches and the retry budget.
type Strategy struct {
	EnableDebouncing        bool
	MaxRetries              int
	FlushOnVisibilityChange bool
	FlushOnBeforeUnload     bool
}

// Config is one complete sync policy snapshot. It contains no reference
// types, so plain assignment yields an independent copy.
type Config struct {
	Mode         string
	Debounce     Debounce
	Subscription Subscription
	Strategy     Strategy
}

// BatchDelay is the shared batch window: progress debounce stretched by half,
// but never shorter than ten seconds.
func (c Config) BatchDelay() time.Duration {
	d := time.Duration(float64(c.Debounce.Progress) * batchDelayFactor)
	if d < minBatchDelay {
		return minBatchDelay
	}

	return d
}

// Modes lists the named presets in display order.
func Modes() []string {
	return []string{ModeDefault, ModeEconomy, ModeRapid}
}

// Default returns the default preset.
func Default() Config {
	return Config{
		Mode: ModeDefault,
		Debounce: Debounce{
			Progress: 3 * time.Second,
			Default:  2 * time.Second,
			Critical: 1 * time.Second,
			Urgent:   300 * time.Millisecond,
		},
		Subscription: Subscription{
			CheckInterval:       30 * time.Second,
			LocalUpdateCooldown: 20 * time.Second,
		},
		Strategy: defaultStrategy(2),
	}
}

// Economy trades latency for fewer remote writes.
func Economy() Config {
	return Config{
		Mode: ModeEconomy,
		Debounce: Debounce{
			Progress: 10 * time.Second,
			Default:  6 * time.Second,
			Critical: 3 * time.Second,
			Urgent:   1 * time.Second,
		},
		Subscription: Subscription{
			CheckInterval:       60 * time.Second,
			LocalUpdateCooldown: 30 * time.Second,
		},
		Strategy: defaultStrategy(2),
	}
}

// Rapid pushes edits quickly at the cost of more writes.
func Rapid() Config {
	return Config{
		Mode: ModeRapid,
		Debounce: Debounce{
			Progress: 1 * time.Second,
			Default:  500 * time.Millisecond,
			Critical: 250 * time.Millisecond,
			Urgent:   100 * time.Millisecond,
		},
		Subscription: Subscription{
			CheckInterval:       10 * time.Second,
			LocalUpdateCooldown: 10 * time.Second,
		},
		Strategy: defaultStrategy(3),
	}
}

func defaultStrategy(maxRetries int) Strategy {
	return Strategy{
		EnableDebouncing:        true,
		MaxRetries:              maxRetries,
		FlushOnVisibilityChange: true,
		FlushOnBeforeUnload:     true,
	}
}

// Preset returns the named preset.
func Preset(name string) (Config, error) {
	switch name {
	case ModeDefault:
		return Default(), nil
	case ModeEconomy:
		return Economy(), nil
	case ModeRapid:
		return Rapid(), nil
	default:
		return Config{}, fmt.Errorf("%w %q (want one of %v)", ErrUnknownMode, name, Modes())
	}
}
