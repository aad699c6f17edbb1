package policy

import "time"

// Patch is a partial policy update. Nil fields are left untouched, so a
// caller can change one debounce tier without restating the rest.
type Patch struct {
	Debounce     DebouncePatch
	Subscription SubscriptionPatch
	Strategy     StrategyPatch
}

// DebouncePatch is the partial form of Debounce.
type DebouncePatch struct {
	Progress *time.Duration
	Default  *time.Duration
	Critical *time.Duration
	Urgent   *time.Duration
}

// SubscriptionPatch is the partial form of Subscription.
type SubscriptionPatch struct {
	CheckInterval       *time.Duration
	LocalUpdateCooldown *time.Duration
}

// StrategyPatch is the partial form of Strategy.
type StrategyPatch struct {
	EnableDebouncing        *bool
	MaxRetries              *int
	FlushOnVisibilityChange *bool
	FlushOnBeforeUnload     *bool
}

// Empty reports whether the patch sets nothing.
func (p Patch) Empty() bool {
	return p == Patch{}
}

// Apply returns base with every non-nil field of p applied. base is a value,
// so the caller's snapshot is never modified.
func (p Patch) Apply(base Config) Config {
	out := base

	setDuration(&out.Debounce.Progress, p.Debounce.Progress)
	setDuration(&out.Debounce.Default, p.Debounce.Default)
	setDuration(&out.Debounce.Critical, p.Debounce.Critical)
	setDuration(&out.Debounce.Urgent, p.Debounce.Urgent)
	setDuration(&out.Subscription.CheckInterval, p.Subscription.CheckInterval)
	setDuration(&out.Subscription.LocalUpdateCooldown, p.Subscription.LocalUpdateCooldown)

	if p.Strategy.EnableDebouncing != nil {
		out.Strategy.EnableDebouncing = *p.Strategy.EnableDebouncing
	}

	if p.Strategy.MaxRetries != nil {
		out.Strategy.MaxRetries = *p.Strategy.MaxRetries
	}

	if p.Strategy.FlushOnVisibilityChange != nil {
		out.Strategy.FlushOnVisibilityChange = *p.Strategy.FlushOnVisibilityChange
	}

	if p.Strategy.FlushOnBeforeUnload != nil {
		out.Strategy.FlushOnBeforeUnload = *p.Strategy.FlushOnBeforeUnload
	}

	if out != base {
		out.Mode = ModeCustom
	}

	return out
}

func setDuration(dst *time.Duration, v *time.Duration) {
	if v != nil {
		*dst = *v
	}
}
