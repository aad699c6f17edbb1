package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/stitchkeep/internal/policy"
)

func newPolicyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect or tune the sync policy",
	}

	cmd.AddCommand(newPolicyShowCmd())
	cmd.AddCommand(newPolicySetCmd())

	return cmd
}

func newPolicyShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display the sync policy in effect",
		RunE:  runPolicyShow,
	}
}

func newPolicySetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Change individual sync policy values",
		Long: `Change individual sync policy values. Flags that are not given keep
their current value; any change switches the mode to "custom".`,
		RunE: runPolicySet,
	}

	f := cmd.Flags()
	f.Duration("progress", 0, "debounce for stitch, row, and counter edits")
	f.Duration("default", 0, "debounce for renames and other project edits")
	f.Duration("critical", 0, "debounce for project create and delete")
	f.Duration("urgent", 0, "debounce for edits marked urgent")
	f.Duration("check-interval", 0, "change feed reconnect interval")
	f.Duration("cooldown", 0, "how long remote echoes of a local edit are ignored")
	f.Bool("debouncing", true, "debounce writes (false sends every edit at once)")
	f.Int("max-retries", 0, "retries after a failed write")
	f.Bool("flush-on-hide", true, "flush pending writes when the app is backgrounded")
	f.Bool("flush-on-exit", true, "flush pending writes on exit")

	return cmd
}

// policyView is the display form of a policy snapshot.
type policyView struct {
	Mode                    string `json:"mode"`
	ProgressDebounce        string `json:"progress_debounce"`
	DefaultDebounce         string `json:"default_debounce"`
	CriticalDebounce        string `json:"critical_debounce"`
	UrgentDebounce          string `json:"urgent_debounce"`
	BatchWindow             string `json:"batch_window"`
	CheckInterval           string `json:"subscription_check_interval"`
	LocalUpdateCooldown     string `json:"local_update_cooldown"`
	EnableDebouncing        bool   `json:"enable_debouncing"`
	MaxRetries              int    `json:"max_retries"`
	FlushOnVisibilityChange bool   `json:"flush_on_visibility_change"`
	FlushOnBeforeUnload     bool   `json:"flush_on_before_unload"`
}

func newPolicyView(c policy.Config) policyView {
	return policyView{
		Mode:                    c.Mode,
		ProgressDebounce:        c.Debounce.Progress.String(),
		DefaultDebounce:         c.Debounce.Default.String(),
		CriticalDebounce:        c.Debounce.Critical.String(),
		UrgentDebounce:          c.Debounce.Urgent.String(),
		BatchWindow:             c.BatchDelay().String(),
		CheckInterval:           c.Subscription.CheckInterval.String(),
		LocalUpdateCooldown:     c.Subscription.LocalUpdateCooldown.String(),
		EnableDebouncing:        c.Strategy.EnableDebouncing,
		MaxRetries:              c.Strategy.MaxRetries,
		FlushOnVisibilityChange: c.Strategy.FlushOnVisibilityChange,
		FlushOnBeforeUnload:     c.Strategy.FlushOnBeforeUnload,
	}
}

func runPolicyShow(cmd *cobra.Command, _ []string) error {
	store, err := openPolicyStore(buildLogger())
	if err != nil {
		return err
	}

	return printPolicy(cmd.OutOrStdout(), store.Get())
}

func printPolicy(w io.Writer, c policy.Config) error {
	v := newPolicyView(c)

	if flagJSON {
		return printJSON(w, v)
	}

	printTable(w, []string{"SETTING", "VALUE"}, [][]string{
		{"mode", v.Mode},
		{"progress_debounce", v.ProgressDebounce},
		{"default_debounce", v.DefaultDebounce},
		{"critical_debounce", v.CriticalDebounce},
		{"urgent_debounce", v.UrgentDebounce},
		{"batch_window", v.BatchWindow},
		{"subscription_check_interval", v.CheckInterval},
		{"local_update_cooldown", v.LocalUpdateCooldown},
		{"enable_debouncing", fmt.Sprint(v.EnableDebouncing)},
		{"max_retries", fmt.Sprint(v.MaxRetries)},
		{"flush_on_visibility_change", fmt.Sprint(v.FlushOnVisibilityChange)},
		{"flush_on_before_unload", fmt.Sprint(v.FlushOnBeforeUnload)},
	})

	return nil
}

func runPolicySet(cmd *cobra.Command, _ []string) error {
	patch, err := policyPatchFromFlags(cmd)
	if err != nil {
		return err
	}

	if patch.Empty() {
		return fmt.Errorf("nothing to change (see 'stitchkeep policy set --help')")
	}

	store, err := openPolicyStore(buildLogger())
	if err != nil {
		return err
	}

	return printPolicy(cmd.OutOrStdout(), store.Set(patch))
}

// policyPatchFromFlags builds a Patch from the flags the user actually set.
func policyPatchFromFlags(cmd *cobra.Command) (policy.Patch, error) {
	var p policy.Patch

	f := cmd.Flags()

	durations := []struct {
		flag string
		dst  **time.Duration
	}{
		{"progress", &p.Debounce.Progress},
		{"default", &p.Debounce.Default},
		{"critical", &p.Debounce.Critical},
		{"urgent", &p.Debounce.Urgent},
		{"check-interval", &p.Subscription.CheckInterval},
		{"cooldown", &p.Subscription.LocalUpdateCooldown},
	}

	for _, d := range durations {
		if !f.Changed(d.flag) {
			continue
		}

		v, err := f.GetDuration(d.flag)
		if err != nil {
			return policy.Patch{}, err
		}

		if v < 0 {
			return policy.Patch{}, fmt.Errorf("--%s must not be negative", d.flag)
		}

		if d.flag == "check-interval" && v == 0 {
			return policy.Patch{}, fmt.Errorf("--check-interval must be positive")
		}

		*d.dst = &v
	}

	bools := []struct {
		flag string
		dst  **bool
	}{
		{"debouncing", &p.Strategy.EnableDebouncing},
		{"flush-on-hide", &p.Strategy.FlushOnVisibilityChange},
		{"flush-on-exit", &p.Strategy.FlushOnBeforeUnload},
	}

	for _, b := range bools {
		if !f.Changed(b.flag) {
			continue
		}

		v, err := f.GetBool(b.flag)
		if err != nil {
			return policy.Patch{}, err
		}

		*b.dst = &v
	}

	if f.Changed("max-retries") {
		v, err := f.GetInt("max-retries")
		if err != nil {
			return policy.Patch{}, err
		}

		if v < 0 {
			return policy.Patch{}, fmt.Errorf("--max-retries must not be negative")
		}

		p.Strategy.MaxRetries = &v
	}

	return p, nil
}
