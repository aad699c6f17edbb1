package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/stitchkeep/internal/policy"
)

func newModeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mode [default|economy|rapid]",
		Short: "Show or switch the sync preset",
		Long: `Show or switch the sync preset.

default  balanced debounce timings
economy  fewer remote writes, longer delays
rapid    edits reach the service within about a second

A running session picks the change up immediately. Writes it already has
pending keep the timing they were scheduled with.`,
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: policy.Modes(),
		RunE:      runMode,
	}
}

// openPolicyStore loads the preference file, or the configured preset on
// first run, into a persisting Store.
func openPolicyStore(logger *slog.Logger) (*policy.Store, error) {
	cfg, err := policy.LoadOrPreset(resolvedCfg.PolicyPath, resolvedCfg.SyncMode)
	if err != nil {
		return nil, err
	}

	return policy.NewStore(cfg, resolvedCfg.PolicyPath, logger), nil
}

func runMode(cmd *cobra.Command, args []string) error {
	logger := buildLogger()

	store, err := openPolicyStore(logger)
	if err != nil {
		return err
	}

	if len(args) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), store.Get().Mode)
		return nil
	}

	cfg, err := store.SetMode(strings.ToLower(args[0]))
	if err != nil {
		return err
	}

	statusf("Sync mode set to %s.\n", cfg.Mode)

	return nil
}
