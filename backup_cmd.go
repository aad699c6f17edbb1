package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/stitchkeep/internal/backup"
	"github.com/tonimelisma/stitchkeep/internal/identity"
	"github.com/tonimelisma/stitchkeep/internal/project"
)

func newBackupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Inspect the local backup",
		Long: `Inspect the local backup. Edits made while signed out, unverified, or
without write access are stored here, one snapshot per user.`,
	}

	cmd.AddCommand(newBackupListCmd())
	cmd.AddCommand(newBackupShowCmd())
	cmd.AddCommand(newBackupDeleteCmd())

	return cmd
}

func newBackupListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored snapshots",
		RunE:  runBackupList,
	}
}

func newBackupShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [user]",
		Short: "Show the projects in a snapshot (default: current user)",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runBackupShow,
	}
}

func newBackupDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <user>",
		Short: "Delete a stored snapshot",
		Args:  cobra.ExactArgs(1),
		RunE:  runBackupDelete,
	}
}

// withBackup opens the backup store for the duration of fn.
func withBackup(ctx context.Context, fn func(*backup.Store) error) error {
	store, err := backup.Open(ctx, resolvedCfg.BackupPath, buildLogger())
	if err != nil {
		return err
	}

	defer store.Close()

	return fn(store)
}

// backupSummaryJSON is one row of `backup list --json`.
type backupSummaryJSON struct {
	User             string    `json:"user"`
	Projects         int       `json:"projects"`
	CurrentProjectID string    `json:"current_project_id,omitempty"`
	SavedAt          time.Time `json:"saved_at"`
}

func runBackupList(cmd *cobra.Command, _ []string) error {
	return withBackup(cmd.Context(), func(store *backup.Store) error {
		sums, err := store.List(cmd.Context())
		if err != nil {
			return err
		}

		return printBackupList(cmd.OutOrStdout(), sums, time.Now())
	})
}

func printBackupList(w io.Writer, sums []backup.Summary, now time.Time) error {
	if flagJSON {
		out := make([]backupSummaryJSON, 0, len(sums))
		for _, s := range sums {
			out = append(out, backupSummaryJSON{
				User:             s.UserKey,
				Projects:         s.Projects,
				CurrentProjectID: s.CurrentProjectID,
				SavedAt:          s.SavedAt.UTC(),
			})
		}

		return printJSON(w, out)
	}

	if len(sums) == 0 {
		fmt.Fprintln(w, "No backups stored.")
		return nil
	}

	rows := make([][]string, 0, len(sums))
	for _, s := range sums {
		rows = append(rows, []string{s.UserKey, fmt.Sprint(s.Projects), formatTime(s.SavedAt, now)})
	}

	printTable(w, []string{"USER", "PROJECTS", "SAVED"}, rows)

	return nil
}

// snapshotJSON is the output of `backup show --json`.
type snapshotJSON struct {
	User             string             `json:"user"`
	CurrentProjectID string             `json:"current_project_id,omitempty"`
	SavedAt          time.Time          `json:"saved_at"`
	Projects         []*project.Project `json:"projects"`
}

func runBackupShow(cmd *cobra.Command, args []string) error {
	user, err := backupUser(args)
	if err != nil {
		return err
	}

	return withBackup(cmd.Context(), func(store *backup.Store) error {
		snap, err := store.Load(cmd.Context(), user)
		if errors.Is(err, backup.ErrNoBackup) {
			return fmt.Errorf("no backup stored for %q", user)
		}

		if err != nil {
			return err
		}

		return printSnapshot(cmd.OutOrStdout(), user, snap, time.Now())
	})
}

func printSnapshot(w io.Writer, user string, snap *backup.Snapshot, now time.Time) error {
	if flagJSON {
		return printJSON(w, snapshotJSON{
			User:             user,
			CurrentProjectID: snap.CurrentProjectID,
			SavedAt:          snap.SavedAt.UTC(),
			Projects:         snap.Projects,
		})
	}

	fmt.Fprintf(w, "Backup for %s, saved %s\n", user, formatTime(snap.SavedAt, now))

	if len(snap.Projects) == 0 {
		fmt.Fprintln(w, "No projects.")
		return nil
	}

	rows := make([][]string, 0, len(snap.Projects))

	for _, p := range snap.Projects {
		marker := ""
		if p.ID == snap.CurrentProjectID {
			marker = "*"
		}

		rows = append(rows, []string{
			marker, shortID(p.ID), p.Name, fmt.Sprint(p.Row), fmt.Sprint(p.Stitch), formatCounters(p.Counters),
		})
	}

	printTable(w, []string{"", "ID", "NAME", "ROW", "STITCH", "COUNTERS"}, rows)

	return nil
}

func runBackupDelete(cmd *cobra.Command, args []string) error {
	return withBackup(cmd.Context(), func(store *backup.Store) error {
		if err := store.Delete(cmd.Context(), args[0]); err != nil {
			return err
		}

		statusf("Deleted backup for %s.\n", args[0])

		return nil
	})
}

// backupUser is the explicit user argument, or the signed-in user's key.
func backupUser(args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}

	id, err := identity.Load(resolvedCfg.IdentityPath)
	if err != nil {
		return "", err
	}

	return id.Key(), nil
}

func formatCounters(counters map[string]int) string {
	if len(counters) == 0 {
		return ""
	}

	parts := make([]string, 0, len(counters))
	for name, n := range counters {
		parts = append(parts, fmt.Sprintf("%s=%d", name, n))
	}

	sort.Strings(parts)

	return strings.Join(parts, " ")
}
