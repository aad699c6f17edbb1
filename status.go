package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/stitchkeep/internal/backup"
	"github.com/tonimelisma/stitchkeep/internal/identity"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show sign-in, sync mode, backup, and session state",
		RunE:  runStatus,
	}
}

func newFlushCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "flush",
		Short: "Ask the running session to send its pending writes now",
		Long: `Ask the running session to send its pending writes now. The session
treats this like the app going to the background and flushes only if the
sync policy has flush_on_visibility_change enabled.`,
		RunE: runFlush,
	}
}

// statusOutput is the JSON shape of `status --json`.
type statusOutput struct {
	User          string     `json:"user"`
	RemoteWrite   bool       `json:"remote_write"`
	RemoteURL     string     `json:"remote_url,omitempty"`
	Mode          string     `json:"mode"`
	SessionPID    int        `json:"session_pid,omitempty"`
	BackupSavedAt *time.Time `json:"backup_saved_at,omitempty"`
	BackupCount   int        `json:"backup_projects"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()

	id, err := identity.Load(resolvedCfg.IdentityPath)
	if err != nil {
		return err
	}

	store, err := openPolicyStore(logger)
	if err != nil {
		return err
	}

	out := statusOutput{
		User:        describeIdentity(id),
		RemoteWrite: id.CanWriteRemote() && !id.Expired(time.Now()),
		RemoteURL:   resolvedCfg.RemoteURL,
		Mode:        store.Get().Mode,
		SessionPID:  runningSessionPID(sessionPIDPath(resolvedCfg.DataDir)),
	}

	if _, statErr := os.Stat(resolvedCfg.BackupPath); statErr == nil {
		err = withBackup(cmd.Context(), func(b *backup.Store) error {
			snap, loadErr := b.Load(cmd.Context(), id.Key())
			if errors.Is(loadErr, backup.ErrNoBackup) {
				return nil
			}

			if loadErr != nil {
				return loadErr
			}

			saved := snap.SavedAt.UTC()
			out.BackupSavedAt = &saved
			out.BackupCount = len(snap.Projects)

			return nil
		})
		if err != nil {
			return err
		}
	}

	if flagJSON {
		return printJSON(cmd.OutOrStdout(), out)
	}

	printStatusText(cmd.OutOrStdout(), out, time.Now())

	return nil
}

// runningSessionPID returns the PID of a live session, or 0.
func runningSessionPID(pidPath string) int {
	pid, err := readPIDFile(pidPath)
	if err != nil {
		return 0
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return 0
	}

	if proc.Signal(syscall.Signal(0)) != nil {
		return 0
	}

	return pid
}

func printStatusText(w io.Writer, out statusOutput, now time.Time) {
	fmt.Fprintf(w, "User:     %s\n", out.User)

	switch {
	case out.RemoteWrite && out.RemoteURL != "":
		fmt.Fprintf(w, "Remote:   %s\n", out.RemoteURL)
	case out.RemoteURL != "":
		fmt.Fprintf(w, "Remote:   %s (not writing)\n", out.RemoteURL)
	default:
		fmt.Fprintln(w, "Remote:   not configured")
	}

	fmt.Fprintf(w, "Mode:     %s\n", out.Mode)

	if out.SessionPID != 0 {
		fmt.Fprintf(w, "Session:  running (PID %d)\n", out.SessionPID)
	} else {
		fmt.Fprintln(w, "Session:  not running")
	}

	if out.BackupSavedAt != nil {
		fmt.Fprintf(w, "Backup:   %d project(s), saved %s\n", out.BackupCount, formatTime(*out.BackupSavedAt, now))
	} else {
		fmt.Fprintln(w, "Backup:   none")
	}
}

func runFlush(_ *cobra.Command, _ []string) error {
	pid, err := signalSession(sessionPIDPath(resolvedCfg.DataDir), syscall.SIGUSR1)
	if err != nil {
		return err
	}

	statusf("Asked session %d to flush.\n", pid)

	return nil
}
