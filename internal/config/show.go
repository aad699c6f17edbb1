package config

import (
	"fmt"
	"io"
)

// RenderEffective writes the resolved configuration as an annotated summary
// to w. This powers `stitchkeep config show`, giving users visibility into
// the effective values after all four override layers have been applied.
func RenderEffective(r *Resolved, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration (%s)\n\n", r.ConfigPath)

	ew.printf("[remote]\n")
	ew.printf("  remote_url         = %q\n", r.RemoteURL)
	ew.printf("  subscribe          = %t\n\n", r.Subscribe)

	ew.printf("[sync]\n")
	ew.printf("  sync_mode          = %q\n", r.SyncMode)
	ew.printf("  flush_timeout      = %q\n", r.FlushTimeout)
	ew.printf("  policy_file        = %q\n\n", r.PolicyPath)

	ew.printf("[storage]\n")
	ew.printf("  data_dir           = %q\n", r.DataDir)
	ew.printf("  identity_file      = %q\n", r.IdentityPath)
	ew.printf("  backup_db          = %q\n\n", r.BackupPath)

	ew.printf("[logging]\n")
	ew.printf("  log_level          = %q\n", r.LogLevel)
	ew.printf("  log_file           = %q\n", r.LogFile)
	ew.printf("  log_format         = %q\n", r.LogFormat)
	ew.printf("  log_retention_days = %d\n\n", r.LogRetentionDays)

	ew.printf("[network]\n")
	ew.printf("  connect_timeout    = %q\n", r.ConnectTimeout)
	ew.printf("  data_timeout       = %q\n", r.DataTimeout)
	ew.printf("  user_agent         = %q\n", r.UserAgent)

	return ew.err
}

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops, so callers can chain
// printf calls without checking each one individually.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}
