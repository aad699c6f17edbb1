package main

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/tonimelisma/stitchkeep/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagDataDir    string
	flagRemoteURL  string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
)

// resolvedCfg holds the effective configuration loaded by PersistentPreRunE.
// It is available to all subcommands after the root pre-run phase completes.
var resolvedCfg *config.Resolved

// skipConfigCommands lists commands that must work without a loadable
// config: "config init" creates the file the others would fail to parse.
var skipConfigCommands = map[string]bool{
	"stitchkeep config init": true,
}

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "stitchkeep",
		Short:   "Local-first project tracker with background sync",
		Long:    "Track knitting and crochet progress locally; edits reach the sync service in the background.",
		Version: version,
		// Silence Cobra's default error/usage printing; main handles it.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if skipConfigCommands[cmd.CommandPath()] {
				return nil
			}

			return loadConfig(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "data directory (identity, backup database)")
	cmd.PersistentFlags().StringVar(&flagRemoteURL, "remote", "", "sync service base URL")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.AddCommand(newSessionCmd())
	cmd.AddCommand(newModeCmd())
	cmd.AddCommand(newPolicyCmd())
	cmd.AddCommand(newBackupCmd())
	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newWhoamiCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newFlushCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// loadConfig resolves the effective configuration from the four-layer
// override chain and stores the result in resolvedCfg.
func loadConfig(cmd *cobra.Command) error {
	cli := config.CLIOverrides{
		ConfigPath: flagConfigPath,
		DataDir:    flagDataDir,
		RemoteURL:  flagRemoteURL,
	}

	if f := cmd.Flags().Lookup("subscribe"); f != nil && f.Changed {
		v, err := cmd.Flags().GetBool("subscribe")
		if err != nil {
			return err
		}

		cli.Subscribe = &v
	}

	if f := cmd.Flags().Lookup("mode"); f != nil && f.Changed {
		v, err := cmd.Flags().GetString("mode")
		if err != nil {
			return err
		}

		cli.SyncMode = &v
	}

	resolved, err := config.Resolve(config.ReadEnvOverrides(), cli)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	resolvedCfg = resolved

	return nil
}

// buildLogger creates an slog.Logger configured by the resolved config and
// CLI flags. Config-file log level provides the baseline; --verbose and
// --quiet override it because CLI flags always win. Output goes to the
// configured log file (rotated) or stderr, as text on a terminal and JSON
// otherwise unless log_format says which.
func buildLogger() *slog.Logger {
	level := slog.LevelInfo
	format := "auto"

	var out io.Writer = os.Stderr

	if resolvedCfg != nil {
		switch resolvedCfg.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}

		format = resolvedCfg.LogFormat

		if resolvedCfg.LogFile != "" {
			out = &lumberjack.Logger{
				Filename: resolvedCfg.LogFile,
				MaxSize:  logFileMaxSizeMB,
				MaxAge:   resolvedCfg.LogRetentionDays,
				Compress: true,
			}
		}
	}

	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	return slog.New(newLogHandler(out, format, level))
}

// logFileMaxSizeMB is the size at which the log file is rotated.
const logFileMaxSizeMB = 10

func newLogHandler(w io.Writer, format string, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}

	if format == "auto" {
		format = "json"
		if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
			format = "text"
		}
	}

	if format == "json" {
		return slog.NewJSONHandler(w, opts)
	}

	return slog.NewTextHandler(w, opts)
}

// newHTTPClient builds the client used for remote requests from the
// resolved network settings.
func newHTTPClient(cfg *config.Resolved) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: cfg.ConnectTimeout}).DialContext

	return &http.Client{Timeout: cfg.DataTimeout, Transport: transport}
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
