package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/text/unicode/norm"

	"github.com/tonimelisma/stitchkeep/internal/backup"
	"github.com/tonimelisma/stitchkeep/internal/config"
	"github.com/tonimelisma/stitchkeep/internal/identity"
	"github.com/tonimelisma/stitchkeep/internal/policy"
	"github.com/tonimelisma/stitchkeep/internal/project"
	"github.com/tonimelisma/stitchkeep/internal/remote"
	stsync "github.com/tonimelisma/stitchkeep/internal/sync"
)

// errQuit ends the session loop.
var errQuit = errors.New("quit")

// errNoCurrent is returned by edit commands when no project is selected.
var errNoCurrent = errors.New("no current project (use 'new' or 'use')")

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Start an interactive edit session",
		Long: `Start an interactive edit session reading commands from stdin.

Edits apply locally at once and reach the sync service in the background.
Append "!" to a command (e.g. "row!") to sync it urgently. Type "help" for
the command list. SIGUSR1 flushes pending writes as if the app had been
backgrounded; Ctrl-C flushes and exits.`,
		RunE: runSession,
	}

	cmd.Flags().Bool("subscribe", false, "listen for remote changes (overrides config)")
	cmd.Flags().String("mode", "", "sync preset for a fresh policy file (overrides config)")

	return cmd
}

func runSession(cmd *cobra.Command, _ []string) error {
	cfg := resolvedCfg
	logger := buildLogger()

	ctx := shutdownContext(cmd.Context(), logger)

	cleanup, err := writePIDFile(sessionPIDPath(cfg.DataDir))
	if err != nil {
		return err
	}
	defer cleanup()

	deps, err := openSessionDeps(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.close()

	svc, err := stsync.NewService(stsync.ServiceConfig{
		Policy:       deps.policy,
		State:        deps.state,
		Remote:       deps.remote,
		Reader:       deps.reader,
		Backup:       deps.backup,
		Identity:     deps.identity,
		Logger:       logger,
		FlushTimeout: cfg.FlushTimeout,
		OnFailure: func(attempts, _ int) {
			statusf("sync failed after %d attempts; changes are saved locally\n", attempts)
		},
	})
	if err != nil {
		return err
	}

	if err := svc.Start(ctx); err != nil {
		return err
	}

	go svc.RunLifecycle(ctx, lifecycleSignals(ctx, logger))

	if deps.watcher != nil {
		go deps.watcher.Run(ctx)
	}

	if deps.client != nil && cfg.Subscribe && deps.identity.CanWriteRemote() {
		go runListener(ctx, svc, deps.client, logger)
	}

	s := &session{svc: svc, state: deps.state, out: cmd.OutOrStdout(), now: time.Now}

	statusf("stitchkeep session (%s, mode %s). Type 'help' for commands.\n",
		describeIdentity(deps.identity), svc.SyncConfig().Mode)

	loopErr := s.run(ctx, cmd.InOrStdin())

	// Leaving the session is a before-unload; Close drains whatever the
	// policy left pending.
	shutdown, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.FlushTimeout)
	defer cancel()

	svc.HandleLifecycle(shutdown, stsync.EventBeforeUnload)
	svc.Close(shutdown)

	return loopErr
}

// sessionDeps are the collaborators of a session that own resources.
type sessionDeps struct {
	identity *identity.Identity
	policy   *policy.Store
	watcher  *policy.Watcher
	backup   *backup.Store
	state    *project.State
	client   *remote.Client
	remote   stsync.RemoteWriter
	reader   stsync.RemoteReader
}

// openSessionDeps loads the identity and policy and opens the backup store
// and remote client.
func openSessionDeps(ctx context.Context, cfg *config.Resolved, logger *slog.Logger) (*sessionDeps, error) {
	id, err := identity.Load(cfg.IdentityPath)
	if err != nil {
		return nil, fmt.Errorf("loading identity: %w", err)
	}

	if !id.IsGuest() && id.Expired(time.Now()) {
		statusf("Sign-in for %s has expired; edits stay local until you log in again.\n", id.Email)
		logger.Warn("identity expired, continuing as guest",
			slog.String("user", id.UserID),
			slog.Time("expired_at", id.ExpiresAt),
		)

		id = identity.Guest()
	}

	polCfg, err := policy.LoadOrPreset(cfg.PolicyPath, cfg.SyncMode)
	if err != nil {
		return nil, err
	}

	deps := &sessionDeps{
		identity: id,
		policy:   policy.NewStore(polCfg, cfg.PolicyPath, logger),
		state:    project.NewState(),
	}

	// The watched directory must exist before the first `stitchkeep mode`
	// creates the preference file in it.
	if err := os.MkdirAll(filepath.Dir(cfg.PolicyPath), pidDirPermissions); err != nil {
		return nil, fmt.Errorf("creating policy directory: %w", err)
	}

	deps.watcher, err = policy.NewWatcher(deps.policy, logger)
	if err != nil {
		logger.Warn("policy hot reload disabled", slog.String("error", err.Error()))
	}

	deps.backup, err = backup.Open(ctx, cfg.BackupPath, logger)
	if err != nil {
		return nil, err
	}

	if cfg.RemoteURL != "" {
		deps.client = remote.NewClient(cfg.RemoteURL, newHTTPClient(cfg), id.TokenSource(), logger)
		if cfg.UserAgent != "" {
			deps.client.SetUserAgent(cfg.UserAgent)
		}

		deps.remote = deps.client
		deps.reader = deps.client
	} else if id.CanWriteRemote() {
		deps.backup.Close()
		return nil, errors.New("signed in but remote_url is not configured (set remote_url or log out)")
	}

	return deps, nil
}

func (d *sessionDeps) close() {
	if err := d.backup.Close(); err != nil {
		statusf("closing backup store: %v\n", err)
	}
}

// runListener applies remote changes until ctx is canceled.
func runListener(ctx context.Context, svc *stsync.Service, client *remote.Client, logger *slog.Logger) {
	sub := stsync.SubscriberFunc(func(ctx context.Context, ownerID string) (stsync.Stream, error) {
		s, err := client.Subscribe(ctx, ownerID)
		if err != nil {
			return nil, err
		}

		return s, nil
	})

	if err := svc.NewListener(sub).Run(ctx); err != nil {
		logger.Error("change feed stopped", slog.String("error", err.Error()))
		statusf("No longer receiving changes from other devices: %v\n", err)
	}
}

func describeIdentity(id *identity.Identity) string {
	switch {
	case id.IsGuest():
		return "guest, local only"
	case !id.CanWriteRemote():
		return id.Email + ", local only"
	default:
		return id.Email
	}
}

// session is one interactive edit loop over a state container. Every edit
// updates the state synchronously and then hands the project to the sync
// service.
type session struct {
	svc   *stsync.Service
	state *project.State
	out   io.Writer
	now   func() time.Time
}

// sessionCommand is one REPL verb.
type sessionCommand struct {
	usage string
	help  string
	run   func(s *session, ctx context.Context, args []string, urgent bool) error
}

var sessionCommands = map[string]sessionCommand{
	"new":      {"new <name> [| pattern]", "create a project and select it", (*session).cmdNew},
	"use":      {"use <name|id>", "select a project", (*session).cmdUse},
	"stitch":   {"stitch", "next stitch", editCurrent(stsync.ContextNextStitch, (*project.Project).NextStitch)},
	"unstitch": {"unstitch", "previous stitch", editCurrent(stsync.ContextPrevStitch, (*project.Project).PrevStitch)},
	"row":      {"row", "next row", editCurrent(stsync.ContextNextRow, (*project.Project).NextRow)},
	"unrow":    {"unrow", "previous row", editCurrent(stsync.ContextPrevRow, (*project.Project).PrevRow)},
	"reset":    {"reset", "back to row 1, stitch 0, counters cleared", editCurrent(stsync.ContextResetProgress, (*project.Project).ResetProgress)},
	"count":    {"count <counter> [-]", "bump a named counter (\"-\" lowers it)", (*session).cmdCount},
	"rename":   {"rename <name>", "rename the current project", (*session).cmdRename},
	"pattern":  {"pattern <text>", "set the current project's pattern", (*session).cmdPattern},
	"delete":   {"delete [name|id]", "delete a project (default: current)", (*session).cmdDelete},
	"list":     {"list", "list projects", (*session).cmdList},
	"show":     {"show", "show the current project", (*session).cmdShow},
	"flush":    {"flush", "send every pending write now", (*session).cmdFlush},
	"pending":  {"pending", "list writes waiting to be sent", (*session).cmdPending},
	"mode":     {"mode [default|economy|rapid]", "show or switch the sync preset", (*session).cmdMode},
	"status":   {"status", "sync status", (*session).cmdStatus},
	"quit":     {"quit", "flush and leave", func(*session, context.Context, []string, bool) error { return errQuit }},
}

// run reads commands from in until quit, EOF, or ctx cancellation.
func (s *session) run(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	readErr := make(chan error, 1)

	go func() {
		defer close(lines)

		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}

		readErr <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-readErr:
					return err
				default:
					return nil
				}
			}

			err := s.exec(ctx, line)
			if errors.Is(err, errQuit) {
				return nil
			}

			if err != nil {
				fmt.Fprintf(s.out, "error: %v\n", err)
			}
		}
	}
}

// exec runs one command line. A trailing "!" on the verb marks the edit
// urgent.
func (s *session) exec(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	verb := strings.ToLower(fields[0])
	urgent := strings.HasSuffix(verb, "!")
	verb = strings.TrimSuffix(verb, "!")

	switch verb {
	case "exit":
		verb = "quit"
	case "help", "?":
		s.printHelp()
		return nil
	}

	c, ok := sessionCommands[verb]
	if !ok {
		return fmt.Errorf("unknown command %q (try 'help')", fields[0])
	}

	return c.run(s, ctx, fields[1:], urgent)
}

// editCurrent builds a command that applies fn to the current project.
func editCurrent(opContext string, fn func(*project.Project)) func(*session, context.Context, []string, bool) error {
	return func(s *session, _ context.Context, _ []string, urgent bool) error {
		p, err := s.update(opContext, urgent, fn)
		if err != nil {
			return err
		}

		s.printProgress(p)

		return nil
	}
}

// update applies fn to the current project and schedules the sync.
func (s *session) update(opContext string, urgent bool, fn func(*project.Project)) (*project.Project, error) {
	id := s.state.Current()
	if id == "" {
		return nil, errNoCurrent
	}

	p, err := s.state.Update(id, fn)
	if err != nil {
		return nil, err
	}

	s.svc.DebouncedSync(id, opContext, urgent)

	return p, nil
}

func (s *session) cmdNew(_ context.Context, args []string, urgent bool) error {
	name, pattern, _ := strings.Cut(strings.Join(args, " "), "|")
	name = strings.TrimSpace(name)

	if name == "" {
		return errors.New("usage: new <name> [| pattern]")
	}

	p := s.state.Create(name, strings.TrimSpace(pattern))

	if err := s.state.SetCurrent(p.ID); err != nil {
		return err
	}

	s.svc.DebouncedSync(p.ID, stsync.ContextCreateProject, urgent)
	fmt.Fprintf(s.out, "created %s (%s)\n", p.Name, shortID(p.ID))

	return nil
}

func (s *session) cmdUse(_ context.Context, args []string, urgent bool) error {
	p, err := s.find(args)
	if err != nil {
		return err
	}

	if err := s.state.SetCurrent(p.ID); err != nil {
		return err
	}

	s.svc.DebouncedSync(p.ID, stsync.ContextSetCurrentProject, urgent)
	fmt.Fprintf(s.out, "now working on %s\n", p.Name)

	return nil
}

func (s *session) cmdCount(_ context.Context, args []string, urgent bool) error {
	if len(args) == 0 {
		return errors.New("usage: count <counter> [-]")
	}

	name := args[0]
	opContext := stsync.ContextIncrementCounter
	fn := func(p *project.Project) { p.Increment(name) }

	if len(args) > 1 && args[1] == "-" {
		opContext = stsync.ContextDecrementCounter
		fn = func(p *project.Project) { p.Decrement(name) }
	}

	p, err := s.update(opContext, urgent, fn)
	if err != nil {
		return err
	}

	fmt.Fprintf(s.out, "%s: %d\n", name, p.Counters[name])

	return nil
}

func (s *session) cmdRename(_ context.Context, args []string, urgent bool) error {
	name := strings.Join(args, " ")
	if strings.TrimSpace(name) == "" {
		return errors.New("usage: rename <name>")
	}

	p, err := s.update(stsync.ContextRenameProject, urgent, func(p *project.Project) { p.Rename(name) })
	if err != nil {
		return err
	}

	fmt.Fprintf(s.out, "renamed to %s\n", p.Name)

	return nil
}

func (s *session) cmdPattern(_ context.Context, args []string, urgent bool) error {
	text := strings.Join(args, " ")

	_, err := s.update(stsync.ContextUpdatePattern, urgent, func(p *project.Project) { p.Pattern = text })
	if err != nil {
		return err
	}

	fmt.Fprintln(s.out, "pattern updated")

	return nil
}

func (s *session) cmdDelete(_ context.Context, args []string, urgent bool) error {
	var p *project.Project

	if len(args) == 0 {
		cur, ok := s.state.Get(s.state.Current())
		if !ok {
			return errNoCurrent
		}

		p = cur
	} else {
		found, err := s.find(args)
		if err != nil {
			return err
		}

		p = found
	}

	if err := s.state.Delete(p.ID); err != nil {
		return err
	}

	s.svc.DebouncedSync(p.ID, stsync.ContextDeleteProject, urgent)
	fmt.Fprintf(s.out, "deleted %s\n", p.Name)

	return nil
}

func (s *session) cmdList(_ context.Context, _ []string, _ bool) error {
	projects := s.state.List()
	if len(projects) == 0 {
		fmt.Fprintln(s.out, "no projects")
		return nil
	}

	current := s.state.Current()
	rows := make([][]string, 0, len(projects))

	for _, p := range projects {
		marker := ""
		if p.ID == current {
			marker = "*"
		}

		syncState := ""
		if s.svc.HasPendingSync(p.ID) {
			syncState = "pending"
		}

		rows = append(rows, []string{
			marker, shortID(p.ID), p.Name,
			fmt.Sprintf("%d", p.Row), fmt.Sprintf("%d", p.Stitch),
			formatTime(p.LastModified, s.now()), syncState,
		})
	}

	printTable(s.out, []string{"", "ID", "NAME", "ROW", "STITCH", "MODIFIED", "SYNC"}, rows)

	return nil
}

func (s *session) cmdShow(_ context.Context, _ []string, _ bool) error {
	p, ok := s.state.Get(s.state.Current())
	if !ok {
		return errNoCurrent
	}

	fmt.Fprintf(s.out, "%s (%s)\n", p.Name, p.ID)

	if p.Pattern != "" {
		fmt.Fprintf(s.out, "  pattern:  %s\n", p.Pattern)
	}

	fmt.Fprintf(s.out, "  row %d, stitch %d\n", p.Row, p.Stitch)

	names := make([]string, 0, len(p.Counters))
	for name := range p.Counters {
		names = append(names, name)
	}

	sort.Strings(names)

	for _, name := range names {
		fmt.Fprintf(s.out, "  %s: %d\n", name, p.Counters[name])
	}

	fmt.Fprintf(s.out, "  modified: %s\n", formatTime(p.LastModified, s.now()))

	return nil
}

func (s *session) cmdFlush(ctx context.Context, _ []string, _ bool) error {
	n := s.svc.FlushAll(ctx)
	fmt.Fprintf(s.out, "flushed %d project(s)\n", n)

	return nil
}

func (s *session) cmdPending(_ context.Context, _ []string, _ bool) error {
	pending := s.svc.Pending()
	if len(pending) == 0 {
		fmt.Fprintln(s.out, "nothing pending")
		return nil
	}

	now := s.now()
	rows := make([][]string, 0, len(pending))

	for _, p := range pending {
		via := "debounce"
		if p.Batched {
			via = "batch"
		}

		rows = append(rows, []string{
			shortID(p.EntityID), p.Name, p.Context, p.Priority.String(), via, formatIn(p.FiresAt, now),
		})
	}

	printTable(s.out, []string{"ID", "NAME", "CONTEXT", "PRIORITY", "VIA", "FIRES"}, rows)

	return nil
}

func (s *session) cmdMode(_ context.Context, args []string, _ bool) error {
	if len(args) == 0 {
		fmt.Fprintf(s.out, "sync mode: %s\n", s.svc.SyncConfig().Mode)
		return nil
	}

	cfg, err := s.svc.SetSyncMode(strings.ToLower(args[0]))
	if err != nil {
		return err
	}

	fmt.Fprintf(s.out, "sync mode: %s (pending writes keep their timers)\n", cfg.Mode)

	return nil
}

func (s *session) cmdStatus(_ context.Context, _ []string, _ bool) error {
	stats := s.svc.Stats()

	fmt.Fprintf(s.out, "mode:      %s\n", s.svc.SyncConfig().Mode)
	fmt.Fprintf(s.out, "projects:  %d\n", s.state.Len())
	fmt.Fprintf(s.out, "pending:   %d\n", s.svc.PendingCount())
	fmt.Fprintf(s.out, "last sync: %s\n", formatTime(s.svc.LastSync(), s.now()))
	fmt.Fprintf(s.out, "writes:    %d ok, %d failed, %d denied\n", stats.Successes, stats.Failures, stats.Denied)

	return nil
}

func (s *session) printHelp() {
	verbs := make([]string, 0, len(sessionCommands))
	for verb := range sessionCommands {
		verbs = append(verbs, verb)
	}

	sort.Strings(verbs)

	rows := make([][]string, 0, len(verbs))
	for _, verb := range verbs {
		c := sessionCommands[verb]
		rows = append(rows, []string{c.usage, c.help})
	}

	rows = append(rows, []string{"help", "this list"})

	printTable(s.out, []string{"COMMAND", "DESCRIPTION"}, rows)
	fmt.Fprintln(s.out, `Append "!" to a command to sync it urgently.`)
}

// find resolves a project by id, id prefix, or name (case-insensitive).
func (s *session) find(args []string) (*project.Project, error) {
	query := strings.TrimSpace(strings.Join(args, " "))
	if query == "" {
		return nil, errors.New("which project? (name or id)")
	}

	want := norm.NFC.String(strings.ToLower(query))

	var matches []*project.Project

	for _, p := range s.state.List() {
		if p.ID == query {
			return p, nil
		}

		if strings.HasPrefix(p.ID, query) || strings.ToLower(p.Name) == want {
			matches = append(matches, p)
		}
	}

	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("no project matches %q", query)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("%q matches %d projects; use the id", query, len(matches))
	}
}

func (s *session) printProgress(p *project.Project) {
	fmt.Fprintf(s.out, "%s: row %d, stitch %d\n", p.Name, p.Row, p.Stitch)
}

