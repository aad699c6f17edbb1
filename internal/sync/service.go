package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/tonimelisma/stitchkeep/internal/backup"
	"github.com/tonimelisma/stitchkeep/internal/identity"
	"github.com/tonimelisma/stitchkeep/internal/policy"
	"github.com/tonimelisma/stitchkeep/internal/project"
)

// BackupStore is the local fallback store.
type BackupStore interface {
	Save(ctx context.Context, userKey string, snap backup.Snapshot) error
	Load(ctx context.Context, userKey string) (*backup.Snapshot, error)
}

// RemoteReader reads back what the remote store holds for an owner.
type RemoteReader interface {
	List(ctx context.Context, ownerID string) ([]*project.Project, error)
}

// ServiceConfig holds every collaborator of a Service. All of them are
// resolved here, at construction; nothing is looked up when a timer fires.
type ServiceConfig struct {
	Policy   *policy.Store
	State    *project.State
	Remote   RemoteWriter // unused when Identity cannot write remotely
	Reader   RemoteReader // optional; restores a writer's projects at Start
	Backup   BackupStore  // required when Identity cannot write remotely
	Identity *identity.Identity
	Clock    Clock
	Logger   *slog.Logger

	// OnFailure is told when a write gives up after its retries.
	OnFailure FailureFunc

	// FlushTimeout bounds lifecycle-triggered flushes.
	FlushTimeout time.Duration
}

// Service is the sync engine of one editing session: construct it once,
// Start it, route every local edit through DebouncedSync, and Close it on
// the way out.
type Service struct {
	policy   *policy.Store
	state    *project.State
	backup   BackupStore
	reader   RemoteReader
	identity *identity.Identity
	clock    Clock
	logger   *slog.Logger

	coord     *Coordinator
	exec      *Executor
	echo      *EchoGuard
	lifecycle *Lifecycle

	// backupMu serialises backup writes so an older snapshot never
	// overwrites a newer one.
	backupMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
}

// NewService wires a Service from cfg.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Policy == nil || cfg.State == nil || cfg.Identity == nil {
		return nil, errors.New("sync: policy, state, and identity are required")
	}

	if cfg.Identity.CanWriteRemote() && cfg.Remote == nil {
		return nil, errors.New("sync: remote writer required for identity with write access")
	}

	if !cfg.Identity.CanWriteRemote() && cfg.Backup == nil {
		return nil, errors.New("sync: backup store required for identity without write access")
	}

	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	if cfg.Clock == nil {
		cfg.Clock = RealClock()
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Service{
		policy:   cfg.Policy,
		state:    cfg.State,
		backup:   cfg.Backup,
		reader:   cfg.Reader,
		identity: cfg.Identity,
		clock:    cfg.Clock,
		logger:   cfg.Logger,
		ctx:      ctx,
		cancel:   cancel,
	}

	s.echo = NewEchoGuard(func() time.Duration {
		return s.policy.Get().Subscription.LocalUpdateCooldown
	}, cfg.Clock.Now)

	var onDenied PermissionFunc
	if cfg.Backup != nil {
		onDenied = func(ctx context.Context, _ Item, _ error) { s.saveBackup(ctx) }
	}

	s.exec = NewExecutor(cfg.Remote, cfg.Identity.OwnerID(), cfg.OnFailure, onDenied, cfg.Logger)
	s.exec.nowFunc = cfg.Clock.Now
	s.coord = NewCoordinator(cfg.Clock, s.policy.Get, s.write, cfg.Logger)
	s.lifecycle = NewLifecycle(s.coord.FlushAll, s.policy.Get, cfg.FlushTimeout, cfg.Logger)

	return s, nil
}

// Start fills the state container. Local-only identities get their
// backup back. Writers get the remote copy merged with the backup left by
// refused writes; for each project the newer LastModified wins, and local
// copies that are newer than the remote are scheduled to be written again.
func (s *Service) Start(ctx context.Context) error {
	s.logger.Info("sync service starting",
		slog.String("user", s.identity.Key()),
		slog.Bool("remote_writes", s.identity.CanWriteRemote()),
		slog.String("mode", s.policy.Get().Mode),
	)

	snap, err := s.loadBackup(ctx)
	if err != nil {
		return err
	}

	if !s.identity.CanWriteRemote() {
		if snap != nil {
			s.state.Restore(snap.Projects, snap.CurrentProjectID)
		}

		return nil
	}

	return s.restoreWriter(ctx, snap)
}

func (s *Service) loadBackup(ctx context.Context) (*backup.Snapshot, error) {
	if s.backup == nil {
		return nil, nil
	}

	snap, err := s.backup.Load(ctx, s.identity.Key())
	if errors.Is(err, backup.ErrNoBackup) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("sync: restoring backup: %w", err)
	}

	s.logger.Info("local backup restored",
		slog.Int("projects", len(snap.Projects)),
		slog.Time("saved_at", snap.SavedAt),
	)

	return snap, nil
}

func (s *Service) restoreWriter(ctx context.Context, snap *backup.Snapshot) error {
	var (
		local   []*project.Project
		current string
	)

	if snap != nil {
		local = snap.Projects
		current = snap.CurrentProjectID
	}

	if s.reader == nil {
		if snap != nil {
			s.state.Restore(local, current)
		}

		return nil
	}

	remoteProjects, err := s.reader.List(ctx, s.identity.OwnerID())
	if err != nil {
		// Offline start: work from the local copy; the next write reaches
		// the remote when it is back.
		s.logger.Warn("remote projects unavailable, starting from local copy",
			slog.String("error", err.Error()),
		)
		s.state.Restore(local, current)

		return nil
	}

	merged, stale := mergeNewest(remoteProjects, local)
	s.state.Restore(merged, current)

	for _, id := range stale {
		s.DebouncedSync(id, ContextUpdateProject, false)
	}

	s.logger.Info("remote projects restored",
		slog.Int("remote", len(remoteProjects)),
		slog.Int("local", len(local)),
		slog.Int("resync", len(stale)),
	)

	return nil
}

// mergeNewest keeps, per id, whichever copy was modified last. A tie goes to
// the remote. stale lists the ids whose local copy won and so still has to
// reach the remote.
func mergeNewest(remoteProjects, local []*project.Project) (merged []*project.Project, stale []string) {
	byID := make(map[string]*project.Project, len(remoteProjects)+len(local))

	for _, p := range remoteProjects {
		if p != nil && p.ID != "" {
			byID[p.ID] = p
		}
	}

	for _, p := range local {
		if p == nil || p.ID == "" {
			continue
		}

		if r, ok := byID[p.ID]; ok && !p.LastModified.After(r.LastModified) {
			continue
		}

		byID[p.ID] = p
		stale = append(stale, p.ID)
	}

	merged = make([]*project.Project, 0, len(byID))
	for _, p := range byID {
		merged = append(merged, p)
	}

	sort.Strings(stale)

	return merged, stale
}

// DebouncedSync records that id was just changed locally (the state
// container is already updated) and arranges for the change to be stored:
// straight into the local backup for identities without remote write
// access, otherwise through the coordinator.
func (s *Service) DebouncedSync(id, opContext string, urgent bool) {
	s.echo.MarkChanged(id)

	if !s.identity.CanWriteRemote() {
		s.saveBackup(s.ctx)
		return
	}

	snap, _ := s.state.Get(id)
	s.coord.Schedule(id, snap, opContext, urgent)
}

// write is the coordinator's WriteFunc: it sends the state of the project
// as it is now, not as it was when scheduled.
func (s *Service) write(ctx context.Context, req WriteRequest) {
	item := Item{EntityID: req.EntityID, Context: req.Context}

	if p, ok := s.state.Get(req.EntityID); ok {
		item.Project = p
	}

	s.exec.Sync(ctx, item, s.policy.Get().Strategy.MaxRetries)
}

func (s *Service) saveBackup(ctx context.Context) {
	s.backupMu.Lock()
	defer s.backupMu.Unlock()

	snap := backup.Snapshot{
		Projects:         s.state.List(),
		CurrentProjectID: s.state.Current(),
	}

	if err := s.backup.Save(ctx, s.identity.Key(), snap); err != nil {
		s.logger.Error("local backup failed",
			slog.String("user", s.identity.Key()),
			slog.String("error", err.Error()),
		)
	}
}

// FlushAll writes everything pending now and returns how many projects
// were flushed.
func (s *Service) FlushAll(ctx context.Context) int {
	return s.coord.FlushAll(ctx)
}

// FlushProject writes id now if it has a pending write.
func (s *Service) FlushProject(ctx context.Context, id string) bool {
	return s.coord.FlushEntity(ctx, id)
}

// HasPendingSync reports whether id has a write waiting.
func (s *Service) HasPendingSync(id string) bool {
	return s.coord.HasPendingSync(id)
}

// PendingCount is the number of projects with a write waiting.
func (s *Service) PendingCount() int {
	return s.coord.PendingCount()
}

// Pending lists the waiting writes.
func (s *Service) Pending() []PendingInfo {
	return s.coord.Pending()
}

// SyncConfig returns the live policy snapshot.
func (s *Service) SyncConfig() policy.Config {
	return s.policy.Get()
}

// SetSyncConfig merges p into the policy. Timers already armed keep their
// duration.
func (s *Service) SetSyncConfig(p policy.Patch) policy.Config {
	return s.policy.Set(p)
}

// SetSyncMode switches to a named preset.
func (s *Service) SetSyncMode(name string) (policy.Config, error) {
	return s.policy.SetMode(name)
}

// LastSync is the time of the last successful remote write.
func (s *Service) LastSync() time.Time {
	return s.exec.LastSync()
}

// Stats returns the executor counters.
func (s *Service) Stats() Stats {
	return s.exec.Stats()
}

// EchoGuard is the guard consulted by the change-feed listener.
func (s *Service) EchoGuard() *EchoGuard {
	return s.echo
}

// NewListener creates a change-feed listener bound to this service's state,
// echo guard, and pending writes.
func (s *Service) NewListener(sub Subscriber) *Listener {
	return NewListener(sub, s.identity.OwnerID(), s.state, s.echo, s.coord.HasPendingSync, s.policy.Get, s.logger)
}

// HandleLifecycle flushes on a lifecycle event if the policy asks for it.
func (s *Service) HandleLifecycle(ctx context.Context, ev LifecycleEvent) bool {
	return s.lifecycle.Handle(ctx, ev)
}

// RunLifecycle handles lifecycle events until ctx is canceled or events
// is closed.
func (s *Service) RunLifecycle(ctx context.Context, events <-chan LifecycleEvent) {
	s.lifecycle.Run(ctx, events)
}

// Close flushes pending writes, waits for in-flight ones, and stops the
// service. Local-only identities get a final backup.
func (s *Service) Close(ctx context.Context) {
	n := s.coord.FlushAll(ctx)
	s.coord.Close()

	if !s.identity.CanWriteRemote() {
		s.saveBackup(ctx)
	}

	s.cancel()

	stats := s.exec.Stats()
	s.logger.Info("sync service stopped",
		slog.Int("flushed", n),
		slog.Int64("writes", stats.Successes),
		slog.Int64("failures", stats.Failures),
	)
}
