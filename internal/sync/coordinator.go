package sync

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/stitchkeep/internal/policy"
	"github.com/tonimelisma/stitchkeep/internal/project"
)

// WriteFunc performs one remote write for a project. It must read the
// freshest local state itself; the coordinator only decides when.
type WriteFunc func(ctx context.Context, req WriteRequest)

// WriteRequest is handed to WriteFunc when a debounce or batch timer fires
// or a flush drains the project.
type WriteRequest struct {
	EntityID string
	Context  string
	Priority Priority
}

// pendingSync is the single outstanding debounced write of one project.
// Pointer identity distinguishes a live record from one that was replaced
// after its timer had already fired.
type pendingSync struct {
	entityID    string
	snapshot    *project.Project // state at schedule time; nil for deletions
	context     string
	priority    Priority
	delay       time.Duration
	scheduledAt time.Time
	timer       Timer
}

// PendingInfo describes an outstanding write for status output.
type PendingInfo struct {
	EntityID    string
	Name        string
	Context     string
	Priority    Priority
	Batched     bool
	ScheduledAt time.Time
	FiresAt     time.Time
}

// batchEntry is one project waiting in the shared batch queue.
type batchEntry struct {
	snapshot    *project.Project
	context     string
	scheduledAt time.Time
}

// Coordinator owns every deferred remote write: one debounce record per
// project for normal, critical, and urgent edits, and one shared batch queue
// and timer for high-frequency progress edits. A project is never in both.
// Thread-safe; timer callbacks never hold the lock while writing.
type Coordinator struct {
	mu sync.Mutex

	clock  Clock
	policy func() policy.Config
	write  WriteFunc
	logger *slog.Logger

	pending map[string]*pendingSync
	batch   map[string]*batchEntry

	batchTimer   Timer
	batchGen     uint64 // bumped whenever the batch timer is replaced or stopped
	batchFiresAt time.Time

	ctx      context.Context // parent of timer-fired writes
	cancel   context.CancelFunc
	inflight sync.WaitGroup
	closed   bool
}

// NewCoordinator creates a coordinator. policy is consulted on every
// Schedule call, so a preset switch applies to later calls only.
func NewCoordinator(clock Clock, policyFn func() policy.Config, write WriteFunc, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}

	if clock == nil {
		clock = RealClock()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Coordinator{
		clock:   clock,
		policy:  policyFn,
		write:   write,
		logger:  logger,
		pending: make(map[string]*pendingSync),
		batch:   make(map[string]*batchEntry),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Schedule defers a remote write for id. snapshot is the project as it was
// just updated locally (nil when the edit deleted it). Schedule never
// blocks on I/O.
func (c *Coordinator) Schedule(id string, snapshot *project.Project, opContext string, urgent bool) {
	cfg := c.policy()
	cls := Classify(opContext, urgent, cfg)

	c.mu.Lock()

	if c.closed {
		c.mu.Unlock()
		c.logger.Warn("write scheduled after shutdown dropped", slog.String("id", id))

		return
	}

	// Kill switch: no debounce, no batch.
	if !cfg.Strategy.EnableDebouncing {
		c.cancelLocked(id)
		c.inflight.Add(1)
		c.mu.Unlock()

		go func() {
			defer c.inflight.Done()
			c.write(c.ctx, WriteRequest{EntityID: id, Context: opContext, Priority: cls.Priority})
		}()

		return
	}

	if cls.UsesBatch {
		c.enqueueBatchLocked(id, snapshot, opContext, cfg)
		c.mu.Unlock()

		return
	}

	c.scheduleIndividualLocked(id, snapshot, opContext, cls)
	c.mu.Unlock()
}

func (c *Coordinator) scheduleIndividualLocked(id string, snapshot *project.Project, opContext string, cls Classification) {
	if prev, ok := c.pending[id]; ok {
		prev.timer.Stop()
	}

	c.removeFromBatchLocked(id)

	rec := &pendingSync{
		entityID:    id,
		snapshot:    snapshot,
		context:     opContext,
		priority:    cls.Priority,
		delay:       cls.Delay,
		scheduledAt: c.clock.Now(),
	}
	rec.timer = c.clock.AfterFunc(cls.Delay, func() { c.fireIndividual(rec) })
	c.pending[id] = rec

	c.logger.Debug("write scheduled",
		slog.String("id", id),
		slog.String("context", opContext),
		slog.String("priority", cls.Priority.String()),
		slog.Duration("delay", cls.Delay),
	)
}

func (c *Coordinator) enqueueBatchLocked(id string, snapshot *project.Project, opContext string, cfg policy.Config) {
	// A higher-priority write for this project is already armed and will
	// carry the newer state; joining the batch would put id in both.
	if rec, ok := c.pending[id]; ok {
		rec.snapshot = snapshot

		c.logger.Debug("batch edit folded into pending write",
			slog.String("id", id),
			slog.String("context", opContext),
			slog.String("pending_context", rec.context),
		)

		return
	}

	now := c.clock.Now()
	c.batch[id] = &batchEntry{snapshot: snapshot, context: opContext, scheduledAt: now}

	if c.batchTimer != nil {
		return
	}

	delay := cfg.BatchDelay()
	c.batchGen++
	gen := c.batchGen
	c.batchFiresAt = now.Add(delay)
	c.batchTimer = c.clock.AfterFunc(delay, func() { c.fireBatch(gen) })

	c.logger.Debug("batch timer started",
		slog.String("first_id", id),
		slog.Duration("delay", delay),
	)
}

// removeFromBatchLocked drops id from the batch queue and stops the batch
// timer if the queue became empty.
func (c *Coordinator) removeFromBatchLocked(id string) {
	if _, ok := c.batch[id]; !ok {
		return
	}

	delete(c.batch, id)

	if len(c.batch) == 0 {
		c.stopBatchTimerLocked()
	}
}

func (c *Coordinator) stopBatchTimerLocked() {
	if c.batchTimer != nil {
		c.batchTimer.Stop()
		c.batchTimer = nil
	}

	c.batchGen++
	c.batchFiresAt = time.Time{}
}

// cancelLocked drops anything pending for id without writing it.
func (c *Coordinator) cancelLocked(id string) {
	if rec, ok := c.pending[id]; ok {
		rec.timer.Stop()
		delete(c.pending, id)
	}

	c.removeFromBatchLocked(id)
}

func (c *Coordinator) fireIndividual(rec *pendingSync) {
	c.mu.Lock()

	// Replaced or flushed while this callback was waiting for the lock.
	if c.pending[rec.entityID] != rec {
		c.mu.Unlock()
		return
	}

	delete(c.pending, rec.entityID)
	c.inflight.Add(1)
	c.mu.Unlock()

	defer c.inflight.Done()

	c.write(c.ctx, WriteRequest{EntityID: rec.entityID, Context: rec.context, Priority: rec.priority})
}

func (c *Coordinator) fireBatch(gen uint64) {
	c.mu.Lock()

	if gen != c.batchGen || c.batchTimer == nil {
		c.mu.Unlock()
		return
	}

	reqs := c.drainBatchLocked()
	c.batchTimer = nil
	c.batchGen++
	c.batchFiresAt = time.Time{}
	c.inflight.Add(1)
	c.mu.Unlock()

	defer c.inflight.Done()

	c.logger.Info("batch fired", slog.Int("projects", len(reqs)))

	c.runAll(c.ctx, reqs)
}

func (c *Coordinator) drainBatchLocked() []WriteRequest {
	reqs := make([]WriteRequest, 0, len(c.batch))
	for id, e := range c.batch {
		reqs = append(reqs, WriteRequest{EntityID: id, Context: e.context, Priority: PriorityLow})
	}

	c.batch = make(map[string]*batchEntry)

	return reqs
}

// runAll performs every write in parallel and waits for all of them.
func (c *Coordinator) runAll(ctx context.Context, reqs []WriteRequest) {
	var g errgroup.Group

	for _, req := range reqs {
		g.Go(func() error {
			c.write(ctx, req)
			return nil
		})
	}

	_ = g.Wait()
}

// FlushAll cancels every timer, empties both the debounce records and the
// batch queue, and performs all of their writes in parallel, returning when
// they have finished. Safe to call with nothing pending.
func (c *Coordinator) FlushAll(ctx context.Context) int {
	c.mu.Lock()

	reqs := make([]WriteRequest, 0, len(c.pending)+len(c.batch))

	for id, rec := range c.pending {
		rec.timer.Stop()
		reqs = append(reqs, WriteRequest{EntityID: id, Context: rec.context, Priority: rec.priority})
	}

	c.pending = make(map[string]*pendingSync)

	reqs = append(reqs, c.drainBatchLocked()...)
	c.stopBatchTimerLocked()

	if len(reqs) == 0 {
		c.mu.Unlock()
		return 0
	}

	c.inflight.Add(1)
	c.mu.Unlock()

	defer c.inflight.Done()

	c.logger.Info("flushing pending writes", slog.Int("projects", len(reqs)))

	c.runAll(ctx, reqs)

	return len(reqs)
}

// FlushEntity writes id now if it is pending in either structure. It
// reports whether anything was pending.
func (c *Coordinator) FlushEntity(ctx context.Context, id string) bool {
	c.mu.Lock()

	var req WriteRequest

	if rec, ok := c.pending[id]; ok {
		rec.timer.Stop()
		delete(c.pending, id)
		req = WriteRequest{EntityID: id, Context: rec.context, Priority: rec.priority}
	} else if e, ok := c.batch[id]; ok {
		c.removeFromBatchLocked(id)
		req = WriteRequest{EntityID: id, Context: e.context, Priority: PriorityLow}
	} else {
		c.mu.Unlock()
		return false
	}

	c.inflight.Add(1)
	c.mu.Unlock()

	defer c.inflight.Done()

	c.write(ctx, req)

	return true
}

// HasPendingSync reports whether id has a write waiting in either
// structure.
func (c *Coordinator) HasPendingSync(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.pending[id]; ok {
		return true
	}

	_, ok := c.batch[id]

	return ok
}

// PendingCount is the number of projects with a write waiting.
func (c *Coordinator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.pending) + len(c.batch)
}

// Pending lists every waiting write, soonest first.
func (c *Coordinator) Pending() []PendingInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]PendingInfo, 0, len(c.pending)+len(c.batch))

	for id, rec := range c.pending {
		out = append(out, PendingInfo{
			EntityID:    id,
			Name:        snapshotName(rec.snapshot),
			Context:     rec.context,
			Priority:    rec.priority,
			ScheduledAt: rec.scheduledAt,
			FiresAt:     rec.scheduledAt.Add(rec.delay),
		})
	}

	for id, e := range c.batch {
		out = append(out, PendingInfo{
			EntityID:    id,
			Name:        snapshotName(e.snapshot),
			Context:     e.context,
			Priority:    PriorityLow,
			Batched:     true,
			ScheduledAt: e.scheduledAt,
			FiresAt:     c.batchFiresAt,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].FiresAt.Equal(out[j].FiresAt) {
			return out[i].FiresAt.Before(out[j].FiresAt)
		}

		return out[i].EntityID < out[j].EntityID
	})

	return out
}

func snapshotName(p *project.Project) string {
	if p == nil {
		return ""
	}

	return p.Name
}

// Close stops all timers without writing, waits for writes already in
// flight, and rejects later Schedule calls. Callers wanting pending writes
// delivered call FlushAll first.
func (c *Coordinator) Close() {
	c.mu.Lock()

	if c.closed {
		c.mu.Unlock()
		return
	}

	c.closed = true

	dropped := len(c.pending) + len(c.batch)
	for _, rec := range c.pending {
		rec.timer.Stop()
	}

	c.pending = make(map[string]*pendingSync)
	c.batch = make(map[string]*batchEntry)
	c.stopBatchTimerLocked()
	c.mu.Unlock()

	if dropped > 0 {
		c.logger.Warn("pending writes dropped at shutdown", slog.Int("projects", dropped))
	}

	c.inflight.Wait()
	c.cancel()
}
