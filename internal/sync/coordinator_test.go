package sync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/stitchkeep/internal/policy"
	"github.com/tonimelisma/stitchkeep/internal/project"
)

func newTestCoordinator(t *testing.T, cfg policy.Config) (*Coordinator, *manualClock, *recorder, *policy.Store) {
	t.Helper()

	clock := newManualClock()
	rec := &recorder{clock: clock}
	store := storeFor(t, cfg)

	c := NewCoordinator(clock, store.Get, rec.write, testLogger(t))
	t.Cleanup(c.Close)

	return c, clock, rec, store
}

func snap(id string, row int) *project.Project {
	return &project.Project{ID: id, Name: "proj-" + id, Row: row}
}

func TestCoordinator_CollapsesBurstIntoOneWrite(t *testing.T) {
	t.Parallel()

	c, clock, rec, _ := newTestCoordinator(t, policy.Default())

	for i := range 10 {
		c.Schedule("p1", snap("p1", i), ContextRenameProject, false)
		clock.Advance(100 * time.Millisecond)
	}

	assert.Equal(t, 0, rec.count())
	assert.Equal(t, 1, c.PendingCount())

	clock.Advance(2 * time.Second)

	writes := rec.all()
	require.Len(t, writes, 1)
	assert.Equal(t, "p1", writes[0].Req.EntityID)
	assert.Equal(t, ContextRenameProject, writes[0].Req.Context)
	assert.Equal(t, 0, c.PendingCount())
}

func TestCoordinator_RescheduleResetsTimer(t *testing.T) {
	t.Parallel()

	c, clock, rec, _ := newTestCoordinator(t, policy.Default())
	d := policy.Default().Debounce.Default

	c.Schedule("p1", snap("p1", 1), ContextUpdateProject, false)
	clock.Advance(d / 2)
	c.Schedule("p1", snap("p1", 2), ContextUpdateProject, false)

	clock.Advance(d/2 + time.Millisecond)
	assert.Equal(t, 0, rec.count(), "must not fire at D")

	clock.Advance(d/2 - 2*time.Millisecond)
	assert.Equal(t, 0, rec.count())

	clock.Advance(time.Millisecond)

	writes := rec.all()
	require.Len(t, writes, 1)
	assert.Equal(t, epoch.Add(d/2+d), writes[0].At)
}

func TestCoordinator_UrgentUsesUrgentTier(t *testing.T) {
	t.Parallel()

	c, clock, rec, _ := newTestCoordinator(t, policy.Default())

	c.Schedule("p1", snap("p1", 1), ContextNextStitch, true)
	assert.False(t, c.Pending()[0].Batched)

	clock.Advance(300 * time.Millisecond)

	writes := rec.all()
	require.Len(t, writes, 1)
	assert.Equal(t, epoch.Add(300*time.Millisecond), writes[0].At)
	assert.Equal(t, PriorityUrgent, writes[0].Req.Priority)
}

func TestCoordinator_BatchSharesOneTimer(t *testing.T) {
	t.Parallel()

	c, clock, rec, _ := newTestCoordinator(t, policy.Default())

	for _, id := range []string{"a", "b", "c", "d"} {
		c.Schedule(id, snap(id, 1), ContextIncrementCounter, false)
		clock.Advance(time.Second)
	}

	assert.Equal(t, 1, clock.Armed(), "one shared timer")
	assert.Equal(t, 4, c.PendingCount())

	clock.Advance(6 * time.Second)

	writes := rec.all()
	require.Len(t, writes, 4)

	for _, w := range writes {
		assert.Equal(t, epoch.Add(10*time.Second), w.At)
	}
}

func TestCoordinator_BatchScenarioFiresAtTenSeconds(t *testing.T) {
	t.Parallel()

	c, clock, rec, _ := newTestCoordinator(t, policy.Default())

	c.Schedule("p1", snap("p1", 1), ContextNextStitch, false)
	clock.Advance(4 * time.Second)
	c.Schedule("p2", snap("p2", 1), ContextNextStitch, false)

	clock.Advance(6*time.Second - time.Millisecond)
	assert.Equal(t, 0, rec.count())

	clock.Advance(time.Millisecond)

	writes := rec.all()
	require.Len(t, writes, 2)
	assert.Equal(t, "p1", writes[0].Req.EntityID)
	assert.Equal(t, "p2", writes[1].Req.EntityID)
	assert.Equal(t, epoch.Add(10*time.Second), writes[0].At)
	assert.Equal(t, epoch.Add(10*time.Second), writes[1].At)
}

func TestCoordinator_BatchRearmsAfterFiring(t *testing.T) {
	t.Parallel()

	c, clock, rec, _ := newTestCoordinator(t, policy.Default())

	c.Schedule("p1", snap("p1", 1), ContextNextStitch, false)
	clock.Advance(10 * time.Second)
	require.Equal(t, 1, rec.count())

	c.Schedule("p1", snap("p1", 2), ContextNextStitch, false)
	assert.True(t, c.HasPendingSync("p1"))

	clock.Advance(10 * time.Second)
	assert.Equal(t, 2, rec.count())
}

func TestCoordinator_IndividualTakesProjectOutOfBatch(t *testing.T) {
	t.Parallel()

	c, clock, rec, _ := newTestCoordinator(t, policy.Default())

	c.Schedule("p1", snap("p1", 1), ContextNextStitch, false)
	c.Schedule("p1", snap("p1", 1), ContextRenameProject, false)

	pending := c.Pending()
	require.Len(t, pending, 1)
	assert.False(t, pending[0].Batched)
	assert.Equal(t, 1, clock.Armed(), "empty batch timer stopped")

	clock.Advance(10 * time.Second)
	assert.Equal(t, 1, rec.count())
}

func TestCoordinator_BatchEditFoldsIntoPendingWrite(t *testing.T) {
	t.Parallel()

	c, clock, rec, _ := newTestCoordinator(t, policy.Default())

	c.Schedule("p1", snap("p1", 1), ContextCreateProject, false)
	c.Schedule("p1", snap("p1", 1), ContextNextStitch, false)

	assert.Equal(t, 1, c.PendingCount())
	assert.False(t, c.Pending()[0].Batched)

	clock.Advance(time.Second)

	writes := rec.all()
	require.Len(t, writes, 1)
	assert.Equal(t, ContextCreateProject, writes[0].Req.Context)

	clock.Advance(20 * time.Second)
	assert.Equal(t, 1, rec.count())
}

func TestCoordinator_FlushAllDrainsBoth(t *testing.T) {
	t.Parallel()

	c, clock, rec, _ := newTestCoordinator(t, policy.Default())

	assert.Equal(t, 0, c.FlushAll(context.Background()), "empty flush is a no-op")

	c.Schedule("a", snap("a", 1), ContextNextStitch, false)
	c.Schedule("b", snap("b", 1), ContextNextStitch, false)
	c.Schedule("c", snap("c", 1), ContextRenameProject, false)
	c.Schedule("d", snap("d", 1), ContextDeleteProject, false)

	assert.Equal(t, 4, c.FlushAll(context.Background()))
	assert.Equal(t, 0, c.PendingCount())
	assert.Equal(t, 4, rec.count())
	assert.Equal(t, 0, clock.Armed())

	assert.Equal(t, 0, c.FlushAll(context.Background()))
	assert.Equal(t, 0, c.PendingCount())

	clock.Advance(time.Minute)
	assert.Equal(t, 4, rec.count(), "stopped timers never fire")
}

func TestCoordinator_FlushEntity(t *testing.T) {
	t.Parallel()

	c, clock, rec, _ := newTestCoordinator(t, policy.Default())

	c.Schedule("a", snap("a", 1), ContextNextStitch, false)
	c.Schedule("b", snap("b", 1), ContextUpdatePattern, false)

	assert.True(t, c.FlushEntity(context.Background(), "a"))
	assert.True(t, c.FlushEntity(context.Background(), "b"))
	assert.False(t, c.FlushEntity(context.Background(), "zzz"))

	assert.Equal(t, 2, rec.count())
	assert.Equal(t, 0, c.PendingCount())
	assert.Equal(t, 0, clock.Armed())
}

func TestCoordinator_ModeSwitchIsProspective(t *testing.T) {
	t.Parallel()

	c, clock, rec, store := newTestCoordinator(t, policy.Default())

	c.Schedule("old", snap("old", 1), ContextUpdateProject, false) // default: 2s

	_, err := store.SetMode(policy.ModeEconomy)
	require.NoError(t, err)

	c.Schedule("new", snap("new", 1), ContextUpdateProject, false) // economy: 6s

	clock.Advance(2 * time.Second)

	writes := rec.all()
	require.Len(t, writes, 1)
	assert.Equal(t, "old", writes[0].Req.EntityID)
	assert.Equal(t, epoch.Add(2*time.Second), writes[0].At)

	clock.Advance(4 * time.Second)

	writes = rec.all()
	require.Len(t, writes, 2)
	assert.Equal(t, epoch.Add(6*time.Second), writes[0].At)
}

func TestCoordinator_KillSwitchWritesImmediately(t *testing.T) {
	t.Parallel()

	cfg := policy.Default()
	cfg.Strategy.EnableDebouncing = false

	c, clock, rec, _ := newTestCoordinator(t, cfg)

	c.Schedule("p1", snap("p1", 1), ContextNextStitch, false)
	c.Schedule("p2", snap("p2", 1), ContextRenameProject, false)

	require.Eventually(t, func() bool { return rec.count() == 2 }, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, 0, c.PendingCount())
	assert.Equal(t, 0, clock.Armed())

	for _, w := range rec.all() {
		assert.Equal(t, epoch, w.At, "no delay")
	}
}

func TestCoordinator_PendingReport(t *testing.T) {
	t.Parallel()

	c, _, _, _ := newTestCoordinator(t, policy.Default())

	c.Schedule("b", snap("b", 1), ContextNextStitch, false)
	c.Schedule("a", snap("a", 1), ContextCreateProject, false)

	pending := c.Pending()
	require.Len(t, pending, 2)

	assert.Equal(t, "a", pending[0].EntityID)
	assert.Equal(t, "proj-a", pending[0].Name)
	assert.Equal(t, PriorityHigh, pending[0].Priority)
	assert.Equal(t, epoch.Add(time.Second), pending[0].FiresAt)

	assert.Equal(t, "b", pending[1].EntityID)
	assert.True(t, pending[1].Batched)
	assert.Equal(t, epoch.Add(10*time.Second), pending[1].FiresAt)
}

func TestCoordinator_CloseRejectsLaterSchedules(t *testing.T) {
	t.Parallel()

	c, clock, rec, _ := newTestCoordinator(t, policy.Default())

	c.Schedule("p1", snap("p1", 1), ContextUpdateProject, false)
	c.Close()
	c.Close()

	c.Schedule("p2", snap("p2", 1), ContextUpdateProject, false)

	assert.Equal(t, 0, c.PendingCount())

	clock.Advance(time.Minute)
	assert.Equal(t, 0, rec.count())
}
