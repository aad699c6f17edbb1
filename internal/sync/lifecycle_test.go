package sync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/stitchkeep/internal/policy"
)

func TestLifecycle_FlushesWhenEnabled(t *testing.T) {
	t.Parallel()

	c, _, rec, store := newTestCoordinator(t, policy.Default())
	l := NewLifecycle(c.FlushAll, store.Get, time.Second, testLogger(t))

	c.Schedule("p1", snap("p1", 1), ContextNextStitch, false)
	c.Schedule("p2", snap("p2", 1), ContextRenameProject, false)

	assert.True(t, l.Handle(context.Background(), EventVisibilityHidden))
	assert.Equal(t, 0, c.PendingCount())
	assert.Equal(t, 2, rec.count())
}

func TestLifecycle_RespectsFlags(t *testing.T) {
	t.Parallel()

	c, _, rec, store := newTestCoordinator(t, policy.Default())
	off := false
	store.Set(policy.Patch{Strategy: policy.StrategyPatch{FlushOnVisibilityChange: &off}})

	l := NewLifecycle(c.FlushAll, store.Get, 0, testLogger(t))

	c.Schedule("p1", snap("p1", 1), ContextNextStitch, false)

	assert.False(t, l.Handle(context.Background(), EventVisibilityHidden))
	assert.Equal(t, 1, c.PendingCount())

	assert.True(t, l.Handle(context.Background(), EventBeforeUnload))
	assert.Equal(t, 1, rec.count())
}

func TestLifecycle_FlushSurvivesCanceledParent(t *testing.T) {
	t.Parallel()

	var flushErr error

	flush := func(ctx context.Context) int {
		flushErr = ctx.Err()
		_, hasDeadline := ctx.Deadline()
		assert.True(t, hasDeadline)

		return 0
	}

	l := NewLifecycle(flush, func() policy.Config { return policy.Default() }, time.Second, testLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.True(t, l.Handle(ctx, EventBeforeUnload))
	assert.NoError(t, flushErr)
}

func TestLifecycle_Run(t *testing.T) {
	t.Parallel()

	flushed := make(chan struct{}, 2)
	flush := func(context.Context) int {
		flushed <- struct{}{}
		return 0
	}

	l := NewLifecycle(flush, func() policy.Config { return policy.Default() }, time.Second, testLogger(t))

	events := make(chan LifecycleEvent)
	done := make(chan struct{})

	go func() {
		l.Run(context.Background(), events)
		close(done)
	}()

	events <- EventVisibilityHidden
	events <- EventBeforeUnload
	close(events)

	<-done
	assert.Len(t, flushed, 2)
}

func TestLifecycleEvent_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "visibility-hidden", EventVisibilityHidden.String())
	assert.Equal(t, "before-unload", EventBeforeUnload.String())
	assert.Equal(t, "unknown", LifecycleEvent(0).String())
}
