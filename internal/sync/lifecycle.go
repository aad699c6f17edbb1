package sync

import (
	"context"
	"log/slog"
	"time"

	"github.com/tonimelisma/stitchkeep/internal/policy"
)

// LifecycleEvent is a host signal after which pending writes should be
// pushed out before the process may go away.
type LifecycleEvent int

const (
	// EventVisibilityHidden: the app moved to the background.
	EventVisibilityHidden LifecycleEvent = iota + 1
	// EventBeforeUnload: the app is about to exit.
	EventBeforeUnload
)

func (e LifecycleEvent) String() string {
	switch e {
	case EventVisibilityHidden:
		return "visibility-hidden"
	case EventBeforeUnload:
		return "before-unload"
	default:
		return "unknown"
	}
}

// defaultFlushTimeout bounds a lifecycle flush when none is configured.
const defaultFlushTimeout = 10 * time.Second

// Lifecycle flushes the coordinator on lifecycle events when the policy
// enables it. The flush is best effort: it is bounded by a timeout and the
// process may still exit before it completes.
type Lifecycle struct {
	flush   func(ctx context.Context) int
	policy  func() policy.Config
	timeout time.Duration
	logger  *slog.Logger
}

// NewLifecycle creates a lifecycle trigger. timeout <= 0 uses the default.
func NewLifecycle(flush func(ctx context.Context) int, policyFn func() policy.Config, timeout time.Duration, logger *slog.Logger) *Lifecycle {
	if timeout <= 0 {
		timeout = defaultFlushTimeout
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Lifecycle{flush: flush, policy: policyFn, timeout: timeout, logger: logger}
}

// Handle reacts to one event and reports whether a flush ran.
func (l *Lifecycle) Handle(ctx context.Context, ev LifecycleEvent) bool {
	strategy := l.policy().Strategy

	var enabled bool

	switch ev {
	case EventVisibilityHidden:
		enabled = strategy.FlushOnVisibilityChange
	case EventBeforeUnload:
		enabled = strategy.FlushOnBeforeUnload
	}

	if !enabled {
		l.logger.Debug("lifecycle flush disabled", slog.String("event", ev.String()))
		return false
	}

	// The event often arrives as the parent context is being canceled;
	// the flush gets its own deadline instead.
	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.timeout)
	defer cancel()

	n := l.flush(flushCtx)

	l.logger.Info("lifecycle flush",
		slog.String("event", ev.String()),
		slog.Int("projects", n),
	)

	return true
}

// Run handles events until ctx is canceled or events is closed.
func (l *Lifecycle) Run(ctx context.Context, events <-chan LifecycleEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}

			l.Handle(ctx, ev)
		}
	}
}
