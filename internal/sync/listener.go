package sync

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/tonimelisma/stitchkeep/internal/policy"
	"github.com/tonimelisma/stitchkeep/internal/project"
	"github.com/tonimelisma/stitchkeep/internal/remote"
)

// Stream is an open change feed.
type Stream interface {
	Next(ctx context.Context) (remote.Notification, error)
	Close() error
}

// Subscriber opens change feeds.
type Subscriber interface {
	Subscribe(ctx context.Context, ownerID string) (Stream, error)
}

// SubscriberFunc adapts a function to Subscriber.
type SubscriberFunc func(ctx context.Context, ownerID string) (Stream, error)

// Subscribe calls f.
func (f SubscriberFunc) Subscribe(ctx context.Context, ownerID string) (Stream, error) {
	return f(ctx, ownerID)
}

// minReconnectWait keeps a zero check interval from turning reconnects into
// a busy loop.
const minReconnectWait = time.Second

// Listener applies remote changes to local state. A notification for a
// project changed locally within the cooldown, or with a local write still
// pending, is the echo of our own write (or about to be overwritten by it)
// and is dropped.
type Listener struct {
	sub     Subscriber
	ownerID string
	state   *project.State
	echo    *EchoGuard
	pending func(id string) bool
	policy  func() policy.Config
	logger  *slog.Logger

	// sleepFunc waits between reconnects. Tests override it.
	sleepFunc func(ctx context.Context, d time.Duration) error

	applied    atomic.Int64
	suppressed atomic.Int64
}

// NewListener creates a listener for ownerID's feed.
func NewListener(sub Subscriber, ownerID string, state *project.State, echo *EchoGuard,
	pending func(id string) bool, policyFn func() policy.Config, logger *slog.Logger,
) *Listener {
	if logger == nil {
		logger = slog.Default()
	}

	return &Listener{
		sub:       sub,
		ownerID:   ownerID,
		state:     state,
		echo:      echo,
		pending:   pending,
		policy:    policyFn,
		logger:    logger,
		sleepFunc: timeSleep,
	}
}

// Run consumes the feed until ctx is canceled, reconnecting after the
// policy's check interval (at least minReconnectWait) whenever the feed
// drops. It returns nil on
// cancellation and an error only when the remote refuses the subscription.
func (l *Listener) Run(ctx context.Context) error {
	for {
		err := l.consume(ctx)

		if ctx.Err() != nil {
			return nil
		}

		if remote.IsPermission(err) {
			l.logger.Warn("change feed refused", slog.String("error", err.Error()))
			return err
		}

		wait := max(l.policy().Subscription.CheckInterval, minReconnectWait)

		if err != nil {
			l.logger.Warn("change feed interrupted",
				slog.String("error", err.Error()),
				slog.Duration("retry_in", wait),
			)
		} else {
			l.logger.Info("change feed closed by server", slog.Duration("retry_in", wait))
		}

		if sleepErr := l.sleepFunc(ctx, wait); sleepErr != nil {
			return nil
		}

		// Expired echo marks are no longer useful once we reconnect.
		l.echo.Prune()
	}
}

// consume reads one connection until it ends. A nil return means the
// server closed the feed normally.
func (l *Listener) consume(ctx context.Context) error {
	stream, err := l.sub.Subscribe(ctx, l.ownerID)
	if err != nil {
		return err
	}
	defer stream.Close()

	for {
		n, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}

		if err != nil {
			return err
		}

		l.Apply(n)
	}
}

// Apply handles one notification and reports whether it changed local
// state.
func (l *Listener) Apply(n remote.Notification) bool {
	if l.echo.HasRecentChange(n.EntityID) || l.pending(n.EntityID) {
		l.suppressed.Add(1)
		l.logger.Debug("change notification suppressed", slog.String("id", n.EntityID))

		return false
	}

	switch n.Kind {
	case remote.KindUpsert:
		if n.Project == nil {
			return false
		}

		p := n.Project.Clone()
		p.ID = n.EntityID
		l.state.Replace(p)

	case remote.KindDelete:
		l.state.Remove(n.EntityID)

	default:
		return false
	}

	l.applied.Add(1)
	l.logger.Info("remote change applied",
		slog.String("id", n.EntityID),
		slog.String("kind", n.Kind),
	)

	return true
}

// Counts returns how many notifications were applied and suppressed.
func (l *Listener) Counts() (applied, suppressed int64) {
	return l.applied.Load(), l.suppressed.Load()
}

// timeSleep waits for the given duration or until the context is canceled.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
