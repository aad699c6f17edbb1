package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/tonimelisma/stitchkeep/internal/project"
	"github.com/tonimelisma/stitchkeep/internal/remote"
)

// RemoteWriter is the subset of the remote client the executor writes
// through.
type RemoteWriter interface {
	Create(ctx context.Context, ownerID, entityID string, body []byte) error
	Update(ctx context.Context, ownerID, entityID string, body []byte) error
	Delete(ctx context.Context, ownerID, entityID string) error
}

// FailureFunc is told once when a write gives up after its retries.
// attempts counts every try including the first.
type FailureFunc func(attempts, maxRetries int)

// PermissionFunc receives writes the remote refused to accept from this
// identity at all.
type PermissionFunc func(ctx context.Context, item Item, err error)

// Item is one write: the freshest copy of a project, or a deletion when
// Project is nil.
type Item struct {
	EntityID string
	Project  *project.Project
	Context  string
}

// SerializationError means the project could not be encoded for the wire.
// The write is dropped; retrying cannot help.
type SerializationError struct {
	EntityID string
	Err      error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("sync: encoding project %s: %v", e.EntityID, e.Err)
}

func (e *SerializationError) Unwrap() error {
	return e.Err
}

// Stats are cumulative executor counters.
type Stats struct {
	Attempts  int64
	Successes int64
	Failures  int64
	Denied    int64
}

// Executor performs remote writes with a bounded number of immediate
// retries. It never returns an error or panics to its caller: the outcome
// is the boolean result plus the failure callback. Thread-safe.
type Executor struct {
	remote  RemoteWriter
	ownerID string
	logger  *slog.Logger

	onFailure          FailureFunc
	onPermissionDenied PermissionFunc

	// nowFunc stamps LastSync. Tests override it.
	nowFunc func() time.Time

	lastSync  atomic.Pointer[time.Time] // nil until the first success
	attempts  atomic.Int64
	successes atomic.Int64
	failures  atomic.Int64
	denied    atomic.Int64
}

// NewExecutor creates an executor writing documents owned by ownerID.
// onFailure and onPermissionDenied may be nil.
func NewExecutor(w RemoteWriter, ownerID string, onFailure FailureFunc, onPermissionDenied PermissionFunc, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}

	return &Executor{
		remote:             w,
		ownerID:            ownerID,
		logger:             logger,
		onFailure:          onFailure,
		onPermissionDenied: onPermissionDenied,
		nowFunc:            time.Now,
	}
}

// Sync writes item, retrying transient failures up to maxRetries more
// times with no delay between attempts. It reports whether the write
// landed.
func (e *Executor) Sync(ctx context.Context, item Item, maxRetries int) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("sync: panic in remote write",
				slog.String("id", item.EntityID),
				slog.Any("panic", r),
			)
			e.failures.Add(1)
			ok = false
		}
	}()

	body, err := encodeItem(item)
	if err != nil {
		e.logger.Error("write dropped: project cannot be encoded",
			slog.String("id", item.EntityID),
			slog.String("error", err.Error()),
		)
		e.failures.Add(1)

		return false
	}

	maxRetries = max(maxRetries, 0)
	maxAttempts := maxRetries + 1

	var (
		attempts int
		lastErr  error
	)

	for attempts < maxAttempts {
		if ctx.Err() != nil {
			// Abandoned, not failed: the local copy is intact and the next
			// edit schedules it again.
			e.logger.Warn("write abandoned",
				slog.String("id", item.EntityID),
				slog.Int("attempts", attempts),
				slog.String("error", ctx.Err().Error()),
			)
			e.failures.Add(1)

			return false
		}

		attempts++
		e.attempts.Add(1)

		lastErr = e.writeOnce(ctx, item, body)
		if lastErr == nil {
			e.successes.Add(1)
			now := e.nowFunc()
			e.lastSync.Store(&now)

			e.logger.Debug("write succeeded",
				slog.String("id", item.EntityID),
				slog.String("context", item.Context),
				slog.Int("attempts", attempts),
			)

			return true
		}

		if remote.IsPermission(lastErr) {
			e.denied.Add(1)
			e.failures.Add(1)

			e.logger.Warn("remote refused write, keeping local backup",
				slog.String("id", item.EntityID),
				slog.String("error", lastErr.Error()),
			)

			if e.onPermissionDenied != nil {
				e.onPermissionDenied(ctx, item, lastErr)
			}

			return false
		}

		if !remote.IsTransient(lastErr) {
			break
		}

		if attempts < maxAttempts {
			e.logger.Warn("retrying remote write",
				slog.String("id", item.EntityID),
				slog.Int("attempt", attempts),
				slog.Int("max_retries", maxRetries),
				slog.String("error", lastErr.Error()),
			)
		}
	}

	e.failures.Add(1)

	e.logger.Error("remote write failed",
		slog.String("id", item.EntityID),
		slog.String("context", item.Context),
		slog.Int("attempts", attempts),
		slog.String("error", lastErr.Error()),
	)

	if e.onFailure != nil {
		e.onFailure(attempts, maxRetries)
	}

	return false
}

func (e *Executor) writeOnce(ctx context.Context, item Item, body []byte) error {
	if item.Project == nil {
		return e.remote.Delete(ctx, e.ownerID, item.EntityID)
	}

	err := e.remote.Update(ctx, e.ownerID, item.EntityID, body)
	if errors.Is(err, remote.ErrNotFound) {
		return e.remote.Create(ctx, e.ownerID, item.EntityID, body)
	}

	return err
}

func encodeItem(item Item) ([]byte, error) {
	if item.Project == nil {
		return nil, nil
	}

	body, err := json.Marshal(item.Project)
	if err != nil {
		return nil, &SerializationError{EntityID: item.EntityID, Err: err}
	}

	return body, nil
}

// LastSync is the time of the most recent successful write, or the zero
// time if none has succeeded yet.
func (e *Executor) LastSync() time.Time {
	t := e.lastSync.Load()
	if t == nil {
		return time.Time{}
	}

	return *t
}

// Stats returns a snapshot of the counters.
func (e *Executor) Stats() Stats {
	return Stats{
		Attempts:  e.attempts.Load(),
		Successes: e.successes.Load(),
		Failures:  e.failures.Load(),
		Denied:    e.denied.Load(),
	}
}
