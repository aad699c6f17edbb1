package policy

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// FsWatcher is the subset of *fsnotify.Watcher the policy watcher uses.
// Tests substitute a channel-backed fake.
type FsWatcher interface {
	Add(name string) error
	Close() error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
}

// fsnotifyWatcher adapts *fsnotify.Watcher (whose channels are fields) to
// FsWatcher.
type fsnotifyWatcher struct {
	w *fsnotify.Watcher
}

func (f fsnotifyWatcher) Add(name string) error         { return f.w.Add(name) }
func (f fsnotifyWatcher) Close() error                  { return f.w.Close() }
func (f fsnotifyWatcher) Events() <-chan fsnotify.Event { return f.w.Events }
func (f fsnotifyWatcher) Errors() <-chan error          { return f.w.Errors }

// Watcher reloads the preference file into a Store whenever another process
// rewrites it, e.g. `stitchkeep mode economy` while a session is running.
type Watcher struct {
	store   *Store
	watcher FsWatcher
	logger  *slog.Logger
}

// NewWatcher watches the directory containing store.Path(). The directory is
// watched rather than the file because Save replaces the file by rename.
func NewWatcher(store *Store, logger *slog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("policy: creating watcher: %w", err)
	}

	return newWatcher(store, fsnotifyWatcher{w: fw}, logger)
}

func newWatcher(store *Store, fw FsWatcher, logger *slog.Logger) (*Watcher, error) {
	if store.Path() == "" {
		fw.Close()
		return nil, fmt.Errorf("policy: store has no preference file to watch")
	}

	if err := fw.Add(filepath.Dir(store.Path())); err != nil {
		fw.Close()
		return nil, fmt.Errorf("policy: watching %s: %w", filepath.Dir(store.Path()), err)
	}

	return &Watcher{store: store, watcher: fw, logger: logger}, nil
}

// Run processes file events until ctx is canceled, then closes the
// underlying watcher.
func (w *Watcher) Run(ctx context.Context) {
	defer w.watcher.Close()

	target := filepath.Clean(w.store.Path())

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-w.watcher.Events():
			if !ok {
				return
			}

			if filepath.Clean(ev.Name) != target {
				continue
			}

			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}

			w.reload(target)

		case err, ok := <-w.watcher.Errors():
			if !ok {
				return
			}

			w.logger.Warn("policy watcher error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) reload(path string) {
	cfg, err := Load(path)
	if err != nil {
		// Half-written or hand-edited file: keep the current snapshot.
		w.logger.Warn("policy file ignored",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)

		return
	}

	w.store.Replace(cfg)
}
