package policy

import (
	"log/slog"
	"sync"
)

// Store owns the single live policy snapshot. Readers get a value copy;
// writers replace the snapshot as a whole. When constructed with a path the
// store persists every change to the preference file so it survives
// restarts. Thread-safe.
type Store struct {
	mu        sync.RWMutex
	cfg       Config
	path      string // immutable; empty disables persistence
	logger    *slog.Logger
	observers []func(Config)
}

// NewStore creates a Store seeded with initial. path may be empty.
func NewStore(initial Config, path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}

	return &Store{
		cfg:    initial,
		path:   path,
		logger: logger,
	}
}

// Get returns the current snapshot.
func (s *Store) Get() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.cfg
}

// Path returns the preference file path, or "" when not persisted.
func (s *Store) Path() string {
	return s.path
}

// OnChange registers fn to be called with the new snapshot after every
// change. fn runs on the goroutine that made the change, outside the lock.
func (s *Store) OnChange(fn func(Config)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.observers = append(s.observers, fn)
}

// Set merges p into the current snapshot and installs the result. The merge
// and the install happen under one lock, so concurrent changes are never
// lost.
func (s *Store) Set(p Patch) Config {
	return s.update(p.Apply, "set", true)
}

// SetMode replaces the whole snapshot with the named preset.
func (s *Store) SetMode(name string) (Config, error) {
	next, err := Preset(name)
	if err != nil {
		return Config{}, err
	}

	s.update(func(Config) Config { return next }, "mode", true)

	return next, nil
}

// Replace installs cfg as read from the preference file. It is not written
// back, and an identical snapshot is ignored.
func (s *Store) Replace(cfg Config) {
	s.update(func(Config) Config { return cfg }, "reload", false)
}

// update installs fn(current) as the new snapshot and returns it.
func (s *Store) update(fn func(Config) Config, reason string, persist bool) Config {
	s.mu.Lock()
	prev := s.cfg
	next := fn(prev)

	if prev == next {
		s.mu.Unlock()
		return next
	}

	s.cfg = next
	observers := append([]func(Config){}, s.observers...)

	if persist && s.path != "" {
		if err := Save(s.path, next); err != nil {
			s.logger.Warn("sync policy not persisted",
				slog.String("path", s.path),
				slog.String("error", err.Error()),
			)
		}
	}
	s.mu.Unlock()

	s.logger.Info("sync policy changed",
		slog.String("reason", reason),
		slog.String("from_mode", prev.Mode),
		slog.String("to_mode", next.Mode),
		slog.Duration("progress", next.Debounce.Progress),
		slog.Duration("default", next.Debounce.Default),
		slog.Duration("critical", next.Debounce.Critical),
		slog.Duration("urgent", next.Debounce.Urgent),
		slog.Bool("debouncing", next.Strategy.EnableDebouncing),
		slog.Int("max_retries", next.Strategy.MaxRetries),
	)

	for _, fn := range observers {
		fn(next)
	}

	return next
}
