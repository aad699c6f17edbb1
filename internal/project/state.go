package project

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ErrNotFound is returned when an operation names a project the State does
// not hold.
var ErrNotFound = errors.New("project: not found")

// State is the authoritative in-memory view of a user's projects. Edits are
// applied here synchronously; the sync engine reads from it when a deferred
// write fires, so the remote always receives the latest snapshot. All
// methods are safe for concurrent use and hand out clones, never the stored
// pointers.
type State struct {
	mu       sync.RWMutex
	projects map[string]*Project
	current  string
	nowFunc  func() time.Time
}

// NewState returns an empty State.
func NewState() *State {
	return &State{
		projects: make(map[string]*Project),
		nowFunc:  time.Now,
	}
}

// SetNowFunc overrides the clock used for CreatedAt/LastModified. Tests only.
func (s *State) SetNowFunc(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nowFunc = fn
}

// Create adds a new project and makes it current when no project is.
func (s *State) Create(name, pattern string) *Project {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := New(name, pattern, s.nowFunc())
	s.projects[p.ID] = p

	if s.current == "" {
		s.current = p.ID
	}

	return p.Clone()
}

// Update applies fn to the stored project and stamps LastModified. fn runs
// under the write lock and must not call back into the State.
func (s *State) Update(id string, fn func(*Project)) (*Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.projects[id]
	if !ok {
		return nil, fmt.Errorf("project: updating %s: %w", id, ErrNotFound)
	}

	fn(p)
	p.LastModified = s.nowFunc()

	return p.Clone(), nil
}

// Delete removes a project. The current pointer is cleared if it named it.
func (s *State) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.projects[id]; !ok {
		return fmt.Errorf("project: deleting %s: %w", id, ErrNotFound)
	}

	delete(s.projects, id)

	if s.current == id {
		s.current = ""
	}

	return nil
}

// Get returns a copy of the project with the given id.
func (s *State) Get(id string) (*Project, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.projects[id]
	if !ok {
		return nil, false
	}

	return p.Clone(), true
}

// List returns copies of all projects ordered by creation time, then id.
func (s *State) List() []*Project {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Project, 0, len(s.projects))
	for _, p := range s.projects {
		out = append(out, p.Clone())
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}

		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	return out
}

// Len returns the number of projects held.
func (s *State) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.projects)
}

// Current returns the id of the current project, or "" when none is set.
func (s *State) Current() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.current
}

// SetCurrent selects the current project.
func (s *State) SetCurrent(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.projects[id]; !ok {
		return fmt.Errorf("project: selecting %s: %w", id, ErrNotFound)
	}

	s.current = id

	return nil
}

// Replace stores p as received from the remote. LastModified is kept as
// sent; remote application is not a local mutation.
func (s *State) Replace(p *Project) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.projects[p.ID] = p.Clone()
}

// Remove drops a project deleted remotely. Missing ids are ignored.
func (s *State) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.projects, id)

	if s.current == id {
		s.current = ""
	}
}

// Restore replaces the whole State with a saved snapshot.
func (s *State) Restore(projects []*Project, current string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.projects = make(map[string]*Project, len(projects))
	for _, p := range projects {
		s.projects[p.ID] = p.Clone()
	}

	s.current = ""
	if _, ok := s.projects[current]; ok {
		s.current = current
	}
}
