package sync

import (
	"sync"
	"time"
)

// EchoGuard remembers projects changed locally within the last cooldown so
// the change-feed listener can drop the echo of the client's own write.
// Entries expire on their own; Clear removes one early. Thread-safe.
type EchoGuard struct {
	mu       sync.Mutex
	expiry   map[string]time.Time
	cooldown func() time.Duration // read at mark time
	nowFunc  func() time.Time
}

// NewEchoGuard creates a guard. cooldown is consulted on every MarkChanged
// so a policy change applies to later marks.
func NewEchoGuard(cooldown func() time.Duration, nowFunc func() time.Time) *EchoGuard {
	if nowFunc == nil {
		nowFunc = time.Now
	}

	return &EchoGuard{
		expiry:   make(map[string]time.Time),
		cooldown: cooldown,
		nowFunc:  nowFunc,
	}
}

// MarkChanged records a local change to id.
func (g *EchoGuard) MarkChanged(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.expiry[id] = g.nowFunc().Add(g.cooldown())
}

// HasRecentChange reports whether id was changed locally and the cooldown
// has not yet elapsed.
func (g *EchoGuard) HasRecentChange(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	exp, ok := g.expiry[id]
	if !ok {
		return false
	}

	if !g.nowFunc().Before(exp) {
		delete(g.expiry, id)
		return false
	}

	return true
}

// Clear forgets id.
func (g *EchoGuard) Clear(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.expiry, id)
}

// Prune drops expired entries and returns how many were removed.
func (g *EchoGuard) Prune() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.nowFunc()
	removed := 0

	for id, exp := range g.expiry {
		if !now.Before(exp) {
			delete(g.expiry, id)
			removed++
		}
	}

	return removed
}

// Len is the number of entries, expired or not, currently held.
func (g *EchoGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	return len(g.expiry)
}
