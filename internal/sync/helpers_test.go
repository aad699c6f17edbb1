package sync

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/tonimelisma/stitchkeep/internal/policy"
	"github.com/tonimelisma/stitchkeep/internal/project"
	"github.com/tonimelisma/stitchkeep/internal/remote"
)

var epoch = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

// testLogWriter adapts testing.T to io.Writer for slog output. Writes that
// arrive after the test finished are discarded.
type testLogWriter struct {
	mu   *sync.Mutex
	done *bool
	t    *testing.T
}

func (w testLogWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !*w.done {
		w.t.Log(string(p))
	}

	return len(p), nil
}

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	w := testLogWriter{mu: &sync.Mutex{}, done: new(bool), t: t}
	t.Cleanup(func() {
		w.mu.Lock()
		*w.done = true
		w.mu.Unlock()
	})

	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// manualClock is a Clock whose time only moves when Advance is called.
// Timer callbacks run synchronously inside Advance, in firing order.
type manualClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*manualTimer
}

type manualTimer struct {
	clock   *manualClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newManualClock() *manualClock {
	return &manualClock{now: epoch}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := &manualTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)

	return t
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()

	if t.stopped || t.fired {
		return false
	}

	t.stopped = true

	return true
}

// Advance moves time forward by d, running every timer that comes due.
func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()

		var next *manualTimer

		for _, t := range c.timers {
			if t.stopped || t.fired || t.at.After(target) {
				continue
			}

			if next == nil || t.at.Before(next.at) {
				next = t
			}
		}

		if next == nil {
			c.now = target
			c.mu.Unlock()

			return
		}

		c.now = next.at
		next.fired = true
		c.mu.Unlock()

		next.f()
	}
}

// Armed is the number of timers that have neither fired nor been stopped.
func (c *manualClock) Armed() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0

	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}

	return n
}

// writeRecord is one call observed by a recorder.
type writeRecord struct {
	At  time.Time
	Req WriteRequest
}

// recorder is a WriteFunc that remembers every call.
type recorder struct {
	mu     sync.Mutex
	clock  Clock
	writes []writeRecord
}

func (r *recorder) write(_ context.Context, req WriteRequest) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.writes = append(r.writes, writeRecord{At: r.clock.Now(), Req: req})
}

func (r *recorder) all() []writeRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := append([]writeRecord(nil), r.writes...)
	sort.Slice(out, func(i, j int) bool { return out[i].Req.EntityID < out[j].Req.EntityID })

	return out
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.writes)
}

// remoteCall is one call observed by fakeRemote.
type remoteCall struct {
	Op   string
	ID   string
	Body string
}

// fakeRemote is a RemoteWriter and RemoteReader backed by a map. failWith, when set, is
// returned by every call instead of touching the map.
type fakeRemote struct {
	mu       sync.Mutex
	docs     map[string]string
	calls    []remoteCall
	failWith error
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{docs: make(map[string]string)}
}

func (f *fakeRemote) record(op, id string, body []byte) error {
	f.calls = append(f.calls, remoteCall{Op: op, ID: id, Body: string(body)})
	return f.failWith
}

func (f *fakeRemote) Create(_ context.Context, _, id string, body []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("create", id, body); err != nil {
		return err
	}

	f.docs[id] = string(body)

	return nil
}

func (f *fakeRemote) Update(_ context.Context, _, id string, body []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("update", id, body); err != nil {
		return err
	}

	if _, ok := f.docs[id]; !ok {
		return &remote.RemoteError{StatusCode: 404, Err: remote.ErrNotFound}
	}

	f.docs[id] = string(body)

	return nil
}

func (f *fakeRemote) Delete(_ context.Context, _, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("delete", id, nil); err != nil {
		return err
	}

	delete(f.docs, id)

	return nil
}

func (f *fakeRemote) List(_ context.Context, _ string) ([]*project.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("list", "", nil); err != nil {
		return nil, err
	}

	out := make([]*project.Project, 0, len(f.docs))

	for _, doc := range f.docs {
		var p project.Project
		if err := json.Unmarshal([]byte(doc), &p); err != nil {
			return nil, err
		}

		out = append(out, &p)
	}

	return out, nil
}

func (f *fakeRemote) callLog() []remoteCall {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]remoteCall(nil), f.calls...)
}

func (f *fakeRemote) doc(id string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	d, ok := f.docs[id]

	return d, ok
}

// storeFor returns an unpersisted policy store seeded with cfg.
func storeFor(t *testing.T, cfg policy.Config) *policy.Store {
	t.Helper()

	return policy.NewStore(cfg, "", testLogger(t))
}
