// Package project defines the Project aggregate, the unit of synchronization,
// and the in-memory State container that edit sources mutate before any
// remote write is scheduled.
package project

import (
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

// Project is a single tracked piece of work. It is always replaced wholesale
// on the remote side; there are no field-level deltas.
type Project struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Pattern      string         `json:"pattern,omitempty"`
	Row          int            `json:"row"`
	Stitch       int            `json:"stitch"`
	Counters     map[string]int `json:"counters,omitempty"`
	Attributes   map[string]any `json:"attributes,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
	LastModified time.Time      `json:"lastModified"`
}

// New returns a project with a fresh id, positioned at row 1, stitch 0.
func New(name, pattern string, now time.Time) *Project {
	return &Project{
		ID:           uuid.NewString(),
		Name:         normalizeName(name),
		Pattern:      pattern,
		Row:          1,
		Counters:     make(map[string]int),
		CreatedAt:    now,
		LastModified: now,
	}
}

// Clone returns a deep copy. Attribute values are copied shallowly; they are
// expected to be JSON scalars.
func (p *Project) Clone() *Project {
	if p == nil {
		return nil
	}

	c := *p
	c.Counters = maps.Clone(p.Counters)
	c.Attributes = maps.Clone(p.Attributes)

	return &c
}

// NextStitch advances the stitch counter within the current row.
func (p *Project) NextStitch() {
	p.Stitch++
}

// PrevStitch steps the stitch counter back, never below zero.
func (p *Project) PrevStitch() {
	if p.Stitch > 0 {
		p.Stitch--
	}
}

// NextRow moves to the next row and resets the stitch counter.
func (p *Project) NextRow() {
	p.Row++
	p.Stitch = 0
}

// PrevRow moves back one row, never below row 1.
func (p *Project) PrevRow() {
	if p.Row > 1 {
		p.Row--
		p.Stitch = 0
	}
}

// Increment bumps a named counter (e.g. "repeats", "decreases").
func (p *Project) Increment(counter string) {
	if p.Counters == nil {
		p.Counters = make(map[string]int)
	}

	p.Counters[counter]++
}

// Decrement lowers a named counter, never below zero.
func (p *Project) Decrement(counter string) {
	if p.Counters[counter] > 0 {
		p.Counters[counter]--
	}
}

// Rename sets the display name.
func (p *Project) Rename(name string) {
	p.Name = normalizeName(name)
}

// ResetProgress returns the project to row 1, stitch 0 and clears counters.
func (p *Project) ResetProgress() {
	p.Row = 1
	p.Stitch = 0
	clear(p.Counters)
}

// normalizeName trims whitespace and applies NFC so names typed on different
// platforms compare equal.
func normalizeName(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}
