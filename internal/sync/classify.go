// Package sync pushes local project edits to the remote store. Writes are
// debounced per project, low-priority progress edits share one batch timer,
// failed writes are retried a bounded number of times, and echoes of the
// client's own writes coming back on the change feed are suppressed.
package sync

import (
	"time"

	"github.com/tonimelisma/stitchkeep/internal/policy"
)

// Priority is the scheduling tier of an edit.
type Priority int

// Priority tiers, lowest first.
const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityUrgent
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	case PriorityUrgent:
		return "urgent"
	default:
		return "unknown"
	}
}

// Edit context labels. The caller passes one with every scheduled write.
const (
	ContextCreateProject     = "createProject"
	ContextDeleteProject     = "deleteProject"
	ContextUpdateProject     = "updateProject"
	ContextRenameProject     = "renameProject"
	ContextUpdatePattern     = "updatePattern"
	ContextSetCurrentProject = "setCurrentProject"
	ContextResetProgress     = "resetProgress"
	ContextNextStitch        = "nextStitch"
	ContextPrevStitch        = "prevStitch"
	ContextNextRow           = "nextRow"
	ContextPrevRow           = "prevRow"
	ContextIncrementCounter  = "incrementCounter"
	ContextDecrementCounter  = "decrementCounter"
)

var contextPriority = map[string]Priority{
	ContextCreateProject:     PriorityHigh,
	ContextDeleteProject:     PriorityHigh,
	ContextUpdateProject:     PriorityMedium,
	ContextRenameProject:     PriorityMedium,
	ContextUpdatePattern:     PriorityMedium,
	ContextSetCurrentProject: PriorityMedium,
	ContextResetProgress:     PriorityMedium,
	ContextNextStitch:        PriorityLow,
	ContextPrevStitch:        PriorityLow,
	ContextNextRow:           PriorityLow,
	ContextPrevRow:           PriorityLow,
	ContextIncrementCounter:  PriorityLow,
	ContextDecrementCounter:  PriorityLow,
}

// batchable lists the low-priority contexts that may share the batch timer.
// Row changes are low priority but keep their own debounce so a finished
// row is never held for the whole batch window.
var batchable = map[string]bool{
	ContextNextStitch:       true,
	ContextPrevStitch:       true,
	ContextIncrementCounter: true,
	ContextDecrementCounter: true,
}

// Classification is the scheduling treatment of one edit.
type Classification struct {
	Priority  Priority
	Delay     time.Duration
	UsesBatch bool
}

// Classify maps an edit context to its tier, debounce delay, and whether it
// joins the shared batch. Unknown contexts are medium priority. The urgent
// flag always wins.
func Classify(opContext string, urgent bool, cfg policy.Config) Classification {
	if urgent {
		return Classification{Priority: PriorityUrgent, Delay: cfg.Debounce.Urgent}
	}

	prio, ok := contextPriority[opContext]
	if !ok {
		prio = PriorityMedium
	}

	c := Classification{Priority: prio}

	switch prio {
	case PriorityHigh:
		c.Delay = cfg.Debounce.Critical
	case PriorityLow:
		c.Delay = cfg.Debounce.Progress
		c.UsesBatch = cfg.Strategy.EnableDebouncing && batchable[opContext]
	default:
		c.Delay = cfg.Debounce.Default
	}

	return c
}
