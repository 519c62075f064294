// Package progress tracks the live state of a sync run in memory so the
// status API can report it without touching the database. Writers are the
// sync workers; readers get copies and never observe a torn update.
package progress

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Snapshot is a point-in-time copy of the tracker state. Percentage is
// finished forces over total; counts are neighbourhood-level.
type Snapshot struct {
	Active         bool      `json:"active"`
	RunID          uuid.UUID `json:"run_id,omitempty"`
	Scope          string    `json:"scope,omitempty"`
	StartedAt      time.Time `json:"started_at,omitzero"`
	CurrentForce   string    `json:"current_force,omitempty"`
	ForcesTotal    int       `json:"forces_total"`
	ForcesDone     int       `json:"forces_done"`
	Synced         int       `json:"synced"`
	Failed         int       `json:"failed"`
	NoBoundary     int       `json:"no_boundary"`
	Percentage     float64   `json:"percentage"`
}

// Result summarizes the last finished run.
type Result struct {
	RunID       uuid.UUID     `json:"run_id"`
	Scope       string        `json:"scope"`
	Status      string        `json:"status"`
	StartedAt   time.Time     `json:"started_at"`
	FinishedAt  time.Time     `json:"finished_at"`
	Duration    time.Duration `json:"duration"`
	Synced      int           `json:"synced"`
	Failed      int           `json:"failed"`
	NoBoundary  int           `json:"no_boundary"`
	SuccessRate float64       `json:"success_rate"`
}

// Tracker accumulates run progress. Safe for concurrent use.
type Tracker struct {
	mu   sync.Mutex
	cur  Snapshot
	last *Result
}

// NewTracker returns an idle Tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// StartRun resets the tracker for a new run.
func (t *Tracker) StartRun(runID uuid.UUID, scope string, forcesTotal int, startedAt time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cur = Snapshot{
		Active:      true,
		RunID:       runID,
		Scope:       scope,
		StartedAt:   startedAt,
		ForcesTotal: forcesTotal,
	}
}

// SetCurrentForce records which force a worker picked up most recently.
func (t *Tracker) SetCurrentForce(forceID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cur.CurrentForce = forceID
}

// RecordSynced counts one stored boundary.
func (t *Tracker) RecordSynced() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cur.Synced++
}

// RecordFailed counts one neighbourhood that could not be synced.
func (t *Tracker) RecordFailed() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cur.Failed++
}

// RecordNoBoundary counts one neighbourhood the upstream has no polygon for.
func (t *Tracker) RecordNoBoundary() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cur.NoBoundary++
}

// ForceDone counts one finished force, whatever its outcome.
func (t *Tracker) ForceDone() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cur.ForcesDone++
}

// FinishRun archives the run as the last result and returns the tracker to
// idle.
func (t *Tracker) FinishRun(status string, finishedAt time.Time) Result {
	t.mu.Lock()
	defer t.mu.Unlock()

	attempted := t.cur.Synced + t.cur.Failed
	rate := 1.0
	if attempted > 0 {
		rate = float64(t.cur.Synced) / float64(attempted)
	}
	res := Result{
		RunID:       t.cur.RunID,
		Scope:       t.cur.Scope,
		Status:      status,
		StartedAt:   t.cur.StartedAt,
		FinishedAt:  finishedAt,
		Duration:    finishedAt.Sub(t.cur.StartedAt),
		Synced:      t.cur.Synced,
		Failed:      t.cur.Failed,
		NoBoundary:  t.cur.NoBoundary,
		SuccessRate: rate,
	}
	t.last = &res
	t.cur = Snapshot{}
	return res
}

// Snapshot returns a copy of the current state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := t.cur
	if snap.ForcesTotal > 0 {
		snap.Percentage = 100 * float64(snap.ForcesDone) / float64(snap.ForcesTotal)
	}
	return snap
}

// LastResult returns a copy of the last finished run's summary, if any.
func (t *Tracker) LastResult() (Result, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.last == nil {
		return Result{}, false
	}
	return *t.last, true
}
