// Package monitor consumes the session event stream so supervisors can
// watch field interviews progress without polling the API.
package monitor

import (
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/openmeet-team/fieldwork/internal/engine"
	"github.com/openmeet-team/fieldwork/internal/models"
)

// Tracker folds incoming snapshots into per-session progress and logs
// transitions as they happen.
type Tracker struct {
	mu   sync.Mutex
	last map[uuid.UUID]engine.Snapshot
}

// NewTracker creates a new Tracker instance
func NewTracker() *Tracker {
	return &Tracker{
		last: make(map[uuid.UUID]engine.Snapshot),
	}
}

// Process folds one snapshot into the tracked state.
func (t *Tracker) Process(snap *engine.Snapshot) {
	t.mu.Lock()
	prev, seen := t.last[snap.SessionID]
	t.last[snap.SessionID] = *snap
	if snap.State.Closed() {
		delete(t.last, snap.SessionID)
	}
	t.mu.Unlock()

	if !seen {
		log.Printf("session %s: watching (%s, state=%s)", snap.SessionID, snap.Mode, snap.State)
	}

	if seen && prev.State != snap.State {
		log.Printf("session %s: %s -> %s", snap.SessionID, prev.State, snap.State)
	}
	if seen && prev.Call.Status != snap.Call.Status && snap.Call.Status != models.CallIdle {
		log.Printf("session %s: call %s", snap.SessionID, snap.Call.Status)
	}
	if seen && prev.AnsweredCount != snap.AnsweredCount {
		log.Printf("session %s: answered %d/%d (%.0fs elapsed)",
			snap.SessionID, snap.AnsweredCount, snap.VisibleCount, snap.ElapsedSeconds)
	}

	if snap.State.Closed() {
		log.Printf("session %s: closed as %s after %.0fs", snap.SessionID, snap.State, snap.ElapsedSeconds)
	}
}

// Watching reports how many sessions are currently tracked.
func (t *Tracker) Watching() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.last)
}
