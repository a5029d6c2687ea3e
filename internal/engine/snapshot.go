package engine

import (
	"github.com/google/uuid"
	"github.com/openmeet-team/fieldwork/internal/models"
)

// Snapshot is an immutable view of session state, emitted to subscribers
// after every transition and served to clients polling the session.
type Snapshot struct {
	SessionID    uuid.UUID           `json:"sessionId"`
	SurveyID     uuid.UUID           `json:"surveyId"`
	Mode         models.Mode         `json:"mode"`
	State        models.SessionState `json:"state"`
	Call         models.CallAttempt  `json:"call"`
	CurrentIndex int                 `json:"currentIndex"`
	VisibleCount int                 `json:"visibleCount"`
	// Current is the question at the cursor with options in stable display
	// order. Nil once the session leaves the question flow.
	Current        *models.Question       `json:"current,omitempty"`
	AnsweredCount  int                    `json:"answeredCount"`
	ElapsedSeconds float64                `json:"elapsedSeconds"`
	Location       *models.LocationRecord `json:"location,omitempty"`
	Audio          models.AudioRecording  `json:"audio"`
}

// Snapshot builds the current view of the session.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	visible := s.resolver.VisibleList(s.responses)

	snap := Snapshot{
		SessionID:      s.id,
		SurveyID:       s.cfg.Survey.ID,
		Mode:           s.cfg.Mode,
		State:          s.state,
		Call:           s.call,
		CurrentIndex:   ClampIndex(s.current, len(visible)),
		VisibleCount:   len(visible),
		ElapsedSeconds: s.elapsedLocked().Seconds(),
		Location:       s.location,
		Audio:          s.audioMeta,
	}

	for i := range visible {
		raw, answered := s.responses[visible[i].ID]
		if IsSatisfied(&visible[i], raw, answered) {
			snap.AnsweredCount++
		}
	}

	if len(visible) > 0 && (s.state == models.StateRunning || s.state == models.StatePaused) {
		q := visible[snap.CurrentIndex]
		q.Options = s.shuffles.DisplayOrder(s.id, &q)
		snap.Current = &q
	}

	return snap
}

// Subscribe registers a state-change listener. The returned cancel function
// must be called when the listener goes away; the channel is closed on
// session teardown.
func (s *Session) Subscribe() (<-chan Snapshot, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan Snapshot, 16)
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = ch

	return ch, func() {
		s.mu.Lock()
		if sub, ok := s.subscribers[id]; ok {
			delete(s.subscribers, id)
			close(sub)
		}
		s.mu.Unlock()
	}
}

// notify fans the current snapshot out to subscribers. Slow subscribers
// drop updates rather than blocking the state machine.
func (s *Session) notify() {
	s.mu.Lock()
	snap := s.snapshotLocked()
	subs := make([]chan Snapshot, 0, len(s.subscribers))
	for _, ch := range s.subscribers {
		subs = append(subs, ch)
	}
	s.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- snap:
		default:
		}
	}
}
