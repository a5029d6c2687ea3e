package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/openmeet-team/fieldwork/internal/audio"
	"github.com/openmeet-team/fieldwork/internal/models"
	"github.com/openmeet-team/fieldwork/internal/telemetry"
)

// Errors returned by the permission phase of Start.
var (
	// ErrLocationManual is returned when the location chain bottomed out at
	// the manual fallback. The caller should offer a retry or an explicit
	// continuation without location evidence (SkipLocation).
	ErrLocationManual = errors.New("location unavailable; retry or continue without location")
)

// LocationAcquirer runs the geolocation fallback chain.
type LocationAcquirer interface {
	Acquire(ctx context.Context) (*models.LocationRecord, error)
}

// AudioUploader stores a finished recording and returns its URL.
type AudioUploader interface {
	Upload(ctx context.Context, rec *audio.Recording, sessionID, surveyID uuid.UUID) (string, error)
}

// CallControl drives the telephony sub-flow of CATI sessions.
type CallControl interface {
	MakeCall(ctx context.Context, respondentID string) (string, error)
	Abandon(ctx context.Context, respondentID, reason, notes string, reschedule *time.Time) error
}

// Submitter persists the assembled payload. Persistence is delegated; the
// engine never writes storage directly.
type Submitter interface {
	SubmitInterview(ctx context.Context, sub *models.Submission) error
}

// Deps are the injected collaborators of a session. Nil fields disable the
// corresponding concern (a CATI session has no location chain, a test
// session may have no submitter).
type Deps struct {
	Location  LocationAcquirer
	Recorder  *audio.Recorder
	Uploader  AudioUploader
	Quota     QuotaSource
	Calls     CallControl
	Submitter Submitter
}

// Config describes the session being created.
type Config struct {
	Survey         *models.Survey
	Mode           models.Mode
	InterviewerID  string
	Device         models.DeviceInfo
	Constituencies []models.Constituency

	// CATI fields
	CallQueueID string
	Respondent  *models.Respondent
	// SettleDelay is the pause before the automatic first dial. Zero means
	// the 2s default.
	SettleDelay time.Duration

	// ShuffleSeed pins option randomization for tests. Zero seeds from the
	// clock.
	ShuffleSeed int64
	// Clock overrides time.Now for tests.
	Clock func() time.Time
}

const defaultSettleDelay = 2 * time.Second

// Session is a live interview session. All state is owned by the session and
// mutated only under its lock; the evaluator, randomizer, and validation
// engine are pure functions over snapshots of that state.
type Session struct {
	mu sync.Mutex

	id    uuid.UUID
	cfg   Config
	deps  Deps
	clock func() time.Time

	state models.SessionState
	call  models.CallAttempt

	resolver  *Resolver
	shuffles  *ShuffleCache
	responses ResponseMap
	current   int

	startedAt   time.Time
	activeSince time.Time     // zero while not Running
	accumulated time.Duration // active time from finished Running stretches

	questionShownAt time.Time
	responseTimes   map[string]time.Duration

	location         *models.LocationRecord
	locationSkipped  bool
	locationAcquired bool
	audioMeta        models.AudioRecording

	dialTimer   *time.Timer
	subscribers map[int]chan Snapshot
	nextSubID   int
	closed      bool
}

// NewSession creates a session in the WelcomeModal state.
func NewSession(cfg Config, deps Deps) *Session {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	seed := cfg.ShuffleSeed
	if seed == 0 {
		seed = clock().UnixNano()
	}
	if cfg.SettleDelay == 0 {
		cfg.SettleDelay = defaultSettleDelay
	}

	call := models.CallAttempt{Status: models.CallIdle}
	if cfg.Respondent != nil {
		// The agent sees the respondent card before any dialing happens.
		call.RespondentID = cfg.Respondent.ID
	}

	return &Session{
		id:            uuid.New(),
		cfg:           cfg,
		deps:          deps,
		clock:         clock,
		state:         models.StateWelcome,
		call:          call,
		resolver:      NewResolver(&cfg.Survey.Definition, cfg.Constituencies),
		shuffles:      NewShuffleCache(seed),
		responses:     make(ResponseMap),
		responseTimes: make(map[string]time.Duration),
		subscribers:   make(map[int]chan Snapshot),
	}
}

// ID returns the session identifier.
func (s *Session) ID() uuid.UUID { return s.id }

// Mode returns the interview mode.
func (s *Session) Mode() models.Mode { return s.cfg.Mode }

// SurveyID returns the identifier of the survey under interview.
func (s *Session) SurveyID() uuid.UUID { return s.cfg.Survey.ID }

// InterviewerID returns the agent conducting the interview.
func (s *Session) InterviewerID() string { return s.cfg.InterviewerID }

// Start moves the session toward Active.Running. CAPI sessions must satisfy
// the location chain and then the audio permission check, in that order;
// either failure leaves the session in AcquiringPermissions so the caller
// can retry (or, for location only, skip). CATI sessions start immediately
// and auto-dial after the settle delay.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != models.StateWelcome && s.state != models.StatePermissions {
		s.mu.Unlock()
		return fmt.Errorf("%w: cannot start from %s", ErrInvalidTransition, s.state)
	}

	if s.cfg.Mode == models.ModeCATI {
		s.enterRunningLocked()
		s.scheduleDialLocked()
		s.mu.Unlock()
		return nil
	}

	s.state = models.StatePermissions
	s.mu.Unlock()
	s.notify()

	// Device checks run sequentially, outside the lock: both can block on
	// OS prompts and neither touches session state until it resolves.
	if err := s.acquireLocation(ctx); err != nil {
		return err
	}
	if err := s.acquireAudio(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	s.enterRunningLocked()
	s.mu.Unlock()
	s.notify()
	return nil
}

func (s *Session) acquireLocation(ctx context.Context) error {
	s.mu.Lock()
	done := s.locationAcquired || s.locationSkipped
	s.mu.Unlock()
	if done {
		return nil
	}

	rec, err := s.deps.Location.Acquire(ctx)
	if err != nil {
		return err
	}

	if rec.Manual {
		return ErrLocationManual
	}

	s.mu.Lock()
	s.location = rec
	s.locationAcquired = true
	s.mu.Unlock()
	return nil
}

func (s *Session) acquireAudio(ctx context.Context) error {
	if s.deps.Recorder == nil {
		return nil
	}
	if s.deps.Recorder.State() != audio.StateIdle {
		return nil // already recording from an earlier attempt
	}
	return s.deps.Recorder.Start(ctx)
}

// SkipLocation records the agent's explicit choice to continue without
// location evidence. Valid only while acquiring permissions.
func (s *Session) SkipLocation() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != models.StatePermissions {
		return fmt.Errorf("%w: cannot skip location from %s", ErrInvalidTransition, s.state)
	}
	s.locationSkipped = true
	s.location = nil
	return nil
}

func (s *Session) enterRunningLocked() {
	now := s.clock()
	if s.startedAt.IsZero() {
		s.startedAt = now
	}
	s.state = models.StateRunning
	s.activeSince = now
	s.questionShownAt = now
	telemetry.SessionsStartedTotal.WithLabelValues(string(s.cfg.Mode)).Inc()
}

func (s *Session) scheduleDialLocked() {
	if s.deps.Calls == nil || s.cfg.Respondent == nil {
		return
	}
	s.dialTimer = time.AfterFunc(s.cfg.SettleDelay, func() {
		if err := s.Dial(context.Background()); err != nil {
			log.Printf("session %s: auto-dial failed: %v", s.id, err)
		}
	})
}

// Dial places (or re-places) the call to the respondent. CATI only.
func (s *Session) Dial(ctx context.Context) error {
	s.mu.Lock()
	if s.cfg.Mode != models.ModeCATI || s.deps.Calls == nil || s.cfg.Respondent == nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: session has no telephony flow", ErrInvalidTransition)
	}
	if s.state.Closed() {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.call.Status == models.CallCalling || s.call.Status == models.CallConnected {
		s.mu.Unlock()
		return nil
	}
	respondentID := s.cfg.Respondent.ID
	s.call.Status = models.CallCalling
	s.mu.Unlock()
	s.notify()

	callID, err := s.deps.Calls.MakeCall(ctx, respondentID)

	s.mu.Lock()
	if err != nil {
		s.call.Status = models.CallFailed
		s.mu.Unlock()
		s.notify()
		return fmt.Errorf("call failed: %w", err)
	}
	s.call.CallID = callID
	s.call.Status = models.CallConnected
	s.mu.Unlock()
	s.notify()
	return nil
}

// MarkCallFailed records an externally observed call drop (telephony
// webhook or agent report).
func (s *Session) MarkCallFailed() {
	s.mu.Lock()
	s.call.Status = models.CallFailed
	s.mu.Unlock()
	s.notify()
}

// Pause suspends the session. Active time stops accruing and any running
// audio capture is paused with it.
func (s *Session) Pause() error {
	s.mu.Lock()
	if s.state != models.StateRunning {
		s.mu.Unlock()
		return fmt.Errorf("%w: cannot pause from %s", ErrInvalidTransition, s.state)
	}
	s.bankActiveLocked()
	s.state = models.StatePaused
	rec := s.deps.Recorder
	s.mu.Unlock()

	if rec != nil && rec.State() == audio.StateRecording {
		if err := rec.Pause(); err != nil {
			log.Printf("session %s: failed to pause recording: %v", s.id, err)
		}
	}
	s.notify()
	return nil
}

// Resume continues a paused session.
func (s *Session) Resume() error {
	s.mu.Lock()
	if s.state != models.StatePaused {
		s.mu.Unlock()
		return fmt.Errorf("%w: cannot resume from %s", ErrInvalidTransition, s.state)
	}
	now := s.clock()
	s.activeSince = now
	s.questionShownAt = now
	s.state = models.StateRunning
	rec := s.deps.Recorder
	s.mu.Unlock()

	if rec != nil && rec.State() == audio.StatePaused {
		if err := rec.Resume(); err != nil {
			log.Printf("session %s: failed to resume recording: %v", s.id, err)
		}
	}
	s.notify()
	return nil
}

// Elapsed returns accumulated active time. Paused stretches never count and
// a pause/resume cycle never resets the total.
func (s *Session) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.elapsedLocked()
}

func (s *Session) elapsedLocked() time.Duration {
	total := s.accumulated
	if s.state == models.StateRunning && !s.activeSince.IsZero() {
		total += s.clock().Sub(s.activeSince)
	}
	return total
}

// bankActiveLocked folds the in-flight Running stretch into the accumulated
// total. Must be called on every transition out of Running.
func (s *Session) bankActiveLocked() {
	if !s.activeSince.IsZero() {
		s.accumulated += s.clock().Sub(s.activeSince)
		s.activeSince = time.Time{}
	}
}

// Answer records a response. Demographic answers are gated eagerly: an age
// outside the target range or a gender whose bucket is full is rejected
// without mutating the response map.
func (s *Session) Answer(ctx context.Context, questionID string, value any) error {
	s.mu.Lock()
	if s.state != models.StateRunning {
		s.mu.Unlock()
		return fmt.Errorf("%w: cannot answer from %s", ErrInvalidTransition, s.state)
	}
	quota := s.cfg.Survey.Definition.Quota
	surveyID := s.cfg.Survey.ID
	s.mu.Unlock()

	if quota != nil {
		if questionID == quota.AgeQuestionID {
			if err := CheckAge(quota, value); err != nil {
				return err
			}
		}
		if questionID == quota.GenderQuestionID {
			var buckets map[string]models.QuotaBucket
			if s.deps.Quota != nil {
				var err error
				buckets, err = s.deps.Quota.GenderCounts(ctx, surveyID)
				if err != nil {
					log.Printf("session %s: quota refresh failed: %v", s.id, err)
				}
			}
			if err := CheckGender(quota, buckets, value); err != nil {
				var qe *QuotaError
				if errors.As(err, &qe) {
					telemetry.QuotaRejectionsTotal.WithLabelValues(qe.Bucket).Inc()
				}
				return err
			}
		}
	}

	s.mu.Lock()
	if s.state != models.StateRunning {
		s.mu.Unlock()
		return fmt.Errorf("%w: cannot answer from %s", ErrInvalidTransition, s.state)
	}

	full := s.resolver.FullList(s.responses)
	known := false
	for i := range full {
		if full[i].ID == questionID {
			known = true
			break
		}
	}
	if !known {
		s.mu.Unlock()
		return &ValidationError{QuestionID: questionID, Reason: "unknown question"}
	}

	s.responses[questionID] = value

	now := s.clock()
	if !s.questionShownAt.IsZero() {
		s.responseTimes[questionID] += now.Sub(s.questionShownAt)
	}
	s.questionShownAt = now

	// Answering can change visibility downstream; reclamp the cursor.
	visible := s.resolver.VisibleList(s.responses)
	s.current = ClampIndex(s.current, len(visible))
	s.mu.Unlock()
	s.notify()
	return nil
}

// Next advances over the visible list. Advancing past the last visible
// question enters Completing.
func (s *Session) Next() error {
	s.mu.Lock()
	if s.state != models.StateRunning {
		s.mu.Unlock()
		return fmt.Errorf("%w: cannot navigate from %s", ErrInvalidTransition, s.state)
	}
	visible := s.resolver.VisibleList(s.responses)
	if s.current >= len(visible)-1 {
		s.bankActiveLocked()
		s.state = models.StateCompleting
	} else {
		s.current++
		s.questionShownAt = s.clock()
	}
	s.mu.Unlock()
	s.notify()
	return nil
}

// Previous steps back over the visible list. Stepping back from Completing
// returns to Running at the last visible question.
func (s *Session) Previous() error {
	s.mu.Lock()
	switch s.state {
	case models.StateRunning:
		s.current = ClampIndex(s.current-1, len(s.resolver.VisibleList(s.responses)))
		s.questionShownAt = s.clock()
	case models.StateCompleting:
		now := s.clock()
		s.activeSince = now
		s.questionShownAt = now
		s.state = models.StateRunning
	default:
		s.mu.Unlock()
		return fmt.Errorf("%w: cannot navigate from %s", ErrInvalidTransition, s.state)
	}
	s.mu.Unlock()
	s.notify()
	return nil
}

// Complete validates, finalizes evidence, assembles the payload, and hands
// it to the submitter. Each gate failure names its cause: the first
// unsatisfied required visible question, a quota violation, or (CATI) a call
// that never connected.
func (s *Session) Complete(ctx context.Context) error {
	s.mu.Lock()
	if s.state != models.StateRunning && s.state != models.StateCompleting {
		s.mu.Unlock()
		return fmt.Errorf("%w: cannot complete from %s", ErrInvalidTransition, s.state)
	}

	if s.cfg.Mode == models.ModeCATI {
		if s.call.Status != models.CallConnected || s.call.CallID == "" {
			s.mu.Unlock()
			return ErrCallNotConnected
		}
	}

	visible := s.resolver.VisibleList(s.responses)
	if q := FindFirstUnsatisfied(visible, s.responses); q != nil {
		s.mu.Unlock()
		return &ValidationError{QuestionID: q.ID, Reason: "required question is not answered"}
	}

	quota := s.cfg.Survey.Definition.Quota
	var genderAnswer any
	if quota != nil && quota.GenderQuestionID != "" {
		genderAnswer = s.responses[quota.GenderQuestionID]
	}
	s.bankActiveLocked()
	s.state = models.StateCompleting
	surveyID := s.cfg.Survey.ID
	s.mu.Unlock()
	s.notify()

	// Authoritative quota re-check against the latest bucket state.
	if quota != nil && genderAnswer != nil && s.deps.Quota != nil {
		buckets, err := s.deps.Quota.GenderCounts(ctx, surveyID)
		if err != nil {
			return fmt.Errorf("quota check failed: %w", err)
		}
		if err := CheckGender(quota, buckets, genderAnswer); err != nil {
			return err
		}
	}

	audioMeta := s.finalizeAudio(ctx)

	s.mu.Lock()
	s.audioMeta = audioMeta
	sub := s.assembleLocked()
	s.mu.Unlock()

	if s.deps.Submitter != nil {
		if err := s.deps.Submitter.SubmitInterview(ctx, sub); err != nil {
			// The session stays in Completing so the agent can retry;
			// nothing has been torn down yet.
			return fmt.Errorf("submission failed: %w", err)
		}
	}

	s.mu.Lock()
	s.state = models.StateCompleted
	s.mu.Unlock()
	telemetry.SessionsClosedTotal.WithLabelValues(string(s.cfg.Mode), "completed").Inc()
	s.notify()
	s.Close()
	return nil
}

// finalizeAudio stops the recorder and uploads the blob, best-effort. CAPI
// only; failures flag the submission as having no audio evidence.
func (s *Session) finalizeAudio(ctx context.Context) models.AudioRecording {
	rec := s.deps.Recorder
	if s.cfg.Mode != models.ModeCAPI || rec == nil {
		return models.AudioRecording{}
	}

	state := rec.State()
	if state != audio.StateRecording && state != audio.StatePaused {
		return models.AudioRecording{}
	}

	recording, err := rec.Stop()
	if err != nil {
		log.Printf("session %s: failed to finalize audio: %v", s.id, err)
		telemetry.AudioUploadFailuresTotal.Inc()
		rec.MarkUploaded(false)
		return models.AudioRecording{}
	}

	meta := models.AudioRecording{
		HasAudio: false,
		Duration: recording.Duration.Seconds(),
		Format:   recording.Codec,
		Size:     recording.Size,
	}

	if s.deps.Uploader == nil {
		rec.MarkUploaded(false)
		return meta
	}

	url, err := s.deps.Uploader.Upload(ctx, recording, s.id, s.cfg.Survey.ID)
	if err != nil {
		log.Printf("session %s: audio upload failed: %v", s.id, err)
		telemetry.AudioUploadFailuresTotal.Inc()
		rec.MarkUploaded(false)
		return meta
	}

	meta.HasAudio = true
	meta.URL = url
	rec.MarkUploaded(true)
	return meta
}

// Abandon closes the session without submitting. CAPI abandonment is
// immediate. CATI abandonment requires a reason code unless the call failed,
// and call_later additionally requires a reschedule date.
func (s *Session) Abandon(ctx context.Context, reason, notes string, reschedule *time.Time) error {
	s.mu.Lock()
	if s.state.Closed() {
		s.mu.Unlock()
		return ErrSessionClosed
	}

	if s.cfg.Mode == models.ModeCATI {
		if reason == "" && s.call.Status != models.CallFailed {
			s.mu.Unlock()
			return ErrReasonRequired
		}
		if reason == models.AbandonReasonCallLater && reschedule == nil {
			s.mu.Unlock()
			return ErrRescheduleRequired
		}
		s.call.AbandonReason = reason
		s.call.RescheduleDate = reschedule
	}

	s.bankActiveLocked()
	s.state = models.StateAbandoned
	respondentID := s.call.RespondentID
	s.mu.Unlock()

	if s.cfg.Mode == models.ModeCATI && s.deps.Calls != nil && respondentID != "" {
		if err := s.deps.Calls.Abandon(ctx, respondentID, reason, notes, reschedule); err != nil {
			log.Printf("session %s: failed to report abandonment: %v", s.id, err)
		}
	}

	telemetry.SessionsClosedTotal.WithLabelValues(string(s.cfg.Mode), "abandoned").Inc()
	s.notify()
	s.Close()
	return nil
}

// GuardExit intercepts destructive exits. While the session is Active it
// returns ErrSessionActive so the caller can route into the
// abandon-confirmation path instead of silently discarding state.
func (s *Session) GuardExit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Active() || s.state == models.StatePermissions {
		return ErrSessionActive
	}
	return nil
}

// Close releases every held resource: the dial timer, the microphone, and
// all subscriber channels. It runs on every exit path and is idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	timer := s.dialTimer
	s.dialTimer = nil
	subs := s.subscribers
	s.subscribers = make(map[int]chan Snapshot)
	s.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	if s.deps.Recorder != nil {
		s.deps.Recorder.Release()
	}
	for _, ch := range subs {
		close(ch)
	}
}
