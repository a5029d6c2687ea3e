package api

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/openmeet-team/fieldwork/internal/audio"
	"github.com/openmeet-team/fieldwork/internal/cati"
	"github.com/openmeet-team/fieldwork/internal/db"
	"github.com/openmeet-team/fieldwork/internal/engine"
	"github.com/openmeet-team/fieldwork/internal/location"
	"github.com/openmeet-team/fieldwork/internal/models"
	"github.com/openmeet-team/fieldwork/internal/quota"
)

// SurveyStore defines the survey read queries the handlers need.
// This allows for mocking in tests.
type SurveyStore interface {
	GetSurveyBySlug(ctx context.Context, slug string) (*models.Survey, error)
	GetSurveyConstituencies(ctx context.Context, surveyID uuid.UUID) ([]models.Constituency, error)
	GetStats(ctx context.Context) (*db.Stats, error)
}

// CallService is the telephony collaborator for CATI sessions.
type CallService interface {
	engine.CallControl
	StartInterview(ctx context.Context, surveyID uuid.UUID) (*cati.StartResult, error)
}

// sessionDevices are the per-session remote device adapters fed by the
// field client over the device endpoints.
type sessionDevices struct {
	locator *location.RemoteLocator
	capture *audio.RemoteDevice
}

// Handlers holds the HTTP handlers and dependencies
type Handlers struct {
	store     SurveyStore
	registry  *engine.Registry
	submitter engine.Submitter
	quota     engine.QuotaSource
	uploader  engine.AudioUploader
	limits    *quota.LimitsRegistry
	lookup    location.AddressLookup
	mapping   location.Locator
	calls     CallService

	mu      sync.Mutex
	devices map[uuid.UUID]*sessionDevices
}

// NewHandlers creates a new Handlers instance. uploader, lookup, mapping,
// and calls are optional; nil disables the corresponding collaborator.
func NewHandlers(store SurveyStore, registry *engine.Registry, submitter engine.Submitter, quota engine.QuotaSource) *Handlers {
	return &Handlers{
		store:     store,
		registry:  registry,
		submitter: submitter,
		quota:     quota,
		devices:   make(map[uuid.UUID]*sessionDevices),
	}
}

// SetQuotaLimits sets the registry surveys publish their gender limits to.
func (h *Handlers) SetQuotaLimits(r *quota.LimitsRegistry) { h.limits = r }

// SetAudioUploader sets the audio storage collaborator.
func (h *Handlers) SetAudioUploader(u engine.AudioUploader) { h.uploader = u }

// SetGeocoder sets the reverse-geocode lookup and mapping-provider locator.
func (h *Handlers) SetGeocoder(lookup location.AddressLookup, mapping location.Locator) {
	h.lookup = lookup
	h.mapping = mapping
}

// SetCallService sets the CATI call-control collaborator.
func (h *Handlers) SetCallService(cs CallService) { h.calls = cs }

// CreateSession creates a new interview session
// POST /api/v1/sessions
func (h *Handlers) CreateSession(c echo.Context) error {
	var req CreateSessionRequest
	if err := c.Bind(&req); err != nil {
		return BadRequest(c, "Invalid request body", err.Error())
	}

	if req.Mode != models.ModeCAPI && req.Mode != models.ModeCATI {
		return BadRequest(c, "Invalid mode", "mode must be 'capi' or 'cati'")
	}
	// The verified token subject is authoritative; the body's interviewerId
	// only matters when authentication is disabled.
	if subject := InterviewerID(c); subject != "" {
		req.InterviewerID = subject
	}
	if req.InterviewerID == "" {
		return BadRequest(c, "Missing interviewer", "interviewerId is required")
	}
	if req.Mode == models.ModeCATI && h.calls == nil {
		return BadRequest(c, "Telephone interviews unavailable", "call control is not configured")
	}

	ctx := c.Request().Context()

	survey, err := h.store.GetSurveyBySlug(ctx, req.SurveySlug)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "Survey not found",
				Details: "No survey found with slug '" + req.SurveySlug + "'",
			})
		}
		return InternalServerError(c, "Failed to load survey", err)
	}

	if h.limits != nil && survey.Definition.Quota != nil {
		h.limits.Set(survey.ID, survey.Definition.Quota.GenderLimits)
	}

	var constituencies []models.Constituency
	if survey.Definition.RequiresConstituency {
		constituencies, err = h.store.GetSurveyConstituencies(ctx, survey.ID)
		if err != nil {
			return InternalServerError(c, "Failed to load constituencies", err)
		}
	}

	cfg := engine.Config{
		Survey:         survey,
		Mode:           req.Mode,
		InterviewerID:  req.InterviewerID,
		Device:         req.Device,
		Constituencies: constituencies,
	}
	deps := engine.Deps{
		Quota:     h.quota,
		Submitter: h.submitter,
	}

	devs := &sessionDevices{}
	switch req.Mode {
	case models.ModeCAPI:
		devs.locator = location.NewRemoteLocator()
		devs.capture = audio.NewRemoteDevice()

		strategies := []location.Strategy{
			&location.NetworkStrategy{Locator: devs.locator},
			&location.DeviceStrategy{Locator: devs.locator},
		}
		if h.mapping != nil {
			strategies = append(strategies, &location.MappingStrategy{Provider: h.mapping})
		}
		strategies = append(strategies, &location.ManualStrategy{})

		deps.Location = location.NewChain(h.lookup, strategies...)
		deps.Recorder = audio.NewRecorder(devs.capture, req.Device.Mobile)
		deps.Uploader = h.uploader

	case models.ModeCATI:
		start, err := h.calls.StartInterview(ctx, survey.ID)
		if err != nil {
			return InternalServerError(c, "Failed to claim respondent from call queue", err)
		}
		cfg.CallQueueID = start.CallQueueID
		cfg.Respondent = &start.Respondent
		deps.Calls = h.calls
	}

	session := engine.NewSession(cfg, deps)
	h.registry.Add(session)

	h.mu.Lock()
	h.devices[session.ID()] = devs
	h.mu.Unlock()

	return c.JSON(http.StatusCreated, session.Snapshot())
}

// GetSession returns the current session snapshot
// GET /api/v1/sessions/:id
func (h *Handlers) GetSession(c echo.Context) error {
	session, err := h.session(c)
	if err != nil {
		return h.sessionError(c, err)
	}
	return c.JSON(http.StatusOK, session.Snapshot())
}

// GetStats returns service-level counters for the supervisor dashboard
// GET /api/v1/stats
func (h *Handlers) GetStats(c echo.Context) error {
	stats, err := h.store.GetStats(c.Request().Context())
	if err != nil {
		return InternalServerError(c, "Failed to load statistics", err)
	}
	return c.JSON(http.StatusOK, stats)
}

// StartSession runs the permission phase and enters Active.Running
// POST /api/v1/sessions/:id/start
func (h *Handlers) StartSession(c echo.Context) error {
	session, err := h.session(c)
	if err != nil {
		return h.sessionError(c, err)
	}

	if err := session.Start(c.Request().Context()); err != nil {
		var captureErr *audio.CaptureError
		switch {
		case errors.As(err, &captureErr):
			return c.JSON(http.StatusConflict, RemediationResponse{
				Error:       "Microphone unavailable",
				Kind:        string(captureErr.Kind),
				Remediation: captureErr.Remediation,
				CanRetry:    true,
				CanSkip:     false,
			})
		case errors.Is(err, engine.ErrLocationManual),
			errors.Is(err, location.ErrChainExhausted),
			errors.Is(err, location.ErrTimeout),
			errors.Is(err, location.ErrPermissionDenied),
			errors.Is(err, location.ErrUnavailable):
			return c.JSON(http.StatusConflict, RemediationResponse{
				Error:       "Location unavailable",
				Kind:        "location_unavailable",
				Remediation: "Could not determine your location. Retry, or continue without location evidence.",
				CanRetry:    true,
				CanSkip:     true,
			})
		default:
			return h.sessionError(c, err)
		}
	}

	return c.JSON(http.StatusOK, session.Snapshot())
}

// SkipLocation records an explicit continuation without location evidence
// POST /api/v1/sessions/:id/location/skip
func (h *Handlers) SkipLocation(c echo.Context) error {
	session, err := h.session(c)
	if err != nil {
		return h.sessionError(c, err)
	}
	if err := session.SkipLocation(); err != nil {
		return h.sessionError(c, err)
	}
	return c.JSON(http.StatusOK, session.Snapshot())
}

// SubmitAnswer records a response to one question
// POST /api/v1/sessions/:id/answers
func (h *Handlers) SubmitAnswer(c echo.Context) error {
	session, err := h.session(c)
	if err != nil {
		return h.sessionError(c, err)
	}

	var req AnswerRequest
	if err := c.Bind(&req); err != nil {
		return BadRequest(c, "Invalid request body", err.Error())
	}
	if req.QuestionID == "" {
		return BadRequest(c, "Missing question", "questionId is required")
	}

	if err := session.Answer(c.Request().Context(), req.QuestionID, req.Value); err != nil {
		return h.sessionError(c, err)
	}
	return c.JSON(http.StatusOK, session.Snapshot())
}

// Next advances to the next visible question
// POST /api/v1/sessions/:id/next
func (h *Handlers) Next(c echo.Context) error {
	return h.transition(c, func(s *engine.Session) error { return s.Next() })
}

// Previous steps back to the previous visible question
// POST /api/v1/sessions/:id/previous
func (h *Handlers) Previous(c echo.Context) error {
	return h.transition(c, func(s *engine.Session) error { return s.Previous() })
}

// Pause suspends the session timer and audio capture
// POST /api/v1/sessions/:id/pause
func (h *Handlers) Pause(c echo.Context) error {
	return h.transition(c, func(s *engine.Session) error { return s.Pause() })
}

// Resume continues a paused session
// POST /api/v1/sessions/:id/resume
func (h *Handlers) Resume(c echo.Context) error {
	return h.transition(c, func(s *engine.Session) error { return s.Resume() })
}

func (h *Handlers) transition(c echo.Context, op func(*engine.Session) error) error {
	session, err := h.session(c)
	if err != nil {
		return h.sessionError(c, err)
	}
	if err := op(session); err != nil {
		return h.sessionError(c, err)
	}
	return c.JSON(http.StatusOK, session.Snapshot())
}

// Complete validates, submits, and closes the session
// POST /api/v1/sessions/:id/complete
func (h *Handlers) Complete(c echo.Context) error {
	session, err := h.session(c)
	if err != nil {
		return h.sessionError(c, err)
	}
	if err := session.Complete(c.Request().Context()); err != nil {
		return h.sessionError(c, err)
	}
	// The completed interview changes the counts; drop the cached buckets.
	if inv, ok := h.quota.(interface{ Invalidate(uuid.UUID) }); ok {
		inv.Invalidate(session.SurveyID())
	}
	h.dropDevices(session.ID())
	return c.JSON(http.StatusOK, session.Snapshot())
}

// Abandon closes the session without submitting
// POST /api/v1/sessions/:id/abandon
func (h *Handlers) Abandon(c echo.Context) error {
	session, err := h.session(c)
	if err != nil {
		return h.sessionError(c, err)
	}

	var req AbandonRequest
	if err := c.Bind(&req); err != nil {
		return BadRequest(c, "Invalid request body", err.Error())
	}

	if err := session.Abandon(c.Request().Context(), req.Reason, req.Notes, req.RescheduleDate); err != nil {
		return h.sessionError(c, err)
	}
	h.dropDevices(session.ID())
	return c.JSON(http.StatusOK, session.Snapshot())
}

// DeleteSession intercepts destructive exits. An Active session is not
// discarded; the agent is redirected into the abandon-confirmation path.
// DELETE /api/v1/sessions/:id
func (h *Handlers) DeleteSession(c echo.Context) error {
	session, err := h.session(c)
	if err != nil {
		return h.sessionError(c, err)
	}

	if err := session.GuardExit(); err != nil {
		return c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "Session is active",
			Details: "An interview is in progress. Abandon it explicitly before leaving.",
		})
	}

	h.registry.Remove(session.ID())
	h.dropDevices(session.ID())
	return c.NoContent(http.StatusNoContent)
}

// Dial places (or re-places) the CATI call
// POST /api/v1/sessions/:id/call
func (h *Handlers) Dial(c echo.Context) error {
	session, err := h.session(c)
	if err != nil {
		return h.sessionError(c, err)
	}
	if err := session.Dial(c.Request().Context()); err != nil {
		// The failed call is part of the snapshot; report it as a
		// conflict rather than a server fault.
		return c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "Call failed",
			Details: err.Error(),
		})
	}
	return c.JSON(http.StatusOK, session.Snapshot())
}

// MarkCallFailed records an externally observed call drop
// POST /api/v1/sessions/:id/call/failed
func (h *Handlers) MarkCallFailed(c echo.Context) error {
	session, err := h.session(c)
	if err != nil {
		return h.sessionError(c, err)
	}
	session.MarkCallFailed()
	return c.JSON(http.StatusOK, session.Snapshot())
}

// PushLocationFix accepts a position fix from the field client
// POST /api/v1/sessions/:id/device/location
func (h *Handlers) PushLocationFix(c echo.Context) error {
	session, err := h.session(c)
	if err != nil {
		return h.sessionError(c, err)
	}

	var req LocationFixRequest
	if err := c.Bind(&req); err != nil {
		return BadRequest(c, "Invalid request body", err.Error())
	}

	devs := h.sessionDevices(session.ID())
	if devs == nil || devs.locator == nil {
		return BadRequest(c, "No device feed", "session has no location feed")
	}

	devs.locator.Push(location.Position{
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
		Accuracy:  req.Accuracy,
	}, req.HighAccuracy)

	return c.NoContent(http.StatusAccepted)
}

// PushAudioChunk accepts an audio chunk from the field client
// POST /api/v1/sessions/:id/device/audio
func (h *Handlers) PushAudioChunk(c echo.Context) error {
	session, err := h.session(c)
	if err != nil {
		return h.sessionError(c, err)
	}

	devs := h.sessionDevices(session.ID())
	if devs == nil || devs.capture == nil {
		return BadRequest(c, "No device feed", "session has no audio feed")
	}

	chunk, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return BadRequest(c, "Invalid audio chunk", err.Error())
	}
	if len(chunk) == 0 {
		return BadRequest(c, "Invalid audio chunk", "empty chunk")
	}

	devs.capture.Push(chunk)
	return c.NoContent(http.StatusAccepted)
}

// session resolves the :id route parameter to a live session.
func (h *Handlers) session(c echo.Context) (*engine.Session, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return nil, engine.ErrSessionNotFound
	}
	return h.registry.Get(id)
}

func (h *Handlers) sessionDevices(id uuid.UUID) *sessionDevices {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.devices[id]
}

func (h *Handlers) dropDevices(id uuid.UUID) {
	h.mu.Lock()
	delete(h.devices, id)
	h.mu.Unlock()
}

// sessionError maps engine errors onto HTTP responses.
func (h *Handlers) sessionError(c echo.Context, err error) error {
	var validationErr *engine.ValidationError
	var quotaErr *engine.QuotaError

	switch {
	case errors.Is(err, engine.ErrSessionNotFound):
		return c.JSON(http.StatusNotFound, ErrorResponse{
			Error: "Session not found",
		})
	case errors.As(err, &validationErr):
		return c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			Error:   "Validation failed",
			Details: validationErr.Error(),
		})
	case errors.As(err, &quotaErr):
		return c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			Error:   "Quota violation",
			Details: quotaErr.Error(),
		})
	case errors.Is(err, engine.ErrCallNotConnected):
		return c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "Call not connected",
			Details: "A connected call is required before submission.",
		})
	case errors.Is(err, engine.ErrReasonRequired), errors.Is(err, engine.ErrRescheduleRequired):
		return BadRequest(c, "Invalid abandonment", err.Error())
	case errors.Is(err, engine.ErrInvalidTransition), errors.Is(err, engine.ErrSessionClosed):
		return c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "Invalid session state",
			Details: err.Error(),
		})
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return c.JSON(http.StatusRequestTimeout, ErrorResponse{
			Error: "Request cancelled",
		})
	}
	return InternalServerError(c, "Session operation failed", err)
}
