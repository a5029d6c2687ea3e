package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmeet-team/fieldwork/internal/cati"
	"github.com/openmeet-team/fieldwork/internal/db"
	"github.com/openmeet-team/fieldwork/internal/engine"
	"github.com/openmeet-team/fieldwork/internal/models"
	"github.com/openmeet-team/fieldwork/internal/quota"
)

// MockStore implements SurveyStore over in-memory maps
type MockStore struct {
	surveys        map[string]*models.Survey
	constituencies map[uuid.UUID][]models.Constituency
	stats          db.Stats
	statsErr       error
}

func NewMockStore() *MockStore {
	return &MockStore{
		surveys:        make(map[string]*models.Survey),
		constituencies: make(map[uuid.UUID][]models.Constituency),
	}
}

func (m *MockStore) GetSurveyBySlug(ctx context.Context, slug string) (*models.Survey, error) {
	if s, ok := m.surveys[slug]; ok {
		return s, nil
	}
	return nil, sql.ErrNoRows
}

func (m *MockStore) GetSurveyConstituencies(ctx context.Context, surveyID uuid.UUID) ([]models.Constituency, error) {
	return m.constituencies[surveyID], nil
}

func (m *MockStore) GetStats(ctx context.Context) (*db.Stats, error) {
	if m.statsErr != nil {
		return nil, m.statsErr
	}
	stats := m.stats
	return &stats, nil
}

// MockSubmitter records submissions
type MockSubmitter struct {
	subs []*models.Submission
	err  error
}

func (m *MockSubmitter) SubmitInterview(ctx context.Context, sub *models.Submission) error {
	if m.err != nil {
		return m.err
	}
	m.subs = append(m.subs, sub)
	return nil
}

// MockQuotaSource serves static buckets and records invalidations
type MockQuotaSource struct {
	buckets     map[string]models.QuotaBucket
	invalidated []uuid.UUID
}

func (m *MockQuotaSource) GenderCounts(ctx context.Context, surveyID uuid.UUID) (map[string]models.QuotaBucket, error) {
	return m.buckets, nil
}

func (m *MockQuotaSource) Invalidate(surveyID uuid.UUID) {
	m.invalidated = append(m.invalidated, surveyID)
}

// MockCallService fakes the telephony service
type MockCallService struct {
	startErr error
	dialErr  error
	abandons int
}

func (m *MockCallService) StartInterview(ctx context.Context, surveyID uuid.UUID) (*cati.StartResult, error) {
	if m.startErr != nil {
		return nil, m.startErr
	}
	return &cati.StartResult{
		CallQueueID: "queue-1",
		Respondent:  models.Respondent{ID: "resp-1", Name: "A. Kumar", Phone: "+919800000001"},
	}, nil
}

func (m *MockCallService) MakeCall(ctx context.Context, respondentID string) (string, error) {
	if m.dialErr != nil {
		return "", m.dialErr
	}
	return "call-77", nil
}

func (m *MockCallService) Abandon(ctx context.Context, respondentID, reason, notes string, reschedule *time.Time) error {
	m.abandons++
	return nil
}

func fixtureSurvey() *models.Survey {
	return &models.Survey{
		ID:    uuid.New(),
		Slug:  "exit-poll-2026",
		Title: "Exit Poll 2026",
		Definition: models.SurveyDefinition{
			Sections: []models.Section{{
				Title: "Main",
				Questions: []models.Question{
					{ID: "q1", Text: "Did you vote today?", Type: models.QuestionTypeYesNo, Required: true},
					{ID: "q2", Text: "Any comments?", Type: models.QuestionTypeTextarea},
				},
			}},
		},
	}
}

type handlerFixture struct {
	handlers  *Handlers
	store     *MockStore
	registry  *engine.Registry
	submitter *MockSubmitter
	quota     *MockQuotaSource
	survey    *models.Survey
	echo      *echo.Echo
}

func newFixture(t *testing.T) *handlerFixture {
	t.Helper()
	store := NewMockStore()
	survey := fixtureSurvey()
	store.surveys[survey.Slug] = survey

	registry := engine.NewRegistry()
	submitter := &MockSubmitter{}
	quotaSource := &MockQuotaSource{}

	h := NewHandlers(store, registry, submitter, quotaSource)
	h.SetQuotaLimits(quota.NewLimitsRegistry())

	return &handlerFixture{
		handlers:  h,
		store:     store,
		registry:  registry,
		submitter: submitter,
		quota:     quotaSource,
		survey:    survey,
		echo:      echo.New(),
	}
}

func (f *handlerFixture) request(method, path string, body any) (*httptest.ResponseRecorder, echo.Context) {
	var reader *bytes.Reader
	if body != nil {
		payload, _ := json.Marshal(body)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return rec, f.echo.NewContext(req, rec)
}

func (f *handlerFixture) sessionRequest(t *testing.T, method string, id uuid.UUID, body any) (*httptest.ResponseRecorder, echo.Context) {
	t.Helper()
	rec, c := f.request(method, "/", body)
	c.SetParamNames("id")
	c.SetParamValues(id.String())
	return rec, c
}

func (f *handlerFixture) createCAPISession(t *testing.T) engine.Snapshot {
	t.Helper()
	rec, c := f.request(http.MethodPost, "/api/v1/sessions", CreateSessionRequest{
		SurveySlug:    f.survey.Slug,
		Mode:          models.ModeCAPI,
		InterviewerID: "agent-7",
	})
	require.NoError(t, f.handlers.CreateSession(c))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var snap engine.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	return snap
}

// runningCAPISession creates a session, feeds it a location fix, and starts it.
func (f *handlerFixture) runningCAPISession(t *testing.T) uuid.UUID {
	t.Helper()
	snap := f.createCAPISession(t)

	rec, c := f.sessionRequest(t, http.MethodPost, snap.SessionID, LocationFixRequest{
		Latitude: 12.97, Longitude: 77.59, Accuracy: 30,
	})
	require.NoError(t, f.handlers.PushLocationFix(c))
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec, c = f.sessionRequest(t, http.MethodPost, snap.SessionID, nil)
	require.NoError(t, f.handlers.StartSession(c))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var started engine.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &started))
	require.Equal(t, models.StateRunning, started.State)
	return snap.SessionID
}

func TestCreateSession_CAPI(t *testing.T) {
	f := newFixture(t)
	snap := f.createCAPISession(t)

	assert.Equal(t, models.StateWelcome, snap.State)
	assert.Equal(t, models.ModeCAPI, snap.Mode)
	assert.Equal(t, f.survey.ID, snap.SurveyID)
	assert.Equal(t, 1, f.registry.Len())
}

func TestCreateSession_UnknownSurvey(t *testing.T) {
	f := newFixture(t)
	rec, c := f.request(http.MethodPost, "/api/v1/sessions", CreateSessionRequest{
		SurveySlug:    "no-such-survey",
		Mode:          models.ModeCAPI,
		InterviewerID: "agent-7",
	})
	require.NoError(t, f.handlers.CreateSession(c))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateSession_Validation(t *testing.T) {
	tests := []struct {
		name string
		req  CreateSessionRequest
	}{
		{name: "bad mode", req: CreateSessionRequest{SurveySlug: "exit-poll-2026", Mode: "phone", InterviewerID: "a"}},
		{name: "missing interviewer", req: CreateSessionRequest{SurveySlug: "exit-poll-2026", Mode: models.ModeCAPI}},
		{name: "cati without call control", req: CreateSessionRequest{SurveySlug: "exit-poll-2026", Mode: models.ModeCATI, InterviewerID: "a"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			rec, c := f.request(http.MethodPost, "/api/v1/sessions", tt.req)
			require.NoError(t, f.handlers.CreateSession(c))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestCreateSession_RegistersQuotaLimits(t *testing.T) {
	f := newFixture(t)
	f.survey.Definition.Quota = &models.QuotaConfig{
		GenderLimits:     map[string]int{"Female": 200},
		GenderQuestionID: "q1",
	}
	limits := quota.NewLimitsRegistry()
	f.handlers.SetQuotaLimits(limits)

	f.createCAPISession(t)
	assert.Equal(t, 200, limits.Limits(f.survey.ID)["Female"])
}

func TestCreateSession_CATIClaimsRespondent(t *testing.T) {
	f := newFixture(t)
	f.handlers.SetCallService(&MockCallService{})

	rec, c := f.request(http.MethodPost, "/api/v1/sessions", CreateSessionRequest{
		SurveySlug:    f.survey.Slug,
		Mode:          models.ModeCATI,
		InterviewerID: "agent-7",
	})
	require.NoError(t, f.handlers.CreateSession(c))
	require.Equal(t, http.StatusCreated, rec.Code)

	var snap engine.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, models.ModeCATI, snap.Mode)
	assert.Equal(t, "resp-1", snap.Call.RespondentID)
}

func TestCreateSession_CATIQueueFailure(t *testing.T) {
	f := newFixture(t)
	f.handlers.SetCallService(&MockCallService{startErr: errors.New("queue empty")})

	rec, c := f.request(http.MethodPost, "/api/v1/sessions", CreateSessionRequest{
		SurveySlug:    f.survey.Slug,
		Mode:          models.ModeCATI,
		InterviewerID: "agent-7",
	})
	require.NoError(t, f.handlers.CreateSession(c))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestStartSession_NoLocationFixThenSkip(t *testing.T) {
	f := newFixture(t)
	snap := f.createCAPISession(t)

	// No fix was pushed; abort the wait via the request deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	rec, c := f.sessionRequest(t, http.MethodPost, snap.SessionID, nil)
	c.SetRequest(c.Request().WithContext(ctx))
	require.NoError(t, f.handlers.StartSession(c))
	require.Equal(t, http.StatusRequestTimeout, rec.Code, rec.Body.String())

	// The session is parked in the permission phase; skip and start again.
	rec, c = f.sessionRequest(t, http.MethodPost, snap.SessionID, nil)
	require.NoError(t, f.handlers.SkipLocation(c))
	require.Equal(t, http.StatusOK, rec.Code)

	rec, c = f.sessionRequest(t, http.MethodPost, snap.SessionID, nil)
	require.NoError(t, f.handlers.StartSession(c))
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestInterviewFlow_CreateToComplete(t *testing.T) {
	f := newFixture(t)
	id := f.runningCAPISession(t)

	// Feed one audio chunk so the recording finalizes.
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("fake-opus-bytes"))
	rec := httptest.NewRecorder()
	c := f.echo.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(id.String())
	require.NoError(t, f.handlers.PushAudioChunk(c))
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec, c = f.sessionRequest(t, http.MethodPost, id, AnswerRequest{QuestionID: "q1", Value: "yes"})
	require.NoError(t, f.handlers.SubmitAnswer(c))
	require.Equal(t, http.StatusOK, rec.Code)

	rec, c = f.sessionRequest(t, http.MethodPost, id, nil)
	require.NoError(t, f.handlers.Complete(c))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var snap engine.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, models.StateCompleted, snap.State)

	require.Len(t, f.submitter.subs, 1)
	assert.Equal(t, "agent-7", f.submitter.subs[0].InterviewerID)
	assert.Equal(t, []uuid.UUID{f.survey.ID}, f.quota.invalidated, "completion drops the cached buckets")
}

func TestComplete_MissingRequiredAnswer(t *testing.T) {
	f := newFixture(t)
	id := f.runningCAPISession(t)

	rec, c := f.sessionRequest(t, http.MethodPost, id, nil)
	require.NoError(t, f.handlers.Complete(c))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "q1")
	assert.Empty(t, f.quota.invalidated)
}

func TestSubmitAnswer_Validation(t *testing.T) {
	f := newFixture(t)
	id := f.runningCAPISession(t)

	rec, c := f.sessionRequest(t, http.MethodPost, id, AnswerRequest{Value: "yes"})
	require.NoError(t, f.handlers.SubmitAnswer(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code, "questionId is required")

	rec, c = f.sessionRequest(t, http.MethodPost, id, AnswerRequest{QuestionID: "nope", Value: "yes"})
	require.NoError(t, f.handlers.SubmitAnswer(c))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestTransitions_InvalidStateConflicts(t *testing.T) {
	f := newFixture(t)
	snap := f.createCAPISession(t)

	// Pausing a session that never started is a state conflict.
	rec, c := f.sessionRequest(t, http.MethodPost, snap.SessionID, nil)
	require.NoError(t, f.handlers.Pause(c))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestPauseResume_RoundTrip(t *testing.T) {
	f := newFixture(t)
	id := f.runningCAPISession(t)

	rec, c := f.sessionRequest(t, http.MethodPost, id, nil)
	require.NoError(t, f.handlers.Pause(c))
	require.Equal(t, http.StatusOK, rec.Code)

	rec, c = f.sessionRequest(t, http.MethodPost, id, nil)
	require.NoError(t, f.handlers.Resume(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var snap engine.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, models.StateRunning, snap.State)
}

func TestGetSession_UnknownID(t *testing.T) {
	f := newFixture(t)

	rec, c := f.sessionRequest(t, http.MethodGet, uuid.New(), nil)
	require.NoError(t, f.handlers.GetSession(c))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// A malformed ID resolves the same way.
	rec2, c2 := f.request(http.MethodGet, "/", nil)
	c2.SetParamNames("id")
	c2.SetParamValues("not-a-uuid")
	require.NoError(t, f.handlers.GetSession(c2))
	assert.Equal(t, http.StatusNotFound, rec2.Code)
}

func TestCreateSession_TokenSubjectOverridesBody(t *testing.T) {
	f := newFixture(t)

	rec, c := f.request(http.MethodPost, "/api/v1/sessions", CreateSessionRequest{
		SurveySlug:    f.survey.Slug,
		Mode:          models.ModeCAPI,
		InterviewerID: "agent-spoofed",
	})
	c.Set(agentContextKey, "agent-verified")
	require.NoError(t, f.handlers.CreateSession(c))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var snap engine.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	s, err := f.registry.Get(snap.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "agent-verified", s.InterviewerID(),
		"the session is attributed to the verified agent, not the body's claim")
}

func TestGetStats(t *testing.T) {
	f := newFixture(t)
	f.store.stats = db.Stats{SurveyCount: 3, InterviewCount: 120, InterviewerCount: 14}

	rec, c := f.request(http.MethodGet, "/api/v1/stats", nil)
	require.NoError(t, f.handlers.GetStats(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var stats db.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 120, stats.InterviewCount)
	assert.Equal(t, 14, stats.InterviewerCount)
}

func TestGetStats_StoreFailure(t *testing.T) {
	f := newFixture(t)
	f.store.statsErr = errors.New("connection reset")

	rec, c := f.request(http.MethodGet, "/api/v1/stats", nil)
	require.NoError(t, f.handlers.GetStats(c))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection reset", "internal detail stays out of the response")
}

func TestDeleteSession_GuardsActiveInterview(t *testing.T) {
	f := newFixture(t)
	id := f.runningCAPISession(t)

	rec, c := f.sessionRequest(t, http.MethodDelete, id, nil)
	require.NoError(t, f.handlers.DeleteSession(c))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, 1, f.registry.Len(), "the session survives the blocked delete")

	// After abandoning, the delete goes through.
	recA, cA := f.sessionRequest(t, http.MethodPost, id, AbandonRequest{})
	require.NoError(t, f.handlers.Abandon(cA))
	require.Equal(t, http.StatusOK, recA.Code)

	rec, c = f.sessionRequest(t, http.MethodDelete, id, nil)
	require.NoError(t, f.handlers.DeleteSession(c))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 0, f.registry.Len())
}

func TestDial_CATI(t *testing.T) {
	f := newFixture(t)
	calls := &MockCallService{}
	f.handlers.SetCallService(calls)

	rec, c := f.request(http.MethodPost, "/api/v1/sessions", CreateSessionRequest{
		SurveySlug:    f.survey.Slug,
		Mode:          models.ModeCATI,
		InterviewerID: "agent-7",
	})
	require.NoError(t, f.handlers.CreateSession(c))
	var snap engine.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))

	rec, c = f.sessionRequest(t, http.MethodPost, snap.SessionID, nil)
	require.NoError(t, f.handlers.StartSession(c))
	require.Equal(t, http.StatusOK, rec.Code)

	rec, c = f.sessionRequest(t, http.MethodPost, snap.SessionID, nil)
	require.NoError(t, f.handlers.Dial(c))
	require.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, models.CallConnected, snap.Call.Status)
	assert.Equal(t, "call-77", snap.Call.CallID)
}

func TestDial_FailureIsConflict(t *testing.T) {
	f := newFixture(t)
	f.handlers.SetCallService(&MockCallService{dialErr: errors.New("no answer")})

	rec, c := f.request(http.MethodPost, "/api/v1/sessions", CreateSessionRequest{
		SurveySlug:    f.survey.Slug,
		Mode:          models.ModeCATI,
		InterviewerID: "agent-7",
	})
	require.NoError(t, f.handlers.CreateSession(c))
	var snap engine.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))

	rec, c = f.sessionRequest(t, http.MethodPost, snap.SessionID, nil)
	require.NoError(t, f.handlers.StartSession(c))

	rec, c = f.sessionRequest(t, http.MethodPost, snap.SessionID, nil)
	require.NoError(t, f.handlers.Dial(c))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestPushAudioChunk_EmptyBody(t *testing.T) {
	f := newFixture(t)
	snap := f.createCAPISession(t)

	rec, c := f.sessionRequest(t, http.MethodPost, snap.SessionID, nil)
	require.NoError(t, f.handlers.PushAudioChunk(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
