package models

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustUUID(t *testing.T, s string) uuid.UUID {
	t.Helper()
	id, err := uuid.Parse(s)
	require.NoError(t, err)
	return id
}

func TestSessionState_Active(t *testing.T) {
	assert.True(t, StateRunning.Active())
	assert.True(t, StatePaused.Active())
	assert.True(t, StateCompleting.Active())

	assert.False(t, StateWelcome.Active())
	assert.False(t, StatePermissions.Active())
	assert.False(t, StateCompleted.Active())
	assert.False(t, StateAbandoned.Active())
}

func TestSessionState_Closed(t *testing.T) {
	assert.True(t, StateCompleted.Closed())
	assert.True(t, StateAbandoned.Closed())

	assert.False(t, StateRunning.Closed())
	assert.False(t, StateWelcome.Closed())
}

func TestCanonicalGender(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"male", "Male"},
		{"Male", "Male"},
		{"M", "Male"},
		{"man", "Male"},
		{"female", "Female"},
		{"F", "Female"},
		{"woman", "Female"},
		{"other", "Other"},
		{"Third Gender", "Other"},
		{"transgender", "Other"},
		{"Male {पुरुष}", "Male"},
		{"", ""},
		{"nonbinary", "Nonbinary"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, CanonicalGender(tt.input))
		})
	}
}

func TestLocationRecord_HasCoordinates(t *testing.T) {
	var nilRecord *LocationRecord
	assert.False(t, nilRecord.HasCoordinates())

	assert.False(t, (&LocationRecord{Manual: true}).HasCoordinates())
	assert.False(t, (&LocationRecord{}).HasCoordinates())
	assert.True(t, (&LocationRecord{Latitude: 12.97, Longitude: 77.59}).HasCoordinates())
}

func TestParsePollingStationAnswer(t *testing.T) {
	ans, ok := ParsePollingStationAnswer(map[string]any{
		"group":   "Ward 4",
		"station": "Govt School Room 2",
	})
	assert.True(t, ok)
	assert.True(t, ans.Complete())
	assert.Equal(t, "Ward 4", ans.Group)

	partial, ok := ParsePollingStationAnswer(map[string]any{"group": "Ward 4"})
	assert.True(t, ok)
	assert.False(t, partial.Complete())

	_, ok = ParsePollingStationAnswer("not a map")
	assert.False(t, ok)

	_, ok = ParsePollingStationAnswer(nil)
	assert.False(t, ok)

	direct, ok := ParsePollingStationAnswer(PollingStationAnswer{Group: "g", Station: "s"})
	assert.True(t, ok)
	assert.True(t, direct.Complete())
}

func TestSubmissionFingerprint(t *testing.T) {
	surveyID := mustUUID(t, "6b3a4b6e-3c4d-4e5f-8a9b-0c1d2e3f4a5b")
	sessionA := mustUUID(t, "11111111-1111-1111-1111-111111111111")
	sessionB := mustUUID(t, "22222222-2222-2222-2222-222222222222")

	a1 := SubmissionFingerprint(surveyID, sessionA, "agent-7")
	a2 := SubmissionFingerprint(surveyID, sessionA, "agent-7")
	b := SubmissionFingerprint(surveyID, sessionB, "agent-7")

	assert.Equal(t, a1, a2, "same interview must fingerprint identically")
	assert.NotEqual(t, a1, b, "different sessions must fingerprint differently")
	assert.Len(t, a1, 64) // SHA256 hex string
}
