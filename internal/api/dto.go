package api

import (
	"time"

	"github.com/openmeet-team/fieldwork/internal/models"
)

// CreateSessionRequest starts a new interview session
type CreateSessionRequest struct {
	SurveySlug    string            `json:"surveySlug"`
	Mode          models.Mode       `json:"mode"`
	InterviewerID string            `json:"interviewerId"`
	Device        models.DeviceInfo `json:"device"`
}

// AnswerRequest records a response to one question
type AnswerRequest struct {
	QuestionID string `json:"questionId"`
	Value      any    `json:"value"`
}

// AbandonRequest closes a session without submitting
type AbandonRequest struct {
	Reason         string     `json:"reason,omitempty"`
	Notes          string     `json:"notes,omitempty"`
	RescheduleDate *time.Time `json:"rescheduleDate,omitempty"`
}

// LocationFixRequest is a position fix pushed by the field client
type LocationFixRequest struct {
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	Accuracy     float64 `json:"accuracy,omitempty"`
	HighAccuracy bool    `json:"highAccuracy,omitempty"`
}

// RemediationResponse guides the agent through a permission failure
type RemediationResponse struct {
	Error       string `json:"error"`
	Kind        string `json:"kind"`
	Remediation string `json:"remediation,omitempty"`
	CanRetry    bool   `json:"canRetry"`
	CanSkip     bool   `json:"canSkip"`
}
