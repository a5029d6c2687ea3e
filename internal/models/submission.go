package models

import (
	"time"

	"github.com/google/uuid"
)

// AnswerRecord is one question's entry in a submission payload
type AnswerRecord struct {
	SectionIndex        int          `json:"sectionIndex"`
	QuestionIndex       int          `json:"questionIndex"`
	QuestionID          string       `json:"questionId"`
	Type                QuestionType `json:"type"`
	Text                string       `json:"text"`
	Options             []Option     `json:"options,omitempty"` // display-order snapshot
	Response            any          `json:"response,omitempty"`
	ResponseTimeSeconds float64      `json:"responseTimeSeconds"`
	Required            bool         `json:"required"`
	Skipped             bool         `json:"skipped"`
}

// Submission is the persistence payload assembled at completion
type Submission struct {
	ID            uuid.UUID `json:"id"`
	SessionID     uuid.UUID `json:"sessionId"`
	SurveyID      uuid.UUID `json:"surveyId"`
	InterviewerID string    `json:"interviewerId"`
	Mode          Mode      `json:"mode"`

	Answers []AnswerRecord `json:"answers"`

	StartTime            time.Time `json:"startTime"`
	EndTime              time.Time `json:"endTime"`
	TotalTimeSeconds     float64   `json:"totalTimeSeconds"` // active time, excludes pauses
	TotalQuestions       int       `json:"totalQuestions"`
	AnsweredQuestions    int       `json:"answeredQuestions"`
	CompletionPercentage float64   `json:"completionPercentage"`

	Device   DeviceInfo      `json:"device"`
	Audio    AudioRecording  `json:"audio"`
	Location *LocationRecord `json:"location,omitempty"`

	Constituency   *Constituency         `json:"constituency,omitempty"`
	PollingStation *PollingStationAnswer `json:"pollingStation,omitempty"`

	// CATI completion metadata
	CallQueueID string `json:"callQueueId,omitempty"`
	CallID      string `json:"callId,omitempty"`

	// Gender is the canonical demographic label of the respondent, captured
	// so quota aggregation does not have to re-parse answers.
	Gender string `json:"gender,omitempty"`

	// Fingerprint dedupes retried uploads of the same interview.
	Fingerprint string `json:"fingerprint"`

	CreatedAt time.Time `json:"createdAt"`
}
