package models

import (
	"strings"
	"time"
	"unicode"
)

// Mode distinguishes in-person from telephone interviews
type Mode string

const (
	ModeCAPI Mode = "capi" // in-person, requires location and audio evidence
	ModeCATI Mode = "cati" // telephone, requires a connected call
)

// SessionState is the top-level lifecycle state of an interview session
type SessionState string

const (
	StateWelcome     SessionState = "welcome_modal"
	StatePermissions SessionState = "acquiring_permissions"
	StateRunning     SessionState = "running"
	StatePaused      SessionState = "paused"
	StateCompleting  SessionState = "completing"
	StateCompleted   SessionState = "completed"
	StateAbandoned   SessionState = "abandoned"
)

// Active reports whether the session is in an Active sub-state.
func (s SessionState) Active() bool {
	return s == StateRunning || s == StatePaused || s == StateCompleting
}

// Closed reports whether the session reached a terminal state.
func (s SessionState) Closed() bool {
	return s == StateCompleted || s == StateAbandoned
}

// CallStatus is the CATI call sub-state
type CallStatus string

const (
	CallIdle      CallStatus = "idle"
	CallCalling   CallStatus = "calling"
	CallConnected CallStatus = "connected"
	CallFailed    CallStatus = "failed"
)

// Abandon reason codes for CATI sessions
const (
	AbandonReasonNotInterested   = "not_interested"
	AbandonReasonNoResponse      = "no_response"
	AbandonReasonCallLater       = "call_later"
	AbandonReasonWrongNumber     = "wrong_number"
	AbandonReasonLanguageBarrier = "language_barrier"
	AbandonReasonOther           = "other"
)

// CallAttempt tracks the telephony sub-flow of a CATI session
type CallAttempt struct {
	CallID         string     `json:"callId,omitempty"`
	RespondentID   string     `json:"respondentId,omitempty"`
	Status         CallStatus `json:"status"`
	AbandonReason  string     `json:"abandonReason,omitempty"`
	RescheduleDate *time.Time `json:"rescheduleDate,omitempty"`
}

// Respondent is the person a CATI session dials
type Respondent struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// LocationRecord is the outcome of the location acquisition chain
type LocationRecord struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  float64   `json:"accuracy,omitempty"` // meters
	Address   string    `json:"address,omitempty"`
	City      string    `json:"city,omitempty"`
	State     string    `json:"state,omitempty"`
	Country   string    `json:"country,omitempty"`
	Source    string    `json:"source"` // strategy tag, e.g. "network", "device", "mapping", "manual"
	Manual    bool      `json:"manual,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// HasCoordinates reports whether the record carries a usable fix.
func (l *LocationRecord) HasCoordinates() bool {
	return l != nil && !l.Manual && (l.Latitude != 0 || l.Longitude != 0)
}

// AudioRecording is the audio evidence metadata attached to a submission
type AudioRecording struct {
	HasAudio bool    `json:"hasAudio"`
	URL      string  `json:"url,omitempty"`
	Duration float64 `json:"duration,omitempty"` // seconds
	Format   string  `json:"format,omitempty"`
	Size     int64   `json:"size,omitempty"` // bytes
}

// QuotaBucket is the live state of one demographic quota
type QuotaBucket struct {
	Limit        int  `json:"limit"`
	CurrentCount int  `json:"currentCount"`
	Remaining    int  `json:"remaining"`
	IsFull       bool `json:"isFull"`
}

// Constituency is an Assembly Constituency assigned to a session
type Constituency struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	PollingGroups []PollingGroup `json:"pollingGroups,omitempty"`
}

// PollingGroup is a named group of polling stations within a constituency
type PollingGroup struct {
	Name     string   `json:"name"`
	Stations []string `json:"stations"`
}

// PollingStationAnswer is the composite answer of a polling-station question
type PollingStationAnswer struct {
	Group   string `json:"group"`
	Station string `json:"station"`
}

// Complete reports whether both parts of the composite answer are present.
func (p PollingStationAnswer) Complete() bool {
	return strings.TrimSpace(p.Group) != "" && strings.TrimSpace(p.Station) != ""
}

// ParsePollingStationAnswer extracts the composite polling-station answer
// from a raw response value. Responses arrive as JSON, so the value is
// usually a map with "group" and "station" keys.
func ParsePollingStationAnswer(v any) (PollingStationAnswer, bool) {
	switch t := v.(type) {
	case PollingStationAnswer:
		return t, true
	case *PollingStationAnswer:
		if t == nil {
			return PollingStationAnswer{}, false
		}
		return *t, true
	case map[string]any:
		ans := PollingStationAnswer{}
		if g, ok := t["group"].(string); ok {
			ans.Group = g
		}
		if s, ok := t["station"].(string); ok {
			ans.Station = s
		}
		return ans, ans.Group != "" || ans.Station != ""
	}
	return PollingStationAnswer{}, false
}

// DeviceInfo describes the host the interview ran on
type DeviceInfo struct {
	Platform  string `json:"platform,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
	Mobile    bool   `json:"mobile,omitempty"`
}

// CanonicalGender maps free-form gender answers to the canonical labels used
// by quota buckets. Unrecognized values pass through title-cased so new
// labels still bucket consistently.
func CanonicalGender(value string) string {
	switch NormalizeText(value) {
	case "male", "m", "man":
		return "Male"
	case "female", "f", "woman":
		return "Female"
	case "other", "others", "third gender", "transgender":
		return "Other"
	case "":
		return ""
	}
	runes := []rune(NormalizeText(value))
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
