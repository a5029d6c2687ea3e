package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// SubmissionFingerprint creates a SHA256 hash identifying one field contact.
// The hash covers surveyID + sessionID + interviewer, so a retried upload of
// the same interview dedupes server-side without storing raw device
// identifiers.
func SubmissionFingerprint(surveyID, sessionID uuid.UUID, interviewerID string) string {
	data := fmt.Sprintf("%s:%s:%s", surveyID.String(), sessionID.String(), interviewerID)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
