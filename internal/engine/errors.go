package engine

import (
	"errors"
	"fmt"
)

// Sentinel errors for state-machine guards.
var (
	ErrInvalidTransition  = errors.New("invalid session state transition")
	ErrSessionClosed      = errors.New("session already closed")
	ErrSessionActive      = errors.New("session is active; abandon or complete it first")
	ErrCallNotConnected   = errors.New("call must be connected before submission")
	ErrReasonRequired     = errors.New("abandonment reason is required")
	ErrRescheduleRequired = errors.New("call_later abandonment requires a reschedule date")
)

// ValidationError blocks completion or rejects an answer, naming the
// offending question.
type ValidationError struct {
	QuestionID string
	Reason     string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for question '%s': %s", e.QuestionID, e.Reason)
}

// QuotaError rejects a demographic answer whose bucket cannot accept more
// completions.
type QuotaError struct {
	Bucket string
	Reason string
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("quota violation for bucket '%s': %s", e.Bucket, e.Reason)
}
