package engine

import (
	"context"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/openmeet-team/fieldwork/internal/models"
)

// QuotaSource supplies the live demographic bucket state, keyed by canonical
// gender label. Implementations are expected to cache briefly; the engine
// consults the source at every gender mutation and again at completion.
type QuotaSource interface {
	GenderCounts(ctx context.Context, surveyID uuid.UUID) (map[string]models.QuotaBucket, error)
}

// IsSatisfied reports whether a response counts as an answer for the given
// question. Emptiness is type-aware: a trimmed non-blank string, a non-empty
// array, any boolean, and any non-nil number (zero included) all count.
// Polling-station questions need both a group and a station.
func IsSatisfied(q *models.Question, raw any, answered bool) bool {
	if !answered {
		return false
	}

	if q.Type == models.QuestionTypePollingStation || q.Type == models.QuestionTypeStationSelection {
		ans, ok := models.ParsePollingStationAnswer(raw)
		return ok && ans.Complete()
	}

	switch v := raw.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(v) != ""
	case bool:
		return true
	case float64, int:
		return true
	case []any:
		return len(v) > 0
	case []string:
		return len(v) > 0
	case map[string]any:
		return len(v) > 0
	}
	return true
}

// FindFirstUnsatisfied returns the first required visible question without a
// satisfying answer, in visible order, or nil when all are satisfied.
func FindFirstUnsatisfied(visible []models.Question, responses ResponseMap) *models.Question {
	for i := range visible {
		q := &visible[i]
		if !q.Required {
			continue
		}
		raw, answered := responses[q.ID]
		if !IsSatisfied(q, raw, answered) {
			return q
		}
	}
	return nil
}

// CheckAge validates an age answer against the survey's inclusive target
// range. Unset bounds and unparsable answers impose no restriction.
func CheckAge(quota *models.QuotaConfig, raw any) error {
	if quota == nil || (quota.MinAge == nil && quota.MaxAge == nil) {
		return nil
	}

	age, ok := toNumber(raw)
	if !ok {
		return nil
	}

	if quota.MinAge != nil && age < float64(*quota.MinAge) {
		return &QuotaError{
			Bucket: "age",
			Reason: "respondent age " + strconv.FormatFloat(age, 'f', -1, 64) + " is below the target minimum of " + strconv.Itoa(*quota.MinAge),
		}
	}
	if quota.MaxAge != nil && age > float64(*quota.MaxAge) {
		return &QuotaError{
			Bucket: "age",
			Reason: "respondent age " + strconv.FormatFloat(age, 'f', -1, 64) + " is above the target maximum of " + strconv.Itoa(*quota.MaxAge),
		}
	}
	return nil
}

// CheckGender validates a gender answer against the allowed set and the live
// quota buckets. A full bucket rejects the answer even when the gender is
// otherwise allowed.
func CheckGender(quota *models.QuotaConfig, buckets map[string]models.QuotaBucket, raw any) error {
	if quota == nil {
		return nil
	}

	label := models.CanonicalGender(stringify(raw))
	if label == "" {
		return nil
	}

	if len(quota.Genders) > 0 {
		allowed := false
		for _, g := range quota.Genders {
			if models.CanonicalGender(g) == label {
				allowed = true
				break
			}
		}
		if !allowed {
			return &QuotaError{Bucket: label, Reason: "gender is not in the survey's target set"}
		}
	}

	if bucket, ok := buckets[label]; ok && bucket.IsFull {
		return &QuotaError{Bucket: label, Reason: "quota for this gender is already full"}
	}

	return nil
}
