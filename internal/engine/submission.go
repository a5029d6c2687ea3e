package engine

import (
	"github.com/google/uuid"
	"github.com/openmeet-team/fieldwork/internal/models"
)

// assembleLocked maps the final response state into the persistence payload.
// Called with the session lock held, after validation has passed.
func (s *Session) assembleLocked() *models.Submission {
	now := s.clock()
	visible := s.resolver.VisibleList(s.responses)

	answers := make([]models.AnswerRecord, 0, len(visible))
	answered := 0
	for i := range visible {
		q := &visible[i]
		raw, has := s.responses[q.ID]
		satisfied := IsSatisfied(q, raw, has)
		if satisfied {
			answered++
		}

		sectionIdx, questionIdx := s.resolver.SectionPosition(q.ID)

		rec := models.AnswerRecord{
			SectionIndex:        sectionIdx,
			QuestionIndex:       questionIdx,
			QuestionID:          q.ID,
			Type:                q.Type,
			Text:                q.Text,
			Required:            q.Required,
			Skipped:             !satisfied,
			ResponseTimeSeconds: s.responseTimes[q.ID].Seconds(),
		}
		if has {
			rec.Response = raw
		}
		if len(q.Options) > 0 {
			rec.Options = s.shuffles.DisplayOrder(s.id, q)
		}
		answers = append(answers, rec)
	}

	completion := 0.0
	if len(visible) > 0 {
		completion = float64(answered) / float64(len(visible)) * 100
	}

	sub := &models.Submission{
		ID:                   uuid.New(),
		SessionID:            s.id,
		SurveyID:             s.cfg.Survey.ID,
		InterviewerID:        s.cfg.InterviewerID,
		Mode:                 s.cfg.Mode,
		Answers:              answers,
		StartTime:            s.startedAt,
		EndTime:              now,
		TotalTimeSeconds:     s.accumulated.Seconds(),
		TotalQuestions:       len(visible),
		AnsweredQuestions:    answered,
		CompletionPercentage: completion,
		Device:               s.cfg.Device,
		Audio:                s.audioMeta,
		Location:             s.location,
		CallQueueID:          s.cfg.CallQueueID,
		CallID:               s.call.CallID,
		Fingerprint:          models.SubmissionFingerprint(s.cfg.Survey.ID, s.id, s.cfg.InterviewerID),
		CreatedAt:            now,
	}

	if ac := s.resolver.SelectedConstituency(s.responses); ac != nil {
		snapshot := *ac
		snapshot.PollingGroups = nil // identity only; groups are survey data
		sub.Constituency = &snapshot
	}
	if raw, ok := s.responses[StationSelectionQuestionID]; ok {
		if ps, ok := models.ParsePollingStationAnswer(raw); ok {
			sub.PollingStation = &ps
		}
	}

	if quota := s.cfg.Survey.Definition.Quota; quota != nil && quota.GenderQuestionID != "" {
		if raw, ok := s.responses[quota.GenderQuestionID]; ok {
			sub.Gender = models.CanonicalGender(stringify(raw))
		}
	}

	return sub
}
