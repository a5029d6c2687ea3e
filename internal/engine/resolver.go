package engine

import (
	"github.com/openmeet-team/fieldwork/internal/models"
)

// IDs of the synthetic questions injected ahead of authored sections.
const (
	ACSelectionQuestionID      = "__ac_selection"
	StationSelectionQuestionID = "__polling_station"
)

// Resolver builds the full and visible question lists for a session. The
// full list prepends the synthetic constituency questions when the survey
// requires constituency assignment; the visible list is the full list
// filtered through condition evaluation against the current responses.
type Resolver struct {
	def            *models.SurveyDefinition
	constituencies []models.Constituency
}

// NewResolver creates a resolver for one survey definition and the
// constituencies assigned to the session (may be empty).
func NewResolver(def *models.SurveyDefinition, constituencies []models.Constituency) *Resolver {
	return &Resolver{def: def, constituencies: constituencies}
}

// FullList returns every question in order: synthetic AC selection (when the
// survey requires constituency assignment), synthetic polling-station
// selection (once an AC is chosen), then the authored sections.
func (r *Resolver) FullList(responses ResponseMap) []models.Question {
	var out []models.Question

	if r.def.RequiresConstituency {
		out = append(out, r.acQuestion())
		if ac := r.SelectedConstituency(responses); ac != nil {
			out = append(out, r.stationQuestion(ac))
		}
	}

	out = append(out, r.def.AllQuestions()...)
	return out
}

// VisibleList filters the full list through the condition evaluator.
func (r *Resolver) VisibleList(responses ResponseMap) []models.Question {
	full := r.FullList(responses)

	byID := make(map[string]*models.Question, len(full))
	for i := range full {
		byID[full[i].ID] = &full[i]
	}

	visible := make([]models.Question, 0, len(full))
	for i := range full {
		if EvaluateVisibility(&full[i], byID, responses) {
			visible = append(visible, full[i])
		}
	}
	return visible
}

// ClampIndex bounds an index into [0, len(visible)-1]. An empty visible list
// clamps to 0.
func ClampIndex(idx, visibleLen int) int {
	if visibleLen <= 0 {
		return 0
	}
	if idx < 0 {
		return 0
	}
	if idx >= visibleLen {
		return visibleLen - 1
	}
	return idx
}

// SelectedConstituency resolves the AC chosen in the responses, if any.
func (r *Resolver) SelectedConstituency(responses ResponseMap) *models.Constituency {
	raw, ok := responses[ACSelectionQuestionID]
	if !ok {
		return nil
	}
	chosen := stringify(raw)
	for i := range r.constituencies {
		ac := &r.constituencies[i]
		if ac.ID == chosen || models.NormalizeText(ac.Name) == models.NormalizeText(chosen) {
			return ac
		}
	}
	return nil
}

// SectionPosition locates an authored question's section and in-section
// index. Synthetic questions report section -1.
func (r *Resolver) SectionPosition(questionID string) (sectionIdx, questionIdx int) {
	for si, sec := range r.def.Sections {
		for qi, q := range sec.Questions {
			if q.ID == questionID {
				return si, qi
			}
		}
	}
	return -1, 0
}

func (r *Resolver) acQuestion() models.Question {
	opts := make([]models.Option, len(r.constituencies))
	for i, ac := range r.constituencies {
		opts[i] = models.Option{ID: ac.ID, Text: ac.Name}
	}
	shuffleOff := false
	return models.Question{
		ID:       ACSelectionQuestionID,
		Text:     "Select Assembly Constituency",
		Type:     models.QuestionTypeACSelection,
		Required: true,
		Options:  opts,
		Settings: models.QuestionSettings{ShuffleOptions: &shuffleOff},
	}
}

func (r *Resolver) stationQuestion(ac *models.Constituency) models.Question {
	var opts []models.Option
	for _, group := range ac.PollingGroups {
		for _, station := range group.Stations {
			opts = append(opts, models.Option{
				ID:    group.Name + "/" + station,
				Text:  station,
				Value: group.Name,
			})
		}
	}
	shuffleOff := false
	return models.Question{
		ID:       StationSelectionQuestionID,
		Text:     "Select Polling Station",
		Type:     models.QuestionTypeStationSelection,
		Required: true,
		Options:  opts,
		Settings: models.QuestionSettings{ShuffleOptions: &shuffleOff},
	}
}
