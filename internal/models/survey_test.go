package models

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSurveyDefinition_JSON(t *testing.T) {
	jsonData := []byte(`{
		"sections": [
			{
				"title": "Demographics",
				"questions": [
					{
						"id": "q1",
						"text": "What is your gender?",
						"type": "single_choice",
						"required": true,
						"options": [
							{"id": "o1", "text": "Male"},
							{"id": "o2", "text": "Female"}
						]
					}
				]
			}
		]
	}`)

	def, err := ParseSurveyDefinition(jsonData)
	require.NoError(t, err)

	require.Equal(t, 1, len(def.Sections))
	assert.Equal(t, "Demographics", def.Sections[0].Title)
	require.Equal(t, 1, len(def.Sections[0].Questions))

	q := def.Sections[0].Questions[0]
	assert.Equal(t, "q1", q.ID)
	assert.Equal(t, "What is your gender?", q.Text)
	assert.Equal(t, QuestionTypeSingleChoice, q.Type)
	assert.True(t, q.Required)
	assert.Equal(t, 2, len(q.Options))
}

func TestParseSurveyDefinition_YAML(t *testing.T) {
	yamlData := []byte(`
sections:
  - title: Voting
    questions:
      - id: q1
        text: Which parties did you consider?
        type: multiple_choice
        required: true
        options:
          - id: o1
            text: Party A
          - id: o2
            text: Party B
          - id: o3
            text: None of the above
`)

	def, err := ParseSurveyDefinition(yamlData)
	require.NoError(t, err)

	require.Equal(t, 1, len(def.Sections))
	q := def.Sections[0].Questions[0]
	assert.Equal(t, "q1", q.ID)
	assert.Equal(t, QuestionTypeMultipleChoice, q.Type)
	assert.True(t, q.Required)
	assert.Equal(t, 3, len(q.Options))
}

func TestParseSurveyDefinition_QuotaAndConstituency(t *testing.T) {
	yamlData := []byte(`
requiresConstituency: true
quota:
  genders: [Male, Female]
  genderLimits:
    Female: 200
  genderQuestionId: q_gender
  ageQuestionId: q_age
  minAge: 18
sections:
  - title: Main
    questions:
      - id: q_gender
        text: Gender
        type: single_choice
        required: true
        options:
          - id: m
            text: Male
          - id: f
            text: Female
      - id: q_age
        text: Age
        type: number
        required: true
`)

	def, err := ParseSurveyDefinition(yamlData)
	require.NoError(t, err)
	require.NoError(t, def.ValidateDefinition())

	assert.True(t, def.RequiresConstituency)
	require.NotNil(t, def.Quota)
	assert.Equal(t, []string{"Male", "Female"}, def.Quota.Genders)
	assert.Equal(t, 200, def.Quota.GenderLimits["Female"])
	assert.Equal(t, "q_gender", def.Quota.GenderQuestionID)
	require.NotNil(t, def.Quota.MinAge)
	assert.Equal(t, 18, *def.Quota.MinAge)
	assert.Nil(t, def.Quota.MaxAge)
}

func TestParseSurveyDefinition_InvalidInput(t *testing.T) {
	_, err := ParseSurveyDefinition([]byte(`{invalid: [yaml: json`))
	assert.Error(t, err)
}

func TestParseSurveyDefinition_TooLarge(t *testing.T) {
	data := []byte(`{"sections": "` + strings.Repeat("x", MaxSurveyDefinitionSize) + `"}`)
	_, err := ParseSurveyDefinition(data)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

func validDefinition() *SurveyDefinition {
	return &SurveyDefinition{
		Sections: []Section{
			{
				Title: "Main",
				Questions: []Question{
					{
						ID:       "q1",
						Text:     "Pick one",
						Type:     QuestionTypeSingleChoice,
						Required: true,
						Options: []Option{
							{ID: "o1", Text: "Yes"},
							{ID: "o2", Text: "No"},
						},
					},
					{
						ID:   "q2",
						Text: "Tell us more",
						Type: QuestionTypeTextarea,
						Conditions: []Condition{
							{QuestionID: "q1", Operator: OpEquals, Value: "Yes"},
						},
					},
				},
			},
		},
	}
}

func TestValidateDefinition_Valid(t *testing.T) {
	def := validDefinition()
	assert.NoError(t, def.ValidateDefinition())
}

func TestValidateDefinition_NoSections(t *testing.T) {
	def := &SurveyDefinition{}
	err := def.ValidateDefinition()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one section")
}

func TestValidateDefinition_EmptySection(t *testing.T) {
	def := &SurveyDefinition{Sections: []Section{{Title: "Empty"}}}
	err := def.ValidateDefinition()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one question")
}

func TestValidateDefinition_MissingQuestionID(t *testing.T) {
	def := validDefinition()
	def.Sections[0].Questions[0].ID = ""
	err := def.ValidateDefinition()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "question ID is required")
}

func TestValidateDefinition_DuplicateQuestionIDs(t *testing.T) {
	def := validDefinition()
	def.Sections[0].Questions[1].ID = "q1"
	err := def.ValidateDefinition()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate question ID")
}

func TestValidateDefinition_DuplicateQuestionIDsAcrossSections(t *testing.T) {
	def := validDefinition()
	def.Sections = append(def.Sections, Section{
		Title: "Second",
		Questions: []Question{
			{ID: "q1", Text: "Again", Type: QuestionTypeText},
		},
	})
	err := def.ValidateDefinition()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate question ID")
}

func TestValidateDefinition_InvalidQuestionType(t *testing.T) {
	def := validDefinition()
	def.Sections[0].Questions[1].Type = "essay"
	err := def.ValidateDefinition()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid question type")
}

func TestValidateDefinition_SyntheticTypeNotAuthorable(t *testing.T) {
	def := validDefinition()
	def.Sections[0].Questions[1].Type = QuestionTypeACSelection
	err := def.ValidateDefinition()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid question type")
}

func TestValidateDefinition_ChoiceQuestionNeedsOptions(t *testing.T) {
	def := validDefinition()
	def.Sections[0].Questions[0].Options = []Option{{ID: "o1", Text: "Only"}}
	err := def.ValidateDefinition()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least 2 options")
}

func TestValidateDefinition_DuplicateOptionIDs(t *testing.T) {
	def := validDefinition()
	def.Sections[0].Questions[0].Options[1].ID = "o1"
	err := def.ValidateDefinition()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate option ID")
}

func TestValidateDefinition_ConditionReferencesUnknownQuestion(t *testing.T) {
	def := validDefinition()
	def.Sections[0].Questions[1].Conditions[0].QuestionID = "missing"
	err := def.ValidateDefinition()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown question ID")
}

func TestValidateDefinition_ConditionForwardReferenceAllowed(t *testing.T) {
	def := validDefinition()
	// q1 conditioned on q2, which comes later.
	def.Sections[0].Questions[0].Conditions = []Condition{
		{QuestionID: "q2", Operator: OpIsNotEmpty},
	}
	assert.NoError(t, def.ValidateDefinition())
}

func TestValidateDefinition_SecondConditionRequiresLogic(t *testing.T) {
	def := validDefinition()
	def.Sections[0].Questions[1].Conditions = []Condition{
		{QuestionID: "q1", Operator: OpEquals, Value: "Yes"},
		{QuestionID: "q1", Operator: OpIsNotEmpty},
	}
	err := def.ValidateDefinition()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logic must be AND or OR")

	def.Sections[0].Questions[1].Conditions[1].Logic = LogicOr
	assert.NoError(t, def.ValidateDefinition())
}

func TestValidateDefinition_SanitizesText(t *testing.T) {
	def := validDefinition()
	def.Sections[0].Questions[0].Text = "  Pick one <script>alert(1)</script>  "
	require.NoError(t, def.ValidateDefinition())
	assert.Equal(t, "Pick one", def.Sections[0].Questions[0].Text)
}

func TestAllQuestions_PreservesSectionOrder(t *testing.T) {
	def := validDefinition()
	def.Sections = append(def.Sections, Section{
		Title: "Second",
		Questions: []Question{
			{ID: "q3", Text: "Last", Type: QuestionTypeText},
		},
	})

	all := def.AllQuestions()
	require.Len(t, all, 3)
	assert.Equal(t, "q1", all[0].ID)
	assert.Equal(t, "q2", all[1].ID)
	assert.Equal(t, "q3", all[2].ID)
}

func TestStripTranslation(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"no annotation", "Gender", "Gender"},
		{"trailing annotation", "Gender {लिंग}", "Gender"},
		{"annotation mid-text", "Your {आपका} age", "Your age"},
		{"multiple annotations", "Yes {हाँ} or No {नहीं}", "Yes or No"},
		{"empty braces", "Other {}", "Other"},
		{"annotation only", "{लिंग}", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripTranslation(tt.input))
		})
	}
}

func TestNormalizeText(t *testing.T) {
	assert.Equal(t, "none of the above", NormalizeText("  None of the Above {इनमें से कोई नहीं}  "))
	assert.Equal(t, "other", NormalizeText("OTHER"))
}

func TestSanitizeText(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain text", "hello world", "hello world"},
		{"script tag", "hello <script>alert(1)</script> world", "hello  world"},
		{"trims whitespace", "  padded  ", "padded"},
		{"null byte removed", "a\x00b", "ab"},
		{"newline preserved", "line1\nline2", "line1\nline2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeText(tt.input))
		})
	}
}

func TestValidateSlug(t *testing.T) {
	assert.NoError(t, ValidateSlug("exit-poll-2026"))
	assert.NoError(t, ValidateSlug("abc"))
	assert.Error(t, ValidateSlug("ab"))
	assert.Error(t, ValidateSlug("-leading"))
	assert.Error(t, ValidateSlug("trailing-"))
	assert.Error(t, ValidateSlug("UPPER"))
	assert.Error(t, ValidateSlug(strings.Repeat("a", 51)))
}

func TestShuffleEnabled(t *testing.T) {
	var s QuestionSettings
	assert.True(t, s.ShuffleEnabled(), "absence of the flag means shuffle")

	off := false
	s.ShuffleOptions = &off
	assert.False(t, s.ShuffleEnabled())

	on := true
	s.ShuffleOptions = &on
	assert.True(t, s.ShuffleEnabled())
}
