package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// QuestionType represents the type of question
type QuestionType string

const (
	QuestionTypeText           QuestionType = "text"
	QuestionTypeTextarea       QuestionType = "textarea"
	QuestionTypeNumber         QuestionType = "number"
	QuestionTypeSingleChoice   QuestionType = "single_choice"
	QuestionTypeMultipleChoice QuestionType = "multiple_choice"
	QuestionTypeRating         QuestionType = "rating"
	QuestionTypeYesNo          QuestionType = "yes_no"
	QuestionTypeDropdown       QuestionType = "dropdown"
	QuestionTypeDate           QuestionType = "date"
	QuestionTypePollingStation QuestionType = "polling_station"

	// Synthetic types injected by the engine, never authored.
	QuestionTypeACSelection      QuestionType = "ac_selection"
	QuestionTypeStationSelection QuestionType = "polling_station_selection"
)

// ConditionOperator is the comparison applied by a visibility condition
type ConditionOperator string

const (
	OpEquals        ConditionOperator = "equals"
	OpNotEquals     ConditionOperator = "not_equals"
	OpContains      ConditionOperator = "contains"
	OpNotContains   ConditionOperator = "not_contains"
	OpGreaterThan   ConditionOperator = "greater_than"
	OpLessThan      ConditionOperator = "less_than"
	OpIsEmpty       ConditionOperator = "is_empty"
	OpIsNotEmpty    ConditionOperator = "is_not_empty"
	OpIsSelected    ConditionOperator = "is_selected"
	OpIsNotSelected ConditionOperator = "is_not_selected"
)

// ConditionLogic joins a condition with the result of the conditions before it
type ConditionLogic string

const (
	LogicAnd ConditionLogic = "AND"
	LogicOr  ConditionLogic = "OR"
)

// Survey represents a survey definition stored in the database
type Survey struct {
	ID         uuid.UUID        `db:"id" json:"id"`
	Slug       string           `db:"slug" json:"slug"`
	Title      string           `db:"title" json:"title"`
	Definition SurveyDefinition `db:"definition" json:"definition"`
	CreatedAt  time.Time        `db:"created_at" json:"createdAt"`
	UpdatedAt  time.Time        `db:"updated_at" json:"updatedAt"`
}

// SurveyDefinition represents the survey structure stored as JSONB
type SurveyDefinition struct {
	Sections []Section `json:"sections" yaml:"sections"`

	// RequiresConstituency makes the engine inject the AC-selection and
	// polling-station questions ahead of the authored sections.
	RequiresConstituency bool `json:"requiresConstituency,omitempty" yaml:"requiresConstituency,omitempty"`

	Quota *QuotaConfig `json:"quota,omitempty" yaml:"quota,omitempty"`
}

// Section groups questions in authoring order
type Section struct {
	Title     string     `json:"title" yaml:"title"`
	Questions []Question `json:"questions" yaml:"questions"`
}

// Question represents a survey question
type Question struct {
	ID         string           `json:"id" yaml:"id"`
	Text       string           `json:"text" yaml:"text"`
	Type       QuestionType     `json:"type" yaml:"type"`
	Required   bool             `json:"required" yaml:"required"`
	Options    []Option         `json:"options,omitempty" yaml:"options,omitempty"`
	Conditions []Condition      `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	Settings   QuestionSettings `json:"settings,omitempty" yaml:"settings,omitempty"`
}

// Option represents a choice option for a question
type Option struct {
	ID    string `json:"id" yaml:"id"`
	Text  string `json:"text" yaml:"text"`
	Value string `json:"value,omitempty" yaml:"value,omitempty"`
}

// Condition gates question visibility on a previous answer
type Condition struct {
	QuestionID string            `json:"questionId" yaml:"questionId"`
	Operator   ConditionOperator `json:"operator" yaml:"operator"`
	Value      string            `json:"value,omitempty" yaml:"value,omitempty"`
	// Logic joins this condition with the accumulated result of the
	// conditions before it in the list. Ignored on the first condition.
	Logic ConditionLogic `json:"logic,omitempty" yaml:"logic,omitempty"`
}

// QuestionSettings holds per-question behavior flags
type QuestionSettings struct {
	AllowMultiple bool `json:"allowMultiple,omitempty" yaml:"allowMultiple,omitempty"`
	MaxSelections int  `json:"maxSelections,omitempty" yaml:"maxSelections,omitempty"`
	// ShuffleOptions defaults to true for multiple-choice questions when nil.
	ShuffleOptions *bool `json:"shuffleOptions,omitempty" yaml:"shuffleOptions,omitempty"`
}

// ShuffleEnabled reports whether option randomization applies. Authors opt
// out explicitly; absence of the flag means shuffle.
func (s QuestionSettings) ShuffleEnabled() bool {
	return s.ShuffleOptions == nil || *s.ShuffleOptions
}

// QuotaConfig holds the demographic targets for a survey
type QuotaConfig struct {
	// Genders is the allowed set of canonical gender labels. Empty means
	// no gender restriction.
	Genders []string `json:"genders,omitempty" yaml:"genders,omitempty"`
	// GenderLimits caps completed interviews per canonical gender label.
	GenderLimits map[string]int `json:"genderLimits,omitempty" yaml:"genderLimits,omitempty"`
	// GenderQuestionID names the question whose answer feeds the gender
	// quota buckets.
	GenderQuestionID string `json:"genderQuestionId,omitempty" yaml:"genderQuestionId,omitempty"`
	// AgeQuestionID names the question checked against MinAge/MaxAge.
	AgeQuestionID string `json:"ageQuestionId,omitempty" yaml:"ageQuestionId,omitempty"`
	MinAge        *int   `json:"minAge,omitempty" yaml:"minAge,omitempty"`
	MaxAge        *int   `json:"maxAge,omitempty" yaml:"maxAge,omitempty"`
}

// Security limits for definition bomb protection
const (
	MaxSurveyDefinitionSize  = 256 * 1024 // 256KB
	MaxSections              = 30
	MaxQuestions             = 200
	MaxOptionsPerQuestion    = 60
	MaxQuestionTextLength    = 1000
	MaxOptionTextLength      = 500
	MaxConditionsPerQuestion = 20
	MaxTextAnswerLength      = 5000
)

var validQuestionTypes = map[QuestionType]bool{
	QuestionTypeText:           true,
	QuestionTypeTextarea:       true,
	QuestionTypeNumber:         true,
	QuestionTypeSingleChoice:   true,
	QuestionTypeMultipleChoice: true,
	QuestionTypeRating:         true,
	QuestionTypeYesNo:          true,
	QuestionTypeDropdown:       true,
	QuestionTypeDate:           true,
	QuestionTypePollingStation: true,
}

var validOperators = map[ConditionOperator]bool{
	OpEquals: true, OpNotEquals: true,
	OpContains: true, OpNotContains: true,
	OpGreaterThan: true, OpLessThan: true,
	OpIsEmpty: true, OpIsNotEmpty: true,
	OpIsSelected: true, OpIsNotSelected: true,
}

// Regex patterns for sanitization (compiled once for performance)
var (
	// Matches dangerous HTML tags (script, iframe, object, embed, link, style, img)
	dangerousTagsRegex = regexp.MustCompile(`(?i)<\s*(script|iframe|object|embed|link|style|img)(\s+[^>]*)?>(.*?)</\s*(script|iframe|object|embed|link|style|img)\s*>|<\s*(script|iframe|object|embed|link|style|img)(\s+[^>]*)?>`)

	// Question and option text may carry a secondary translation in curly
	// braces, e.g. "Gender {लिंग}". The annotation is display-only.
	translationRegex = regexp.MustCompile(`\{[^{}]*\}`)

	multiSpaceRegex = regexp.MustCompile(`\s{2,}`)
)

// SanitizeText removes dangerous HTML tags and control characters from user input.
// It strips:
//   - Dangerous HTML tags (script, iframe, img, object, embed, link, style)
//   - Null bytes and harmful control characters (except \n, \t, \r)
//   - Leading/trailing whitespace
func SanitizeText(input string) string {
	sanitized := dangerousTagsRegex.ReplaceAllString(input, "")

	sanitized = strings.Map(func(r rune) rune {
		if unicode.IsPrint(r) {
			return r
		}
		if r == '\n' || r == '\t' || r == '\r' {
			return r
		}
		return -1
	}, sanitized)

	return strings.TrimSpace(sanitized)
}

// StripTranslation removes embedded translation annotations from display text,
// leaving the primary-language text.
func StripTranslation(text string) string {
	stripped := translationRegex.ReplaceAllString(text, "")
	stripped = multiSpaceRegex.ReplaceAllString(stripped, " ")
	return strings.TrimSpace(stripped)
}

// NormalizeText prepares a value for comparison: translation markup stripped,
// case-folded, trimmed.
func NormalizeText(text string) string {
	return strings.ToLower(StripTranslation(text))
}

// ParseSurveyDefinition parses a survey definition from JSON or YAML
func ParseSurveyDefinition(data []byte) (*SurveyDefinition, error) {
	if len(data) > MaxSurveyDefinitionSize {
		return nil, fmt.Errorf("survey definition too large: %d bytes exceeds maximum of 256KB", len(data))
	}

	var def SurveyDefinition

	// Try JSON first
	if err := json.Unmarshal(data, &def); err == nil {
		return &def, nil
	}

	// Try YAML with strict unmarshaling
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	if err := decoder.Decode(&def); err != nil {
		return nil, fmt.Errorf("failed to parse as JSON or YAML: %w", err)
	}

	return &def, nil
}

// AllQuestions returns the authored questions of every section in order.
func (d *SurveyDefinition) AllQuestions() []Question {
	var out []Question
	for _, s := range d.Sections {
		out = append(out, s.Questions...)
	}
	return out
}

// ValidateDefinition validates the survey definition
func (d *SurveyDefinition) ValidateDefinition() error {
	if len(d.Sections) == 0 {
		return errors.New("survey must have at least one section")
	}
	if len(d.Sections) > MaxSections {
		return fmt.Errorf("too many sections: %d exceeds maximum of %d", len(d.Sections), MaxSections)
	}

	total := 0
	questionIDs := make(map[string]bool)

	for si := range d.Sections {
		sec := &d.Sections[si]
		if len(sec.Questions) == 0 {
			return fmt.Errorf("section %d: section must have at least one question", si)
		}

		for qi := range sec.Questions {
			q := &sec.Questions[qi]
			total++
			if total > MaxQuestions {
				return fmt.Errorf("too many questions: exceeds maximum of %d", MaxQuestions)
			}

			if q.ID == "" {
				return fmt.Errorf("section %d, question %d: question ID is required", si, qi)
			}
			if questionIDs[q.ID] {
				return fmt.Errorf("section %d, question %d: duplicate question ID '%s'", si, qi, q.ID)
			}
			questionIDs[q.ID] = true

			q.Text = SanitizeText(q.Text)
			if q.Text == "" {
				return fmt.Errorf("question '%s': question text is required", q.ID)
			}
			if len(q.Text) > MaxQuestionTextLength {
				return fmt.Errorf("question '%s': question text too long: %d characters exceeds maximum of %d", q.ID, len(q.Text), MaxQuestionTextLength)
			}

			if !validQuestionTypes[q.Type] {
				return fmt.Errorf("question '%s': invalid question type '%s'", q.ID, q.Type)
			}

			if err := validateOptions(q); err != nil {
				return err
			}
			if len(q.Conditions) > MaxConditionsPerQuestion {
				return fmt.Errorf("question '%s': too many conditions: %d exceeds maximum of %d", q.ID, len(q.Conditions), MaxConditionsPerQuestion)
			}
		}
	}

	// Conditions may reference forward or backward, but every referenced ID
	// must resolve to a question in the same definition.
	for _, q := range d.AllQuestions() {
		for ci, cond := range q.Conditions {
			if cond.QuestionID == "" {
				return fmt.Errorf("question '%s', condition %d: referenced question ID is required", q.ID, ci)
			}
			if !questionIDs[cond.QuestionID] {
				return fmt.Errorf("question '%s', condition %d: unknown question ID '%s'", q.ID, ci, cond.QuestionID)
			}
			if !validOperators[cond.Operator] {
				return fmt.Errorf("question '%s', condition %d: invalid operator '%s'", q.ID, ci, cond.Operator)
			}
			if ci > 0 && cond.Logic != LogicAnd && cond.Logic != LogicOr {
				return fmt.Errorf("question '%s', condition %d: logic must be AND or OR", q.ID, ci)
			}
		}
	}

	return nil
}

func validateOptions(q *Question) error {
	isChoice := q.Type == QuestionTypeSingleChoice || q.Type == QuestionTypeMultipleChoice || q.Type == QuestionTypeDropdown
	if !isChoice {
		return nil
	}

	if len(q.Options) < 2 {
		return fmt.Errorf("question '%s': choice questions must have at least 2 options", q.ID)
	}
	if len(q.Options) > MaxOptionsPerQuestion {
		return fmt.Errorf("question '%s': too many options: %d exceeds maximum of %d", q.ID, len(q.Options), MaxOptionsPerQuestion)
	}

	optionIDs := make(map[string]bool)
	for oi := range q.Options {
		opt := &q.Options[oi]
		if opt.ID == "" {
			return fmt.Errorf("question '%s', option %d: option ID is required", q.ID, oi)
		}

		opt.Text = SanitizeText(opt.Text)
		if opt.Text == "" {
			return fmt.Errorf("question '%s', option %d: option text is required", q.ID, oi)
		}
		if len(opt.Text) > MaxOptionTextLength {
			return fmt.Errorf("question '%s', option %d: option text too long: %d characters exceeds maximum of %d", q.ID, oi, len(opt.Text), MaxOptionTextLength)
		}

		if optionIDs[opt.ID] {
			return fmt.Errorf("question '%s': duplicate option ID '%s'", q.ID, opt.ID)
		}
		optionIDs[opt.ID] = true
	}

	return nil
}

var slugRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*[a-z0-9]$|^[a-z0-9]{3}$`)

// ValidateSlug validates a survey slug
func ValidateSlug(slug string) error {
	if len(slug) < 3 || len(slug) > 50 {
		return errors.New("slug must be between 3 and 50 characters")
	}

	if !slugRegex.MatchString(slug) {
		return errors.New("slug must contain only lowercase letters, numbers, and hyphens (cannot start or end with hyphen)")
	}

	return nil
}
