// Package engine implements the interview-session core: condition
// evaluation, question graph resolution, option randomization, quota and
// validation gating, and the session state machine.
package engine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/openmeet-team/fieldwork/internal/models"
)

// ResponseMap holds in-progress answers keyed by question ID. Values are
// dynamically typed: string, float64, bool, []any/[]string, or the composite
// polling-station map, mirroring what arrives over JSON.
type ResponseMap map[string]any

// EvaluateVisibility reports whether a question is visible given the current
// response snapshot. A question with no conditions is always visible.
// Multiple conditions combine via a left fold over each condition's Logic
// joiner; there is no operator precedence beyond list order.
func EvaluateVisibility(q *models.Question, byID map[string]*models.Question, responses ResponseMap) bool {
	if len(q.Conditions) == 0 {
		return true
	}

	result := evaluateCondition(&q.Conditions[0], byID, responses)
	for i := 1; i < len(q.Conditions); i++ {
		next := evaluateCondition(&q.Conditions[i], byID, responses)
		if q.Conditions[i].Logic == models.LogicOr {
			result = result || next
		} else {
			result = result && next
		}
	}
	return result
}

func evaluateCondition(c *models.Condition, byID map[string]*models.Question, responses ResponseMap) bool {
	raw, answered := responses[c.QuestionID]
	if answered && isEmptyValue(raw) {
		answered = false
	}

	switch c.Operator {
	case models.OpIsEmpty:
		return !answered
	case models.OpIsNotEmpty:
		return answered
	}

	// Every other operator needs an actual answer to compare.
	if !answered {
		return false
	}

	ref := byID[c.QuestionID]
	want := models.NormalizeText(c.Value)

	switch c.Operator {
	case models.OpEquals, models.OpIsSelected:
		return anyValueMatches(raw, ref, func(got string) bool { return got == want })
	case models.OpNotEquals, models.OpIsNotSelected:
		return !anyValueMatches(raw, ref, func(got string) bool { return got == want })
	case models.OpContains:
		return anyValueMatches(raw, ref, func(got string) bool { return strings.Contains(got, want) })
	case models.OpNotContains:
		return !anyValueMatches(raw, ref, func(got string) bool { return strings.Contains(got, want) })
	case models.OpGreaterThan:
		got, gotOK := toNumber(raw)
		limVal, err := strconv.ParseFloat(strings.TrimSpace(c.Value), 64)
		if !gotOK || err != nil {
			return false
		}
		return got > limVal
	case models.OpLessThan:
		got, gotOK := toNumber(raw)
		limVal, err := strconv.ParseFloat(strings.TrimSpace(c.Value), 64)
		if !gotOK || err != nil {
			return false
		}
		return got < limVal
	}

	return false
}

// anyValueMatches applies match existentially over array answers and
// directly over scalars. Each element is resolved to canonical option text
// when the referenced question defines options, then normalized.
func anyValueMatches(raw any, ref *models.Question, match func(string) bool) bool {
	for _, elem := range flatten(raw) {
		if match(resolveComparable(elem, ref)) {
			return true
		}
	}
	return false
}

// flatten yields the scalar elements of a response value.
func flatten(raw any) []any {
	switch v := raw.(type) {
	case []any:
		return v
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out
	default:
		return []any{raw}
	}
}

// resolveComparable turns one response element into normalized comparison
// text. Option-backed answers may arrive as option IDs or stored values; the
// canonical option text wins so conditions can be authored against what the
// agent saw on screen.
func resolveComparable(elem any, ref *models.Question) string {
	s := stringify(elem)
	if ref != nil {
		for i := range ref.Options {
			opt := &ref.Options[i]
			if s == opt.ID || (opt.Value != "" && s == opt.Value) || models.NormalizeText(s) == models.NormalizeText(opt.Text) {
				return models.NormalizeText(opt.Text)
			}
		}
	}
	return models.NormalizeText(s)
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		if t {
			return "yes"
		}
		return "no"
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}

func toNumber(raw any) (float64, bool) {
	switch t := raw.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

// isEmptyValue mirrors the validation engine's notion of "no answer" for
// condition purposes: blank strings and empty arrays do not count.
func isEmptyValue(raw any) bool {
	switch t := raw.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	case []string:
		return len(t) == 0
	}
	return false
}
