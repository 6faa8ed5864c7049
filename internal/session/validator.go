package session

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"reportline/internal/domain"
)

// DateLayout is the ISO calendar date format date answers use.
const DateLayout = "2006-01-02"

// Verdict is the outcome of CanSubmit. Missing lists blocking question ids in
// question order.
type Verdict struct {
	OK      bool     `json:"ok"`
	Missing []string `json:"missing_question_ids,omitempty"`
}

// CanSubmit blocks when any required question lacks a present answer.
func CanSubmit(t *domain.Template, answers *AnswerStore) Verdict {
	var missing []string
	for _, q := range domain.RequiredQuestions(t) {
		if !CanAdvance(q, answers) {
			missing = append(missing, q.ID)
		}
	}
	return Verdict{OK: len(missing) == 0, Missing: missing}
}

// CanAdvance reports whether guided mode may move past q.
func CanAdvance(q domain.Question, answers *AnswerStore) bool {
	if !q.Required {
		return true
	}
	v, ok := answers.Get(q.ID)
	if !ok {
		return false
	}
	return Present(q, v)
}

// Present applies the per-type presence rule to a single value.
func Present(q domain.Question, v any) bool {
	switch q.Type {
	case domain.QuestionNumber:
		_, ok := NumberValue(v)
		return ok
	case domain.QuestionChoice:
		s, ok := v.(string)
		if !ok {
			return false
		}
		for _, opt := range q.Options {
			if opt == s {
				return true
			}
		}
		return false
	case domain.QuestionDate:
		s, ok := v.(string)
		if !ok {
			return false
		}
		_, err := time.Parse(DateLayout, strings.TrimSpace(s))
		return err == nil
	default:
		s, ok := v.(string)
		if !ok {
			return v != nil
		}
		return strings.TrimSpace(s) != ""
	}
}

// NumberValue extracts a finite number from the shapes a number answer can
// take after JSON decoding or widget parsing.
func NumberValue(v any) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case json.Number:
		parsed, err := t.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// ParseInput converts raw widget text into the value stored for q. ok is
// false when the text cannot represent an answer of q's type.
func ParseInput(q domain.Question, raw string) (any, bool) {
	switch q.Type {
	case domain.QuestionNumber:
		return NumberValue(raw)
	case domain.QuestionDate:
		trimmed := strings.TrimSpace(raw)
		if _, err := time.Parse(DateLayout, trimmed); err != nil {
			return nil, false
		}
		return trimmed, true
	case domain.QuestionChoice:
		for _, opt := range q.Options {
			if opt == raw {
				return opt, true
			}
		}
		// numbered pick, 1-based
		if n, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil && n >= 1 && n <= len(q.Options) {
			return q.Options[n-1], true
		}
		return nil, false
	default:
		return raw, raw != ""
	}
}

// NormalizeValue coerces a decoded JSON value into the canonical stored shape
// for q: numbers become float64 and dates lose surrounding spaces. Values it
// cannot interpret come back untouched and fail Present.
func NormalizeValue(q domain.Question, v any) any {
	switch q.Type {
	case domain.QuestionNumber:
		if f, ok := NumberValue(v); ok {
			return f
		}
	case domain.QuestionDate:
		if s, ok := v.(string); ok {
			return strings.TrimSpace(s)
		}
	}
	return v
}

// MissingAnswersError names every required question that blocks a transition.
type MissingAnswersError struct {
	Questions []domain.Question
}

func (e *MissingAnswersError) Error() string {
	parts := make([]string, 0, len(e.Questions))
	for _, q := range e.Questions {
		parts = append(parts, fmt.Sprintf("%q", q.Text))
	}
	if len(parts) == 1 {
		return fmt.Sprintf("required question %s is not answered", parts[0])
	}
	return fmt.Sprintf("required questions not answered: %s", strings.Join(parts, ", "))
}

// QuestionIDs returns the ids of the blocking questions.
func (e *MissingAnswersError) QuestionIDs() []string {
	ids := make([]string, 0, len(e.Questions))
	for _, q := range e.Questions {
		ids = append(ids, q.ID)
	}
	return ids
}

func missingError(t *domain.Template, ids []string) *MissingAnswersError {
	err := &MissingAnswersError{}
	for _, id := range ids {
		if q, ok := t.QuestionByID(id); ok {
			err.Questions = append(err.Questions, q)
		}
	}
	return err
}
