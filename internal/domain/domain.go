package domain

import (
	"errors"
	"sort"
)

// ErrInvalidInput marks errors caused by the caller's input rather than by
// storage or configuration.
var ErrInvalidInput = errors.New("invalid input")

// QuestionType is the kind of input a question collects.
type QuestionType string

const (
	QuestionText   QuestionType = "text"
	QuestionNumber QuestionType = "number"
	QuestionChoice QuestionType = "choice"
	QuestionDate   QuestionType = "date"
)

// Valid reports whether t is one of the known question types.
func (t QuestionType) Valid() bool {
	switch t {
	case QuestionText, QuestionNumber, QuestionChoice, QuestionDate:
		return true
	}
	return false
}

type Template struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	UserID      string     `json:"user_id"`
	Questions   []Question `json:"questions"`
	CreatedAt   string     `json:"created_at" format:"date-time"`
	UpdatedAt   string     `json:"updated_at" format:"date-time"`
}

type Question struct {
	ID         string       `json:"id"`
	TemplateID string       `json:"template_id"`
	Text       string       `json:"text"`
	Type       QuestionType `json:"type" enum:"text,number,choice,date"`
	Required   bool         `json:"required"`
	Options    []string     `json:"options,omitempty"`
	OrderIndex int          `json:"order_index"`
	CreatedAt  string       `json:"created_at,omitempty" format:"date-time"`
}

// TemplateSummary is a template row with its question count.
type TemplateSummary struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	Description   string `json:"description"`
	UserID        string `json:"user_id"`
	QuestionCount int    `json:"question_count"`
	CreatedAt     string `json:"created_at" format:"date-time"`
	UpdatedAt     string `json:"updated_at" format:"date-time"`
}

type Store struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Location  string `json:"location"`
	Manager   string `json:"manager"`
	UserID    string `json:"user_id"`
	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

type Report struct {
	ID          string   `json:"id"`
	TemplateID  string   `json:"template_id"`
	StoreID     string   `json:"store_id"`
	UserID      string   `json:"user_id"`
	Completed   bool     `json:"completed"`
	SubmittedAt *string  `json:"submitted_at,omitempty" format:"date-time"`
	Answers     []Answer `json:"answers,omitempty"`
	CreatedAt   string   `json:"created_at" format:"date-time"`
	UpdatedAt   string   `json:"updated_at" format:"date-time"`
}

// Answer is one question's value within a report. Value holds a string for
// text, choice and date questions and a float64 for number questions.
type Answer struct {
	QuestionID string `json:"question_id"`
	Value      any    `json:"value"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// SortedQuestions returns the template's questions ordered by OrderIndex.
// Ties keep their original relative order.
func SortedQuestions(t *Template) []Question {
	if t == nil {
		return nil
	}
	out := make([]Question, len(t.Questions))
	copy(out, t.Questions)
	sort.SliceStable(out, func(i, j int) bool { return out[i].OrderIndex < out[j].OrderIndex })
	return out
}

// RequiredQuestions returns the questions that must be answered before submit.
func RequiredQuestions(t *Template) []Question {
	var out []Question
	for _, q := range SortedQuestions(t) {
		if q.Required {
			out = append(out, q)
		}
	}
	return out
}

// QuestionByID looks up a question of the template.
func (t *Template) QuestionByID(id string) (Question, bool) {
	if t == nil {
		return Question{}, false
	}
	for _, q := range t.Questions {
		if q.ID == id {
			return q, true
		}
	}
	return Question{}, false
}
