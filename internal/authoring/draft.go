package authoring

import (
	"errors"
	"fmt"
	"strings"

	"reportline/internal/domain"
)

var (
	ErrLastQuestion = errors.New("You need at least one question")
	ErrLastOption   = errors.New("You need at least one option for choice questions")
	ErrOutOfRange   = errors.New("index out of range")
	ErrNotChoice    = errors.New("options are only allowed on choice questions")
)

// DraftError is the first structural defect ValidateForSave finds. Index is
// the zero-based question position, or -1 for template-level fields.
type DraftError struct {
	Index   int
	Field   string
	Message string
}

func (e *DraftError) Error() string { return e.Message }

// QuestionDraft is one editable question. ID is empty for questions that have
// never been saved.
type QuestionDraft struct {
	ID       string              `json:"id,omitempty" yaml:"id,omitempty"`
	Text     string              `json:"text" yaml:"text"`
	Type     domain.QuestionType `json:"type" yaml:"type"`
	Required bool                `json:"required" yaml:"required"`
	Options  []string            `json:"options,omitempty" yaml:"options,omitempty"`
}

// Draft is the ordered, in-memory question list an author edits before save.
// List position is authoritative for order_index.
type Draft struct {
	Title       string
	Description string
	questions   []QuestionDraft
}

func newQuestion() QuestionDraft {
	return QuestionDraft{Type: domain.QuestionText, Required: true, Options: []string{}}
}

// NewDraft starts a blank template with a single required text question.
func NewDraft() *Draft {
	return &Draft{questions: []QuestionDraft{newQuestion()}}
}

// FromTemplate loads a saved template for editing. Question ids are kept so an
// update can preserve them.
func FromTemplate(t *domain.Template) *Draft {
	d := &Draft{}
	if t == nil {
		return NewDraft()
	}
	d.Title = t.Title
	d.Description = t.Description
	for _, q := range domain.SortedQuestions(t) {
		d.questions = append(d.questions, QuestionDraft{
			ID:       q.ID,
			Text:     q.Text,
			Type:     q.Type,
			Required: q.Required,
			Options:  append([]string{}, q.Options...),
		})
	}
	return d
}

// FromQuestions builds a draft from already-shaped question drafts, as an
// import or an HTTP body would provide. Missing types default to text.
func FromQuestions(title, description string, questions []QuestionDraft) *Draft {
	d := &Draft{Title: title, Description: description}
	for _, q := range questions {
		if q.Type == "" {
			q.Type = domain.QuestionText
		}
		q.Options = append([]string{}, q.Options...)
		d.questions = append(d.questions, q)
	}
	return d
}

func (d *Draft) Len() int { return len(d.questions) }

// Question returns a copy of the draft at index i.
func (d *Draft) Question(i int) (QuestionDraft, error) {
	if err := d.check(i); err != nil {
		return QuestionDraft{}, err
	}
	q := d.questions[i]
	q.Options = append([]string{}, q.Options...)
	return q, nil
}

func (d *Draft) check(i int) error {
	if i < 0 || i >= len(d.questions) {
		return fmt.Errorf("%w: question %d", ErrOutOfRange, i+1)
	}
	return nil
}

// AddQuestion appends a required text question and returns its index.
func (d *Draft) AddQuestion() int {
	d.questions = append(d.questions, newQuestion())
	return len(d.questions) - 1
}

func (d *Draft) RemoveQuestion(i int) error {
	if err := d.check(i); err != nil {
		return err
	}
	if len(d.questions) == 1 {
		return ErrLastQuestion
	}
	d.questions = append(d.questions[:i], d.questions[i+1:]...)
	return nil
}

// MoveQuestion reorders question from to position to.
func (d *Draft) MoveQuestion(from, to int) error {
	if err := d.check(from); err != nil {
		return err
	}
	if err := d.check(to); err != nil {
		return err
	}
	q := d.questions[from]
	d.questions = append(d.questions[:from], d.questions[from+1:]...)
	d.questions = append(d.questions[:to], append([]QuestionDraft{q}, d.questions[to:]...)...)
	return nil
}

func (d *Draft) SetText(i int, text string) error {
	if err := d.check(i); err != nil {
		return err
	}
	d.questions[i].Text = text
	return nil
}

func (d *Draft) SetRequired(i int, required bool) error {
	if err := d.check(i); err != nil {
		return err
	}
	d.questions[i].Required = required
	return nil
}

// ChangeType switches the question type. Leaving choice drops the options;
// entering choice with no options seeds "Option 1".
func (d *Draft) ChangeType(i int, t domain.QuestionType) error {
	if err := d.check(i); err != nil {
		return err
	}
	if !t.Valid() {
		return fmt.Errorf("%w: unknown question type %q", domain.ErrInvalidInput, t)
	}
	q := &d.questions[i]
	q.Type = t
	if t != domain.QuestionChoice {
		q.Options = []string{}
		return nil
	}
	if len(q.Options) == 0 {
		q.Options = []string{"Option 1"}
	}
	return nil
}

// AddOption appends "Option N" to a choice question and returns its index.
func (d *Draft) AddOption(i int) (int, error) {
	if err := d.check(i); err != nil {
		return 0, err
	}
	q := &d.questions[i]
	if q.Type != domain.QuestionChoice {
		return 0, ErrNotChoice
	}
	q.Options = append(q.Options, fmt.Sprintf("Option %d", len(q.Options)+1))
	return len(q.Options) - 1, nil
}

func (d *Draft) SetOption(i, opt int, text string) error {
	if err := d.check(i); err != nil {
		return err
	}
	q := &d.questions[i]
	if opt < 0 || opt >= len(q.Options) {
		return fmt.Errorf("%w: option %d of question %d", ErrOutOfRange, opt+1, i+1)
	}
	q.Options[opt] = text
	return nil
}

func (d *Draft) RemoveOption(i, opt int) error {
	if err := d.check(i); err != nil {
		return err
	}
	q := &d.questions[i]
	if opt < 0 || opt >= len(q.Options) {
		return fmt.Errorf("%w: option %d of question %d", ErrOutOfRange, opt+1, i+1)
	}
	if q.Type == domain.QuestionChoice && len(q.Options) == 1 {
		return ErrLastOption
	}
	q.Options = append(q.Options[:opt], q.Options[opt+1:]...)
	return nil
}

// ValidateForSave returns the first defect found, checking the title, then the
// description, then each question in order.
func (d *Draft) ValidateForSave() error {
	if strings.TrimSpace(d.Title) == "" {
		return &DraftError{Index: -1, Field: "title", Message: "Please enter a template title"}
	}
	if strings.TrimSpace(d.Description) == "" {
		return &DraftError{Index: -1, Field: "description", Message: "Please enter a template description"}
	}
	if len(d.questions) == 0 {
		return &DraftError{Index: -1, Field: "questions", Message: ErrLastQuestion.Error()}
	}
	for i, q := range d.questions {
		n := i + 1
		if !q.Type.Valid() {
			return &DraftError{Index: i, Field: "type", Message: fmt.Sprintf("Question %d has unknown type %q", n, q.Type)}
		}
		if strings.TrimSpace(q.Text) == "" {
			return &DraftError{Index: i, Field: "text", Message: fmt.Sprintf("Question %d cannot be empty", n)}
		}
		if q.Type != domain.QuestionChoice {
			continue
		}
		if len(q.Options) == 0 {
			return &DraftError{Index: i, Field: "options", Message: fmt.Sprintf("Question %d needs at least one option", n)}
		}
		seen := make(map[string]bool, len(q.Options))
		for j, opt := range q.Options {
			if strings.TrimSpace(opt) == "" {
				return &DraftError{Index: i, Field: "options", Message: fmt.Sprintf("Question %d option %d cannot be empty", n, j+1)}
			}
			if seen[opt] {
				return &DraftError{Index: i, Field: "options", Message: fmt.Sprintf("Question %d has duplicate option %q", n, opt)}
			}
			seen[opt] = true
		}
	}
	return nil
}

// Drafts returns a copy of the question list in order.
func (d *Draft) Drafts() []QuestionDraft {
	out := make([]QuestionDraft, len(d.questions))
	for i, q := range d.questions {
		q.Options = append([]string{}, q.Options...)
		out[i] = q
	}
	return out
}

// Questions renders the draft as template questions. OrderIndex comes from
// list position and replaces whatever the questions carried before.
func (d *Draft) Questions(templateID string) []domain.Question {
	out := make([]domain.Question, len(d.questions))
	for i, q := range d.questions {
		var opts []string
		if q.Type == domain.QuestionChoice {
			opts = append([]string{}, q.Options...)
		}
		out[i] = domain.Question{
			ID:         q.ID,
			TemplateID: templateID,
			Text:       strings.TrimSpace(q.Text),
			Type:       q.Type,
			Required:   q.Required,
			Options:    opts,
			OrderIndex: i,
		}
	}
	return out
}
