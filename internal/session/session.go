package session

import (
	"context"
	"errors"
	"fmt"

	"reportline/internal/domain"
)

var (
	// ErrNotReady means the session has no template to drive it.
	ErrNotReady = errors.New("template not loaded")
	// ErrSubmitting rejects actions while a submission is in flight.
	ErrSubmitting = errors.New("submission in progress")
	// ErrIllegalTransition wraps navigation moves the current state forbids.
	ErrIllegalTransition = errors.New("illegal transition")
)

// UnknownQuestionError is returned when an answer names a question that is
// not part of the session's template.
type UnknownQuestionError struct {
	QuestionID string
}

func (e UnknownQuestionError) Error() string {
	return fmt.Sprintf("question %s is not part of this template", e.QuestionID)
}

// InvalidInputError reports input that cannot be an answer of the
// question's type. The previous answer has already been cleared.
type InvalidInputError struct {
	Question domain.Question
	Input    string
}

func (e InvalidInputError) Error() string {
	return fmt.Sprintf("%q is not a valid %s answer for %q", e.Input, e.Question.Type, e.Question.Text)
}

// Submission is the snapshot handed to the storage side. ReportID is empty on
// the create path.
type Submission struct {
	TemplateID string
	StoreID    string
	ReportID   string
	Answers    []domain.Answer
}

// Submitter persists a submission as one atomic unit.
type Submitter interface {
	SubmitReport(ctx context.Context, sub Submission) (domain.Report, error)
}

// Session drives one store report through guided entry, review and submit.
// It is not safe for concurrent use; callers serialize access.
type Session struct {
	template  *domain.Template
	questions []domain.Question
	answers   *AnswerStore
	state     State
	storeID   string
	reportID  string
}

// NewCreate starts a session that will insert a new report for the store.
func NewCreate(t *domain.Template, storeID string) (*Session, error) {
	if t == nil {
		return nil, ErrNotReady
	}
	if storeID == "" {
		return nil, fmt.Errorf("%w: store id required", domain.ErrInvalidInput)
	}
	return newSession(t, storeID, "", NewAnswerStore()), nil
}

// NewEdit starts a session over an existing report. Its answers pre-populate
// the store and submitting replaces them.
func NewEdit(t *domain.Template, report domain.Report) (*Session, error) {
	if t == nil {
		return nil, ErrNotReady
	}
	if report.ID == "" {
		return nil, fmt.Errorf("%w: report id required", domain.ErrInvalidInput)
	}
	if report.TemplateID != t.ID {
		return nil, fmt.Errorf("%w: report %s uses template %s, not %s", domain.ErrInvalidInput, report.ID, report.TemplateID, t.ID)
	}
	return newSession(t, report.StoreID, report.ID, AnswerStoreFrom(report.Answers)), nil
}

func newSession(t *domain.Template, storeID, reportID string, answers *AnswerStore) *Session {
	questions := domain.SortedQuestions(t)
	return &Session{
		template:  t,
		questions: questions,
		answers:   answers,
		state:     initialState(len(questions)),
		storeID:   storeID,
		reportID:  reportID,
	}
}

func (s *Session) Template() *domain.Template   { return s.template }
func (s *Session) Questions() []domain.Question { return s.questions }
func (s *Session) Answers() *AnswerStore         { return s.answers }
func (s *Session) State() State                  { return s.state }
func (s *Session) StoreID() string               { return s.storeID }
func (s *Session) ReportID() string              { return s.reportID }
func (s *Session) Editing() bool                 { return s.reportID != "" }

// Current returns the question shown in guided mode.
func (s *Session) Current() (domain.Question, bool) {
	g, ok := s.state.(Guided)
	if !ok {
		return domain.Question{}, false
	}
	return s.questions[g.Index], true
}

// Verdict runs the validator over the current answers.
func (s *Session) Verdict() Verdict {
	return CanSubmit(s.template, s.answers)
}

// SetAnswer stores an already-typed value for a template question. A nil or
// empty value clears the answer. A value that is not a valid answer of the
// question's type clears it too and returns InvalidInputError.
func (s *Session) SetAnswer(questionID string, value any) error {
	if err := s.guard("answer"); err != nil {
		return err
	}
	q, ok := s.template.QuestionByID(questionID)
	if !ok {
		return UnknownQuestionError{QuestionID: questionID}
	}
	if !hasValue(value) {
		s.answers.Clear(questionID)
		return nil
	}
	v := NormalizeValue(q, value)
	if !Present(q, v) {
		s.answers.Clear(questionID)
		return InvalidInputError{Question: q, Input: fmt.Sprint(value)}
	}
	s.answers.Set(questionID, v)
	return nil
}

// SetInput parses raw widget text for the question. Unparseable input clears
// the answer so it counts as not present.
func (s *Session) SetInput(questionID, raw string) error {
	if err := s.guard("answer"); err != nil {
		return err
	}
	q, ok := s.template.QuestionByID(questionID)
	if !ok {
		return UnknownQuestionError{QuestionID: questionID}
	}
	if raw == "" {
		s.answers.Clear(questionID)
		return nil
	}
	v, ok := ParseInput(q, raw)
	if !ok {
		s.answers.Clear(questionID)
		return InvalidInputError{Question: q, Input: raw}
	}
	s.answers.Set(questionID, v)
	return nil
}

// ClearAnswer removes the answer for a question.
func (s *Session) ClearAnswer(questionID string) error {
	if err := s.guard("clear"); err != nil {
		return err
	}
	if _, ok := s.template.QuestionByID(questionID); !ok {
		return UnknownQuestionError{QuestionID: questionID}
	}
	s.answers.Clear(questionID)
	return nil
}

// BeginSubmit validates, enters Submitting and returns the snapshot to
// persist. Every call must be paired with CompleteSubmit.
func (s *Session) BeginSubmit() (Submission, error) {
	if err := s.guard("submit"); err != nil {
		return Submission{}, err
	}
	if _, ok := s.state.(Review); !ok {
		return Submission{}, fmt.Errorf("%w: submit is only valid in review", ErrIllegalTransition)
	}
	if v := s.Verdict(); !v.OK {
		return Submission{}, missingError(s.template, v.Missing)
	}
	s.state = Submitting{}
	return Submission{
		TemplateID: s.template.ID,
		StoreID:    s.storeID,
		ReportID:   s.reportID,
		Answers:    s.answers.ToAnswerList(),
	}, nil
}

// CompleteSubmit leaves Submitting. On failure the session returns to Review
// with its answers untouched so the user can retry.
func (s *Session) CompleteSubmit(report domain.Report, err error) {
	if _, ok := s.state.(Submitting); !ok {
		return
	}
	if err != nil {
		s.state = Review{}
		return
	}
	s.reportID = report.ID
	s.state = Submitted{ReportID: report.ID}
}

// Submit runs the whole submission through sub.
func (s *Session) Submit(ctx context.Context, sub Submitter) (domain.Report, error) {
	snapshot, err := s.BeginSubmit()
	if err != nil {
		return domain.Report{}, err
	}
	report, err := sub.SubmitReport(ctx, snapshot)
	s.CompleteSubmit(report, err)
	if err != nil {
		return domain.Report{}, err
	}
	return report, nil
}
