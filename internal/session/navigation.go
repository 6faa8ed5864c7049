package session

import (
	"fmt"

	"reportline/internal/domain"
)

// State is the navigation position of a session. It is one of Guided, Review,
// Submitting or Submitted.
type State interface {
	Name() string
	isState()
}

// Guided shows one question at a time.
type Guided struct {
	Index int `json:"index"`
}

// Review shows every question at once and is the only state that may submit.
type Review struct{}

// Submitting is held while the submission transaction runs. Every other
// action is rejected until it completes.
type Submitting struct{}

// Submitted is terminal; the session should be discarded.
type Submitted struct {
	ReportID string `json:"report_id"`
}

func (Guided) Name() string     { return "guided" }
func (Review) Name() string     { return "review" }
func (Submitting) Name() string { return "submitting" }
func (Submitted) Name() string  { return "submitted" }

func (Guided) isState()     {}
func (Review) isState()     {}
func (Submitting) isState() {}
func (Submitted) isState()  {}

func initialState(questionCount int) State {
	if questionCount == 0 {
		return Review{}
	}
	return Guided{Index: 0}
}

// guard rejects any action while a submission is pending or done.
func (s *Session) guard(action string) error {
	switch s.state.(type) {
	case Submitting:
		return ErrSubmitting
	case Submitted:
		return fmt.Errorf("%w: %s after submit", ErrIllegalTransition, action)
	}
	return nil
}

// Next advances guided mode. The current question must be answered when it is
// required. Leaving the last question enters Review.
func (s *Session) Next() error {
	if err := s.guard("next"); err != nil {
		return err
	}
	g, ok := s.state.(Guided)
	if !ok {
		return fmt.Errorf("%w: next is only valid in guided mode", ErrIllegalTransition)
	}
	q := s.questions[g.Index]
	if !CanAdvance(q, s.answers) {
		return &MissingAnswersError{Questions: []domain.Question{q}}
	}
	if g.Index == len(s.questions)-1 {
		s.state = Review{}
		return nil
	}
	s.state = Guided{Index: g.Index + 1}
	return nil
}

// Previous steps back one question in guided mode.
func (s *Session) Previous() error {
	if err := s.guard("previous"); err != nil {
		return err
	}
	g, ok := s.state.(Guided)
	if !ok {
		return fmt.Errorf("%w: previous is only valid in guided mode", ErrIllegalTransition)
	}
	if g.Index == 0 {
		return fmt.Errorf("%w: already at the first question", ErrIllegalTransition)
	}
	s.state = Guided{Index: g.Index - 1}
	return nil
}

// BackToGuided leaves Review for the last question.
func (s *Session) BackToGuided() error {
	if err := s.guard("back to guided"); err != nil {
		return err
	}
	if _, ok := s.state.(Review); !ok {
		return fmt.Errorf("%w: not in review", ErrIllegalTransition)
	}
	if len(s.questions) == 0 {
		return fmt.Errorf("%w: template has no questions", ErrIllegalTransition)
	}
	s.state = Guided{Index: len(s.questions) - 1}
	return nil
}

// JumpTo revisits an earlier question. Only positions before the current one
// are reachable; Review counts as the position after the last question.
func (s *Session) JumpTo(index int) error {
	if err := s.guard("jump"); err != nil {
		return err
	}
	current := len(s.questions)
	if g, ok := s.state.(Guided); ok {
		current = g.Index
	}
	if index < 0 || index >= current {
		return fmt.Errorf("%w: cannot jump to question %d from position %d", ErrIllegalTransition, index+1, current+1)
	}
	s.state = Guided{Index: index}
	return nil
}
