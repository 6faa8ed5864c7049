package session

import (
	"sort"

	"reportline/internal/domain"
)

// AnswerStore holds the in-progress answer for each question of one editing
// session. It does no type checking; the validator decides what counts.
type AnswerStore struct {
	values map[string]any
	dirty  bool
}

func NewAnswerStore() *AnswerStore {
	return &AnswerStore{values: map[string]any{}}
}

// AnswerStoreFrom pre-populates a store from a persisted answer set.
func AnswerStoreFrom(answers []domain.Answer) *AnswerStore {
	s := NewAnswerStore()
	for _, a := range answers {
		if a.QuestionID == "" {
			continue
		}
		s.values[a.QuestionID] = a.Value
	}
	return s
}

func (s *AnswerStore) Get(questionID string) (any, bool) {
	v, ok := s.values[questionID]
	if !ok || !hasValue(v) {
		return nil, false
	}
	return v, true
}

func (s *AnswerStore) Set(questionID string, value any) {
	s.values[questionID] = value
	s.dirty = true
}

func (s *AnswerStore) Clear(questionID string) {
	if _, ok := s.values[questionID]; ok {
		delete(s.values, questionID)
		s.dirty = true
	}
}

// Dirty reports whether the store changed since it was created.
func (s *AnswerStore) Dirty() bool { return s.dirty }

func (s *AnswerStore) Len() int { return len(s.ToAnswerList()) }

// ToAnswerList returns every answer with a present value, ordered by
// question id so repeated calls are comparable.
func (s *AnswerStore) ToAnswerList() []domain.Answer {
	ids := make([]string, 0, len(s.values))
	for id, v := range s.values {
		if hasValue(v) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	out := make([]domain.Answer, 0, len(ids))
	for _, id := range ids {
		out = append(out, domain.Answer{QuestionID: id, Value: s.values[id]})
	}
	return out
}

func hasValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != ""
	}
	return true
}
