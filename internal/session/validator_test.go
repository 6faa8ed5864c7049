package session_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"reportline/internal/domain"
	"reportline/internal/session"
)

func TestPresentPerType(t *testing.T) {
	choice := domain.Question{Type: domain.QuestionChoice, Options: []string{"Yes", "No"}}
	cases := []struct {
		name string
		q    domain.Question
		v    any
		want bool
	}{
		{"text", domain.Question{Type: domain.QuestionText}, "hello", true},
		{"blank text", domain.Question{Type: domain.QuestionText}, "   ", false},
		{"number float", domain.Question{Type: domain.QuestionNumber}, 12.5, true},
		{"number zero", domain.Question{Type: domain.QuestionNumber}, 0.0, true},
		{"number json", domain.Question{Type: domain.QuestionNumber}, json.Number("42"), true},
		{"number string", domain.Question{Type: domain.QuestionNumber}, "abc", false},
		{"choice option", choice, "Yes", true},
		{"choice other", choice, "Maybe", false},
		{"choice wrong type", choice, 1, false},
		{"date iso", domain.Question{Type: domain.QuestionDate}, "2024-03-01", true},
		{"date bad", domain.Question{Type: domain.QuestionDate}, "03/01/2024", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, session.Present(tc.q, tc.v))
		})
	}
}

func TestCanSubmitBlocksOnEveryMissingRequired(t *testing.T) {
	tpl := &domain.Template{Questions: []domain.Question{
		{ID: "b", Type: domain.QuestionText, Required: true, OrderIndex: 1},
		{ID: "a", Type: domain.QuestionDate, Required: true, OrderIndex: 0},
		{ID: "c", Type: domain.QuestionText, OrderIndex: 2},
	}}
	answers := session.NewAnswerStore()
	answers.Set("c", "optional only")
	v := session.CanSubmit(tpl, answers)
	require.False(t, v.OK)
	require.Equal(t, []string{"a", "b"}, v.Missing)

	answers.Set("a", "2024-01-31")
	v = session.CanSubmit(tpl, answers)
	require.Equal(t, []string{"b"}, v.Missing)

	answers.Set("b", "done")
	require.True(t, session.CanSubmit(tpl, answers).OK)
}

func TestParseInputChoiceByNumber(t *testing.T) {
	q := domain.Question{Type: domain.QuestionChoice, Options: []string{"Low", "High"}}
	v, ok := session.ParseInput(q, "2")
	require.True(t, ok)
	require.Equal(t, "High", v)
	_, ok = session.ParseInput(q, "3")
	require.False(t, ok)
}

func TestAnswerStoreListsOnlyPresentValues(t *testing.T) {
	s := session.AnswerStoreFrom([]domain.Answer{{QuestionID: "x", Value: "1"}})
	require.False(t, s.Dirty())
	s.Set("y", "")
	s.Set("z", nil)
	s.Set("w", 3.0)
	require.True(t, s.Dirty())
	require.Equal(t, []domain.Answer{{QuestionID: "w", Value: 3.0}, {QuestionID: "x", Value: "1"}}, s.ToAnswerList())
	_, ok := s.Get("y")
	require.False(t, ok)
}
