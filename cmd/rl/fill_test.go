package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"reportline/internal/domain"
	"reportline/internal/session"
)

func weeklyCheck() *domain.Template {
	return &domain.Template{
		ID:    "tpl-weekly",
		Title: "Weekly check",
		Questions: []domain.Question{
			{ID: "q1", TemplateID: "tpl-weekly", Text: "Total sales?", Type: domain.QuestionNumber, Required: true, OrderIndex: 0},
			{ID: "q2", TemplateID: "tpl-weekly", Text: "Shelf state", Type: domain.QuestionChoice, Required: true, Options: []string{"Good", "Bad"}, OrderIndex: 1},
			{ID: "q3", TemplateID: "tpl-weekly", Text: "Notes", Type: domain.QuestionText, OrderIndex: 2},
		},
	}
}

type captureSubmitter struct {
	subs []session.Submission
	err  error
}

func (c *captureSubmitter) SubmitReport(_ context.Context, sub session.Submission) (domain.Report, error) {
	c.subs = append(c.subs, sub)
	if c.err != nil {
		return domain.Report{}, c.err
	}
	return domain.Report{ID: "rep-1", TemplateID: sub.TemplateID, StoreID: sub.StoreID, Completed: true, Answers: sub.Answers}, nil
}

func answerMap(answers []domain.Answer) map[string]any {
	out := make(map[string]any, len(answers))
	for _, a := range answers {
		out[a.QuestionID] = a.Value
	}
	return out
}

func TestFillWalksQuestionsAndSubmits(t *testing.T) {
	s, err := session.NewCreate(weeklyCheck(), "store-1")
	require.NoError(t, err)
	sub := &captureSubmitter{}
	input := strings.Join([]string{
		"",    // required, blocks
		"abc", // not a number
		"120",
		":prev",
		"", // keeps 120
		"2",
		"", // optional
		":jump 3",
		"restocked aisle 4",
		":submit",
	}, "\n") + "\n"
	var out bytes.Buffer

	r, err := fill(context.Background(), strings.NewReader(input), &out, s, sub)
	require.NoError(t, err)
	require.Equal(t, "rep-1", r.ID)
	require.Len(t, sub.subs, 1)
	require.Equal(t, "store-1", sub.subs[0].StoreID)
	require.Equal(t, map[string]any{
		"q1": float64(120),
		"q2": "Bad",
		"q3": "restocked aisle 4",
	}, answerMap(sub.subs[0].Answers))

	printed := out.String()
	require.Contains(t, printed, `required question "Total sales?" is not answered`)
	require.Contains(t, printed, "current: 120")
	require.Contains(t, printed, "2) Bad")
	require.Contains(t, printed, "Review")
}

func TestFillSubmitOnlyFromReview(t *testing.T) {
	s, err := session.NewCreate(weeklyCheck(), "store-1")
	require.NoError(t, err)
	sub := &captureSubmitter{}
	input := ":submit\n:quit\n"
	var out bytes.Buffer

	_, err = fill(context.Background(), strings.NewReader(input), &out, s, sub)
	require.ErrorIs(t, err, errFillAborted)
	require.Empty(t, sub.subs)
	require.Contains(t, out.String(), "submit is only valid in review")
}

func TestFillKeepsAnswersWhenSubmitFails(t *testing.T) {
	s, err := session.NewEdit(weeklyCheck(), domain.Report{
		ID:         "rep-9",
		TemplateID: "tpl-weekly",
		StoreID:    "store-1",
		Answers: []domain.Answer{
			{QuestionID: "q1", Value: float64(80)},
			{QuestionID: "q2", Value: "Good"},
		},
	})
	require.NoError(t, err)
	sub := &captureSubmitter{err: errors.New("disk full")}
	input := "\n\n\n:submit\n"
	var out bytes.Buffer

	_, err = fill(context.Background(), strings.NewReader(input), &out, s, sub)
	require.ErrorIs(t, err, errFillAborted)
	require.Len(t, sub.subs, 1)
	require.Equal(t, "rep-9", sub.subs[0].ReportID)
	require.Contains(t, out.String(), "! disk full")
	require.IsType(t, session.Review{}, s.State())
	v, ok := s.Answers().Get("q1")
	require.True(t, ok)
	require.Equal(t, float64(80), v)
}

func TestAnswerTextFormatsNumbers(t *testing.T) {
	q := domain.Question{ID: "q1", Type: domain.QuestionNumber}
	answers := session.AnswerStoreFrom([]domain.Answer{{QuestionID: "q1", Value: 12.5}})
	require.Equal(t, "12.5", answerText(answers, q))
	require.Equal(t, "", answerText(session.NewAnswerStore(), q))
}
