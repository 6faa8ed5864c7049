package domain

import "testing"

func TestSortedQuestionsStable(t *testing.T) {
	tpl := &Template{Questions: []Question{
		{ID: "c", OrderIndex: 2},
		{ID: "a", OrderIndex: 0},
		{ID: "b1", OrderIndex: 1},
		{ID: "b2", OrderIndex: 1},
	}}
	got := SortedQuestions(tpl)
	want := []string{"a", "b1", "b2", "c"}
	for i, q := range got {
		if q.ID != want[i] {
			t.Fatalf("position %d: got %s want %s", i, q.ID, want[i])
		}
	}
	if tpl.Questions[0].ID != "c" {
		t.Fatalf("template questions reordered in place")
	}
}

func TestRequiredQuestions(t *testing.T) {
	tpl := &Template{Questions: []Question{
		{ID: "opt", OrderIndex: 0},
		{ID: "req", OrderIndex: 1, Required: true},
	}}
	got := RequiredQuestions(tpl)
	if len(got) != 1 || got[0].ID != "req" {
		t.Fatalf("unexpected required set: %+v", got)
	}
	if RequiredQuestions(nil) != nil {
		t.Fatalf("nil template should have no required questions")
	}
}

func TestQuestionTypeValid(t *testing.T) {
	for _, qt := range []QuestionType{QuestionText, QuestionNumber, QuestionChoice, QuestionDate} {
		if !qt.Valid() {
			t.Fatalf("%s should be valid", qt)
		}
	}
	if QuestionType("rating").Valid() {
		t.Fatalf("rating should be invalid")
	}
}
