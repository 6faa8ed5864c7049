package summary

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"reportline/internal/domain"
	"reportline/internal/repo"
)

type fakeSource struct {
	stores    []domain.Store
	reports   []domain.Report
	templates map[string]domain.Template
}

func (f fakeSource) ListStores(context.Context) ([]domain.Store, error) { return f.stores, nil }

func (f fakeSource) ListReports(_ context.Context, filters repo.ReportFilters) ([]domain.Report, error) {
	if !filters.IncludeAnswers {
		return nil, errors.New("answers must be loaded")
	}
	return f.reports, nil
}

func (f fakeSource) GetTemplate(_ context.Context, id string) (domain.Template, error) {
	t, ok := f.templates[id]
	if !ok {
		return domain.Template{}, repo.ErrNotFound
	}
	return t, nil
}

type fakeGenerator struct {
	reply Message
	err   error
	delay time.Duration
	got   Request
}

func (g *fakeGenerator) Generate(ctx context.Context, req Request) (Message, error) {
	g.got = req
	if g.delay > 0 {
		select {
		case <-time.After(g.delay):
		case <-ctx.Done():
			return Message{}, ctx.Err()
		}
	}
	return g.reply, g.err
}

func submitted(ts string) *string { return &ts }

func fixture() fakeSource {
	tpl := domain.Template{ID: "tpl", Title: "Daily Sales", Questions: []domain.Question{
		{ID: "q-sales", Text: "Total sales?", Type: domain.QuestionNumber, OrderIndex: 0},
		{ID: "q-notes", Text: "Comments", Type: domain.QuestionText, OrderIndex: 1},
	}}
	return fakeSource{
		stores: []domain.Store{
			{ID: "s1", Name: "Downtown", Location: "Main St", Manager: "Ana"},
			{ID: "s2", Name: "Harbor", Location: "Pier 4", Manager: "Ben"},
		},
		reports: []domain.Report{
			{ID: "r1", TemplateID: "tpl", StoreID: "s1", Completed: true, SubmittedAt: submitted("2024-03-01T18:00:00Z"),
				Answers: []domain.Answer{{QuestionID: "q-notes", Value: "busy"}, {QuestionID: "q-sales", Value: 8750.0}}},
			{ID: "r2", TemplateID: "gone", StoreID: "s1", Completed: false},
			{ID: "r3", TemplateID: "tpl", StoreID: "s2", Completed: true, SubmittedAt: submitted("2024-04-01T18:00:00Z"),
				Answers: []domain.Answer{{QuestionID: "q-sales", Value: 120.0}}},
		},
		templates: map[string]domain.Template{"tpl": tpl},
	}
}

func TestBuildPayloadAnalytics(t *testing.T) {
	src := fixture()
	p := BuildPayload(src.stores, src.reports, src.templates)
	require.Equal(t, Analytics{
		TotalReports:       3,
		CompletedReports:   2,
		StoresWithReports:  2,
		ReportsByStore:     map[string]int{"Downtown": 2, "Harbor": 1},
		ReportsWithAnswers: 2,
		TotalAnswersCount:  3,
	}, p.Analytics)

	r1 := p.Reports[0]
	require.Equal(t, "Daily Sales", r1.TemplateName)
	require.Equal(t, "Downtown", r1.StoreName)
	require.Equal(t, []AnswerData{
		{Question: "Total sales?", QuestionType: "number", Answer: 8750.0},
		{Question: "Comments", QuestionType: "text", Answer: "busy"},
	}, r1.Answers)
	require.Equal(t, "Unknown template", p.Reports[1].TemplateName)
	require.Empty(t, p.Reports[1].Answers)
}

func TestSummarizeFiltersStoresAndDates(t *testing.T) {
	gen := &fakeGenerator{reply: Message{Role: "assistant", Content: "Harbor is quiet."}}
	svc := Service{Source: fixture(), Generator: gen}

	msg, err := svc.Summarize(context.Background(), "", nil, Filter{StoreIDs: []string{"s2"}})
	require.NoError(t, err)
	require.Equal(t, "Harbor is quiet.", msg.Content)
	require.Equal(t, ModeSummary, gen.got.Mode)
	require.Len(t, gen.got.Payload.Stores, 1)
	require.Len(t, gen.got.Payload.Reports, 1)

	from := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	_, err = svc.Summarize(context.Background(), ModeChat, []Message{{Role: "user", Content: "How did sales go?"}}, Filter{From: from})
	require.NoError(t, err)
	require.Len(t, gen.got.Payload.Reports, 1)
	require.Equal(t, "r3", gen.got.Payload.Reports[0].ID)
}

func TestSummarizeDegradesGracefully(t *testing.T) {
	src := fixture()
	before := len(src.reports[0].Answers)

	_, err := Service{Source: src, Generator: &fakeGenerator{reply: Message{Content: "   "}}}.
		Summarize(context.Background(), ModeSummary, nil, Filter{})
	require.ErrorIs(t, err, ErrEmptySummary)

	boom := errors.New("rate limited")
	_, err = Service{Source: src, Generator: &fakeGenerator{err: boom}}.
		Summarize(context.Background(), ModeSummary, nil, Filter{})
	require.ErrorIs(t, err, boom)

	_, err = Service{Source: src, Generator: &fakeGenerator{delay: time.Second}, Timeout: 10 * time.Millisecond}.
		Summarize(context.Background(), ModeSummary, nil, Filter{})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.Len(t, src.reports[0].Answers, before)
	require.Equal(t, "q-notes", src.reports[0].Answers[0].QuestionID)
}

func TestSummarizeRejectsUnknownMode(t *testing.T) {
	_, err := Service{Source: fixture(), Generator: &fakeGenerator{}}.
		Summarize(context.Background(), Mode("poem"), nil, Filter{})
	require.Error(t, err)
}

func TestChatMessagesIncludeContext(t *testing.T) {
	src := fixture()
	msgs, err := chatMessages(Request{Mode: ModeChat, Payload: BuildPayload(src.stores, src.reports, src.templates),
		Messages: []Message{{Role: "user", Content: "Which store sold most?"}}})
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	require.Equal(t, chatPrompt, msgs[0].Content)
	require.True(t, strings.Contains(msgs[1].Content, "Downtown"))
	require.Equal(t, "Which store sold most?", msgs[2].Content)
}

func TestNewOpenAIGeneratorNeedsKey(t *testing.T) {
	_, err := NewOpenAIGenerator(OpenAIConfig{})
	require.Error(t, err)
	g, err := NewOpenAIGenerator(OpenAIConfig{APIKey: "sk-test"})
	require.NoError(t, err)
	require.Equal(t, "gpt-4o-mini", g.model)
}
