package summary

import (
	"encoding/json"
	"fmt"
	"sort"

	"reportline/internal/domain"
)

const noAnswer = "No answer provided"

type StoreData struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Location string `json:"location"`
	Manager  string `json:"manager"`
}

type AnswerData struct {
	Question     string `json:"question"`
	QuestionType string `json:"question_type"`
	Answer       any    `json:"answer"`
}

type ReportData struct {
	ID           string       `json:"id"`
	StoreID      string       `json:"store_id"`
	StoreName    string       `json:"store_name"`
	SubmittedAt  *string      `json:"submitted_at"`
	TemplateName string       `json:"template_name"`
	Answers      []AnswerData `json:"answers"`
	Completed    bool         `json:"completed"`
}

type Analytics struct {
	TotalReports       int            `json:"totalReports"`
	CompletedReports   int            `json:"completedReports"`
	StoresWithReports  int            `json:"storesWithReports"`
	ReportsByStore     map[string]int `json:"reportsByStore"`
	ReportsWithAnswers int            `json:"reportsWithAnswers"`
	TotalAnswersCount  int            `json:"totalAnswersCount"`
}

// Payload is the read-only context handed to a Generator.
type Payload struct {
	Stores    []StoreData  `json:"storeData"`
	Reports   []ReportData `json:"reportData"`
	Analytics Analytics    `json:"reportAnalytics"`
}

// BuildPayload flattens stores and reports into generator context. Questions
// are resolved through templates; answers whose question is gone are kept
// under "Unknown question".
func BuildPayload(stores []domain.Store, reports []domain.Report, templates map[string]domain.Template) Payload {
	p := Payload{
		Stores:  make([]StoreData, 0, len(stores)),
		Reports: make([]ReportData, 0, len(reports)),
		Analytics: Analytics{
			TotalReports:   len(reports),
			ReportsByStore: make(map[string]int, len(stores)),
		},
	}
	storeNames := make(map[string]string, len(stores))
	for _, s := range stores {
		p.Stores = append(p.Stores, StoreData{ID: s.ID, Name: s.Name, Location: s.Location, Manager: s.Manager})
		storeNames[s.ID] = s.Name
		p.Analytics.ReportsByStore[s.Name] = 0
	}
	withReports := map[string]struct{}{}
	for _, r := range reports {
		withReports[r.StoreID] = struct{}{}
		if r.Completed {
			p.Analytics.CompletedReports++
		}
		if len(r.Answers) > 0 {
			p.Analytics.ReportsWithAnswers++
		}
		p.Analytics.TotalAnswersCount += len(r.Answers)
		storeName, ok := storeNames[r.StoreID]
		if ok {
			p.Analytics.ReportsByStore[storeName]++
		} else {
			storeName = "Unknown store"
		}
		tpl, hasTpl := templates[r.TemplateID]
		rd := ReportData{
			ID:           r.ID,
			StoreID:      r.StoreID,
			StoreName:    storeName,
			SubmittedAt:  r.SubmittedAt,
			TemplateName: "Unknown template",
			Answers:      make([]AnswerData, 0, len(r.Answers)),
			Completed:    r.Completed,
		}
		if hasTpl {
			rd.TemplateName = tpl.Title
		}
		for _, a := range orderAnswers(&tpl, r.Answers) {
			ad := AnswerData{Question: "Unknown question", QuestionType: string(domain.QuestionText), Answer: formatValue(a.Value)}
			if q, ok := tpl.QuestionByID(a.QuestionID); ok && hasTpl {
				ad.Question = q.Text
				ad.QuestionType = string(q.Type)
			}
			rd.Answers = append(rd.Answers, ad)
		}
		p.Reports = append(p.Reports, rd)
	}
	p.Analytics.StoresWithReports = len(withReports)
	return p
}

// orderAnswers sorts answers into the template's question order, unknown
// questions last.
func orderAnswers(t *domain.Template, answers []domain.Answer) []domain.Answer {
	pos := map[string]int{}
	for _, q := range t.Questions {
		pos[q.ID] = q.OrderIndex
	}
	out := append([]domain.Answer(nil), answers...)
	sort.SliceStable(out, func(i, j int) bool {
		pi, iok := pos[out[i].QuestionID]
		pj, jok := pos[out[j].QuestionID]
		if iok != jok {
			return iok
		}
		return pi < pj
	})
	return out
}

func formatValue(v any) any {
	switch t := v.(type) {
	case nil:
		return noAnswer
	case string:
		if t == "" {
			return noAnswer
		}
		return t
	case float64, bool:
		return t
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(data)
	}
}

// contextMessage renders the payload the way the model sees it.
func contextMessage(p Payload) (string, error) {
	stores, err := json.Marshal(p.Stores)
	if err != nil {
		return "", err
	}
	reports, err := json.Marshal(p.Reports)
	if err != nil {
		return "", err
	}
	analytics, err := json.Marshal(p.Analytics)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("STORE INFORMATION:\n%s\n\nREPORT INFORMATION:\n%s\n\nREPORT ANALYTICS:\n%s\n", stores, reports, analytics), nil
}
