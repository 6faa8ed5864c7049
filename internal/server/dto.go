package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-playground/validator/v10"

	"reportline/internal/authoring"
	"reportline/internal/domain"
	"reportline/internal/session"
	"reportline/internal/summary"
)

var requestValidate = validator.New()

// validateBody runs the struct's validate tags and maps the first failures
// into a bad_request envelope listing every offending field.
func validateBody(v any) huma.StatusError {
	err := requestValidate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	}
	fields := make([]map[string]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, map[string]string{
			"field": fe.Namespace(),
			"rule":  fe.Tag(),
		})
	}
	return newAPIError(http.StatusBadRequest, "bad_request", "invalid request body", map[string]any{"fields": fields})
}

// Request payloads

type QuestionRequest struct {
	ID       string   `json:"id,omitempty" validate:"omitempty,max=64"`
	Text     string   `json:"text" validate:"max=500"`
	Type     string   `json:"type,omitempty" enum:"text,number,choice,date" validate:"omitempty,oneof=text number choice date"`
	Required bool     `json:"required,omitempty"`
	Options  []string `json:"options,omitempty" validate:"max=50,dive,max=200"`
}

type TemplateRequest struct {
	Title       string            `json:"title" validate:"max=200"`
	Description string            `json:"description" validate:"max=2000"`
	Questions   []QuestionRequest `json:"questions,omitempty" validate:"max=200,dive"`
}

func (r TemplateRequest) draft() *authoring.Draft {
	qs := make([]authoring.QuestionDraft, 0, len(r.Questions))
	for _, q := range r.Questions {
		qs = append(qs, authoring.QuestionDraft{
			ID:       strings.TrimSpace(q.ID),
			Text:     q.Text,
			Type:     domain.QuestionType(q.Type),
			Required: q.Required,
			Options:  q.Options,
		})
	}
	return authoring.FromQuestions(r.Title, r.Description, qs)
}

type StoreRequest struct {
	Name     string `json:"name" validate:"required,max=200"`
	Location string `json:"location,omitempty" validate:"max=200"`
	Manager  string `json:"manager,omitempty" validate:"max=200"`
}

type AssignTemplateRequest struct {
	TemplateID string `json:"template_id" validate:"required"`
}

// StartSessionRequest opens a create session (store_id, template_id), resumes
// a store's assigned report (store_id only) or edits a report (report_id).
type StartSessionRequest struct {
	StoreID    string `json:"store_id,omitempty"`
	TemplateID string `json:"template_id,omitempty"`
	ReportID   string `json:"report_id,omitempty"`
}

// AnswerRequest sets one answer. Input is raw text parsed by question type;
// otherwise Value is stored as given.
type AnswerRequest struct {
	Value any     `json:"value,omitempty"`
	Input *string `json:"input,omitempty"`
}

type JumpRequest struct {
	Index int `json:"index" minimum:"0" validate:"gte=0"`
}

type SummaryRequest struct {
	Mode     string            `json:"mode,omitempty" enum:"summary,chat" validate:"omitempty,oneof=summary chat"`
	Messages []summary.Message `json:"messages,omitempty" validate:"max=100,dive"`
	StoreIDs []string          `json:"store_ids,omitempty"`
	From     string            `json:"from,omitempty" doc:"RFC3339 or YYYY-MM-DD"`
	To       string            `json:"to,omitempty" doc:"RFC3339 or YYYY-MM-DD"`
}

type CreateAPIKeyRequest struct {
	Name string `json:"name,omitempty" validate:"max=100"`
}

// Responses

type SessionResponse struct {
	ID         string            `json:"id"`
	State      string            `json:"state" enum:"guided,review,submitting,submitted"`
	Index      *int              `json:"index,omitempty"`
	TemplateID string            `json:"template_id"`
	StoreID    string            `json:"store_id"`
	ReportID   string            `json:"report_id,omitempty"`
	Editing    bool              `json:"editing"`
	Current    *domain.Question  `json:"current,omitempty"`
	Questions  []domain.Question `json:"questions"`
	Answers    []domain.Answer   `json:"answers"`
	CanSubmit  bool              `json:"can_submit"`
	Missing    []string          `json:"missing"`
}

func sessionResponse(id string, s *session.Session) SessionResponse {
	verdict := s.Verdict()
	resp := SessionResponse{
		ID:         id,
		State:      s.State().Name(),
		TemplateID: s.Template().ID,
		StoreID:    s.StoreID(),
		ReportID:   s.ReportID(),
		Editing:    s.Editing(),
		Questions:  nonNilSlice(s.Questions()),
		Answers:    nonNilSlice(s.Answers().ToAnswerList()),
		CanSubmit:  verdict.OK,
		Missing:    nonNilSlice(verdict.Missing),
	}
	if g, ok := s.State().(session.Guided); ok {
		idx := g.Index
		resp.Index = &idx
	}
	if q, ok := s.Current(); ok {
		resp.Current = &q
	}
	return resp
}

type SubmitResponse struct {
	Report  domain.Report `json:"report"`
	Created bool          `json:"created"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	Key       string `json:"key,omitempty" doc:"Returned once, on creation"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

func apiKeyResponse(k domain.APIKey, raw string) APIKeyResponse {
	return APIKeyResponse{ID: k.ID, UserID: k.UserID, Name: k.Name, Key: raw, CreatedAt: k.CreatedAt}
}

type WhoAmIResponse struct {
	UserID string `json:"user_id"`
	Source string `json:"source"`
}

type paginatedEvents struct {
	Items      []domain.Event `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

func nonNilSlice[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
