package reportlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal Reportline HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  10 * time.Second,
	}
}

// QuestionInput is one question of a template create or update. Keep ID on
// update to preserve the question.
type QuestionInput struct {
	ID       string   `json:"id,omitempty"`
	Text     string   `json:"text"`
	Type     string   `json:"type,omitempty"`
	Required bool     `json:"required,omitempty"`
	Options  []string `json:"options,omitempty"`
}

type TemplateInput struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Questions   []QuestionInput `json:"questions,omitempty"`
}

type Question struct {
	ID         string   `json:"id"`
	Text       string   `json:"text"`
	Type       string   `json:"type"`
	Required   bool     `json:"required"`
	Options    []string `json:"options,omitempty"`
	OrderIndex int      `json:"order_index"`
}

type Template struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Questions   []Question `json:"questions"`
	UpdatedAt   string     `json:"updated_at"`
}

type StoreInput struct {
	Name     string `json:"name"`
	Location string `json:"location,omitempty"`
	Manager  string `json:"manager,omitempty"`
}

type Store struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Location string `json:"location"`
	Manager  string `json:"manager"`
}

type Answer struct {
	QuestionID string `json:"question_id"`
	Value      any    `json:"value"`
}

type Report struct {
	ID          string   `json:"id"`
	TemplateID  string   `json:"template_id"`
	StoreID     string   `json:"store_id"`
	Completed   bool     `json:"completed"`
	SubmittedAt *string  `json:"submitted_at,omitempty"`
	Answers     []Answer `json:"answers,omitempty"`
}

// Session is the server-side state of a report being filled.
type Session struct {
	ID         string     `json:"id"`
	State      string     `json:"state"`
	Index      *int       `json:"index,omitempty"`
	TemplateID string     `json:"template_id"`
	StoreID    string     `json:"store_id"`
	ReportID   string     `json:"report_id,omitempty"`
	Current    *Question  `json:"current,omitempty"`
	Answers    []Answer   `json:"answers"`
	CanSubmit  bool       `json:"can_submit"`
	Missing    []string   `json:"missing"`
	Questions  []Question `json:"questions"`
}

type SubmitResult struct {
	Report  Report `json:"report"`
	Created bool   `json:"created"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses. Code and Message come from the error
// envelope when the body carries one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

func (c *Client) CreateTemplate(ctx context.Context, in TemplateInput) (Template, error) {
	var resp Template
	err := c.do(ctx, http.MethodPost, "templates", in, &resp)
	return resp, err
}

// UpdateTemplate replaces the template's questions.
func (c *Client) UpdateTemplate(ctx context.Context, id string, in TemplateInput) (Template, error) {
	var resp Template
	err := c.do(ctx, http.MethodPut, "templates/"+url.PathEscape(id), in, &resp)
	return resp, err
}

func (c *Client) GetTemplate(ctx context.Context, id string) (Template, error) {
	var resp Template
	err := c.do(ctx, http.MethodGet, "templates/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

func (c *Client) CreateStore(ctx context.Context, in StoreInput) (Store, error) {
	var resp Store
	err := c.do(ctx, http.MethodPost, "stores", in, &resp)
	return resp, err
}

// AssignTemplate gives the store a pending report for the template.
func (c *Client) AssignTemplate(ctx context.Context, storeID, templateID string) (Report, error) {
	var resp Report
	body := map[string]any{"template_id": templateID}
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("stores/%s/assign", url.PathEscape(storeID)), body, &resp)
	return resp, err
}

// StartSession opens a session for a new report. An empty templateID resumes
// the store's assigned report.
func (c *Client) StartSession(ctx context.Context, storeID, templateID string) (Session, error) {
	body := map[string]any{"store_id": storeID}
	if templateID != "" {
		body["template_id"] = templateID
	}
	var resp Session
	err := c.do(ctx, http.MethodPost, "sessions", body, &resp)
	return resp, err
}

// EditReport opens a session over an existing report.
func (c *Client) EditReport(ctx context.Context, reportID string) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodPost, "sessions", map[string]any{"report_id": reportID}, &resp)
	return resp, err
}

// SetAnswer stores a typed value: a number for number questions, a string
// otherwise.
func (c *Client) SetAnswer(ctx context.Context, sessionID, questionID string, value any) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodPut, c.answerPath(sessionID, questionID), map[string]any{"value": value}, &resp)
	return resp, err
}

// SetInput stores raw typed text, parsed by the server for the question type.
func (c *Client) SetInput(ctx context.Context, sessionID, questionID, input string) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodPut, c.answerPath(sessionID, questionID), map[string]any{"input": input}, &resp)
	return resp, err
}

func (c *Client) ClearAnswer(ctx context.Context, sessionID, questionID string) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodDelete, c.answerPath(sessionID, questionID), nil, &resp)
	return resp, err
}

func (c *Client) Next(ctx context.Context, sessionID string) (Session, error) {
	return c.move(ctx, sessionID, "next")
}

func (c *Client) Previous(ctx context.Context, sessionID string) (Session, error) {
	return c.move(ctx, sessionID, "previous")
}

func (c *Client) BackToGuided(ctx context.Context, sessionID string) (Session, error) {
	return c.move(ctx, sessionID, "back")
}

// JumpTo revisits the question at the zero-based index.
func (c *Client) JumpTo(ctx context.Context, sessionID string, index int) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodPost, c.sessionPath(sessionID, "jump"), map[string]any{"index": index}, &resp)
	return resp, err
}

func (c *Client) Submit(ctx context.Context, sessionID string) (SubmitResult, error) {
	var resp SubmitResult
	err := c.do(ctx, http.MethodPost, c.sessionPath(sessionID, "submit"), nil, &resp)
	return resp, err
}

func (c *Client) GetReport(ctx context.Context, id string) (Report, error) {
	var resp Report
	err := c.do(ctx, http.MethodGet, "reports/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) move(ctx context.Context, sessionID, action string) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodPost, c.sessionPath(sessionID, action), nil, &resp)
	return resp, err
}

func (c *Client) sessionPath(id, action string) string {
	return fmt.Sprintf("sessions/%s/%s", url.PathEscape(id), action)
}

func (c *Client) answerPath(sessionID, questionID string) string {
	return fmt.Sprintf("sessions/%s/answers/%s", url.PathEscape(sessionID), url.PathEscape(questionID))
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var reader io.Reader
	if body != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
		reader = &buf
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return decodeAPIError(resp.StatusCode, b)
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func decodeAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Body: string(body)}
	var env struct {
		Error struct {
			Code    string         `json:"code"`
			Message string         `json:"message"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &env) == nil {
		apiErr.Code = env.Error.Code
		apiErr.Message = env.Error.Message
		apiErr.Details = env.Error.Details
	}
	return apiErr
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}
