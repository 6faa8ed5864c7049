package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"reportline/internal/config"
	"reportline/internal/db"
	"reportline/internal/domain"
	"reportline/internal/engine"
	"reportline/internal/identity"
	"reportline/internal/logger"
	"reportline/internal/migrate"
	"reportline/internal/session"
	"reportline/internal/summary"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestEngine(t *testing.T, cfg *config.Config) engine.Engine {
	t.Helper()
	ctx := context.Background()
	conn, err := db.Open(ctx, db.Config{Driver: db.DriverSQLite, Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(ctx, conn, db.DriverSQLite); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return engine.New(conn, cfg, logger.Nop())
}

func newTestServer(t *testing.T, mutate ...func(*Config)) (*testServer, func()) {
	t.Helper()
	e := newTestEngine(t, config.Default())
	cfg := Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{JWTSecret: testSecret, AllowLegacyUserHeader: true},
	}
	for _, fn := range mutate {
		fn(&cfg)
	}
	handler, err := New(cfg)
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func identityContext(user string) context.Context {
	return identity.WithPrincipal(context.Background(), identity.Principal{UserID: user, Source: "test"})
}

func as(user string) map[string]string {
	return map[string]string{"X-User-Id": user}
}

type errorEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func decodeError(t *testing.T, data []byte) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error: %v: %s", err, string(data))
	}
	return env
}

func dailySalesBody() map[string]any {
	return map[string]any{
		"title":       "Daily Sales",
		"description": "End of day figures",
		"questions": []map[string]any{
			{"text": "Total sales?", "type": "number", "required": true},
			{"text": "Comments", "type": "text"},
		},
	}
}

func createTemplate(t *testing.T, srv *testServer, body map[string]any) domain.Template {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/templates", body, as("alice"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create template status %d: %s", res.StatusCode, string(data))
	}
	var tpl domain.Template
	if err := json.Unmarshal(data, &tpl); err != nil {
		t.Fatalf("unmarshal template: %v", err)
	}
	return tpl
}

func createStore(t *testing.T, srv *testServer, name string) domain.Store {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/stores", map[string]any{"name": name, "location": "Main St"}, as("alice"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create store status %d: %s", res.StatusCode, string(data))
	}
	var s domain.Store
	if err := json.Unmarshal(data, &s); err != nil {
		t.Fatalf("unmarshal store: %v", err)
	}
	return s
}

func TestHealthSkipsAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, _ := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d", res.StatusCode)
	}
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/stores", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", res.StatusCode, string(data))
	}
	if code := decodeError(t, data).Error.Code; code != "unauthorized" {
		t.Fatalf("code = %q", code)
	}
}

func TestLegacyHeaderDisabled(t *testing.T) {
	srv, cleanup := newTestServer(t, func(c *Config) { c.Auth.AllowLegacyUserHeader = false })
	defer cleanup()

	res, _ := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/me", nil, as("alice"))
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.StatusCode)
	}
}

func TestCreateTemplateReportsFirstDraftError(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	body := dailySalesBody()
	body["title"] = "  "
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/templates", body, as("alice"))
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", res.StatusCode, string(data))
	}
	env := decodeError(t, data)
	if env.Error.Code != "validation_failed" || env.Error.Message != "Please enter a template title" {
		t.Fatalf("unexpected error: %+v", env.Error)
	}

	body = dailySalesBody()
	body["questions"] = []map[string]any{{"text": "Pick one", "type": "choice"}}
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/templates", body, as("alice"))
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", res.StatusCode, string(data))
	}
	env = decodeError(t, data)
	if env.Error.Message != "Question 1 needs at least one option" {
		t.Fatalf("message = %q", env.Error.Message)
	}
	if env.Error.Details["question_index"] != float64(0) {
		t.Fatalf("details = %+v", env.Error.Details)
	}

	body = dailySalesBody()
	body["questions"] = []map[string]any{{"text": "Rate", "type": "rating"}}
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/templates", body, as("alice"))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown type, got %d: %s", res.StatusCode, string(data))
	}
}

func TestTemplateLifecycle(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	tpl := createTemplate(t, srv, dailySalesBody())
	if len(tpl.Questions) != 2 || tpl.Questions[0].OrderIndex != 0 || tpl.Questions[1].Text != "Comments" {
		t.Fatalf("unexpected questions: %+v", tpl.Questions)
	}

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/templates", nil, as("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, string(data))
	}
	var list struct {
		Items []domain.TemplateSummary `json:"items"`
	}
	if err := json.Unmarshal(data, &list); err != nil {
		t.Fatalf("unmarshal list: %v", err)
	}
	if len(list.Items) != 1 || list.Items[0].QuestionCount != 2 {
		t.Fatalf("unexpected list: %+v", list.Items)
	}

	update := map[string]any{
		"title":       "Daily Sales v2",
		"description": "End of day figures",
		"questions": []map[string]any{
			{"id": tpl.Questions[1].ID, "text": "Comments", "type": "text"},
			{"id": tpl.Questions[0].ID, "text": "Total sales?", "type": "number", "required": true},
		},
	}
	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/v0/templates/"+tpl.ID, update, as("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("update status %d: %s", res.StatusCode, string(data))
	}
	var updated domain.Template
	if err := json.Unmarshal(data, &updated); err != nil {
		t.Fatalf("unmarshal template: %v", err)
	}
	if updated.Title != "Daily Sales v2" || updated.Questions[0].ID != tpl.Questions[1].ID {
		t.Fatalf("unexpected update: %+v", updated)
	}

	res, _ = doJSON(t, client, http.MethodDelete, srv.URL+"/v0/templates/"+tpl.ID, nil, as("alice"))
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status %d", res.StatusCode)
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/templates/"+tpl.ID, nil, as("alice"))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", res.StatusCode)
	}
}

func startSession(t *testing.T, srv *testServer, user string, body map[string]any) SessionResponse {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/sessions", body, as(user))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("start session status %d: %s", res.StatusCode, string(data))
	}
	var s SessionResponse
	if err := json.Unmarshal(data, &s); err != nil {
		t.Fatalf("unmarshal session: %v", err)
	}
	return s
}

func sessionCall(t *testing.T, srv *testServer, method, path string, body any, want int) []byte {
	t.Helper()
	res, data := doJSON(t, srv.Client(), method, srv.URL+"/v0/sessions/"+path, body, as("alice"))
	if res.StatusCode != want {
		t.Fatalf("%s %s: expected %d, got %d: %s", method, path, want, res.StatusCode, string(data))
	}
	return data
}

func TestSessionGuidedFlowCreatesReport(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	tpl := createTemplate(t, srv, dailySalesBody())
	store := createStore(t, srv, "Downtown")
	s := startSession(t, srv, "alice", map[string]any{"store_id": store.ID, "template_id": tpl.ID})
	if s.State != "guided" || s.Index == nil || *s.Index != 0 || s.CanSubmit {
		t.Fatalf("unexpected initial session: %+v", s)
	}
	salesID := tpl.Questions[0].ID

	data := sessionCall(t, srv, http.MethodPost, s.ID+"/next", nil, http.StatusUnprocessableEntity)
	if env := decodeError(t, data); env.Error.Code != "validation_failed" {
		t.Fatalf("unexpected error: %+v", env.Error)
	}
	data = sessionCall(t, srv, http.MethodPost, s.ID+"/submit", nil, http.StatusConflict)
	if env := decodeError(t, data); env.Error.Code != "illegal_transition" {
		t.Fatalf("unexpected error: %+v", env.Error)
	}

	data = sessionCall(t, srv, http.MethodPut, s.ID+"/answers/"+salesID, map[string]any{"input": "twelve"}, http.StatusUnprocessableEntity)
	if env := decodeError(t, data); env.Error.Details["question_id"] != salesID {
		t.Fatalf("unexpected error: %+v", env.Error)
	}
	sessionCall(t, srv, http.MethodPut, s.ID+"/answers/"+salesID, map[string]any{"input": "8750"}, http.StatusOK)
	sessionCall(t, srv, http.MethodPost, s.ID+"/next", nil, http.StatusOK)
	data = sessionCall(t, srv, http.MethodPost, s.ID+"/next", nil, http.StatusOK)
	var state SessionResponse
	if err := json.Unmarshal(data, &state); err != nil {
		t.Fatalf("unmarshal session: %v", err)
	}
	if state.State != "review" || !state.CanSubmit || state.Index != nil {
		t.Fatalf("expected review, got %+v", state)
	}

	data = sessionCall(t, srv, http.MethodGet, s.ID+"/review", nil, http.StatusOK)
	var review ReviewResponse
	if err := json.Unmarshal(data, &review); err != nil {
		t.Fatalf("unmarshal review: %v", err)
	}
	if len(review.Items) != 2 || !review.Items[0].Answered || review.Items[1].Answered {
		t.Fatalf("unexpected review: %+v", review)
	}

	data = sessionCall(t, srv, http.MethodPost, s.ID+"/submit", nil, http.StatusOK)
	var submitted SubmitResponse
	if err := json.Unmarshal(data, &submitted); err != nil {
		t.Fatalf("unmarshal submit: %v", err)
	}
	if !submitted.Created || !submitted.Report.Completed || submitted.Report.UserID != "alice" {
		t.Fatalf("unexpected report: %+v", submitted)
	}
	if len(submitted.Report.Answers) != 1 || submitted.Report.Answers[0].Value != 8750.0 {
		t.Fatalf("unexpected answers: %+v", submitted.Report.Answers)
	}
	sessionCall(t, srv, http.MethodGet, s.ID, nil, http.StatusNotFound)

	edit := startSession(t, srv, "alice", map[string]any{"report_id": submitted.Report.ID})
	if !edit.Editing || len(edit.Answers) != 1 {
		t.Fatalf("unexpected edit session: %+v", edit)
	}
}

func TestSessionNavigationAndDiscard(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	tpl := createTemplate(t, srv, dailySalesBody())
	store := createStore(t, srv, "Uptown")
	s := startSession(t, srv, "alice", map[string]any{"store_id": store.ID, "template_id": tpl.ID})

	sessionCall(t, srv, http.MethodPost, s.ID+"/previous", nil, http.StatusConflict)
	sessionCall(t, srv, http.MethodPut, s.ID+"/answers/"+tpl.Questions[0].ID, map[string]any{"value": 12.5}, http.StatusOK)
	sessionCall(t, srv, http.MethodPost, s.ID+"/next", nil, http.StatusOK)
	sessionCall(t, srv, http.MethodPost, s.ID+"/next", nil, http.StatusOK)
	data := sessionCall(t, srv, http.MethodPost, s.ID+"/back", nil, http.StatusOK)
	var state SessionResponse
	if err := json.Unmarshal(data, &state); err != nil {
		t.Fatalf("unmarshal session: %v", err)
	}
	if state.State != "guided" || *state.Index != 1 {
		t.Fatalf("expected last question, got %+v", state)
	}
	sessionCall(t, srv, http.MethodPost, s.ID+"/jump", map[string]any{"index": 1}, http.StatusConflict)
	sessionCall(t, srv, http.MethodPost, s.ID+"/jump", map[string]any{"index": 0}, http.StatusOK)
	sessionCall(t, srv, http.MethodDelete, s.ID+"/answers/"+tpl.Questions[0].ID, nil, http.StatusOK)
	sessionCall(t, srv, http.MethodPut, s.ID+"/answers/unknown", map[string]any{"value": "x"}, http.StatusBadRequest)

	// sessions belong to the user who started them
	res, _ := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/sessions/"+s.ID, nil, as("bob"))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for another user, got %d", res.StatusCode)
	}

	sessionCall(t, srv, http.MethodDelete, s.ID, nil, http.StatusNoContent)
	sessionCall(t, srv, http.MethodGet, s.ID, nil, http.StatusNotFound)
}

func TestSessionRejectsMistypedValues(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	body := dailySalesBody()
	body["questions"] = []map[string]any{
		{"text": "Total sales?", "type": "number"},
		{"text": "Queue", "type": "choice", "options": []string{"Short", "Long"}},
		{"text": "Delivery", "type": "date"},
	}
	tpl := createTemplate(t, srv, body)
	store := createStore(t, srv, "Riverside")
	s := startSession(t, srv, "alice", map[string]any{"store_id": store.ID, "template_id": tpl.ID})

	for i, bad := range []any{"abc", "Bogus", "yesterday"} {
		qid := tpl.Questions[i].ID
		data := sessionCall(t, srv, http.MethodPut, s.ID+"/answers/"+qid, map[string]any{"value": bad}, http.StatusUnprocessableEntity)
		if env := decodeError(t, data); env.Error.Code != "validation_failed" || env.Error.Details["question_id"] != qid {
			t.Fatalf("unexpected error for %v: %+v", bad, env.Error)
		}
	}
	data := sessionCall(t, srv, http.MethodGet, s.ID, nil, http.StatusOK)
	var state SessionResponse
	if err := json.Unmarshal(data, &state); err != nil {
		t.Fatalf("unmarshal session: %v", err)
	}
	if len(state.Answers) != 0 {
		t.Fatalf("mistyped values were kept: %+v", state.Answers)
	}
}

func TestSessionResumesAssignedReport(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	tpl := createTemplate(t, srv, dailySalesBody())
	store := createStore(t, srv, "Harbor")
	res, _ := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/sessions", map[string]any{"store_id": store.ID}, as("alice"))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 without an assignment, got %d", res.StatusCode)
	}

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/stores/"+store.ID+"/assign", map[string]any{"template_id": tpl.ID}, as("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("assign status %d: %s", res.StatusCode, string(data))
	}
	var pending domain.Report
	if err := json.Unmarshal(data, &pending); err != nil {
		t.Fatalf("unmarshal report: %v", err)
	}
	if pending.Completed {
		t.Fatalf("assigned report should be pending: %+v", pending)
	}

	s := startSession(t, srv, "alice", map[string]any{"store_id": store.ID})
	if !s.Editing || s.ReportID != pending.ID {
		t.Fatalf("expected to resume %s, got %+v", pending.ID, s)
	}

	res, data = doJSON(t, srv.Client(), http.MethodDelete, srv.URL+"/v0/templates/"+tpl.ID, nil, as("alice"))
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", res.StatusCode, string(data))
	}
	if code := decodeError(t, data).Error.Code; code != "template_in_use" {
		t.Fatalf("code = %q", code)
	}
}

func TestSessionBusyWhileSubmitting(t *testing.T) {
	e := newTestEngine(t, config.Default())
	tpl := &domain.Template{ID: "tpl", Questions: []domain.Question{{ID: "q", Text: "Notes", Type: domain.QuestionText}}}
	s, err := session.NewCreate(tpl, "store")
	if err != nil {
		t.Fatal(err)
	}
	reg := newSessionRegistry(e, logger.Nop())
	id := reg.add("alice", s)
	if _, err := reg.with(id, "alice", (*session.Session).Next); err != nil {
		t.Fatal(err)
	}
	if _, err := s.BeginSubmit(); err != nil {
		t.Fatal(err)
	}

	_, err = reg.with(id, "alice", (*session.Session).BackToGuided)
	apiErr, ok := handleError(err).(*apiError)
	if !ok || apiErr.status != http.StatusConflict || apiErr.Body.Code != "session_busy" {
		t.Fatalf("expected session_busy, got %v", err)
	}
	if _, err := reg.submit(context.Background(), id, "alice"); err == nil {
		t.Fatal("expected second submit to be rejected")
	}
	if err := reg.remove(id, "alice"); err == nil {
		t.Fatal("expected discard to be rejected while submitting")
	}
}

func TestSessionsExpireWhenIdle(t *testing.T) {
	e := newTestEngine(t, config.Default())
	tpl := &domain.Template{ID: "tpl"}
	reg := newSessionRegistry(e, logger.Nop())
	now := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	reg.now = func() time.Time { return now }

	s1, _ := session.NewCreate(tpl, "store")
	old := reg.add("alice", s1)
	now = now.Add(sessionIdleTTL + time.Minute)
	s2, _ := session.NewCreate(tpl, "store")
	reg.add("alice", s2)

	if _, err := reg.with(old, "alice", nil); err == nil {
		t.Fatal("expected idle session to be pruned")
	}
}

func TestJWTAndAPIKeyAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	token, err := SignToken(testSecret, "carol", time.Hour, time.Now())
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	bearer := map[string]string{"Authorization": "Bearer " + token}
	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, bearer)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me status %d: %s", res.StatusCode, string(data))
	}
	var who WhoAmIResponse
	if err := json.Unmarshal(data, &who); err != nil {
		t.Fatalf("unmarshal me: %v", err)
	}
	if who.UserID != "carol" || who.Source != "jwt" {
		t.Fatalf("unexpected principal: %+v", who)
	}

	forged, _ := SignToken("other-secret", "mallory", time.Hour, time.Now())
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"Authorization": "Bearer " + forged})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for forged token, got %d", res.StatusCode)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/me/api-keys", map[string]any{"name": "ci"}, bearer)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create key status %d: %s", res.StatusCode, string(data))
	}
	var key APIKeyResponse
	if err := json.Unmarshal(data, &key); err != nil {
		t.Fatalf("unmarshal key: %v", err)
	}
	if key.Key == "" || key.UserID != "carol" {
		t.Fatalf("unexpected key: %+v", key)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"X-Api-Key": key.Key})
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), `"api_key"`) {
		t.Fatalf("api key auth failed %d: %s", res.StatusCode, string(data))
	}

	res, _ = doJSON(t, client, http.MethodDelete, srv.URL+"/v0/me/api-keys/"+key.ID, nil, as("bob"))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 revoking another user's key, got %d", res.StatusCode)
	}
	res, _ = doJSON(t, client, http.MethodDelete, srv.URL+"/v0/me/api-keys/"+key.ID, nil, bearer)
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("revoke status %d", res.StatusCode)
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"X-Api-Key": key.Key})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 after revoke, got %d", res.StatusCode)
	}
}

type cannedGenerator struct {
	mu   sync.Mutex
	reqs []summary.Request
	out  summary.Message
}

func (g *cannedGenerator) Generate(_ context.Context, req summary.Request) (summary.Message, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reqs = append(g.reqs, req)
	return g.out, nil
}

func TestSummaryEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/summary", map[string]any{}, as("alice"))
	if res.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without generator, got %d: %s", res.StatusCode, string(data))
	}

	gen := &cannedGenerator{out: summary.Message{Content: "Downtown had a strong day."}}
	srv2, cleanup2 := newTestServer(t, func(c *Config) {
		c.Summary = &summary.Service{Source: c.Engine, Generator: gen, Timeout: time.Second}
	})
	defer cleanup2()
	createStore(t, srv2, "Downtown")

	res, data = doJSON(t, srv2.Client(), http.MethodPost, srv2.URL+"/v0/summary", map[string]any{"mode": "summary"}, as("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("summary status %d: %s", res.StatusCode, string(data))
	}
	var msg summary.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal message: %v", err)
	}
	if msg.Role != "assistant" || msg.Content != "Downtown had a strong day." {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if len(gen.reqs) != 1 || len(gen.reqs[0].Payload.Stores) != 1 {
		t.Fatalf("unexpected generator requests: %+v", gen.reqs)
	}

	res, _ = doJSON(t, srv2.Client(), http.MethodPost, srv2.URL+"/v0/summary", map[string]any{"from": "yesterday"}, as("alice"))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad date, got %d", res.StatusCode)
	}
	gen.out = summary.Message{Content: "  "}
	res, data = doJSON(t, srv2.Client(), http.MethodPost, srv2.URL+"/v0/summary", map[string]any{}, as("alice"))
	if res.StatusCode != http.StatusBadGateway || decodeError(t, data).Error.Code != "summary_empty" {
		t.Fatalf("expected summary_empty, got %d: %s", res.StatusCode, string(data))
	}
}

func TestEventsPaginate(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	createStore(t, srv, "A")
	createStore(t, srv, "B")
	createStore(t, srv, "C")

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/events?limit=2&entity_kind=store", nil, as("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", res.StatusCode, string(data))
	}
	var page paginatedEvents
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(page.Items) != 2 || page.NextCursor == "" {
		t.Fatalf("unexpected first page: %+v", page)
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/events?limit=2&entity_kind=store&cursor="+page.NextCursor, nil, as("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", res.StatusCode, string(data))
	}
	var next paginatedEvents
	if err := json.Unmarshal(data, &next); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(next.Items) != 1 || next.NextCursor != "" || next.Items[0].ActorID != "alice" {
		t.Fatalf("unexpected second page: %+v", next)
	}
}

func TestWebhookDeliversNewEvents(t *testing.T) {
	var (
		mu       sync.Mutex
		received []*http.Request
		raw      [][]byte
		bodies   []webhookEvent
	)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		var evt webhookEvent
		_ = json.Unmarshal(data, &evt)
		mu.Lock()
		received = append(received, r)
		raw = append(raw, data)
		bodies = append(bodies, evt)
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer hook.Close()

	cfg := config.Default()
	cfg.Webhooks = []config.WebhookConfig{{URL: hook.URL, Events: []string{"store.created"}, Secret: "s3cret"}}
	e := newTestEngine(t, cfg)
	ctx := context.Background()
	alice := identityContext("alice")
	if _, err := e.CreateStore(alice, engine.StoreInput{Name: "Before"}); err != nil {
		t.Fatal(err)
	}

	d := NewWebhookDispatcher(e, logger.Nop())
	if d == nil {
		t.Fatal("expected dispatcher")
	}
	d.DispatchAll(ctx)
	if len(received) != 0 {
		t.Fatalf("events before start must not be delivered, got %d", len(received))
	}

	store, err := e.CreateStore(alice, engine.StoreInput{Name: "After"})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.DeleteStore(alice, store.ID); err != nil {
		t.Fatal(err)
	}
	d.DispatchAll(ctx)

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 {
		t.Fatalf("expected one delivery, got %d", len(received))
	}
	if received[0].Header.Get("X-Reportline-Event") != "store.created" {
		t.Fatalf("unexpected headers: %v", received[0].Header)
	}
	if got, want := received[0].Header.Get(signatureHeader), signPayload("s3cret", raw[0]); got != want {
		t.Fatalf("signature = %q, want %q", got, want)
	}
	if !strings.HasPrefix(received[0].Header.Get(signatureHeader), "sha256=") {
		t.Fatalf("signature scheme: %q", received[0].Header.Get(signatureHeader))
	}
	if bodies[0].EntityID != store.ID || bodies[0].ActorID != "alice" {
		t.Fatalf("unexpected body: %+v", bodies[0])
	}
}

func TestNoDispatcherWithoutWebhooks(t *testing.T) {
	if d := NewWebhookDispatcher(newTestEngine(t, config.Default()), nil); d != nil {
		t.Fatal("expected nil dispatcher")
	}
}

func TestOpenAPIServedConcurrently(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	bodies := make([]string, 8)
	var wg sync.WaitGroup
	for i := range bodies {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req, err := http.NewRequest(http.MethodGet, srv.URL+"/v0/openapi.json", nil)
			if err != nil {
				return
			}
			req.Header.Set("X-User-Id", "alice")
			res, err := srv.Client().Do(req)
			if err != nil {
				return
			}
			defer res.Body.Close()
			data, _ := io.ReadAll(res.Body)
			bodies[i] = string(data)
		}(i)
	}
	wg.Wait()
	for i, b := range bodies {
		if b == "" || b != bodies[0] {
			t.Fatalf("response %d differs or is empty", i)
		}
	}
	if !strings.Contains(bodies[0], `"openapi"`) {
		t.Fatalf("unexpected openapi body: %.80s", bodies[0])
	}
}

func TestHandleErrorOnlyBlamesCallerForInputErrors(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("%w: store name is required", domain.ErrInvalidInput), http.StatusBadRequest, "bad_request"},
		{fmt.Errorf("start: %w", fmt.Errorf("%w: store id required", domain.ErrInvalidInput)), http.StatusBadRequest, "bad_request"},
		{errors.New("question id required"), http.StatusInternalServerError, "internal_error"},
		{errors.New("missing column report_id"), http.StatusInternalServerError, "internal_error"},
		{session.InvalidInputError{Question: domain.Question{ID: "q1", Type: domain.QuestionNumber}, Input: "abc"}, http.StatusUnprocessableEntity, "validation_failed"},
	}
	for _, tc := range cases {
		se := handleError(tc.err)
		apiErr, ok := se.(*apiError)
		if !ok {
			t.Fatalf("%v: unexpected error type %T", tc.err, se)
		}
		if apiErr.GetStatus() != tc.status || apiErr.Body.Code != tc.code {
			t.Fatalf("%v: got %d %s", tc.err, apiErr.GetStatus(), apiErr.Body.Code)
		}
	}
}
