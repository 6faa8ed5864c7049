package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"reportline/internal/domain"
	"reportline/internal/engine"
	"reportline/internal/logger"
	"reportline/internal/session"
)

const sessionIdleTTL = 2 * time.Hour

type sessionEntry struct {
	s       *session.Session
	userID  string
	touched time.Time
}

// sessionRegistry holds the open report sessions of the API. A session is
// only visible to the user who started it. The mutex guards both the map and
// every session in it, since session.Session is not safe for concurrent use.
type sessionRegistry struct {
	engine engine.Engine
	log    *logger.Logger
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]*sessionEntry
}

func newSessionRegistry(e engine.Engine, log *logger.Logger) *sessionRegistry {
	return &sessionRegistry{
		engine:  e,
		log:     log,
		now:     time.Now,
		entries: make(map[string]*sessionEntry),
	}
}

func (r *sessionRegistry) add(userID string, s *session.Session) string {
	id := uuid.NewString()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneLocked()
	r.entries[id] = &sessionEntry{s: s, userID: userID, touched: r.now()}
	return id
}

// pruneLocked drops sessions idle for longer than sessionIdleTTL. Sessions in
// Submitting are kept until their submission completes.
func (r *sessionRegistry) pruneLocked() {
	cutoff := r.now().Add(-sessionIdleTTL)
	for id, entry := range r.entries {
		if _, busy := entry.s.State().(session.Submitting); busy {
			continue
		}
		if entry.touched.Before(cutoff) {
			delete(r.entries, id)
			r.log.Debug("session expired", "session_id", id)
		}
	}
}

// with runs fn on the caller's session under the registry lock.
func (r *sessionRegistry) with(id, userID string, fn func(s *session.Session) error) (SessionResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[id]
	if !ok || entry.userID != userID {
		return SessionResponse{}, newAPIError(http.StatusNotFound, "not_found", "session not found", map[string]any{"session_id": id})
	}
	entry.touched = r.now()
	if fn != nil {
		if err := fn(entry.s); err != nil {
			return SessionResponse{}, err
		}
	}
	return sessionResponse(id, entry.s), nil
}

func (r *sessionRegistry) remove(id, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[id]
	if !ok || entry.userID != userID {
		return newAPIError(http.StatusNotFound, "not_found", "session not found", map[string]any{"session_id": id})
	}
	if _, busy := entry.s.State().(session.Submitting); busy {
		return session.ErrSubmitting
	}
	delete(r.entries, id)
	return nil
}

// submit snapshots the session under the lock, then runs the storage
// transaction without it. Calls that arrive meanwhile find the session in
// Submitting and are rejected. A successful submit discards the session.
func (r *sessionRegistry) submit(ctx context.Context, id, userID string) (SubmitResponse, error) {
	r.mu.Lock()
	entry, ok := r.entries[id]
	if !ok || entry.userID != userID {
		r.mu.Unlock()
		return SubmitResponse{}, newAPIError(http.StatusNotFound, "not_found", "session not found", map[string]any{"session_id": id})
	}
	entry.touched = r.now()
	snapshot, err := entry.s.BeginSubmit()
	r.mu.Unlock()
	if err != nil {
		return SubmitResponse{}, err
	}

	report, err := r.engine.SubmitReport(ctx, snapshot)

	r.mu.Lock()
	defer r.mu.Unlock()
	entry.s.CompleteSubmit(report, err)
	entry.touched = r.now()
	if err != nil {
		r.log.Warn("session submit failed", "session_id", id, "error", err)
		return SubmitResponse{}, err
	}
	delete(r.entries, id)
	return SubmitResponse{Report: report, Created: snapshot.ReportID == ""}, nil
}

func registerSessions(api huma.API, reg *sessionRegistry) {
	type sessionOutput struct {
		Body SessionResponse `json:"body"`
	}
	respond := func(resp SessionResponse, err error) (*sessionOutput, error) {
		if err != nil {
			return nil, handleError(err)
		}
		return &sessionOutput{Body: resp}, nil
	}
	type sessionPath struct {
		ID string `path:"id"`
	}

	huma.Register(api, huma.Operation{
		OperationID:   "start-session",
		Method:        http.MethodPost,
		Path:          "/sessions",
		Summary:       "Start a report session",
		Description:   "With report_id the session edits that report. Otherwise store_id is required; template_id starts a new report, and leaving it out resumes the store's assigned report.",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body StartSessionRequest `json:"body"`
	}) (*sessionOutput, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		var (
			s   *session.Session
			err error
		)
		switch {
		case input.Body.ReportID != "":
			s, err = reg.engine.EditReport(ctx, input.Body.ReportID)
		case input.Body.StoreID != "":
			s, err = reg.engine.StartReport(ctx, input.Body.StoreID, input.Body.TemplateID)
		default:
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "store_id or report_id is required", nil)
		}
		if err != nil {
			return nil, handleError(err)
		}
		id := reg.add(userID, s)
		reg.log.Info("session started", "session_id", id, "store_id", s.StoreID(), "template_id", s.Template().ID, "editing", s.Editing())
		return respond(reg.with(id, userID, nil))
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-session",
		Method:      http.MethodGet,
		Path:        "/sessions/{id}",
		Summary:     "Get session state",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *sessionPath) (*sessionOutput, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return respond(reg.with(input.ID, userID, nil))
	})

	huma.Register(api, huma.Operation{
		OperationID:   "discard-session",
		Method:        http.MethodDelete,
		Path:          "/sessions/{id}",
		Summary:       "Discard a session without submitting",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *sessionPath) (*struct{}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := reg.remove(input.ID, userID); err != nil {
			return nil, handleError(err)
		}
		return nil, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-session-answer",
		Method:      http.MethodPut,
		Path:        "/sessions/{id}/answers/{question_id}",
		Summary:     "Set an answer",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ID         string        `path:"id"`
		QuestionID string        `path:"question_id"`
		Body       AnswerRequest `json:"body"`
	}) (*sessionOutput, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return respond(reg.with(input.ID, userID, func(s *session.Session) error {
			if input.Body.Input != nil {
				return s.SetInput(input.QuestionID, *input.Body.Input)
			}
			return s.SetAnswer(input.QuestionID, input.Body.Value)
		}))
	})

	huma.Register(api, huma.Operation{
		OperationID: "clear-session-answer",
		Method:      http.MethodDelete,
		Path:        "/sessions/{id}/answers/{question_id}",
		Summary:     "Clear an answer",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID         string `path:"id"`
		QuestionID string `path:"question_id"`
	}) (*sessionOutput, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return respond(reg.with(input.ID, userID, func(s *session.Session) error {
			return s.ClearAnswer(input.QuestionID)
		}))
	})

	moves := []struct {
		op, path, summary string
		fn                func(s *session.Session) error
	}{
		{"session-next", "/sessions/{id}/next", "Advance to the next question or to review", (*session.Session).Next},
		{"session-previous", "/sessions/{id}/previous", "Step back one question", (*session.Session).Previous},
		{"session-back", "/sessions/{id}/back", "Leave review for the last question", (*session.Session).BackToGuided},
	}
	for _, m := range moves {
		fn := m.fn
		huma.Register(api, huma.Operation{
			OperationID: m.op,
			Method:      http.MethodPost,
			Path:        m.path,
			Summary:     m.summary,
			Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
		}, func(ctx context.Context, input *sessionPath) (*sessionOutput, error) {
			userID, authErr := userIDFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			return respond(reg.with(input.ID, userID, fn))
		})
	}

	huma.Register(api, huma.Operation{
		OperationID: "session-jump",
		Method:      http.MethodPost,
		Path:        "/sessions/{id}/jump",
		Summary:     "Revisit an earlier question",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string      `path:"id"`
		Body JumpRequest `json:"body"`
	}) (*sessionOutput, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := validateBody(input.Body); err != nil {
			return nil, err
		}
		return respond(reg.with(input.ID, userID, func(s *session.Session) error {
			return s.JumpTo(input.Body.Index)
		}))
	})

	huma.Register(api, huma.Operation{
		OperationID: "session-review",
		Method:      http.MethodGet,
		Path:        "/sessions/{id}/review",
		Summary:     "Every question with its current answer",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *sessionPath) (*struct {
		Body ReviewResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		var review ReviewResponse
		if _, err := reg.with(input.ID, userID, func(s *session.Session) error {
			review = reviewResponse(s)
			return nil
		}); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ReviewResponse `json:"body"`
		}{Body: review}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "session-submit",
		Method:      http.MethodPost,
		Path:        "/sessions/{id}/submit",
		Summary:     "Submit the report",
		Description: "Only valid in review. The session is discarded once the report is stored; on failure it stays in review with its answers.",
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *sessionPath) (*struct {
		Body SubmitResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		resp, err := reg.submit(ctx, input.ID, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SubmitResponse `json:"body"`
		}{Body: resp}, nil
	})
}

type ReviewItem struct {
	Question domain.Question `json:"question"`
	Answer   any             `json:"answer,omitempty"`
	Answered bool            `json:"answered"`
}

type ReviewResponse struct {
	State     string       `json:"state"`
	Items     []ReviewItem `json:"items"`
	CanSubmit bool         `json:"can_submit"`
	Missing   []string     `json:"missing"`
}

func reviewResponse(s *session.Session) ReviewResponse {
	verdict := s.Verdict()
	resp := ReviewResponse{
		State:     s.State().Name(),
		Items:     make([]ReviewItem, 0, len(s.Questions())),
		CanSubmit: verdict.OK,
		Missing:   nonNilSlice(verdict.Missing),
	}
	for _, q := range s.Questions() {
		item := ReviewItem{Question: q}
		if v, ok := s.Answers().Get(q.ID); ok {
			item.Answer = v
			item.Answered = session.Present(q, v)
		}
		resp.Items = append(resp.Items, item)
	}
	return resp
}
