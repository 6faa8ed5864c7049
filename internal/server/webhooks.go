package server

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"reportline/internal/config"
	"reportline/internal/domain"
	"reportline/internal/engine"
	"reportline/internal/logger"
)

const (
	webhookInterval = 2 * time.Second
	webhookTimeout  = 5 * time.Second
	webhookBatch    = 100

	signatureHeader = "X-Reportline-Signature"
)

// hookState is one configured webhook and how far it has been delivered.
type hookState struct {
	url     string
	secret  string
	filter  eventFilter
	client  *http.Client
	cursor  int64
	started bool
}

// WebhookDispatcher polls the event log and POSTs new events to every enabled
// webhook. A hook starts at the newest event present when it is first polled.
// Delivery stops at the first failure and resumes from there on the next tick,
// so each hook sees its events in order.
type WebhookDispatcher struct {
	engine   engine.Engine
	hooks    []*hookState
	log      *logger.Logger
	interval time.Duration
}

// NewWebhookDispatcher returns nil when no webhook is enabled.
func NewWebhookDispatcher(e engine.Engine, log *logger.Logger) *WebhookDispatcher {
	if e.Config == nil {
		return nil
	}
	if log == nil {
		log = logger.Nop()
	}
	d := &WebhookDispatcher{engine: e, log: log.With("component", "webhooks"), interval: webhookInterval}
	for _, hook := range e.Config.Webhooks {
		if st := newHookState(hook); st != nil {
			d.hooks = append(d.hooks, st)
		}
	}
	if len(d.hooks) == 0 {
		return nil
	}
	return d
}

func newHookState(hook config.WebhookConfig) *hookState {
	if hook.Enabled != nil && !*hook.Enabled {
		return nil
	}
	url := strings.TrimSpace(hook.URL)
	if url == "" {
		return nil
	}
	timeout := webhookTimeout
	if hook.TimeoutSeconds > 0 {
		timeout = time.Duration(hook.TimeoutSeconds) * time.Second
	}
	return &hookState{
		url:    url,
		secret: strings.TrimSpace(hook.Secret),
		filter: newEventFilter(hook.Events),
		client: &http.Client{Timeout: timeout},
	}
}

// Run dispatches until ctx is done.
func (d *WebhookDispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		d.DispatchAll(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// DispatchAll runs one delivery pass over every hook. It is not safe to call
// concurrently with itself.
func (d *WebhookDispatcher) DispatchAll(ctx context.Context) {
	for _, h := range d.hooks {
		if ctx.Err() != nil {
			return
		}
		d.dispatch(ctx, h)
	}
}

func (d *WebhookDispatcher) dispatch(ctx context.Context, h *hookState) {
	if !h.started {
		latest, err := d.engine.Repo.LatestEventID(ctx)
		if err != nil {
			d.log.Warn("init cursor failed", "url", h.url, "error", err)
			return
		}
		h.cursor, h.started = latest, true
	}
	evts, err := d.engine.Repo.EventsAfter(ctx, webhookBatch, h.cursor)
	if err != nil {
		d.log.Warn("fetch events failed", "error", err)
		return
	}
	for _, evt := range evts {
		if h.filter.match(evt.Type) {
			if err := d.deliver(ctx, h, evt); err != nil {
				d.log.Warn("delivery failed", "url", h.url, "event_id", evt.ID, "error", err)
				return
			}
			d.log.Debug("event delivered", "url", h.url, "event_id", evt.ID, "type", evt.Type)
		}
		h.cursor = evt.ID
	}
}

type webhookEvent struct {
	ID         int64           `json:"id"`
	Type       string          `json:"type"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	TS         string          `json:"ts"`
	Payload    json.RawMessage `json:"payload"`
}

func newWebhookEvent(evt domain.Event) webhookEvent {
	payload := json.RawMessage(`{}`)
	if evt.Payload != "" && json.Valid([]byte(evt.Payload)) {
		payload = json.RawMessage(evt.Payload)
	}
	return webhookEvent{
		ID:         evt.ID,
		Type:       evt.Type,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		TS:         evt.TS,
		Payload:    payload,
	}
}

// signPayload is the value of X-Reportline-Signature: HMAC-SHA256 of the
// request body keyed by the hook secret.
func signPayload(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func (d *WebhookDispatcher) deliver(ctx context.Context, h *hookState, evt domain.Event) error {
	body, err := json.Marshal(newWebhookEvent(evt))
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Reportline-Event", evt.Type)
	req.Header.Set("X-Reportline-Delivery", strconv.FormatInt(evt.ID, 10))
	if h.secret != "" {
		req.Header.Set(signatureHeader, signPayload(h.secret, body))
	}
	res, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

// eventFilter matches event types; an empty list matches everything.
type eventFilter map[string]struct{}

func newEventFilter(types []string) eventFilter {
	f := eventFilter{}
	for _, t := range types {
		if t = strings.TrimSpace(t); t != "" {
			f[t] = struct{}{}
		}
	}
	return f
}

func (f eventFilter) match(evtType string) bool {
	if len(f) == 0 {
		return true
	}
	_, ok := f[evtType]
	return ok
}
