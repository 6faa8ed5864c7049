package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const (
	TemplateCreated  = "template.created"
	TemplateUpdated  = "template.updated"
	TemplateDeleted  = "template.deleted"
	StoreCreated     = "store.created"
	StoreUpdated     = "store.updated"
	StoreDeleted     = "store.deleted"
	TemplateAssigned = "store.template.assigned"
	ReportCreated    = "report.created"
	ReportUpdated    = "report.updated"
	ReportDeleted    = "report.deleted"
	APIKeyCreated    = "api_key.created"
	APIKeyRevoked    = "api_key.revoked"
)

// Writer appends audit events inside the caller's transaction so an event
// exists exactly when its change committed.
type Writer struct {
	Now func() time.Time
}

type Payload map[string]any

func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, entityKind, entityID, actorID string, payload Payload) error {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	if payload == nil {
		payload = Payload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,entity_id,actor_id,payload_json) VALUES ($1,$2,$3,$4,$5,$6)`,
		now().UTC().Format(time.RFC3339), evtType, entityKind, nullable(entityID), actorID, string(data))
	if err != nil {
		return fmt.Errorf("append %s event: %w", evtType, err)
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
