package engine

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"reportline/internal/domain"
	"reportline/internal/events"
	"reportline/internal/repo"
)

const apiKeyPrefix = "rlk_"

// CreateAPIKey issues a key for userID. Only the hash is stored; the raw key
// is returned once.
func (e Engine) CreateAPIKey(ctx context.Context, userID, name string) (domain.APIKey, string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.APIKey{}, "", fmt.Errorf("%w: user id required", domain.ErrInvalidInput)
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return domain.APIKey{}, "", fmt.Errorf("generate key: %w", err)
	}
	raw := apiKeyPrefix + hex.EncodeToString(buf)
	key := domain.APIKey{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      strings.TrimSpace(name),
		KeyHash:   repo.HashAPIKey(raw),
		CreatedAt: e.timestamp(),
	}
	err := e.inTx(ctx, "create api key", func(tx *sql.Tx) error {
		if err := e.Repo.InsertAPIKey(ctx, tx, key); err != nil {
			return err
		}
		return e.events().Append(ctx, tx, events.APIKeyCreated, "api_key", key.ID, userID, events.Payload{"name": key.Name})
	})
	if err != nil {
		return domain.APIKey{}, "", err
	}
	return key, raw, nil
}

func (e Engine) ListAPIKeys(ctx context.Context, userID string) ([]domain.APIKey, error) {
	return e.Repo.ListAPIKeys(ctx, userID)
}

// RevokeAPIKey deletes the key; the event records who revoked whose key.
func (e Engine) RevokeAPIKey(ctx context.Context, id string) error {
	actorID, err := e.actor(ctx)
	if err != nil {
		return err
	}
	return e.inTx(ctx, "revoke api key", func(tx *sql.Tx) error {
		k, err := e.Repo.GetAPIKeyTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := e.Repo.DeleteAPIKey(ctx, tx, id); err != nil {
			return err
		}
		return e.events().Append(ctx, tx, events.APIKeyRevoked, "api_key", id, actorID, events.Payload{"user_id": k.UserID, "name": k.Name})
	})
}

func (e Engine) ListEvents(ctx context.Context, f repo.EventFilters) ([]domain.Event, error) {
	return e.Repo.LatestEvents(ctx, f)
}
