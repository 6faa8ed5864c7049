package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"reportline/internal/domain"
	"reportline/internal/events"
	"reportline/internal/repo"
)

type StoreInput struct {
	Name     string
	Location string
	Manager  string
}

func (in StoreInput) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return fmt.Errorf("%w: store name is required", domain.ErrInvalidInput)
	}
	return nil
}

func (e Engine) GetStore(ctx context.Context, id string) (domain.Store, error) {
	return e.Repo.GetStore(ctx, id)
}

func (e Engine) ListStores(ctx context.Context) ([]domain.Store, error) {
	return e.Repo.ListStores(ctx)
}

func (e Engine) CreateStore(ctx context.Context, in StoreInput) (domain.Store, error) {
	if err := in.validate(); err != nil {
		return domain.Store{}, err
	}
	actorID, err := e.actor(ctx)
	if err != nil {
		return domain.Store{}, err
	}
	now := e.timestamp()
	s := domain.Store{
		ID:        uuid.NewString(),
		Name:      strings.TrimSpace(in.Name),
		Location:  strings.TrimSpace(in.Location),
		Manager:   strings.TrimSpace(in.Manager),
		UserID:    actorID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err = e.inTx(ctx, "create store", func(tx *sql.Tx) error {
		if err := e.Repo.InsertStore(ctx, tx, s); err != nil {
			return err
		}
		return e.events().Append(ctx, tx, events.StoreCreated, "store", s.ID, actorID, events.Payload{"name": s.Name})
	})
	if err != nil {
		return domain.Store{}, err
	}
	return s, nil
}

func (e Engine) UpdateStore(ctx context.Context, id string, in StoreInput) (domain.Store, error) {
	if err := in.validate(); err != nil {
		return domain.Store{}, err
	}
	actorID, err := e.actor(ctx)
	if err != nil {
		return domain.Store{}, err
	}
	var out domain.Store
	err = e.inTx(ctx, "update store", func(tx *sql.Tx) error {
		s, err := e.Repo.GetStoreTx(ctx, tx, id)
		if err != nil {
			return err
		}
		s.Name = strings.TrimSpace(in.Name)
		s.Location = strings.TrimSpace(in.Location)
		s.Manager = strings.TrimSpace(in.Manager)
		s.UpdatedAt = e.timestamp()
		if err := e.Repo.UpdateStore(ctx, tx, s); err != nil {
			return err
		}
		out = s
		return e.events().Append(ctx, tx, events.StoreUpdated, "store", id, actorID, events.Payload{"name": s.Name})
	})
	return out, err
}

// DeleteStore removes the store together with its reports.
func (e Engine) DeleteStore(ctx context.Context, id string) error {
	actorID, err := e.actor(ctx)
	if err != nil {
		return err
	}
	return e.inTx(ctx, "delete store", func(tx *sql.Tx) error {
		if err := e.Repo.DeleteStore(ctx, tx, id); err != nil {
			return err
		}
		return e.events().Append(ctx, tx, events.StoreDeleted, "store", id, actorID, nil)
	})
}

// AssignTemplate gives the store a pending report for the template. An
// existing pending report is repointed and its stale answers dropped.
func (e Engine) AssignTemplate(ctx context.Context, storeID, templateID string) (domain.Report, error) {
	actorID, err := e.actor(ctx)
	if err != nil {
		return domain.Report{}, err
	}
	var reportID string
	err = e.inTx(ctx, "assign template", func(tx *sql.Tx) error {
		if _, err := e.Repo.GetStoreTx(ctx, tx, storeID); err != nil {
			return err
		}
		if _, err := e.Repo.GetTemplateTx(ctx, tx, templateID); err != nil {
			return err
		}
		now := e.timestamp()
		payload := events.Payload{"store_id": storeID, "template_id": templateID}
		pending, err := e.Repo.PendingReportForStore(ctx, tx, storeID)
		switch {
		case err == nil:
			if err := e.Repo.RepointReport(ctx, tx, pending.ID, templateID, now); err != nil {
				return err
			}
			cleared, err := e.Repo.DeleteAnswers(ctx, tx, pending.ID)
			if err != nil {
				return err
			}
			reportID = pending.ID
			payload["previous_template_id"] = pending.TemplateID
			payload["answers_cleared"] = cleared
		case errors.Is(err, repo.ErrNotFound):
			rep := domain.Report{
				ID:         uuid.NewString(),
				TemplateID: templateID,
				StoreID:    storeID,
				UserID:     actorID,
				CreatedAt:  now,
				UpdatedAt:  now,
			}
			if err := e.Repo.InsertReport(ctx, tx, rep); err != nil {
				return err
			}
			reportID = rep.ID
		default:
			return err
		}
		payload["report_id"] = reportID
		return e.events().Append(ctx, tx, events.TemplateAssigned, "store", storeID, actorID, payload)
	})
	if err != nil {
		return domain.Report{}, err
	}
	e.Log.Info("template assigned", "store_id", storeID, "template_id", templateID, "report_id", reportID)
	return e.Repo.GetReport(ctx, reportID)
}
