package engine

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"reportline/internal/authoring"
	"reportline/internal/domain"
	"reportline/internal/events"
)

func (e Engine) GetTemplate(ctx context.Context, id string) (domain.Template, error) {
	return e.Repo.GetTemplate(ctx, id)
}

func (e Engine) ListTemplates(ctx context.Context) ([]domain.TemplateSummary, error) {
	return e.Repo.ListTemplates(ctx)
}

// CreateTemplate saves a validated draft as a new template.
func (e Engine) CreateTemplate(ctx context.Context, d *authoring.Draft) (domain.Template, error) {
	if err := d.ValidateForSave(); err != nil {
		return domain.Template{}, err
	}
	actorID, err := e.actor(ctx)
	if err != nil {
		return domain.Template{}, err
	}
	now := e.timestamp()
	t := domain.Template{
		ID:          uuid.NewString(),
		Title:       d.Title,
		Description: d.Description,
		UserID:      actorID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	questions := d.Questions(t.ID)
	for i := range questions {
		questions[i].ID = uuid.NewString()
		questions[i].CreatedAt = now
	}
	err = e.inTx(ctx, "create template", func(tx *sql.Tx) error {
		if err := e.Repo.InsertTemplate(ctx, tx, t); err != nil {
			return err
		}
		if err := e.Repo.ReplaceQuestions(ctx, tx, t.ID, questions); err != nil {
			return err
		}
		return e.events().Append(ctx, tx, events.TemplateCreated, "template", t.ID, actorID, events.Payload{
			"title":          t.Title,
			"question_count": len(questions),
		})
	})
	if err != nil {
		return domain.Template{}, err
	}
	e.Log.Info("template created", "template_id", t.ID, "questions", len(questions))
	t.Questions = questions
	return t, nil
}

// UpdateTemplate replaces the template's header and full question list.
// Draft questions that carry an id of this template keep it so existing
// answers still resolve; the rest get new ids.
func (e Engine) UpdateTemplate(ctx context.Context, id string, d *authoring.Draft) (domain.Template, error) {
	if err := d.ValidateForSave(); err != nil {
		return domain.Template{}, err
	}
	actorID, err := e.actor(ctx)
	if err != nil {
		return domain.Template{}, err
	}
	now := e.timestamp()
	var out domain.Template
	err = e.inTx(ctx, "update template", func(tx *sql.Tx) error {
		current, err := e.Repo.GetTemplateTx(ctx, tx, id)
		if err != nil {
			return err
		}
		existing := make(map[string]domain.Question, len(current.Questions))
		for _, q := range current.Questions {
			existing[q.ID] = q
		}
		questions := d.Questions(id)
		kept := 0
		for i := range questions {
			if prev, ok := existing[questions[i].ID]; ok {
				questions[i].CreatedAt = prev.CreatedAt
				delete(existing, prev.ID)
				kept++
				continue
			}
			questions[i].ID = uuid.NewString()
			questions[i].CreatedAt = now
		}
		if err := e.Repo.UpdateTemplateHeader(ctx, tx, id, d.Title, d.Description, now); err != nil {
			return err
		}
		if err := e.Repo.ReplaceQuestions(ctx, tx, id, questions); err != nil {
			return err
		}
		if err := e.events().Append(ctx, tx, events.TemplateUpdated, "template", id, actorID, events.Payload{
			"question_count":    len(questions),
			"questions_kept":    kept,
			"questions_removed": len(existing),
		}); err != nil {
			return err
		}
		out = current
		out.Title = d.Title
		out.Description = d.Description
		out.UpdatedAt = now
		out.Questions = questions
		return nil
	})
	if err != nil {
		return domain.Template{}, err
	}
	e.Log.Info("template updated", "template_id", id, "questions", len(out.Questions))
	return out, nil
}

// DeleteTemplate fails with repo.ErrTemplateInUse while reports reference it.
func (e Engine) DeleteTemplate(ctx context.Context, id string) error {
	actorID, err := e.actor(ctx)
	if err != nil {
		return err
	}
	err = e.inTx(ctx, "delete template", func(tx *sql.Tx) error {
		if err := e.Repo.DeleteTemplate(ctx, tx, id); err != nil {
			return err
		}
		return e.events().Append(ctx, tx, events.TemplateDeleted, "template", id, actorID, nil)
	})
	if err != nil {
		return err
	}
	e.Log.Info("template deleted", "template_id", id)
	return nil
}
