package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"reportline/internal/domain"
	"reportline/internal/events"
	"reportline/internal/logger"
	"reportline/internal/repo"
	"reportline/internal/session"
)

// ErrReportMismatch rejects an edit whose report no longer belongs to the
// template or store the session was opened with.
var ErrReportMismatch = errors.New("report does not match the session's template or store")

var _ session.Submitter = Engine{}

// SubmitReport persists a session snapshot in one transaction. The create
// path inserts the report and its answers; the update path marks the report
// submitted, deletes every stored answer and inserts the new set. Either the
// whole write commits or nothing does. The returned report is read inside the
// same transaction, so a nil error means it was committed and an error means
// it was not.
func (e Engine) SubmitReport(ctx context.Context, sub session.Submission) (domain.Report, error) {
	actorID, err := e.actor(ctx)
	if err != nil {
		return domain.Report{}, err
	}
	if e.Config != nil && e.Config.SubmissionTimeout() > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Config.SubmissionTimeout())
		defer cancel()
	}
	log := e.Log.With("template_id", sub.TemplateID, "store_id", sub.StoreID)

	reportID := sub.ReportID
	var saved domain.Report
	err = e.inTx(ctx, "submit report", func(tx *sql.Tx) error {
		t, err := e.Repo.GetTemplateTx(ctx, tx, sub.TemplateID)
		if err != nil {
			return fmt.Errorf("template %s: %w", sub.TemplateID, err)
		}
		if _, err := e.Repo.GetStoreTx(ctx, tx, sub.StoreID); err != nil {
			return fmt.Errorf("store %s: %w", sub.StoreID, err)
		}
		answers := keepTemplateAnswers(&t, sub.Answers, log)
		now := e.timestamp()

		if reportID == "" {
			reportID = uuid.NewString()
			rep := domain.Report{
				ID:          reportID,
				TemplateID:  sub.TemplateID,
				StoreID:     sub.StoreID,
				UserID:      actorID,
				Completed:   true,
				SubmittedAt: &now,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			if err := e.Repo.InsertReport(ctx, tx, rep); err != nil {
				return fmt.Errorf("insert report: %w", err)
			}
			if err := e.Repo.InsertAnswers(ctx, tx, reportID, answers, now); err != nil {
				return err
			}
			if err := e.events().Append(ctx, tx, events.ReportCreated, "report", reportID, actorID, events.Payload{
				"template_id":  sub.TemplateID,
				"store_id":     sub.StoreID,
				"answer_count": len(answers),
			}); err != nil {
				return err
			}
			saved, err = e.Repo.GetReportTx(ctx, tx, reportID)
			return err
		}

		existing, err := e.Repo.GetReportTx(ctx, tx, reportID)
		if err != nil {
			return fmt.Errorf("report %s: %w", reportID, err)
		}
		if existing.TemplateID != sub.TemplateID || existing.StoreID != sub.StoreID {
			return ErrReportMismatch
		}
		if err := e.Repo.MarkSubmitted(ctx, tx, reportID, actorID, now); err != nil {
			return fmt.Errorf("update report: %w", err)
		}
		removed, err := e.Repo.DeleteAnswers(ctx, tx, reportID)
		if err != nil {
			return fmt.Errorf("delete answers: %w", err)
		}
		if err := e.Repo.InsertAnswers(ctx, tx, reportID, answers, now); err != nil {
			return err
		}
		if err := e.events().Append(ctx, tx, events.ReportUpdated, "report", reportID, actorID, events.Payload{
			"template_id":      sub.TemplateID,
			"store_id":         sub.StoreID,
			"answer_count":     len(answers),
			"answers_replaced": removed,
		}); err != nil {
			return err
		}
		saved, err = e.Repo.GetReportTx(ctx, tx, reportID)
		return err
	})
	if err != nil {
		log.Warn("report submission failed", "report_id", sub.ReportID, "error", err)
		return domain.Report{}, err
	}
	log.Info("report submitted", "report_id", reportID, "update", sub.ReportID != "")
	return saved, nil
}

// keepTemplateAnswers drops answers for questions the template does not have
// and values that are not a valid answer of the question's type.
func keepTemplateAnswers(t *domain.Template, answers []domain.Answer, log *logger.Logger) []domain.Answer {
	out := make([]domain.Answer, 0, len(answers))
	for _, a := range answers {
		q, ok := t.QuestionByID(a.QuestionID)
		if !ok {
			log.Warn("dropping answer for unknown question", "question_id", a.QuestionID)
			continue
		}
		v := session.NormalizeValue(q, a.Value)
		if !session.Present(q, v) {
			log.Warn("dropping invalid answer", "question_id", a.QuestionID, "type", q.Type)
			continue
		}
		out = append(out, domain.Answer{QuestionID: a.QuestionID, Value: v})
	}
	return out
}

// StartReport opens a create session for the store. With an empty templateID
// the store's pending report is resumed as an edit session instead, so
// submitting completes the assignment.
func (e Engine) StartReport(ctx context.Context, storeID, templateID string) (*session.Session, error) {
	if _, err := e.Repo.GetStore(ctx, storeID); err != nil {
		return nil, fmt.Errorf("store %s: %w", storeID, err)
	}
	if templateID == "" {
		pending, err := e.Repo.PendingReportForStore(ctx, nil, storeID)
		if errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("store %s has no assigned template: %w", storeID, repo.ErrNotFound)
		}
		if err != nil {
			return nil, err
		}
		return e.EditReport(ctx, pending.ID)
	}
	t, err := e.Repo.GetTemplate(ctx, templateID)
	if err != nil {
		return nil, fmt.Errorf("template %s: %w", templateID, err)
	}
	return session.NewCreate(&t, storeID)
}

// EditReport opens an edit session pre-populated with the report's answers.
func (e Engine) EditReport(ctx context.Context, reportID string) (*session.Session, error) {
	rep, err := e.Repo.GetReport(ctx, reportID)
	if err != nil {
		return nil, fmt.Errorf("report %s: %w", reportID, err)
	}
	t, err := e.Repo.GetTemplate(ctx, rep.TemplateID)
	if err != nil {
		return nil, fmt.Errorf("template %s: %w", rep.TemplateID, err)
	}
	return session.NewEdit(&t, rep)
}

func (e Engine) GetReport(ctx context.Context, id string) (domain.Report, error) {
	return e.Repo.GetReport(ctx, id)
}

func (e Engine) ListReports(ctx context.Context, f repo.ReportFilters) ([]domain.Report, error) {
	return e.Repo.ListReports(ctx, f)
}

func (e Engine) DeleteReport(ctx context.Context, id string) error {
	actorID, err := e.actor(ctx)
	if err != nil {
		return err
	}
	return e.inTx(ctx, "delete report", func(tx *sql.Tx) error {
		if err := e.Repo.DeleteReport(ctx, tx, id); err != nil {
			return err
		}
		return e.events().Append(ctx, tx, events.ReportDeleted, "report", id, actorID, nil)
	})
}
