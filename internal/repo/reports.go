package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"reportline/internal/domain"
)

const reportColumns = `id,template_id,store_id,user_id,completed,submitted_at,created_at,updated_at`

func (r Repo) InsertReport(ctx context.Context, tx *sql.Tx, rep domain.Report) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO reports(`+reportColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		rep.ID, rep.TemplateID, rep.StoreID, rep.UserID, rep.Completed, nullableStringPtr(rep.SubmittedAt), rep.CreatedAt, rep.UpdatedAt)
	return err
}

// MarkSubmitted records a completed submission by userID on an existing report.
func (r Repo) MarkSubmitted(ctx context.Context, tx *sql.Tx, id, userID, submittedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE reports SET completed=$1, submitted_at=$2, user_id=$3, updated_at=$4 WHERE id=$5`,
		true, submittedAt, userID, submittedAt, id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

// RepointReport moves a report onto another template.
func (r Repo) RepointReport(ctx context.Context, tx *sql.Tx, id, templateID, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE reports SET template_id=$1, updated_at=$2 WHERE id=$3`, templateID, updatedAt, id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

func (r Repo) DeleteAnswers(ctx context.Context, tx *sql.Tx, reportID string) (int64, error) {
	res, err := tx.ExecContext(ctx, `DELETE FROM report_answers WHERE report_id=$1`, reportID)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// InsertAnswers writes one row per answer. Values are stored as JSON.
func (r Repo) InsertAnswers(ctx context.Context, tx *sql.Tx, reportID string, answers []domain.Answer, createdAt string) error {
	for _, a := range answers {
		data, err := json.Marshal(a.Value)
		if err != nil {
			return fmt.Errorf("encode answer %s: %w", a.QuestionID, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO report_answers(id,report_id,question_id,value_json,created_at) VALUES ($1,$2,$3,$4,$5)`,
			uuid.NewString(), reportID, a.QuestionID, string(data), createdAt); err != nil {
			return fmt.Errorf("insert answer %s: %w", a.QuestionID, err)
		}
	}
	return nil
}

func scanReport(sc interface{ Scan(...any) error }) (domain.Report, error) {
	var rep domain.Report
	var submittedAt sql.NullString
	if err := sc.Scan(&rep.ID, &rep.TemplateID, &rep.StoreID, &rep.UserID, &rep.Completed, &submittedAt, &rep.CreatedAt, &rep.UpdatedAt); err != nil {
		return rep, err
	}
	if submittedAt.Valid {
		rep.SubmittedAt = &submittedAt.String
	}
	return rep, nil
}

func (r Repo) GetReport(ctx context.Context, id string) (domain.Report, error) {
	return r.GetReportTx(ctx, nil, id)
}

// GetReportTx loads a report with its answers ordered by question id.
func (r Repo) GetReportTx(ctx context.Context, tx *sql.Tx, id string) (domain.Report, error) {
	q := r.q(tx)
	rep, err := scanReport(q.QueryRowContext(ctx, `SELECT `+reportColumns+` FROM reports WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return rep, ErrNotFound
	}
	if err != nil {
		return rep, err
	}
	answers, err := r.listAnswers(ctx, q, id)
	if err != nil {
		return rep, err
	}
	rep.Answers = answers
	return rep, nil
}

func (r Repo) listAnswers(ctx context.Context, q querier, reportID string) ([]domain.Answer, error) {
	rows, err := q.QueryContext(ctx, `SELECT question_id,value_json FROM report_answers WHERE report_id=$1 ORDER BY question_id ASC`, reportID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Answer
	for rows.Next() {
		var a domain.Answer
		var raw string
		if err := rows.Scan(&a.QuestionID, &raw); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(raw), &a.Value); err != nil {
			return nil, fmt.Errorf("decode answer %s: %w", a.QuestionID, err)
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// PendingReportForStore returns the store's newest incomplete report.
func (r Repo) PendingReportForStore(ctx context.Context, tx *sql.Tx, storeID string) (domain.Report, error) {
	rep, err := scanReport(r.q(tx).QueryRowContext(ctx, `SELECT `+reportColumns+` FROM reports WHERE store_id=$1 AND completed=$2 ORDER BY created_at DESC, id DESC LIMIT 1`, storeID, false))
	if errors.Is(err, sql.ErrNoRows) {
		return rep, ErrNotFound
	}
	return rep, err
}

type ReportFilters struct {
	StoreID        string
	TemplateID     string
	Completed      *bool
	IncludeAnswers bool
	Limit          int
}

func (r Repo) ListReports(ctx context.Context, f ReportFilters) ([]domain.Report, error) {
	var p params
	var clauses []string
	if f.StoreID != "" {
		clauses = append(clauses, "store_id="+p.add(f.StoreID))
	}
	if f.TemplateID != "" {
		clauses = append(clauses, "template_id="+p.add(f.TemplateID))
	}
	if f.Completed != nil {
		clauses = append(clauses, "completed="+p.add(*f.Completed))
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + reportColumns + ` FROM reports ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT " + p.add(f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, p.args...)
	if err != nil {
		return nil, err
	}
	var res []domain.Report
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		res = append(res, rep)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if !f.IncludeAnswers {
		return res, nil
	}
	for i := range res {
		answers, err := r.listAnswers(ctx, r.DB, res[i].ID)
		if err != nil {
			return nil, err
		}
		res[i].Answers = answers
	}
	return res, nil
}

func (r Repo) DeleteReport(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM reports WHERE id=$1`, id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}
