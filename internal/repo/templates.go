package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"reportline/internal/domain"
)

func (r Repo) InsertTemplate(ctx context.Context, tx *sql.Tx, t domain.Template) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO templates(id,title,description,user_id,created_at,updated_at) VALUES ($1,$2,$3,$4,$5,$6)`,
		t.ID, t.Title, t.Description, t.UserID, t.CreatedAt, t.UpdatedAt)
	return err
}

func (r Repo) UpdateTemplateHeader(ctx context.Context, tx *sql.Tx, id, title, description, updatedAt string) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE templates SET title=$1, description=$2, updated_at=$3 WHERE id=$4`,
		title, description, updatedAt, id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

// ReplaceQuestions deletes every question of the template and inserts qs.
// Callers assign ids and order_index beforehand.
func (r Repo) ReplaceQuestions(ctx context.Context, tx *sql.Tx, templateID string, qs []domain.Question) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM questions WHERE template_id=$1`, templateID); err != nil {
		return fmt.Errorf("delete questions: %w", err)
	}
	for _, q := range qs {
		if q.ID == "" {
			return errors.New("question id required")
		}
		opts := q.Options
		if opts == nil {
			opts = []string{}
		}
		data, err := json.Marshal(opts)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO questions(id,template_id,text,type,required,options_json,order_index,created_at) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			q.ID, templateID, q.Text, string(q.Type), q.Required, string(data), q.OrderIndex, q.CreatedAt); err != nil {
			return fmt.Errorf("insert question %d: %w", q.OrderIndex+1, err)
		}
	}
	return nil
}

func (r Repo) GetTemplate(ctx context.Context, id string) (domain.Template, error) {
	return r.GetTemplateTx(ctx, nil, id)
}

// GetTemplateTx loads a template and its questions in display order.
func (r Repo) GetTemplateTx(ctx context.Context, tx *sql.Tx, id string) (domain.Template, error) {
	q := r.q(tx)
	var t domain.Template
	err := q.QueryRowContext(ctx, `SELECT id,title,description,user_id,created_at,updated_at FROM templates WHERE id=$1`, id).
		Scan(&t.ID, &t.Title, &t.Description, &t.UserID, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	qs, err := r.listQuestions(ctx, q, id)
	if err != nil {
		return t, err
	}
	t.Questions = qs
	return t, nil
}

func (r Repo) listQuestions(ctx context.Context, q querier, templateID string) ([]domain.Question, error) {
	rows, err := q.QueryContext(ctx, `SELECT id,template_id,text,type,required,options_json,order_index,created_at FROM questions WHERE template_id=$1 ORDER BY order_index ASC, created_at ASC, id ASC`, templateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Question{}
	for rows.Next() {
		var qu domain.Question
		var typ, opts string
		if err := rows.Scan(&qu.ID, &qu.TemplateID, &qu.Text, &typ, &qu.Required, &opts, &qu.OrderIndex, &qu.CreatedAt); err != nil {
			return nil, err
		}
		qu.Type = domain.QuestionType(typ)
		if err := json.Unmarshal([]byte(opts), &qu.Options); err != nil {
			return nil, fmt.Errorf("question %s options: %w", qu.ID, err)
		}
		if len(qu.Options) == 0 {
			qu.Options = nil
		}
		res = append(res, qu)
	}
	return res, rows.Err()
}

// ListTemplates returns summaries with question counts, newest first.
func (r Repo) ListTemplates(ctx context.Context) ([]domain.TemplateSummary, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT t.id,t.title,t.description,t.user_id,t.created_at,t.updated_at,COUNT(q.id)
FROM templates t LEFT JOIN questions q ON q.template_id=t.id
GROUP BY t.id,t.title,t.description,t.user_id,t.created_at,t.updated_at
ORDER BY t.created_at DESC, t.id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TemplateSummary
	for rows.Next() {
		var s domain.TemplateSummary
		if err := rows.Scan(&s.ID, &s.Title, &s.Description, &s.UserID, &s.CreatedAt, &s.UpdatedAt, &s.QuestionCount); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// DeleteTemplate removes a template and its questions unless a report still
// references it.
func (r Repo) DeleteTemplate(ctx context.Context, tx *sql.Tx, id string) error {
	var n int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM reports WHERE template_id=$1`, id).Scan(&n); err != nil {
		return err
	}
	if n > 0 {
		return ErrTemplateInUse
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM templates WHERE id=$1`, id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}
