package repo

import (
	"context"
	"database/sql"
	"errors"

	"reportline/internal/domain"
)

func (r Repo) InsertStore(ctx context.Context, tx *sql.Tx, s domain.Store) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO stores(id,name,location,manager,user_id,created_at,updated_at) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		s.ID, s.Name, s.Location, s.Manager, s.UserID, s.CreatedAt, s.UpdatedAt)
	return err
}

func (r Repo) UpdateStore(ctx context.Context, tx *sql.Tx, s domain.Store) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE stores SET name=$1, location=$2, manager=$3, updated_at=$4 WHERE id=$5`,
		s.Name, s.Location, s.Manager, s.UpdatedAt, s.ID)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

func (r Repo) GetStore(ctx context.Context, id string) (domain.Store, error) {
	return r.GetStoreTx(ctx, nil, id)
}

func (r Repo) GetStoreTx(ctx context.Context, tx *sql.Tx, id string) (domain.Store, error) {
	var s domain.Store
	err := r.q(tx).QueryRowContext(ctx, `SELECT id,name,location,manager,user_id,created_at,updated_at FROM stores WHERE id=$1`, id).
		Scan(&s.ID, &s.Name, &s.Location, &s.Manager, &s.UserID, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return s, ErrNotFound
	}
	return s, err
}

func (r Repo) ListStores(ctx context.Context) ([]domain.Store, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,location,manager,user_id,created_at,updated_at FROM stores ORDER BY name ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Store
	for rows.Next() {
		var s domain.Store
		if err := rows.Scan(&s.ID, &s.Name, &s.Location, &s.Manager, &s.UserID, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// DeleteStore removes the store; its reports and answers cascade.
func (r Repo) DeleteStore(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM stores WHERE id=$1`, id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}
