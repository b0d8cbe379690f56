package jurisdiction

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/casewatch/casewatch/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const cols = `id, parent_id, name, path, email, created_at`

func (r *repoPG) Create(ctx context.Context, j *Jurisdiction) error {
	j.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO jurisdictions (id, parent_id, name, path, email)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`,
		j.ID, j.ParentID, j.Name, j.Path, j.Email,
	).Scan(&j.CreatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Jurisdiction, error) {
	return scan(r.conn(ctx).QueryRow(ctx, `SELECT `+cols+` FROM jurisdictions WHERE id = $1`, id))
}

func (r *repoPG) FindChild(ctx context.Context, parentID *uuid.UUID, name string) (*Jurisdiction, error) {
	return scan(r.conn(ctx).QueryRow(ctx,
		`SELECT `+cols+` FROM jurisdictions WHERE parent_id IS NOT DISTINCT FROM $1 AND name = $2`,
		parentID, name))
}

func (r *repoPG) UpdateEmail(ctx context.Context, id uuid.UUID, email *string) error {
	_, err := r.conn(ctx).Exec(ctx, `UPDATE jurisdictions SET email = $2 WHERE id = $1`, id, email)
	return err
}

func (r *repoPG) List(ctx context.Context) ([]*Jurisdiction, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+cols+` FROM jurisdictions ORDER BY path`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Jurisdiction
	for rows.Next() {
		j, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func scan(row pgx.Row) (*Jurisdiction, error) {
	var j Jurisdiction
	if err := row.Scan(&j.ID, &j.ParentID, &j.Name, &j.Path, &j.Email, &j.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &j, nil
}
