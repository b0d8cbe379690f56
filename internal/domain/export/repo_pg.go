package export

import (
	"context"
	"errors"
	"time"

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

const cols = `id, user_id, user_email, export_type, filename, blob_key, lookup, created_at`

func scan(row pgx.Row) (*Download, error) {
	var d Download
	err := row.Scan(&d.ID, &d.UserID, &d.UserEmail, &d.ExportType, &d.Filename, &d.BlobKey, &d.Lookup, &d.CreatedAt)
	return &d, err
}

func (r *repoPG) Create(ctx context.Context, d *Download) error {
	d.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO downloads (id, user_id, user_email, export_type, filename, blob_key, lookup)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`,
		d.ID, d.UserID, d.UserEmail, d.ExportType, d.Filename, d.BlobKey, d.Lookup,
	).Scan(&d.CreatedAt)
}

func (r *repoPG) GetByLookup(ctx context.Context, lookup string) (*Download, error) {
	d, err := scan(r.conn(ctx).QueryRow(ctx, `SELECT `+cols+` FROM downloads WHERE lookup = $1`, lookup))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM downloads WHERE id = $1`, id)
	return err
}

func (r *repoPG) ListCreatedBefore(ctx context.Context, before time.Time) ([]*Download, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+cols+` FROM downloads WHERE created_at < $1 ORDER BY created_at`, before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Download
	for rows.Next() {
		d, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
