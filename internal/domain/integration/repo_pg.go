package integration

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carelink/carelink/internal/platform/db"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const errCols = `id, patient_id, order_id, payload, error_message, retry_count,
	status, next_retry_at, last_tried_at, created_at, updated_at`

func scanErr(row pgx.Row) (*IngestError, error) {
	var e IngestError
	err := row.Scan(&e.ID, &e.PatientID, &e.OrderID, &e.Payload, &e.ErrorMessage,
		&e.RetryCount, &e.Status, &e.NextRetryAt, &e.LastTriedAt,
		&e.CreatedAt, &e.UpdatedAt)
	return &e, err
}

func (r *repoPG) Create(ctx context.Context, e *IngestError) error {
	e.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO ingest_error (id, patient_id, order_id, payload, error_message,
			retry_count, status, next_retry_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at, updated_at`,
		e.ID, e.PatientID, e.OrderID, e.Payload, e.ErrorMessage,
		e.RetryCount, e.Status, e.NextRetryAt,
	).Scan(&e.CreatedAt, &e.UpdatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*IngestError, error) {
	return scanErr(r.conn(ctx).QueryRow(ctx,
		`SELECT `+errCols+` FROM ingest_error WHERE id = $1`, id))
}

func (r *repoPG) Update(ctx context.Context, e *IngestError) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE ingest_error SET
			error_message = $2, retry_count = $3, status = $4,
			next_retry_at = $5, last_tried_at = $6, updated_at = NOW()
		WHERE id = $1`,
		e.ID, e.ErrorMessage, e.RetryCount, e.Status, e.NextRetryAt, e.LastTriedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *repoPG) ListEligible(ctx context.Context, now time.Time, limit int) ([]*IngestError, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+errCols+` FROM ingest_error
		WHERE status IN ('pending', 'retrying', 'failed') AND next_retry_at <= $1
		ORDER BY next_retry_at ASC
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*IngestError
	for rows.Next() {
		e, err := scanErr(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

func (r *repoPG) List(ctx context.Context, status string, limit, offset int) ([]*IngestError, int, error) {
	where := ""
	args := []interface{}{}
	if status != "" {
		where = "WHERE status = $1"
		args = append(args, status)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		"SELECT COUNT(*) FROM ingest_error "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	q := fmt.Sprintf("SELECT %s FROM ingest_error %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
		errCols, where, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, q, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*IngestError
	for rows.Next() {
		e, err := scanErr(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, e)
	}
	return items, total, rows.Err()
}
