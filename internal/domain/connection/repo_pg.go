package connection

import (
	"context"
	"fmt"

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

const linkCols = `id, provider_id, patient_id, category, status, created_at, updated_at`

func scanLink(row pgx.Row) (*ProviderPatientLink, error) {
	var l ProviderPatientLink
	err := row.Scan(&l.ID, &l.ProviderID, &l.PatientID, &l.Category, &l.Status,
		&l.CreatedAt, &l.UpdatedAt)
	return &l, err
}

func (r *repoPG) Create(ctx context.Context, link *ProviderPatientLink) error {
	link.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO provider_patient_link (id, provider_id, patient_id, category, status)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING created_at, updated_at`,
		link.ID, link.ProviderID, link.PatientID, link.Category, link.Status,
	).Scan(&link.CreatedAt, &link.UpdatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*ProviderPatientLink, error) {
	return scanLink(r.conn(ctx).QueryRow(ctx,
		`SELECT `+linkCols+` FROM provider_patient_link WHERE id = $1`, id))
}

func (r *repoPG) GetByPair(ctx context.Context, providerID, patientID uuid.UUID) (*ProviderPatientLink, error) {
	return scanLink(r.conn(ctx).QueryRow(ctx,
		`SELECT `+linkCols+` FROM provider_patient_link WHERE provider_id = $1 AND patient_id = $2`,
		providerID, patientID))
}

func (r *repoPG) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE provider_patient_link SET status = $2, updated_at = NOW()
		WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *repoPG) ListByProvider(ctx context.Context, providerID uuid.UUID, status string, limit, offset int) ([]*ProviderPatientLink, int, error) {
	return r.list(ctx, "provider_id", providerID, status, limit, offset)
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, status string, limit, offset int) ([]*ProviderPatientLink, int, error) {
	return r.list(ctx, "patient_id", patientID, status, limit, offset)
}

func (r *repoPG) list(ctx context.Context, col string, id uuid.UUID, status string, limit, offset int) ([]*ProviderPatientLink, int, error) {
	where := fmt.Sprintf("WHERE %s = $1", col)
	args := []interface{}{id}
	if status != "" {
		where += " AND status = $2"
		args = append(args, status)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM provider_patient_link `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	q := fmt.Sprintf(`SELECT %s FROM provider_patient_link %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		linkCols, where, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, q, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*ProviderPatientLink
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, l)
	}
	return items, total, rows.Err()
}

func (r *repoPG) HasApproved(ctx context.Context, providerID, patientID uuid.UUID) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM provider_patient_link
			WHERE provider_id = $1 AND patient_id = $2 AND status = 'approved'
		)`, providerID, patientID).Scan(&exists)
	return exists, err
}
