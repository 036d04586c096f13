package encounter

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

const encCols = `id, patient_id, provider_id, status, reason, period_start, period_end, created_at, updated_at`

func scanEncounter(row pgx.Row) (*Encounter, error) {
	var e Encounter
	err := row.Scan(&e.ID, &e.PatientID, &e.ProviderID, &e.Status, &e.Reason,
		&e.PeriodStart, &e.PeriodEnd, &e.CreatedAt, &e.UpdatedAt)
	return &e, err
}

func (r *repoPG) Create(ctx context.Context, enc *Encounter) error {
	enc.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO encounter (id, patient_id, provider_id, status, reason, period_start, period_end)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at, updated_at`,
		enc.ID, enc.PatientID, enc.ProviderID, enc.Status, enc.Reason,
		enc.PeriodStart, enc.PeriodEnd,
	).Scan(&enc.CreatedAt, &enc.UpdatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Encounter, error) {
	return scanEncounter(r.conn(ctx).QueryRow(ctx,
		`SELECT `+encCols+` FROM encounter WHERE id = $1`, id))
}

func (r *repoPG) Update(ctx context.Context, enc *Encounter) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE encounter SET status=$2, reason=$3, period_start=$4, period_end=$5, updated_at=NOW()
		WHERE id = $1`,
		enc.ID, enc.Status, enc.Reason, enc.PeriodStart, enc.PeriodEnd)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, status string, limit, offset int) ([]*Encounter, int, error) {
	where := `WHERE patient_id = $1`
	args := []interface{}{patientID}
	if status != "" {
		where += ` AND status = $2`
		args = append(args, status)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM encounter `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	q := fmt.Sprintf(`SELECT %s FROM encounter %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		encCols, where, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, q, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Encounter
	for rows.Next() {
		e, err := scanEncounter(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, e)
	}
	return items, total, rows.Err()
}
