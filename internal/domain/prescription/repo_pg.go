package prescription

import (
	"context"
	"fmt"
	"strings"
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

const rxCols = `id, patient_id, provider_id, appointment_id,
	medication_name, dosage, frequency, duration, quantity, refills,
	instructions, notes, status, prescribed_date, start_date, end_date,
	created_at, updated_at`

func scanRx(row pgx.Row) (*Prescription, error) {
	var p Prescription
	err := row.Scan(&p.ID, &p.PatientID, &p.ProviderID, &p.AppointmentID,
		&p.MedicationName, &p.Dosage, &p.Frequency, &p.Duration, &p.Quantity, &p.Refills,
		&p.Instructions, &p.Notes, &p.Status, &p.PrescribedDate, &p.StartDate, &p.EndDate,
		&p.CreatedAt, &p.UpdatedAt)
	return &p, err
}

func (r *repoPG) Create(ctx context.Context, p *Prescription) error {
	p.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO prescription (id, patient_id, provider_id, appointment_id,
			medication_name, dosage, frequency, duration, quantity, refills,
			instructions, notes, status, prescribed_date, start_date, end_date)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		RETURNING created_at, updated_at`,
		p.ID, p.PatientID, p.ProviderID, p.AppointmentID,
		p.MedicationName, p.Dosage, p.Frequency, p.Duration, p.Quantity, p.Refills,
		p.Instructions, p.Notes, p.Status, p.PrescribedDate, p.StartDate, p.EndDate,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	return scanRx(r.conn(ctx).QueryRow(ctx,
		`SELECT `+rxCols+` FROM prescription WHERE id = $1`, id))
}

func (r *repoPG) Update(ctx context.Context, p *Prescription) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE prescription SET
			dosage = $2, frequency = $3, duration = $4, quantity = $5,
			refills = $6, instructions = $7, notes = $8, status = $9,
			start_date = $10, end_date = $11, updated_at = NOW()
		WHERE id = $1`,
		p.ID, p.Dosage, p.Frequency, p.Duration, p.Quantity,
		p.Refills, p.Instructions, p.Notes, p.Status,
		p.StartDate, p.EndDate)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, filter ListFilter, limit, offset int) ([]*Prescription, int, error) {
	var where []string
	var args []interface{}

	add := func(cond string, val interface{}) {
		args = append(args, val)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}

	if filter.PatientID != uuid.Nil {
		add("patient_id = $%d", filter.PatientID)
	}
	if filter.ProviderID != uuid.Nil {
		add("provider_id = $%d", filter.ProviderID)
	}
	if filter.Status != "" {
		add("status = $%d", filter.Status)
	}
	if filter.From != nil {
		add("prescribed_date >= $%d", *filter.From)
	}
	if filter.To != nil {
		add("prescribed_date <= $%d", *filter.To)
	}

	whereClause := ""
	if len(where) > 0 {
		whereClause = "WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM prescription %s", whereClause), args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	q := fmt.Sprintf("SELECT %s FROM prescription %s ORDER BY prescribed_date DESC LIMIT $%d OFFSET $%d",
		rxCols, whereClause, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, q, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Prescription
	for rows.Next() {
		p, err := scanRx(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

func (r *repoPG) ListActiveByPatient(ctx context.Context, patientID uuid.UUID) ([]*Prescription, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+rxCols+` FROM prescription WHERE patient_id = $1 AND status = 'active'`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Prescription
	for rows.Next() {
		p, err := scanRx(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

func (r *repoPG) ExpireActive(ctx context.Context, now time.Time) (int, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE prescription SET status = 'expired', updated_at = NOW()
		WHERE status = 'active' AND end_date IS NOT NULL AND end_date < $1`, now)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
