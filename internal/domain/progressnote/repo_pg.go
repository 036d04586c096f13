package progressnote

import (
	"context"
	"fmt"
	"strings"

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

const noteCols = `id, encounter_id, patient_id, author_id, status,
	subjective, objective, assessment, plan, summary, attachments,
	original_id, amendment_reason, signature_hash,
	autosaved_at, finalized_at, version_id, created_at, updated_at`

func scanNote(row pgx.Row) (*Note, error) {
	var n Note
	err := row.Scan(&n.ID, &n.EncounterID, &n.PatientID, &n.AuthorID, &n.Status,
		&n.Subjective, &n.Objective, &n.Assessment, &n.Plan, &n.Summary, &n.Attachments,
		&n.OriginalID, &n.AmendmentReason, &n.SignatureHash,
		&n.AutosavedAt, &n.FinalizedAt, &n.VersionID, &n.CreatedAt, &n.UpdatedAt)
	return &n, err
}

func (r *repoPG) Create(ctx context.Context, note *Note) error {
	note.ID = uuid.New()
	note.VersionID = 1
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO progress_note (id, encounter_id, patient_id, author_id, status,
			subjective, objective, assessment, plan, summary, attachments,
			original_id, amendment_reason, version_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		RETURNING created_at, updated_at`,
		note.ID, note.EncounterID, note.PatientID, note.AuthorID, note.Status,
		note.Subjective, note.Objective, note.Assessment, note.Plan, note.Summary,
		note.Attachments, note.OriginalID, note.AmendmentReason, note.VersionID,
	).Scan(&note.CreatedAt, &note.UpdatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Note, error) {
	return scanNote(r.conn(ctx).QueryRow(ctx,
		`SELECT `+noteCols+` FROM progress_note WHERE id = $1`, id))
}

func (r *repoPG) UpdateVersioned(ctx context.Context, note *Note, expectedVersion int) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE progress_note SET
			status = $2, subjective = $3, objective = $4, assessment = $5,
			plan = $6, summary = $7, attachments = $8, signature_hash = $9,
			autosaved_at = $10, finalized_at = $11,
			version_id = version_id + 1, updated_at = NOW()
		WHERE id = $1 AND version_id = $12`,
		note.ID, note.Status, note.Subjective, note.Objective, note.Assessment,
		note.Plan, note.Summary, note.Attachments, note.SignatureHash,
		note.AutosavedAt, note.FinalizedAt, expectedVersion)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionMismatch
	}
	note.VersionID = expectedVersion + 1
	return nil
}

func (r *repoPG) List(ctx context.Context, filter ListFilter, limit, offset int) ([]*Note, int, error) {
	var where []string
	var args []interface{}

	add := func(cond string, val interface{}) {
		args = append(args, val)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}

	if filter.EncounterID != uuid.Nil {
		add("encounter_id = $%d", filter.EncounterID)
	}
	if filter.PatientID != uuid.Nil {
		add("patient_id = $%d", filter.PatientID)
	}
	if filter.Status != "" {
		add("status = $%d", filter.Status)
	}
	if filter.Keyword != "" {
		args = append(args, "%"+filter.Keyword+"%")
		n := len(args)
		where = append(where, fmt.Sprintf(
			"(subjective ILIKE $%d OR objective ILIKE $%d OR assessment ILIKE $%d OR plan ILIKE $%d OR summary ILIKE $%d)",
			n, n, n, n, n))
	}

	whereClause := ""
	if len(where) > 0 {
		whereClause = "WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM progress_note %s", whereClause), args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	q := fmt.Sprintf("SELECT %s FROM progress_note %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
		noteCols, whereClause, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, q, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, n)
	}
	return items, total, rows.Err()
}
