package audit

import (
	"context"
	"encoding/json"
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

const auditCols = `id, entity_type, entity_id, action, actor_id, actor_role, metadata, recorded`

func (r *repoPG) Insert(ctx context.Context, ev *Event) error {
	ev.ID = uuid.New()

	meta, err := json.Marshal(ev.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO audit_event (id, entity_type, entity_id, action, actor_id, actor_role, metadata, recorded)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		ev.ID, ev.EntityType, ev.EntityID, ev.Action, ev.ActorID, ev.ActorRole, meta, ev.Recorded,
	)
	return err
}

func (r *repoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Event, int, error) {
	where := []string{}
	args := []interface{}{}
	idx := 1

	for param, col := range map[string]string{
		"entity-type": "entity_type",
		"entity-id":   "entity_id",
		"action":      "action",
		"actor":       "actor_id",
	} {
		if v, ok := params[param]; ok {
			where = append(where, fmt.Sprintf("%s = $%d", col, idx))
			args = append(args, v)
			idx++
		}
	}

	whereClause := ""
	if len(where) > 0 {
		whereClause = "WHERE " + strings.Join(where, " AND ")
	}

	var total int
	countQ := fmt.Sprintf("SELECT COUNT(*) FROM audit_event %s", whereClause)
	if err := r.conn(ctx).QueryRow(ctx, countQ, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	q := fmt.Sprintf("SELECT %s FROM audit_event %s ORDER BY recorded DESC LIMIT $%d OFFSET $%d",
		auditCols, whereClause, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, q, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Event
	for rows.Next() {
		var ev Event
		var meta []byte
		if err := rows.Scan(&ev.ID, &ev.EntityType, &ev.EntityID, &ev.Action,
			&ev.ActorID, &ev.ActorRole, &meta, &ev.Recorded); err != nil {
			return nil, 0, err
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &ev.Metadata); err != nil {
				return nil, 0, fmt.Errorf("unmarshal metadata: %w", err)
			}
		}
		items = append(items, &ev)
	}
	return items, total, rows.Err()
}
