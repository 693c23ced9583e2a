package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/telehq/intake/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type auditRepoPG struct{ pool *pgxpool.Pool }

// NewRepoPG returns the Postgres-backed audit repository.
func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &auditRepoPG{pool: pool}
}

func (r *auditRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

// Record appends one entry. There is deliberately no update or delete path
// on this table.
func (r *auditRepoPG) Record(ctx context.Context, e *Entry) error {
	e.ID = uuid.New()
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("%w: encode metadata: %v", ErrWriteFailed, err)
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO audit_log (id, case_id, actor_id, actor_role, from_status, to_status, at, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.CaseID, e.ActorID, e.ActorRole, e.FromStatus, e.ToStatus, e.At, meta)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	return nil
}

func (r *auditRepoPG) ListByCase(ctx context.Context, caseID uuid.UUID, limit, offset int) ([]*Entry, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM audit_log WHERE case_id = $1`, caseID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, case_id, actor_id, actor_role, from_status, to_status, at, metadata
		FROM audit_log WHERE case_id = $1 ORDER BY at ASC, id ASC LIMIT $2 OFFSET $3`,
		caseID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Entry
	for rows.Next() {
		var e Entry
		var meta []byte
		if err := rows.Scan(&e.ID, &e.CaseID, &e.ActorID, &e.ActorRole, &e.FromStatus, &e.ToStatus, &e.At, &meta); err != nil {
			return nil, 0, err
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &e.Metadata); err != nil {
				return nil, 0, fmt.Errorf("decode audit metadata: %w", err)
			}
		}
		items = append(items, &e)
	}
	return items, total, nil
}
