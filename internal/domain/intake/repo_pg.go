package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/telehq/intake/internal/domain/flow"
	"github.com/telehq/intake/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type caseRepoPG struct{ pool *pgxpool.Pool }

// NewCaseRepoPG returns the Postgres-backed case repository.
func NewCaseRepoPG(pool *pgxpool.Pool) CaseRepository {
	return &caseRepoPG{pool: pool}
}

func (r *caseRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const caseCols = `id, flow_id, flow_version, session_id, answers, flags, status,
	claimed_by, claimed_at, outcome, document_id, refund_due, created_at, updated_at`

func scanCase(row pgx.Row) (*Case, error) {
	var c Case
	var answers, flags []byte
	err := row.Scan(&c.ID, &c.FlowID, &c.FlowVersion, &c.SessionID, &answers, &flags, &c.Status,
		&c.ClaimedBy, &c.ClaimedAt, &c.Outcome, &c.DocumentID, &c.RefundDue, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.Answers = make(flow.Answers)
	if err := json.Unmarshal(answers, &c.Answers); err != nil {
		return nil, fmt.Errorf("decode case answers: %w", err)
	}
	if len(flags) > 0 {
		if err := json.Unmarshal(flags, &c.Flags); err != nil {
			return nil, fmt.Errorf("decode case flags: %w", err)
		}
	}
	return &c, nil
}

func (r *caseRepoPG) Create(ctx context.Context, c *Case) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	answers, err := json.Marshal(c.Answers)
	if err != nil {
		return fmt.Errorf("encode case answers: %w", err)
	}
	flags, err := json.Marshal(c.Flags)
	if err != nil {
		return fmt.Errorf("encode case flags: %w", err)
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO cases (id, flow_id, flow_version, session_id, answers, flags, status, refund_due)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.ID, c.FlowID, c.FlowVersion, c.SessionID, answers, flags, c.Status, c.RefundDue)
	return err
}

func (r *caseRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Case, error) {
	return scanCase(r.conn(ctx).QueryRow(ctx, `SELECT `+caseCols+` FROM cases WHERE id = $1`, id))
}

func (r *caseRepoPG) GetBySession(ctx context.Context, sessionID string) (*Case, error) {
	return scanCase(r.conn(ctx).QueryRow(ctx, `SELECT `+caseCols+` FROM cases WHERE session_id = $1`, sessionID))
}

func (r *caseRepoPG) ListByStatus(ctx context.Context, status Status, limit, offset int) ([]*Case, int, error) {
	where := ``
	args := []interface{}{}
	if status != "" {
		where = ` WHERE status = $1`
		args = append(args, status)
	}
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM cases`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	n := len(args)
	rows, err := r.conn(ctx).Query(ctx,
		fmt.Sprintf(`SELECT %s FROM cases%s ORDER BY created_at ASC LIMIT $%d OFFSET $%d`, caseCols, where, n+1, n+2),
		append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, c)
	}
	return items, total, nil
}

// Finalize is a compare-and-swap: the status and holder guards are part of
// the UPDATE itself, so a stale reviewer can never overwrite a case that
// moved on underneath them.
func (r *caseRepoPG) Finalize(ctx context.Context, id uuid.UUID, reviewerID string, outcome Status, documentID *string, refundDue bool) (*Case, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		UPDATE cases
		SET status = $3, outcome = $3, document_id = $4, refund_due = $5, updated_at = NOW()
		WHERE id = $1 AND status = 'in_review' AND claimed_by = $2
		RETURNING `+caseCols,
		id, reviewerID, outcome, documentID, refundDue)

	c, err := scanCase(row)
	if errors.Is(err, ErrNotFound) {
		// Distinguish "case gone" from "claim lost".
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrStaleClaim
	}
	return c, err
}

// Handback shares the Finalize guard but keeps the case open: the claim is
// cleared so the case can be claimed again once the blocker resolves.
func (r *caseRepoPG) Handback(ctx context.Context, id uuid.UUID, reviewerID string, to Status) (*Case, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		UPDATE cases
		SET status = $3, claimed_by = NULL, claimed_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'in_review' AND claimed_by = $2
		RETURNING `+caseCols,
		id, reviewerID, to)

	c, err := scanCase(row)
	if errors.Is(err, ErrNotFound) {
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrStaleClaim
	}
	return c, err
}

func (r *caseRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Case, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		UPDATE cases
		SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING `+caseCols,
		id, from, to)

	c, err := scanCase(row)
	if errors.Is(err, ErrNotFound) {
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return nil, getErr
		}
		// The case exists but moved away from `from` concurrently.
		return nil, fmt.Errorf("%w: case left %s", ErrInvalidTransition, from)
	}
	return c, err
}

func (r *caseRepoPG) ExpireBefore(ctx context.Context, cutoff time.Time) ([]ExpiredCase, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		WITH stale AS (
			SELECT id, status AS prev FROM cases
			WHERE status IN ('paid', 'pending_info') AND updated_at < $1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE cases SET status = 'expired', updated_at = NOW()
		FROM stale WHERE cases.id = stale.id
		RETURNING cases.id, cases.flow_id, cases.flow_version, cases.session_id,
			cases.answers, cases.flags, cases.status, cases.claimed_by, cases.claimed_at,
			cases.outcome, cases.document_id, cases.refund_due, cases.created_at,
			cases.updated_at, stale.prev`,
		cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var expired []ExpiredCase
	for rows.Next() {
		var c Case
		var answers, flags []byte
		var prev Status
		err := rows.Scan(&c.ID, &c.FlowID, &c.FlowVersion, &c.SessionID, &answers, &flags, &c.Status,
			&c.ClaimedBy, &c.ClaimedAt, &c.Outcome, &c.DocumentID, &c.RefundDue, &c.CreatedAt, &c.UpdatedAt, &prev)
		if err != nil {
			return nil, err
		}
		c.Answers = make(flow.Answers)
		if err := json.Unmarshal(answers, &c.Answers); err != nil {
			return nil, fmt.Errorf("decode case answers: %w", err)
		}
		if len(flags) > 0 {
			if err := json.Unmarshal(flags, &c.Flags); err != nil {
				return nil, fmt.Errorf("decode case flags: %w", err)
			}
		}
		expired = append(expired, ExpiredCase{Case: &c, From: prev})
	}
	return expired, rows.Err()
}
