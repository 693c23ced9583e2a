package review

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
	"github.com/telehq/intake/internal/domain/intake"
	"github.com/telehq/intake/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type claimStorePG struct{ pool *pgxpool.Pool }

// NewClaimStorePG returns the Postgres-backed claim store.
func NewClaimStorePG(pool *pgxpool.Pool) ClaimStore {
	return &claimStorePG{pool: pool}
}

func (s *claimStorePG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return s.pool
}

const caseCols = `id, flow_id, flow_version, session_id, answers, flags, status,
	claimed_by, claimed_at, outcome, document_id, refund_due, created_at, updated_at`

const caseColsQualified = `cases.id, cases.flow_id, cases.flow_version, cases.session_id,
	cases.answers, cases.flags, cases.status, cases.claimed_by, cases.claimed_at,
	cases.outcome, cases.document_id, cases.refund_due, cases.created_at, cases.updated_at`

// scanCase decodes a case row; extra receives trailing columns such as the
// previous status returned by the claim CTE.
func scanCase(row pgx.Row, extra ...interface{}) (*intake.Case, error) {
	var c intake.Case
	var answers, flags []byte
	dest := []interface{}{&c.ID, &c.FlowID, &c.FlowVersion, &c.SessionID, &answers, &flags, &c.Status,
		&c.ClaimedBy, &c.ClaimedAt, &c.Outcome, &c.DocumentID, &c.RefundDue, &c.CreatedAt, &c.UpdatedAt}
	dest = append(dest, extra...)
	if err := row.Scan(dest...); err != nil {
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

// TryClaim locks the case row, evaluates the claim predicates, and writes
// the claim in the same statement. The CTE takes the row lock, so racing
// claims serialize: whichever commits first wins and the loser observes the
// new holder.
func (s *claimStorePG) TryClaim(ctx context.Context, caseID uuid.UUID, reviewerID string, now, staleBefore time.Time) (*intake.Case, intake.Status, bool, error) {
	row := s.conn(ctx).QueryRow(ctx, `
		WITH prev AS (
			SELECT id, status, claimed_by, claimed_at FROM cases WHERE id = $1 FOR UPDATE
		)
		UPDATE cases
		SET status = 'in_review', claimed_by = $2, claimed_at = $3, updated_at = NOW()
		FROM prev
		WHERE cases.id = prev.id AND (
			prev.status IN ('paid', 'pending_info')
			OR (prev.status = 'in_review' AND prev.claimed_by = $2)
			OR (prev.status = 'in_review' AND prev.claimed_at < $4)
		)
		RETURNING `+caseColsQualified+`, prev.status`,
		caseID, reviewerID, now, staleBefore)

	var prevStatus intake.Status
	c, err := scanCase(row, &prevStatus)
	if err == nil {
		return c, prevStatus, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, "", false, err
	}

	// No row updated: either the case does not exist or the predicates
	// failed. Fetch the current state for the denial result.
	current, err := s.GetByID(ctx, caseID)
	if err != nil {
		return nil, "", false, err
	}
	return current, current.Status, false, nil
}

func (s *claimStorePG) Release(ctx context.Context, caseID uuid.UUID, reviewerID string) (*intake.Case, bool, error) {
	row := s.conn(ctx).QueryRow(ctx, `
		UPDATE cases
		SET status = 'paid', claimed_by = NULL, claimed_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'in_review' AND claimed_by = $2
		RETURNING `+caseCols,
		caseID, reviewerID)

	c, err := scanCase(row)
	if err == nil {
		return c, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, err
	}
	current, err := s.GetByID(ctx, caseID)
	if err != nil {
		return nil, false, err
	}
	return current, false, nil
}

func (s *claimStorePG) ReleaseExpired(ctx context.Context, staleBefore time.Time) ([]ExpiredClaim, error) {
	rows, err := s.conn(ctx).Query(ctx, `
		WITH prev AS (
			SELECT id, claimed_by FROM cases
			WHERE status = 'in_review' AND claimed_at < $1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE cases
		SET status = 'paid', claimed_by = NULL, claimed_at = NULL, updated_at = NOW()
		FROM prev
		WHERE cases.id = prev.id
		RETURNING `+caseColsQualified+`, prev.claimed_by`,
		staleBefore)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var released []ExpiredClaim
	for rows.Next() {
		var holder *string
		c, err := scanCase(rows, &holder)
		if err != nil {
			return nil, err
		}
		ec := ExpiredClaim{Case: c}
		if holder != nil {
			ec.Holder = *holder
		}
		released = append(released, ec)
	}
	return released, rows.Err()
}

func (s *claimStorePG) GetByID(ctx context.Context, caseID uuid.UUID) (*intake.Case, error) {
	c, err := scanCase(s.conn(ctx).QueryRow(ctx, `SELECT `+caseCols+` FROM cases WHERE id = $1`, caseID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, intake.ErrNotFound
	}
	return c, err
}
