package draft

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

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

type draftRepoPG struct{ pool *pgxpool.Pool }

// NewRepoPG returns the Postgres-backed draft repository.
func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &draftRepoPG{pool: pool}
}

func (r *draftRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const draftCols = `session_id, flow_id, flow_version, step_pointer, answers, version, updated_at, submitted`

func (r *draftRepoPG) Get(ctx context.Context, sessionID string) (*Snapshot, error) {
	row := r.conn(ctx).QueryRow(ctx, `SELECT `+draftCols+` FROM drafts WHERE session_id = $1`, sessionID)

	var s Snapshot
	var answers []byte
	err := row.Scan(&s.SessionID, &s.FlowID, &s.FlowVersion, &s.StepPointer, &answers, &s.Version, &s.UpdatedAt, &s.Submitted)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	s.Answers = make(flow.Answers)
	if err := json.Unmarshal(answers, &s.Answers); err != nil {
		return nil, fmt.Errorf("decode draft answers: %w", err)
	}
	s.Origin = OriginServer
	return &s, nil
}

// Put upserts the snapshot with the version guard in the statement itself:
// the conditional update only fires when the incoming version is >= the
// stored one and the draft is not frozen, so concurrent writers cannot
// interleave a read-then-write race.
func (r *draftRepoPG) Put(ctx context.Context, snap *Snapshot) error {
	answers, err := json.Marshal(snap.Answers)
	if err != nil {
		return fmt.Errorf("encode draft answers: %w", err)
	}

	tag, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO drafts (session_id, flow_id, flow_version, step_pointer, answers, version, updated_at, submitted)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), FALSE)
		ON CONFLICT (session_id) DO UPDATE
		SET flow_id = EXCLUDED.flow_id,
		    flow_version = EXCLUDED.flow_version,
		    step_pointer = EXCLUDED.step_pointer,
		    answers = EXCLUDED.answers,
		    version = EXCLUDED.version,
		    updated_at = NOW()
		WHERE drafts.version <= EXCLUDED.version AND NOT drafts.submitted`,
		snap.SessionID, snap.FlowID, snap.FlowVersion, snap.StepPointer, answers, snap.Version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		stored, getErr := r.Get(ctx, snap.SessionID)
		if getErr != nil {
			return getErr
		}
		if stored.Submitted {
			return ErrSubmitted
		}
		return &ConflictError{Stored: stored}
	}
	return nil
}

func (r *draftRepoPG) MarkSubmitted(ctx context.Context, sessionID string) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE drafts SET submitted = TRUE, updated_at = NOW() WHERE session_id = $1`, sessionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *draftRepoPG) Delete(ctx context.Context, sessionID string) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM drafts WHERE session_id = $1`, sessionID)
	return err
}
