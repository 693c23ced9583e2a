// Package audit keeps the append-only trail of case status transitions.
// Every transition of a case record has exactly one entry; entries are
// never updated or deleted. Writers record entries inside the same
// transaction as the transition itself so the two cannot diverge.
package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Entry is one immutable audit record.
type Entry struct {
	ID         uuid.UUID         `db:"id" json:"id"`
	CaseID     uuid.UUID         `db:"case_id" json:"case_id"`
	ActorID    string            `db:"actor_id" json:"actor_id"`
	ActorRole  string            `db:"actor_role" json:"actor_role"`
	FromStatus string            `db:"from_status" json:"from_status"`
	ToStatus   string            `db:"to_status" json:"to_status"`
	At         time.Time         `db:"at" json:"at"`
	Metadata   map[string]string `db:"metadata" json:"metadata,omitempty"`
}

// ActorSystem is the actor id recorded for transitions performed by the
// platform itself, such as the claim expiry sweep.
const ActorSystem = "system"

// ErrWriteFailed wraps an audit insert failure. Callers treat it as fatal
// for the surrounding operation: a transition without an audit entry is a
// compliance violation, not a recoverable local error.
var ErrWriteFailed = errors.New("audit write failed")

// Recorder is the write-side interface handed to the intake, review, and
// issuance services.
type Recorder interface {
	Record(ctx context.Context, e *Entry) error
}

// Repository is the full store interface; it extends Recorder with the
// reviewer-facing query side.
type Repository interface {
	Recorder
	ListByCase(ctx context.Context, caseID uuid.UUID, limit, offset int) ([]*Entry, int, error)
}
