package intake

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ExpiredCase pairs a timed-out case with the status it was expired from.
type ExpiredCase struct {
	Case *Case
	From Status
}

// CaseRepository stores case records. Every status-mutating method here is
// a compare-and-swap: the guard is part of the UPDATE itself. Claim and
// release live in the review package.
type CaseRepository interface {
	Create(ctx context.Context, c *Case) error
	GetByID(ctx context.Context, id uuid.UUID) (*Case, error)
	GetBySession(ctx context.Context, sessionID string) (*Case, error)
	ListByStatus(ctx context.Context, status Status, limit, offset int) ([]*Case, int, error)
	// Finalize atomically moves a case out of in_review into outcome,
	// guarded on the claim still being held by reviewerID. Returns
	// ErrStaleClaim when the guard fails.
	Finalize(ctx context.Context, id uuid.UUID, reviewerID string, outcome Status, documentID *string, refundDue bool) (*Case, error)
	// Handback moves a held case out of in_review without finalizing it
	// (pending_info, escalated), clearing the claim so the case can be
	// claimed again later. Same guard as Finalize.
	Handback(ctx context.Context, id uuid.UUID, reviewerID string, to Status) (*Case, error)
	// UpdateStatus moves a case from one known status to another, with
	// the from-status guard inside the UPDATE. Returns
	// ErrInvalidTransition when the case moved concurrently.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Case, error)
	// ExpireBefore transitions paid and pending_info cases untouched
	// since the cutoff to expired, reporting each with its prior status.
	ExpireBefore(ctx context.Context, cutoff time.Time) ([]ExpiredCase, error)
}
