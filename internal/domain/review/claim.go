// Package review implements the exclusive, time-bounded claim a reviewer
// holds on a case. Claims are linearizable per case: grant, release, and
// takeover are single compare-and-swap writes, never read-then-write from
// the application layer.
package review

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/telehq/intake/internal/domain/intake"
)

// ClaimResult reports the outcome of a claim attempt. On denial the current
// holder is surfaced so the UI can show who has the case.
type ClaimResult struct {
	Granted       bool         `json:"granted"`
	Case          *intake.Case `json:"case,omitempty"`
	CurrentHolder string       `json:"current_holder,omitempty"`
}

var (
	// ErrNotHolder is returned when releasing a claim the caller does not hold.
	ErrNotHolder = errors.New("claim not held by caller")
	// ErrNotClaimable is returned for cases in a terminal state, which can
	// never be claimed.
	ErrNotClaimable = errors.New("case is not claimable")
	// ErrClaimExpired is returned when an action requires a live claim but
	// the holder's claim has aged past the TTL.
	ErrClaimExpired = errors.New("claim expired")
)

// ClaimConflictError carries the identity of the current holder for caller
// feedback; it is an expected outcome, not a fault.
type ClaimConflictError struct {
	Holder string
}

func (e *ClaimConflictError) Error() string {
	return fmt.Sprintf("case is claimed by %s", e.Holder)
}

// ExpiredClaim pairs a swept case with the reviewer whose claim lapsed.
type ExpiredClaim struct {
	Case   *intake.Case
	Holder string
}

// ClaimStore is the storage contract for the claim manager. TryClaim and
// Release must be atomic read-modify-writes on the case row.
type ClaimStore interface {
	// TryClaim attempts the compare-and-swap claim. It succeeds when the
	// case is paid or pending_info, already held by reviewerID (idempotent
	// re-claim), or held by someone else but stale (claimed_at before
	// staleBefore).
	// On failure it returns the case as it stood, with ok=false.
	TryClaim(ctx context.Context, caseID uuid.UUID, reviewerID string, now, staleBefore time.Time) (c *intake.Case, prevStatus intake.Status, ok bool, err error)
	// Release returns a held case to paid. ok=false when the caller does
	// not hold the claim.
	Release(ctx context.Context, caseID uuid.UUID, reviewerID string) (c *intake.Case, ok bool, err error)
	// ReleaseExpired returns every case whose claim started before
	// staleBefore to paid, reporting each released case with the reviewer
	// who had been holding it.
	ReleaseExpired(ctx context.Context, staleBefore time.Time) ([]ExpiredClaim, error)
	GetByID(ctx context.Context, caseID uuid.UUID) (*intake.Case, error)
}
