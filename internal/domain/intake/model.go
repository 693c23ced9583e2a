// Package intake owns the case record: the durable representation of one
// submitted questionnaire as it moves through review. Status and claim
// fields are mutated only through the review claim manager and the
// issuance coordinator, never by direct field writes, so every transition
// has a matching audit entry.
package intake

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/telehq/intake/internal/domain/flow"
)

// Status is the case lifecycle state.
type Status string

const (
	StatusPaid        Status = "paid"
	StatusInReview    Status = "in_review"
	StatusApproved    Status = "approved"
	StatusDeclined    Status = "declined"
	StatusPendingInfo Status = "pending_info"
	StatusEscalated   Status = "escalated"
	StatusCompleted   Status = "completed"
	StatusCancelled   Status = "cancelled"
	StatusExpired     Status = "expired"
)

// transitions is the legality table for the case state machine. Entering
// in_review additionally requires a non-null claim holder, which the claim
// manager enforces.
var transitions = map[Status][]Status{
	StatusPaid:        {StatusInReview, StatusCancelled, StatusExpired},
	StatusInReview:    {StatusApproved, StatusDeclined, StatusPendingInfo, StatusEscalated, StatusPaid, StatusCancelled, StatusExpired},
	StatusPendingInfo: {StatusInReview, StatusCancelled, StatusExpired},
	StatusEscalated:   {StatusInReview, StatusCompleted, StatusCancelled, StatusExpired},
	StatusApproved:    {StatusCompleted},
	StatusDeclined:    {StatusCompleted},
}

// CanTransition reports whether from -> to is a legal lifecycle move.
func CanTransition(from, to Status) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Terminal reports whether a case in this status can never be claimed again.
func (s Status) Terminal() bool {
	switch s {
	case StatusApproved, StatusDeclined, StatusCompleted, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// Case maps to the cases table.
type Case struct {
	ID          uuid.UUID         `db:"id" json:"id"`
	FlowID      string            `db:"flow_id" json:"flow_id"`
	FlowVersion int               `db:"flow_version" json:"flow_version"`
	SessionID   string            `db:"session_id" json:"session_id"`
	Answers     flow.Answers      `db:"answers" json:"answers"`
	Flags       []flow.SafetyFlag `db:"flags" json:"flags,omitempty"`
	Status      Status            `db:"status" json:"status"`
	ClaimedBy   *string           `db:"claimed_by" json:"claimed_by,omitempty"`
	ClaimedAt   *time.Time        `db:"claimed_at" json:"claimed_at,omitempty"`
	Outcome     *string           `db:"outcome" json:"outcome,omitempty"`
	DocumentID  *string           `db:"document_id" json:"document_id,omitempty"`
	RefundDue   bool              `db:"refund_due" json:"refund_due"`
	CreatedAt   time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time         `db:"updated_at" json:"updated_at"`
}

var (
	// ErrNotFound is returned when no case exists for the given id.
	ErrNotFound = errors.New("case not found")
	// ErrDraftNotFound is returned by SubmitFlow when the session has no
	// persisted draft.
	ErrDraftNotFound = errors.New("no draft for session")
	// ErrStaleClaim is returned when a finalizing write finds the claim no
	// longer held by the acting reviewer.
	ErrStaleClaim = errors.New("claim no longer held")
	// ErrInvalidTransition is returned when a requested status change is
	// not in the legality table.
	ErrInvalidTransition = errors.New("illegal status transition")
)
