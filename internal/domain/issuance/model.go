// Package issuance coordinates the final approval of a case: rendering the
// outcome document, storing it, recording the issuance, transitioning the
// case, and auditing the transition as one atomic operation. A certificate
// must never exist without its case transition, and a case must never read
// approved without its certificate.
package issuance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Record maps to the issuances table. One row per case, enforced by a
// unique constraint; the template snapshot is captured verbatim so the
// document can be reproduced after templates change.
type Record struct {
	ID               uuid.UUID `db:"id" json:"id"`
	CaseID           uuid.UUID `db:"case_id" json:"case_id"`
	DocumentID       string    `db:"document_id" json:"document_id"`
	DocumentHash     string    `db:"document_hash" json:"document_hash"`
	TemplateID       string    `db:"template_id" json:"template_id"`
	TemplateSnapshot string    `db:"template_snapshot" json:"template_snapshot"`
	IssuedBy         string    `db:"issued_by" json:"issued_by"`
	IssuedAt         time.Time `db:"issued_at" json:"issued_at"`
}

// Result is what the issue endpoint returns. AlreadyIssued marks the
// idempotent path where the case was finalized by an earlier call.
type Result struct {
	CaseID        uuid.UUID `json:"case_id"`
	CertificateID string    `json:"certificate_id"`
	DocumentHash  string    `json:"document_hash"`
	IssuedAt      time.Time `json:"issued_at"`
	AlreadyIssued bool      `json:"already_issued,omitempty"`
}

// Request carries the reviewer-supplied inputs for issuing a document.
type Request struct {
	TemplateID string            `json:"template_id"`
	Data       map[string]string `json:"data"`
	FileName   string            `json:"file_name"`
	// Recipient, when set, receives the outcome notification. Empty means
	// the session left no contact channel and no notification is sent.
	Recipient string `json:"recipient,omitempty"`
}

// ErrorKind classifies an issuance failure for the caller.
type ErrorKind string

const (
	// KindTransient covers storage and infrastructure faults; the client
	// may retry the same request.
	KindTransient ErrorKind = "transient"
	// KindClaimExpired means the caller's claim lapsed or was taken over
	// between opening the case and issuing; the case was not touched.
	KindClaimExpired ErrorKind = "claim_expired"
)

// IssuanceError wraps a failed issue or decline attempt with its kind.
type IssuanceError struct {
	Kind ErrorKind
	Err  error
}

func (e *IssuanceError) Error() string {
	return fmt.Sprintf("issuance failed (%s): %v", e.Kind, e.Err)
}

func (e *IssuanceError) Unwrap() error { return e.Err }

var (
	// ErrNotFound is returned when a case has no issuance record.
	ErrNotFound = errors.New("issuance record not found")
	// ErrAlreadyIssued is returned by Create when the case already has a
	// record. It indicates a lost race, not corruption: the unique
	// constraint held.
	ErrAlreadyIssued = errors.New("case already has an issuance record")
	// ErrCaseFinalized is returned when a case reached a terminal status
	// with no document to return, such as declined or cancelled.
	ErrCaseFinalized = errors.New("case already finalized without a document")
)

// Repository stores issuance records. Records are written once inside the
// finalizing transaction and never updated.
type Repository interface {
	Create(ctx context.Context, rec *Record) error
	GetByCase(ctx context.Context, caseID uuid.UUID) (*Record, error)
}

// Notifier delivers outcome notifications after commit. Send failures are
// the notification layer's problem to retry; issuance only logs them.
type Notifier interface {
	SendFromTemplate(ctx context.Context, templateID string, data map[string]string, recipient string) error
}
