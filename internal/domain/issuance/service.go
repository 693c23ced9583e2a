package issuance

import (
	"bytes"
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/telehq/intake/internal/domain/audit"
	"github.com/telehq/intake/internal/domain/intake"
	"github.com/telehq/intake/internal/domain/review"
	"github.com/telehq/intake/internal/platform/blobstore"
	"github.com/telehq/intake/internal/platform/db"
	"github.com/telehq/intake/internal/platform/render"
)

const notifyTimeout = 10 * time.Second

// Service is the issuance coordinator. The ordering inside Issue is load
// bearing: the document is rendered and stored before the transaction opens,
// and the issuance record, case transition, and audit entry commit together
// or not at all.
type Service struct {
	issuances Repository
	cases     intake.CaseRepository
	claims    *review.Service
	renderer  render.Renderer
	blobs     blobstore.BlobStore
	auditor   audit.Recorder
	notifier  Notifier
	tx        db.TxRunner
	logger    zerolog.Logger
}

func NewService(
	issuances Repository,
	cases intake.CaseRepository,
	claims *review.Service,
	renderer render.Renderer,
	blobs blobstore.BlobStore,
	auditor audit.Recorder,
	notifier Notifier,
	tx db.TxRunner,
	logger zerolog.Logger,
) *Service {
	return &Service{
		issuances: issuances,
		cases:     cases,
		claims:    claims,
		renderer:  renderer,
		blobs:     blobs,
		auditor:   auditor,
		notifier:  notifier,
		tx:        tx,
		logger:    logger.With().Str("component", "issuance").Logger(),
	}
}

// Issue finalizes a case as approved and produces its outcome document.
// Calling it again on an already-finalized case returns the stored
// certificate instead of minting a second one.
func (s *Service) Issue(ctx context.Context, caseID uuid.UUID, reviewerID, reviewerRole string, req Request) (*Result, error) {
	c, err := s.claims.VerifyHeld(ctx, caseID, reviewerID)
	if err != nil {
		if c != nil && c.Status.Terminal() {
			return s.storedResult(ctx, caseID)
		}
		if errors.Is(err, review.ErrClaimExpired) {
			return nil, &IssuanceError{Kind: KindClaimExpired, Err: err}
		}
		return nil, err
	}

	doc, err := s.renderer.Render(ctx, req.TemplateID, req.Data)
	if err != nil {
		return nil, err
	}
	snapshot, err := s.renderer.Source(req.TemplateID)
	if err != nil {
		return nil, err
	}

	fileName := req.FileName
	if fileName == "" {
		fileName = req.TemplateID + ".txt"
	}
	meta, err := s.blobs.Put(ctx, blobstore.BlobMetadata{
		FileName:    fileName,
		ContentType: "text/plain; charset=utf-8",
		CaseID:      caseID.String(),
		Category:    "certificate",
		CreatedBy:   reviewerID,
	}, bytes.NewReader(doc))
	if err != nil {
		// Nothing durable happened; hand the case back so another
		// reviewer is not blocked on our dead attempt.
		if relErr := s.claims.Release(ctx, caseID, reviewerID, reviewerRole); relErr != nil {
			s.logger.Error().Err(relErr).Str("case_id", caseID.String()).Msg("release after storage failure failed")
		}
		return nil, &IssuanceError{Kind: KindTransient, Err: err}
	}

	rec := &Record{
		CaseID:           caseID,
		DocumentID:       meta.ID,
		DocumentHash:     meta.Hash,
		TemplateID:       req.TemplateID,
		TemplateSnapshot: snapshot,
		IssuedBy:         reviewerID,
	}

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.issuances.Create(ctx, rec); err != nil {
			return err
		}
		if _, err := s.cases.Finalize(ctx, caseID, reviewerID, intake.StatusApproved, &rec.DocumentID, false); err != nil {
			return err
		}
		return s.auditor.Record(ctx, &audit.Entry{
			CaseID:     caseID,
			ActorID:    reviewerID,
			ActorRole:  reviewerRole,
			FromStatus: string(intake.StatusInReview),
			ToStatus:   string(intake.StatusApproved),
			Metadata: map[string]string{
				"document_id":   rec.DocumentID,
				"document_hash": rec.DocumentHash,
				"template_id":   rec.TemplateID,
			},
		})
	})
	switch {
	case err == nil:
	case errors.Is(err, ErrAlreadyIssued):
		// Lost a race with a concurrent issue; the winner's document is
		// the one of record. The blob written above is orphaned, not
		// referenced.
		return s.storedResult(ctx, caseID)
	case errors.Is(err, intake.ErrStaleClaim):
		return nil, &IssuanceError{Kind: KindClaimExpired, Err: err}
	case errors.Is(err, audit.ErrWriteFailed):
		s.logger.Error().Err(err).Str("case_id", caseID.String()).Str("document_id", rec.DocumentID).
			Msg("audit write failed during issuance; transaction rolled back, flag for manual reconciliation")
		return nil, err
	default:
		return nil, err
	}

	s.logger.Info().Str("case_id", caseID.String()).Str("document_id", rec.DocumentID).
		Str("reviewer_id", reviewerID).Msg("document issued")

	s.notify(req.Recipient, "certificate-issued", map[string]string{
		"case_id":        caseID.String(),
		"certificate_id": rec.DocumentID,
	})

	return &Result{
		CaseID:        caseID,
		CertificateID: rec.DocumentID,
		DocumentHash:  rec.DocumentHash,
		IssuedAt:      rec.IssuedAt,
	}, nil
}

// Decline finalizes a case as declined and marks the payment for refund.
func (s *Service) Decline(ctx context.Context, caseID uuid.UUID, reviewerID, reviewerRole, reason, recipient string) error {
	c, err := s.claims.VerifyHeld(ctx, caseID, reviewerID)
	if err != nil {
		if c != nil && c.Status == intake.StatusDeclined {
			return nil
		}
		if errors.Is(err, review.ErrClaimExpired) {
			return &IssuanceError{Kind: KindClaimExpired, Err: err}
		}
		return err
	}

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if _, err := s.cases.Finalize(ctx, caseID, reviewerID, intake.StatusDeclined, nil, true); err != nil {
			return err
		}
		return s.auditor.Record(ctx, &audit.Entry{
			CaseID:     caseID,
			ActorID:    reviewerID,
			ActorRole:  reviewerRole,
			FromStatus: string(intake.StatusInReview),
			ToStatus:   string(intake.StatusDeclined),
			Metadata: map[string]string{
				"reason":     reason,
				"refund_due": "true",
			},
		})
	})
	switch {
	case err == nil:
	case errors.Is(err, intake.ErrStaleClaim):
		return &IssuanceError{Kind: KindClaimExpired, Err: err}
	case errors.Is(err, audit.ErrWriteFailed):
		s.logger.Error().Err(err).Str("case_id", caseID.String()).
			Msg("audit write failed during decline; transaction rolled back, flag for manual reconciliation")
		return err
	default:
		return err
	}

	s.logger.Info().Str("case_id", caseID.String()).Str("reviewer_id", reviewerID).Msg("case declined")

	s.notify(recipient, "case-declined-refund", map[string]string{
		"case_id": caseID.String(),
		"reason":  reason,
	})
	return nil
}

// storedResult serves the idempotent path: the case is terminal, return
// whatever was issued the first time.
func (s *Service) storedResult(ctx context.Context, caseID uuid.UUID) (*Result, error) {
	rec, err := s.issuances.GetByCase(ctx, caseID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrCaseFinalized
		}
		return nil, err
	}
	return &Result{
		CaseID:        rec.CaseID,
		CertificateID: rec.DocumentID,
		DocumentHash:  rec.DocumentHash,
		IssuedAt:      rec.IssuedAt,
		AlreadyIssued: true,
	}, nil
}

// notify sends fire-and-forget; issuance never fails on notification errors.
func (s *Service) notify(recipient, templateID string, data map[string]string) {
	if s.notifier == nil || recipient == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := s.notifier.SendFromTemplate(ctx, templateID, data, recipient); err != nil {
			s.logger.Warn().Err(err).Str("template_id", templateID).Msg("outcome notification failed")
		}
	}()
}
