package intake

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/telehq/intake/internal/domain/audit"
	"github.com/telehq/intake/internal/domain/draft"
	"github.com/telehq/intake/internal/domain/flow"
	"github.com/telehq/intake/internal/platform/db"
)

// Service creates cases from submitted sessions and answers reviewer-side
// queries. Payment capture happens upstream; by the time SubmitFlow is
// called the fee is confirmed, so new cases start in paid.
type Service struct {
	cases   CaseRepository
	drafts  draft.Repository
	flows   *flow.Registry
	auditor audit.Recorder
	tx      db.TxRunner
	logger  zerolog.Logger
}

func NewService(cases CaseRepository, drafts draft.Repository, flows *flow.Registry, auditor audit.Recorder, tx db.TxRunner, logger zerolog.Logger) *Service {
	return &Service{
		cases:   cases,
		drafts:  drafts,
		flows:   flows,
		auditor: auditor,
		tx:      tx,
		logger:  logger.With().Str("component", "intake").Logger(),
	}
}

// SubmitFlow turns a persisted draft into a case record. The server never
// trusts client-side validation: required answers and safety flags are
// recomputed here against the draft's definition version. Submission is
// idempotent per session; a retry returns the existing case.
func (s *Service) SubmitFlow(ctx context.Context, sessionID, actorID string) (*Case, error) {
	if existing, err := s.cases.GetBySession(ctx, sessionID); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	snap, err := s.drafts.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, draft.ErrNotFound) {
			return nil, ErrDraftNotFound
		}
		return nil, err
	}

	def, err := s.flows.Get(snap.FlowID, snap.FlowVersion)
	if err != nil {
		return nil, fmt.Errorf("resolve flow definition: %w", err)
	}

	ev := flow.Evaluate(def, snap.Answers)
	if knockouts := ev.KnockoutFlags(); len(knockouts) > 0 {
		return nil, &flow.KnockoutError{Flags: knockouts}
	}
	if missing := flow.MissingRequired(def, snap.Answers); len(missing) > 0 {
		return nil, &flow.ValidationError{Missing: missing}
	}

	c := &Case{
		ID:          uuid.New(),
		FlowID:      snap.FlowID,
		FlowVersion: snap.FlowVersion,
		SessionID:   sessionID,
		Answers:     snap.Answers.Clone(),
		Flags:       ev.Flags,
		Status:      StatusPaid,
	}

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.cases.Create(ctx, c); err != nil {
			return err
		}
		if err := s.drafts.MarkSubmitted(ctx, sessionID); err != nil {
			return err
		}
		return s.auditor.Record(ctx, &audit.Entry{
			CaseID:     c.ID,
			ActorID:    actorID,
			ActorRole:  "patient",
			FromStatus: "",
			ToStatus:   string(StatusPaid),
			Metadata:   map[string]string{"session_id": sessionID, "flow_id": snap.FlowID},
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("case_id", c.ID.String()).
		Str("flow_id", c.FlowID).
		Int("flags", len(c.Flags)).
		Msg("case submitted")
	return c, nil
}

// RequestInfo hands a held case back to the respondent: the status moves to
// pending_info, the claim is released, and the case becomes claimable again
// once the respondent replies.
func (s *Service) RequestInfo(ctx context.Context, caseID uuid.UUID, reviewerID, reviewerRole, note string) (*Case, error) {
	meta := map[string]string{"reviewer_id": reviewerID}
	if note != "" {
		meta["note"] = note
	}
	return s.handback(ctx, caseID, reviewerID, reviewerRole, StatusPendingInfo, meta)
}

// Escalate routes a held case to the senior clinician queue.
func (s *Service) Escalate(ctx context.Context, caseID uuid.UUID, reviewerID, reviewerRole, reason string) (*Case, error) {
	meta := map[string]string{"reviewer_id": reviewerID}
	if reason != "" {
		meta["reason"] = reason
	}
	return s.handback(ctx, caseID, reviewerID, reviewerRole, StatusEscalated, meta)
}

func (s *Service) handback(ctx context.Context, caseID uuid.UUID, reviewerID, reviewerRole string, to Status, meta map[string]string) (*Case, error) {
	var out *Case
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		c, err := s.cases.Handback(ctx, caseID, reviewerID, to)
		if err != nil {
			return err
		}
		out = c
		return s.auditor.Record(ctx, &audit.Entry{
			CaseID:     caseID,
			ActorID:    reviewerID,
			ActorRole:  reviewerRole,
			FromStatus: string(StatusInReview),
			ToStatus:   string(to),
			Metadata:   meta,
		})
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("case_id", caseID.String()).Str("reviewer_id", reviewerID).
		Str("status", string(to)).Msg("case handed back")
	return out, nil
}

// Complete closes out a finalized case once the surrounding platform has
// delivered its outcome.
func (s *Service) Complete(ctx context.Context, caseID uuid.UUID, actorID, actorRole string) (*Case, error) {
	return s.transition(ctx, caseID, StatusCompleted, actorID, actorRole, nil)
}

// Cancel abandons a case that has not reached an outcome.
func (s *Service) Cancel(ctx context.Context, caseID uuid.UUID, actorID, actorRole, reason string) (*Case, error) {
	var meta map[string]string
	if reason != "" {
		meta = map[string]string{"reason": reason}
	}
	return s.transition(ctx, caseID, StatusCancelled, actorID, actorRole, meta)
}

// transition applies the legality table to a status change. The from-status
// guard stays inside the repository UPDATE, so a concurrent move fails the
// write instead of being overwritten.
func (s *Service) transition(ctx context.Context, caseID uuid.UUID, to Status, actorID, actorRole string, meta map[string]string) (*Case, error) {
	var out *Case
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		cur, err := s.cases.GetByID(ctx, caseID)
		if err != nil {
			return err
		}
		if !CanTransition(cur.Status, to) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur.Status, to)
		}
		c, err := s.cases.UpdateStatus(ctx, caseID, cur.Status, to)
		if err != nil {
			return err
		}
		out = c
		return s.auditor.Record(ctx, &audit.Entry{
			CaseID:     caseID,
			ActorID:    actorID,
			ActorRole:  actorRole,
			FromStatus: string(cur.Status),
			ToStatus:   string(to),
			Metadata:   meta,
		})
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("case_id", caseID.String()).Str("actor_id", actorID).
		Str("status", string(to)).Msg("case transitioned")
	return out, nil
}

// ExpireStale times out cases that sat in paid or pending_info past the
// retention window, auditing each expiry as a system transition.
func (s *Service) ExpireStale(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	var count int

	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		expired, err := s.cases.ExpireBefore(ctx, cutoff)
		if err != nil {
			return err
		}
		for _, ec := range expired {
			if err := s.auditor.Record(ctx, &audit.Entry{
				CaseID:     ec.Case.ID,
				ActorID:    audit.ActorSystem,
				ActorRole:  audit.ActorSystem,
				FromStatus: string(ec.From),
				ToStatus:   string(StatusExpired),
				Metadata:   map[string]string{"cutoff": cutoff.Format(time.RFC3339)},
			}); err != nil {
				return err
			}
		}
		count = len(expired)
		return nil
	})
	if err != nil {
		return 0, err
	}
	if count > 0 {
		s.logger.Info().Int("expired", count).Msg("stale cases expired")
	}
	return count, nil
}

// GetCase returns a single case.
func (s *Service) GetCase(ctx context.Context, id uuid.UUID) (*Case, error) {
	return s.cases.GetByID(ctx, id)
}

// ListCases returns the reviewer queue, optionally filtered by status.
func (s *Service) ListCases(ctx context.Context, status Status, limit, offset int) ([]*Case, int, error) {
	return s.cases.ListByStatus(ctx, status, limit, offset)
}

// Summary projects a case's frozen answers down to questions visible under
// its own definition version. Hidden answers stay stored for audit but are
// excluded from the reviewer-facing view.
func (s *Service) Summary(ctx context.Context, id uuid.UUID) (*Case, flow.Answers, error) {
	c, err := s.cases.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	def, err := s.flows.Get(c.FlowID, c.FlowVersion)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve flow definition: %w", err)
	}
	return c, flow.VisibleAnswers(def, c.Answers), nil
}
