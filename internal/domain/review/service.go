package review

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/telehq/intake/internal/domain/audit"
	"github.com/telehq/intake/internal/domain/intake"
	"github.com/telehq/intake/internal/platform/db"
)

// DefaultClaimTTL bounds how long a claim may sit idle before another
// reviewer can take the case over.
const DefaultClaimTTL = 15 * time.Minute

// Service is the claim manager. Every grant and release is one transaction
// containing both the case mutation and its audit entry; if the audit write
// fails the claim change rolls back with it.
type Service struct {
	store   ClaimStore
	auditor audit.Recorder
	tx      db.TxRunner
	ttl     time.Duration
	now     func() time.Time
	logger  zerolog.Logger
}

func NewService(store ClaimStore, auditor audit.Recorder, tx db.TxRunner, ttl time.Duration, logger zerolog.Logger) *Service {
	if ttl <= 0 {
		ttl = DefaultClaimTTL
	}
	return &Service{
		store:   store,
		auditor: auditor,
		tx:      tx,
		ttl:     ttl,
		now:     time.Now,
		logger:  logger.With().Str("component", "review").Logger(),
	}
}

// TTL returns the configured claim staleness window.
func (s *Service) TTL() time.Duration { return s.ttl }

// Claim attempts to take exclusive hold of a case for reviewerID.
func (s *Service) Claim(ctx context.Context, caseID uuid.UUID, reviewerID, reviewerRole string) (*ClaimResult, error) {
	now := s.now().UTC()
	var result *ClaimResult

	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		c, prevStatus, ok, err := s.store.TryClaim(ctx, caseID, reviewerID, now, now.Add(-s.ttl))
		if err != nil {
			return err
		}
		if !ok {
			if c.Status == intake.StatusInReview && c.ClaimedBy != nil {
				result = &ClaimResult{Granted: false, Case: c, CurrentHolder: *c.ClaimedBy}
				return nil
			}
			return ErrNotClaimable
		}

		// An idempotent re-claim by the current holder is not a
		// transition and gets no audit entry.
		if prevStatus == intake.StatusInReview && c.ClaimedBy != nil && *c.ClaimedBy == reviewerID {
			result = &ClaimResult{Granted: true, Case: c}
			return nil
		}

		meta := map[string]string{"reviewer_id": reviewerID}
		if prevStatus == intake.StatusInReview {
			meta["takeover"] = "stale_claim"
		}
		if err := s.auditor.Record(ctx, &audit.Entry{
			CaseID:     caseID,
			ActorID:    reviewerID,
			ActorRole:  reviewerRole,
			FromStatus: string(prevStatus),
			ToStatus:   string(intake.StatusInReview),
			Metadata:   meta,
		}); err != nil {
			return err
		}
		result = &ClaimResult{Granted: true, Case: c}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Granted {
		s.logger.Info().Str("case_id", caseID.String()).Str("reviewer_id", reviewerID).Msg("claim granted")
	} else {
		s.logger.Info().Str("case_id", caseID.String()).Str("reviewer_id", reviewerID).
			Str("holder", result.CurrentHolder).Msg("claim denied")
	}
	return result, nil
}

// Release gives up a held claim, returning the case to paid.
func (s *Service) Release(ctx context.Context, caseID uuid.UUID, reviewerID, reviewerRole string) error {
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		_, ok, err := s.store.Release(ctx, caseID, reviewerID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotHolder
		}
		return s.auditor.Record(ctx, &audit.Entry{
			CaseID:     caseID,
			ActorID:    reviewerID,
			ActorRole:  reviewerRole,
			FromStatus: string(intake.StatusInReview),
			ToStatus:   string(intake.StatusPaid),
			Metadata:   map[string]string{"released_by": reviewerID},
		})
	})
	if err == nil {
		s.logger.Info().Str("case_id", caseID.String()).Str("reviewer_id", reviewerID).Msg("claim released")
	}
	return err
}

// SweepExpired releases claims whose holders went quiet past the TTL. A
// crashed reviewer session must not lock a case forever.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	staleBefore := s.now().UTC().Add(-s.ttl)
	var count int

	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		expired, err := s.store.ReleaseExpired(ctx, staleBefore)
		if err != nil {
			return err
		}
		for _, ec := range expired {
			if err := s.auditor.Record(ctx, &audit.Entry{
				CaseID:     ec.Case.ID,
				ActorID:    audit.ActorSystem,
				ActorRole:  audit.ActorSystem,
				FromStatus: string(intake.StatusInReview),
				ToStatus:   string(intake.StatusPaid),
				Metadata:   map[string]string{"expired_holder": ec.Holder},
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
		s.logger.Info().Int("released", count).Msg("expired claims swept")
	}
	return count, nil
}

// VerifyHeld checks that reviewerID currently holds a live claim on the
// case. Used by the issuance coordinator before doing any work.
func (s *Service) VerifyHeld(ctx context.Context, caseID uuid.UUID, reviewerID string) (*intake.Case, error) {
	c, err := s.store.GetByID(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if c.Status != intake.StatusInReview || c.ClaimedBy == nil || *c.ClaimedBy != reviewerID {
		holder := ""
		if c.ClaimedBy != nil {
			holder = *c.ClaimedBy
		}
		return c, &ClaimConflictError{Holder: holder}
	}
	if c.ClaimedAt == nil || s.now().UTC().Sub(c.ClaimedAt.UTC()) > s.ttl {
		return c, ErrClaimExpired
	}
	return c, nil
}
