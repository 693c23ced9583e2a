package draft

import (
	"context"
	"errors"
)

// Service implements the reconciler's persist/resume contract over a
// Repository.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Persist stores a snapshot and returns the server copy. Rules, in order:
//
//   - No stored snapshot: accepted as-is (version floor of 1).
//   - Incoming version below the stored one: ConflictError with the stored
//     copy so the caller can re-resolve.
//   - Identical content: no-op; the stored snapshot is returned unchanged
//     and the version is not bumped, so retries are safe.
//   - Otherwise: stored with version bumped past the stored one.
func (s *Service) Persist(ctx context.Context, snap *Snapshot) (*Snapshot, error) {
	stored, err := s.repo.Get(ctx, snap.SessionID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	out := *snap
	out.Answers = snap.Answers.Clone()
	out.Origin = OriginServer

	if stored != nil {
		if stored.Submitted {
			return nil, ErrSubmitted
		}
		if snap.Version < stored.Version {
			return nil, &ConflictError{Stored: stored}
		}
		if stored.Equal(snap) {
			return stored, nil
		}
		out.Version = stored.Version + 1
	} else if out.Version < 1 {
		out.Version = 1
	}

	if err := s.repo.Put(ctx, &out); err != nil {
		var conflict *ConflictError
		if errors.As(err, &conflict) {
			return nil, conflict
		}
		return nil, err
	}
	return &out, nil
}

// Resume returns the server snapshot for a session, or ErrNotFound.
func (s *Service) Resume(ctx context.Context, sessionID string) (*Snapshot, error) {
	return s.repo.Get(ctx, sessionID)
}

// ResumeWith reconciles a locally cached snapshot against the server copy
// using the Resolve precedence. A local copy newer than the server one is
// persisted back before being returned, so the durable store catches up.
func (s *Service) ResumeWith(ctx context.Context, sessionID string, local *Snapshot) (*Snapshot, error) {
	server, err := s.repo.Get(ctx, sessionID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	winner := Resolve(local, server)
	if winner == nil {
		return nil, ErrNotFound
	}
	if winner.Origin == OriginLocal {
		persisted, err := s.Persist(ctx, winner)
		if err == nil {
			return persisted, nil
		}
		// The respondent can keep working from the local copy even if the
		// catch-up write fails; the flusher retries it.
		var conflict *ConflictError
		if errors.As(err, &conflict) {
			return conflict.Stored, nil
		}
		return winner, nil
	}
	return winner, nil
}
