package audit

import (
	"context"

	"github.com/google/uuid"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Record(ctx context.Context, e *Entry) error {
	return s.repo.Record(ctx, e)
}

func (s *Service) ListByCase(ctx context.Context, caseID uuid.UUID, limit, offset int) ([]*Entry, int, error) {
	return s.repo.ListByCase(ctx, caseID, limit, offset)
}
