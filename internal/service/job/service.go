package job

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinical-scribe/internal/model"
	"github.com/jwalitptl/clinical-scribe/internal/repository"
	apperrors "github.com/jwalitptl/clinical-scribe/pkg/errors"
)

type JobServicer interface {
	Get(ctx context.Context, userID, id uuid.UUID) (*model.ExtractionJob, error)
	ListByInteraction(ctx context.Context, userID, interactionID uuid.UUID) ([]*model.ExtractionJob, error)
}

type Service struct {
	jobs         repository.JobRepository
	interactions repository.InteractionRepository
}

func NewService(jobs repository.JobRepository, interactions repository.InteractionRepository) *Service {
	return &Service{
		jobs:         jobs,
		interactions: interactions,
	}
}

// Get is used for polling. A job that completed successfully no longer
// exists and is reported as not found.
func (s *Service) Get(ctx context.Context, userID, id uuid.UUID) (*model.ExtractionJob, error) {
	j, err := s.jobs.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewNotFound("extraction job", err)
		}
		return nil, fmt.Errorf("failed to get extraction job: %w", err)
	}
	if j.UserID != userID {
		return nil, apperrors.NewNotFound("extraction job", nil)
	}
	return j, nil
}

func (s *Service) ListByInteraction(ctx context.Context, userID, interactionID uuid.UUID) ([]*model.ExtractionJob, error) {
	i, err := s.interactions.Get(ctx, interactionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewNotFound("interaction", err)
		}
		return nil, fmt.Errorf("failed to get interaction: %w", err)
	}
	if i.UserID != userID {
		return nil, apperrors.NewNotFound("interaction", nil)
	}

	jobs, err := s.jobs.ListByInteraction(ctx, interactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list extraction jobs: %w", err)
	}
	return jobs, nil
}
