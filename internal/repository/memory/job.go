package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinical-scribe/internal/model"
	"github.com/jwalitptl/clinical-scribe/internal/repository"
)

type jobRepository struct {
	s *Store
}

func NewJobRepository(s *Store) repository.JobRepository {
	return &jobRepository{s: s}
}

func (r *jobRepository) Acquire(_ context.Context, job *model.ExtractionJob, guard func(*model.Interaction) error) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	i, ok := r.s.interactions[job.InteractionID]
	if !ok {
		return repository.ErrNotFound
	}
	if err := guard(copyInteraction(i)); err != nil {
		return err
	}
	if r.s.runningJob(job.InteractionID) != nil {
		return repository.ErrJobInProgress
	}
	r.s.jobs[job.ID] = copyJob(job)
	return nil
}

func (r *jobRepository) Get(_ context.Context, id uuid.UUID) (*model.ExtractionJob, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	j, ok := r.s.jobs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyJob(j), nil
}

func (r *jobRepository) ListByInteraction(_ context.Context, interactionID uuid.UUID) ([]*model.ExtractionJob, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	out := []*model.ExtractionJob{}
	for _, j := range r.s.jobs {
		if j.InteractionID == interactionID {
			out = append(out, copyJob(j))
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.After(out[b].CreatedAt) })
	return out, nil
}

func (r *jobRepository) Fail(_ context.Context, id uuid.UUID, reason string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	j, ok := r.s.jobs[id]
	if !ok || j.Status != model.ExtractionJobStatusRunning {
		return repository.ErrJobNotRunning
	}
	j.Status = model.ExtractionJobStatusError
	j.ErrorMessage = &reason
	j.UpdatedAt = now()
	return nil
}

func (r *jobRepository) FailStale(_ context.Context, cutoff time.Time, reason string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var n int64
	for _, j := range r.s.jobs {
		if j.Status == model.ExtractionJobStatusRunning && j.CreatedAt.Before(cutoff) {
			msg := reason
			j.Status = model.ExtractionJobStatusError
			j.ErrorMessage = &msg
			j.UpdatedAt = now()
			n++
		}
	}
	return n, nil
}
