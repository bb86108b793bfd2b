package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/clinical-scribe/internal/model"
	"github.com/jwalitptl/clinical-scribe/internal/repository"
)

type jobRepository struct {
	BaseRepository
}

func NewJobRepository(db *sqlx.DB) repository.JobRepository {
	return &jobRepository{NewBaseRepository(db)}
}

const jobColumns = `id, interaction_id, user_id, status, error_message, created_at, updated_at`

func (r *jobRepository) Acquire(ctx context.Context, job *model.ExtractionJob, guard func(*model.Interaction) error) error {
	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		i, err := lockInteraction(ctx, tx, job.InteractionID)
		if err != nil {
			return err
		}
		if err := guard(i); err != nil {
			return err
		}

		// the partial unique index makes this a conditional insert
		res, err := tx.ExecContext(ctx, `
			INSERT INTO extraction_jobs (`+jobColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (interaction_id) WHERE status = 'RUNNING' DO NOTHING
		`, job.ID, job.InteractionID, job.UserID, job.Status, job.ErrorMessage, job.CreatedAt, job.UpdatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return repository.ErrJobInProgress
			}
			return fmt.Errorf("failed to create extraction job: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return repository.ErrJobInProgress
		}
		return nil
	})
}

func (r *jobRepository) Get(ctx context.Context, id uuid.UUID) (*model.ExtractionJob, error) {
	var job model.ExtractionJob
	if err := r.db.GetContext(ctx, &job, `SELECT `+jobColumns+` FROM extraction_jobs WHERE id = $1`, id); err != nil {
		return nil, notFound(err)
	}
	return &job, nil
}

func (r *jobRepository) ListByInteraction(ctx context.Context, interactionID uuid.UUID) ([]*model.ExtractionJob, error) {
	var jobs []*model.ExtractionJob
	err := r.db.SelectContext(ctx, &jobs, `
		SELECT `+jobColumns+`
		FROM extraction_jobs
		WHERE interaction_id = $1
		ORDER BY created_at DESC
	`, interactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list extraction jobs: %w", err)
	}
	return jobs, nil
}

func (r *jobRepository) Fail(ctx context.Context, id uuid.UUID, reason string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE extraction_jobs
		SET status = 'ERROR', error_message = $2, updated_at = $3
		WHERE id = $1 AND status = 'RUNNING'
	`, id, reason, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to mark extraction job failed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return repository.ErrJobNotRunning
	}
	return nil
}

func (r *jobRepository) FailStale(ctx context.Context, cutoff time.Time, reason string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE extraction_jobs
		SET status = 'ERROR', error_message = $2, updated_at = NOW()
		WHERE status = 'RUNNING' AND created_at < $1
	`, cutoff, reason)
	if err != nil {
		return 0, fmt.Errorf("failed to reap stale extraction jobs: %w", err)
	}
	return res.RowsAffected()
}
