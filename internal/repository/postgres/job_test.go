package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/clinical-scribe/internal/model"
	"github.com/jwalitptl/clinical-scribe/internal/repository"
)

func setupMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	return sqlx.NewDb(mockDB, "postgres"), mock
}

func interactionRow(id uuid.UUID, status model.InteractionStatus) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows([]string{"id", "user_id", "patient_ehr_id", "tags", "status", "extracted_data", "created_at", "updated_at"}).
		AddRow(id.String(), uuid.NewString(), "EHR-1", "{fields}", string(status), nil, now, now)
}

func TestAcquire(t *testing.T) {
	ctx := context.Background()
	interactionID := uuid.New()
	queued := func(i *model.Interaction) error {
		if i.Status != model.InteractionStatusQueued {
			return errors.New("not queued")
		}
		return nil
	}

	t.Run("creates the job", func(t *testing.T) {
		db, mock := setupMockDB(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT .+ FROM interactions\s+WHERE id = \$1\s+FOR UPDATE`).
			WithArgs(interactionID).
			WillReturnRows(interactionRow(interactionID, model.InteractionStatusQueued))
		mock.ExpectExec(`INSERT INTO extraction_jobs`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := NewJobRepository(db).Acquire(ctx, model.NewExtractionJob(interactionID, uuid.New()), queued)
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("another job is running", func(t *testing.T) {
		db, mock := setupMockDB(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`FROM interactions`).
			WillReturnRows(interactionRow(interactionID, model.InteractionStatusQueued))
		mock.ExpectExec(`ON CONFLICT \(interaction_id\) WHERE status = 'RUNNING' DO NOTHING`).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		err := NewJobRepository(db).Acquire(ctx, model.NewExtractionJob(interactionID, uuid.New()), queued)
		assert.ErrorIs(t, err, repository.ErrJobInProgress)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("guard rejects", func(t *testing.T) {
		db, mock := setupMockDB(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`FROM interactions`).
			WillReturnRows(interactionRow(interactionID, model.InteractionStatusValidating))
		mock.ExpectRollback()

		err := NewJobRepository(db).Acquire(ctx, model.NewExtractionJob(interactionID, uuid.New()), queued)
		assert.EqualError(t, err, "not queued")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing interaction", func(t *testing.T) {
		db, mock := setupMockDB(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`FROM interactions`).WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		err := NewJobRepository(db).Acquire(ctx, model.NewExtractionJob(interactionID, uuid.New()), queued)
		assert.ErrorIs(t, err, repository.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestFail(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewJobRepository(db)
	id := uuid.New()

	mock.ExpectExec(`UPDATE extraction_jobs\s+SET status = 'ERROR'`).
		WithArgs(id, "language model call failed", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Fail(context.Background(), id, "language model call failed"))

	mock.ExpectExec(`UPDATE extraction_jobs`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, repo.Fail(context.Background(), id, "again"), repository.ErrJobNotRunning)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFailStale(t *testing.T) {
	db, mock := setupMockDB(t)
	cutoff := time.Now().UTC().Add(-2 * time.Minute)

	mock.ExpectExec(`WHERE status = 'RUNNING' AND created_at < \$1`).
		WithArgs(cutoff, "job abandoned").
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := NewJobRepository(db).FailStale(context.Background(), cutoff, "job abandoned")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyExtractionAfterRelease(t *testing.T) {
	db, mock := setupMockDB(t)
	interactionID := uuid.New()
	jobID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM interactions`).
		WillReturnRows(interactionRow(interactionID, model.InteractionStatusQueued))
	mock.ExpectExec(`DELETE FROM extraction_jobs`).
		WithArgs(jobID, interactionID).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := NewInteractionRepository(db).ApplyExtraction(context.Background(), &model.ExtractionResult{
		JobID:         jobID,
		InteractionID: interactionID,
		Data:          model.ExtractedData{"1960-4": 24.0},
	})
	assert.ErrorIs(t, err, repository.ErrJobNotRunning)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTranscriptFailStale(t *testing.T) {
	db, mock := setupMockDB(t)
	cutoff := time.Now().UTC().Add(-6 * time.Minute)

	mock.ExpectExec(`WHERE status = 'PENDING' AND updated_at < \$1`).
		WithArgs(cutoff, "transcription abandoned").
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := NewTranscriptRepository(db).FailStale(context.Background(), cutoff, "transcription abandoned")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
