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

type audioRepository struct {
	db *sqlx.DB
}

func NewAudioRepository(db *sqlx.DB) repository.AudioRepository {
	return &audioRepository{db: db}
}

const audioColumns = `id, interaction_id, blob_key, file_name, content_type, size, hash, created_at`

func (r *audioRepository) Create(ctx context.Context, a *model.AudioRecording) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO audio_recordings (`+audioColumns+`)
		VALUES (:id, :interaction_id, :blob_key, :file_name, :content_type, :size, :hash, :created_at)
	`, a)
	if err != nil {
		return fmt.Errorf("failed to create audio recording: %w", err)
	}
	return nil
}

func (r *audioRepository) Get(ctx context.Context, id uuid.UUID) (*model.AudioRecording, error) {
	var a model.AudioRecording
	if err := r.db.GetContext(ctx, &a, `SELECT `+audioColumns+` FROM audio_recordings WHERE id = $1`, id); err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

func (r *audioRepository) ListByInteraction(ctx context.Context, interactionID uuid.UUID) ([]*model.AudioRecording, error) {
	var recordings []*model.AudioRecording
	err := r.db.SelectContext(ctx, &recordings, `
		SELECT `+audioColumns+`
		FROM audio_recordings
		WHERE interaction_id = $1
		ORDER BY created_at
	`, interactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list audio recordings: %w", err)
	}
	return recordings, nil
}

type transcriptRepository struct {
	db *sqlx.DB
}

func NewTranscriptRepository(db *sqlx.DB) repository.TranscriptRepository {
	return &transcriptRepository{db: db}
}

const transcriptColumns = `id, audio_recording_id, status, transcript, error_message, created_at, updated_at`

func (r *transcriptRepository) Claim(ctx context.Context, audioID uuid.UUID) (*model.Transcript, bool, error) {
	var t model.Transcript
	now := time.Now().UTC()
	err := r.db.GetContext(ctx, &t, `
		INSERT INTO transcripts (id, audio_recording_id, status, created_at, updated_at)
		VALUES ($1, $2, 'PENDING', $3, $3)
		ON CONFLICT (audio_recording_id) DO UPDATE
			SET status = 'PENDING', transcript = '', error_message = NULL, updated_at = EXCLUDED.updated_at
			WHERE transcripts.status = 'ERROR'
		RETURNING `+transcriptColumns,
		uuid.New(), audioID, now)
	if err == nil {
		return &t, true, nil
	}
	if err = notFound(err); err != repository.ErrNotFound {
		return nil, false, fmt.Errorf("failed to claim transcript: %w", err)
	}

	// conflict without update: someone else owns a PENDING or FINISHED transcript
	existing, err := r.GetByAudio(ctx, audioID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *transcriptRepository) Get(ctx context.Context, id uuid.UUID) (*model.Transcript, error) {
	var t model.Transcript
	if err := r.db.GetContext(ctx, &t, `SELECT `+transcriptColumns+` FROM transcripts WHERE id = $1`, id); err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

func (r *transcriptRepository) GetByAudio(ctx context.Context, audioID uuid.UUID) (*model.Transcript, error) {
	var t model.Transcript
	if err := r.db.GetContext(ctx, &t, `SELECT `+transcriptColumns+` FROM transcripts WHERE audio_recording_id = $1`, audioID); err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

func (r *transcriptRepository) Complete(ctx context.Context, id uuid.UUID, text string) error {
	return r.finish(ctx, id, model.TranscriptStatusFinished, text, nil)
}

func (r *transcriptRepository) Fail(ctx context.Context, id uuid.UUID, reason string) error {
	return r.finish(ctx, id, model.TranscriptStatusError, "", &reason)
}

func (r *transcriptRepository) finish(ctx context.Context, id uuid.UUID, status model.TranscriptStatus, text string, reason *string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE transcripts
		SET status = $2, transcript = $3, error_message = $4, updated_at = $5
		WHERE id = $1 AND status = 'PENDING'
	`, id, status, text, reason, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update transcript: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *transcriptRepository) FailStale(ctx context.Context, cutoff time.Time, reason string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE transcripts
		SET status = 'ERROR', error_message = $2, updated_at = NOW()
		WHERE status = 'PENDING' AND updated_at < $1
	`, cutoff, reason)
	if err != nil {
		return 0, fmt.Errorf("failed to reap stale transcripts: %w", err)
	}
	return res.RowsAffected()
}

func (r *transcriptRepository) ListByInteraction(ctx context.Context, interactionID uuid.UUID) ([]*model.Transcript, error) {
	var transcripts []*model.Transcript
	err := r.db.SelectContext(ctx, &transcripts, `
		SELECT t.id, t.audio_recording_id, t.status, t.transcript, t.error_message, t.created_at, t.updated_at
		FROM transcripts t
		JOIN audio_recordings a ON a.id = t.audio_recording_id
		WHERE a.interaction_id = $1
		ORDER BY a.created_at
	`, interactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transcripts: %w", err)
	}
	return transcripts, nil
}
