package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinical-scribe/internal/model"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrJobInProgress = errors.New("extraction job already running")
	ErrJobNotRunning = errors.New("extraction job is no longer running")
	ErrConflict      = errors.New("record already exists")
)

// All repository interfaces in one file
type (
	TemplateRepository interface {
		UpsertField(ctx context.Context, t *model.FieldTemplate) error
		UpsertForm(ctx context.Context, t *model.FormTemplate) error
		GetField(ctx context.Context, code string) (*model.FieldTemplate, error)
		GetForm(ctx context.Context, code string) (*model.FormTemplate, error)
		// SearchFields and SearchForms match the query against code and label,
		// case-insensitively. An empty query lists everything.
		SearchFields(ctx context.Context, query string) ([]*model.FieldTemplate, error)
		SearchForms(ctx context.Context, query string) ([]*model.FormTemplate, error)
	}

	InteractionRepository interface {
		// Create stores the interaction with its forms and fields in one transaction.
		Create(ctx context.Context, detail *model.InteractionDetail) error
		Get(ctx context.Context, id uuid.UUID) (*model.Interaction, error)
		GetDetail(ctx context.Context, id uuid.UUID) (*model.InteractionDetail, error)
		ListByUser(ctx context.Context, userID uuid.UUID, statuses ...model.InteractionStatus) ([]*model.Interaction, error)
		Delete(ctx context.Context, id uuid.UUID) error

		// ReplaceSchema locks the interaction, hands its current state to
		// decide and applies the returned change in the same transaction.
		// running reports whether a RUNNING extraction job holds the lock.
		ReplaceSchema(ctx context.Context, id uuid.UUID, decide func(current *model.InteractionDetail, running bool) (*model.SchemaChange, error)) (*model.Interaction, error)

		// Transition locks the interaction, runs guard and moves it to the
		// target status, writing event to the outbox when non-nil.
		Transition(ctx context.Context, id uuid.UUID, guard func(*model.Interaction) error, to model.InteractionStatus, event *model.OutboxEvent) (*model.Interaction, error)

		// ApplyExtraction releases the job and writes every field value,
		// extracted_data, the VALIDATING status and the outbox event
		// atomically. It fails with ErrJobNotRunning if the job was released
		// or reaped in the meantime.
		ApplyExtraction(ctx context.Context, result *model.ExtractionResult) (*model.Interaction, error)
	}

	JobRepository interface {
		// Acquire locks the interaction, runs guard and inserts job unless a
		// RUNNING job exists, in which case it returns ErrJobInProgress.
		Acquire(ctx context.Context, job *model.ExtractionJob, guard func(*model.Interaction) error) error
		Get(ctx context.Context, id uuid.UUID) (*model.ExtractionJob, error)
		ListByInteraction(ctx context.Context, interactionID uuid.UUID) ([]*model.ExtractionJob, error)
		// Fail marks a RUNNING job as ERROR with reason.
		Fail(ctx context.Context, id uuid.UUID, reason string) error
		// FailStale marks RUNNING jobs created before cutoff as ERROR.
		FailStale(ctx context.Context, cutoff time.Time, reason string) (int64, error)
	}

	AudioRepository interface {
		Create(ctx context.Context, audio *model.AudioRecording) error
		Get(ctx context.Context, id uuid.UUID) (*model.AudioRecording, error)
		ListByInteraction(ctx context.Context, interactionID uuid.UUID) ([]*model.AudioRecording, error)
	}

	TranscriptRepository interface {
		// Claim creates a PENDING transcript for the recording, or resets an
		// ERROR one to PENDING. It returns claimed=false together with the
		// existing transcript when it is PENDING or FINISHED.
		Claim(ctx context.Context, audioID uuid.UUID) (t *model.Transcript, claimed bool, err error)
		Get(ctx context.Context, id uuid.UUID) (*model.Transcript, error)
		GetByAudio(ctx context.Context, audioID uuid.UUID) (*model.Transcript, error)
		Complete(ctx context.Context, id uuid.UUID, text string) error
		Fail(ctx context.Context, id uuid.UUID, reason string) error
		// FailStale marks PENDING transcripts not touched since cutoff as
		// ERROR so they can be claimed again.
		FailStale(ctx context.Context, cutoff time.Time, reason string) (int64, error)
		// ListByInteraction returns one transcript per recording, oldest
		// recording first; recordings without a transcript are omitted.
		ListByInteraction(ctx context.Context, interactionID uuid.UUID) ([]*model.Transcript, error)
	}

	EmbeddingRepository interface {
		Replace(ctx context.Context, interactionID uuid.UUID, embeddings []*model.Embedding) error
		ListByInteraction(ctx context.Context, interactionID uuid.UUID) ([]*model.Embedding, error)
		Search(ctx context.Context, interactionID uuid.UUID, vector []float32, limit int) ([]*model.EmbeddingMatch, error)
	}

	UserRepository interface {
		Upsert(ctx context.Context, user *model.User) error
		Get(ctx context.Context, id uuid.UUID) (*model.User, error)
	}

	OutboxRepository interface {
		Create(ctx context.Context, event *model.OutboxEvent) error
		// ClaimPending locks up to limit due events and hands them to fn; the
		// statuses fn records are committed together with the lock release.
		ClaimPending(ctx context.Context, limit int, fn func(events []*model.OutboxEvent) []OutboxUpdate) error
		DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
	}
)

// OutboxUpdate is the outcome recorded for one claimed outbox event.
type OutboxUpdate struct {
	ID      uuid.UUID
	Status  model.OutboxStatus
	Error   *string
	RetryAt *time.Time
}
