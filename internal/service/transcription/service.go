package transcription

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinical-scribe/internal/model"
	"github.com/jwalitptl/clinical-scribe/internal/repository"
	"github.com/jwalitptl/clinical-scribe/pkg/circuitbreaker"
	apperrors "github.com/jwalitptl/clinical-scribe/pkg/errors"
	"github.com/jwalitptl/clinical-scribe/pkg/logger"
	"github.com/jwalitptl/clinical-scribe/pkg/metrics"
	"github.com/jwalitptl/clinical-scribe/pkg/storage"
	"github.com/jwalitptl/clinical-scribe/pkg/transcription"
)

type TranscriptionServicer interface {
	Upload(ctx context.Context, userID, interactionID uuid.UUID, file *UploadedFile) (*model.AudioRecording, error)
	GetAudio(ctx context.Context, userID, id uuid.UUID) (*model.AudioRecording, error)
	Generate(ctx context.Context, userID, audioID uuid.UUID) (*model.Transcript, error)
	GenerateAsync(ctx context.Context, userID, audioID uuid.UUID) (*model.Transcript, error)
	GetTranscript(ctx context.Context, userID, id uuid.UUID) (*model.Transcript, error)
	EnsureTranscript(ctx context.Context, rec *model.AudioRecording) (*model.Transcript, error)
}

// UploadedFile is an audio file received from a client.
type UploadedFile struct {
	Name        string
	ContentType string
	Content     io.Reader
}

type Config struct {
	Timeout        time.Duration
	MaxUploadBytes int64
}

type Service struct {
	interactions repository.InteractionRepository
	audio        repository.AudioRepository
	transcripts  repository.TranscriptRepository
	blobs        storage.BlobStore
	transcriber  transcription.Transcriber
	breaker      *circuitbreaker.CircuitBreaker
	config       Config
	logger       *logger.Logger
	metrics      *metrics.Metrics
}

func NewService(
	repos *repository.Repositories,
	blobs storage.BlobStore,
	transcriber transcription.Transcriber,
	breaker *circuitbreaker.CircuitBreaker,
	config Config,
	log *logger.Logger,
	m *metrics.Metrics,
) *Service {
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Minute
	}
	if config.MaxUploadBytes <= 0 {
		config.MaxUploadBytes = storage.MaxFileSize
	}
	return &Service{
		interactions: repos.Interactions,
		audio:        repos.Audio,
		transcripts:  repos.Transcripts,
		blobs:        blobs,
		transcriber:  transcriber,
		breaker:      breaker,
		config:       config,
		logger:       log,
		metrics:      m,
	}
}

// Upload stores a recording for an interaction that is not FINISHED yet.
func (s *Service) Upload(ctx context.Context, userID, interactionID uuid.UUID, file *UploadedFile) (*model.AudioRecording, error) {
	i, err := s.ownedInteraction(ctx, userID, interactionID)
	if err != nil {
		return nil, err
	}
	if i.Status == model.InteractionStatusFinished {
		return nil, apperrors.NewInvalidState("interaction is FINISHED and no longer accepts audio")
	}

	id := uuid.New()
	key := path.Join(interactionID.String(), id.String())
	obj, err := s.blobs.Put(ctx, key, file.ContentType, file.Content, s.config.MaxUploadBytes)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrInvalidContentType),
			errors.Is(err, storage.ErrFileTooLarge),
			errors.Is(err, storage.ErrEmptyFile):
			return nil, apperrors.NewValidation(err.Error(), err)
		}
		return nil, fmt.Errorf("failed to store audio: %w", err)
	}

	rec := &model.AudioRecording{
		ID:            id,
		InteractionID: interactionID,
		BlobKey:       obj.Key,
		FileName:      file.Name,
		ContentType:   obj.ContentType,
		Size:          obj.Size,
		Hash:          obj.Hash,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.audio.Create(ctx, rec); err != nil {
		if delErr := s.blobs.Delete(ctx, obj.Key); delErr != nil {
			s.logger.Error(delErr, "failed to remove orphaned audio blob", "key", obj.Key)
		}
		return nil, fmt.Errorf("failed to create audio recording: %w", err)
	}

	s.logger.Info("audio recording stored",
		"interaction_id", interactionID.String(),
		"audio_recording_id", id.String(),
		"size", obj.Size,
	)
	return rec, nil
}

func (s *Service) GetAudio(ctx context.Context, userID, id uuid.UUID) (*model.AudioRecording, error) {
	rec, err := s.audio.Get(ctx, id)
	if err != nil {
		return nil, mapNotFound("audio recording", err)
	}
	if _, err := s.ownedInteraction(ctx, userID, rec.InteractionID); err != nil {
		return nil, apperrors.NewNotFound("audio recording", nil)
	}
	return rec, nil
}

// Generate transcribes the recording and waits for the result. A recording
// that already has a FINISHED transcript returns it unchanged.
func (s *Service) Generate(ctx context.Context, userID, audioID uuid.UUID) (*model.Transcript, error) {
	rec, err := s.GetAudio(ctx, userID, audioID)
	if err != nil {
		return nil, err
	}
	t, claimed, err := s.claim(ctx, rec)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return t, nil
	}
	return s.transcribe(ctx, t, rec)
}

// GenerateAsync claims the transcript and returns it while still PENDING.
// Transcription continues after the request ends.
func (s *Service) GenerateAsync(ctx context.Context, userID, audioID uuid.UUID) (*model.Transcript, error) {
	rec, err := s.GetAudio(ctx, userID, audioID)
	if err != nil {
		return nil, err
	}
	t, claimed, err := s.claim(ctx, rec)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return t, nil
	}

	go func(ctx context.Context) {
		if _, err := s.transcribe(ctx, t, rec); err != nil {
			s.logger.Error(err, "background transcription failed", "transcript_id", t.ID.String())
		}
	}(context.WithoutCancel(ctx))
	return t, nil
}

func (s *Service) GetTranscript(ctx context.Context, userID, id uuid.UUID) (*model.Transcript, error) {
	t, err := s.transcripts.Get(ctx, id)
	if err != nil {
		return nil, mapNotFound("transcript", err)
	}
	if _, err := s.GetAudio(ctx, userID, t.AudioRecordingID); err != nil {
		return nil, apperrors.NewNotFound("transcript", nil)
	}
	return t, nil
}

// EnsureTranscript returns the recording's FINISHED transcript, transcribing
// synchronously when there is none or the previous attempt failed.
func (s *Service) EnsureTranscript(ctx context.Context, rec *model.AudioRecording) (*model.Transcript, error) {
	t, claimed, err := s.transcripts.Claim(ctx, rec.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to claim transcript: %w", err)
	}
	if claimed {
		return s.transcribe(ctx, t, rec)
	}
	if t.Status == model.TranscriptStatusPending {
		return nil, apperrors.NewNotReady("transcription of this recording is still in progress")
	}
	return t, nil
}

// claim is the explicit-request variant of Claim: a PENDING transcript
// means someone else is already working on it.
func (s *Service) claim(ctx context.Context, rec *model.AudioRecording) (*model.Transcript, bool, error) {
	t, claimed, err := s.transcripts.Claim(ctx, rec.ID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to claim transcript: %w", err)
	}
	if !claimed && t.Status == model.TranscriptStatusPending {
		return nil, false, apperrors.NewAlreadyInProgress("transcription of this recording is already running")
	}
	return t, claimed, nil
}

func (s *Service) transcribe(ctx context.Context, t *model.Transcript, rec *model.AudioRecording) (*model.Transcript, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	start := time.Now()
	text, err := s.run(ctx, rec)
	s.metrics.TranscriptionDuration.Observe(time.Since(start).Seconds())

	// the outcome is recorded even if the deadline has passed
	recordCtx := context.WithoutCancel(ctx)
	if err != nil {
		s.metrics.Transcriptions.WithLabelValues("error").Inc()
		if failErr := s.transcripts.Fail(recordCtx, t.ID, err.Error()); failErr != nil {
			s.logger.Error(failErr, "failed to mark transcript as failed", "transcript_id", t.ID.String())
		}
		return nil, apperrors.NewExtractionFailure("transcription failed", err)
	}

	if err := s.transcripts.Complete(recordCtx, t.ID, text); err != nil {
		return nil, fmt.Errorf("failed to store transcript: %w", err)
	}
	s.metrics.Transcriptions.WithLabelValues("success").Inc()
	s.logger.Info("transcript finished",
		"audio_recording_id", rec.ID.String(),
		"transcript_id", t.ID.String(),
	)

	done, err := s.transcripts.Get(recordCtx, t.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload transcript: %w", err)
	}
	return done, nil
}

func (s *Service) run(ctx context.Context, rec *model.AudioRecording) (string, error) {
	blob, err := s.blobs.Open(ctx, rec.BlobKey)
	if err != nil {
		return "", fmt.Errorf("failed to open audio: %w", err)
	}
	defer blob.Close()

	var text string
	err = s.breaker.Execute(func() error {
		var callErr error
		text, callErr = s.transcriber.Transcribe(ctx, blob, rec.ContentType)
		return callErr
	})
	if err != nil {
		return "", err
	}
	return text, nil
}

func (s *Service) ownedInteraction(ctx context.Context, userID, id uuid.UUID) (*model.Interaction, error) {
	i, err := s.interactions.Get(ctx, id)
	if err != nil {
		return nil, mapNotFound("interaction", err)
	}
	if i.UserID != userID {
		return nil, apperrors.NewNotFound("interaction", nil)
	}
	return i, nil
}

func mapNotFound(resource string, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.NewNotFound(resource, err)
	}
	return fmt.Errorf("failed to get %s: %w", resource, err)
}
