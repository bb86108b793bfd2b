package extraction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinical-scribe/internal/model"
	"github.com/jwalitptl/clinical-scribe/internal/repository"
	"github.com/jwalitptl/clinical-scribe/pkg/circuitbreaker"
	apperrors "github.com/jwalitptl/clinical-scribe/pkg/errors"
	"github.com/jwalitptl/clinical-scribe/pkg/llm"
	"github.com/jwalitptl/clinical-scribe/pkg/logger"
	"github.com/jwalitptl/clinical-scribe/pkg/metrics"
)

const (
	reasonTimeout  = "extraction timed out"
	reasonReleased = "extraction job was released before it completed"
)

type ExtractionServicer interface {
	Extract(ctx context.Context, userID, interactionID uuid.UUID) (*model.ExtractionOutcome, error)
	ExtractFromAudioRecording(ctx context.Context, userID, audioID uuid.UUID) (*model.AudioUpload, error)
}

// TemplateProvider resolves field templates by LOINC code.
type TemplateProvider interface {
	GetField(ctx context.Context, code string) (*model.FieldTemplate, error)
}

// TranscriptProvider guarantees a FINISHED transcript for a recording,
// transcribing it first when it has none or the last attempt failed.
type TranscriptProvider interface {
	EnsureTranscript(ctx context.Context, rec *model.AudioRecording) (*model.Transcript, error)
}

type Config struct {
	// Timeout bounds the model call. The job is marked ERROR when it expires.
	Timeout time.Duration
}

type Service struct {
	interactions repository.InteractionRepository
	jobs         repository.JobRepository
	audio        repository.AudioRepository
	transcripts  repository.TranscriptRepository
	outbox       repository.OutboxRepository
	templates    TemplateProvider
	transcriber  TranscriptProvider
	extractor    llm.Extractor
	breaker      *circuitbreaker.CircuitBreaker
	config       Config
	logger       *logger.Logger
	metrics      *metrics.Metrics
}

func NewService(
	repos *repository.Repositories,
	templates TemplateProvider,
	transcriber TranscriptProvider,
	extractor llm.Extractor,
	breaker *circuitbreaker.CircuitBreaker,
	config Config,
	log *logger.Logger,
	m *metrics.Metrics,
) *Service {
	if config.Timeout <= 0 {
		config.Timeout = 90 * time.Second
	}
	return &Service{
		interactions: repos.Interactions,
		jobs:         repos.Jobs,
		audio:        repos.Audio,
		transcripts:  repos.Transcripts,
		outbox:       repos.Outbox,
		templates:    templates,
		transcriber:  transcriber,
		extractor:    extractor,
		breaker:      breaker,
		config:       config,
		logger:       log,
		metrics:      m,
	}
}

// Extract runs one extraction for a QUEUED interaction. The job row is the
// only lock held while the model runs; it is deleted in the same
// transaction that writes the values, or left as ERROR on failure.
func (s *Service) Extract(ctx context.Context, userID, interactionID uuid.UUID) (*model.ExtractionOutcome, error) {
	detail, err := s.interactions.GetDetail(ctx, interactionID)
	if err != nil {
		return nil, notFound("interaction", err)
	}
	if err := checkExtractable(detail.Interaction, userID); err != nil {
		return nil, err
	}

	fields := detail.AllFields()
	if len(fields) == 0 {
		return nil, apperrors.NewInvalidState("interaction has no fields or flowsheets to extract")
	}
	text, err := s.sourceText(ctx, interactionID)
	if err != nil {
		return nil, err
	}

	job := model.NewExtractionJob(interactionID, userID)
	err = s.jobs.Acquire(ctx, job, func(i *model.Interaction) error {
		return checkExtractable(i, userID)
	})
	switch {
	case err == nil:
	case errors.Is(err, repository.ErrJobInProgress):
		s.metrics.ExtractionJobs.WithLabelValues("rejected").Inc()
		return nil, apperrors.NewAlreadyInProgress("an extraction is already running for this interaction")
	default:
		return nil, notFound("interaction", err)
	}

	// a recording may have arrived between the first read and the lock
	if text, err = s.sourceText(ctx, interactionID); err != nil {
		return nil, s.fail(ctx, detail.Interaction, job, "transcripts changed before extraction started", err)
	}

	log := s.logger.WithFields(map[string]interface{}{
		"interaction_id": interactionID.String(),
		"job_id":         job.ID.String(),
	})
	log.Info("extraction started", "fields", len(fields))

	s.metrics.ExtractionsRunning.Inc()
	defer s.metrics.ExtractionsRunning.Dec()

	// the caller going away does not stop an extraction that holds the lock
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.Timeout)
	defer cancel()

	updated, err := s.run(runCtx, detail, fields, text, job)
	if err != nil {
		log.Error(err, "extraction failed")
		return nil, err
	}

	s.metrics.ExtractionJobs.WithLabelValues("success").Inc()
	log.Info("extraction finished")
	return &model.ExtractionOutcome{JobID: job.ID, Interaction: updated}, nil
}

func (s *Service) run(
	ctx context.Context,
	detail *model.InteractionDetail,
	fields []*model.Field,
	text string,
	job *model.ExtractionJob,
) (*model.Interaction, error) {
	templates, specs, err := s.schema(ctx, fields)
	if err != nil {
		return nil, s.fail(ctx, detail.Interaction, job, "failed to build extraction schema", err)
	}

	start := time.Now()
	var raw map[string]interface{}
	err = s.breaker.Execute(func() error {
		var callErr error
		raw, callErr = s.extractor.Extract(ctx, text, specs)
		return callErr
	})
	s.metrics.ExtractionDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, s.fail(ctx, detail.Interaction, job, reasonTimeout, err)
		}
		return nil, s.fail(ctx, detail.Interaction, job, "language model call failed", err)
	}

	data, err := normalize(raw, templates)
	if err != nil {
		return nil, s.fail(ctx, detail.Interaction, job, "model returned unusable data", err)
	}

	event, err := model.NewOutboxEvent(model.EventInteractionReady, model.InteractionEvent{
		InteractionID: detail.ID,
		UserID:        detail.UserID,
		PatientEHRID:  detail.PatientEHRID,
		Status:        model.InteractionStatusValidating,
		JobID:         &job.ID,
	})
	if err != nil {
		return nil, s.fail(ctx, detail.Interaction, job, "failed to build outbox event", err)
	}

	updated, err := s.interactions.ApplyExtraction(ctx, &model.ExtractionResult{
		JobID:         job.ID,
		InteractionID: detail.ID,
		Data:          data,
		Event:         event,
	})
	if errors.Is(err, repository.ErrJobNotRunning) {
		// the reaper got there first; the job is already ERROR
		s.metrics.ExtractionJobs.WithLabelValues("error").Inc()
		return nil, apperrors.NewExtractionFailure(reasonReleased, err)
	}
	if err != nil {
		return nil, s.fail(ctx, detail.Interaction, job, "failed to store extraction result", err)
	}
	return updated, nil
}

// schema returns one template and spec per distinct field code, in field order.
func (s *Service) schema(ctx context.Context, fields []*model.Field) (map[string]*model.FieldTemplate, []llm.FieldSpec, error) {
	templates := make(map[string]*model.FieldTemplate, len(fields))
	specs := make([]llm.FieldSpec, 0, len(fields))
	for _, f := range fields {
		if _, ok := templates[f.TemplateCode]; ok {
			continue
		}
		t, err := s.templates.GetField(ctx, f.TemplateCode)
		if err != nil {
			return nil, nil, err
		}
		templates[t.LOINCCode] = t
		specs = append(specs, llm.FieldSpec{
			Code:        t.LOINCCode,
			Label:       t.Label,
			ValueType:   string(t.ValueType),
			Unit:        t.Unit,
			Options:     t.Options,
			Description: t.Description,
		})
	}
	return templates, specs, nil
}

// normalize keeps exactly the schema keys. A key the model left out is
// present with a nil value; keys outside the schema are dropped.
func normalize(raw map[string]interface{}, templates map[string]*model.FieldTemplate) (model.ExtractedData, error) {
	data := make(model.ExtractedData, len(templates))
	for code, t := range templates {
		v, err := t.Normalize(raw[code])
		if err != nil {
			return nil, err
		}
		data[code] = v
	}
	return data, nil
}

// fail marks the job ERROR and records an EXTRACTION_FAILED event. Nothing
// else about the interaction changes.
func (s *Service) fail(ctx context.Context, i *model.Interaction, job *model.ExtractionJob, reason string, cause error) error {
	outcome := "error"
	if reason == reasonTimeout {
		outcome = "timeout"
	}
	s.metrics.ExtractionJobs.WithLabelValues(outcome).Inc()

	// bookkeeping must survive an expired extraction deadline
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := s.jobs.Fail(ctx, job.ID, reason); err != nil {
		s.logger.Error(err, "failed to mark extraction job as failed", "job_id", job.ID.String())
	}

	event, err := model.NewOutboxEvent(model.EventExtractionFailed, model.InteractionEvent{
		InteractionID: i.ID,
		UserID:        i.UserID,
		PatientEHRID:  i.PatientEHRID,
		Status:        i.Status,
		JobID:         &job.ID,
		Reason:        reason,
	})
	if err == nil {
		err = s.outbox.Create(ctx, event)
	}
	if err != nil {
		s.logger.Error(err, "failed to record extraction failure event", "job_id", job.ID.String())
	}

	var appErr *apperrors.AppError
	if errors.As(cause, &appErr) && appErr.Code != apperrors.ErrInternal {
		return cause
	}
	return apperrors.NewExtractionFailure(reason, cause)
}

// sourceText joins the interaction's transcripts, oldest recording first.
// Every transcript must be FINISHED.
func (s *Service) sourceText(ctx context.Context, interactionID uuid.UUID) (string, error) {
	transcripts, err := s.transcripts.ListByInteraction(ctx, interactionID)
	if err != nil {
		return "", fmt.Errorf("failed to list transcripts: %w", err)
	}
	if len(transcripts) == 0 {
		return "", apperrors.NewNotReady("interaction has no transcript")
	}

	parts := make([]string, 0, len(transcripts))
	for _, t := range transcripts {
		if t.Status != model.TranscriptStatusFinished {
			return "", apperrors.NewNotReady(fmt.Sprintf("transcript %s is %s", t.ID, t.Status))
		}
		parts = append(parts, t.Text)
	}
	return strings.Join(parts, "\n\n"), nil
}

// ExtractFromAudioRecording makes sure the recording has a FINISHED
// transcript and then extracts, unless the interaction already left QUEUED.
// Extraction problems are reported in the result; the recording and its
// transcript stand on their own.
func (s *Service) ExtractFromAudioRecording(ctx context.Context, userID, audioID uuid.UUID) (*model.AudioUpload, error) {
	rec, err := s.audio.Get(ctx, audioID)
	if err != nil {
		return nil, notFound("audio recording", err)
	}
	i, err := s.interactions.Get(ctx, rec.InteractionID)
	if err != nil {
		return nil, notFound("interaction", err)
	}
	if i.UserID != userID {
		return nil, apperrors.NewNotFound("audio recording", nil)
	}

	t, err := s.transcriber.EnsureTranscript(ctx, rec)
	if err != nil {
		return nil, err
	}

	upload := &model.AudioUpload{Recording: rec, Transcript: t}
	if i.Status != model.InteractionStatusQueued {
		return upload, nil
	}

	outcome, err := s.Extract(ctx, userID, i.ID)
	if err != nil {
		if apperrors.CodeOf(err) == apperrors.ErrInternal {
			return nil, err
		}
		upload.ExtractionError = err.Error()
		return upload, nil
	}
	upload.Extraction = outcome
	return upload, nil
}

func checkExtractable(i *model.Interaction, userID uuid.UUID) error {
	if i.UserID != userID {
		return apperrors.NewNotFound("interaction", nil)
	}
	if i.Status != model.InteractionStatusQueued {
		return apperrors.NewInvalidState(fmt.Sprintf("interaction is %s; extraction requires QUEUED", i.Status))
	}
	return nil
}

func notFound(resource string, err error) error {
	var appErr *apperrors.AppError
	switch {
	case errors.As(err, &appErr):
		return err
	case errors.Is(err, repository.ErrNotFound):
		return apperrors.NewNotFound(resource, err)
	default:
		return fmt.Errorf("failed to load %s: %w", resource, err)
	}
}
