package interaction

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinical-scribe/internal/model"
	"github.com/jwalitptl/clinical-scribe/internal/repository"
	apperrors "github.com/jwalitptl/clinical-scribe/pkg/errors"
	"github.com/jwalitptl/clinical-scribe/pkg/logger"
	"github.com/jwalitptl/clinical-scribe/pkg/storage"
)

type InteractionServicer interface {
	Create(ctx context.Context, userID uuid.UUID, req *model.CreateInteractionRequest) (*model.InteractionDetail, error)
	Get(ctx context.Context, userID, id uuid.UUID) (*model.Interaction, error)
	GetDetail(ctx context.Context, userID, id uuid.UUID) (*model.InteractionDetail, error)
	Update(ctx context.Context, userID, id uuid.UUID, req *model.UpdateInteractionRequest) (*model.InteractionDetail, error)
	Validate(ctx context.Context, userID, id uuid.UUID) (*model.Interaction, error)
	Delete(ctx context.Context, userID, id uuid.UUID) error
	GetExtractionResult(ctx context.Context, userID, id uuid.UUID) (model.ExtractedData, error)
	Current(ctx context.Context, userID uuid.UUID) (*model.CurrentInteractions, error)
	History(ctx context.Context, userID uuid.UUID) ([]*model.Interaction, error)
}

// TemplateProvider resolves catalog entries by LOINC code.
type TemplateProvider interface {
	GetField(ctx context.Context, code string) (*model.FieldTemplate, error)
	GetForm(ctx context.Context, code string) (*model.FormTemplate, error)
}

type Service struct {
	repo      repository.InteractionRepository
	audio     repository.AudioRepository
	templates TemplateProvider
	blobs     storage.BlobStore
	logger    *logger.Logger
}

func NewService(
	repo repository.InteractionRepository,
	audio repository.AudioRepository,
	templates TemplateProvider,
	blobs storage.BlobStore,
	log *logger.Logger,
) *Service {
	return &Service{
		repo:      repo,
		audio:     audio,
		templates: templates,
		blobs:     blobs,
		logger:    log,
	}
}

func (s *Service) Create(ctx context.Context, userID uuid.UUID, req *model.CreateInteractionRequest) (*model.InteractionDetail, error) {
	i := model.NewInteraction(userID, req.PatientEHRID, model.StringList(req.Tags).Dedup())

	forms, err := s.buildForms(ctx, i.ID, req.FormLOINCs)
	if err != nil {
		return nil, err
	}
	fields, err := s.buildFields(ctx, i.ID, req.FieldLOINCs)
	if err != nil {
		return nil, err
	}

	detail := &model.InteractionDetail{Interaction: i, Forms: forms, Fields: fields}
	if err := s.repo.Create(ctx, detail); err != nil {
		return nil, fmt.Errorf("failed to create interaction: %w", err)
	}

	s.logger.Info("interaction created",
		"interaction_id", i.ID,
		"forms", len(forms),
		"fields", len(fields),
	)
	return detail, nil
}

func (s *Service) Get(ctx context.Context, userID, id uuid.UUID) (*model.Interaction, error) {
	i, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, mapError(err)
	}
	if err := checkOwner(i, userID); err != nil {
		return nil, err
	}
	return i, nil
}

func (s *Service) GetDetail(ctx context.Context, userID, id uuid.UUID) (*model.InteractionDetail, error) {
	d, err := s.repo.GetDetail(ctx, id)
	if err != nil {
		return nil, mapError(err)
	}
	if err := checkOwner(d.Interaction, userID); err != nil {
		return nil, err
	}
	return d, nil
}

// Update replaces the categories present in req. Leaving VALIDATING sends the
// interaction back to QUEUED and drops the values extracted for the old schema.
func (s *Service) Update(ctx context.Context, userID, id uuid.UUID, req *model.UpdateInteractionRequest) (*model.InteractionDetail, error) {
	if req.Fields == nil && req.Flowsheets == nil {
		return nil, apperrors.NewValidation("at least one of fields or flowsheets is required", nil)
	}

	// templates are resolved before the interaction is locked
	var (
		fields []*model.Field
		forms  []*model.Form
		err    error
	)
	if req.Fields != nil {
		if fields, err = s.buildFields(ctx, id, *req.Fields); err != nil {
			return nil, err
		}
	}
	if req.Flowsheets != nil {
		if forms, err = s.buildForms(ctx, id, *req.Flowsheets); err != nil {
			return nil, err
		}
	}

	_, err = s.repo.ReplaceSchema(ctx, id, func(current *model.InteractionDetail, running bool) (*model.SchemaChange, error) {
		if err := checkOwner(current.Interaction, userID); err != nil {
			return nil, err
		}
		if current.Status == model.InteractionStatusFinished {
			return nil, apperrors.NewInvalidState("interaction is FINISHED and can no longer be updated")
		}
		if running {
			return nil, apperrors.NewAlreadyInProgress("an extraction is running for this interaction")
		}

		change := &model.SchemaChange{
			ReplaceFields:  req.Fields != nil,
			Fields:         fields,
			ReplaceForms:   req.Flowsheets != nil,
			Forms:          forms,
			Status:         model.InteractionStatusQueued,
			ClearExtracted: current.Status == model.InteractionStatusValidating,
		}

		hasFields := len(current.Fields) > 0
		if change.ReplaceFields {
			hasFields = len(fields) > 0
		}
		hasForms := len(current.Forms) > 0
		if change.ReplaceForms {
			hasForms = len(forms) > 0
		}
		change.Tags = model.CategoryTags(hasFields, hasForms)
		return change, nil
	})
	if err != nil {
		return nil, mapError(err)
	}

	s.logger.Info("interaction schema replaced", "interaction_id", id)
	return s.GetDetail(ctx, userID, id)
}

// Validate records the human sign-off that moves VALIDATING to FINISHED.
func (s *Service) Validate(ctx context.Context, userID, id uuid.UUID) (*model.Interaction, error) {
	current, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	event, err := model.NewOutboxEvent(model.EventInteractionValidated, model.InteractionEvent{
		InteractionID: current.ID,
		UserID:        current.UserID,
		PatientEHRID:  current.PatientEHRID,
		Status:        model.InteractionStatusFinished,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build outbox event: %w", err)
	}

	updated, err := s.repo.Transition(ctx, id, func(i *model.Interaction) error {
		if i.Status != model.InteractionStatusValidating {
			return apperrors.NewInvalidState(fmt.Sprintf("interaction is %s; only VALIDATING interactions can be validated", i.Status))
		}
		return nil
	}, model.InteractionStatusFinished, event)
	if err != nil {
		return nil, mapError(err)
	}

	s.logger.Info("interaction validated", "interaction_id", id)
	return updated, nil
}

// Delete removes the interaction with everything it owns, then its audio blobs.
func (s *Service) Delete(ctx context.Context, userID, id uuid.UUID) error {
	if _, err := s.Get(ctx, userID, id); err != nil {
		return err
	}

	recordings, err := s.audio.ListByInteraction(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to list audio recordings: %w", err)
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return mapError(err)
	}

	for _, r := range recordings {
		if err := s.blobs.Delete(ctx, r.BlobKey); err != nil && !errors.Is(err, storage.ErrBlobNotFound) {
			s.logger.Error(err, "failed to delete audio blob", "audio_recording_id", r.ID)
		}
	}
	return nil
}

// GetExtractionResult returns extracted_data once an extraction has succeeded.
func (s *Service) GetExtractionResult(ctx context.Context, userID, id uuid.UUID) (model.ExtractedData, error) {
	i, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if i.Status == model.InteractionStatusQueued {
		return nil, apperrors.NewNotReady("interaction has no extraction result yet")
	}
	if i.ExtractedData == nil {
		return model.ExtractedData{}, nil
	}
	return i.ExtractedData, nil
}

func (s *Service) Current(ctx context.Context, userID uuid.UUID) (*model.CurrentInteractions, error) {
	queued, err := s.repo.ListByUser(ctx, userID, model.InteractionStatusQueued)
	if err != nil {
		return nil, fmt.Errorf("failed to list queued interactions: %w", err)
	}
	validating, err := s.repo.ListByUser(ctx, userID, model.InteractionStatusValidating)
	if err != nil {
		return nil, fmt.Errorf("failed to list validating interactions: %w", err)
	}
	return &model.CurrentInteractions{Queued: queued, Validating: validating}, nil
}

func (s *Service) History(ctx context.Context, userID uuid.UUID) ([]*model.Interaction, error) {
	finished, err := s.repo.ListByUser(ctx, userID, model.InteractionStatusFinished)
	if err != nil {
		return nil, fmt.Errorf("failed to list finished interactions: %w", err)
	}
	return finished, nil
}

func (s *Service) buildFields(ctx context.Context, interactionID uuid.UUID, codes []string) ([]*model.Field, error) {
	codes = model.StringList(codes).Dedup()
	fields := make([]*model.Field, 0, len(codes))
	for n, code := range codes {
		t, err := s.templates.GetField(ctx, code)
		if err != nil {
			return nil, err
		}
		fields = append(fields, t.NewField(interactionID, nil, n))
	}
	return fields, nil
}

func (s *Service) buildForms(ctx context.Context, interactionID uuid.UUID, codes []string) ([]*model.Form, error) {
	codes = model.StringList(codes).Dedup()
	forms := make([]*model.Form, 0, len(codes))
	for n, code := range codes {
		t, err := s.templates.GetForm(ctx, code)
		if err != nil {
			return nil, err
		}
		members := make([]*model.FieldTemplate, 0, len(t.FieldCodes))
		for _, fc := range t.FieldCodes {
			ft, err := s.templates.GetField(ctx, fc)
			if err != nil {
				return nil, err
			}
			members = append(members, ft)
		}
		forms = append(forms, t.NewForm(interactionID, n, members))
	}
	return forms, nil
}

func checkOwner(i *model.Interaction, userID uuid.UUID) error {
	if i.UserID != userID {
		return apperrors.NewNotFound("interaction", nil)
	}
	return nil
}

func mapError(err error) error {
	var appErr *apperrors.AppError
	switch {
	case errors.As(err, &appErr):
		return err
	case errors.Is(err, repository.ErrNotFound):
		return apperrors.NewNotFound("interaction", err)
	default:
		return fmt.Errorf("interaction store: %w", err)
	}
}
