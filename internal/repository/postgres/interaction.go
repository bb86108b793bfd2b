package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jwalitptl/clinical-scribe/internal/model"
	"github.com/jwalitptl/clinical-scribe/internal/repository"
)

type interactionRepository struct {
	BaseRepository
}

func NewInteractionRepository(db *sqlx.DB) repository.InteractionRepository {
	return &interactionRepository{NewBaseRepository(db)}
}

const interactionColumns = `id, user_id, patient_ehr_id, tags, status, extracted_data, created_at, updated_at`

func (r *interactionRepository) Create(ctx context.Context, detail *model.InteractionDetail) error {
	i := detail.Interaction
	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO interactions (`+interactionColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, i.ID, i.UserID, i.PatientEHRID, i.Tags, i.Status, i.ExtractedData, i.CreatedAt, i.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to create interaction: %w", err)
		}

		if err := insertForms(ctx, tx, detail.Forms); err != nil {
			return err
		}
		return insertFields(ctx, tx, detail.Fields)
	})
}

func (r *interactionRepository) Get(ctx context.Context, id uuid.UUID) (*model.Interaction, error) {
	var i model.Interaction
	err := r.db.GetContext(ctx, &i, `SELECT `+interactionColumns+` FROM interactions WHERE id = $1`, id)
	if err != nil {
		return nil, notFound(err)
	}
	return &i, nil
}

func (r *interactionRepository) GetDetail(ctx context.Context, id uuid.UUID) (*model.InteractionDetail, error) {
	i, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return loadDetail(ctx, r.db, i)
}

func (r *interactionRepository) ListByUser(ctx context.Context, userID uuid.UUID, statuses ...model.InteractionStatus) ([]*model.Interaction, error) {
	filter := make([]string, len(statuses))
	for n, s := range statuses {
		filter[n] = string(s)
	}

	var interactions []*model.Interaction
	err := r.db.SelectContext(ctx, &interactions, `
		SELECT `+interactionColumns+`
		FROM interactions
		WHERE user_id = $1 AND (cardinality($2::text[]) = 0 OR status = ANY($2))
		ORDER BY created_at DESC
	`, userID, pq.Array(filter))
	if err != nil {
		return nil, fmt.Errorf("failed to list interactions: %w", err)
	}
	return interactions, nil
}

func (r *interactionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM interactions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete interaction: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *interactionRepository) ReplaceSchema(
	ctx context.Context,
	id uuid.UUID,
	decide func(current *model.InteractionDetail, running bool) (*model.SchemaChange, error),
) (*model.Interaction, error) {
	var updated model.Interaction
	err := r.WithTx(ctx, func(tx *sqlx.Tx) error {
		i, err := lockInteraction(ctx, tx, id)
		if err != nil {
			return err
		}
		current, err := loadDetail(ctx, tx, i)
		if err != nil {
			return err
		}

		var running bool
		if err := tx.GetContext(ctx, &running, `
			SELECT EXISTS (SELECT 1 FROM extraction_jobs WHERE interaction_id = $1 AND status = 'RUNNING')
		`, id); err != nil {
			return fmt.Errorf("failed to check running jobs: %w", err)
		}

		change, err := decide(current, running)
		if err != nil {
			return err
		}

		if change.ReplaceFields {
			if _, err := tx.ExecContext(ctx, `DELETE FROM fields WHERE interaction_id = $1 AND form_id IS NULL`, id); err != nil {
				return fmt.Errorf("failed to delete fields: %w", err)
			}
			if err := insertFields(ctx, tx, change.Fields); err != nil {
				return err
			}
		}
		if change.ReplaceForms {
			// form fields go with their form through ON DELETE CASCADE
			if _, err := tx.ExecContext(ctx, `DELETE FROM forms WHERE interaction_id = $1`, id); err != nil {
				return fmt.Errorf("failed to delete forms: %w", err)
			}
			if err := insertForms(ctx, tx, change.Forms); err != nil {
				return err
			}
		}

		now := time.Now().UTC()
		if change.ClearExtracted {
			if _, err := tx.ExecContext(ctx, `
				UPDATE fields SET value = NULL, updated_at = $2 WHERE interaction_id = $1
			`, id, now); err != nil {
				return fmt.Errorf("failed to clear field values: %w", err)
			}
		}

		return tx.GetContext(ctx, &updated, `
			UPDATE interactions
			SET tags = $2,
				status = $3,
				extracted_data = CASE WHEN $4 THEN NULL ELSE extracted_data END,
				updated_at = $5
			WHERE id = $1
			RETURNING `+interactionColumns,
			id, change.Tags, change.Status, change.ClearExtracted, now)
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func (r *interactionRepository) Transition(
	ctx context.Context,
	id uuid.UUID,
	guard func(*model.Interaction) error,
	to model.InteractionStatus,
	event *model.OutboxEvent,
) (*model.Interaction, error) {
	var updated model.Interaction
	err := r.WithTx(ctx, func(tx *sqlx.Tx) error {
		i, err := lockInteraction(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := guard(i); err != nil {
			return err
		}

		if err := tx.GetContext(ctx, &updated, `
			UPDATE interactions SET status = $2, updated_at = $3
			WHERE id = $1
			RETURNING `+interactionColumns,
			id, to, time.Now().UTC()); err != nil {
			return fmt.Errorf("failed to update interaction status: %w", err)
		}
		return insertOutboxEvent(ctx, tx, event)
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func (r *interactionRepository) ApplyExtraction(ctx context.Context, result *model.ExtractionResult) (*model.Interaction, error) {
	var updated model.Interaction
	err := r.WithTx(ctx, func(tx *sqlx.Tx) error {
		i, err := lockInteraction(ctx, tx, result.InteractionID)
		if err != nil {
			return err
		}
		if i.Status != model.InteractionStatusQueued {
			return fmt.Errorf("interaction %s is %s, expected %s", i.ID, i.Status, model.InteractionStatusQueued)
		}

		// releasing the lock doubles as the check that it is still ours
		res, err := tx.ExecContext(ctx, `
			DELETE FROM extraction_jobs
			WHERE id = $1 AND interaction_id = $2 AND status = 'RUNNING'
		`, result.JobID, result.InteractionID)
		if err != nil {
			return fmt.Errorf("failed to release extraction job: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return repository.ErrJobNotRunning
		}

		now := time.Now().UTC()
		if _, err := tx.ExecContext(ctx, `
			UPDATE fields f
			SET value = NULLIF(d.value, 'null'::jsonb), updated_at = $3
			FROM jsonb_each($2::jsonb) d
			WHERE f.interaction_id = $1 AND f.template_code = d.key
		`, result.InteractionID, result.Data, now); err != nil {
			return fmt.Errorf("failed to write field values: %w", err)
		}

		if err := tx.GetContext(ctx, &updated, `
			UPDATE interactions
			SET extracted_data = $2, status = $3, updated_at = $4
			WHERE id = $1
			RETURNING `+interactionColumns,
			result.InteractionID, result.Data, model.InteractionStatusValidating, now); err != nil {
			return fmt.Errorf("failed to store extracted data: %w", err)
		}

		return insertOutboxEvent(ctx, tx, result.Event)
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func loadDetail(ctx context.Context, q sqlx.QueryerContext, i *model.Interaction) (*model.InteractionDetail, error) {
	var forms []*model.Form
	if err := sqlx.SelectContext(ctx, q, &forms, `
		SELECT f.id, f.interaction_id, f.template_code, t.label, f.position, f.created_at
		FROM forms f
		JOIN form_templates t ON t.loinc_code = f.template_code
		WHERE f.interaction_id = $1
		ORDER BY f.position
	`, i.ID); err != nil {
		return nil, fmt.Errorf("failed to load forms: %w", err)
	}

	var fields []*model.Field
	if err := sqlx.SelectContext(ctx, q, &fields, `
		SELECT f.id, f.interaction_id, f.form_id, f.template_code, t.label, f.position, f.value, f.created_at, f.updated_at
		FROM fields f
		JOIN field_templates t ON t.loinc_code = f.template_code
		WHERE f.interaction_id = $1
		ORDER BY f.position
	`, i.ID); err != nil {
		return nil, fmt.Errorf("failed to load fields: %w", err)
	}

	return assembleDetail(i, forms, fields), nil
}

// assembleDetail attaches each field to its form; fields without a form are standalone.
func assembleDetail(i *model.Interaction, forms []*model.Form, fields []*model.Field) *model.InteractionDetail {
	detail := &model.InteractionDetail{
		Interaction: i,
		Forms:       forms,
		Fields:      []*model.Field{},
	}
	if detail.Forms == nil {
		detail.Forms = []*model.Form{}
	}

	byID := make(map[uuid.UUID]*model.Form, len(forms))
	for _, f := range forms {
		f.Fields = []*model.Field{}
		byID[f.ID] = f
	}
	for _, f := range fields {
		if f.FormID == nil {
			detail.Fields = append(detail.Fields, f)
			continue
		}
		if form, ok := byID[*f.FormID]; ok {
			form.Fields = append(form.Fields, f)
		}
	}
	return detail
}

func insertForms(ctx context.Context, tx *sqlx.Tx, forms []*model.Form) error {
	for _, f := range forms {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO forms (id, interaction_id, template_code, position, created_at)
			VALUES ($1, $2, $3, $4, $5)
		`, f.ID, f.InteractionID, f.TemplateCode, f.Position, f.CreatedAt); err != nil {
			return fmt.Errorf("failed to create form %s: %w", f.TemplateCode, err)
		}
		if err := insertFields(ctx, tx, f.Fields); err != nil {
			return err
		}
	}
	return nil
}

func insertFields(ctx context.Context, tx *sqlx.Tx, fields []*model.Field) error {
	for _, f := range fields {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO fields (id, interaction_id, form_id, template_code, position, value, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, f.ID, f.InteractionID, f.FormID, f.TemplateCode, f.Position, f.Value, f.CreatedAt, f.UpdatedAt); err != nil {
			return fmt.Errorf("failed to create field %s: %w", f.TemplateCode, err)
		}
	}
	return nil
}
