package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/clinical-scribe/internal/model"
	"github.com/jwalitptl/clinical-scribe/internal/repository"
)

type templateRepository struct {
	BaseRepository
}

func NewTemplateRepository(db *sqlx.DB) repository.TemplateRepository {
	return &templateRepository{NewBaseRepository(db)}
}

const formTemplateSelect = `
	SELECT f.loinc_code, f.label, f.description,
		COALESCE(array_agg(ff.field_code ORDER BY ff.position) FILTER (WHERE ff.field_code IS NOT NULL), '{}') AS field_codes
	FROM form_templates f
	LEFT JOIN form_template_fields ff ON ff.form_code = f.loinc_code
`

func (r *templateRepository) UpsertField(ctx context.Context, t *model.FieldTemplate) error {
	query := `
		INSERT INTO field_templates (loinc_code, label, value_type, unit, options, description)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (loinc_code) DO UPDATE SET
			label = EXCLUDED.label,
			value_type = EXCLUDED.value_type,
			unit = EXCLUDED.unit,
			options = EXCLUDED.options,
			description = EXCLUDED.description
	`
	if _, err := r.db.ExecContext(ctx, query,
		t.LOINCCode, t.Label, t.ValueType, t.Unit, t.Options, t.Description,
	); err != nil {
		return fmt.Errorf("failed to upsert field template %s: %w", t.LOINCCode, err)
	}
	return nil
}

func (r *templateRepository) UpsertForm(ctx context.Context, t *model.FormTemplate) error {
	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO form_templates (loinc_code, label, description)
			VALUES ($1, $2, $3)
			ON CONFLICT (loinc_code) DO UPDATE SET
				label = EXCLUDED.label,
				description = EXCLUDED.description
		`, t.LOINCCode, t.Label, t.Description)
		if err != nil {
			return fmt.Errorf("failed to upsert form template %s: %w", t.LOINCCode, err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM form_template_fields WHERE form_code = $1`, t.LOINCCode); err != nil {
			return fmt.Errorf("failed to reset form template fields: %w", err)
		}
		for i, code := range t.FieldCodes {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO form_template_fields (form_code, field_code, position)
				VALUES ($1, $2, $3)
			`, t.LOINCCode, code, i); err != nil {
				return fmt.Errorf("failed to attach field %s to form %s: %w", code, t.LOINCCode, err)
			}
		}
		return nil
	})
}

func (r *templateRepository) GetField(ctx context.Context, code string) (*model.FieldTemplate, error) {
	var t model.FieldTemplate
	err := r.db.GetContext(ctx, &t, `
		SELECT loinc_code, label, value_type, unit, options, description
		FROM field_templates
		WHERE loinc_code = $1
	`, code)
	if err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

func (r *templateRepository) GetForm(ctx context.Context, code string) (*model.FormTemplate, error) {
	var t model.FormTemplate
	err := r.db.GetContext(ctx, &t, formTemplateSelect+`
		WHERE f.loinc_code = $1
		GROUP BY f.loinc_code
	`, code)
	if err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

func (r *templateRepository) SearchFields(ctx context.Context, query string) ([]*model.FieldTemplate, error) {
	var templates []*model.FieldTemplate
	err := r.db.SelectContext(ctx, &templates, `
		SELECT loinc_code, label, value_type, unit, options, description
		FROM field_templates
		WHERE $1 = '' OR label ILIKE '%' || $1 || '%' OR loinc_code ILIKE $1 || '%'
		ORDER BY label
	`, strings.TrimSpace(query))
	if err != nil {
		return nil, fmt.Errorf("failed to search field templates: %w", err)
	}
	return templates, nil
}

func (r *templateRepository) SearchForms(ctx context.Context, query string) ([]*model.FormTemplate, error) {
	var templates []*model.FormTemplate
	err := r.db.SelectContext(ctx, &templates, formTemplateSelect+`
		WHERE $1 = '' OR f.label ILIKE '%' || $1 || '%' OR f.loinc_code ILIKE $1 || '%'
		GROUP BY f.loinc_code
		ORDER BY f.label
	`, strings.TrimSpace(query))
	if err != nil {
		return nil, fmt.Errorf("failed to search form templates: %w", err)
	}
	return templates, nil
}
