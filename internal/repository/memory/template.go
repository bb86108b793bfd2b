package memory

import (
	"context"
	"sort"
	"strings"

	"github.com/jwalitptl/clinical-scribe/internal/model"
	"github.com/jwalitptl/clinical-scribe/internal/repository"
)

type templateRepository struct {
	s *Store
}

func NewTemplateRepository(s *Store) repository.TemplateRepository {
	return &templateRepository{s: s}
}

func (r *templateRepository) UpsertField(_ context.Context, t *model.FieldTemplate) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c := *t
	r.s.fieldTemplates[t.LOINCCode] = &c
	return nil
}

func (r *templateRepository) UpsertForm(_ context.Context, t *model.FormTemplate) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c := *t
	c.FieldCodes = append(model.StringList(nil), t.FieldCodes...)
	r.s.formTemplates[t.LOINCCode] = &c
	return nil
}

func (r *templateRepository) GetField(_ context.Context, code string) (*model.FieldTemplate, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	t, ok := r.s.fieldTemplates[code]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *t
	return &c, nil
}

func (r *templateRepository) GetForm(_ context.Context, code string) (*model.FormTemplate, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	t, ok := r.s.formTemplates[code]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *t
	return &c, nil
}

func (r *templateRepository) SearchFields(_ context.Context, query string) ([]*model.FieldTemplate, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	out := []*model.FieldTemplate{}
	for _, t := range r.s.fieldTemplates {
		if matches(query, t.LOINCCode, t.Label) {
			c := *t
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out, nil
}

func (r *templateRepository) SearchForms(_ context.Context, query string) ([]*model.FormTemplate, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	out := []*model.FormTemplate{}
	for _, t := range r.s.formTemplates {
		if matches(query, t.LOINCCode, t.Label) {
			c := *t
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out, nil
}

// matches mirrors the SQL search: label substring or code prefix, case-insensitive.
func matches(query, code, label string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return true
	}
	return strings.Contains(strings.ToLower(label), q) || strings.HasPrefix(strings.ToLower(code), q)
}
