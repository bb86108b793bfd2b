package template

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/patrickmn/go-cache"
	"gopkg.in/yaml.v3"

	"github.com/jwalitptl/clinical-scribe/internal/model"
	"github.com/jwalitptl/clinical-scribe/internal/repository"
	apperrors "github.com/jwalitptl/clinical-scribe/pkg/errors"
)

type TemplateServicer interface {
	GetField(ctx context.Context, code string) (*model.FieldTemplate, error)
	GetForm(ctx context.Context, code string) (*model.FormTemplate, error)
	Search(ctx context.Context, query string, types []string) (*SearchResult, error)
	Load(ctx context.Context, catalog *model.Catalog) (*LoadSummary, error)
}

// SearchResult lists matching templates per category. A category that was
// not requested is omitted.
type SearchResult struct {
	Fields     []*model.FieldTemplate `json:"fields,omitempty"`
	Flowsheets []*model.FormTemplate  `json:"flowsheets,omitempty"`
}

type LoadSummary struct {
	Fields     int `json:"fields"`
	Flowsheets int `json:"flowsheets"`
}

type Service struct {
	repo  repository.TemplateRepository
	cache *cache.Cache
}

// NewService caches template lookups for ttl. Templates are immutable once
// loaded, so the cache is only flushed by Load.
func NewService(repo repository.TemplateRepository, ttl time.Duration) *Service {
	return &Service{
		repo:  repo,
		cache: cache.New(ttl, 2*ttl),
	}
}

func (s *Service) GetField(ctx context.Context, code string) (*model.FieldTemplate, error) {
	key := "field:" + code
	if v, ok := s.cache.Get(key); ok {
		return v.(*model.FieldTemplate), nil
	}

	t, err := s.repo.GetField(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewNotFound(fmt.Sprintf("field template %s", code), err)
		}
		return nil, fmt.Errorf("failed to get field template: %w", err)
	}
	s.cache.SetDefault(key, t)
	return t, nil
}

func (s *Service) GetForm(ctx context.Context, code string) (*model.FormTemplate, error) {
	key := "form:" + code
	if v, ok := s.cache.Get(key); ok {
		return v.(*model.FormTemplate), nil
	}

	t, err := s.repo.GetForm(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewNotFound(fmt.Sprintf("flowsheet template %s", code), err)
		}
		return nil, fmt.Errorf("failed to get flowsheet template: %w", err)
	}
	s.cache.SetDefault(key, t)
	return t, nil
}

// Search matches query against template labels and codes. types selects the
// categories ("fields", "flowsheets"); an empty list means both.
func (s *Service) Search(ctx context.Context, query string, types []string) (*SearchResult, error) {
	wantFields, wantForms := len(types) == 0, len(types) == 0
	for _, t := range types {
		switch t {
		case model.CategoryFields:
			wantFields = true
		case model.CategoryFlowsheets:
			wantForms = true
		default:
			return nil, apperrors.NewValidation(fmt.Sprintf("unknown template type %q", t), nil)
		}
	}

	result := &SearchResult{}
	if wantFields {
		fields, err := s.repo.SearchFields(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("failed to search field templates: %w", err)
		}
		result.Fields = nonNil(fields)
	}
	if wantForms {
		forms, err := s.repo.SearchForms(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("failed to search flowsheet templates: %w", err)
		}
		result.Flowsheets = nonNil(forms)
	}
	return result, nil
}

// Load validates the catalog and upserts every template, fields before the
// forms that reference them.
func (s *Service) Load(ctx context.Context, catalog *model.Catalog) (*LoadSummary, error) {
	if err := catalog.Validate(); err != nil {
		return nil, apperrors.NewValidation("invalid template catalog", err)
	}

	for _, f := range catalog.Fields {
		if err := s.repo.UpsertField(ctx, f); err != nil {
			return nil, fmt.Errorf("failed to load field template %s: %w", f.LOINCCode, err)
		}
	}
	for _, f := range catalog.Forms {
		if err := s.repo.UpsertForm(ctx, f); err != nil {
			return nil, fmt.Errorf("failed to load flowsheet template %s: %w", f.LOINCCode, err)
		}
	}
	s.cache.Flush()

	return &LoadSummary{Fields: len(catalog.Fields), Flowsheets: len(catalog.Forms)}, nil
}

// ReadCatalog decodes a YAML template catalog, rejecting unknown keys.
func ReadCatalog(r io.Reader) (*model.Catalog, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var c model.Catalog
	if err := dec.Decode(&c); err != nil {
		if errors.Is(err, io.EOF) {
			return &c, nil
		}
		return nil, fmt.Errorf("failed to decode catalog: %w", err)
	}
	return &c, nil
}

func ReadCatalogFile(path string) (*model.Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	defer f.Close()
	return ReadCatalog(f)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
