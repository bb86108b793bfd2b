package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinical-scribe/internal/model"
	"github.com/jwalitptl/clinical-scribe/internal/repository"
)

type interactionRepository struct {
	s *Store
}

func NewInteractionRepository(s *Store) repository.InteractionRepository {
	return &interactionRepository{s: s}
}

func (r *interactionRepository) Create(_ context.Context, detail *model.InteractionDetail) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	i := detail.Interaction
	if _, ok := r.s.interactions[i.ID]; ok {
		return repository.ErrConflict
	}
	r.s.interactions[i.ID] = copyInteraction(i)
	r.s.insertForms(detail.Forms)
	r.s.insertFields(detail.Fields)
	return nil
}

func (r *interactionRepository) Get(_ context.Context, id uuid.UUID) (*model.Interaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	i, ok := r.s.interactions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyInteraction(i), nil
}

func (r *interactionRepository) GetDetail(_ context.Context, id uuid.UUID) (*model.InteractionDetail, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	i, ok := r.s.interactions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return r.s.detail(i), nil
}

func (r *interactionRepository) ListByUser(_ context.Context, userID uuid.UUID, statuses ...model.InteractionStatus) ([]*model.Interaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	out := []*model.Interaction{}
	for _, i := range r.s.interactions {
		if i.UserID != userID || !statusIn(i.Status, statuses) {
			continue
		}
		out = append(out, copyInteraction(i))
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.After(out[b].CreatedAt) })
	return out, nil
}

func (r *interactionRepository) Delete(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.interactions[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.s.interactions, id)
	for fid, f := range r.s.forms {
		if f.InteractionID == id {
			delete(r.s.forms, fid)
		}
	}
	for fid, f := range r.s.fields {
		if f.InteractionID == id {
			delete(r.s.fields, fid)
		}
	}
	for jid, j := range r.s.jobs {
		if j.InteractionID == id {
			delete(r.s.jobs, jid)
		}
	}
	for aid, a := range r.s.recordings {
		if a.InteractionID != id {
			continue
		}
		delete(r.s.recordings, aid)
		for tid, t := range r.s.transcripts {
			if t.AudioRecordingID == aid {
				delete(r.s.transcripts, tid)
			}
		}
	}
	delete(r.s.embeddings, id)
	return nil
}

func (r *interactionRepository) ReplaceSchema(
	_ context.Context,
	id uuid.UUID,
	decide func(current *model.InteractionDetail, running bool) (*model.SchemaChange, error),
) (*model.Interaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	i, ok := r.s.interactions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}

	change, err := decide(r.s.detail(i), r.s.runningJob(id) != nil)
	if err != nil {
		return nil, err
	}

	if change.ReplaceFields {
		for fid, f := range r.s.fields {
			if f.InteractionID == id && f.FormID == nil {
				delete(r.s.fields, fid)
			}
		}
		r.s.insertFields(change.Fields)
	}
	if change.ReplaceForms {
		for fid, f := range r.s.forms {
			if f.InteractionID != id {
				continue
			}
			delete(r.s.forms, fid)
			for xid, x := range r.s.fields {
				if x.FormID != nil && *x.FormID == fid {
					delete(r.s.fields, xid)
				}
			}
		}
		r.s.insertForms(change.Forms)
	}

	ts := now()
	if change.ClearExtracted {
		for _, f := range r.s.fields {
			if f.InteractionID == id {
				f.Value = nil
				f.UpdatedAt = ts
			}
		}
		i.ExtractedData = nil
	}
	i.Tags = append(model.StringList(nil), change.Tags...)
	i.Status = change.Status
	i.UpdatedAt = ts
	return copyInteraction(i), nil
}

func (r *interactionRepository) Transition(
	_ context.Context,
	id uuid.UUID,
	guard func(*model.Interaction) error,
	to model.InteractionStatus,
	event *model.OutboxEvent,
) (*model.Interaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	i, ok := r.s.interactions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if err := guard(copyInteraction(i)); err != nil {
		return nil, err
	}

	i.Status = to
	i.UpdatedAt = now()
	r.s.appendOutbox(event)
	return copyInteraction(i), nil
}

func (r *interactionRepository) ApplyExtraction(_ context.Context, result *model.ExtractionResult) (*model.Interaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	i, ok := r.s.interactions[result.InteractionID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if i.Status != model.InteractionStatusQueued {
		return nil, fmt.Errorf("interaction %s is %s, expected %s", i.ID, i.Status, model.InteractionStatusQueued)
	}
	job, ok := r.s.jobs[result.JobID]
	if !ok || job.InteractionID != i.ID || job.Status != model.ExtractionJobStatusRunning {
		return nil, repository.ErrJobNotRunning
	}

	// encode everything before mutating so a bad value leaves no partial write
	values := make(map[string]model.FieldValue, len(result.Data))
	data := make(model.ExtractedData, len(result.Data))
	for code, v := range result.Data {
		fv, err := model.NewFieldValue(v)
		if err != nil {
			return nil, fmt.Errorf("failed to encode value for %s: %w", code, err)
		}
		values[code] = fv
		data[code] = roundTrip(v)
	}

	delete(r.s.jobs, job.ID)
	ts := now()
	for _, f := range r.s.fields {
		if f.InteractionID != i.ID {
			continue
		}
		if v, ok := values[f.TemplateCode]; ok {
			if v.IsNull() {
				v = nil
			}
			f.Value = v
			f.UpdatedAt = ts
		}
	}
	i.ExtractedData = data
	i.Status = model.InteractionStatusValidating
	i.UpdatedAt = ts
	r.s.appendOutbox(result.Event)
	return copyInteraction(i), nil
}

// detail assembles an interaction with labelled, position-ordered forms and fields.
// Callers hold s.mu.
func (s *Store) detail(i *model.Interaction) *model.InteractionDetail {
	d := &model.InteractionDetail{
		Interaction: copyInteraction(i),
		Forms:       []*model.Form{},
		Fields:      []*model.Field{},
	}

	byID := make(map[uuid.UUID]*model.Form)
	for _, f := range s.forms {
		if f.InteractionID != i.ID {
			continue
		}
		c := *f
		c.Fields = []*model.Field{}
		if t, ok := s.formTemplates[f.TemplateCode]; ok {
			c.Label = t.Label
		}
		byID[c.ID] = &c
		d.Forms = append(d.Forms, &c)
	}
	sort.Slice(d.Forms, func(a, b int) bool { return d.Forms[a].Position < d.Forms[b].Position })

	var fields []*model.Field
	for _, f := range s.fields {
		if f.InteractionID != i.ID {
			continue
		}
		c := copyField(f)
		if t, ok := s.fieldTemplates[f.TemplateCode]; ok {
			c.Label = t.Label
		}
		fields = append(fields, c)
	}
	sort.Slice(fields, func(a, b int) bool { return fields[a].Position < fields[b].Position })

	for _, f := range fields {
		if f.FormID == nil {
			d.Fields = append(d.Fields, f)
			continue
		}
		if form, ok := byID[*f.FormID]; ok {
			form.Fields = append(form.Fields, f)
		}
	}
	return d
}

func (s *Store) insertForms(forms []*model.Form) {
	for _, f := range forms {
		c := *f
		c.Fields = nil
		s.forms[c.ID] = &c
		s.insertFields(f.Fields)
	}
}

func (s *Store) insertFields(fields []*model.Field) {
	for _, f := range fields {
		s.fields[f.ID] = copyField(f)
	}
}

func (s *Store) runningJob(interactionID uuid.UUID) *model.ExtractionJob {
	for _, j := range s.jobs {
		if j.InteractionID == interactionID && j.Status == model.ExtractionJobStatusRunning {
			return j
		}
	}
	return nil
}

func (s *Store) appendOutbox(event *model.OutboxEvent) {
	if event == nil {
		return
	}
	c := *event
	s.outbox = append(s.outbox, &c)
}

func statusIn(s model.InteractionStatus, statuses []model.InteractionStatus) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, x := range statuses {
		if x == s {
			return true
		}
	}
	return false
}
