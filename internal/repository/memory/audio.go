package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinical-scribe/internal/model"
	"github.com/jwalitptl/clinical-scribe/internal/repository"
)

type audioRepository struct {
	s *Store
}

func NewAudioRepository(s *Store) repository.AudioRepository {
	return &audioRepository{s: s}
}

func (r *audioRepository) Create(_ context.Context, a *model.AudioRecording) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.interactions[a.InteractionID]; !ok {
		return repository.ErrNotFound
	}
	c := *a
	r.s.recordings[a.ID] = &c
	return nil
}

func (r *audioRepository) Get(_ context.Context, id uuid.UUID) (*model.AudioRecording, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.recordings[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *a
	return &c, nil
}

func (r *audioRepository) ListByInteraction(_ context.Context, interactionID uuid.UUID) ([]*model.AudioRecording, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	return r.s.recordingsOf(interactionID), nil
}

func (s *Store) recordingsOf(interactionID uuid.UUID) []*model.AudioRecording {
	out := []*model.AudioRecording{}
	for _, a := range s.recordings {
		if a.InteractionID == interactionID {
			c := *a
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

type transcriptRepository struct {
	s *Store
}

func NewTranscriptRepository(s *Store) repository.TranscriptRepository {
	return &transcriptRepository{s: s}
}

func (r *transcriptRepository) Claim(_ context.Context, audioID uuid.UUID) (*model.Transcript, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.recordings[audioID]; !ok {
		return nil, false, repository.ErrNotFound
	}

	ts := now()
	if t := r.s.transcriptOf(audioID); t != nil {
		if t.Status != model.TranscriptStatusError {
			c := *t
			return &c, false, nil
		}
		t.Status = model.TranscriptStatusPending
		t.Text = ""
		t.ErrorMessage = nil
		t.UpdatedAt = ts
		c := *t
		return &c, true, nil
	}

	t := &model.Transcript{
		Base:             model.Base{ID: uuid.New(), CreatedAt: ts, UpdatedAt: ts},
		AudioRecordingID: audioID,
		Status:           model.TranscriptStatusPending,
	}
	r.s.transcripts[t.ID] = t
	c := *t
	return &c, true, nil
}

func (r *transcriptRepository) Get(_ context.Context, id uuid.UUID) (*model.Transcript, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	t, ok := r.s.transcripts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *t
	return &c, nil
}

func (r *transcriptRepository) GetByAudio(_ context.Context, audioID uuid.UUID) (*model.Transcript, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	t := r.s.transcriptOf(audioID)
	if t == nil {
		return nil, repository.ErrNotFound
	}
	c := *t
	return &c, nil
}

func (r *transcriptRepository) Complete(_ context.Context, id uuid.UUID, text string) error {
	return r.finish(id, model.TranscriptStatusFinished, text, nil)
}

func (r *transcriptRepository) Fail(_ context.Context, id uuid.UUID, reason string) error {
	return r.finish(id, model.TranscriptStatusError, "", &reason)
}

func (r *transcriptRepository) finish(id uuid.UUID, status model.TranscriptStatus, text string, reason *string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	t, ok := r.s.transcripts[id]
	if !ok || t.Status != model.TranscriptStatusPending {
		return repository.ErrNotFound
	}
	t.Status = status
	t.Text = text
	t.ErrorMessage = reason
	t.UpdatedAt = now()
	return nil
}

func (r *transcriptRepository) FailStale(_ context.Context, cutoff time.Time, reason string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var n int64
	for _, t := range r.s.transcripts {
		if t.Status == model.TranscriptStatusPending && t.UpdatedAt.Before(cutoff) {
			msg := reason
			t.Status = model.TranscriptStatusError
			t.ErrorMessage = &msg
			t.UpdatedAt = now()
			n++
		}
	}
	return n, nil
}

func (r *transcriptRepository) ListByInteraction(_ context.Context, interactionID uuid.UUID) ([]*model.Transcript, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	out := []*model.Transcript{}
	for _, a := range r.s.recordingsOf(interactionID) {
		if t := r.s.transcriptOf(a.ID); t != nil {
			c := *t
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s *Store) transcriptOf(audioID uuid.UUID) *model.Transcript {
	for _, t := range s.transcripts {
		if t.AudioRecordingID == audioID {
			return t
		}
	}
	return nil
}
