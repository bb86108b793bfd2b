// Package memory keeps every repository in process behind a single mutex.
// It backs the "memory" database driver and the service tests.
package memory

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinical-scribe/internal/model"
	"github.com/jwalitptl/clinical-scribe/internal/repository"
)

// Store holds all tables. Repositories created from the same Store share state.
type Store struct {
	mu sync.Mutex

	fieldTemplates map[string]*model.FieldTemplate
	formTemplates  map[string]*model.FormTemplate
	users          map[uuid.UUID]*model.User
	interactions   map[uuid.UUID]*model.Interaction
	forms          map[uuid.UUID]*model.Form
	fields         map[uuid.UUID]*model.Field
	jobs           map[uuid.UUID]*model.ExtractionJob
	recordings     map[uuid.UUID]*model.AudioRecording
	transcripts    map[uuid.UUID]*model.Transcript
	embeddings     map[uuid.UUID][]*model.Embedding
	outbox         []*model.OutboxEvent
}

func NewStore() *Store {
	return &Store{
		fieldTemplates: make(map[string]*model.FieldTemplate),
		formTemplates:  make(map[string]*model.FormTemplate),
		users:          make(map[uuid.UUID]*model.User),
		interactions:   make(map[uuid.UUID]*model.Interaction),
		forms:          make(map[uuid.UUID]*model.Form),
		fields:         make(map[uuid.UUID]*model.Field),
		jobs:           make(map[uuid.UUID]*model.ExtractionJob),
		recordings:     make(map[uuid.UUID]*model.AudioRecording),
		transcripts:    make(map[uuid.UUID]*model.Transcript),
		embeddings:     make(map[uuid.UUID][]*model.Embedding),
	}
}

// OutboxEvents returns a snapshot of the outbox in insertion order.
func (s *Store) OutboxEvents() []*model.OutboxEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*model.OutboxEvent, len(s.outbox))
	for i, e := range s.outbox {
		c := *e
		out[i] = &c
	}
	return out
}

func now() time.Time {
	return time.Now().UTC()
}

func copyInteraction(i *model.Interaction) *model.Interaction {
	c := *i
	c.Tags = append(model.StringList(nil), i.Tags...)
	if i.ExtractedData != nil {
		// values are JSON scalars, a shallow copy is enough
		c.ExtractedData = make(model.ExtractedData, len(i.ExtractedData))
		for k, v := range i.ExtractedData {
			c.ExtractedData[k] = v
		}
	}
	return &c
}

func copyField(f *model.Field) *model.Field {
	c := *f
	c.Value = append(model.FieldValue(nil), f.Value...)
	return &c
}

func copyJob(j *model.ExtractionJob) *model.ExtractionJob {
	c := *j
	return &c
}

// roundTrip normalises a value the way a jsonb column would.
func roundTrip(v interface{}) interface{} {
	b, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out interface{}
	if err := json.Unmarshal(b, &out); err != nil {
		return v
	}
	return out
}

// NewRepositories returns every repository backed by s.
func NewRepositories(s *Store) *repository.Repositories {
	return &repository.Repositories{
		Templates:    NewTemplateRepository(s),
		Interactions: NewInteractionRepository(s),
		Jobs:         NewJobRepository(s),
		Audio:        NewAudioRepository(s),
		Transcripts:  NewTranscriptRepository(s),
		Embeddings:   NewEmbeddingRepository(s),
		Users:        NewUserRepository(s),
		Outbox:       NewOutboxRepository(s),
	}
}
