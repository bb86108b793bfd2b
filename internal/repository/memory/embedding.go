package memory

import (
	"context"
	"math"
	"sort"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinical-scribe/internal/model"
	"github.com/jwalitptl/clinical-scribe/internal/repository"
)

type embeddingRepository struct {
	s *Store
}

func NewEmbeddingRepository(s *Store) repository.EmbeddingRepository {
	return &embeddingRepository{s: s}
}

func (r *embeddingRepository) Replace(_ context.Context, interactionID uuid.UUID, embeddings []*model.Embedding) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.interactions[interactionID]; !ok {
		return repository.ErrNotFound
	}
	stored := make([]*model.Embedding, len(embeddings))
	for i, e := range embeddings {
		c := *e
		c.InteractionID = interactionID
		stored[i] = &c
	}
	sort.Slice(stored, func(i, j int) bool { return stored[i].Position < stored[j].Position })
	r.s.embeddings[interactionID] = stored
	return nil
}

func (r *embeddingRepository) ListByInteraction(_ context.Context, interactionID uuid.UUID) ([]*model.Embedding, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	out := []*model.Embedding{}
	for _, e := range r.s.embeddings[interactionID] {
		c := *e
		out = append(out, &c)
	}
	return out, nil
}

func (r *embeddingRepository) Search(_ context.Context, interactionID uuid.UUID, vector []float32, limit int) ([]*model.EmbeddingMatch, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	out := []*model.EmbeddingMatch{}
	for _, e := range r.s.embeddings[interactionID] {
		out = append(out, &model.EmbeddingMatch{
			Embedding: *e,
			Score:     cosine(e.Vector.Slice(), vector),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
