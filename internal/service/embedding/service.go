package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/jwalitptl/clinical-scribe/internal/model"
	"github.com/jwalitptl/clinical-scribe/internal/repository"
	apperrors "github.com/jwalitptl/clinical-scribe/pkg/errors"
	"github.com/jwalitptl/clinical-scribe/pkg/llm"
	"github.com/jwalitptl/clinical-scribe/pkg/textsplit"
)

const (
	defaultSearchLimit = 5
	maxSearchLimit     = 50
)

type EmbeddingServicer interface {
	Generate(ctx context.Context, userID, interactionID uuid.UUID) ([]*model.Embedding, error)
	Search(ctx context.Context, userID, interactionID uuid.UUID, query string, limit int) ([]*model.EmbeddingMatch, error)
}

type Service struct {
	interactions repository.InteractionRepository
	transcripts  repository.TranscriptRepository
	embeddings   repository.EmbeddingRepository
	embedder     llm.Embedder
	splitter     *textsplit.Splitter
}

func NewService(repos *repository.Repositories, embedder llm.Embedder, splitter *textsplit.Splitter) *Service {
	return &Service{
		interactions: repos.Interactions,
		transcripts:  repos.Transcripts,
		embeddings:   repos.Embeddings,
		embedder:     embedder,
		splitter:     splitter,
	}
}

// Generate rebuilds the interaction's index from its FINISHED transcripts.
// Transcripts in any other state are skipped.
func (s *Service) Generate(ctx context.Context, userID, interactionID uuid.UUID) ([]*model.Embedding, error) {
	if err := s.checkOwner(ctx, userID, interactionID); err != nil {
		return nil, err
	}

	transcripts, err := s.transcripts.ListByInteraction(ctx, interactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transcripts: %w", err)
	}
	var sb strings.Builder
	for _, t := range transcripts {
		if t.Status == model.TranscriptStatusFinished {
			sb.WriteString(t.Text)
			sb.WriteString(". ")
		}
	}

	chunks := s.splitter.Split(sb.String())
	if len(chunks) == 0 {
		return nil, apperrors.NewNotReady("interaction has no finished transcript to index")
	}

	vectors, err := s.embedder.Embed(ctx, chunks)
	if err != nil {
		return nil, apperrors.NewExtractionFailure("embedding request failed", err)
	}
	if len(vectors) != len(chunks) {
		return nil, apperrors.NewExtractionFailure(
			fmt.Sprintf("expected %d embeddings, got %d", len(chunks), len(vectors)), llm.ErrMalformedResponse)
	}

	now := time.Now().UTC()
	embeddings := make([]*model.Embedding, len(chunks))
	for n, chunk := range chunks {
		embeddings[n] = &model.Embedding{
			ID:            uuid.New(),
			InteractionID: interactionID,
			Position:      n,
			Document:      chunk,
			Vector:        pgvector.NewVector(vectors[n]),
			CreatedAt:     now,
		}
	}
	if err := s.embeddings.Replace(ctx, interactionID, embeddings); err != nil {
		return nil, fmt.Errorf("failed to store embeddings: %w", err)
	}
	return embeddings, nil
}

// Search ranks the interaction's chunks by cosine similarity to query.
// An empty query lists the chunks in document order.
func (s *Service) Search(ctx context.Context, userID, interactionID uuid.UUID, query string, limit int) ([]*model.EmbeddingMatch, error) {
	if err := s.checkOwner(ctx, userID, interactionID); err != nil {
		return nil, err
	}

	if strings.TrimSpace(query) == "" {
		all, err := s.embeddings.ListByInteraction(ctx, interactionID)
		if err != nil {
			return nil, fmt.Errorf("failed to list embeddings: %w", err)
		}
		matches := make([]*model.EmbeddingMatch, len(all))
		for n, e := range all {
			matches[n] = &model.EmbeddingMatch{Embedding: *e}
		}
		return matches, nil
	}

	switch {
	case limit <= 0:
		limit = defaultSearchLimit
	case limit > maxSearchLimit:
		limit = maxSearchLimit
	}

	vectors, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, apperrors.NewExtractionFailure("embedding request failed", err)
	}
	if len(vectors) != 1 {
		return nil, apperrors.NewExtractionFailure("no embedding returned for query", llm.ErrMalformedResponse)
	}

	matches, err := s.embeddings.Search(ctx, interactionID, vectors[0], limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search embeddings: %w", err)
	}
	return matches, nil
}

func (s *Service) checkOwner(ctx context.Context, userID, interactionID uuid.UUID) error {
	i, err := s.interactions.Get(ctx, interactionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperrors.NewNotFound("interaction", err)
		}
		return fmt.Errorf("failed to get interaction: %w", err)
	}
	if i.UserID != userID {
		return apperrors.NewNotFound("interaction", nil)
	}
	return nil
}
