package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pgvector/pgvector-go"

	"github.com/jwalitptl/clinical-scribe/internal/model"
	"github.com/jwalitptl/clinical-scribe/internal/repository"
)

type embeddingRepository struct {
	BaseRepository
}

func NewEmbeddingRepository(db *sqlx.DB) repository.EmbeddingRepository {
	return &embeddingRepository{NewBaseRepository(db)}
}

func (r *embeddingRepository) Replace(ctx context.Context, interactionID uuid.UUID, embeddings []*model.Embedding) error {
	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM embeddings WHERE interaction_id = $1`, interactionID); err != nil {
			return fmt.Errorf("failed to delete embeddings: %w", err)
		}
		for _, e := range embeddings {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO embeddings (id, interaction_id, position, document, embedding, created_at)
				VALUES ($1, $2, $3, $4, $5, $6)
			`, e.ID, interactionID, e.Position, e.Document, e.Vector, e.CreatedAt); err != nil {
				return fmt.Errorf("failed to create embedding %d: %w", e.Position, err)
			}
		}
		return nil
	})
}

func (r *embeddingRepository) ListByInteraction(ctx context.Context, interactionID uuid.UUID) ([]*model.Embedding, error) {
	var embeddings []*model.Embedding
	err := r.db.SelectContext(ctx, &embeddings, `
		SELECT id, interaction_id, position, document, embedding, created_at
		FROM embeddings
		WHERE interaction_id = $1
		ORDER BY position
	`, interactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list embeddings: %w", err)
	}
	return embeddings, nil
}

func (r *embeddingRepository) Search(ctx context.Context, interactionID uuid.UUID, vector []float32, limit int) ([]*model.EmbeddingMatch, error) {
	var matches []*model.EmbeddingMatch
	err := r.db.SelectContext(ctx, &matches, `
		SELECT id, interaction_id, position, document, embedding, created_at,
			1 - (embedding <=> $2) AS score
		FROM embeddings
		WHERE interaction_id = $1
		ORDER BY embedding <=> $2
		LIMIT $3
	`, interactionID, pgvector.NewVector(vector), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search embeddings: %w", err)
	}
	return matches, nil
}
