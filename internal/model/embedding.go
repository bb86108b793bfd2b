package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// Embedding is one chunk of an interaction's transcript text with its vector.
type Embedding struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	InteractionID uuid.UUID       `json:"interaction_id" db:"interaction_id"`
	Position      int             `json:"position" db:"position"`
	Document      string          `json:"document" db:"document"`
	Vector        pgvector.Vector `json:"-" db:"embedding"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// EmbeddingMatch is a search hit ranked by cosine similarity.
type EmbeddingMatch struct {
	Embedding
	Score float64 `json:"score" db:"score"`
}
