package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/jwalitptl/clinical-scribe/internal/config"
	"github.com/jwalitptl/clinical-scribe/internal/repository"
)

func NewDB(ctx context.Context, cfg config.DatabaseConfig) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
		db.SetMaxIdleConns(cfg.MaxConns / 2)
	}
	db.SetConnMaxLifetime(30 * time.Minute)

	// Test the connection
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// NewRepositories returns postgres-backed implementations of every repository.
func NewRepositories(db *sqlx.DB) *repository.Repositories {
	return &repository.Repositories{
		Templates:    NewTemplateRepository(db),
		Interactions: NewInteractionRepository(db),
		Jobs:         NewJobRepository(db),
		Audio:        NewAudioRepository(db),
		Transcripts:  NewTranscriptRepository(db),
		Embeddings:   NewEmbeddingRepository(db),
		Users:        NewUserRepository(db),
		Outbox:       NewOutboxRepository(db),
	}
}
