package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/clinical-scribe/internal/model"
	"github.com/jwalitptl/clinical-scribe/internal/repository"
)

type userRepository struct {
	db *sqlx.DB
}

func NewUserRepository(db *sqlx.DB) repository.UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) Upsert(ctx context.Context, u *model.User) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO users (id, email, name, created_at, updated_at)
		VALUES (:id, :email, :name, :created_at, :updated_at)
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			name = EXCLUDED.name,
			updated_at = EXCLUDED.updated_at
	`, u)
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}

func (r *userRepository) Get(ctx context.Context, id uuid.UUID) (*model.User, error) {
	var u model.User
	if err := r.db.GetContext(ctx, &u, `SELECT id, email, name, created_at, updated_at FROM users WHERE id = $1`, id); err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}
