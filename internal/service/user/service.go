package user

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/jwalitptl/clinical-scribe/internal/model"
	"github.com/jwalitptl/clinical-scribe/internal/repository"
	apperrors "github.com/jwalitptl/clinical-scribe/pkg/errors"
)

type UserServicer interface {
	Resolve(ctx context.Context, identity *model.UserIdentity) (*model.User, error)
	GetUser(ctx context.Context, id uuid.UUID) (*model.User, error)
}

type Service struct {
	repo  repository.UserRepository
	cache *cache.Cache
}

// NewService remembers resolved users for ttl so an authenticated request
// only writes when the token carries new profile data.
func NewService(repo repository.UserRepository, ttl time.Duration) *Service {
	return &Service{
		repo:  repo,
		cache: cache.New(ttl, 2*ttl),
	}
}

// Resolve upserts the user a verified token describes.
func (s *Service) Resolve(ctx context.Context, identity *model.UserIdentity) (*model.User, error) {
	if identity.ID == uuid.Nil {
		return nil, apperrors.Unauthorized(errors.New("token subject is not a user id"))
	}

	key := identity.ID.String()
	if v, ok := s.cache.Get(key); ok {
		u := v.(*model.User)
		if u.Email == identity.Email && u.Name == identity.Name {
			return u, nil
		}
	}

	now := time.Now().UTC()
	u := &model.User{
		Base: model.Base{
			ID:        identity.ID,
			CreatedAt: now,
			UpdatedAt: now,
		},
		Email: identity.Email,
		Name:  identity.Name,
	}
	if err := s.repo.Upsert(ctx, u); err != nil {
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}
	s.cache.SetDefault(key, u)
	return u, nil
}

func (s *Service) GetUser(ctx context.Context, id uuid.UUID) (*model.User, error) {
	if v, ok := s.cache.Get(id.String()); ok {
		return v.(*model.User), nil
	}
	u, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewNotFound("user", err)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}
