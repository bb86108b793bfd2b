package user

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/clinical-scribe/internal/model"
	"github.com/jwalitptl/clinical-scribe/internal/repository/memory"
	apperrors "github.com/jwalitptl/clinical-scribe/pkg/errors"
)

func TestResolve(t *testing.T) {
	repo := memory.NewRepositories(memory.NewStore()).Users
	svc := NewService(repo, time.Minute)
	ctx := context.Background()
	id := uuid.New()

	u, err := svc.Resolve(ctx, &model.UserIdentity{ID: id, Email: "dr.lee@example.org", Name: "Dr Lee"})
	require.NoError(t, err)
	assert.Equal(t, id, u.ID)

	stored, err := repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "dr.lee@example.org", stored.Email)

	// a changed profile is written through
	_, err = svc.Resolve(ctx, &model.UserIdentity{ID: id, Email: "lee@example.org", Name: "Dr Lee"})
	require.NoError(t, err)
	stored, err = repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "lee@example.org", stored.Email)

	got, err := svc.GetUser(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "lee@example.org", got.Email)
}

func TestResolveRejectsNilSubject(t *testing.T) {
	svc := NewService(memory.NewRepositories(memory.NewStore()).Users, time.Minute)

	_, err := svc.Resolve(context.Background(), &model.UserIdentity{Email: "x@example.org"})
	assert.Equal(t, apperrors.ErrUnauthorized, apperrors.CodeOf(err))
}

func TestGetUserNotFound(t *testing.T) {
	svc := NewService(memory.NewRepositories(memory.NewStore()).Users, time.Minute)

	_, err := svc.GetUser(context.Background(), uuid.New())
	assert.True(t, apperrors.IsNotFound(err))
}
