package middleware

import (
	"context"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/clinical-scribe/internal/model"
	"github.com/jwalitptl/clinical-scribe/pkg/auth"
	apperrors "github.com/jwalitptl/clinical-scribe/pkg/errors"
	"github.com/jwalitptl/clinical-scribe/pkg/httputil"
)

const ContextUserID = "user_id"

// UserResolver turns a verified token identity into a stored user.
type UserResolver interface {
	Resolve(ctx context.Context, identity *model.UserIdentity) (*model.User, error)
}

type AuthMiddleware struct {
	tokens auth.JWTService
	users  UserResolver
}

func NewAuthMiddleware(secret string, users UserResolver) *AuthMiddleware {
	return &AuthMiddleware{
		tokens: auth.NewHS256(secret),
		users:  users,
	}
}

// Authenticate verifies the HS256 bearer token and stores the caller's
// user id in the context.
func (m *AuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			httputil.RespondWithError(c, apperrors.Unauthorized(errors.New("missing authorization header")))
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			httputil.RespondWithError(c, apperrors.Unauthorized(errors.New("invalid authorization format")))
			return
		}

		identity, err := m.ParseToken(parts[1])
		if err != nil {
			httputil.RespondWithError(c, apperrors.Unauthorized(err))
			return
		}

		user, err := m.users.Resolve(c.Request.Context(), identity)
		if err != nil {
			httputil.RespondWithError(c, err)
			return
		}

		c.Set(ContextUserID, user.ID)
		c.Next()
	}
}

// ParseToken verifies a bearer token and returns the identity it carries.
func (m *AuthMiddleware) ParseToken(token string) (*model.UserIdentity, error) {
	identity, err := m.tokens.ValidateToken(token)
	if err != nil {
		return nil, err
	}
	return &model.UserIdentity{ID: identity.Subject, Email: identity.Email, Name: identity.Name}, nil
}

// UserID returns the authenticated caller. It is only false on routes that
// do not run Authenticate.
func UserID(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(ContextUserID)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}
