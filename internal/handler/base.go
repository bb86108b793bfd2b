package handler

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/clinical-scribe/internal/middleware"
	apperrors "github.com/jwalitptl/clinical-scribe/pkg/errors"
	"github.com/jwalitptl/clinical-scribe/pkg/httputil"
)

// BaseHandler carries the request plumbing shared by every domain handler.
type BaseHandler struct {
	Validator *middleware.Validator
}

func NewBaseHandler(v *middleware.Validator) BaseHandler {
	return BaseHandler{Validator: v}
}

// BindJSON decodes and validates the body into obj, responding with a
// validation error when that fails.
func (h *BaseHandler) BindJSON(c *gin.Context, obj interface{}) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		httputil.RespondWithError(c, h.bindingError(err))
		return false
	}
	return true
}

// BindQuery is BindJSON for query parameters.
func (h *BaseHandler) BindQuery(c *gin.Context, obj interface{}) bool {
	if err := c.ShouldBindQuery(obj); err != nil {
		httputil.RespondWithError(c, h.bindingError(err))
		return false
	}
	return true
}

func (h *BaseHandler) bindingError(err error) error {
	if h.Validator == nil {
		return apperrors.NewValidation("invalid request", err)
	}
	return h.Validator.BindingError(err)
}

// UserID returns the authenticated caller or responds with 401.
func (h *BaseHandler) UserID(c *gin.Context) (uuid.UUID, bool) {
	id, ok := middleware.UserID(c)
	if !ok {
		httputil.RespondWithError(c, apperrors.Unauthorized(errors.New("no authenticated user")))
		return uuid.Nil, false
	}
	return id, true
}

// ParamUUID parses a path parameter or responds with 400.
func (h *BaseHandler) ParamUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		httputil.RespondWithError(c, apperrors.NewBadRequest("invalid "+name, err))
		return uuid.Nil, false
	}
	return id, true
}
