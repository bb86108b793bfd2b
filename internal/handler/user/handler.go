package user

import (
	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/clinical-scribe/internal/handler"
	userService "github.com/jwalitptl/clinical-scribe/internal/service/user"
	"github.com/jwalitptl/clinical-scribe/pkg/httputil"
)

type Handler struct {
	handler.BaseHandler
	service userService.UserServicer
}

func NewHandler(base handler.BaseHandler, service userService.UserServicer) *Handler {
	return &Handler{BaseHandler: base, service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/users/me", h.GetCurrentUser)
}

func (h *Handler) GetCurrentUser(c *gin.Context) {
	userID, ok := h.UserID(c)
	if !ok {
		return
	}

	u, err := h.service.GetUser(c.Request.Context(), userID)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, u)
}
