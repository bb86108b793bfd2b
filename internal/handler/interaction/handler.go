package interaction

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/clinical-scribe/internal/handler"
	"github.com/jwalitptl/clinical-scribe/internal/model"
	interactionService "github.com/jwalitptl/clinical-scribe/internal/service/interaction"
	"github.com/jwalitptl/clinical-scribe/pkg/httputil"
)

type Handler struct {
	handler.BaseHandler
	service interactionService.InteractionServicer
}

func NewHandler(base handler.BaseHandler, service interactionService.InteractionServicer) *Handler {
	return &Handler{BaseHandler: base, service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	interactions := r.Group("/interactions")
	{
		interactions.POST("", h.CreateInteraction)
		interactions.GET("/:id", h.GetInteraction)
		interactions.PUT("/:id", h.UpdateInteraction)
		interactions.DELETE("/:id", h.DeleteInteraction)
		interactions.POST("/:id/validate", h.ValidateInteraction)
		interactions.GET("/:id/extraction", h.GetExtractionResult)
	}

	users := r.Group("/users")
	{
		users.GET("/current_interactions", h.CurrentInteractions)
		users.GET("/history_interactions", h.HistoryInteractions)
	}
}

func (h *Handler) CreateInteraction(c *gin.Context) {
	userID, ok := h.UserID(c)
	if !ok {
		return
	}
	var req model.CreateInteractionRequest
	if !h.BindJSON(c, &req) {
		return
	}

	detail, err := h.service.Create(c.Request.Context(), userID, &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithStatus(c, http.StatusCreated, detail)
}

func (h *Handler) GetInteraction(c *gin.Context) {
	userID, ok := h.UserID(c)
	if !ok {
		return
	}
	id, ok := h.ParamUUID(c, "id")
	if !ok {
		return
	}

	detail, err := h.service.GetDetail(c.Request.Context(), userID, id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, detail)
}

func (h *Handler) UpdateInteraction(c *gin.Context) {
	userID, ok := h.UserID(c)
	if !ok {
		return
	}
	id, ok := h.ParamUUID(c, "id")
	if !ok {
		return
	}
	var req model.UpdateInteractionRequest
	if !h.BindJSON(c, &req) {
		return
	}

	detail, err := h.service.Update(c.Request.Context(), userID, id, &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, detail)
}

func (h *Handler) DeleteInteraction(c *gin.Context) {
	userID, ok := h.UserID(c)
	if !ok {
		return
	}
	id, ok := h.ParamUUID(c, "id")
	if !ok {
		return
	}

	if err := h.service.Delete(c.Request.Context(), userID, id); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) ValidateInteraction(c *gin.Context) {
	userID, ok := h.UserID(c)
	if !ok {
		return
	}
	id, ok := h.ParamUUID(c, "id")
	if !ok {
		return
	}

	i, err := h.service.Validate(c.Request.Context(), userID, id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, i)
}

func (h *Handler) GetExtractionResult(c *gin.Context) {
	userID, ok := h.UserID(c)
	if !ok {
		return
	}
	id, ok := h.ParamUUID(c, "id")
	if !ok {
		return
	}

	data, err := h.service.GetExtractionResult(c.Request.Context(), userID, id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, data)
}

func (h *Handler) CurrentInteractions(c *gin.Context) {
	userID, ok := h.UserID(c)
	if !ok {
		return
	}

	current, err := h.service.Current(c.Request.Context(), userID)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, current)
}

func (h *Handler) HistoryInteractions(c *gin.Context) {
	userID, ok := h.UserID(c)
	if !ok {
		return
	}

	finished, err := h.service.History(c.Request.Context(), userID)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, finished)
}
