package embedding

import (
	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/clinical-scribe/internal/handler"
	embeddingService "github.com/jwalitptl/clinical-scribe/internal/service/embedding"
	"github.com/jwalitptl/clinical-scribe/pkg/httputil"
)

type Handler struct {
	handler.BaseHandler
	service embeddingService.EmbeddingServicer
}

func NewHandler(base handler.BaseHandler, service embeddingService.EmbeddingServicer) *Handler {
	return &Handler{BaseHandler: base, service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/interactions/:id/embeddings", h.GenerateEmbeddings)
	r.GET("/interactions/:id/embeddings", h.SearchEmbeddings)
}

type searchQuery struct {
	Query string `form:"query" binding:"max=2000"`
	Limit int    `form:"limit" binding:"omitempty,min=1,max=50"`
}

func (h *Handler) GenerateEmbeddings(c *gin.Context) {
	userID, ok := h.UserID(c)
	if !ok {
		return
	}
	id, ok := h.ParamUUID(c, "id")
	if !ok {
		return
	}

	embeddings, err := h.service.Generate(c.Request.Context(), userID, id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, gin.H{"count": len(embeddings), "embeddings": embeddings})
}

func (h *Handler) SearchEmbeddings(c *gin.Context) {
	userID, ok := h.UserID(c)
	if !ok {
		return
	}
	id, ok := h.ParamUUID(c, "id")
	if !ok {
		return
	}
	var q searchQuery
	if !h.BindQuery(c, &q) {
		return
	}

	matches, err := h.service.Search(c.Request.Context(), userID, id, q.Query, q.Limit)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, matches)
}
