package template

import (
	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/clinical-scribe/internal/handler"
	templateService "github.com/jwalitptl/clinical-scribe/internal/service/template"
	"github.com/jwalitptl/clinical-scribe/pkg/httputil"
)

type Handler struct {
	handler.BaseHandler
	service templateService.TemplateServicer
}

func NewHandler(base handler.BaseHandler, service templateService.TemplateServicer) *Handler {
	return &Handler{BaseHandler: base, service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	templates := r.Group("/templates")
	{
		templates.GET("", h.ListTemplates)
		templates.POST("/search", h.SearchTemplates)
	}
}

type searchRequest struct {
	Query string   `json:"query" binding:"max=200"`
	Types []string `json:"types" binding:"omitempty,dive,oneof=fields flowsheets"`
}

func (h *Handler) ListTemplates(c *gin.Context) {
	result, err := h.service.Search(c.Request.Context(), "", nil)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, result)
}

func (h *Handler) SearchTemplates(c *gin.Context) {
	var req searchRequest
	if !h.BindJSON(c, &req) {
		return
	}

	result, err := h.service.Search(c.Request.Context(), req.Query, req.Types)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, result)
}
