package extraction

import (
	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/clinical-scribe/internal/handler"
	extractionService "github.com/jwalitptl/clinical-scribe/internal/service/extraction"
	jobService "github.com/jwalitptl/clinical-scribe/internal/service/job"
	"github.com/jwalitptl/clinical-scribe/pkg/httputil"
)

type Handler struct {
	handler.BaseHandler
	extraction extractionService.ExtractionServicer
	jobs       jobService.JobServicer
}

func NewHandler(base handler.BaseHandler, extraction extractionService.ExtractionServicer, jobs jobService.JobServicer) *Handler {
	return &Handler{BaseHandler: base, extraction: extraction, jobs: jobs}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/interactions/:id/extract", h.Extract)
	r.GET("/interactions/:id/jobs", h.ListJobs)
	r.GET("/jobs/:id", h.GetJob)
}

// Extract runs the extraction and answers once it has finished or failed.
func (h *Handler) Extract(c *gin.Context) {
	userID, ok := h.UserID(c)
	if !ok {
		return
	}
	id, ok := h.ParamUUID(c, "id")
	if !ok {
		return
	}

	outcome, err := h.extraction.Extract(c.Request.Context(), userID, id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, outcome)
}

func (h *Handler) ListJobs(c *gin.Context) {
	userID, ok := h.UserID(c)
	if !ok {
		return
	}
	id, ok := h.ParamUUID(c, "id")
	if !ok {
		return
	}

	jobs, err := h.jobs.ListByInteraction(c.Request.Context(), userID, id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, jobs)
}

func (h *Handler) GetJob(c *gin.Context) {
	userID, ok := h.UserID(c)
	if !ok {
		return
	}
	id, ok := h.ParamUUID(c, "id")
	if !ok {
		return
	}

	job, err := h.jobs.Get(c.Request.Context(), userID, id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, job)
}
