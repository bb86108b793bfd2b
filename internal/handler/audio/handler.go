package audio

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/clinical-scribe/internal/handler"
	extractionService "github.com/jwalitptl/clinical-scribe/internal/service/extraction"
	transcriptionService "github.com/jwalitptl/clinical-scribe/internal/service/transcription"
	apperrors "github.com/jwalitptl/clinical-scribe/pkg/errors"
	"github.com/jwalitptl/clinical-scribe/pkg/httputil"
)

const formFileField = "audio"

type Handler struct {
	handler.BaseHandler
	transcription transcriptionService.TranscriptionServicer
	extraction    extractionService.ExtractionServicer
}

func NewHandler(
	base handler.BaseHandler,
	transcription transcriptionService.TranscriptionServicer,
	extraction extractionService.ExtractionServicer,
) *Handler {
	return &Handler{BaseHandler: base, transcription: transcription, extraction: extraction}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/interactions/:id/audio", h.UploadAudio)

	audio := r.Group("/audio")
	{
		audio.GET("/:id", h.GetAudio)
		audio.POST("/:id/transcript", h.GenerateTranscript)
	}

	r.GET("/transcripts/:id", h.GetTranscript)
}

type generateTranscriptQuery struct {
	Wait bool `form:"wait"`
}

// UploadAudio stores the recording, transcribes it and, while the
// interaction is QUEUED, extracts from it.
func (h *Handler) UploadAudio(c *gin.Context) {
	userID, ok := h.UserID(c)
	if !ok {
		return
	}
	id, ok := h.ParamUUID(c, "id")
	if !ok {
		return
	}

	fh, err := c.FormFile(formFileField)
	if err != nil {
		httputil.RespondWithError(c, apperrors.NewValidation("multipart field \"audio\" is required", err))
		return
	}
	f, err := fh.Open()
	if err != nil {
		httputil.RespondWithError(c, apperrors.NewBadRequest("failed to read uploaded file", err))
		return
	}
	defer f.Close()

	rec, err := h.transcription.Upload(c.Request.Context(), userID, id, &transcriptionService.UploadedFile{
		Name:        fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Content:     f,
	})
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	upload, err := h.extraction.ExtractFromAudioRecording(c.Request.Context(), userID, rec.ID)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithStatus(c, http.StatusCreated, upload)
}

func (h *Handler) GetAudio(c *gin.Context) {
	userID, ok := h.UserID(c)
	if !ok {
		return
	}
	id, ok := h.ParamUUID(c, "id")
	if !ok {
		return
	}

	rec, err := h.transcription.GetAudio(c.Request.Context(), userID, id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, rec)
}

// GenerateTranscript starts transcription and answers 202 with the PENDING
// transcript, or waits for the result when ?wait=true.
func (h *Handler) GenerateTranscript(c *gin.Context) {
	userID, ok := h.UserID(c)
	if !ok {
		return
	}
	id, ok := h.ParamUUID(c, "id")
	if !ok {
		return
	}
	var q generateTranscriptQuery
	if !h.BindQuery(c, &q) {
		return
	}

	if q.Wait {
		t, err := h.transcription.Generate(c.Request.Context(), userID, id)
		if err != nil {
			httputil.RespondWithError(c, err)
			return
		}
		httputil.RespondWithSuccess(c, t)
		return
	}

	t, err := h.transcription.GenerateAsync(c.Request.Context(), userID, id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithStatus(c, http.StatusAccepted, t)
}

func (h *Handler) GetTranscript(c *gin.Context) {
	userID, ok := h.UserID(c)
	if !ok {
		return
	}
	id, ok := h.ParamUUID(c, "id")
	if !ok {
		return
	}

	t, err := h.transcription.GetTranscript(c.Request.Context(), userID, id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, t)
}
