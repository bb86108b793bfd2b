package httputil

import (
	stderrors "errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/clinical-scribe/pkg/errors"
)

// Response wraps all API responses
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *Error      `json:"error,omitempty"`
}

// Error represents API error
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RespondWithSuccess sends a success response
func RespondWithSuccess(c *gin.Context, data interface{}) {
	RespondWithStatus(c, http.StatusOK, data)
}

// RespondWithStatus sends a success response with an explicit status code
func RespondWithStatus(c *gin.Context, status int, data interface{}) {
	c.JSON(status, Response{
		Success: true,
		Data:    data,
	})
}

// RespondWithError maps an error onto its HTTP status and sends it. Errors
// outside the AppError taxonomy are logged and hidden behind a 500.
func RespondWithError(c *gin.Context, err error) {
	var appErr *errors.AppError
	if !stderrors.As(err, &appErr) {
		log.Error().Err(err).
			Str("path", c.Request.URL.Path).
			Str("request_id", c.GetString("request_id")).
			Msg("unhandled error")
		appErr = errors.NewInternal(err)
	}

	message := appErr.Message
	if appErr.Code != errors.ErrInternal && appErr.Err != nil {
		message = appErr.Error()
	}

	c.AbortWithStatusJSON(appErr.StatusCode(), Response{
		Success: false,
		Error: &Error{
			Code:    appErr.Code.String(),
			Message: message,
		},
	})
}
