package server

import (
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/agora/backend/internal/apperr"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const messageInternal = "Internal server error"

// errorEnvelope is the body of every failed API response.
type errorEnvelope struct {
	Success    bool        `json:"success"`
	StatusCode int         `json:"statusCode"`
	Timestamp  string      `json:"timestamp"`
	Path       string      `json:"path"`
	Message    interface{} `json:"message"`
}

func statusForKind(kind apperr.Kind) int {
	switch kind {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindUnauthorized:
		return http.StatusUnauthorized
	case apperr.KindValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// respondError renders err; unclassified errors are logged and hidden.
func (h *httpHandler) respondError(c *gin.Context, err error) {
	_ = c.Error(err)
	status := statusForKind(apperr.KindOf(err))
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Error(err))
		h.writeEnvelope(c, status, messageInternal)
		return
	}
	h.writeEnvelope(c, status, apperr.MessageOf(err, http.StatusText(status)))
}

func (h *httpHandler) writeEnvelope(c *gin.Context, status int, message interface{}) {
	c.JSON(status, h.envelope(c, status, message))
}

func (h *httpHandler) abortWithEnvelope(c *gin.Context, status int, message interface{}) {
	c.AbortWithStatusJSON(status, h.envelope(c, status, message))
}

func (h *httpHandler) envelope(c *gin.Context, status int, message interface{}) errorEnvelope {
	return errorEnvelope{
		Success:    false,
		StatusCode: status,
		Timestamp:  h.clock().UTC().Format(time.RFC3339Nano),
		Path:       c.Request.URL.RequestURI(),
		Message:    message,
	}
}
