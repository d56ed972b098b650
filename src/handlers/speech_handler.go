package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"www.github.com/Wanderer0074348/VirtualTutor/src/models"
)

// SpeechHandler streams synthesized audio for an answer. A nil speaker
// means speech is disabled.
type SpeechHandler struct {
	speaker models.Speaker
	logger  *zap.Logger
}

func NewSpeechHandler(speaker models.Speaker, logger *zap.Logger) *SpeechHandler {
	return &SpeechHandler{speaker: speaker, logger: logger}
}

func (h *SpeechHandler) HandleSpeech(c *gin.Context) {
	if h.speaker == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "speech is disabled"})
		return
	}

	var req models.SpeechRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	audio, contentType, err := h.speaker.Speak(c.Request.Context(), req.Text)
	if err != nil {
		kind := models.ClassifyError(err)
		h.logger.Warn("speech failed", zap.String("kind", string(kind)), zap.Error(err))
		switch kind {
		case models.KindInvalidInput:
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case models.KindQuota:
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "speech quota exhausted"})
		default:
			c.JSON(http.StatusBadGateway, gin.H{"error": "speech service unavailable"})
		}
		return
	}
	defer audio.Close()

	c.Header("Content-Type", contentType)
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, audio); err != nil {
		h.logger.Warn("speech stream interrupted", zap.Error(err))
	}
}
