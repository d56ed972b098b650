package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"www.github.com/Wanderer0074348/VirtualTutor/src/chat"
	"www.github.com/Wanderer0074348/VirtualTutor/src/models"
	"www.github.com/Wanderer0074348/VirtualTutor/src/session"
)

// ChatHandler manages session lifecycle and the display transcript.
type ChatHandler struct {
	sessions    *session.Registry
	transcripts models.TranscriptStore
	logger      *zap.Logger
}

func NewChatHandler(sessions *session.Registry, transcripts models.TranscriptStore, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{sessions: sessions, transcripts: transcripts, logger: logger}
}

func (h *ChatHandler) CreateSession(c *gin.Context) {
	sess := h.sessions.Create()
	if _, err := h.transcripts.Create(c.Request.Context(), sess.ID); err != nil {
		h.logger.Warn("failed to create transcript", zap.String("session", sess.ID), zap.Error(err))
	}
	c.JSON(http.StatusCreated, sess.Stats())
}

func (h *ChatHandler) ListSessions(c *gin.Context) {
	sessions := h.sessions.List()
	c.JSON(http.StatusOK, gin.H{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

func (h *ChatHandler) GetSession(c *gin.Context) {
	sess, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, sess.Stats())
}

func (h *ChatHandler) DeleteSession(c *gin.Context) {
	id := c.Param("id")
	if err := h.sessions.Delete(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	if err := h.transcripts.Delete(c.Request.Context(), id); err != nil {
		h.logger.Warn("failed to delete transcript", zap.String("session", id), zap.Error(err))
	}
	c.Status(http.StatusNoContent)
}

func (h *ChatHandler) GetTranscript(c *gin.Context) {
	id := c.Param("id")
	if _, err := h.sessions.Get(id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	t, err := h.transcripts.Get(c.Request.Context(), id)
	if errors.Is(err, chat.ErrNotFound) {
		t = &models.Transcript{SessionID: id, Messages: []models.TranscriptMessage{}}
	} else if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load transcript"})
		return
	}
	c.JSON(http.StatusOK, t)
}

// GetTranscriptImage serves the picture stored on one transcript message,
// addressed by its position in the transcript.
func (h *ChatHandler) GetTranscriptImage(c *gin.Context) {
	id := c.Param("id")
	if _, err := h.sessions.Get(id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	index, err := strconv.Atoi(c.Param("index"))
	if err != nil || index < 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
		return
	}

	t, err := h.transcripts.Get(c.Request.Context(), id)
	if err != nil && !errors.Is(err, chat.ErrNotFound) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load transcript"})
		return
	}
	if t == nil || index >= len(t.Messages) || len(t.Messages[index].Image) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "message has no image"})
		return
	}

	msg := t.Messages[index]
	contentType := msg.ImageMIMEType
	if contentType == "" {
		contentType = mimetype.Detect(msg.Image).String()
	}
	name := fmt.Sprintf("illustration-%d", index)
	if m := mimetype.Lookup(contentType); m != nil {
		name += m.Extension()
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	c.Data(http.StatusOK, contentType, msg.Image)
}
