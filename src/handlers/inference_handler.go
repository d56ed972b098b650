package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"www.github.com/Wanderer0074348/VirtualTutor/src/chat"
	"www.github.com/Wanderer0074348/VirtualTutor/src/dispatch"
	"www.github.com/Wanderer0074348/VirtualTutor/src/models"
	"www.github.com/Wanderer0074348/VirtualTutor/src/router"
	"www.github.com/Wanderer0074348/VirtualTutor/src/session"
	"www.github.com/Wanderer0074348/VirtualTutor/src/utils"
)

// InferenceHandler serves dispatch requests for existing sessions.
type InferenceHandler struct {
	sessions     *session.Registry
	chains       *router.ChainRouter
	dispatcher   *dispatch.Dispatcher
	transcripts  models.TranscriptStore
	historyTurns int
	logger       *zap.Logger
}

func NewInferenceHandler(
	sessions *session.Registry,
	chains *router.ChainRouter,
	dispatcher *dispatch.Dispatcher,
	transcripts models.TranscriptStore,
	historyTurns int,
	logger *zap.Logger,
) *InferenceHandler {
	return &InferenceHandler{
		sessions:     sessions,
		chains:       chains,
		dispatcher:   dispatcher,
		transcripts:  transcripts,
		historyTurns: historyTurns,
		logger:       logger,
	}
}

// HandleDispatch accepts JSON or multipart/form-data. Multipart carries the
// attachment in the "image" file field and the chain as a comma separated
// list.
func (h *InferenceHandler) HandleDispatch(c *gin.Context) {
	sess, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	req, err := bindDispatchRequest(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	mode, ok := models.ParseMode(req.Mode)
	if !ok {
		h.respond(c, sess, &dispatch.Turn{Answer: models.Failed(models.KindInvalidInput, fmt.Sprintf("unknown mode %q", req.Mode))}, 0)
		return
	}

	chain, err := h.chains.Resolve(req.Preferred, req.Chain)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	prompt := &models.Prompt{Text: req.Text}
	if len(req.Image) > 0 {
		prompt.Image = &models.Image{Data: req.Image, MIMEType: req.MIMEType}
	}
	if req.UseHistory && h.historyTurns > 0 {
		if t, err := h.transcripts.Get(c.Request.Context(), sess.ID); err == nil {
			prompt.History = chat.RecentTurns(t, h.historyTurns)
		} else if !errors.Is(err, chat.ErrNotFound) {
			h.logger.Warn("failed to load history", zap.String("session", sess.ID), zap.Error(err))
		}
	}

	var turn *dispatch.Turn
	if mode == models.ModeText {
		turn, err = h.dispatcher.DispatchTurn(c.Request.Context(), sess, chain, prompt, req.Illustrate)
	} else {
		var res *models.Result
		res, err = h.dispatcher.Dispatch(c.Request.Context(), sess, chain, prompt, mode)
		turn = &dispatch.Turn{Answer: res}
	}
	if err != nil {
		h.logger.Error("dispatch failed", zap.String("session", sess.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	count := 0
	if turn.Answer.OK() {
		count = h.record(c, sess.ID, prompt, mode, turn)
	}
	h.respond(c, sess, turn, count)
}

func (h *InferenceHandler) respond(c *gin.Context, sess *session.Session, turn *dispatch.Turn, messageCount int) {
	res := turn.Answer
	status := StatusFor(res)
	if res.Failure != nil && res.Failure.Kind == models.KindThrottled {
		if secs := dispatch.RetryAfterSeconds(res.Failure); secs > 0 {
			c.Header("Retry-After", strconv.Itoa(secs))
		}
	}

	c.JSON(status, models.DispatchResponse{
		SessionID:    sess.ID,
		Result:       res,
		UserMessage:  dispatch.UserMessage(res),
		MessageCount: messageCount,
		Session:      sess.Stats(),
		Illustration: turn.Illustration,
		Warning:      illustrationWarning(turn.Illustration),
	})
}

func illustrationWarning(res *models.Result) string {
	if res == nil || res.OK() {
		return ""
	}
	return "The illustration could not be generated. " + dispatch.UserMessage(res)
}

// record appends the exchange to the display transcript. Failures to do so
// are logged and do not fail the request.
func (h *InferenceHandler) record(c *gin.Context, sessionID string, prompt *models.Prompt, mode models.Mode, turn *dispatch.Turn) int {
	now := time.Now()
	res := turn.Answer
	answer := res.Completion

	reply := models.TranscriptMessage{
		Role:          "assistant",
		Content:       answer.Text,
		Mode:          answer.Mode,
		CacheHit:      res.CacheHit,
		Tokens:        utils.EstimateTokenCount(answer.Text),
		Timestamp:     now,
		Image:         answer.Image,
		ImageMIMEType: answer.MIMEType,
	}
	if ill := turn.Illustration; ill != nil {
		if ill.OK() {
			reply.Image = ill.Completion.Image
			reply.ImageMIMEType = ill.Completion.MIMEType
		} else {
			reply.Warning = illustrationWarning(ill)
		}
	}
	reply.HasImage = len(reply.Image) > 0

	msgs := []models.TranscriptMessage{
		{
			Role:      "user",
			Content:   prompt.Text,
			Mode:      mode,
			HasImage:  prompt.HasImage(),
			Tokens:    utils.EstimateTokenCount(prompt.Text),
			Timestamp: now,
		},
		reply,
	}

	t, err := h.transcripts.Append(c.Request.Context(), sessionID, msgs...)
	if err != nil {
		h.logger.Warn("failed to append transcript", zap.String("session", sessionID), zap.Error(err))
		return 0
	}
	return t.MessageCount
}

// StatusFor maps a result onto an HTTP status.
func StatusFor(res *models.Result) int {
	if res.OK() {
		return http.StatusOK
	}
	switch res.Failure.Kind {
	case models.KindInvalidInput:
		return http.StatusBadRequest
	case models.KindThrottled:
		return http.StatusTooManyRequests
	case models.KindCanceled:
		return http.StatusRequestTimeout
	case models.KindTimeout:
		return http.StatusGatewayTimeout
	case models.KindQuota, models.KindAllTargetsExhausted:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func bindDispatchRequest(c *gin.Context) (*models.DispatchRequest, error) {
	var req models.DispatchRequest

	if strings.HasPrefix(c.ContentType(), "multipart/form-data") {
		req.Text = c.PostForm("text")
		req.Mode = c.PostForm("mode")
		req.Preferred = c.PostForm("preferred")
		if chain := c.PostForm("chain"); chain != "" {
			req.Chain = strings.Split(chain, ",")
		}
		if v := c.PostForm("use_history"); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return nil, fmt.Errorf("use_history: %w", err)
			}
			req.UseHistory = b
		}
		if v := c.PostForm("illustrate"); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return nil, fmt.Errorf("illustrate: %w", err)
			}
			req.Illustrate = b
		}

		fh, err := c.FormFile("image")
		switch {
		case errors.Is(err, http.ErrMissingFile):
		case err != nil:
			return nil, fmt.Errorf("image: %w", err)
		default:
			f, err := fh.Open()
			if err != nil {
				return nil, fmt.Errorf("image: %w", err)
			}
			defer f.Close()
			// One byte over the limit is enough for validation to reject it.
			data, err := io.ReadAll(io.LimitReader(f, dispatch.MaxImageBytes+1))
			if err != nil {
				return nil, fmt.Errorf("image: %w", err)
			}
			req.Image = data
			req.MIMEType = fh.Header.Get("Content-Type")
		}
	} else if err := c.ShouldBindJSON(&req); err != nil {
		return nil, err
	}

	if len(req.Image) > 0 && (req.MIMEType == "" || req.MIMEType == "application/octet-stream") {
		req.MIMEType = dispatch.SniffImage(req.Image)
	}
	return &req, nil
}

// HealthHandler reports liveness plus the state of optional dependencies.
type HealthHandler struct {
	chains   *router.ChainRouter
	sessions *session.Registry
	checks   map[string]func(c *gin.Context) error
}

func NewHealthHandler(chains *router.ChainRouter, sessions *session.Registry) *HealthHandler {
	return &HealthHandler{chains: chains, sessions: sessions, checks: map[string]func(*gin.Context) error{}}
}

// AddCheck registers a dependency check, e.g. a redis ping.
func (h *HealthHandler) AddCheck(name string, check func(c *gin.Context) error) {
	h.checks[name] = check
}

func (h *HealthHandler) HealthCheck(c *gin.Context) {
	status := "healthy"
	code := http.StatusOK
	deps := gin.H{}
	for name, check := range h.checks {
		if err := check(c); err != nil {
			deps[name] = err.Error()
			status = "degraded"
			code = http.StatusServiceUnavailable
		} else {
			deps[name] = "ok"
		}
	}

	targets := make([]string, 0)
	for _, t := range h.chains.Targets() {
		targets = append(targets, t.Name)
	}

	c.JSON(code, gin.H{
		"status":       status,
		"timestamp":    time.Now(),
		"targets":      targets,
		"sessions":     h.sessions.Len(),
		"dependencies": deps,
	})
}
