package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"www.github.com/Wanderer0074348/VirtualTutor/src/cache"
	"www.github.com/Wanderer0074348/VirtualTutor/src/chat"
	"www.github.com/Wanderer0074348/VirtualTutor/src/config"
	"www.github.com/Wanderer0074348/VirtualTutor/src/dispatch"
	"www.github.com/Wanderer0074348/VirtualTutor/src/mocks"
	"www.github.com/Wanderer0074348/VirtualTutor/src/models"
	"www.github.com/Wanderer0074348/VirtualTutor/src/router"
	"www.github.com/Wanderer0074348/VirtualTutor/src/session"
	"www.github.com/Wanderer0074348/VirtualTutor/src/throttle"
)

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}

type testEnv struct {
	inference   *InferenceHandler
	chat        *ChatHandler
	registry    *session.Registry
	transcripts *chat.MemoryStore
	primary     *mocks.MockGenerator
	backup      *mocks.MockGenerator
}

func setupTestHandler(th throttle.Config) *testEnv {
	gin.SetMode(gin.TestMode)

	env := &testEnv{
		primary:     new(mocks.MockGenerator),
		backup:      new(mocks.MockGenerator),
		transcripts: chat.NewMemoryStore(20),
	}
	env.registry = session.NewRegistry(th, func(string) models.CacheStore { return cache.NewMemoryCache(16) })

	chains := router.NewChainRouter([]models.Target{
		{ServiceTarget: models.ServiceTarget{Name: "primary", Model: "gemini-a"}, Client: env.primary},
		{ServiceTarget: models.ServiceTarget{Name: "backup", Model: "gemini-b"}, Client: env.backup},
	})
	d := dispatch.New(config.FallbackConfig{}, config.TimeoutConfig{Text: time.Second, Image: time.Second})

	env.inference = NewInferenceHandler(env.registry, chains, d, env.transcripts, 4, zap.NewNop())
	env.chat = NewChatHandler(env.registry, env.transcripts, zap.NewNop())
	return env
}

func (e *testEnv) dispatchJSON(t *testing.T, sessionID string, req models.DispatchRequest) (*httptest.ResponseRecorder, models.DispatchResponse) {
	t.Helper()
	body, err := json.Marshal(req)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/api/v1/sessions/"+sessionID+"/dispatch", bytes.NewBuffer(body))
	c.Request.Header.Set("Content-Type", "application/json")
	c.Params = gin.Params{{Key: "id", Value: sessionID}}

	e.inference.HandleDispatch(c)

	var resp models.DispatchResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	return w, resp
}

func TestInferenceHandler_Dispatch(t *testing.T) {
	env := setupTestHandler(throttle.Config{})
	sess := env.registry.Create()

	env.primary.On("Generate", mock.Anything, mock.Anything, models.ModeText).
		Return(&models.Completion{Text: "4"}, nil)

	w, resp := env.dispatchJSON(t, sess.ID, models.DispatchRequest{Text: "What is 2+2?"})

	assert.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, resp.Result)
	require.NotNil(t, resp.Result.Completion)
	assert.Equal(t, "4", resp.Result.Completion.Text)
	assert.Equal(t, "primary", resp.Result.Completion.Target)
	assert.Empty(t, resp.UserMessage)
	assert.Equal(t, 2, resp.MessageCount)
	assert.Equal(t, 1, resp.Session.Calls)

	tr, err := env.transcripts.Get(t.Context(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "What is 2+2?", tr.Messages[0].Content)
	assert.Equal(t, "4", tr.Messages[1].Content)
}

func TestInferenceHandler_QuotaFallback(t *testing.T) {
	env := setupTestHandler(throttle.Config{})
	sess := env.registry.Create()

	env.primary.On("Generate", mock.Anything, mock.Anything, models.ModeText).
		Return(nil, models.NewTargetError(models.KindQuota, 429, "quota", nil))
	env.backup.On("Generate", mock.Anything, mock.Anything, models.ModeText).
		Return(&models.Completion{Text: "42"}, nil)

	w, resp := env.dispatchJSON(t, sess.ID, models.DispatchRequest{Text: "6 * 7"})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "backup", resp.Result.Completion.Target)
	assert.Len(t, resp.Result.Attempts, 2)
}

func TestInferenceHandler_CacheHit(t *testing.T) {
	env := setupTestHandler(throttle.Config{})
	sess := env.registry.Create()

	env.primary.On("Generate", mock.Anything, mock.Anything, models.ModeText).
		Return(&models.Completion{Text: "Paris"}, nil).Once()

	env.dispatchJSON(t, sess.ID, models.DispatchRequest{Text: "Capital of France?"})
	w, resp := env.dispatchJSON(t, sess.ID, models.DispatchRequest{Text: "capital of france?"})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.Result.CacheHit)
	assert.Equal(t, "Paris", resp.Result.Completion.Text)
	env.primary.AssertNumberOfCalls(t, "Generate", 1)
}

func TestInferenceHandler_Throttled(t *testing.T) {
	env := setupTestHandler(throttle.Config{Cooldown: time.Minute})
	sess := env.registry.Create()

	env.primary.On("Generate", mock.Anything, mock.Anything, models.ModeText).
		Return(&models.Completion{Text: "ok"}, nil)

	env.dispatchJSON(t, sess.ID, models.DispatchRequest{Text: "first"})
	w, resp := env.dispatchJSON(t, sess.ID, models.DispatchRequest{Text: "second"})

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, models.KindThrottled, resp.Result.Failure.Kind)
	assert.NotEmpty(t, resp.UserMessage)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestInferenceHandler_Exhausted(t *testing.T) {
	env := setupTestHandler(throttle.Config{})
	sess := env.registry.Create()

	env.primary.On("Generate", mock.Anything, mock.Anything, models.ModeText).
		Return(nil, models.NewTargetError(models.KindQuota, 429, "primary quota", nil))
	env.backup.On("Generate", mock.Anything, mock.Anything, models.ModeText).
		Return(nil, models.NewTargetError(models.KindQuota, 429, "backup quota", nil))

	w, resp := env.dispatchJSON(t, sess.ID, models.DispatchRequest{Text: "q"})

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, models.KindAllTargetsExhausted, resp.Result.Failure.Kind)
	assert.Contains(t, resp.UserMessage, "backup quota")

	_, err := env.transcripts.Get(t.Context(), sess.ID)
	assert.ErrorIs(t, err, chat.ErrNotFound, "failures are not added to the transcript")
}

func TestInferenceHandler_InvalidInput(t *testing.T) {
	env := setupTestHandler(throttle.Config{})
	sess := env.registry.Create()

	w, resp := env.dispatchJSON(t, sess.ID, models.DispatchRequest{Text: "  "})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, models.KindInvalidInput, resp.Result.Failure.Kind)

	w, resp = env.dispatchJSON(t, sess.ID, models.DispatchRequest{Text: "q", Mode: "video"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, models.KindInvalidInput, resp.Result.Failure.Kind)

	env.primary.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything, mock.Anything)
}

func TestInferenceHandler_BadRequests(t *testing.T) {
	env := setupTestHandler(throttle.Config{})
	sess := env.registry.Create()

	w, _ := env.dispatchJSON(t, "sess_unknown", models.DispatchRequest{Text: "q"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = env.dispatchJSON(t, sess.ID, models.DispatchRequest{Text: "q", Chain: []string{"nope"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString("invalid json"))
	c.Request.Header.Set("Content-Type", "application/json")
	c.Params = gin.Params{{Key: "id", Value: sess.ID}}
	env.inference.HandleDispatch(c)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInferenceHandler_PreferredTarget(t *testing.T) {
	env := setupTestHandler(throttle.Config{})
	sess := env.registry.Create()

	env.backup.On("Generate", mock.Anything, mock.Anything, models.ModeText).
		Return(&models.Completion{Text: "from backup"}, nil)

	w, resp := env.dispatchJSON(t, sess.ID, models.DispatchRequest{Text: "q", Preferred: "backup"})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "backup", resp.Result.Completion.Target)
	env.primary.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything, mock.Anything)
}

func TestInferenceHandler_HistoryIsSent(t *testing.T) {
	env := setupTestHandler(throttle.Config{})
	sess := env.registry.Create()

	env.primary.On("Generate", mock.Anything, mock.MatchedBy(func(p *models.Prompt) bool {
		return len(p.History) == 0
	}), models.ModeText).Return(&models.Completion{Text: "x = 2"}, nil).Once()
	env.primary.On("Generate", mock.Anything, mock.MatchedBy(func(p *models.Prompt) bool {
		return len(p.History) == 2 && p.History[1].Text == "x = 2"
	}), models.ModeText).Return(&models.Completion{Text: "y = 3"}, nil).Once()

	env.dispatchJSON(t, sess.ID, models.DispatchRequest{Text: "solve x + 1 = 3"})
	w, resp := env.dispatchJSON(t, sess.ID, models.DispatchRequest{Text: "and y?", UseHistory: true})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "y = 3", resp.Result.Completion.Text)
	env.primary.AssertExpectations(t)
}

func TestInferenceHandler_MultipartImage(t *testing.T) {
	env := setupTestHandler(throttle.Config{})
	sess := env.registry.Create()

	env.primary.On("Generate", mock.Anything, mock.MatchedBy(func(p *models.Prompt) bool {
		return p.HasImage() && p.Image.MIMEType == "image/png" && p.Text == "what shape?"
	}), models.ModeText).Return(&models.Completion{Text: "a square"}, nil)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("text", "what shape?"))
	require.NoError(t, mw.WriteField("chain", "primary,backup"))
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="image"; filename="shape.png"`)
	h.Set("Content-Type", "application/octet-stream")
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	part.Write(pngHeader)
	require.NoError(t, mw.Close())

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/api/v1/sessions/"+sess.ID+"/dispatch", &body)
	c.Request.Header.Set("Content-Type", mw.FormDataContentType())
	c.Params = gin.Params{{Key: "id", Value: sess.ID}}

	env.inference.HandleDispatch(c)

	assert.Equal(t, http.StatusOK, w.Code)
	env.primary.AssertExpectations(t)
}

func TestInferenceHandler_ImageMode(t *testing.T) {
	env := setupTestHandler(throttle.Config{})
	sess := env.registry.Create()

	env.primary.On("Generate", mock.Anything, mock.Anything, models.ModeImage).
		Return(&models.Completion{Image: pngHeader, MIMEType: "image/png"}, nil)

	w, resp := env.dispatchJSON(t, sess.ID, models.DispatchRequest{Text: "a right triangle", Mode: "image"})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.ModeImage, resp.Result.Completion.Mode)
	assert.Equal(t, pngHeader, resp.Result.Completion.Image)

	tr, err := env.transcripts.Get(t.Context(), sess.ID)
	require.NoError(t, err)
	assert.True(t, tr.Messages[1].HasImage)
}

func TestStatusFor(t *testing.T) {
	tests := map[models.FailureKind]int{
		models.KindInvalidInput:        http.StatusBadRequest,
		models.KindThrottled:           http.StatusTooManyRequests,
		models.KindAllTargetsExhausted: http.StatusServiceUnavailable,
		models.KindCanceled:            http.StatusRequestTimeout,
		models.KindTimeout:             http.StatusGatewayTimeout,
		models.KindMalformedResponse:   http.StatusBadGateway,
	}
	for kind, want := range tests {
		assert.Equal(t, want, StatusFor(models.Failed(kind, "x")), kind)
	}
	assert.Equal(t, http.StatusOK, StatusFor(models.Succeeded(&models.Completion{Text: "ok"})))
}

func TestHealthCheck(t *testing.T) {
	env := setupTestHandler(throttle.Config{})
	env.registry.Create()
	chains := router.NewChainRouter([]models.Target{{ServiceTarget: models.ServiceTarget{Name: "primary"}}})

	health := NewHealthHandler(chains, env.registry)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	health.HealthCheck(c)

	assert.Equal(t, http.StatusOK, w.Code)
	var response map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &response)
	assert.Equal(t, "healthy", response["status"])
	assert.Equal(t, float64(1), response["sessions"])

	health.AddCheck("redis", func(*gin.Context) error { return errors.New("connection refused") })
	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	health.HealthCheck(c)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	body, _ := io.ReadAll(w.Body)
	assert.Contains(t, string(body), "degraded")
}

func (e *testEnv) transcriptImage(sessionID, index string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/api/v1/sessions/"+sessionID+"/transcript/messages/"+index+"/image", nil)
	c.Params = gin.Params{{Key: "id", Value: sessionID}, {Key: "index", Value: index}}
	e.chat.GetTranscriptImage(c)
	c.Writer.WriteHeaderNow()
	return w
}

func TestInferenceHandler_Illustrate(t *testing.T) {
	env := setupTestHandler(throttle.Config{Cooldown: time.Minute, MaxCalls: 5})
	sess := env.registry.Create()

	env.primary.On("Generate", mock.Anything, mock.Anything, models.ModeText).
		Return(&models.Completion{Text: "The angles sum to 180 degrees."}, nil).Once()
	env.primary.On("Generate", mock.Anything, mock.MatchedBy(func(p *models.Prompt) bool {
		return p.Text == "angles of a triangle?"
	}), models.ModeImage).Return(&models.Completion{Image: pngHeader, MIMEType: "image/png"}, nil).Once()

	w, resp := env.dispatchJSON(t, sess.ID, models.DispatchRequest{Text: "angles of a triangle?", Illustrate: true})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "The angles sum to 180 degrees.", resp.Result.Completion.Text)
	require.NotNil(t, resp.Illustration)
	assert.True(t, resp.Illustration.OK())
	assert.Equal(t, pngHeader, resp.Illustration.Completion.Image)
	assert.Empty(t, resp.Warning)
	assert.Equal(t, 2, resp.MessageCount)
	assert.Equal(t, 2, resp.Session.Calls, "the illustration counts toward the ceiling")
	env.primary.AssertExpectations(t)

	tr, err := env.transcripts.Get(t.Context(), sess.ID)
	require.NoError(t, err)
	reply := tr.Messages[1]
	assert.Equal(t, "The angles sum to 180 degrees.", reply.Content)
	assert.True(t, reply.HasImage)
	assert.Equal(t, pngHeader, reply.Image)
	assert.Equal(t, "image/png", reply.ImageMIMEType)

	img := env.transcriptImage(sess.ID, "1")
	assert.Equal(t, http.StatusOK, img.Code)
	assert.Equal(t, "image/png", img.Header().Get("Content-Type"))
	assert.Contains(t, img.Header().Get("Content-Disposition"), "illustration-1.png")
	assert.Equal(t, pngHeader, img.Body.Bytes())

	// One user action stamped the cooldown once, so the next one waits.
	w, resp = env.dispatchJSON(t, sess.ID, models.DispatchRequest{Text: "and a square?"})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, models.KindThrottled, resp.Result.Failure.Kind)
}

func TestInferenceHandler_IllustrationFailureIsAWarning(t *testing.T) {
	env := setupTestHandler(throttle.Config{})
	sess := env.registry.Create()

	env.primary.On("Generate", mock.Anything, mock.Anything, models.ModeText).
		Return(&models.Completion{Text: "x = 4"}, nil)
	env.primary.On("Generate", mock.Anything, mock.Anything, models.ModeImage).
		Return(nil, models.NewTargetError(models.KindUnsupported, 400, "no images here", nil))
	env.backup.On("Generate", mock.Anything, mock.Anything, models.ModeImage).
		Return(nil, models.NewTargetError(models.KindQuota, 429, "image quota", nil))

	w, resp := env.dispatchJSON(t, sess.ID, models.DispatchRequest{Text: "solve 2x = 8", Illustrate: true})

	assert.Equal(t, http.StatusOK, w.Code, "the answer still stands")
	assert.Equal(t, "x = 4", resp.Result.Completion.Text)
	require.NotNil(t, resp.Illustration)
	assert.False(t, resp.Illustration.OK())
	assert.Contains(t, resp.Warning, "illustration could not be generated")

	tr, err := env.transcripts.Get(t.Context(), sess.ID)
	require.NoError(t, err)
	require.Len(t, tr.Messages, 2)
	assert.False(t, tr.Messages[1].HasImage)
	assert.Equal(t, resp.Warning, tr.Messages[1].Warning)

	assert.Equal(t, http.StatusNotFound, env.transcriptImage(sess.ID, "1").Code)
}

func TestInferenceHandler_IllustrateMultipartFlag(t *testing.T) {
	env := setupTestHandler(throttle.Config{})
	sess := env.registry.Create()

	env.primary.On("Generate", mock.Anything, mock.Anything, models.ModeText).
		Return(&models.Completion{Text: "a circle"}, nil)
	env.primary.On("Generate", mock.Anything, mock.Anything, models.ModeImage).
		Return(&models.Completion{Image: pngHeader, MIMEType: "image/png"}, nil)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("text", "draw a circle"))
	require.NoError(t, mw.WriteField("illustrate", "true"))
	require.NoError(t, mw.Close())

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/api/v1/sessions/"+sess.ID+"/dispatch", &body)
	c.Request.Header.Set("Content-Type", mw.FormDataContentType())
	c.Params = gin.Params{{Key: "id", Value: sess.ID}}
	env.inference.HandleDispatch(c)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp models.DispatchResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Illustration)
	assert.True(t, resp.Illustration.OK())
}

func TestChatHandler_TranscriptImageNotFound(t *testing.T) {
	env := setupTestHandler(throttle.Config{})
	sess := env.registry.Create()

	env.primary.On("Generate", mock.Anything, mock.Anything, models.ModeText).
		Return(&models.Completion{Text: "plain"}, nil)
	env.dispatchJSON(t, sess.ID, models.DispatchRequest{Text: "q"})

	assert.Equal(t, http.StatusNotFound, env.transcriptImage("sess_unknown", "0").Code)
	assert.Equal(t, http.StatusNotFound, env.transcriptImage(sess.ID, "x").Code)
	assert.Equal(t, http.StatusNotFound, env.transcriptImage(sess.ID, "9").Code)
	assert.Equal(t, http.StatusNotFound, env.transcriptImage(sess.ID, "1").Code, "text reply has no image")
}
