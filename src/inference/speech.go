package inference

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"

	"www.github.com/Wanderer0074348/VirtualTutor/src/config"
	"www.github.com/Wanderer0074348/VirtualTutor/src/models"
)

// SpeechClient reads answers aloud through an OpenAI-compatible
// /audio/speech endpoint.
type SpeechClient struct {
	client   *openai.Client
	model    openai.SpeechModel
	voice    openai.SpeechVoice
	format   openai.SpeechResponseFormat
	maxChars int
}

var _ models.Speaker = (*SpeechClient)(nil)

func NewSpeechClient(cfg *config.SpeechConfig, hc *http.Client) *SpeechClient {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if hc != nil {
		clientCfg.HTTPClient = hc
	}

	return &SpeechClient{
		client:   openai.NewClientWithConfig(clientCfg),
		model:    openai.SpeechModel(cfg.Model),
		voice:    openai.SpeechVoice(cfg.Voice),
		format:   openai.SpeechResponseFormat(cfg.Format),
		maxChars: cfg.MaxChars,
	}
}

func (s *SpeechClient) Speak(ctx context.Context, text string) (io.ReadCloser, string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, "", models.NewTargetError(models.KindInvalidInput, 0, "nothing to read aloud", nil)
	}
	if s.maxChars > 0 && len([]rune(text)) > s.maxChars {
		text = string([]rune(text)[:s.maxChars])
	}

	resp, err := s.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          s.model,
		Input:          text,
		Voice:          s.voice,
		ResponseFormat: s.format,
	})
	if err != nil {
		return nil, "", classifySpeechError(err)
	}

	return resp, audioContentType(s.format), nil
}

func audioContentType(format openai.SpeechResponseFormat) string {
	switch format {
	case openai.SpeechResponseFormatOpus:
		return "audio/ogg"
	case openai.SpeechResponseFormatAac:
		return "audio/aac"
	case openai.SpeechResponseFormatFlac:
		return "audio/flac"
	case openai.SpeechResponseFormatWav:
		return "audio/wav"
	case openai.SpeechResponseFormatPcm:
		return "audio/pcm"
	default:
		return "audio/mpeg"
	}
}

func classifySpeechError(err error) error {
	var apiErr *openai.APIError
	var reqErr *openai.RequestError

	status := 0
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	default:
		return mapTransportError(err)
	}

	if status == http.StatusTooManyRequests {
		return models.NewTargetError(models.KindQuota, status, "speech quota exhausted", err)
	}
	return models.NewTargetError(models.KindUpstream, status, "speech request failed", err)
}
