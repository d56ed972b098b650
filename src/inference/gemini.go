package inference

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/tidwall/gjson"

	"www.github.com/Wanderer0074348/VirtualTutor/src/models"
)

const (
	defaultGeminiEndpoint = "https://generativelanguage.googleapis.com"
	geminiPath            = "/v1beta/models/{model}:generateContent"

	DefaultTextPath  = "candidates.0.content.parts.#.text"
	DefaultImagePath = "candidates.0.content.parts.#.inlineData.data"
	DefaultMIMEPath  = "candidates.0.content.parts.#.inlineData.mimeType"

	maxResponseBytes = 32 << 20
	maxErrorMessage  = 300
)

// GeminiOptions configures one generateContent target. The *Path fields are
// gjson paths so schema drift is a config change, not a code change.
type GeminiOptions struct {
	Model            string
	Endpoint         string // base URL, or a full URL containing {model}
	APIKey           string
	KeyInQuery       bool
	TextPath         string
	ImagePath        string
	MIMEPath         string
	TextInstruction  string
	ImageInstruction string
	HTTPClient       *http.Client
}

// GeminiClient implements models.Generator against the Generative Language
// REST API or anything that speaks the same JSON.
type GeminiClient struct {
	url  string
	opts GeminiOptions
	hc   *http.Client
}

var _ models.Generator = (*GeminiClient)(nil)

func NewGeminiClient(opts GeminiOptions) (*GeminiClient, error) {
	if opts.Model == "" {
		return nil, fmt.Errorf("gemini: model is required")
	}
	if opts.APIKey == "" {
		return nil, fmt.Errorf("gemini: api key is required for model %s", opts.Model)
	}
	if opts.Endpoint == "" {
		opts.Endpoint = defaultGeminiEndpoint
	}
	if opts.TextPath == "" {
		opts.TextPath = DefaultTextPath
	}
	if opts.ImagePath == "" {
		opts.ImagePath = DefaultImagePath
	}
	if opts.MIMEPath == "" {
		opts.MIMEPath = DefaultMIMEPath
	}

	path := opts.Endpoint
	if !strings.Contains(path, "{model}") {
		path = strings.TrimRight(path, "/") + geminiPath
	}
	path = strings.ReplaceAll(path, "{model}", url.PathEscape(opts.Model))
	if _, err := url.Parse(path); err != nil {
		return nil, fmt.Errorf("gemini: invalid endpoint %q: %w", path, err)
	}

	hc := opts.HTTPClient
	if hc == nil {
		// Deadlines come from the caller's context, one per mode.
		hc = &http.Client{}
	}

	return &GeminiClient{url: path, opts: opts, hc: hc}, nil
}

type gmInlineData struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}

type gmPart struct {
	Text       string        `json:"text,omitempty"`
	InlineData *gmInlineData `json:"inline_data,omitempty"`
}

type gmContent struct {
	Role  string   `json:"role,omitempty"`
	Parts []gmPart `json:"parts"`
}

type gmGenerationConfig struct {
	ResponseModalities []string `json:"responseModalities,omitempty"`
}

type gmRequest struct {
	SystemInstruction *gmContent          `json:"systemInstruction,omitempty"`
	Contents          []gmContent         `json:"contents"`
	GenerationConfig  *gmGenerationConfig `json:"generationConfig,omitempty"`
}

func (c *GeminiClient) buildRequest(prompt *models.Prompt, mode models.Mode) gmRequest {
	var req gmRequest

	for _, turn := range prompt.History {
		req.Contents = append(req.Contents, gmContent{
			Role:  geminiRole(turn.Role),
			Parts: []gmPart{{Text: turn.Text}},
		})
	}

	text := prompt.Text
	switch mode {
	case models.ModeImage:
		if c.opts.ImageInstruction != "" {
			text = strings.TrimSpace(c.opts.ImageInstruction + " " + text)
		}
		req.GenerationConfig = &gmGenerationConfig{ResponseModalities: []string{"TEXT", "IMAGE"}}
	default:
		if c.opts.TextInstruction != "" {
			req.SystemInstruction = &gmContent{Parts: []gmPart{{Text: c.opts.TextInstruction}}}
		}
	}

	var parts []gmPart
	if text != "" {
		parts = append(parts, gmPart{Text: text})
	}
	if prompt.HasImage() {
		parts = append(parts, gmPart{InlineData: &gmInlineData{
			MIMEType: prompt.Image.MIMEType,
			Data:     base64.StdEncoding.EncodeToString(prompt.Image.Data),
		}})
	}
	req.Contents = append(req.Contents, gmContent{Role: "user", Parts: parts})

	return req
}

// geminiRole maps chat roles onto the two Gemini accepts.
func geminiRole(role string) string {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case "assistant", "model":
		return "model"
	default:
		return "user"
	}
}

func (c *GeminiClient) Generate(ctx context.Context, prompt *models.Prompt, mode models.Mode) (*models.Completion, error) {
	body, err := json.Marshal(c.buildRequest(prompt, mode))
	if err != nil {
		return nil, fmt.Errorf("marshal gemini request: %w", err)
	}

	u, _ := url.Parse(c.url)
	if c.opts.KeyInQuery {
		q := u.Query()
		q.Set("key", c.opts.APIKey)
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("new gemini request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if !c.opts.KeyInQuery {
		req.Header.Set("x-goog-api-key", c.opts.APIKey)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, mapTransportError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, mapTransportError(err)
	}

	if err := classifyStatus(resp.StatusCode, raw); err != nil {
		return nil, err
	}

	return c.parse(raw, mode)
}

// parse is the strict boundary between the vendor schema and the rest of the
// system: it yields a completion or a malformed_response error, nothing else.
func (c *GeminiClient) parse(raw []byte, mode models.Mode) (*models.Completion, error) {
	if !gjson.ValidBytes(raw) {
		return nil, models.NewTargetError(models.KindMalformedResponse, http.StatusOK, "response is not valid JSON", nil)
	}
	if reason := gjson.GetBytes(raw, "promptFeedback.blockReason").String(); reason != "" {
		return nil, models.NewTargetError(models.KindMalformedResponse, http.StatusOK, "prompt blocked: "+reason, nil)
	}

	switch mode {
	case models.ModeImage:
		data := firstString(gjson.GetBytes(raw, c.opts.ImagePath))
		if data == "" {
			return nil, models.NewTargetError(models.KindMalformedResponse, http.StatusOK,
				"no image found at "+c.opts.ImagePath, nil)
		}
		img, err := base64.StdEncoding.DecodeString(data)
		if err != nil {
			return nil, models.NewTargetError(models.KindMalformedResponse, http.StatusOK, "image payload is not base64", err)
		}
		mime := firstString(gjson.GetBytes(raw, c.opts.MIMEPath))
		if mime == "" {
			mime = mimetype.Detect(img).String()
		}
		return &models.Completion{
			Mode:     models.ModeImage,
			Image:    img,
			MIMEType: mime,
			Text:     joinText(gjson.GetBytes(raw, c.opts.TextPath)),
		}, nil

	default:
		text := joinText(gjson.GetBytes(raw, c.opts.TextPath))
		if strings.TrimSpace(text) == "" {
			return nil, models.NewTargetError(models.KindMalformedResponse, http.StatusOK,
				"no text found at "+c.opts.TextPath, nil)
		}
		return &models.Completion{Mode: models.ModeText, Text: text}, nil
	}
}

// joinText flattens a gjson result that may be a single string or an array
// of text parts.
func joinText(r gjson.Result) string {
	if !r.IsArray() {
		return r.String()
	}
	var sb strings.Builder
	for _, part := range r.Array() {
		sb.WriteString(part.String())
	}
	return sb.String()
}

// firstString returns the first non-empty value of a result that may be an
// array, as produced by #.key paths.
func firstString(r gjson.Result) string {
	if !r.IsArray() {
		return r.String()
	}
	for _, v := range r.Array() {
		if s := v.String(); s != "" {
			return s
		}
	}
	return ""
}

// classifyStatus maps a non-2xx response onto a TargetError. Quota
// exhaustion is recognised by status 429 or by the body, since some
// gateways report it with 403 or 400.
func classifyStatus(status int, body []byte) error {
	if status/100 == 2 {
		if gjson.GetBytes(body, "error.status").String() == "RESOURCE_EXHAUSTED" {
			return models.NewTargetError(models.KindQuota, status, errorMessage(body), nil)
		}
		return nil
	}

	msg := errorMessage(body)
	if status == http.StatusTooManyRequests || mentionsQuota(body) {
		return models.NewTargetError(models.KindQuota, status, msg, nil)
	}
	return models.NewTargetError(models.KindUpstream, status, msg, nil)
}

func mentionsQuota(body []byte) bool {
	if gjson.GetBytes(body, "error.status").String() == "RESOURCE_EXHAUSTED" {
		return true
	}
	lower := strings.ToLower(string(body))
	return strings.Contains(lower, "resource_exhausted") || strings.Contains(lower, "quota")
}

func errorMessage(body []byte) string {
	msg := gjson.GetBytes(body, "error.message").String()
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	if len(msg) > maxErrorMessage {
		msg = msg[:maxErrorMessage] + "..."
	}
	if msg == "" {
		msg = "empty response body"
	}
	return msg
}

// mapTransportError wraps errors raised before a status code was seen.
func mapTransportError(err error) error {
	kind := models.ClassifyError(err)
	switch kind {
	case models.KindTimeout:
		return models.NewTargetError(models.KindTimeout, 0, "request timed out", err)
	case models.KindCanceled:
		return models.NewTargetError(models.KindCanceled, 0, "request canceled", err)
	}
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return models.NewTargetError(models.KindTransport, 0, uerr.Op+" "+redactKey(uerr.URL), uerr.Err)
	}
	return models.NewTargetError(models.KindTransport, 0, "connection failed", err)
}

// redactKey strips the api key from URLs that end up in error messages.
func redactKey(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	if q.Has("key") {
		q.Set("key", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}
