package inference

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"www.github.com/Wanderer0074348/VirtualTutor/src/models"
)

// OpenAIOptions configures a chat-completions target reached through
// langchaingo. Endpoint may point at any OpenAI-compatible gateway.
type OpenAIOptions struct {
	Model           string
	Endpoint        string
	APIKey          string
	MaxTokens       int
	TextInstruction string
	HTTPClient      *http.Client
}

// LLMClient is a text-only Generator. Image mode is reported as
// unsupported so the dispatcher moves on to the next target.
type LLMClient struct {
	opts OpenAIOptions
	llm  llms.Model
}

var _ models.Generator = (*LLMClient)(nil)

func NewLLMClient(opts OpenAIOptions) (*LLMClient, error) {
	clientOpts := []openai.Option{
		openai.WithToken(opts.APIKey),
		openai.WithModel(opts.Model),
	}
	if opts.Endpoint != "" {
		clientOpts = append(clientOpts, openai.WithBaseURL(opts.Endpoint))
	}
	if opts.HTTPClient != nil {
		clientOpts = append(clientOpts, openai.WithHTTPClient(opts.HTTPClient))
	}

	llm, err := openai.New(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OpenAI client: %w", err)
	}

	return &LLMClient{opts: opts, llm: llm}, nil
}

func (c *LLMClient) Generate(ctx context.Context, prompt *models.Prompt, mode models.Mode) (*models.Completion, error) {
	if mode != models.ModeText {
		return nil, models.NewTargetError(models.KindUnsupported, 0,
			fmt.Sprintf("model %s does not generate %s output", c.opts.Model, mode), nil)
	}

	var callOptions []llms.CallOption
	if c.opts.MaxTokens > 0 {
		callOptions = append(callOptions, llms.WithMaxTokens(c.opts.MaxTokens))
	}

	resp, err := c.llm.GenerateContent(ctx, c.messages(prompt), callOptions...)
	if err != nil {
		return nil, classifyLLMError(err)
	}
	if resp == nil || len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Content) == "" {
		return nil, models.NewTargetError(models.KindMalformedResponse, http.StatusOK, "response has no choices", nil)
	}

	return &models.Completion{Mode: models.ModeText, Text: resp.Choices[0].Content}, nil
}

func (c *LLMClient) messages(prompt *models.Prompt) []llms.MessageContent {
	msgs := make([]llms.MessageContent, 0, len(prompt.History)+2)
	if c.opts.TextInstruction != "" {
		msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeSystem, c.opts.TextInstruction))
	}
	for _, turn := range prompt.History {
		role := llms.ChatMessageTypeHuman
		if geminiRole(turn.Role) == "model" {
			role = llms.ChatMessageTypeAI
		}
		msgs = append(msgs, llms.TextParts(role, turn.Text))
	}

	var parts []llms.ContentPart
	if prompt.Text != "" {
		parts = append(parts, llms.TextContent{Text: prompt.Text})
	}
	if prompt.HasImage() {
		parts = append(parts, llms.ImageURLContent{
			URL: "data:" + prompt.Image.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(prompt.Image.Data),
		})
	}
	return append(msgs, llms.MessageContent{Role: llms.ChatMessageTypeHuman, Parts: parts})
}

var statusCodePattern = regexp.MustCompile(`status code: (\d{3})`)

// classifyLLMError recovers a FailureKind from langchaingo's string errors.
func classifyLLMError(err error) error {
	switch kind := models.ClassifyError(err); kind {
	case models.KindTimeout, models.KindCanceled:
		return models.NewTargetError(kind, 0, "request "+string(kind), err)
	}

	msg := err.Error()
	status := 0
	if m := statusCodePattern.FindStringSubmatch(msg); m != nil {
		status, _ = strconv.Atoi(m[1])
	}

	lower := strings.ToLower(msg)
	switch {
	case status == http.StatusTooManyRequests,
		strings.Contains(lower, "rate limit"),
		strings.Contains(lower, "quota"):
		return models.NewTargetError(models.KindQuota, status, "rate limited", err)
	case status != 0:
		return models.NewTargetError(models.KindUpstream, status, "upstream error", err)
	case strings.Contains(lower, "unmarshal"), strings.Contains(lower, "decode"):
		return models.NewTargetError(models.KindMalformedResponse, 0, "unreadable response", err)
	default:
		return models.NewTargetError(models.KindTransport, 0, "request failed", err)
	}
}
