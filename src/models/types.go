package models

import (
	"strings"
	"time"
)

// Mode selects what kind of payload a dispatch asks the generation service for.
type Mode string

const (
	ModeText  Mode = "text"
	ModeImage Mode = "image"
)

// ParseMode maps user input onto a Mode. Empty input means text.
func ParseMode(s string) (Mode, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(ModeText):
		return ModeText, true
	case string(ModeImage):
		return ModeImage, true
	default:
		return "", false
	}
}

// Turn is one prior exchange sent along with a prompt for context.
type Turn struct {
	Role string `json:"role"` // "user" or "assistant"
	Text string `json:"text"`
}

// Image is an inline binary attachment.
type Image struct {
	Data     []byte `json:"data"`
	MIMEType string `json:"mime_type"`
}

// Prompt is the immutable input of a single dispatch.
type Prompt struct {
	Text    string `json:"text"`
	Image   *Image `json:"image,omitempty"`
	History []Turn `json:"history,omitempty"`
}

// HasImage reports whether an attachment with content is present.
func (p *Prompt) HasImage() bool {
	return p.Image != nil && len(p.Image.Data) > 0
}

// ServiceTarget identifies one callable backend in a fallback chain.
type ServiceTarget struct {
	Name       string `json:"name"`
	Model      string `json:"model"`
	Credential string `json:"-"`
}

// Target binds a ServiceTarget to the adapter that knows how to call it.
type Target struct {
	ServiceTarget
	Client Generator
}

// Completion is a successful generation, either text or image bytes.
type Completion struct {
	Mode     Mode   `json:"mode"`
	Text     string `json:"text,omitempty"`
	Image    []byte `json:"image,omitempty"`
	MIMEType string `json:"mime_type,omitempty"`
	Target   string `json:"target"`
}

// Attempt records one network call made during a dispatch.
type Attempt struct {
	Target  string        `json:"target"`
	Kind    FailureKind   `json:"kind,omitempty"` // empty on success
	Status  int           `json:"status,omitempty"`
	Message string        `json:"message,omitempty"`
	Latency time.Duration `json:"latency"`
}

// Failure describes why a dispatch produced no completion.
type Failure struct {
	Kind       FailureKind   `json:"kind"`
	Cause      FailureKind   `json:"cause,omitempty"` // last attempt's kind when Kind is all_targets_exhausted
	Message    string        `json:"message"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

func (f *Failure) Error() string {
	if f.Message == "" {
		return string(f.Kind)
	}
	return string(f.Kind) + ": " + f.Message
}

// Result is the tagged outcome of a dispatch: exactly one of Completion and
// Failure is set.
type Result struct {
	Completion *Completion   `json:"completion,omitempty"`
	Failure    *Failure      `json:"failure,omitempty"`
	CacheHit   bool          `json:"cache_hit"`
	Attempts   []Attempt     `json:"attempts,omitempty"`
	Latency    time.Duration `json:"latency"`
	Timestamp  time.Time     `json:"timestamp"`
}

// OK reports whether the result carries a completion.
func (r *Result) OK() bool {
	return r.Completion != nil
}

// Succeeded builds a successful result.
func Succeeded(c *Completion) *Result {
	return &Result{Completion: c, Timestamp: time.Now()}
}

// Failed builds a failed result.
func Failed(kind FailureKind, message string) *Result {
	return &Result{
		Failure:   &Failure{Kind: kind, Message: message},
		Timestamp: time.Now(),
	}
}

// Transcript types, display-only history kept per session.

type TranscriptMessage struct {
	Role      string    `json:"role"` // "user" or "assistant"
	Content   string    `json:"content"`
	Mode      Mode      `json:"mode"`
	HasImage  bool      `json:"has_image,omitempty"`
	CacheHit  bool      `json:"cache_hit,omitempty"`
	Tokens    int       `json:"tokens"`
	Timestamp time.Time `json:"timestamp"`

	// Image holds a generated picture: the answer itself in image mode, or
	// the illustration of a text answer.
	Image         []byte `json:"image,omitempty"`
	ImageMIMEType string `json:"image_mime_type,omitempty"`
	Warning       string `json:"warning,omitempty"`
}

type Transcript struct {
	SessionID       string              `json:"session_id"`
	Messages        []TranscriptMessage `json:"messages"`
	CreatedAt       time.Time           `json:"created_at"`
	LastInteraction time.Time           `json:"last_interaction"`
	TotalTokens     int                 `json:"total_tokens"`
	MessageCount    int                 `json:"message_count"`
}

// HTTP payloads.

type DispatchRequest struct {
	Text       string   `json:"text"`
	Image      []byte   `json:"image,omitempty"` // base64 in JSON
	MIMEType   string   `json:"mime_type,omitempty"`
	Mode       string   `json:"mode,omitempty"`
	Preferred  string   `json:"preferred,omitempty"`
	Chain      []string `json:"chain,omitempty"`
	UseHistory bool     `json:"use_history,omitempty"`
	Illustrate bool     `json:"illustrate,omitempty"` // text mode only
}

type DispatchResponse struct {
	SessionID    string        `json:"session_id"`
	Result       *Result       `json:"result"`
	UserMessage  string        `json:"user_message,omitempty"`
	MessageCount int           `json:"message_count"`
	Session      *SessionStats `json:"session,omitempty"`

	Illustration *Result `json:"illustration,omitempty"`
	Warning      string  `json:"warning,omitempty"` // illustration failed, answer stands
}

type SpeechRequest struct {
	Text string `json:"text" binding:"required"`
}

// SessionStats is a read-only view of a session's throttle and cache state.
type SessionStats struct {
	SessionID    string    `json:"session_id"`
	CreatedAt    time.Time `json:"created_at"`
	LastSeen     time.Time `json:"last_seen"`
	Calls        int       `json:"calls"`
	MaxCalls     int       `json:"max_calls"`
	LastAccepted time.Time `json:"last_accepted,omitempty"`
}
