package models

import (
	"context"
	"io"
)

// Generator is the vendor adapter boundary. Implementations must return a
// *TargetError (or a context/net error) on failure so the dispatcher can pick
// a fallback action.
type Generator interface {
	Generate(ctx context.Context, prompt *Prompt, mode Mode) (*Completion, error)
}

// CacheStore defines the interface for cache operations. Get returns nil, nil
// on a miss.
type CacheStore interface {
	Get(ctx context.Context, key string) (*Completion, error)
	Set(ctx context.Context, key string, completion *Completion) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Speaker converts answer text into audio.
type Speaker interface {
	Speak(ctx context.Context, text string) (audio io.ReadCloser, contentType string, err error)
}

// TranscriptStore keeps the display-only conversation per session.
type TranscriptStore interface {
	Create(ctx context.Context, sessionID string) (*Transcript, error)
	Get(ctx context.Context, sessionID string) (*Transcript, error)
	Append(ctx context.Context, sessionID string, msgs ...TranscriptMessage) (*Transcript, error)
	Delete(ctx context.Context, sessionID string) error
}
