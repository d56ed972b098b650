package chat

import (
	"bytes"
	"context"
	"sync"
	"time"

	"www.github.com/Wanderer0074348/VirtualTutor/src/models"
)

// MemoryStore is the single-process transcript store. Entries live until
// Delete; the session registry drops them together with the session.
type MemoryStore struct {
	mu          sync.RWMutex
	transcripts map[string]*models.Transcript
	maxMessages int
	now         func() time.Time
}

var _ models.TranscriptStore = (*MemoryStore)(nil)

func NewMemoryStore(maxMessages int) *MemoryStore {
	return &MemoryStore{
		transcripts: make(map[string]*models.Transcript),
		maxMessages: maxMessages,
		now:         time.Now,
	}
}

func (s *MemoryStore) Create(_ context.Context, sessionID string) (*models.Transcript, error) {
	now := s.now()
	t := &models.Transcript{
		SessionID:       sessionID,
		Messages:        []models.TranscriptMessage{},
		CreatedAt:       now,
		LastInteraction: now,
	}

	s.mu.Lock()
	s.transcripts[sessionID] = t
	s.mu.Unlock()

	return clone(t), nil
}

func (s *MemoryStore) Get(_ context.Context, sessionID string) (*models.Transcript, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.transcripts[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(t), nil
}

func (s *MemoryStore) Append(_ context.Context, sessionID string, msgs ...models.TranscriptMessage) (*models.Transcript, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	t, ok := s.transcripts[sessionID]
	if !ok {
		t = &models.Transcript{SessionID: sessionID, CreatedAt: now}
		s.transcripts[sessionID] = t
	}
	appendMessages(t, msgs, s.maxMessages, now)

	return clone(t), nil
}

func (s *MemoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	delete(s.transcripts, sessionID)
	s.mu.Unlock()
	return nil
}

func clone(t *models.Transcript) *models.Transcript {
	cp := *t
	cp.Messages = make([]models.TranscriptMessage, len(t.Messages))
	copy(cp.Messages, t.Messages)
	for i := range cp.Messages {
		cp.Messages[i].Image = bytes.Clone(cp.Messages[i].Image)
	}
	return &cp
}
