package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"www.github.com/Wanderer0074348/VirtualTutor/src/models"
)

const transcriptKeyPrefix = "tutor_transcript:"

var ErrNotFound = errors.New("transcript not found")

// RedisStore keeps transcripts as JSON blobs that expire after ttl of
// inactivity. Only the most recent maxMessages are retained.
type RedisStore struct {
	client      *redis.Client
	ttl         time.Duration
	maxMessages int
	now         func() time.Time
}

var _ models.TranscriptStore = (*RedisStore)(nil)

func NewRedisStore(client *redis.Client, ttl time.Duration, maxMessages int) *RedisStore {
	return &RedisStore{
		client:      client,
		ttl:         ttl,
		maxMessages: maxMessages,
		now:         time.Now,
	}
}

// Create starts an empty transcript for sessionID, replacing any existing one.
func (s *RedisStore) Create(ctx context.Context, sessionID string) (*models.Transcript, error) {
	now := s.now()
	t := &models.Transcript{
		SessionID:       sessionID,
		Messages:        []models.TranscriptMessage{},
		CreatedAt:       now,
		LastInteraction: now,
	}
	if err := s.save(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *RedisStore) Get(ctx context.Context, sessionID string) (*models.Transcript, error) {
	data, err := s.client.Get(ctx, transcriptKeyPrefix+sessionID).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transcript: %w", err)
	}

	var t models.Transcript
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transcript: %w", err)
	}
	return &t, nil
}

// Append adds msgs, creating the transcript when it does not exist yet.
// Concurrent appends for one session are serialized by the caller's session
// lock; across processes the last writer wins.
func (s *RedisStore) Append(ctx context.Context, sessionID string, msgs ...models.TranscriptMessage) (*models.Transcript, error) {
	t, err := s.Get(ctx, sessionID)
	if errors.Is(err, ErrNotFound) {
		now := s.now()
		t = &models.Transcript{SessionID: sessionID, CreatedAt: now}
	} else if err != nil {
		return nil, err
	}

	appendMessages(t, msgs, s.maxMessages, s.now())

	if err := s.save(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, transcriptKeyPrefix+sessionID).Err(); err != nil {
		return fmt.Errorf("failed to delete transcript: %w", err)
	}
	return nil
}

func (s *RedisStore) save(ctx context.Context, t *models.Transcript) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal transcript: %w", err)
	}
	if err := s.client.Set(ctx, transcriptKeyPrefix+t.SessionID, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save transcript: %w", err)
	}
	return nil
}

// appendMessages applies the bookkeeping shared by every store.
func appendMessages(t *models.Transcript, msgs []models.TranscriptMessage, maxMessages int, now time.Time) {
	for _, m := range msgs {
		if m.Timestamp.IsZero() {
			m.Timestamp = now
		}
		t.Messages = append(t.Messages, m)
		t.TotalTokens += m.Tokens
		t.MessageCount++
	}
	t.LastInteraction = now

	if maxMessages > 0 && len(t.Messages) > maxMessages {
		t.Messages = append([]models.TranscriptMessage(nil), t.Messages[len(t.Messages)-maxMessages:]...)
	}
}

// RecentTurns converts the last n text messages into prompt history.
// Image answers carry no text worth replaying and are skipped.
func RecentTurns(t *models.Transcript, n int) []models.Turn {
	if t == nil || n <= 0 {
		return nil
	}

	var turns []models.Turn
	for i := len(t.Messages) - 1; i >= 0 && len(turns) < n; i-- {
		m := t.Messages[i]
		if m.Mode == models.ModeImage || m.Content == "" {
			continue
		}
		turns = append(turns, models.Turn{Role: m.Role, Text: m.Content})
	}

	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns
}
