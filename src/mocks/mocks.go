package mocks

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"

	"www.github.com/Wanderer0074348/VirtualTutor/src/models"
)

// MockGenerator implements models.Generator
type MockGenerator struct {
	mock.Mock
}

func (m *MockGenerator) Generate(ctx context.Context, prompt *models.Prompt, mode models.Mode) (*models.Completion, error) {
	args := m.Called(ctx, prompt, mode)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Completion), args.Error(1)
}

// MockCache implements models.CacheStore
type MockCache struct {
	mock.Mock
}

func (m *MockCache) Get(ctx context.Context, key string) (*models.Completion, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Completion), args.Error(1)
}

func (m *MockCache) Set(ctx context.Context, key string, completion *models.Completion) error {
	args := m.Called(ctx, key, completion)
	return args.Error(0)
}

func (m *MockCache) Delete(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *MockCache) Close() error {
	args := m.Called()
	return args.Error(0)
}

// MockSpeaker implements models.Speaker
type MockSpeaker struct {
	mock.Mock
}

func (m *MockSpeaker) Speak(ctx context.Context, text string) (io.ReadCloser, string, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.String(1), args.Error(2)
	}
	return args.Get(0).(io.ReadCloser), args.String(1), args.Error(2)
}

// MockTranscriptStore implements models.TranscriptStore
type MockTranscriptStore struct {
	mock.Mock
}

func (m *MockTranscriptStore) Create(ctx context.Context, sessionID string) (*models.Transcript, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Transcript), args.Error(1)
}

func (m *MockTranscriptStore) Get(ctx context.Context, sessionID string) (*models.Transcript, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Transcript), args.Error(1)
}

func (m *MockTranscriptStore) Append(ctx context.Context, sessionID string, msgs ...models.TranscriptMessage) (*models.Transcript, error) {
	args := m.Called(ctx, sessionID, msgs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Transcript), args.Error(1)
}

func (m *MockTranscriptStore) Delete(ctx context.Context, sessionID string) error {
	args := m.Called(ctx, sessionID)
	return args.Error(0)
}
