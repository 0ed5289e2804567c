package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ookuma-s/instagram-story-image/internal/domain"
)

var ErrStoryNotFound = errors.New("story not found")

type MemoryStoryStore struct {
	mu      sync.RWMutex
	stories map[string]domain.Story
	logs    []domain.ConversionLog
}

func NewMemoryStoryStore() *MemoryStoryStore {
	return &MemoryStoryStore{
		stories: make(map[string]domain.Story),
	}
}

func (s *MemoryStoryStore) Create(_ context.Context, st domain.Story) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stories[st.ID] = st
	return nil
}

func (s *MemoryStoryStore) Get(_ context.Context, id string) (domain.Story, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.stories[id]
	return st, ok, nil
}

func (s *MemoryStoryStore) UpdateStatus(_ context.Context, id, status string) (domain.Story, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.stories[id]
	if !ok {
		return domain.Story{}, ErrStoryNotFound
	}

	st.Status = status
	st.UpdatedAt = time.Now().UTC()
	s.stories[id] = st
	return st, nil
}

func (s *MemoryStoryStore) MarkSucceeded(_ context.Context, id, outputKey, filename string) (domain.Story, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.stories[id]
	if !ok {
		return domain.Story{}, ErrStoryNotFound
	}

	st.Status = domain.StoryStatusSucceeded
	st.OutputKey = outputKey
	st.Filename = filename
	st.ErrorType = ""
	st.ErrorMessage = ""
	st.UpdatedAt = time.Now().UTC()
	s.stories[id] = st
	return st, nil
}

func (s *MemoryStoryStore) MarkFailed(_ context.Context, id, errorType, errorMessage string) (domain.Story, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.stories[id]
	if !ok {
		return domain.Story{}, ErrStoryNotFound
	}

	st.Status = domain.StoryStatusFailed
	st.ErrorType = errorType
	st.ErrorMessage = errorMessage
	st.UpdatedAt = time.Now().UTC()
	s.stories[id] = st
	return st, nil
}

func (s *MemoryStoryStore) CreateConversionLog(_ context.Context, entry domain.ConversionLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, entry)
	return nil
}

func (s *MemoryStoryStore) ConversionLogs() []domain.ConversionLog {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.ConversionLog, len(s.logs))
	copy(out, s.logs)
	return out
}
