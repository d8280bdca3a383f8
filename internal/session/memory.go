package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"drax-assistant/internal/domain"
)

// MemoryStore keeps session history in process memory. Safe for concurrent
// use; appends to one session are totally ordered by the store mutex.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]domain.Message
	now      func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string][]domain.Message),
		now:      time.Now,
	}
}

func (s *MemoryStore) Append(ctx context.Context, sessionID string, msg domain.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(sessionID) == "" {
		return errors.New("session: session id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendLocked(sessionID, msg)
	return nil
}

func (s *MemoryStore) AppendPair(ctx context.Context, sessionID string, request, response domain.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(sessionID) == "" {
		return errors.New("session: session id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendLocked(sessionID, request)
	s.appendLocked(sessionID, response)
	return nil
}

func (s *MemoryStore) appendLocked(sessionID string, msg domain.Message) {
	history := s.sessions[sessionID]
	var last int64
	if n := len(history); n > 0 {
		last = history[n-1].Seq
	}
	msg.Seq = last + 1
	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.now().UTC()
	}
	s.sessions[sessionID] = append(history, msg)
}

func (s *MemoryStore) GetHistory(ctx context.Context, sessionID string) ([]domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.sessions[sessionID]
	out := make([]domain.Message, len(history))
	copy(out, history)
	return out, nil
}
