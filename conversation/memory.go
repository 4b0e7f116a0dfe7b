package conversation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bt-bridge/realtime-interpreter/shared"
)

// MemoryStore is the reference Store implementation. Conversations live in
// process memory for the lifetime of the server.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{conversations: make(map[string]*Conversation)}
}

func (s *MemoryStore) Create(ctx context.Context, conv Conversation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if conv.Id == "" {
		return fmt.Errorf("conversation id is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.conversations[conv.Id]; exists {
		return fmt.Errorf("conversation %s already exists", conv.Id)
	}
	clone := conv
	clone.Messages = append([]Message(nil), conv.Messages...)
	s.conversations[conv.Id] = &clone
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (Conversation, error) {
	if err := ctx.Err(); err != nil {
		return Conversation{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[id]
	if !ok {
		return Conversation{}, fmt.Errorf("%w: %s", shared.ErrConversationNotFound, id)
	}
	return snapshot(conv), nil
}

func (s *MemoryStore) List(ctx context.Context) ([]Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Conversation, 0, len(s.conversations))
	for _, conv := range s.conversations {
		out = append(out, snapshot(conv))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out, nil
}

func (s *MemoryStore) AddMessage(ctx context.Context, conversationId string, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationId]
	if !ok {
		return fmt.Errorf("%w: %s", shared.ErrConversationNotFound, conversationId)
	}
	msg.ConversationId = conversationId
	conv.Messages = append(conv.Messages, msg)
	return nil
}

func (s *MemoryStore) Finish(ctx context.Context, conversationId string, summary *string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationId]
	if !ok {
		return fmt.Errorf("%w: %s", shared.ErrConversationNotFound, conversationId)
	}
	if conv.Status == StatusStopped {
		return nil
	}
	now := time.Now()
	conv.Status = StatusStopped
	conv.StoppedAt = &now
	conv.Summary = summary
	return nil
}

func (s *MemoryStore) Resume(ctx context.Context, conversationId string) (Conversation, error) {
	if err := ctx.Err(); err != nil {
		return Conversation{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationId]
	if !ok {
		return Conversation{}, fmt.Errorf("%w: %s", shared.ErrConversationNotFound, conversationId)
	}
	conv.Status = StatusActive
	conv.StoppedAt = nil
	return snapshot(conv), nil
}

func snapshot(conv *Conversation) Conversation {
	clone := *conv
	clone.Messages = append([]Message(nil), conv.Messages...)
	return clone
}
