package session

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/bt-bridge/realtime-interpreter/shared"
)

// Registry is the only shared mutable structure: insert on connect, remove on
// teardown, lookups for the control surface. Per-session mutation stays inside
// each orchestrator's own event loop.
type Registry struct {
	logger shared.LoggerAdapter

	mu       sync.RWMutex
	sessions map[string]*Orchestrator
}

func NewRegistry(logger shared.LoggerAdapter) (*Registry, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	return &Registry{
		logger:   logger,
		sessions: make(map[string]*Orchestrator),
	}, nil
}

func (r *Registry) Add(o *Orchestrator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[o.SessionId()] = o
}

func (r *Registry) Remove(sessionId string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionId)
}

func (r *Registry) Lookup(sessionId string) (*Orchestrator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.sessions[sessionId]
	if !ok {
		return nil, fmt.Errorf("%w: %s", shared.ErrSessionNotFound, sessionId)
	}
	return o, nil
}

// LookupByConversation finds the live session attached to a conversation.
func (r *Registry) LookupByConversation(conversationId string) (*Orchestrator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, o := range r.sessions {
		if o.ConversationId() == conversationId {
			return o, nil
		}
	}
	return nil, fmt.Errorf("%w: conversation %s", shared.ErrSessionNotFound, conversationId)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// StopAll tears every live session down, used on graceful shutdown.
func (r *Registry) StopAll(ctx context.Context, reason string) {
	r.mu.RLock()
	sessions := make([]*Orchestrator, 0, len(r.sessions))
	for _, o := range r.sessions {
		sessions = append(sessions, o)
	}
	r.mu.RUnlock()

	var wg sync.WaitGroup
	for _, o := range sessions {
		wg.Add(1)
		go func(o *Orchestrator) {
			defer wg.Done()
			if _, err := o.Stop(ctx, reason); err != nil {
				r.logger.Warn("on stopping session",
					zap.String("session_id", o.SessionId()), zap.Error(err))
			}
		}(o)
	}
	wg.Wait()
}
